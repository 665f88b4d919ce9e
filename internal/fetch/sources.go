package fetch

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/go-core/log"
)

// SourcesFile is the YAML layout of the optional sources file.
//
//	feeds:
//	  - name: CNBC
//	    url: https://www.cnbc.com/id/100003114/device/rss/rss.html
//	    limit: 5
//	newsapi:
//	  pageSize: 5
//	finnhub:
//	  limit: 10
type SourcesFile struct {
	Feeds   []Feed `yaml:"feeds"`
	NewsAPI struct {
		BaseURL  string `yaml:"baseUrl"`
		PageSize int    `yaml:"pageSize"`
	} `yaml:"newsapi"`
	Finnhub struct {
		Limit int `yaml:"limit"`
	} `yaml:"finnhub"`
}

// LoadSources reads a sources file. An empty path returns the defaults.
// Feeds missing from the file fall back to DefaultFeeds.
func LoadSources(path string) (SourcesFile, error) {
	var sf SourcesFile
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return SourcesFile{}, fmt.Errorf("read sources file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &sf); err != nil {
			return SourcesFile{}, fmt.Errorf("parse sources file %s: %w", path, err)
		}
	}
	for i, f := range sf.Feeds {
		if strings.TrimSpace(f.URL) == "" {
			return SourcesFile{}, fmt.Errorf("sources file: feed %d (%q) has no url", i, f.Name)
		}
		if f.Name == "" {
			sf.Feeds[i].Name = f.URL
		}
	}
	if len(sf.Feeds) == 0 {
		sf.Feeds = append([]Feed(nil), DefaultFeeds...)
	}
	return sf, nil
}

// Config selects which sources Build creates.
type Config struct {
	Sources    SourcesFile
	NewsAPIKey string
	FinnhubKey string
	Tickers    []string
	Client     *http.Client
	Logger     log.Logger
}

// Build returns the configured sources in merge order: NewsAPI first, then
// the feeds, then Finnhub. Keyed sources are skipped when their key is empty.
func Build(cfg Config) []Source {
	var out []Source
	if cfg.NewsAPIKey != "" && len(cfg.Tickers) > 0 {
		out = append(out, NewNewsAPI(cfg.NewsAPIKey, cfg.Tickers, NewsAPIOptions{
			BaseURL:  cfg.Sources.NewsAPI.BaseURL,
			PageSize: cfg.Sources.NewsAPI.PageSize,
			Client:   cfg.Client,
			Logger:   cfg.Logger,
		}))
	}
	for _, f := range cfg.Sources.Feeds {
		out = append(out, NewRSS(f, cfg.Client))
	}
	if cfg.FinnhubKey != "" {
		out = append(out, NewFinnhub(cfg.FinnhubKey, cfg.Sources.Finnhub.Limit, cfg.Client))
	}
	return out
}
