package fetch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sources.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadSources_Defaults(t *testing.T) {
	t.Parallel()

	sf, err := LoadSources("")
	if err != nil {
		t.Fatalf("LoadSources: %v", err)
	}
	if len(sf.Feeds) != len(DefaultFeeds) {
		t.Fatalf("feeds = %d, want %d", len(sf.Feeds), len(DefaultFeeds))
	}
	sf.Feeds[0].Name = "mutated"
	if DefaultFeeds[0].Name == "mutated" {
		t.Error("LoadSources must not alias DefaultFeeds")
	}
}

func TestLoadSources_File(t *testing.T) {
	t.Parallel()

	path := writeFile(t, `
feeds:
  - name: Wire
    url: https://feeds.example.com/wire
    limit: 3
  - url: https://feeds.example.com/unnamed
newsapi:
  pageSize: 10
finnhub:
  limit: 4
`)
	sf, err := LoadSources(path)
	if err != nil {
		t.Fatalf("LoadSources: %v", err)
	}
	if len(sf.Feeds) != 2 || sf.Feeds[0].Name != "Wire" || sf.Feeds[0].Limit != 3 {
		t.Errorf("feeds = %+v", sf.Feeds)
	}
	if sf.Feeds[1].Name != "https://feeds.example.com/unnamed" {
		t.Errorf("unnamed feed should be named by its url, got %q", sf.Feeds[1].Name)
	}
	if sf.NewsAPI.PageSize != 10 || sf.Finnhub.Limit != 4 {
		t.Errorf("newsapi/finnhub = %+v / %+v", sf.NewsAPI, sf.Finnhub)
	}
}

func TestLoadSources_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		path string
		want string
	}{
		{"missing file", filepath.Join(t.TempDir(), "nope.yaml"), "read sources file"},
		{"bad yaml", writeFile(t, "feeds: [unterminated"), "parse sources file"},
		{"feed without url", writeFile(t, "feeds:\n  - name: Broken\n"), "has no url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := LoadSources(tt.path)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestBuild(t *testing.T) {
	t.Parallel()

	sf, _ := LoadSources("")

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"feeds only", Config{Sources: sf, Tickers: []string{"AAPL"}}, "rss:Reuters,rss:Yahoo Finance,rss:CNBC"},
		{"newsapi without tickers", Config{Sources: sf, NewsAPIKey: "k"}, "rss:Reuters,rss:Yahoo Finance,rss:CNBC"},
		{
			"all keyed",
			Config{Sources: sf, NewsAPIKey: "k", FinnhubKey: "f", Tickers: []string{"AAPL"}},
			"newsapi,rss:Reuters,rss:Yahoo Finance,rss:CNBC,finnhub",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sources := Build(tt.cfg)
			names := make([]string, len(sources))
			for i, s := range sources {
				names[i] = s.Name()
			}
			if got := strings.Join(names, ","); got != tt.want {
				t.Errorf("sources = %q, want %q", got, tt.want)
			}
		})
	}
}
