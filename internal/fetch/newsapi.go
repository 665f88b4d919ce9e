package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/newsdesk/internal/news"
)

const (
	DefaultNewsAPIURL      = "https://newsapi.org"
	DefaultNewsAPIPageSize = 5
)

// NewsAPIOptions tunes a NewsAPI source. Zero values select the defaults.
type NewsAPIOptions struct {
	BaseURL  string
	PageSize int
	Client   *http.Client
	Logger   log.Logger
}

// NewsAPI queries the NewsAPI /v2/everything endpoint once per ticker.
type NewsAPI struct {
	apiKey   string
	tickers  []string
	baseURL  string
	pageSize int
	client   *http.Client
	logger   log.Logger
}

// NewNewsAPI creates a NewsAPI source for the given tickers.
func NewNewsAPI(apiKey string, tickers []string, opts NewsAPIOptions) *NewsAPI {
	n := &NewsAPI{
		apiKey:   apiKey,
		tickers:  tickers,
		baseURL:  opts.BaseURL,
		pageSize: opts.PageSize,
		client:   opts.Client,
		logger:   opts.Logger,
	}
	if n.baseURL == "" {
		n.baseURL = DefaultNewsAPIURL
	}
	if n.pageSize <= 0 {
		n.pageSize = DefaultNewsAPIPageSize
	}
	if n.client == nil {
		n.client = NewHTTPClient(DefaultTimeout)
	}
	if n.logger == nil {
		n.logger = log.Nop()
	}
	return n
}

// Name implements Source.
func (n *NewsAPI) Name() string { return "newsapi" }

// Fetch implements Source. A ticker whose query fails is skipped; the source
// fails only when every ticker failed.
func (n *NewsAPI) Fetch(ctx context.Context) ([]news.Raw, error) {
	var (
		out  []news.Raw
		errs []error
	)
	for _, ticker := range n.tickers {
		raws, err := n.query(ctx, ticker)
		if err != nil {
			n.logger.Warn(ctx, "newsapi query failed", "ticker", ticker, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", ticker, err))
			continue
		}
		out = append(out, raws...)
	}
	if len(n.tickers) > 0 && len(errs) == len(n.tickers) {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

type newsAPIResponse struct {
	Status   string `json:"status"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Articles []struct {
		Source struct {
			Name string `json:"name"`
		} `json:"source"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Content     string `json:"content"`
		URL         string `json:"url"`
		PublishedAt string `json:"publishedAt"`
	} `json:"articles"`
}

func (n *NewsAPI) query(ctx context.Context, ticker string) ([]news.Raw, error) {
	u, err := url.Parse(n.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	u.Path = "/v2/everything"

	q := u.Query()
	q.Set("q", ticker)
	q.Set("language", "en")
	q.Set("sortBy", "publishedAt")
	q.Set("pageSize", strconv.Itoa(n.pageSize))
	q.Set("page", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Api-Key", n.apiKey)
	req.Header.Set("User-Agent", userAgent)

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("newsapi request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var parsed newsAPIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("newsapi returned %d: decode: %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || parsed.Status != "ok" {
		return nil, fmt.Errorf("newsapi returned %d: %s: %s", resp.StatusCode, parsed.Code, parsed.Message)
	}

	raws := make([]news.Raw, 0, len(parsed.Articles))
	for _, a := range parsed.Articles {
		text := a.Description
		if text == "" {
			text = a.Content
		}
		raws = append(raws, news.Raw{
			Title:       a.Title,
			Body:        text,
			Origin:      "NewsAPI",
			URL:         a.URL,
			PublishedAt: a.PublishedAt,
		})
	}
	return limit(raws, n.pageSize), nil
}
