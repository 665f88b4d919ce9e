package fetch

import (
	"context"
	"fmt"
	"net/http"
	"time"

	finnhub "github.com/Finnhub-Stock-API/finnhub-go/v2"

	"github.com/linnemanlabs/newsdesk/internal/news"
)

// DefaultFinnhubLimit caps the general market news taken per run.
const DefaultFinnhubLimit = 10

// Finnhub reads general market news from Finnhub.
type Finnhub struct {
	client *finnhub.DefaultApiService
	limit  int
}

// NewFinnhub creates a Finnhub source. A nil client gets
// NewHTTPClient(DefaultTimeout); limit <= 0 selects DefaultFinnhubLimit.
func NewFinnhub(apiKey string, limit int, client *http.Client) *Finnhub {
	if client == nil {
		client = NewHTTPClient(DefaultTimeout)
	}
	if limit <= 0 {
		limit = DefaultFinnhubLimit
	}
	cfg := finnhub.NewConfiguration()
	cfg.AddDefaultHeader("X-Finnhub-Token", apiKey)
	cfg.UserAgent = userAgent
	cfg.HTTPClient = client
	return &Finnhub{client: finnhub.NewAPIClient(cfg).DefaultApi, limit: limit}
}

// Name implements Source.
func (f *Finnhub) Name() string { return "finnhub" }

// Fetch implements Source.
func (f *Finnhub) Fetch(ctx context.Context) ([]news.Raw, error) {
	res, _, err := f.client.MarketNews(ctx).Category("general").Execute()
	if err != nil {
		return nil, fmt.Errorf("finnhub market news: %w", err)
	}

	raws := make([]news.Raw, 0, len(res))
	for _, item := range res {
		r := news.Raw{Origin: "Finnhub"}
		if item.Headline != nil {
			r.Title = *item.Headline
		}
		if item.Summary != nil {
			r.Body = *item.Summary
		}
		if item.Url != nil {
			r.URL = *item.Url
		}
		if item.Source != nil && *item.Source != "" {
			r.Origin = "Finnhub/" + *item.Source
		}
		if item.Datetime != nil && *item.Datetime > 0 {
			r.PublishedAt = time.Unix(*item.Datetime, 0).UTC().Format(time.RFC3339)
		}
		raws = append(raws, r)
	}
	return limit(raws, f.limit), nil
}
