package enrich

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/linnemanlabs/newsdesk/internal/news"
)

const classifyBodyLen = 1000

const topicTask = `Classify the following financial news article into exactly one topic:
- earnings: earnings reports, quarterly or annual results, guidance
- macro: inflation, interest rates, GDP, employment, central banks
- regulatory: regulation, compliance, lawsuits, government policy
- merger_acquisition: mergers, acquisitions, takeovers, major partnerships
- other: anything else

Respond with only the topic name in lowercase.`

const regionTask = `Classify the geographic focus of the following financial news article:
- US: United States
- EU: Europe
- APAC: Asia-Pacific
- GLOBAL: global or multi-regional

Respond with only the region code (US, EU, APAC or GLOBAL).`

const tickerTaskFmt = `Identify the primary company ticker this financial news article is about.
Only these tickers are monitored: %s.
If several are mentioned choose the most prominent. If none of them is the
subject, respond with UNKNOWN.

Respond with only the ticker symbol or UNKNOWN.`

// Classify assigns topic, ticker and region.
type Classify struct {
	backend Classifier
	tickers []string
}

// NewClassify creates the classify stage. Tickers are the only subjects the
// stage will ever assign; anything else becomes news.UnknownTicker.
func NewClassify(backend Classifier, tickers []string) *Classify {
	norm := make([]string, 0, len(tickers))
	for _, t := range tickers {
		if t = strings.ToUpper(strings.TrimSpace(t)); t != "" && !slices.Contains(norm, t) {
			norm = append(norm, t)
		}
	}
	return &Classify{backend: backend, tickers: norm}
}

// Name implements pipeline.Stage.
func (c *Classify) Name() string { return "classify" }

// Fallback implements pipeline.Stage.
func (c *Classify) Fallback(it *news.Item) {
	it.Topic = news.TopicOther
	it.Ticker = news.UnknownTicker
	it.Region = news.RegionGlobal
}

// Apply implements pipeline.Stage. Each field is asked for separately so a
// failed call degrades only that field.
func (c *Classify) Apply(ctx context.Context, it *news.Item) error {
	if c.backend == nil {
		c.Fallback(it)
		return ErrBackendUnavailable
	}
	text := articleText(it, classifyBodyLen)

	var errs []error

	ans, err := c.backend.Classify(ctx, text, topicTask)
	if err != nil {
		errs = append(errs, fmt.Errorf("topic: %w", err))
	}
	it.Topic = ParseTopic(ans)

	it.Ticker = news.UnknownTicker
	if len(c.tickers) > 0 {
		ans, err = c.backend.Classify(ctx, text, fmt.Sprintf(tickerTaskFmt, strings.Join(c.tickers, ", ")))
		if err != nil {
			errs = append(errs, fmt.Errorf("ticker: %w", err))
		}
		it.Ticker = c.ParseTicker(ans)
	}

	ans, err = c.backend.Classify(ctx, text, regionTask)
	if err != nil {
		errs = append(errs, fmt.Errorf("region: %w", err))
	}
	it.Region = ParseRegion(ans)

	return errors.Join(errs...)
}

// ParseTopic maps a backend answer onto a Topic, defaulting to other.
func ParseTopic(answer string) news.Topic {
	l := strings.ToLower(label(answer))
	l = strings.NewReplacer(" ", "_", "-", "_", "&", "_", "/", "_").Replace(l)
	for strings.Contains(l, "__") {
		l = strings.ReplaceAll(l, "__", "_")
	}
	if l == "m_a" || l == "merger" || l == "acquisition" || l == "merger_and_acquisition" {
		l = string(news.TopicMergerAcquisition)
	}
	if t := news.Topic(l); news.IsTopic(t) {
		return t
	}
	return news.TopicOther
}

// ParseRegion maps a backend answer onto a Region, defaulting to GLOBAL.
func ParseRegion(answer string) news.Region {
	if r := news.Region(strings.ToUpper(label(answer))); news.IsRegion(r) {
		return r
	}
	return news.RegionGlobal
}

// ParseTicker maps a backend answer onto a monitored ticker or UNKNOWN.
func (c *Classify) ParseTicker(answer string) string {
	t := strings.ToUpper(label(answer))
	t = strings.TrimPrefix(t, "$")
	if slices.Contains(c.tickers, t) {
		return t
	}
	return news.UnknownTicker
}

func articleText(it *news.Item, bodyLen int) string {
	return "Title: " + it.Title + "\nContent: " + truncate(it.Body, bodyLen)
}
