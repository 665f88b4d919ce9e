// Package fetch collects raw articles from the configured news sources and
// merges them into one de-duplicated batch.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/newsdesk/internal/news"
)

// DefaultTimeout bounds a single source fetch.
const DefaultTimeout = 15 * time.Second

const userAgent = "newsdesk/1.0"

// Source is one upstream news provider.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]news.Raw, error)
}

// Observer is told how many articles each source returned. Outcome is "ok"
// or "error".
type Observer func(source, outcome string, items int)

// Option customizes an Aggregator.
type Option func(*Aggregator)

// WithTimeout sets the per-source timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithObserver sets the per-source outcome callback.
func WithObserver(fn Observer) Option {
	return func(a *Aggregator) { a.observe = fn }
}

// Aggregator fetches every source concurrently and merges the results in
// source order, keeping the first article seen for each key.
type Aggregator struct {
	sources []Source
	timeout time.Duration
	observe Observer
	logger  log.Logger
}

// NewAggregator creates an Aggregator over sources.
func NewAggregator(sources []Source, logger log.Logger, opts ...Option) *Aggregator {
	if logger == nil {
		logger = log.Nop()
	}
	a := &Aggregator{
		sources: sources,
		timeout: DefaultTimeout,
		logger:  logger,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Sources returns the source names in merge order.
func (a *Aggregator) Sources() []string {
	names := make([]string, len(a.sources))
	for i, s := range a.sources {
		names[i] = s.Name()
	}
	return names
}

// Fetch implements pipeline.Fetcher. A failing source contributes nothing;
// an error is returned only when every source failed.
func (a *Aggregator) Fetch(ctx context.Context) ([]news.Raw, error) {
	results := make([][]news.Raw, len(a.sources))
	errs := make([]error, len(a.sources))

	var g errgroup.Group
	for i, src := range a.sources {
		g.Go(func() error {
			results[i], errs[i] = a.fetchOne(ctx, src)
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[string]struct{})
	var (
		out    []news.Raw
		failed []error
	)
	for i, src := range a.sources {
		if errs[i] != nil {
			failed = append(failed, fmt.Errorf("%s: %w", src.Name(), errs[i]))
			continue
		}
		for _, r := range results[i] {
			r = Clean(r)
			key := r.Key()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, r)
		}
	}

	if len(a.sources) > 0 && len(failed) == len(a.sources) {
		return nil, errors.Join(failed...)
	}

	a.logger.Info(ctx, "articles collected",
		"sources", len(a.sources),
		"failed", len(failed),
		"articles", len(out),
	)
	return out, nil
}

func (a *Aggregator) fetchOne(ctx context.Context, src Source) ([]news.Raw, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	raws, err := fetchSafe(ctx, src)
	if err != nil {
		a.logger.Warn(ctx, "source fetch failed", "source", src.Name(), "err", err)
		a.record(src.Name(), "error", 0)
		return nil, err
	}
	a.record(src.Name(), "ok", len(raws))
	return raws, nil
}

// fetchSafe turns a panic inside a source into an error for that source.
func fetchSafe(ctx context.Context, src Source) (raws []news.Raw, err error) {
	defer func() {
		if p := recover(); p != nil {
			raws, err = nil, fmt.Errorf("panic: %v", p)
		}
	}()
	return src.Fetch(ctx)
}

func (a *Aggregator) record(source, outcome string, n int) {
	if a.observe != nil {
		a.observe(source, outcome, n)
	}
}

// NewHTTPClient returns the client sources use by default: bounded by
// timeout and traced with otelhttp.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

func limit(raws []news.Raw, n int) []news.Raw {
	if n > 0 && len(raws) > n {
		return raws[:n]
	}
	return raws
}
