package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/newsdesk/internal/news"
)

// Stage is one enrichment capability applied to a single item.
//
// Apply writes the stage's own fields, substituting defaults for anything the
// backend got wrong, and returns an error only to report that the item was
// degraded. Fallback writes the stage's fixed defaults.
type Stage interface {
	Name() string
	Apply(ctx context.Context, it *news.Item) error
	Fallback(it *news.Item)
}

// Runner makes every stage call total: it bounds it with a timeout, turns
// panics into the stage fallback and normalizes the item afterwards.
type Runner struct {
	timeout time.Duration
	logger  log.Logger
	hooks   EngineHooks
}

// NewRunner creates a Runner. A zero timeout leaves stage calls unbounded
// beyond whatever their backend enforces.
func NewRunner(timeout time.Duration, logger log.Logger, hooks EngineHooks) *Runner {
	return &Runner{timeout: timeout, logger: logger, hooks: hooks}
}

// Process runs stage on it and reports whether the result was degraded. It
// never panics and always leaves every field of it valid.
func (r *Runner) Process(ctx context.Context, stage Stage, it *news.Item) bool {
	name := stage.Name()
	ctx, span := tracer.Start(ctx, "pipeline.stage", trace.WithAttributes(
		attribute.String("newsdesk.stage", name),
		attribute.String("newsdesk.item.id", it.ID),
	))
	defer span.End()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	err := r.apply(ctx, stage, it)
	it.Normalize()
	dur := time.Since(start).Seconds()

	degraded := err != nil
	span.SetAttributes(attribute.Bool("newsdesk.stage.degraded", degraded))
	if degraded {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Warn(ctx, "stage degraded",
			"stage", name,
			"item_id", it.ID,
			"err", err,
		)
	}
	r.hooks.stage(name, dur, degraded)
	return degraded
}

func (r *Runner) apply(ctx context.Context, stage Stage, it *news.Item) (err error) {
	defer func() {
		if p := recover(); p != nil {
			stage.Fallback(it)
			err = fmt.Errorf("%s: panic: %v", stage.Name(), p)
		}
	}()
	return stage.Apply(ctx, it)
}
