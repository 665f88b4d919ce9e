package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/newsdesk/internal/news"
	"github.com/linnemanlabs/newsdesk/internal/verify"
)

var tracer = otel.Tracer("github.com/linnemanlabs/newsdesk/internal/pipeline")

// Fetcher supplies the raw articles for one run, already de-duplicated by URL.
type Fetcher interface {
	Fetch(ctx context.Context) ([]news.Raw, error)
}

// FetcherFunc adapts a plain function to Fetcher.
type FetcherFunc func(ctx context.Context) ([]news.Raw, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context) ([]news.Raw, error) { return f(ctx) }

// Phase is the coarse position of the engine state machine.
type Phase int

const (
	PhaseCollecting Phase = iota
	PhaseAdvancing
	PhaseVerifying
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseCollecting:
		return "collecting"
	case PhaseAdvancing:
		return "advancing"
	case PhaseVerifying:
		return "verifying"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// State is one position of the state machine. Stage and Item are only
// meaningful while advancing.
type State struct {
	Phase Phase
	Stage int
	Item  int
}

func (s State) String() string {
	if s.Phase == PhaseAdvancing {
		return fmt.Sprintf("advancing(stage=%d, item=%d)", s.Stage, s.Item)
	}
	return s.Phase.String()
}

// Progress is the mutable state of one run as Step drives it.
type Progress struct {
	State    State
	Batch    *news.Batch
	Status   Status
	Reason   string
	Clusters [][]int
	Degraded int
}

// Options tunes an Engine.
type Options struct {
	// Workers > 1 runs items concurrently, each item owned by one worker.
	Workers      int
	StageTimeout time.Duration
	Threshold    float64
	Hooks        EngineHooks
}

// Engine sequences the stages over every item of a batch, then verifies and
// extracts alerts.
type Engine struct {
	fetcher   Fetcher
	stages    []Stage
	runner    *Runner
	clusterer *verify.Clusterer
	workers   int
	logger    log.Logger
	hooks     EngineHooks

	// unavailable is set when the engine was built without a required
	// collaborator; Run then always returns an empty result.
	unavailable string
}

// NewEngine creates an Engine. A nil fetcher or an empty stage list gives an
// engine that cannot run; it is still returned so callers never have to
// handle a construction error.
func NewEngine(fetcher Fetcher, stages []Stage, logger log.Logger, opts Options) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	e := &Engine{
		fetcher:   fetcher,
		stages:    stages,
		runner:    NewRunner(opts.StageTimeout, logger, opts.Hooks),
		clusterer: verify.New(opts.Threshold),
		workers:   max(opts.Workers, 1),
		logger:    logger,
		hooks:     opts.Hooks,
	}
	switch {
	case fetcher == nil:
		e.unavailable = "no fetcher configured"
	case len(stages) == 0:
		e.unavailable = "no stages configured"
	}
	for _, s := range stages {
		if s == nil {
			e.unavailable = "nil stage configured"
			break
		}
	}
	return e
}

// Available reports whether Run can do any work.
func (e *Engine) Available() bool { return e.unavailable == "" }

// Stages returns the stage names in execution order.
func (e *Engine) Stages() []string {
	names := make([]string, 0, len(e.stages))
	for _, s := range e.stages {
		if s != nil {
			names = append(names, s.Name())
		}
	}
	return names
}

// Begin returns the initial progress of a run.
func (e *Engine) Begin() *Progress {
	return &Progress{State: State{Phase: PhaseCollecting}}
}

// Step performs exactly one state transition. An unavailable engine goes
// straight to done with StatusUnavailable.
func (e *Engine) Step(ctx context.Context, p *Progress) {
	if !e.Available() && p.State.Phase != PhaseDone {
		p.Status, p.Reason = StatusUnavailable, e.unavailable
		p.Batch = news.NewBatch(nil)
		p.State = State{Phase: PhaseDone}
		return
	}
	switch p.State.Phase {
	case PhaseCollecting:
		e.collect(ctx, p)
	case PhaseAdvancing:
		e.advance(ctx, p)
	case PhaseVerifying:
		e.verify(ctx, p)
	case PhaseDone:
	}
}

// Run drives a fresh run to completion. It never returns nil and never
// fails: outages and cancellation are reported through Status.
func (e *Engine) Run(ctx context.Context) *RunResult {
	start := time.Now()
	if !e.Available() {
		e.logger.Warn(ctx, "pipeline unavailable", "reason", e.unavailable)
		rr := emptyResult(StatusUnavailable, e.unavailable)
		rr.StartedAt, rr.CompletedAt = start, time.Now()
		e.hooks.complete(rr)
		return rr
	}

	ctx, span := tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.Int("newsdesk.workers", e.workers),
		attribute.Int("newsdesk.stages", len(e.stages)),
	))
	defer span.End()

	p := e.Begin()
	for p.State.Phase != PhaseDone {
		if e.checkpoint(p.State) && ctx.Err() != nil {
			return e.abandon(ctx, span, start, p, ctx.Err())
		}
		if e.workers > 1 && p.State.Phase == PhaseAdvancing {
			if err := e.advanceAll(ctx, p); err != nil {
				return e.abandon(ctx, span, start, p, err)
			}
			continue
		}
		e.Step(ctx, p)
	}

	rr := &RunResult{
		Status:      p.Status,
		Reason:      p.Reason,
		Processed:   p.Batch.Finished,
		Alerts:      p.Batch.Alerts,
		TotalCount:  len(p.Batch.Finished),
		Clusters:    p.Clusters,
		Degraded:    p.Degraded,
		StartedAt:   start,
		CompletedAt: time.Now(),
	}
	rr.Duration = rr.CompletedAt.Sub(start).Seconds()

	span.SetAttributes(
		attribute.String("newsdesk.run.status", string(rr.Status)),
		attribute.Int("newsdesk.run.items", rr.TotalCount),
		attribute.Int("newsdesk.run.alerts", len(rr.Alerts)),
	)
	if rr.Status == StatusDegraded {
		span.SetStatus(codes.Error, rr.Reason)
	}

	e.logger.Info(ctx, "pipeline run complete",
		"status", rr.Status,
		"items", rr.TotalCount,
		"alerts", len(rr.Alerts),
		"clusters", len(rr.Clusters),
		"degraded_stages", rr.Degraded,
		"duration", rr.Duration,
	)
	e.hooks.complete(rr)
	return rr
}

// checkpoint reports whether s is a point where a run may be abandoned:
// before fetching and before each new item.
func (e *Engine) checkpoint(s State) bool {
	return s.Phase == PhaseCollecting || (s.Phase == PhaseAdvancing && s.Stage == 0)
}

func (e *Engine) abandon(ctx context.Context, span trace.Span, start time.Time, p *Progress, err error) *RunResult {
	done := 0
	if p.Batch != nil {
		done = len(p.Batch.Finished)
	}
	e.logger.Warn(ctx, "pipeline run abandoned", "state", p.State.String(), "finished", done, "err", err)
	span.RecordError(err)
	span.SetStatus(codes.Error, "canceled")

	rr := emptyResult(StatusCanceled, err.Error())
	rr.StartedAt, rr.CompletedAt = start, time.Now()
	rr.Duration = rr.CompletedAt.Sub(start).Seconds()
	e.hooks.complete(rr)
	return rr
}

func (e *Engine) collect(ctx context.Context, p *Progress) {
	raws, err := e.fetch(ctx)
	if err != nil {
		e.logger.Warn(ctx, "fetch failed, continuing with an empty batch", "err", err)
		p.Status = StatusDegraded
		p.Reason = "fetch failed: " + err.Error()
		raws = nil
	}

	p.Batch = news.NewBatch(raws)
	if p.Batch.Len() == 0 {
		if p.Status == "" {
			p.Status = StatusEmpty
		}
		p.State = State{Phase: PhaseVerifying}
		return
	}
	p.Status = StatusComplete
	p.State = State{Phase: PhaseAdvancing}
}

func (e *Engine) fetch(ctx context.Context) (raws []news.Raw, err error) {
	defer func() {
		if p := recover(); p != nil {
			raws, err = nil, fmt.Errorf("fetcher panic: %v", p)
		}
	}()
	return e.fetcher.Fetch(ctx)
}

// advance runs one stage on one item. The same item passes through every
// stage before the next item starts at stage 0.
func (e *Engine) advance(ctx context.Context, p *Progress) {
	st := p.State
	it := p.Batch.Current()
	if it == nil {
		p.State = State{Phase: PhaseVerifying}
		return
	}
	if e.runner.Process(ctx, e.stages[st.Stage], it) {
		p.Degraded++
	}

	if st.Stage < len(e.stages)-1 {
		p.State.Stage++
		return
	}

	p.Batch.Finish(p.Batch.Cursor)
	p.Batch.Advance()
	if !p.Batch.Done() {
		p.State = State{Phase: PhaseAdvancing, Item: p.Batch.Cursor}
		return
	}
	p.State = State{Phase: PhaseVerifying}
}

// advanceAll runs every remaining item through every stage across a bounded
// worker pool. Each goroutine owns one item for its whole stage sequence and
// Wait is the barrier before verification. Finished is rebuilt in batch order.
func (e *Engine) advanceAll(ctx context.Context, p *Progress) error {
	from := p.State.Item
	n := p.Batch.Len()
	degraded := make([]int, n)

	var g errgroup.Group
	g.SetLimit(e.workers)
	for i := from; i < n; i++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			it := p.Batch.Items[i]
			for _, s := range e.stages {
				if e.runner.Process(ctx, s, it) {
					degraded[i]++
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i := from; i < n; i++ {
		p.Batch.Finish(i)
		p.Batch.Advance()
		p.Degraded += degraded[i]
	}
	p.State = State{Phase: PhaseVerifying}
	return nil
}

func (e *Engine) verify(ctx context.Context, p *Progress) {
	_, span := tracer.Start(ctx, "pipeline.verify", trace.WithAttributes(
		attribute.Int("newsdesk.run.items", len(p.Batch.Finished)),
		attribute.Float64("newsdesk.verify.threshold", e.clusterer.Threshold()),
	))
	defer span.End()

	clusters, err := e.clusterer.Verify(p.Batch.Finished)
	if err != nil {
		e.logger.Error(ctx, err, "clustering failed, marking batch unverified")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		verify.MarkFailed(p.Batch.Finished)
		clusters = nil
	}
	p.Clusters = clusters
	span.SetAttributes(attribute.Int("newsdesk.verify.clusters", len(clusters)))

	p.Batch.Alerts = ExtractAlerts(p.Batch.Finished)
	p.State = State{Phase: PhaseDone}
}
