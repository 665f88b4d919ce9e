package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/newsdesk/internal/history"
	"github.com/linnemanlabs/newsdesk/internal/news"
)

// ReasonRunInProgress is returned when a submission is skipped because a run
// is already in flight.
const ReasonRunInProgress = "run in progress"

// SubmitResult is the outcome of submitting a run.
type SubmitResult struct {
	ID      string
	Skipped bool
	Reason  string
}

// Notifier is told about every finished run that raised alerts.
type Notifier interface {
	Send(ctx context.Context, result *RunResult) error
}

// Option customizes a Service.
type Option func(*Service)

// WithHistory sets the history backend used by Retrieve.
func WithHistory(r history.Retriever) Option {
	return func(s *Service) { s.history = r }
}

// WithNotifier sets the alert notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithSubmitObserver sets a callback invoked with the result of every submission
// ("accepted", "skipped" or "error").
func WithSubmitObserver(fn func(result string)) Option {
	return func(s *Service) { s.onSubmit = fn }
}

// Service is the business boundary for pipeline runs. At most one run is in
// flight at a time.
type Service struct {
	store    Store
	engine   *Engine
	history  history.Retriever
	notifier Notifier
	onSubmit func(result string)
	logger   log.Logger

	mu      sync.Mutex
	running string

	wg     sync.WaitGroup
	base   context.Context
	cancel context.CancelFunc
}

// NewService creates a new pipeline service.
func NewService(store Store, engine *Engine, logger log.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	base, cancel := context.WithCancel(context.Background())
	s := &Service{
		store:  store,
		engine: engine,
		logger: logger,
		base:   base,
		cancel: cancel,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Submit starts an asynchronous run unless one is already in flight.
func (s *Service) Submit(ctx context.Context) (*SubmitResult, error) {
	s.mu.Lock()
	if s.running != "" {
		id := s.running
		s.mu.Unlock()
		s.observeSubmit("skipped")
		return &SubmitResult{ID: id, Skipped: true, Reason: ReasonRunInProgress}, nil
	}
	id := ulid.Make().String()
	s.running = id
	s.mu.Unlock()

	result := &RunResult{
		ID:        id,
		Status:    StatusRunning,
		Processed: []*news.Item{},
		Alerts:    []news.Alert{},
		StartedAt: time.Now(),
	}
	if err := s.store.Put(ctx, result); err != nil {
		s.finish(id)
		s.observeSubmit("error")
		return nil, err
	}

	// the run outlives the request but not the service.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(s.base, cancel)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		defer stop()
		s.run(runCtx, id)
	}()

	s.observeSubmit("accepted")
	return &SubmitResult{ID: id}, nil
}

// Get retrieves a run result by ID.
func (s *Service) Get(ctx context.Context, id string) (*RunResult, bool, error) {
	return s.store.Get(ctx, id)
}

// Latest returns the most recent finished run.
func (s *Service) Latest(ctx context.Context) (*RunResult, bool, error) {
	return s.store.Latest(ctx)
}

// Alerts returns the alerts of the most recent finished run, or an empty list.
func (s *Service) Alerts(ctx context.Context) ([]news.Alert, error) {
	rr, ok, err := s.store.Latest(ctx)
	if err != nil {
		return nil, err
	}
	if !ok || rr.Alerts == nil {
		return []news.Alert{}, nil
	}
	return rr.Alerts, nil
}

// Retrieve passes an ad-hoc query through to the history backend. Without a
// backend it returns an empty list.
func (s *Service) Retrieve(ctx context.Context, query string, topK int) ([]history.Result, error) {
	if s.history == nil {
		return []history.Result{}, nil
	}
	return s.history.Retrieve(ctx, query, topK)
}

// Start submits a run immediately and then every interval until ctx is done.
// A non-positive interval disables the loop.
func (s *Service) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			if sr, err := s.Submit(ctx); err != nil {
				s.logger.Error(ctx, err, "scheduled run submit failed")
			} else if sr.Skipped {
				s.logger.Info(ctx, "scheduled run skipped", "reason", sr.Reason, "running_id", sr.ID)
			}
			select {
			case <-ctx.Done():
				return
			case <-s.base.Done():
				return
			case <-t.C:
			}
		}
	}()
}

// Close cancels in-flight runs between items and waits for them to finish
// or for ctx to expire.
func (s *Service) Close(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("pipeline: runs still in flight"), ctx.Err())
	}
}

func (s *Service) run(ctx context.Context, id string) {
	defer s.finish(id)
	L := s.logger.With("run_id", id)

	rr := s.engine.Run(log.WithContext(ctx, L))
	rr.ID = id

	// the outcome is recorded even when the run was canceled.
	ctx = context.WithoutCancel(ctx)
	if err := s.store.Put(ctx, rr); err != nil {
		L.Error(ctx, err, "failed to persist run result")
	}

	if s.notifier != nil && len(rr.Alerts) > 0 {
		if err := s.notifier.Send(ctx, rr); err != nil {
			L.Error(ctx, err, "failed to send alert notification")
		}
	}

	L.Info(ctx, "run finished",
		"status", rr.Status,
		"items", rr.TotalCount,
		"alerts", len(rr.Alerts),
		"duration", rr.Duration,
	)
}

func (s *Service) finish(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running == id {
		s.running = ""
	}
}

func (s *Service) observeSubmit(result string) {
	if s.onSubmit != nil {
		s.onSubmit(result)
	}
}
