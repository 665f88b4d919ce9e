package postgres

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestShortenFuncName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"full path", "github.com/linnemanlabs/newsdesk/internal/history/pghistory.(*Store).Retrieve", "(*Store).Retrieve"},
		{"already short", "(*Store).Write", "Write"},
		{"empty string", "", ""},
		{"no dots", "main", "main"},
		{"no slashes", "pghistory.(*Store).Write", "(*Store).Write"},
		{"single segment", "foo.Bar", "Bar"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := shortenFuncName(tt.in)
			if got != tt.want {
				t.Errorf("shortenFuncName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestQueryStats_Add(t *testing.T) {
	t.Parallel()

	s := &QueryStats{}
	s.Add(10*time.Millisecond, nil)
	s.Add(20*time.Millisecond, errors.New("timeout"))
	s.Add(5*time.Millisecond, nil)

	count, errs, dur := s.Snapshot()
	if count != 3 {
		t.Errorf("Count = %d, want 3", count)
	}
	if dur != 35*time.Millisecond {
		t.Errorf("Duration = %v, want 35ms", dur)
	}
	if errs != 1 {
		t.Errorf("Errors = %d, want 1", errs)
	}
}

func TestQueryStatsContext(t *testing.T) {
	t.Parallel()

	ctx, stats := WithQueryStats(context.Background())
	got, ok := QueryStatsFromContext(ctx)
	if !ok || got != stats {
		t.Fatal("expected the same stats pointer from context")
	}

	if _, ok := QueryStatsFromContext(context.Background()); ok {
		t.Error("expected ok=false for plain context")
	}
}

func TestWithOperation(t *testing.T) {
	t.Parallel()

	ctx := WithOperation(context.Background(), "history.retrieve")
	if got := operationFromContext(ctx); got != "history.retrieve" {
		t.Errorf("operation = %q, want %q", got, "history.retrieve")
	}
	if got := operationFromContext(WithOperation(context.Background(), "")); got != "" {
		t.Errorf("operation = %q, want empty", got)
	}
}

// observerCall captures one ObserveQuery invocation.
type observerCall struct {
	op, route, outcome string
	dur                time.Duration
}

func TestQueryTracer_ObservesAndAccumulates(t *testing.T) { //nolint:paralleltest // swaps the global query observer
	var calls []observerCall
	SetQueryObserver(QueryObserverFunc(func(_ context.Context, op, route, outcome string, dur time.Duration) {
		calls = append(calls, observerCall{op, route, outcome, dur})
	}))
	defer SetQueryObserver(nil)

	tr := wrapQueryTracer(nil, time.Hour)

	ctx, stats := WithQueryStats(WithOperation(context.Background(), "history.write"))
	ctx = tr.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{SQL: "INSERT INTO history_chunks VALUES ($1)", Args: []any{"x"}})
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{CommandTag: pgconn.NewCommandTag("INSERT 0 1")})

	ctx = tr.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{Err: errors.New("boom")})

	if len(calls) != 2 {
		t.Fatalf("observer calls = %d, want 2", len(calls))
	}
	if calls[0].op != "history.write" || calls[0].outcome != "ok" || calls[0].route != "none" {
		t.Errorf("first call = %+v", calls[0])
	}
	if calls[1].outcome != "error" {
		t.Errorf("second outcome = %q, want error", calls[1].outcome)
	}

	count, errs, _ := stats.Snapshot()
	if count != 2 || errs != 1 {
		t.Errorf("stats = %d queries / %d errors, want 2 / 1", count, errs)
	}
}

func TestRoutePatternFromContext(t *testing.T) {
	t.Parallel()

	var got string
	r := chi.NewRouter()
	r.Get("/api/v1/history", func(_ http.ResponseWriter, req *http.Request) {
		got = routePatternFromContext(req.Context())
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/history", http.NoBody))

	if got != "/api/v1/history" {
		t.Errorf("route = %q, want %q", got, "/api/v1/history")
	}
	if routePatternFromContext(context.Background()) != "" {
		t.Error("expected empty route without chi context")
	}
}

func TestSetQueryObserver(t *testing.T) { //nolint:paralleltest // swaps the global query observer
	defer SetQueryObserver(nil)

	called := false
	SetQueryObserver(QueryObserverFunc(func(_ context.Context, _, _, _ string, _ time.Duration) {
		called = true
	}))
	got := getQueryObserver()
	if got == nil {
		t.Fatal("expected non-nil observer after Set")
	}
	got.ObserveQuery(context.Background(), "op", "/test", "ok", time.Millisecond)
	if !called {
		t.Error("observer was not called")
	}

	SetQueryObserver(nil)
	if getQueryObserver() != nil {
		t.Error("expected nil observer after Set(nil)")
	}
}
