// Package runapi exposes pipeline runs, alerts and history lookups over HTTP.
package runapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/linnemanlabs/newsdesk/internal/authmw"
	"github.com/linnemanlabs/newsdesk/internal/history"
	"github.com/linnemanlabs/newsdesk/internal/news"
	"github.com/linnemanlabs/newsdesk/internal/pipeline"
)

// History query bounds.
const (
	DefaultTopK = 5
	MaxTopK     = 20
)

// RunService defines the business operations runapi needs.
type RunService interface {
	Submit(ctx context.Context) (*pipeline.SubmitResult, error)
	Get(ctx context.Context, id string) (*pipeline.RunResult, bool, error)
	Latest(ctx context.Context) (*pipeline.RunResult, bool, error)
	Alerts(ctx context.Context) ([]news.Alert, error)
	Retrieve(ctx context.Context, query string, topK int) ([]history.Result, error)
}

// Option customizes an API.
type Option func(*API)

// WithSubmitTokens requires one of tokens as a bearer token on run
// submission. Empty tokens are ignored.
func WithSubmitTokens(tokens ...string) Option {
	return func(a *API) { a.tokens = append(a.tokens, tokens...) }
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    RunService
	tokens []string
}

// New creates a new API handler.
func New(logger log.Logger, svc RunService, opts ...Option) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("run service is required"))
	}
	a := &API{
		logger: logger,
		svc:    svc,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.With(authmw.BearerToken(a.tokens...)).Post("/runs", a.handleSubmitRun)
		r.Get("/runs/latest", a.handleLatestRun)
		r.Get("/runs/{id}", a.handleGetRun)
		r.Get("/alerts", a.handleAlerts)
		r.Get("/history", a.handleHistory)
	})
}

func (a *API) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	sr, err := a.svc.Submit(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to submit run")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("newsdesk.run.id", sr.ID),
		attribute.Bool("newsdesk.run.skipped", sr.Skipped),
	)

	if sr.Skipped {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":      sr.Reason,
			"running_id": sr.ID,
		})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": sr.ID})
}

func (a *API) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("newsdesk.run.id", id))

	result, ok, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get run result", "id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	span.SetAttributes(attribute.String("newsdesk.run.status", string(result.Status)))
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	result, ok, err := a.svc.Latest(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get latest run")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"no finished runs"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := a.svc.Alerts(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list alerts")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if alerts == nil {
		alerts = []news.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

type historyResponse struct {
	Query   string           `json:"query"`
	TopK    int              `json:"k"`
	Results []history.Result `json:"results"`
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	k := DefaultTopK
	if raw := r.URL.Query().Get("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, `{"error":"k must be a positive integer"}`, http.StatusBadRequest)
			return
		}
		k = min(n, MaxTopK)
	}

	results, err := a.svc.Retrieve(r.Context(), q, k)
	if err != nil {
		a.logger.Error(r.Context(), err, "history retrieve failed", "k", k)
		http.Error(w, `{"error":"history unavailable"}`, http.StatusBadGateway)
		return
	}
	if results == nil {
		results = []history.Result{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Query: q, TopK: k, Results: results})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
