package pipeline

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the pipeline and its collaborators.
type Metrics struct {
	RunsTotal       *prometheus.CounterVec
	RunDuration     *prometheus.HistogramVec
	RunItems        prometheus.Histogram
	RunDegraded     prometheus.Histogram
	StageDuration   *prometheus.HistogramVec
	StageDegraded   *prometheus.CounterVec
	FetchItems      *prometheus.CounterVec
	AlertsTotal     *prometheus.CounterVec
	ClusterSize     prometheus.Histogram
	LLMCallsTotal   *prometheus.CounterVec
	LLMTokensIn     prometheus.Counter
	LLMTokensOut    prometheus.Counter
	LLMDuration     prometheus.Histogram
	SubmitsTotal    *prometheus.CounterVec
	DBQueryDuration *prometheus.HistogramVec
}

// NewMetrics registers and returns pipeline metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsdesk_runs_total",
			Help: "Total pipeline runs by final status.",
		}, []string{"status"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "newsdesk_run_duration_seconds",
			Help:    "Duration of pipeline runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s .. ~512s
		}, []string{"status"}),
		RunItems: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "newsdesk_run_items",
			Help:    "Items processed per pipeline run.",
			Buckets: prometheus.LinearBuckets(0, 5, 12), // 0 .. 55
		}),
		RunDegraded: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "newsdesk_run_degraded_stages",
			Help:    "Degraded stage results per pipeline run.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8), // 1 .. 128
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "newsdesk_stage_duration_seconds",
			Help:    "Duration of a single stage on a single item in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25s
		}, []string{"stage"}),
		StageDegraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsdesk_stage_degraded_total",
			Help: "Stage results that fell back to defaults, by stage.",
		}, []string{"stage"}),
		FetchItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsdesk_fetch_items_total",
			Help: "Articles returned by each source, by outcome.",
		}, []string{"source", "outcome"}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsdesk_alerts_total",
			Help: "Alerts raised by level.",
		}, []string{"level"}),
		ClusterSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "newsdesk_cluster_size",
			Help:    "Size of headline clusters produced by verification.",
			Buckets: prometheus.LinearBuckets(1, 1, 8), // 1 .. 8
		}),
		LLMCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsdesk_llm_calls_total",
			Help: "Total classifier backend calls by outcome.",
		}, []string{"outcome"}),
		LLMTokensIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsdesk_llm_tokens_input_total",
			Help: "Total LLM input tokens consumed.",
		}),
		LLMTokensOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsdesk_llm_tokens_output_total",
			Help: "Total LLM output tokens consumed.",
		}),
		LLMDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "newsdesk_llm_call_duration_seconds",
			Help:    "Duration of individual LLM calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 0.25s .. ~32s
		}),
		SubmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsdesk_submits_total",
			Help: "Total run submissions by result.",
		}, []string{"result"}),
		DBQueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "newsdesk_db_query_duration_seconds",
			Help:    "Duration of database queries in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms .. ~2s
		}, []string{"operation", "route", "outcome"}),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.RunItems,
		m.RunDegraded,
		m.StageDuration,
		m.StageDegraded,
		m.FetchItems,
		m.AlertsTotal,
		m.ClusterSize,
		m.LLMCallsTotal,
		m.LLMTokensIn,
		m.LLMTokensOut,
		m.LLMDuration,
		m.SubmitsTotal,
		m.DBQueryDuration,
	)

	return m
}

// Hooks returns an EngineHooks that increments the corresponding metrics.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnStage: func(stage string, duration float64, degraded bool) {
			m.StageDuration.WithLabelValues(stage).Observe(duration)
			if degraded {
				m.StageDegraded.WithLabelValues(stage).Inc()
			}
		},
		OnComplete: func(e *CompleteEvent) {
			m.RunsTotal.WithLabelValues(string(e.Status)).Inc()
			m.RunDuration.WithLabelValues(string(e.Status)).Observe(e.Duration)
			m.RunItems.Observe(float64(e.Items))
			m.RunDegraded.Observe(float64(e.Degraded))
			for _, n := range e.ClusterSizes {
				m.ClusterSize.Observe(float64(n))
			}
			for level, n := range e.Alerts {
				m.AlertsTotal.WithLabelValues(level).Add(float64(n))
			}
		},
	}
}

// ObserveFetch records the outcome of one source fetch.
func (m *Metrics) ObserveFetch(source, outcome string, items int) {
	m.FetchItems.WithLabelValues(source, outcome).Add(float64(items))
}

// ObserveLLM records one classifier backend call.
func (m *Metrics) ObserveLLM(inputTokens, outputTokens int64, duration float64, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.LLMCallsTotal.WithLabelValues(outcome).Inc()
	m.LLMTokensIn.Add(float64(inputTokens))
	m.LLMTokensOut.Add(float64(outputTokens))
	m.LLMDuration.Observe(duration)
}

// ObserveSubmit records the result of a run submission.
func (m *Metrics) ObserveSubmit(result string) {
	m.SubmitsTotal.WithLabelValues(result).Inc()
}

// ObserveQuery records a database query. It satisfies postgres.QueryObserver.
func (m *Metrics) ObserveQuery(_ context.Context, operation, route, outcome string, dur time.Duration) {
	m.DBQueryDuration.WithLabelValues(operation, route, outcome).Observe(dur.Seconds())
}
