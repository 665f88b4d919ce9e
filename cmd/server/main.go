// Newsdesk collects financial news, enriches every article through the
// classify, score and synthesize stages, cross-checks headlines between
// sources and serves the resulting alerts over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/prof"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/health"

	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/otelx"
	v "github.com/linnemanlabs/go-core/version"

	nc "github.com/linnemanlabs/newsdesk/internal/cfg"
	"github.com/linnemanlabs/newsdesk/internal/enrich"
	"github.com/linnemanlabs/newsdesk/internal/fetch"
	"github.com/linnemanlabs/newsdesk/internal/history"
	"github.com/linnemanlabs/newsdesk/internal/history/memhistory"
	"github.com/linnemanlabs/newsdesk/internal/history/pghistory"
	"github.com/linnemanlabs/newsdesk/internal/llm/claude"
	"github.com/linnemanlabs/newsdesk/internal/notify/slack"
	"github.com/linnemanlabs/newsdesk/internal/pipeline"
	"github.com/linnemanlabs/newsdesk/internal/pipeline/memstore"
	"github.com/linnemanlabs/newsdesk/internal/postgres"
	"github.com/linnemanlabs/newsdesk/internal/runapi"
)

const appName = "newsdesk"
const component = "server"

// slowQuery is the threshold above which successful queries are logged.
const slowQuery = 250 * time.Millisecond

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Set app name and component
	v.AppName = appName
	v.Component = component

	// Get build/version info
	vi := v.Get()

	// each package registers its own flags and options struct
	var (
		appCfg    nc.Config
		httpCfg   httpserver.Config
		httpmwCfg httpmw.Config
		logCfg    log.Config
		opsCfg    opshttp.Config
		profCfg   prof.Config
		traceCfg  otelx.Config
	)

	// register flags for each package, which will be parsed into the shared config struct
	appCfg.RegisterFlags(flag.CommandLine)
	httpCfg.RegisterFlags(flag.CommandLine)
	httpmwCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	profCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	// parse flags to get config values from cmdline, we check env vars next which do not override cmdline flags
	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	// Load the dotenv file first so its values are visible to FillFromEnv,
	// it never overrides variables already set in the environment
	if err := nc.LoadDotenv(appCfg.DotenvFile); err != nil {
		return fmt.Errorf("dotenv: %w", err)
	}

	// Fill in config values from environment variables with prefix NEWSDESK_,
	// these do not override cmdline flags
	cfg.FillFromEnv(flag.CommandLine, "NEWSDESK_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		httpCfg.Validate(),
		httpmwCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		profCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// cross-cutting checks that only main can validate
	if appCfg.APIPort == opsCfg.Port {
		return fmt.Errorf("http and admin ports must differ (both %d)", appCfg.APIPort)
	}

	// initialize logger early
	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	// no-op for slog/stderr, but here if we swap backends in the future to ensure any buffered logs are flushed on shutdown
	defer func() { _ = lg.Sync() }()

	// create a logger with component field pre-filled for structured logging in this package
	L := lg.With("component", vi.Component)

	// add logger to context
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", appCfg.APIPort,
		"admin_port", opsCfg.Port,
		"enable_pprof", opsCfg.EnablePprof,
		"enable_pyroscope", profCfg.EnablePyroscope,
		"enable_tracing", traceCfg.EnableTracing,
		"trace_sample", traceCfg.TraceSample,
		"trace_insecure", traceCfg.Insecure,
		"otlp_endpoint", traceCfg.OTLPEndpoint,
		"pyro_server", profCfg.PyroServer,
		"pyro_tenant", profCfg.PyroTenantID,
		"include_error_links", logCfg.IncludeErrorLinks,
		"max_error_links", logCfg.MaxErrorLinks,
		"trusted_proxy_hops", httpmwCfg.TrustedProxyHops,
		"refresh_interval_seconds", appCfg.RefreshSeconds,
		"workers", appCfg.Workers,
		"similarity_threshold", appCfg.SimilarityThreshold,
	)

	// Setup pyroscope profiling early so we get profiles from the entire app lifetime
	profOpts := profCfg.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
		"source":    "lmlabs-go-agent",
	}
	// Start profiling, returns a stop function to call for clean shutdown (flush buffers, etc)
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}
	if stopProf != nil {
		defer stopProf()
	}

	// Setup otel for tracing
	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version

	// Start otel, returns a shutdown function to call for clean shutdown (flush buffers, etc)
	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx != nil {
		defer func() { _ = shutdownOtelx(context.Background()) }()
	}

	// Setup metrics, we use our own metrics package for internal instrumentation
	var m = metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", &vi)
	m.SetProfilingActive(profErr == nil && profCfg.EnablePyroscope)

	// Initialize pipeline metrics on the shared Prometheus registry and route
	// per-query DB durations into them.
	pipelineMetrics := pipeline.NewMetrics(m.Registry())
	postgres.SetQueryObserver(pipelineMetrics)

	// Initialize the history corpus used by synthesis and the history endpoint
	hist, closeHistory, err := openHistory(ctx, &appCfg, L)
	if err != nil {
		return err
	}
	defer closeHistory()

	// Initialize Claude classifier. Without a key every stage falls back to defaults.
	backend := newClassifier(&appCfg, pipelineMetrics)
	if backend == nil {
		L.Warn(ctx, "no claude api key configured, enrichment stages will use defaults")
	} else {
		L.Info(ctx, "initialized classifier", "provider", "claude", "model", appCfg.ClaudeModel)
	}

	// Initialize news sources
	sources, err := fetch.LoadSources(appCfg.SourcesFile)
	if err != nil {
		return fmt.Errorf("sources: %w", err)
	}
	fetchTimeout := time.Duration(appCfg.FetchTimeoutSeconds) * time.Second
	aggregator := fetch.NewAggregator(
		fetch.Build(fetch.Config{
			Sources:    sources,
			NewsAPIKey: appCfg.NewsAPIKey,
			FinnhubKey: appCfg.FinnhubKey,
			Tickers:    appCfg.TickerList(),
			Client:     fetch.NewHTTPClient(fetchTimeout),
			Logger:     L,
		}),
		L,
		fetch.WithTimeout(fetchTimeout),
		fetch.WithObserver(pipelineMetrics.ObserveFetch),
	)
	L.Info(ctx, "configured news sources", "sources", aggregator.Sources(), "tickers", appCfg.TickerList())

	// Stages run in this order on every item.
	stages := []pipeline.Stage{
		enrich.NewClassify(backend, appCfg.TickerList()),
		enrich.NewScore(backend),
		enrich.NewSynthesize(backend, hist),
	}

	// Initialize the pipeline engine (pure - no store dependency).
	engine := pipeline.NewEngine(aggregator, stages, L, pipeline.Options{
		Workers:      appCfg.Workers,
		StageTimeout: time.Duration(appCfg.StageTimeoutSeconds) * time.Second,
		Threshold:    appCfg.SimilarityThreshold,
		Hooks:        pipelineMetrics.Hooks(),
	})
	if !engine.Available() {
		return fmt.Errorf("failed to initialize pipeline engine")
	}
	L.Info(ctx, "initialized pipeline engine", "stages", engine.Stages(), "workers", appCfg.Workers)

	svcOpts := []pipeline.Option{
		pipeline.WithHistory(hist),
		pipeline.WithSubmitObserver(pipelineMetrics.ObserveSubmit),
	}

	// Initialize Slack notifier for run alert digests.
	if appCfg.SlackWebhookURL != "" {
		svcOpts = append(svcOpts, pipeline.WithNotifier(slack.New(appCfg.SlackWebhookURL, L)))
		L.Info(ctx, "notifier enabled", "type", "slack")
	}

	// Initialize the pipeline service (owns run lifecycle, async dispatch).
	pipelineSvc := pipeline.NewService(memstore.New(appCfg.RunRetain), engine, L, svcOpts...)

	// Scheduled refresh, the first run starts immediately
	refresh := time.Duration(appCfg.RefreshSeconds) * time.Second
	pipelineSvc.Start(ctx, refresh)
	L.Info(ctx, "scheduled refresh", "interval_seconds", appCfg.RefreshSeconds)

	// setup toggle for server shutdown. this is used to fail readiness checks
	// during shutdown to drain connections from load balancer before killing the process.
	var shutdownGate health.ShutdownGate

	// setup readiness checks, currently just the shutdown gate
	readiness := health.All(
		shutdownGate.Probe(),
	)
	// liveness is always true if the app is able to respond
	liveness := health.Fixed(true, "")

	// Configure ops http server for metrics, health checks, pprof, etc
	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	// start admin/ops listener. sg restricts inbound to internal monitoring infrastructure.
	// we reject connections from public ips and requests with x-forwarded set in middleware
	// to prevent accidental exposure if sg is misconfigured or load balancer ever sends traffic here
	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}
	defer func() {
		err := opsHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop ops http listener")
		}
	}()

	// setup main api chi router and middleware stack
	r := chi.NewRouter()

	// Compress text responses (we are JSON only for now)
	r.Use(middleware.Compress(5, "application/json"))

	// Annotate logger (and tracer if trace is recording) with http.route from chi route pattern
	r.Use(httpmw.AnnotateHTTPRoute)

	// Accumulate DB query totals per request and log them once it is served.
	r.Use(queryStats)

	// Access log middleware
	r.Use(httpmw.AccessLog())

	// Limit request body size, this is a wrapper around http.MaxBytesHandler which returns 413 if limit is exceeded
	r.Use(httpmw.MaxBody(1024 * 64)) // 64KB to start with may adjust after i see real traffic

	// add health check endpoints to main listener
	r.Get("/-/healthy", health.HealthzHandler(liveness))
	r.Get("/-/ready", health.ReadyzHandler(readiness))

	// register api routes
	runapiHTTP := runapi.New(L, pipelineSvc, runapi.WithSubmitTokens(appCfg.SubmitToken))
	runapiHTTP.RegisterRoutes(r)

	// middleware stack for main listener, order matters these are wrappers, outermost sees raw request
	// first and is last to see response, innermost is last to see request and first to see response but
	// has access to the full rich context from outer middleware and handlers
	var h http.Handler = r

	// Request-scoped logging (inner so it sees trace_id, chi route, etc)
	h = httpmw.WithLogger(L)(h)

	// add trace-id and span-id headers to any requests with a recording trace
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)

	// otel instrumentation for automatic spans and trace context propagation
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			// dont trace health/readiness checks
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		// AnnotateHTTPRoute will rename the span later to the final route pattern
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		// WithPublicEndpointFn is the replacement for WithPublicEndpoint()
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)

	// Metrics middleware for prometheus instrumentation
	h = m.Middleware(h)

	// Client IP resolution and spoofing protection middleware, outer so downstream middleware
	// and handlers can use the resolved client ip from context for consistency and security
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{
		TrustedHops: httpmwCfg.TrustedProxyHops,
	})(h)

	// Request ID (outer so everything downstream sees it)
	h = httpmw.RequestID("X-Request-Id")(h) // request ID

	// Recovery middleware to recover and log panics and serve 500 response.
	// Outer to catch panics from any downstream middleware or handlers
	h = httpmw.Recover(L, nil)(h)

	// Security headers outermost to ensure they are served on every response
	h = httpmw.SecurityHeaders(h)

	// Configure http server options from config
	runapiOpts, err := httpCfg.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}

	// Start runapi HTTP server with middleware and handlers
	runapiHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf(":%d", appCfg.APIPort), h, L, runapiOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start runapi http listener")
		return err
	}
	defer func() {
		err := runapiHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop runapi http listener")
		}
	}()

	// Notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// Wait for ctrl+c / sigterm
	<-ctx.Done()

	L.Info(context.Background(), "shutdown signal received")

	// fail health checks to drain connections
	shutdownGate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	// Wait for in-flight requests to finish and for load balancer
	// to detect unhealthy and stop sending new requests.
	drainDuration := time.Duration(appCfg.DrainSeconds) * time.Second
	L.Info(context.Background(), "sleeping for drain period", "drain_seconds", appCfg.DrainSeconds)
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainDuration):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	// Shutdown components with per-component budget sliced from total.
	// stopProf is synchronous and needs no context, so it's excluded.
	type stopFn struct {
		name string
		fn   func(context.Context) error
	}
	stopFns := []stopFn{
		{"runapi http server", runapiHTTPStop},
		{"pipeline service", pipelineSvc.Close},
		{"ops http server", opsHTTPStop},
		{"otel", shutdownOtelx},
	}

	budget := time.Duration(appCfg.ShutdownBudgetSeconds) * time.Second
	perComponent := budget / time.Duration(len(stopFns))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	for _, s := range stopFns {
		cctx, ccancel := context.WithTimeout(shutdownCtx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
		}
		ccancel()
	}

	stopProf()

	L.Info(context.Background(), "shutdown complete")
	return nil
}

// openHistory returns the Postgres history store when a database is
// configured and an in-memory one otherwise, optionally seeded from
// HistoryDir. The returned func releases the pool.
func openHistory(ctx context.Context, c *nc.Config, L log.Logger) (history.Retriever, func(), error) {
	if c.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, c.DatabaseURL, postgres.PoolOptions{SlowQuery: slowQuery})
		if err != nil {
			return nil, nil, fmt.Errorf("postgres pool: %w", err)
		}
		store, err := pghistory.New(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("pghistory init: %w", err)
		}
		L.Info(ctx, "using postgres history")
		return store, pool.Close, nil
	}

	store := memhistory.New()
	if c.HistoryDir != "" {
		stats, err := history.IngestDir(ctx, c.HistoryDir, store, L)
		if err != nil {
			return nil, nil, fmt.Errorf("history ingest: %w", err)
		}
		L.Info(ctx, "loaded in-memory history", "dir", c.HistoryDir, "files", stats.Files, "chunks", stats.Chunks)
	} else {
		L.Info(ctx, "using empty in-memory history (no database-url or history-dir configured)")
	}
	return store, func() {}, nil
}

// newClassifier returns nil without an API key so the stages degrade to
// their defaults instead of failing every call.
func newClassifier(c *nc.Config, m *pipeline.Metrics) enrich.Classifier {
	if c.ClaudeAPIKey == "" {
		return nil
	}
	return claude.New(c.ClaudeAPIKey, c.ClaudeModel, claude.Options{
		Timeout:  time.Duration(c.ClaudeTimeoutSeconds) * time.Second,
		Observer: m.ObserveLLM,
	})
}

func queryStats(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx, stats := postgres.WithQueryStats(req.Context())
		next.ServeHTTP(w, req.WithContext(ctx))
		if n, errs, dur := stats.Snapshot(); n > 0 {
			log.FromContext(ctx).Info(ctx, "db queries", "count", n, "errors", errs, "db_seconds", dur.Seconds())
		}
	})
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // G704: addr is from NOTIFY_SOCKET set by systemd not user input, no context support in net package for unixgram sockets
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}
