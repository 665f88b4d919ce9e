package cfg

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
)

// Config adds newsdesk-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	ClaudeAPIKey          string
	ClaudeModel           string
	ClaudeTimeoutSeconds  int
	DatabaseURL           string
	HistoryDir            string
	SlackWebhookURL       string
	NewsAPIKey            string
	FinnhubKey            string
	Tickers               string
	SourcesFile           string
	RefreshSeconds        int
	Workers               int
	StageTimeoutSeconds   int
	FetchTimeoutSeconds   int
	SimilarityThreshold   float64
	RunRetain             int
	SubmitToken           string
	DotenvFile            string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for the Claude classifier (empty = stages fall back to defaults)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-haiku-4-5", "Claude model to use")
	fs.IntVar(&c.ClaudeTimeoutSeconds, "claude-timeout-seconds", 30, "per-request timeout for Claude calls (1..300)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL for the history corpus (empty = in-memory)")
	fs.StringVar(&c.HistoryDir, "history-dir", "", "directory of .txt documents loaded into the in-memory history at startup")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for alert notifications")
	fs.StringVar(&c.NewsAPIKey, "newsapi-key", "", "NewsAPI key (empty = NewsAPI source disabled)")
	fs.StringVar(&c.FinnhubKey, "finnhub-key", "", "Finnhub key (empty = Finnhub source disabled)")
	fs.StringVar(&c.Tickers, "tickers", "AAPL,GOOGL,MSFT,TSLA", "comma-separated list of monitored tickers")
	fs.StringVar(&c.SourcesFile, "sources-file", "", "YAML file overriding the news sources (empty = built-in feeds)")
	fs.IntVar(&c.RefreshSeconds, "refresh-interval-seconds", 300, "seconds between scheduled pipeline runs (0 = disabled, max 86400)")
	fs.IntVar(&c.Workers, "workers", 1, "items enriched concurrently within a run (1..32)")
	fs.IntVar(&c.StageTimeoutSeconds, "stage-timeout-seconds", 60, "per-item timeout for a single stage (1..600)")
	fs.IntVar(&c.FetchTimeoutSeconds, "fetch-timeout-seconds", 15, "per-source fetch timeout (1..300)")
	fs.Float64Var(&c.SimilarityThreshold, "similarity-threshold", 0.6, "minimum title similarity for two items to corroborate each other (0..1]")
	fs.IntVar(&c.RunRetain, "run-retain", 50, "finished runs kept in memory (1..10000)")
	fs.StringVar(&c.SubmitToken, "submit-token", "", "bearer token required to submit runs over the API (empty = open)")
	fs.StringVar(&c.DotenvFile, "env-file", ".env", "dotenv file loaded before reading the environment (missing file is ignored)")
}

// TickerList returns the monitored tickers, upper-cased with blanks removed.
func (c *Config) TickerList() []string {
	var out []string
	for _, t := range strings.Split(c.Tickers, ",") {
		if t = strings.ToUpper(strings.TrimSpace(t)); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// A missing key is allowed, the model name is not
	if c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required"))
	}
	if c.ClaudeTimeoutSeconds <= 0 || c.ClaudeTimeoutSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid CLAUDE_TIMEOUT_SECONDS %d (must be 1..300)", c.ClaudeTimeoutSeconds))
	}

	if len(c.TickerList()) == 0 {
		errs = append(errs, errors.New("TICKERS must name at least one ticker"))
	}

	if c.RefreshSeconds < 0 || c.RefreshSeconds > 86400 {
		errs = append(errs, fmt.Errorf("invalid REFRESH_INTERVAL_SECONDS %d (must be 0..86400)", c.RefreshSeconds))
	}
	if c.Workers <= 0 || c.Workers > 32 {
		errs = append(errs, fmt.Errorf("invalid WORKERS %d (must be 1..32)", c.Workers))
	}
	if c.StageTimeoutSeconds <= 0 || c.StageTimeoutSeconds > 600 {
		errs = append(errs, fmt.Errorf("invalid STAGE_TIMEOUT_SECONDS %d (must be 1..600)", c.StageTimeoutSeconds))
	}
	if c.FetchTimeoutSeconds <= 0 || c.FetchTimeoutSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid FETCH_TIMEOUT_SECONDS %d (must be 1..300)", c.FetchTimeoutSeconds))
	}

	// NaN fails both comparisons, so test for the valid range instead
	if !(c.SimilarityThreshold > 0 && c.SimilarityThreshold <= 1) {
		errs = append(errs, fmt.Errorf("invalid SIMILARITY_THRESHOLD %v (must be in (0, 1])", c.SimilarityThreshold))
	}

	if c.RunRetain <= 0 || c.RunRetain > 10000 {
		errs = append(errs, fmt.Errorf("invalid RUN_RETAIN %d (must be 1..10000)", c.RunRetain))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LoadDotenv loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func LoadDotenv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
