package cfg

import (
	"flag"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

// validBase returns a Config with all required fields set to valid values.
func validBase() Config {
	return Config{
		DrainSeconds:          60,
		ShutdownBudgetSeconds: 90,
		APIPort:               8080,
		ClaudeModel:           "claude-haiku-4-5",
		ClaudeTimeoutSeconds:  30,
		Tickers:               "AAPL,GOOGL,MSFT,TSLA",
		RefreshSeconds:        300,
		Workers:               1,
		StageTimeoutSeconds:   60,
		FetchTimeoutSeconds:   15,
		SimilarityThreshold:   0.6,
		RunRetain:             50,
	}
}

func TestRegisterFlags_Defaults(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse empty args: %v", err)
	}

	if err := c.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
	if c.DrainSeconds != 60 {
		t.Errorf("DrainSeconds = %d, want 60", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 90 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 90", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 8080 {
		t.Errorf("APIPort = %d, want 8080", c.APIPort)
	}
	if c.ClaudeModel != "claude-haiku-4-5" {
		t.Errorf("ClaudeModel = %q, want %q", c.ClaudeModel, "claude-haiku-4-5")
	}
	if c.RefreshSeconds != 300 {
		t.Errorf("RefreshSeconds = %d, want 300", c.RefreshSeconds)
	}
	if c.SimilarityThreshold != 0.6 {
		t.Errorf("SimilarityThreshold = %v, want 0.6", c.SimilarityThreshold)
	}
	if got := c.TickerList(); !slices.Equal(got, []string{"AAPL", "GOOGL", "MSFT", "TSLA"}) {
		t.Errorf("TickerList = %v", got)
	}
}

func TestRegisterFlags_Override(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	args := []string{
		"-drain-seconds", "30",
		"-shutdown-budget-seconds", "120",
		"-http-port", "9090",
		"-claude-api-key", "sk-override",
		"-claude-model", "claude-sonnet-4-5",
		"-tickers", "nvda, amd ,",
		"-workers", "4",
		"-similarity-threshold", "0.5",
		"-refresh-interval-seconds", "0",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse args: %v", err)
	}

	if c.DrainSeconds != 30 {
		t.Errorf("DrainSeconds = %d, want 30", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 120 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 120", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 9090 {
		t.Errorf("APIPort = %d, want 9090", c.APIPort)
	}
	if c.ClaudeAPIKey != "sk-override" {
		t.Errorf("ClaudeAPIKey = %q, want %q", c.ClaudeAPIKey, "sk-override")
	}
	if c.ClaudeModel != "claude-sonnet-4-5" {
		t.Errorf("ClaudeModel = %q, want %q", c.ClaudeModel, "claude-sonnet-4-5")
	}
	if got := c.TickerList(); !slices.Equal(got, []string{"NVDA", "AMD"}) {
		t.Errorf("TickerList = %v, want [NVDA AMD]", got)
	}
	if c.Workers != 4 || c.SimilarityThreshold != 0.5 || c.RefreshSeconds != 0 {
		t.Errorf("workers/threshold/refresh = %d/%v/%d", c.Workers, c.SimilarityThreshold, c.RefreshSeconds)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	with := func(fn func(*Config)) Config {
		c := validBase()
		fn(&c)
		return c
	}

	tests := []struct {
		name      string
		cfg       Config
		wantErr   bool
		errSubstr []string // substrings that must appear in error message
	}{
		{
			name:    "defaults are valid",
			cfg:     validBase(),
			wantErr: false,
		},
		{
			name:    "no claude key is valid",
			cfg:     with(func(c *Config) { c.ClaudeAPIKey = "" }),
			wantErr: false,
		},
		{
			name:    "refresh disabled",
			cfg:     with(func(c *Config) { c.RefreshSeconds = 0 }),
			wantErr: false,
		},
		{
			name:    "threshold at upper bound",
			cfg:     with(func(c *Config) { c.SimilarityThreshold = 1 }),
			wantErr: false,
		},
		// DrainSeconds boundaries
		{
			name:      "drain zero",
			cfg:       with(func(c *Config) { c.DrainSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "drain above max",
			cfg:       with(func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds = 301, 302 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:    "drain at upper bound",
			cfg:     with(func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds = 300, 300 }),
			wantErr: true, // budget must be greater than drain
		},
		// ShutdownBudgetSeconds boundaries
		{
			name:      "budget above max",
			cfg:       with(func(c *Config) { c.ShutdownBudgetSeconds = 301 }),
			wantErr:   true,
			errSubstr: []string{"SHUTDOWN_BUDGET_SECONDS"},
		},
		{
			name:      "budget equals drain",
			cfg:       with(func(c *Config) { c.ShutdownBudgetSeconds = 60 }),
			wantErr:   true,
			errSubstr: []string{"must be greater than"},
		},
		// APIPort boundaries
		{
			name:      "port zero",
			cfg:       with(func(c *Config) { c.APIPort = 0 }),
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		{
			name:      "port above max",
			cfg:       with(func(c *Config) { c.APIPort = 65536 }),
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		// Pipeline settings
		{
			name:      "empty claude model",
			cfg:       with(func(c *Config) { c.ClaudeModel = "" }),
			wantErr:   true,
			errSubstr: []string{"CLAUDE_MODEL"},
		},
		{
			name:      "claude timeout zero",
			cfg:       with(func(c *Config) { c.ClaudeTimeoutSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"CLAUDE_TIMEOUT_SECONDS"},
		},
		{
			name:      "blank tickers",
			cfg:       with(func(c *Config) { c.Tickers = " , ," }),
			wantErr:   true,
			errSubstr: []string{"TICKERS"},
		},
		{
			name:      "negative refresh",
			cfg:       with(func(c *Config) { c.RefreshSeconds = -1 }),
			wantErr:   true,
			errSubstr: []string{"REFRESH_INTERVAL_SECONDS"},
		},
		{
			name:      "too many workers",
			cfg:       with(func(c *Config) { c.Workers = 33 }),
			wantErr:   true,
			errSubstr: []string{"WORKERS"},
		},
		{
			name:      "stage timeout zero",
			cfg:       with(func(c *Config) { c.StageTimeoutSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"STAGE_TIMEOUT_SECONDS"},
		},
		{
			name:      "fetch timeout above max",
			cfg:       with(func(c *Config) { c.FetchTimeoutSeconds = 301 }),
			wantErr:   true,
			errSubstr: []string{"FETCH_TIMEOUT_SECONDS"},
		},
		{
			name:      "threshold zero",
			cfg:       with(func(c *Config) { c.SimilarityThreshold = 0 }),
			wantErr:   true,
			errSubstr: []string{"SIMILARITY_THRESHOLD"},
		},
		{
			name:      "threshold NaN",
			cfg:       with(func(c *Config) { c.SimilarityThreshold = math.NaN() }),
			wantErr:   true,
			errSubstr: []string{"SIMILARITY_THRESHOLD"},
		},
		{
			name:      "run retain zero",
			cfg:       with(func(c *Config) { c.RunRetain = 0 }),
			wantErr:   true,
			errSubstr: []string{"RUN_RETAIN"},
		},
		// Error accumulation: all fields invalid
		{
			name:    "all fields invalid",
			cfg:     Config{SimilarityThreshold: -1},
			wantErr: true,
			errSubstr: []string{
				"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT", "CLAUDE_MODEL",
				"CLAUDE_TIMEOUT_SECONDS", "TICKERS", "WORKERS", "STAGE_TIMEOUT_SECONDS",
				"FETCH_TIMEOUT_SECONDS", "SIMILARITY_THRESHOLD", "RUN_RETAIN",
			},
		},
		// Extreme values
		{
			name:      "extreme negative values",
			cfg:       with(func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort = math.MinInt32, math.MinInt32, math.MinInt32 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				errMsg := err.Error()
				for _, sub := range tt.errSubstr {
					if !strings.Contains(errMsg, sub) {
						t.Errorf("error %q does not contain %q", errMsg, sub)
					}
				}
			}
		})
	}
}

func FuzzValidate(f *testing.F) {
	// Seeds: defaults, boundaries, extremes
	seeds := []struct {
		drain, budget, port, workers int
		threshold                    float64
		model, tickers               string
	}{
		{60, 90, 8080, 1, 0.6, "claude-haiku-4-5", "AAPL"},
		{1, 2, 1, 32, 1, "m", "X"},
		{299, 300, 65535, 1, 0.0001, "m", "A,B"},
		{0, 0, 0, 0, 0, "", ""},
		{-1, -1, -1, -1, -1, "", ","},
		{300, 300, 65535, 1, 0.6, "m", "A"},
		{150, 100, 8080, 1, 1.5, "m", "A"},
		{math.MinInt32, math.MinInt32, math.MinInt32, math.MinInt32, math.Inf(-1), "", ""},
		{math.MaxInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32, math.Inf(1), "", ""},
	}
	for _, s := range seeds {
		f.Add(s.drain, s.budget, s.port, s.workers, s.threshold, s.model, s.tickers)
	}

	f.Fuzz(func(t *testing.T, drain, budget, port, workers int, threshold float64, model, tickers string) {
		c := validBase()
		c.DrainSeconds = drain
		c.ShutdownBudgetSeconds = budget
		c.APIPort = port
		c.Workers = workers
		c.SimilarityThreshold = threshold
		c.ClaudeModel = model
		c.Tickers = tickers
		err := c.Validate()

		drainOK := drain >= 1 && drain <= 300
		budgetOK := budget >= 1 && budget <= 300
		portOK := port >= 1 && port <= 65535
		crossOK := budget > drain
		workersOK := workers >= 1 && workers <= 32
		thresholdOK := threshold > 0 && threshold <= 1
		modelOK := model != ""
		tickersOK := len(c.TickerList()) > 0

		allValid := drainOK && budgetOK && portOK && crossOK && workersOK && thresholdOK && modelOK && tickersOK

		if allValid && err != nil {
			t.Errorf("expected no error for valid config %+v, got: %v", c, err)
		}
		if !allValid && err == nil {
			t.Errorf("expected error for invalid config %+v, got nil", c)
		}
	})
}

func TestLoadDotenv(t *testing.T) { //nolint:paralleltest // mutates the process environment
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("NEWSDESK_DOTENV_TEST_A=from-file\nNEWSDESK_DOTENV_TEST_B=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("NEWSDESK_DOTENV_TEST_B", "from-env")
	t.Cleanup(func() { _ = os.Unsetenv("NEWSDESK_DOTENV_TEST_A") })

	if err := LoadDotenv(path); err != nil {
		t.Fatalf("LoadDotenv: %v", err)
	}
	if got := os.Getenv("NEWSDESK_DOTENV_TEST_A"); got != "from-file" {
		t.Errorf("A = %q, want from-file", got)
	}
	if got := os.Getenv("NEWSDESK_DOTENV_TEST_B"); got != "from-env" {
		t.Errorf("B = %q, existing variables must not be overridden", got)
	}
}

func TestLoadDotenv_Missing(t *testing.T) {
	t.Parallel()

	if err := LoadDotenv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Errorf("missing file: %v", err)
	}
	if err := LoadDotenv(""); err != nil {
		t.Errorf("empty path: %v", err)
	}
}
