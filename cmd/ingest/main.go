// Ingest loads a folder of .txt documents into the newsdesk history corpus.
// Without a database URL it only chunks the documents and reports what would
// be written.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/log"
	v "github.com/linnemanlabs/go-core/version"

	nc "github.com/linnemanlabs/newsdesk/internal/cfg"
	"github.com/linnemanlabs/newsdesk/internal/history"
	"github.com/linnemanlabs/newsdesk/internal/history/memhistory"
	"github.com/linnemanlabs/newsdesk/internal/history/pghistory"
	"github.com/linnemanlabs/newsdesk/internal/postgres"
)

const appName = "newsdesk"
const component = "ingest"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

type ingestConfig struct {
	Dir         string
	DatabaseURL string
	DotenvFile  string
}

func (c *ingestConfig) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Dir, "dir", "", "directory of .txt documents to ingest (required)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = dry run)")
	fs.StringVar(&c.DotenvFile, "env-file", ".env", "dotenv file loaded before reading the environment (missing file is ignored)")
}

func (c *ingestConfig) Validate() error {
	if c.Dir == "" {
		return errors.New("DIR is required")
	}
	return nil
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v.AppName = appName
	v.Component = component

	var (
		ingCfg ingestConfig
		logCfg log.Config
	)
	ingCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	flag.Parse()

	if err := nc.LoadDotenv(ingCfg.DotenvFile); err != nil {
		return fmt.Errorf("dotenv: %w", err)
	}
	cfg.FillFromEnv(flag.CommandLine, "NEWSDESK_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(ingCfg.Validate(), logCfg.Validate()); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()
	L := lg.With("component", component)
	ctx = log.WithContext(ctx, L)

	w, closeFn, err := openWriter(ctx, ingCfg.DatabaseURL, L)
	if err != nil {
		return err
	}
	defer closeFn()

	stats, err := history.IngestDir(ctx, ingCfg.Dir, w, L)
	if err != nil {
		return err
	}
	L.Info(ctx, "ingest complete",
		"dir", ingCfg.Dir,
		"files", stats.Files,
		"skipped", stats.Skipped,
		"chunks", stats.Chunks,
		"dry_run", ingCfg.DatabaseURL == "",
	)
	return nil
}

// openWriter returns the Postgres history store, or an in-memory store when
// no database is configured.
func openWriter(ctx context.Context, databaseURL string, L log.Logger) (history.Writer, func(), error) {
	if databaseURL == "" {
		L.Warn(ctx, "no database-url configured, chunks are discarded after the run")
		return memhistory.New(), func() {}, nil
	}
	pool, err := postgres.NewPool(ctx, databaseURL, postgres.PoolOptions{MaxConns: 2})
	if err != nil {
		return nil, nil, fmt.Errorf("postgres pool: %w", err)
	}
	store, err := pghistory.New(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pghistory init: %w", err)
	}
	return store, pool.Close, nil
}
