// Package pghistory provides a PostgreSQL full-text implementation of
// history.Retriever and history.Writer.
package pghistory

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/newsdesk/internal/history"
	"github.com/linnemanlabs/newsdesk/internal/postgres"
)

var tracer = otel.Tracer("github.com/linnemanlabs/newsdesk/internal/history/pghistory")

//go:embed schema.sql
var schema string

// writeBatch bounds the number of rows per INSERT statement.
const writeBatch = 200

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store keeps history chunks in PostgreSQL and ranks them with ts_rank_cd.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store. The pool is
// owned by the caller.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(postgres.WithOperation(ctx, "history.schema"), schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Retrieve returns up to topK chunks matching query. A rank r maps to the
// score r/(1+r), i.e. a distance of 1/r.
func (s *Store) Retrieve(ctx context.Context, query string, topK int) ([]history.Result, error) {
	query = strings.TrimSpace(query)
	if query == "" || topK <= 0 {
		return []history.Result{}, nil
	}

	ctx, span := tracer.Start(ctx, "pghistory.Retrieve", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
		attribute.Int("newsdesk.history.top_k", topK),
	))
	defer span.End()

	stmt, args, err := retrieveQuery(query, topK).ToSql()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("build retrieve query: %w", err)
	}

	rows, err := s.pool.Query(postgres.WithOperation(ctx, "history.retrieve"), stmt, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := make([]history.Result, 0, topK)
	for rows.Next() {
		var (
			r    history.Result
			rank float64
		)
		if err := rows.Scan(&r.Content, &r.Source, &rank); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		r.Score = rankScore(rank)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}

	span.SetAttributes(attribute.Int("newsdesk.history.results", len(out)))
	return out, nil
}

// Write upserts chunks on (source, seq) inside one transaction.
func (s *Store) Write(ctx context.Context, chunks []history.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	ctx, span := tracer.Start(ctx, "pghistory.Write", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
		attribute.Int("newsdesk.history.chunks", len(chunks)),
	))
	defer span.End()
	ctx = postgres.WithOperation(ctx, "history.write")

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	for start := 0; start < len(chunks); start += writeBatch {
		end := min(start+writeBatch, len(chunks))
		stmt, args, err := upsertQuery(chunks[start:end]).ToSql()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("build upsert: %w", err)
		}
		if _, err := tx.Exec(ctx, stmt, args...); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("upsert chunks: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func retrieveQuery(query string, topK int) sq.SelectBuilder {
	return psql.
		Select("content", "source").
		Column(sq.Expr("ts_rank_cd(tsv, plainto_tsquery('english', ?)) AS rank", query)).
		From("history_chunks").
		Where(sq.Expr("tsv @@ plainto_tsquery('english', ?)", query)).
		OrderBy("rank DESC", "id ASC").
		Limit(uint64(topK)) //nolint:gosec // topK is checked positive by the caller
}

func upsertQuery(chunks []history.Chunk) sq.InsertBuilder {
	b := psql.Insert("history_chunks").Columns("source", "seq", "content")
	for _, c := range chunks {
		b = b.Values(c.Source, c.Seq, c.Content)
	}
	return b.Suffix("ON CONFLICT (source, seq) DO UPDATE SET content = EXCLUDED.content, ingested_at = NOW()")
}

func rankScore(rank float64) float64 {
	if rank <= 0 {
		return 0
	}
	return history.ScoreFromDistance(1 / rank)
}
