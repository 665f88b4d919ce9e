// Package history defines the historical-context backend used by the
// synthesis stage and ad-hoc lookups, plus ingestion of text documents into
// any backend that can store chunks.
package history

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Result is one retrieved snippet. Score is in (0, 1], higher is closer.
type Result struct {
	Content string  `json:"content"`
	Source  string  `json:"source"`
	Score   float64 `json:"similarity_score"`
}

// Retriever looks up historical text related to a query. An empty query
// yields an empty result.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]Result, error)
}

// Chunk is a piece of a source document ready to be stored.
type Chunk struct {
	Source  string
	Seq     int
	Content string
}

// Writer stores chunks. Writing a chunk with an existing (Source, Seq) replaces it.
type Writer interface {
	Write(ctx context.Context, chunks []Chunk) error
}

// ScoreFromDistance maps a non-negative distance onto (0, 1].
func ScoreFromDistance(d float64) float64 {
	if d < 0 {
		d = 0
	}
	return 1 / (1 + d)
}

// Terms splits text into lowercase search terms of at least three runes.
func Terms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) < 3 {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
