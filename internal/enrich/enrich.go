// Package enrich implements the classify, score and synthesize stages on top
// of a text-classification backend. Backend output is untrusted: every
// categorical answer is checked against its enumeration and replaced by the
// field default when it does not match.
package enrich

import (
	"context"
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrBackendUnavailable is reported when a stage runs without a backend.
var ErrBackendUnavailable = errors.New("enrich: classifier backend unavailable")

// Classifier answers a task prompt about a piece of text with free text.
type Classifier interface {
	Classify(ctx context.Context, text, task string) (string, error)
}

// ClassifierFunc adapts a plain function to Classifier.
type ClassifierFunc func(ctx context.Context, text, task string) (string, error)

// Classify implements Classifier.
func (f ClassifierFunc) Classify(ctx context.Context, text, task string) (string, error) {
	return f(ctx, text, task)
}

// label reduces a free-text answer to a bare token: first non-empty line,
// surrounding quotes, brackets, markdown emphasis and trailing punctuation
// removed.
func label(answer string) string {
	for _, line := range strings.Split(answer, "\n") {
		line = strings.TrimFunc(line, func(r rune) bool {
			return unicode.IsSpace(r) || unicode.IsPunct(r) && r != '_' || unicode.IsSymbol(r)
		})
		if line != "" {
			return line
		}
	}
	return ""
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
