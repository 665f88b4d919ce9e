package enrich

import (
	"context"
	"fmt"
	"strings"

	"github.com/linnemanlabs/newsdesk/internal/history"
	"github.com/linnemanlabs/newsdesk/internal/news"
)

const (
	synthBodyLen    = 500
	snippetLen      = 200
	historySnippets = 3
)

// Text written when the section is missing from an otherwise usable answer.
const (
	UnparsedSummary = "• Summary could not be parsed from the model response"
	UnparsedContext = "Historical context could not be parsed"
)

// Text written when synthesis could not run at all.
const (
	FallbackSummary = "• Summary unavailable\n• Synthesis backend could not be reached"
	FallbackContext = "Historical context unavailable"
)

const synthesisTask = `Analyze the financial news article below and respond in exactly this format:

SUMMARY:
• <first key point>
• <second key point>
• <third key point>

HISTORICAL_CONTEXT:
<one sentence linking this to similar past events or patterns>

ALERT_LEVEL:
<RED, YELLOW or GREEN>

Alert level rules:
- RED: negative sentiment and high market impact
- YELLOW: negative sentiment and medium market impact
- GREEN: positive or neutral sentiment, or low impact`

// Synthesize writes summary, historical context and alert level.
type Synthesize struct {
	backend Classifier
	history history.Retriever
}

// NewSynthesize creates the synthesize stage. hist may be nil.
func NewSynthesize(backend Classifier, hist history.Retriever) *Synthesize {
	return &Synthesize{backend: backend, history: hist}
}

// Name implements pipeline.Stage.
func (s *Synthesize) Name() string { return "synthesize" }

// Fallback implements pipeline.Stage. The alert level is YELLOW so that an
// outage still surfaces in the alert list.
func (s *Synthesize) Fallback(it *news.Item) {
	it.Summary = FallbackSummary
	it.HistoricalContext = FallbackContext
	it.AlertLevel = news.AlertYellow
}

// Apply implements pipeline.Stage. A failed history lookup only drops the
// snippets from the prompt.
func (s *Synthesize) Apply(ctx context.Context, it *news.Item) error {
	if s.backend == nil {
		s.Fallback(it)
		return ErrBackendUnavailable
	}

	var snippets []history.Result
	if s.history != nil && strings.TrimSpace(it.Title) != "" {
		if res, err := s.history.Retrieve(ctx, it.Title, historySnippets); err == nil {
			snippets = res
		}
	}

	ans, err := s.backend.Classify(ctx, synthesisPrompt(it, snippets), synthesisTask)
	if err != nil {
		s.Fallback(it)
		return fmt.Errorf("synthesis: %w", err)
	}
	it.Summary, it.HistoricalContext, it.AlertLevel = ParseSynthesis(ans)
	return nil
}

func synthesisPrompt(it *news.Item, snippets []history.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Article Title: %s\n", it.Title)
	fmt.Fprintf(&b, "Content: %s\n", truncate(it.Body, synthBodyLen))
	fmt.Fprintf(&b, "Company: %s\n", it.Ticker)
	fmt.Fprintf(&b, "Topic: %s\n", it.Topic)
	fmt.Fprintf(&b, "Sentiment: %s\n", it.Sentiment)
	fmt.Fprintf(&b, "Market Impact: %s\n", it.Impact)
	if len(snippets) > 0 {
		b.WriteString("\nHistorical Context:\n")
		for i, r := range snippets {
			if i == historySnippets {
				break
			}
			fmt.Fprintf(&b, "%d. %s...\n", i+1, truncate(r.Content, snippetLen))
		}
	}
	return b.String()
}

const (
	summaryMarker = "SUMMARY:"
	contextMarker = "HISTORICAL_CONTEXT:"
	alertMarker   = "ALERT_LEVEL:"
)

// ParseSynthesis splits a synthesis answer into its sections. Missing
// sections get fixed defaults and an alert level outside RED, YELLOW, GREEN
// becomes YELLOW.
func ParseSynthesis(answer string) (summary, historical string, level news.AlertLevel) {
	summary, historical, level = UnparsedSummary, UnparsedContext, news.AlertYellow

	if s := section(answer, summaryMarker, contextMarker, alertMarker); s != "" {
		summary = s
	}
	if s := section(answer, contextMarker, alertMarker); s != "" {
		historical = s
	}
	if s := section(answer, alertMarker); s != "" {
		if l := news.AlertLevel(strings.ToUpper(label(firstWord(s)))); news.IsAlertLevel(l) {
			level = l
		}
	}
	return summary, historical, level
}

// section returns the trimmed text after marker up to the earliest of the
// end markers, or "" when marker is absent.
func section(text, marker string, ends ...string) string {
	i := strings.Index(text, marker)
	if i < 0 {
		return ""
	}
	rest := text[i+len(marker):]
	cut := len(rest)
	for _, e := range ends {
		if j := strings.Index(rest, e); j >= 0 && j < cut {
			cut = j
		}
	}
	return strings.TrimSpace(rest[:cut])
}

func firstWord(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return ""
}
