package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/linnemanlabs/newsdesk/internal/news"
)

const scoreBodyLen = 500

const sentimentTask = `Assess the sentiment of the following financial news article toward its subject.
Respond with only a JSON object of the form
{"label": "positive" | "neutral" | "negative", "confidence": <number between 0 and 1>}`

const impactTask = `Rate the market impact of the following financial news article.
- high: major earnings surprises, large mergers or acquisitions, regulatory changes, macroeconomic shocks
- medium: routine earnings, moderate partnerships, standard economic data
- low: routine news, minor updates, speculation

Respond with only one word: high, medium or low.`

// Score assigns sentiment, sentiment confidence and market impact.
type Score struct {
	backend Classifier
}

// NewScore creates the score stage.
func NewScore(backend Classifier) *Score {
	return &Score{backend: backend}
}

// Name implements pipeline.Stage.
func (s *Score) Name() string { return "score" }

// Fallback implements pipeline.Stage.
func (s *Score) Fallback(it *news.Item) {
	it.Sentiment = news.SentimentNeutral
	it.SentimentScore = news.DefaultSentimentScore
	it.Impact = news.ImpactMedium
}

// Apply implements pipeline.Stage.
func (s *Score) Apply(ctx context.Context, it *news.Item) error {
	if s.backend == nil {
		s.Fallback(it)
		return ErrBackendUnavailable
	}
	var errs []error

	text := articleText(it, scoreBodyLen)
	ans, err := s.backend.Classify(ctx, text, sentimentTask)
	if err != nil {
		errs = append(errs, fmt.Errorf("sentiment: %w", err))
	}
	it.Sentiment, it.SentimentScore = ParseSentiment(ans)

	impactText := fmt.Sprintf("%s\nCompany: %s\nTopic: %s", text, it.Ticker, it.Topic)
	ans, err = s.backend.Classify(ctx, impactText, impactTask)
	if err != nil {
		errs = append(errs, fmt.Errorf("impact: %w", err))
	}
	it.Impact = ParseImpact(ans)

	return errors.Join(errs...)
}

type sentimentAnswer struct {
	Label      string          `json:"label"`
	Confidence json.RawMessage `json:"confidence"`
}

// ParseSentiment reads a sentiment answer. JSON inside code fences or prose
// is accepted, as is a bare label. Unknown labels give neutral at 0.5;
// confidence is clamped to [0, 1].
func ParseSentiment(answer string) (news.Sentiment, float64) {
	var a sentimentAnswer
	if err := json.Unmarshal([]byte(cleanJSON(answer)), &a); err != nil {
		a = sentimentAnswer{Label: answer}
	}

	sent := news.Sentiment(strings.ToLower(label(a.Label)))
	if !news.IsSentiment(sent) {
		return news.SentimentNeutral, news.DefaultSentimentScore
	}

	conf, ok := parseConfidence(a.Confidence)
	if !ok {
		conf = news.DefaultSentimentScore
	}
	return sent, conf
}

func parseConfidence(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "%")
		if f, err = strconv.ParseFloat(s, 64); err != nil {
			return 0, false
		}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	// percentages
	if f > 1 && f <= 100 {
		f /= 100
	}
	return min(max(f, 0), 1), true
}

// ParseImpact maps a backend answer onto an Impact, defaulting to medium.
func ParseImpact(answer string) news.Impact {
	if i := news.Impact(strings.ToLower(label(answer))); news.IsImpact(i) {
		return i
	}
	return news.ImpactMedium
}

// cleanJSON strips code fences and any prose around the outermost object.
func cleanJSON(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		content = content[start : end+1]
	}
	return content
}
