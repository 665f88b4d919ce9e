package enrich

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/linnemanlabs/newsdesk/internal/history"
	"github.com/linnemanlabs/newsdesk/internal/news"
)

// scriptedBackend answers by matching a substring of the task prompt.
type scriptedBackend struct {
	mu      sync.Mutex
	answers map[string]string
	errs    map[string]error
	calls   []string
	texts   []string
}

func (b *scriptedBackend) Classify(_ context.Context, text, task string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, err := range b.errs {
		if strings.Contains(task, key) {
			b.calls = append(b.calls, key)
			return "", err
		}
	}
	for key, ans := range b.answers {
		if strings.Contains(task, key) {
			b.calls = append(b.calls, key)
			b.texts = append(b.texts, text)
			return ans, nil
		}
	}
	return "", errors.New("unscripted task")
}

// task keys
const (
	kTopic  = "into exactly one topic"
	kTicker = "primary company ticker"
	kRegion = "geographic focus"
	kSent   = "Assess the sentiment"
	kImpact = "Rate the market impact"
	kSynth  = "SUMMARY:"
)

type stubHistory struct {
	results []history.Result
	err     error
	queries []string
}

func (h *stubHistory) Retrieve(_ context.Context, q string, _ int) ([]history.Result, error) {
	h.queries = append(h.queries, q)
	return h.results, h.err
}

func testItem() *news.Item {
	return news.NewItem(news.Raw{
		Title:  "Apple beats earnings forecast",
		Body:   "Apple reported record quarterly revenue.",
		Origin: "Reuters",
		URL:    "https://example.com/apple",
	})
}

func TestClassify_Valid(t *testing.T) {
	t.Parallel()

	b := &scriptedBackend{answers: map[string]string{
		kTopic:  "Earnings\n",
		kTicker: "$aapl",
		kRegion: " us.",
	}}
	it := testItem()
	if err := NewClassify(b, []string{"AAPL", "MSFT"}).Apply(context.Background(), it); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if it.Topic != news.TopicEarnings {
		t.Errorf("Topic = %q, want %q", it.Topic, news.TopicEarnings)
	}
	if it.Ticker != "AAPL" {
		t.Errorf("Ticker = %q, want AAPL", it.Ticker)
	}
	if it.Region != news.RegionUS {
		t.Errorf("Region = %q, want US", it.Region)
	}
	if !strings.Contains(b.texts[0], "Apple beats earnings forecast") {
		t.Errorf("classifier text = %q, want title included", b.texts[0])
	}
}

func TestClassify_OutOfEnumTopic(t *testing.T) {
	t.Parallel()

	b := &scriptedBackend{answers: map[string]string{
		kTopic:  "breaking-news!!",
		kTicker: "NVDA",
		kRegion: "Mars",
	}}
	it := testItem()
	if err := NewClassify(b, []string{"AAPL"}).Apply(context.Background(), it); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if it.Topic != news.TopicOther {
		t.Errorf("Topic = %q, want other", it.Topic)
	}
	if it.Ticker != news.UnknownTicker {
		t.Errorf("Ticker = %q, want UNKNOWN for unmonitored ticker", it.Ticker)
	}
	if it.Region != news.RegionGlobal {
		t.Errorf("Region = %q, want GLOBAL", it.Region)
	}
}

func TestClassify_PartialFailure(t *testing.T) {
	t.Parallel()

	b := &scriptedBackend{
		answers: map[string]string{kTopic: "macro", kTicker: "MSFT"},
		errs:    map[string]error{kRegion: errors.New("timeout")},
	}
	it := testItem()
	err := NewClassify(b, []string{"MSFT"}).Apply(context.Background(), it)
	if err == nil {
		t.Fatal("expected degradation error")
	}
	if it.Topic != news.TopicMacro || it.Ticker != "MSFT" {
		t.Errorf("Topic/Ticker = %q/%q, want macro/MSFT kept", it.Topic, it.Ticker)
	}
	if it.Region != news.RegionGlobal {
		t.Errorf("Region = %q, want GLOBAL after failure", it.Region)
	}
}

func TestClassify_NoTickersSkipsCall(t *testing.T) {
	t.Parallel()

	b := &scriptedBackend{answers: map[string]string{kTopic: "other", kRegion: "EU"}}
	it := testItem()
	if err := NewClassify(b, nil).Apply(context.Background(), it); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	for _, c := range b.calls {
		if c == kTicker {
			t.Error("ticker prompt sent with no monitored tickers")
		}
	}
	if it.Ticker != news.UnknownTicker {
		t.Errorf("Ticker = %q, want UNKNOWN", it.Ticker)
	}
}

func TestStages_NilBackend(t *testing.T) {
	t.Parallel()

	it := testItem()
	it.Topic = news.TopicMacro

	if err := NewClassify(nil, []string{"AAPL"}).Apply(context.Background(), it); !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("classify err = %v, want ErrBackendUnavailable", err)
	}
	if it.Topic != news.TopicOther {
		t.Errorf("Topic = %q, want other", it.Topic)
	}

	if err := NewScore(nil).Apply(context.Background(), it); !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("score err = %v, want ErrBackendUnavailable", err)
	}
	if it.Sentiment != news.SentimentNeutral || it.SentimentScore != 0.5 || it.Impact != news.ImpactMedium {
		t.Errorf("score defaults = %q/%v/%q", it.Sentiment, it.SentimentScore, it.Impact)
	}

	if err := NewSynthesize(nil, nil).Apply(context.Background(), it); !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("synthesize err = %v, want ErrBackendUnavailable", err)
	}
	if it.AlertLevel != news.AlertYellow {
		t.Errorf("AlertLevel = %q, want YELLOW on outage", it.AlertLevel)
	}
	if it.Summary != FallbackSummary {
		t.Errorf("Summary = %q, want fallback", it.Summary)
	}
}

func TestParseTopic(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want news.Topic
	}{
		{"earnings", news.TopicEarnings},
		{"  MACRO ", news.TopicMacro},
		{"merger_acquisition", news.TopicMergerAcquisition},
		{"Merger Acquisition", news.TopicMergerAcquisition},
		{"M&A", news.TopicMergerAcquisition},
		{"**regulatory**", news.TopicRegulatory},
		{"breaking-news!!", news.TopicOther},
		{"", news.TopicOther},
	}
	for _, tt := range tests {
		if got := ParseTopic(tt.in); got != tt.want {
			t.Errorf("ParseTopic(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseSentiment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		in        string
		wantLabel news.Sentiment
		wantConf  float64
	}{
		{"plain json", `{"label":"negative","confidence":0.92}`, news.SentimentNegative, 0.92},
		{"fenced", "```json\n{\"label\": \"Positive\", \"confidence\": 0.8}\n```", news.SentimentPositive, 0.8},
		{"prose", `Sure! {"label":"neutral","confidence":0.6} hope this helps`, news.SentimentNeutral, 0.6},
		{"percent", `{"label":"negative","confidence":85}`, news.SentimentNegative, 0.85},
		{"string conf", `{"label":"negative","confidence":"0.7"}`, news.SentimentNegative, 0.7},
		{"clamped", `{"label":"positive","confidence":-3}`, news.SentimentPositive, 0},
		{"too large", `{"label":"positive","confidence":500}`, news.SentimentPositive, 1},
		{"missing conf", `{"label":"positive"}`, news.SentimentPositive, 0.5},
		{"bare label", "negative", news.SentimentNegative, 0.5},
		{"unknown label", `{"label":"bullish","confidence":0.99}`, news.SentimentNeutral, 0.5},
		{"garbage", "¯\\_(ツ)_/¯", news.SentimentNeutral, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			l, c := ParseSentiment(tt.in)
			if l != tt.wantLabel || c != tt.wantConf {
				t.Errorf("ParseSentiment(%q) = %q, %v, want %q, %v", tt.in, l, c, tt.wantLabel, tt.wantConf)
			}
		})
	}
}

func TestScore_Apply(t *testing.T) {
	t.Parallel()

	b := &scriptedBackend{answers: map[string]string{
		kSent:   `{"label":"negative","confidence":0.9}`,
		kImpact: "HIGH",
	}}
	it := testItem()
	it.Ticker = "AAPL"
	if err := NewScore(b).Apply(context.Background(), it); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if it.Sentiment != news.SentimentNegative || it.SentimentScore != 0.9 {
		t.Errorf("sentiment = %q/%v, want negative/0.9", it.Sentiment, it.SentimentScore)
	}
	if it.Impact != news.ImpactHigh {
		t.Errorf("Impact = %q, want high", it.Impact)
	}
	if !strings.Contains(b.texts[1], "Company: AAPL") {
		t.Errorf("impact text = %q, want ticker included", b.texts[1])
	}
}

func TestParseImpact(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]news.Impact{
		"high":       news.ImpactHigh,
		"Low.":       news.ImpactLow,
		"very high":  news.ImpactMedium,
		"":           news.ImpactMedium,
		" medium \n": news.ImpactMedium,
	} {
		if got := ParseImpact(in); got != want {
			t.Errorf("ParseImpact(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseSynthesis(t *testing.T) {
	t.Parallel()

	full := `SUMMARY:
• Apple beat estimates
• Revenue at record
• Guidance raised

HISTORICAL_CONTEXT:
Similar to the 2020 services beat.

ALERT_LEVEL:
RED`
	s, h, l := ParseSynthesis(full)
	if !strings.HasPrefix(s, "• Apple beat estimates") || strings.Contains(s, "HISTORICAL") {
		t.Errorf("summary = %q", s)
	}
	if h != "Similar to the 2020 services beat." {
		t.Errorf("historical = %q", h)
	}
	if l != news.AlertRed {
		t.Errorf("level = %q, want RED", l)
	}

	_, _, l = ParseSynthesis("SUMMARY: x\nALERT_LEVEL: [green] because neutral")
	if l != news.AlertGreen {
		t.Errorf("level = %q, want GREEN", l)
	}

	_, _, l = ParseSynthesis("SUMMARY: x\nALERT_LEVEL: ORANGE")
	if l != news.AlertYellow {
		t.Errorf("level = %q, want YELLOW for out-of-enum", l)
	}

	s, h, l = ParseSynthesis("the model rambled")
	if s != UnparsedSummary || h != UnparsedContext || l != news.AlertYellow {
		t.Errorf("defaults = %q / %q / %q", s, h, l)
	}
}

func TestSynthesize_UsesHistory(t *testing.T) {
	t.Parallel()

	b := &scriptedBackend{answers: map[string]string{
		kSynth: "SUMMARY:\n• a\nHISTORICAL_CONTEXT:\nlike 2008\nALERT_LEVEL:\nGREEN",
	}}
	h := &stubHistory{results: []history.Result{
		{Content: strings.Repeat("z", 300), Source: "2008.txt", Score: 0.9},
	}}
	it := testItem()
	if err := NewSynthesize(b, h).Apply(context.Background(), it); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(h.queries) != 1 || h.queries[0] != it.Title {
		t.Errorf("history queries = %v, want [title]", h.queries)
	}
	prompt := b.texts[0]
	if !strings.Contains(prompt, "Historical Context:\n1. "+strings.Repeat("z", 200)+"...") {
		t.Errorf("prompt missing truncated snippet:\n%s", prompt)
	}
	if it.HistoricalContext != "like 2008" || it.AlertLevel != news.AlertGreen {
		t.Errorf("item = %q / %q", it.HistoricalContext, it.AlertLevel)
	}
}

func TestSynthesize_HistoryFailureIgnored(t *testing.T) {
	t.Parallel()

	b := &scriptedBackend{answers: map[string]string{kSynth: "ALERT_LEVEL: RED"}}
	h := &stubHistory{err: errors.New("db down")}
	it := testItem()
	if err := NewSynthesize(b, h).Apply(context.Background(), it); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if strings.Contains(b.texts[0], "Historical Context") {
		t.Error("prompt should not carry snippets when history fails")
	}
	if it.AlertLevel != news.AlertRed {
		t.Errorf("AlertLevel = %q, want RED", it.AlertLevel)
	}
}

func TestSynthesize_BackendError(t *testing.T) {
	t.Parallel()

	b := &scriptedBackend{errs: map[string]error{kSynth: context.DeadlineExceeded}}
	it := testItem()
	err := NewSynthesize(b, nil).Apply(context.Background(), it)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if it.AlertLevel != news.AlertYellow || it.Summary != FallbackSummary {
		t.Errorf("item = %q / %q, want fallback", it.AlertLevel, it.Summary)
	}
}
