// Package slack posts run alert digests to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/newsdesk/internal/news"
	"github.com/linnemanlabs/newsdesk/internal/pipeline"
)

const (
	maxAlerts     = 10
	maxSummaryLen = 600
	httpTimeout   = 10 * time.Second
)

// Notifier sends run alerts to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout:   httpTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

// Send posts a digest of the run's alerts to the configured Slack webhook.
// Runs without alerts and an unconfigured webhook are both no-ops.
func (n *Notifier) Send(ctx context.Context, result *pipeline.RunResult) error {
	if n.webhookURL == "" || result == nil || len(result.Alerts) == 0 {
		return nil
	}

	body, err := json.Marshal(buildMessage(result))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	n.logger.Info(ctx, "slack digest sent", "run_id", result.ID, "alerts", len(result.Alerts))
	return nil
}

func buildMessage(r *pipeline.RunResult) map[string]any {
	blocks := []map[string]any{
		headerBlock(r),
		fieldsBlock(r),
		{"type": "divider"},
	}
	for i, a := range r.Alerts {
		if i == maxAlerts {
			blocks = append(blocks, moreBlock(len(r.Alerts)-maxAlerts))
			break
		}
		blocks = append(blocks, alertBlock(a))
	}
	blocks = append(blocks, map[string]any{"type": "divider"}, contextBlock(r))

	return map[string]any{
		"text":   fmt.Sprintf("%d news alerts", len(r.Alerts)),
		"blocks": blocks,
	}
}

func headerBlock(r *pipeline.RunResult) map[string]any {
	red, _ := countLevels(r.Alerts)
	emoji := levelEmoji(news.AlertYellow)
	if red > 0 {
		emoji = levelEmoji(news.AlertRed)
	}
	noun := "Alerts"
	if len(r.Alerts) == 1 {
		noun = "Alert"
	}

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": fmt.Sprintf("%s %d News %s", emoji, len(r.Alerts), noun),
		},
	}
}

func fieldsBlock(r *pipeline.RunResult) map[string]any {
	red, yellow := countLevels(r.Alerts)
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Status:* %s", r.Status),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Articles:* %d", r.TotalCount),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*RED:* %d", red),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*YELLOW:* %d", yellow),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Duration:* %.1fs", r.Duration),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Degraded stages:* %d", r.Degraded),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func alertBlock(a news.Alert) map[string]any {
	title := a.Title
	if a.URL != "" {
		title = fmt.Sprintf("<%s|%s>", a.URL, a.Title)
	}
	verified := "unverified"
	if a.Verified {
		verified = "verified"
	}
	text := fmt.Sprintf("%s *%s*\n%s • %s • %s impact • %s\n%s",
		levelEmoji(a.AlertLevel), title,
		a.Ticker, a.Sentiment, a.Impact, verified,
		truncate(a.Summary, maxSummaryLen))

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": text,
		},
	}
}

func moreBlock(n int) map[string]any {
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{"type": "mrkdwn", "text": fmt.Sprintf("_and %d more_", n)},
		},
	}
}

func contextBlock(r *pipeline.RunResult) map[string]any {
	ts := r.CompletedAt
	if ts.IsZero() {
		ts = r.StartedAt
	}

	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{
				"type": "mrkdwn",
				"text": fmt.Sprintf("newsdesk • run %s • %s", r.ID, ts.UTC().Format("2006-01-02 15:04 UTC")),
			},
		},
	}
}

func countLevels(alerts []news.Alert) (red, yellow int) {
	for _, a := range alerts {
		switch a.AlertLevel {
		case news.AlertRed:
			red++
		case news.AlertYellow:
			yellow++
		}
	}
	return red, yellow
}

func levelEmoji(level news.AlertLevel) string {
	switch level {
	case news.AlertRed:
		return "\U0001f534" // red circle
	case news.AlertYellow:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
