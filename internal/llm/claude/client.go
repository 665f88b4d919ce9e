// Package claude implements the enrichment classifier backend on the
// Anthropic Messages API.
package claude

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/linnemanlabs/newsdesk/internal/llm/claude")

const (
	DefaultModel     = "claude-haiku-4-5"
	DefaultMaxTokens = 512
	DefaultTimeout   = 30 * time.Second
	temperature      = 0.1
)

// ErrEmptyResponse is returned when the model answers with no text.
var ErrEmptyResponse = errors.New("claude: empty response")

// CallObserver is told about every API call (wired by main for Prometheus).
type CallObserver func(inputTokens, outputTokens int64, duration float64, err error)

// Options tunes a Client. Zero values pick the defaults.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	MaxTokens  int64
	Observer   CallObserver
}

// Client classifies text with a Claude model.
type Client struct {
	api       anthropic.Client
	model     anthropic.Model
	maxTokens int64
	observe   CallObserver
}

// New creates a Client for the given API key and model name.
func New(apiKey, model string, opts Options) *Client {
	if model == "" {
		model = DefaultModel
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(opts.Timeout),
		option.WithMaxRetries(max(opts.MaxRetries, 0)),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}

	return &Client{
		api:       anthropic.NewClient(reqOpts...),
		model:     anthropic.Model(model),
		maxTokens: opts.MaxTokens,
		observe:   opts.Observer,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return string(c.model) }

// Classify sends task as the system prompt and text as the user message and
// returns the model's text answer.
func (c *Client) Classify(ctx context.Context, text, task string) (string, error) {
	ctx, span := tracer.Start(ctx, "llm.call", trace.WithAttributes(
		attribute.String("gen_ai.system", "anthropic"),
		attribute.String("gen_ai.operation.name", "classify"),
		attribute.String("gen_ai.request.model", string(c.model)),
		attribute.Int64("gen_ai.request.max_tokens", c.maxTokens),
	))
	defer span.End()

	start := time.Now()
	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(temperature),
		System: []anthropic.TextBlockParam{
			{Text: task},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	})
	dur := time.Since(start).Seconds()

	if err != nil {
		err = fmt.Errorf("claude: messages.new: %w", err)
		c.report(0, 0, dur, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	span.SetAttributes(
		attribute.String("gen_ai.response.model", string(msg.Model)),
		attribute.Int64("gen_ai.usage.input_tokens", msg.Usage.InputTokens),
		attribute.Int64("gen_ai.usage.output_tokens", msg.Usage.OutputTokens),
		attribute.String("gen_ai.response.finish_reason", string(msg.StopReason)),
	)

	answer := responseText(msg)
	if answer == "" {
		err = ErrEmptyResponse
		span.SetStatus(codes.Error, err.Error())
	}
	c.report(msg.Usage.InputTokens, msg.Usage.OutputTokens, dur, err)
	return answer, err
}

func (c *Client) report(in, out int64, dur float64, err error) {
	if c.observe != nil {
		c.observe(in, out, dur, err)
	}
}

// responseText joins the text blocks of a response.
func responseText(msg *anthropic.Message) string {
	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}
