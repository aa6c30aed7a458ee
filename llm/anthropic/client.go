// Package anthropic streams advisor completions from the Claude Messages API.
package anthropic

import (
	"context"
	"net/http"
	"time"

	base "github.com/KamdynS/advisor/llm"
	"github.com/KamdynS/advisor/observability"
	anth "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Client implements llm.Client for the Anthropic Messages API.
type Client struct {
	client  anth.Client
	cfg     Config
	retrier *base.Retrier
}

// Config configures the Anthropic client.
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	Retry       base.RetryConfig
	// SingleShot uses one non-streaming call and replays it as a stream.
	SingleShot bool
	Hooks      *observability.Hooks
}

// NewClient creates an Anthropic client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Model == "" {
		cfg.Model = "claude-3-5-haiku-latest"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = base.DefaultRetryConfig()
	}

	opts := []option.RequestOption{}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}
	c := anth.NewClient(opts...)
	return &Client{client: c, cfg: cfg, retrier: base.NewRetrier(cfg.Retry)}, nil
}

func (c *Client) Model() string { return c.cfg.Model }

// ChatStream streams message events, or replays a single Messages.New call
// when SingleShot is set.
func (c *Client) ChatStream(ctx context.Context, req *base.ChatRequest) (base.Stream, error) {
	params := toAnthParams(req, c.cfg)
	model := string(params.Model)
	c.cfg.Hooks.SafeLLMRequest(ctx, "anthropic", model, map[string]any{"operation": "chat_stream", "mode": req.Mode, "single_shot": c.cfg.SingleShot})
	start := time.Now()
	if !c.cfg.SingleShot {
		s := c.client.Messages.NewStreaming(ctx, params)
		return &anthStreamWrapper{inner: s, model: model, hooks: c.cfg.Hooks, start: start}, nil
	}

	var out *anth.Message
	err := c.retrier.Do(ctx, func() error {
		resp, err := c.client.Messages.New(ctx, params)
		if err != nil {
			return err
		}
		out = resp
		return nil
	})
	c.cfg.Hooks.SafeLLMResponse(ctx, "anthropic", model, time.Since(start), map[string]any{"operation": "chat_stream", "single_shot": true, "error": err != nil})
	if err != nil {
		return nil, err
	}
	return base.NewTextStream("anthropic", model, textOf(out)), nil
}

// anthStreamCore matches the subset of the SDK event stream we use.
type anthStreamCore interface {
	Next() bool
	Current() anth.MessageStreamEventUnion
	Err() error
	Close() error
}

type anthStreamWrapper struct {
	inner  anthStreamCore
	model  string
	hooks  *observability.Hooks
	start  time.Time
	closed bool
}

func (w *anthStreamWrapper) Recv(ctx context.Context) (base.Delta, error) {
	if w.closed {
		return base.Delta{}, base.ErrStreamClosed
	}
	if !w.inner.Next() {
		err := w.inner.Err()
		w.hooks.SafeLLMResponse(ctx, "anthropic", w.model, time.Since(w.start), map[string]any{"operation": "chat_stream", "error": err != nil})
		if err != nil {
			return base.Delta{}, err
		}
		w.closed = true
		return base.Delta{Type: base.DeltaTypeDone, Provider: "anthropic", Model: w.model}, nil
	}
	switch ev := w.inner.Current().AsAny().(type) {
	case anth.ContentBlockDeltaEvent:
		if td, ok := ev.Delta.AsAny().(anth.TextDelta); ok && td.Text != "" {
			return base.Delta{Type: base.DeltaTypeText, Text: td.Text, Provider: "anthropic", Model: w.model}, nil
		}
	case anth.MessageStopEvent:
		w.hooks.SafeLLMResponse(ctx, "anthropic", w.model, time.Since(w.start), map[string]any{"operation": "chat_stream", "error": false})
		w.closed = true
		return base.Delta{Type: base.DeltaTypeDone, Provider: "anthropic", Model: w.model}, nil
	}
	return base.Delta{}, nil
}

func (w *anthStreamWrapper) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.inner.Close()
}

func toAnthParams(req *base.ChatRequest, cfg Config) anth.MessageNewParams {
	msgs := make([]anth.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := anth.MessageParamRoleUser
		if m.Role == "assistant" {
			role = anth.MessageParamRoleAssistant
		}
		msgs = append(msgs, anth.MessageParam{
			Role: role,
			Content: []anth.ContentBlockParamUnion{{
				OfText: &anth.TextBlockParam{Text: m.Content},
			}},
		})
	}
	maxTokens := cfg.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	params := anth.MessageNewParams{
		Messages:  msgs,
		MaxTokens: int64(maxTokens),
		Model:     anth.Model(base.PickModel(req, cfg.Model)),
	}
	if req.SystemPrompt != "" {
		params.System = []anth.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if cfg.Temperature > 0 {
		params.Temperature = anth.Float(cfg.Temperature)
	}
	return params
}

func textOf(m *anth.Message) string {
	if m == nil {
		return ""
	}
	var content string
	for _, c := range m.Content {
		if c.Text != "" {
			content += c.Text
		}
	}
	return content
}
