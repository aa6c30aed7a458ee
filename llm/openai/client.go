// Package openai streams advisor completions from the OpenAI chat API.
package openai

import (
	"context"
	"net/http"
	"time"

	base "github.com/KamdynS/advisor/llm"
	"github.com/KamdynS/advisor/observability"
	oa "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

// Client implements llm.Client for the OpenAI official SDK.
type Client struct {
	client oa.Client
	cfg    Config
}

// Config configures the OpenAI client.
type Config struct {
	APIKey       string
	Model        string
	BaseURL      string
	Temperature  float64
	MaxTokens    int
	Timeout      time.Duration
	Organization string
	Hooks        *observability.Hooks
}

// NewClient creates an OpenAI client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	opts := []option.RequestOption{option.WithHTTPClient(httpClient)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Organization != "" {
		opts = append(opts, option.WithOrganization(cfg.Organization))
	}
	c := oa.NewClient(opts...)
	return &Client{client: c, cfg: cfg}, nil
}

func (c *Client) Model() string { return c.cfg.Model }

// ChatStream implements provider-neutral delta streaming for OpenAI.
func (c *Client) ChatStream(ctx context.Context, req *base.ChatRequest) (base.Stream, error) {
	params := c.params(req)
	c.cfg.Hooks.SafeLLMRequest(ctx, "openai", string(params.Model), map[string]any{"operation": "chat_stream", "mode": req.Mode})
	s := c.client.Chat.Completions.NewStreaming(ctx, params)
	return &oaStreamWrapper{inner: s, provider: "openai", model: string(params.Model), hooks: c.cfg.Hooks, start: time.Now()}, nil
}

func (c *Client) params(req *base.ChatRequest) oa.ChatCompletionNewParams {
	params := oa.ChatCompletionNewParams{Messages: toOAMessages(req)}
	if m := base.PickModel(req, c.cfg.Model); m != "" {
		params.Model = shared.ChatModel(m)
	}
	maxTokens := c.cfg.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	if maxTokens > 0 {
		params.MaxTokens = oa.Int(int64(maxTokens))
	}
	if c.cfg.Temperature > 0 {
		params.Temperature = oa.Float(c.cfg.Temperature)
	}
	return params
}

type oaStreamWrapper struct {
	inner    oaStreamCore
	provider string
	model    string
	hooks    *observability.Hooks
	start    time.Time
	closed   bool
}

// oaStreamCore matches the subset of the OpenAI stream API we use.
type oaStreamCore interface {
	Next() bool
	Current() oa.ChatCompletionChunk
	Err() error
	Close() error
}

func (w *oaStreamWrapper) Recv(ctx context.Context) (base.Delta, error) {
	if w.closed {
		return base.Delta{}, base.ErrStreamClosed
	}
	if !w.inner.Next() {
		err := w.inner.Err()
		w.hooks.SafeLLMResponse(ctx, w.provider, w.model, time.Since(w.start), map[string]any{"operation": "chat_stream", "error": err != nil})
		if err != nil {
			return base.Delta{}, err
		}
		w.closed = true
		return base.Delta{Type: base.DeltaTypeDone, Provider: w.provider, Model: w.model}, nil
	}
	ev := w.inner.Current()
	for _, ch := range ev.Choices {
		if ch.Delta.Content != "" {
			return base.Delta{Type: base.DeltaTypeText, Text: ch.Delta.Content, Provider: w.provider, Model: w.model}, nil
		}
	}
	// Role-only and usage chunks carry no text.
	return base.Delta{}, nil
}

func (w *oaStreamWrapper) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.inner.Close()
}

func toOAMessages(req *base.ChatRequest) []oa.ChatCompletionMessageParamUnion {
	msgs := make([]oa.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, oa.ChatCompletionMessageParamUnion{OfSystem: &oa.ChatCompletionSystemMessageParam{Content: oa.ChatCompletionSystemMessageParamContentUnion{OfString: oa.String(req.SystemPrompt)}}})
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "assistant":
			msgs = append(msgs, oa.ChatCompletionMessageParamUnion{OfAssistant: &oa.ChatCompletionAssistantMessageParam{Content: oa.ChatCompletionAssistantMessageParamContentUnion{OfString: oa.String(m.Content)}}})
		default:
			msgs = append(msgs, oa.ChatCompletionMessageParamUnion{OfUser: &oa.ChatCompletionUserMessageParam{Content: oa.ChatCompletionUserMessageParamContentUnion{OfString: oa.String(m.Content)}}})
		}
	}
	return msgs
}
