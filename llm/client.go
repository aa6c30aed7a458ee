package llm

import (
	"context"
	"time"
)

// Client is the provider-agnostic interface the relay streams completions from.
type Client interface {
	// ChatStream starts a completion and returns its deltas.
	ChatStream(ctx context.Context, req *ChatRequest) (Stream, error)
	Model() string
}

// Message represents a single role/content entry in a chat.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the normalized chat request sent to providers.
type ChatRequest struct {
	Messages     []Message `json:"messages"`
	Model        string    `json:"model,omitempty"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	// Mode is the advisor mode tag; routers may select a provider by it.
	Mode      string `json:"mode,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// RetryConfig controls retry behavior for network/provider errors.
type RetryConfig struct {
	MaxRetries    int           `json:"max_retries" toml:"max_retries"`
	InitialDelay  time.Duration `json:"initial_delay" toml:"initial_delay"`
	MaxDelay      time.Duration `json:"max_delay" toml:"max_delay"`
	BackoffFactor float64       `json:"backoff_factor" toml:"backoff_factor"`
}

// DefaultRetryConfig returns sane defaults for provider retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}
}

// PickModel returns req.Model when set, otherwise fallback.
func PickModel(req *ChatRequest, fallback string) string {
	if req != nil && req.Model != "" {
		return req.Model
	}
	return fallback
}
