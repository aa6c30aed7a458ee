package observability

import (
	"context"
	"time"
)

// Hooks provides optional callbacks for logging and lifecycle tracking without
// introducing dependencies in the core packages. All functions are optional.
type Hooks struct {
	// Logf logs a structured message with a severity level and key-value fields.
	Logf func(ctx context.Context, level string, msg string, fields map[string]any)

	// OnTurnState is called on every turn state transition.
	OnTurnState func(ctx context.Context, epoch uint64, state string)
	// OnFrameDropped is called when an unparseable payload is abandoned.
	OnFrameDropped func(ctx context.Context, payloadBytes int, lines int)
	// OnReserve is called after a credit reservation attempt settles.
	OnReserve func(ctx context.Context, mode string, cost int, granted bool, err error)
	// OnPersist is called after a session save attempt.
	OnPersist func(ctx context.Context, sessionID string, latency time.Duration, err error)

	// OnLLMRequest is called before a provider request is sent.
	OnLLMRequest func(ctx context.Context, provider string, model string, meta map[string]any)
	// OnLLMResponse is called after a provider response is received.
	OnLLMResponse func(ctx context.Context, provider string, model string, latency time.Duration, meta map[string]any)
}

// SafeLog logs if Logf is configured.
func (h *Hooks) SafeLog(ctx context.Context, level string, msg string, fields map[string]any) {
	if h != nil && h.Logf != nil {
		h.Logf(ctx, level, msg, fields)
	}
}

// SafeTurnState invokes OnTurnState if configured.
func (h *Hooks) SafeTurnState(ctx context.Context, epoch uint64, state string) {
	if h != nil && h.OnTurnState != nil {
		h.OnTurnState(ctx, epoch, state)
	}
}

// SafeFrameDropped invokes OnFrameDropped if configured.
func (h *Hooks) SafeFrameDropped(ctx context.Context, payloadBytes int, lines int) {
	if h != nil && h.OnFrameDropped != nil {
		h.OnFrameDropped(ctx, payloadBytes, lines)
	}
}

// SafeReserve invokes OnReserve if configured.
func (h *Hooks) SafeReserve(ctx context.Context, mode string, cost int, granted bool, err error) {
	if h != nil && h.OnReserve != nil {
		h.OnReserve(ctx, mode, cost, granted, err)
	}
}

// SafePersist invokes OnPersist if configured.
func (h *Hooks) SafePersist(ctx context.Context, sessionID string, latency time.Duration, err error) {
	if h != nil && h.OnPersist != nil {
		h.OnPersist(ctx, sessionID, latency, err)
	}
}

// SafeLLMRequest invokes OnLLMRequest if configured.
func (h *Hooks) SafeLLMRequest(ctx context.Context, provider string, model string, meta map[string]any) {
	if h != nil && h.OnLLMRequest != nil {
		h.OnLLMRequest(ctx, provider, model, meta)
	}
}

// SafeLLMResponse invokes OnLLMResponse if configured.
func (h *Hooks) SafeLLMResponse(ctx context.Context, provider string, model string, latency time.Duration, meta map[string]any) {
	if h != nil && h.OnLLMResponse != nil {
		h.OnLLMResponse(ctx, provider, model, latency, meta)
	}
}
