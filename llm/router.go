package llm

import (
	"context"
	"errors"
	"time"
)

// ErrNoClient is returned when no client is configured for a request.
var ErrNoClient = errors.New("no default client configured")

// RoutePolicy decides which client to use for a given request.
type RoutePolicy interface {
	Select(req *ChatRequest) (Client, error)
}

// ModePolicy routes by req.Mode if a client is registered for it, otherwise
// uses Default.
type ModePolicy struct {
	Default Client
	ByMode  map[string]Client
}

// Select picks a client based on the advisor mode or defaults.
func (p ModePolicy) Select(req *ChatRequest) (Client, error) {
	if req != nil && req.Mode != "" {
		if c, ok := p.ByMode[req.Mode]; ok && c != nil {
			return c, nil
		}
	}
	if p.Default == nil {
		return nil, ErrNoClient
	}
	return p.Default, nil
}

// RouterConfig controls router behavior like timeouts and fallback.
type RouterConfig struct {
	// Timeout applies when the incoming context has no deadline.
	Timeout time.Duration
	// Fallback is used once when the primary selection fails to open a stream.
	Fallback Client
}

// RouterClient implements Client and delegates via RoutePolicy.
type RouterClient struct {
	policy RoutePolicy
	cfg    RouterConfig
}

// NewRouterClient creates a router client with the given policy.
func NewRouterClient(policy RoutePolicy, cfg RouterConfig) *RouterClient {
	return &RouterClient{policy: policy, cfg: cfg}
}

// ChatStream delegates to the selected client. The timeout, if any, spans
// the whole stream and is released when the stream is closed.
func (r *RouterClient) ChatStream(ctx context.Context, req *ChatRequest) (Stream, error) {
	c, err := r.policy.Select(req)
	if err != nil {
		return nil, err
	}
	ctx, cancel := r.withTimeout(ctx)
	s, err := c.ChatStream(ctx, req)
	if err != nil && r.cfg.Fallback != nil && c != r.cfg.Fallback {
		s, err = r.cfg.Fallback.ChatStream(ctx, req)
	}
	if err != nil {
		cancel()
		return nil, err
	}
	return &cancelStream{Stream: s, cancel: cancel}, nil
}

func (r *RouterClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || r.cfg.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.cfg.Timeout)
}

// Model returns an identifier for this client.
func (r *RouterClient) Model() string { return "router" }

type cancelStream struct {
	Stream
	cancel context.CancelFunc
}

func (s *cancelStream) Close() error {
	err := s.Stream.Close()
	s.cancel()
	return err
}
