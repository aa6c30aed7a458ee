package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/KamdynS/advisor/llm"
	"github.com/KamdynS/advisor/observability"
)

// WireMessage is one history entry in a stream request.
type WireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamRequest is the body POSTed to the generation backend.
type StreamRequest struct {
	Messages []WireMessage `json:"messages"`
	Mode     string        `json:"mode"`
}

// Transport opens the generation stream for one turn. The returned body is
// read until EOF or until the turn ends, then closed by the caller.
type Transport interface {
	Open(ctx context.Context, req *StreamRequest) (io.ReadCloser, error)
}

// TransportError reports a stream request that failed outright or returned a
// non-success status. StatusCode is zero for network failures.
type TransportError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("stream request failed with status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("stream request failed: %s", e.Message)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Temporary reports whether retrying the request may succeed.
func (e *TransportError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// HTTPConfig configures HTTPTransport.
type HTTPConfig struct {
	// Required: endpoint that serves the framed stream
	URL string
	// Token is sent as a bearer credential when set.
	Token string
	// HeaderTimeout bounds the wait for response headers; the body itself is
	// unbounded. 0 means 30s.
	HeaderTimeout time.Duration
	// Retry applies to opening the stream only.
	Retry      llm.RetryConfig
	HTTPClient *http.Client
	Hooks      *observability.Hooks
}

// HTTPTransport POSTs StreamRequests as JSON and returns the response body.
type HTTPTransport struct {
	cfg     HTTPConfig
	client  *http.Client
	retrier *llm.Retrier
}

var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport creates an HTTP transport.
func NewHTTPTransport(cfg HTTPConfig) (*HTTPTransport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("URL is required")
	}
	if cfg.HeaderTimeout == 0 {
		cfg.HeaderTimeout = 30 * time.Second
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = llm.DefaultRetryConfig()
	}
	client := cfg.HTTPClient
	if client == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.ResponseHeaderTimeout = cfg.HeaderTimeout
		client = &http.Client{Transport: tr}
	}
	retrier := llm.NewRetrier(cfg.Retry).RetryIf(func(err error) bool {
		var te *TransportError
		return errors.As(err, &te) && te.Temporary()
	})
	return &HTTPTransport{cfg: cfg, client: client, retrier: retrier}, nil
}

// Open implements Transport.
func (t *HTTPTransport) Open(ctx context.Context, sr *StreamRequest) (io.ReadCloser, error) {
	body, err := json.Marshal(sr)
	if err != nil {
		return nil, fmt.Errorf("marshal stream request: %w", err)
	}
	start := time.Now()
	t.cfg.Hooks.SafeLLMRequest(ctx, "http", sr.Mode, map[string]any{"url": t.cfg.URL, "messages": len(sr.Messages)})

	var rc io.ReadCloser
	attempt := 0
	err = t.retrier.Do(ctx, func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build stream request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")
		if t.cfg.Token != "" {
			req.Header.Set("Authorization", "Bearer "+t.cfg.Token)
		}
		resp, err := t.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &TransportError{Message: err.Error(), Err: err}
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			defer resp.Body.Close()
			return &TransportError{StatusCode: resp.StatusCode, Message: errorMessage(resp)}
		}
		rc = resp.Body
		return nil
	})
	t.cfg.Hooks.SafeLLMResponse(ctx, "http", sr.Mode, time.Since(start), map[string]any{"attempts": attempt, "error": err != nil})
	if err != nil {
		return nil, err
	}
	return rc, nil
}

// errorMessage extracts {"error": "..."} from a failed response, falling back
// to the status text.
func errorMessage(resp *http.Response) string {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if msg := gjson.GetBytes(b, "error"); msg.Type == gjson.String && msg.Str != "" {
		return msg.Str
	}
	if msg := gjson.GetBytes(b, "error.message"); msg.Exists() {
		return msg.String()
	}
	return http.StatusText(resp.StatusCode)
}
