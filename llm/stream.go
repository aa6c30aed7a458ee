package llm

import (
	"context"
	"errors"
	"strings"
)

// DeltaType identifies the kind of streaming event emitted by a provider.
type DeltaType string

const (
	DeltaTypeText DeltaType = "text"
	DeltaTypeDone DeltaType = "done"
)

// Delta is a provider-neutral streaming event. A zero Delta carries nothing
// and callers should keep receiving.
type Delta struct {
	Type DeltaType `json:"type"`
	Text string    `json:"text,omitempty"`
	// Provider/model are optional hints for observability
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

// Stream provides a pull-based API over provider event streams.
// Implementations return (Delta{Type: DeltaTypeDone}, nil) when complete.
type Stream interface {
	Recv(ctx context.Context) (Delta, error)
	Close() error
}

// ErrStreamClosed indicates Recv was called after Close or terminal event.
var ErrStreamClosed = errors.New("stream closed")

// TextStream replays fixed chunks followed by done.
type TextStream struct {
	chunks   []string
	provider string
	model    string
	closed   bool
}

// NewTextStream returns a stream emitting each non-empty chunk as a text delta.
func NewTextStream(provider, model string, chunks ...string) *TextStream {
	return &TextStream{chunks: chunks, provider: provider, model: model}
}

func (s *TextStream) Recv(ctx context.Context) (Delta, error) {
	if s.closed {
		return Delta{}, ErrStreamClosed
	}
	if err := ctx.Err(); err != nil {
		return Delta{}, err
	}
	for len(s.chunks) > 0 {
		c := s.chunks[0]
		s.chunks = s.chunks[1:]
		if c != "" {
			return Delta{Type: DeltaTypeText, Text: c, Provider: s.provider, Model: s.model}, nil
		}
	}
	s.closed = true
	return Delta{Type: DeltaTypeDone, Provider: s.provider, Model: s.model}, nil
}

func (s *TextStream) Close() error { s.closed = true; return nil }

// Collect drains s and returns the concatenated text.
func Collect(ctx context.Context, s Stream) (string, error) {
	defer s.Close()
	var b strings.Builder
	for {
		d, err := s.Recv(ctx)
		if err != nil {
			return b.String(), err
		}
		switch d.Type {
		case DeltaTypeText:
			b.WriteString(d.Text)
		case DeltaTypeDone:
			return b.String(), nil
		}
	}
}
