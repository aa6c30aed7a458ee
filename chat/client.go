// Package chat runs conversational turns: admission against the credit gate,
// streaming through the decoder, parser and assembler, and hand-off of the
// settled conversation to the session coordinator.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/KamdynS/advisor/assembler"
	"github.com/KamdynS/advisor/conversation"
	"github.com/KamdynS/advisor/credit"
	"github.com/KamdynS/advisor/frame"
	"github.com/KamdynS/advisor/observability"
	"github.com/KamdynS/advisor/session"
	"github.com/KamdynS/advisor/stream"
)

// Input bounds, counted in runes after trimming.
const (
	MinInputLength = 3
	MaxInputLength = 4000
)

// ErrInvalidInput is returned when a message is too short or too long.
var ErrInvalidInput = errors.New("invalid input")

// State is a turn's position in its lifecycle.
type State string

const (
	StateIdle      State = "idle"
	StateSending   State = "sending"
	StateStreaming State = "streaming"
	StateSealed    State = "sealed"
	StatePersisted State = "persisted"
)

// Result describes a finished turn.
type Result struct {
	Epoch       uint64
	State       State
	Reservation credit.Reservation
	View        assembler.View
}

// Config wires a Client. Transport is required; Gate and Coordinator are
// optional (no admission control, no persistence).
type Config struct {
	Conversation *conversation.Conversation
	Transport    Transport
	Gate         *credit.Gate
	Costs        credit.CostTable
	Coordinator  *session.Coordinator
	// Charset of the stream body; empty means UTF-8.
	Charset         string
	MaxPendingLines int
	// ReadSize is the buffer size per body read; 0 means 4096.
	ReadSize int
	Hooks    *observability.Hooks
}

// Client owns one conversation and runs at most one turn at a time. Sending
// while a turn is active cancels it first. Send and Cancel must not be called
// from inside an onUpdate callback.
type Client struct {
	cfg  Config
	conv *conversation.Conversation

	mu     sync.Mutex
	epoch  uint64
	active *turn
	state  State

	// deliverMu fences onUpdate so no callback runs after its turn is superseded.
	deliverMu sync.Mutex
}

type turn struct {
	epoch  uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("chat: transport is required")
	}
	if _, err := stream.NewDecoder(cfg.Charset); err != nil {
		return nil, err
	}
	if cfg.Costs == nil {
		cfg.Costs = credit.DefaultCosts()
	}
	if cfg.ReadSize <= 0 {
		cfg.ReadSize = 4096
	}
	if cfg.MaxPendingLines <= 0 {
		cfg.MaxPendingLines = frame.DefaultMaxPendingLines
	}
	conv := cfg.Conversation
	if conv == nil {
		conv = conversation.New(credit.DefaultMode)
	}
	return &Client{cfg: cfg, conv: conv, state: StateIdle}, nil
}

// Conversation returns the conversation this client appends to.
func (c *Client) Conversation() *conversation.Conversation { return c.conv }

// State returns the state of the latest turn.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Cancel stops the active turn, if any. No onUpdate for that turn is delivered
// after Cancel returns. Cancel does not wait for the turn to settle.
func (c *Client) Cancel() {
	c.mu.Lock()
	t := c.active
	if t != nil {
		c.epoch++
	}
	c.mu.Unlock()
	if t == nil {
		return
	}
	t.cancel()
	c.deliverMu.Lock()
	c.deliverMu.Unlock()
}

// Validate trims text and checks its length.
func Validate(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	n := utf8.RuneCountInString(trimmed)
	if n < MinInputLength {
		return "", fmt.Errorf("%w: message must be at least %d characters", ErrInvalidInput, MinInputLength)
	}
	if n > MaxInputLength {
		return "", fmt.Errorf("%w: message must be at most %d characters", ErrInvalidInput, MaxInputLength)
	}
	return trimmed, nil
}

// Send runs one turn. Mode defaults to the conversation's mode. Insufficient
// credit returns credit.ErrInsufficientCredit before any network call; a
// failed stream returns a *TransportError after sealing whatever arrived.
// Cancellation is not an error: the Result reports a sealed, incomplete view.
func (c *Client) Send(ctx context.Context, text, mode string, onUpdate func(assembler.View)) (Result, error) {
	content, err := Validate(text)
	if err != nil {
		return Result{State: StateIdle}, err
	}
	if mode == "" {
		mode = c.conv.Mode()
	}
	cost, err := c.cfg.Costs.Cost(mode)
	if err != nil {
		return Result{State: StateIdle}, err
	}
	dec, err := stream.NewDecoder(c.cfg.Charset)
	if err != nil {
		return Result{State: StateIdle}, err
	}

	t, tctx := c.begin(ctx)
	defer c.end(t)
	res := Result{Epoch: t.epoch}

	c.transition(ctx, t.epoch, StateSending)
	if c.cfg.Gate != nil {
		r, err := c.cfg.Gate.TryReserve(tctx, mode, cost)
		res.Reservation = r
		if err != nil || !r.Granted {
			c.transition(ctx, t.epoch, StateIdle)
			res.State = StateIdle
			if err == nil {
				err = credit.ErrInsufficientCredit
			}
			return res, err
		}
	} else {
		res.Reservation = credit.Reservation{Granted: true, Cost: cost, Mode: mode}
	}

	c.conv.SetMode(mode)
	c.conv.AppendUser(content)

	asm := assembler.New(c.deliver(t.epoch, onUpdate))
	view, streamErr := c.consume(ctx, tctx, t, dec, asm, mode)

	if view.Started {
		c.conv.AppendAssistant(view.InFlightText, view.InFlightMetadata, view.Reason.Incomplete())
	}
	res.View = view
	res.State = StateSealed
	c.transition(ctx, t.epoch, StateSealed)

	if c.cfg.Coordinator != nil {
		c.cfg.Coordinator.OnSettled(context.WithoutCancel(ctx), c.conv)
		if c.cfg.Coordinator.Saved(c.conv) {
			res.State = StatePersisted
			c.transition(ctx, t.epoch, StatePersisted)
		}
	}
	return res, streamErr
}

// begin supersedes any active turn and registers a new one.
func (c *Client) begin(ctx context.Context) (*turn, context.Context) {
	tctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	prev := c.active
	c.epoch++
	t := &turn{epoch: c.epoch, cancel: cancel, done: make(chan struct{})}
	c.active = t
	c.mu.Unlock()
	if prev != nil {
		prev.cancel()
		<-prev.done
	}
	return t, tctx
}

func (c *Client) end(t *turn) {
	t.cancel()
	c.mu.Lock()
	if c.active == t {
		c.active = nil
	}
	c.mu.Unlock()
	close(t.done)
}

func (c *Client) current(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch == epoch
}

// owns reports whether the turn with this epoch is still the registered one.
// A cancelled turn keeps ownership until it ends or is superseded. Callers
// hold c.mu.
func (c *Client) owns(epoch uint64) bool {
	return c.active != nil && c.active.epoch == epoch
}

func (c *Client) transition(ctx context.Context, epoch uint64, s State) {
	c.mu.Lock()
	if c.owns(epoch) {
		c.state = s
	}
	c.mu.Unlock()
	c.cfg.Hooks.SafeTurnState(ctx, epoch, string(s))
}

// deliver wraps onUpdate so stale turns never reach the caller.
func (c *Client) deliver(epoch uint64, onUpdate func(assembler.View)) func(assembler.View) {
	if onUpdate == nil {
		return nil
	}
	return func(v assembler.View) {
		c.deliverMu.Lock()
		defer c.deliverMu.Unlock()
		if c.current(epoch) {
			onUpdate(v)
		}
	}
}

// consume reads the stream until a terminator, EOF, failure or cancellation
// and returns the sealed view.
func (c *Client) consume(ctx, tctx context.Context, t *turn, dec *stream.Decoder, asm *assembler.Assembler, mode string) (assembler.View, error) {
	body, err := c.cfg.Transport.Open(tctx, &StreamRequest{Messages: wireMessages(c.conv.Messages()), Mode: mode})
	if err != nil {
		if c.cancelled(tctx, t) {
			return asm.Seal(assembler.SealCancelled), nil
		}
		c.cfg.Hooks.SafeLog(ctx, "error", "stream open failed", map[string]any{"mode": mode, "error": err.Error()})
		return asm.Seal(assembler.SealError), err
	}
	defer body.Close()
	// Unblock a pending Read when the turn is cancelled.
	stop := context.AfterFunc(tctx, func() { _ = body.Close() })
	defer stop()

	parser := frame.NewParser(c.cfg.MaxPendingLines)
	parser.OnDrop = func(d *frame.DroppedError) {
		c.cfg.Hooks.SafeFrameDropped(ctx, len(d.Payload), d.Lines)
		c.cfg.Hooks.SafeLog(ctx, "warn", "dropped unparseable payload", map[string]any{"bytes": len(d.Payload), "lines": d.Lines})
	}

	apply := func(lines []string) bool {
		for _, line := range lines {
			f := parser.Next(line)
			if f.Kind == frame.KindIgnorable {
				continue
			}
			v, err := asm.Apply(f)
			if err != nil {
				return true
			}
			if f.Kind == frame.KindContent && v.Started {
				c.transitionOnce(ctx, t.epoch)
			}
			if v.Sealed {
				return true
			}
		}
		return false
	}

	buf := make([]byte, c.cfg.ReadSize)
	for {
		if c.cancelled(tctx, t) {
			return asm.Seal(assembler.SealCancelled), nil
		}
		n, rerr := body.Read(buf)
		if n > 0 {
			if c.cancelled(tctx, t) {
				return asm.Seal(assembler.SealCancelled), nil
			}
			if apply(dec.Feed(buf[:n])) {
				return asm.View(), nil
			}
		}
		if rerr == io.EOF {
			if apply(dec.Flush()) {
				return asm.View(), nil
			}
			parser.Flush()
			return asm.Seal(assembler.SealEOF), nil
		}
		if rerr != nil {
			if c.cancelled(tctx, t) {
				return asm.Seal(assembler.SealCancelled), nil
			}
			c.cfg.Hooks.SafeLog(ctx, "error", "stream read failed", map[string]any{"mode": mode, "error": rerr.Error()})
			return asm.Seal(assembler.SealError), &TransportError{Message: rerr.Error(), Err: rerr}
		}
	}
}

// transitionOnce moves a sending turn to streaming on its first delta.
func (c *Client) transitionOnce(ctx context.Context, epoch uint64) {
	c.mu.Lock()
	first := c.owns(epoch) && c.state == StateSending
	c.mu.Unlock()
	if first {
		c.transition(ctx, epoch, StateStreaming)
	}
}

func (c *Client) cancelled(tctx context.Context, t *turn) bool {
	return tctx.Err() != nil || !c.current(t.epoch)
}

func wireMessages(msgs []conversation.Message) []WireMessage {
	out := make([]WireMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, WireMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}
