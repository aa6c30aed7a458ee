// Package assembler rebuilds the in-flight assistant message from frames.
package assembler

import (
	"errors"
	"strings"

	"github.com/KamdynS/advisor/frame"
)

// SealReason records why a turn stopped accepting frames.
type SealReason string

const (
	SealNone      SealReason = ""
	SealDone      SealReason = "done"
	SealEOF       SealReason = "eof"
	SealError     SealReason = "error"
	SealCancelled SealReason = "cancelled"
)

// Incomplete reports whether a turn sealed this way was cut short.
func (r SealReason) Incomplete() bool { return r == SealError || r == SealCancelled }

// ErrSealed is returned by Apply once the turn has been sealed.
var ErrSealed = errors.New("assembler: turn sealed")

// View is the read-only state of the in-flight message.
type View struct {
	InFlightText     string          `json:"inFlightText"`
	InFlightMetadata *frame.Metadata `json:"inFlightMetadata"`
	Sealed           bool            `json:"sealed"`
	// Started is true once the first content delta has arrived.
	Started bool       `json:"started"`
	Reason  SealReason `json:"reason,omitempty"`
}

// Assembler consumes frames for one assistant turn at a time.
// It is not safe for concurrent use; the chat client serializes access.
type Assembler struct {
	// OnUpdate, when set, receives the view after every change.
	OnUpdate func(View)

	text     strings.Builder
	metadata *frame.Metadata
	started  bool
	sealed   bool
	reason   SealReason
}

// New returns an Assembler ready for its first turn.
func New(onUpdate func(View)) *Assembler {
	return &Assembler{OnUpdate: onUpdate}
}

// Apply folds f into the in-flight message and returns the resulting view.
// Frames applied after a Terminator are rejected with ErrSealed, except that
// a repeated Terminator is a no-op.
func (a *Assembler) Apply(f frame.Frame) (View, error) {
	if a.sealed {
		if f.Kind == frame.KindTerminator {
			return a.View(), nil
		}
		return a.View(), ErrSealed
	}
	changed := false
	switch f.Kind {
	case frame.KindContent:
		if f.Text != "" {
			a.text.WriteString(f.Text)
			a.started = true
			changed = true
		}
	case frame.KindMetadata:
		a.metadata = f.Metadata.Clone()
		changed = true
	case frame.KindTerminator:
		a.sealed = true
		a.reason = SealDone
		changed = true
	}
	v := a.View()
	if changed && a.OnUpdate != nil {
		a.OnUpdate(v)
	}
	return v, nil
}

// Seal ends the turn early (error, cancellation, or stream end without a
// terminator). Sealing an already sealed turn keeps the first reason.
func (a *Assembler) Seal(reason SealReason) View {
	if a.sealed {
		return a.View()
	}
	a.sealed = true
	a.reason = reason
	v := a.View()
	if a.OnUpdate != nil {
		a.OnUpdate(v)
	}
	return v
}

// Reset starts a new turn, discarding the previous in-flight state.
func (a *Assembler) Reset() {
	a.text.Reset()
	a.metadata = nil
	a.started = false
	a.sealed = false
	a.reason = SealNone
}

// View returns the current state without mutating it.
func (a *Assembler) View() View {
	return View{
		InFlightText:     a.text.String(),
		InFlightMetadata: a.metadata.Clone(),
		Sealed:           a.sealed,
		Started:          a.started,
		Reason:           a.reason,
	}
}
