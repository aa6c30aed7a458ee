package observability

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestHooks_NilSafe(t *testing.T) {
	var h *Hooks
	ctx := context.Background()
	h.SafeLog(ctx, "info", "x", nil)
	h.SafeTurnState(ctx, 1, "idle")
	h.SafeFrameDropped(ctx, 3, 1)
	h.SafeReserve(ctx, "quick_question", 1, true, nil)
	h.SafePersist(ctx, "s", time.Millisecond, nil)
	h.SafeLLMRequest(ctx, "p", "m", nil)
	h.SafeLLMResponse(ctx, "p", "m", 0, nil)

	empty := &Hooks{}
	empty.SafeLog(ctx, "info", "x", nil)
	empty.SafePersist(ctx, "s", 0, errors.New("boom"))
}

func TestHooks_Dispatch(t *testing.T) {
	var got []string
	h := &Hooks{
		Logf:        func(_ context.Context, level, msg string, _ map[string]any) { got = append(got, level+":"+msg) },
		OnTurnState: func(_ context.Context, _ uint64, state string) { got = append(got, "state:"+state) },
		OnReserve: func(_ context.Context, mode string, _ int, granted bool, _ error) {
			if granted {
				got = append(got, "reserve:"+mode)
			}
		},
	}
	ctx := context.Background()
	h.SafeLog(ctx, "warn", "hello", nil)
	h.SafeTurnState(ctx, 2, "streaming")
	h.SafeReserve(ctx, "diagnostic", 1, true, nil)
	want := []string{"warn:hello", "state:streaming", "reserve:diagnostic"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}
