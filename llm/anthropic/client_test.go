package anthropic

import (
	"context"
	"encoding/json"
	"testing"

	base "github.com/KamdynS/advisor/llm"
	anth "github.com/anthropics/anthropic-sdk-go"
)

type fakeEvents struct {
	events []anth.MessageStreamEventUnion
	i      int
}

func (f *fakeEvents) Next() bool {
	if f.i >= len(f.events) {
		return false
	}
	f.i++
	return true
}
func (f *fakeEvents) Current() anth.MessageStreamEventUnion { return f.events[f.i-1] }
func (f *fakeEvents) Err() error                            { return nil }
func (f *fakeEvents) Close() error                          { return nil }

func event(t *testing.T, raw string) anth.MessageStreamEventUnion {
	t.Helper()
	var ev anth.MessageStreamEventUnion
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	return ev
}

func textDelta(t *testing.T, s string) anth.MessageStreamEventUnion {
	b, _ := json.Marshal(s)
	return event(t, `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":`+string(b)+`}}`)
}

func TestStreamWrapper_StopsAtMessageStop(t *testing.T) {
	events := []anth.MessageStreamEventUnion{
		event(t, `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`),
		textDelta(t, "Hi "),
		textDelta(t, "there"),
		event(t, `{"type":"message_stop"}`),
		textDelta(t, "ignored"),
	}
	w := &anthStreamWrapper{inner: &fakeEvents{events: events}}
	text, err := base.Collect(context.Background(), w)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if text != "Hi there" {
		t.Fatalf("text=%q", text)
	}
}

func TestToAnthParams(t *testing.T) {
	p := toAnthParams(&base.ChatRequest{
		SystemPrompt: "advise",
		MaxTokens:    50,
		Messages:     []base.Message{{Role: "user", Content: "q"}, {Role: "assistant", Content: "a"}},
	}, Config{Model: "claude-x", MaxTokens: 1000})
	if p.MaxTokens != 50 || string(p.Model) != "claude-x" || len(p.System) != 1 {
		t.Fatalf("unexpected params %+v", p)
	}
	if p.Messages[1].Role != anth.MessageParamRoleAssistant {
		t.Fatalf("assistant role not mapped")
	}
}
