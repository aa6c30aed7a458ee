package conversation

import (
	"strings"
	"testing"

	"github.com/KamdynS/advisor/frame"
)

func TestConversation_TurnsAndSnapshotIsolation(t *testing.T) {
	c := New("quick_question")
	if c.Key() == "" {
		t.Fatalf("expected a local key")
	}
	if turn := c.AppendUser("hi there"); turn != 1 {
		t.Fatalf("turn=%d want 1", turn)
	}
	md := &frame.Metadata{ConfidenceLevel: "high", Factors: []string{"a"}}
	c.AppendAssistant("hello", md, false)
	md.Factors[0] = "mutated"

	snap := c.Snapshot()
	if snap.Turn != 1 || len(snap.Messages) != 2 || snap.Mode != "quick_question" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.Messages[1].Metadata.Factors[0] != "a" {
		t.Fatalf("conversation kept caller's metadata pointer")
	}
	snap.Messages[0].Content = "changed"
	if c.Messages()[0].Content != "hi there" {
		t.Fatalf("snapshot shares backing array")
	}
}

func TestConversation_SessionIDIsStable(t *testing.T) {
	c := New("diagnostic")
	if !c.AttachSession("s-1") {
		t.Fatalf("first attach should succeed")
	}
	if c.AttachSession("s-2") {
		t.Fatalf("second attach with a different id must be rejected")
	}
	if c.SessionID() != "s-1" {
		t.Fatalf("session id changed: %s", c.SessionID())
	}
}

func TestRestore_CountsUserTurns(t *testing.T) {
	c := Restore("s-9", "board_mode", []Message{
		{Role: RoleUser, Content: "a"},
		{Role: RoleAssistant, Content: "b"},
		{Role: RoleUser, Content: "c"},
	})
	if c.Turn() != 2 || c.SessionID() != "s-9" || c.Mode() != "board_mode" {
		t.Fatalf("unexpected restore: turn=%d id=%s mode=%s", c.Turn(), c.SessionID(), c.Mode())
	}
}

func TestSummary(t *testing.T) {
	long := strings.Repeat("é", 120)
	cases := []struct {
		name string
		msgs []Message
		want string
	}{
		{name: "empty", msgs: nil, want: ""},
		{name: "assistant_only", msgs: []Message{{Role: RoleAssistant, Content: "x"}}, want: ""},
		{name: "short", msgs: []Message{{Role: RoleUser, Content: "short"}}, want: "short"},
		{name: "truncated_runes", msgs: []Message{{Role: RoleUser, Content: long}}, want: strings.Repeat("é", 100) + "..."},
	}
	for _, tc := range cases {
		if got := Summary(tc.msgs); got != tc.want {
			t.Fatalf("%s: got %q want %q", tc.name, got, tc.want)
		}
	}
}
