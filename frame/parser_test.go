package frame

import (
	"errors"
	"testing"
)

func TestParseLine_Table(t *testing.T) {
	cases := []struct {
		name     string
		line     string
		wantKind Kind
		wantText string
		wantErr  error
	}{
		{name: "blank", line: "   ", wantKind: KindIgnorable},
		{name: "comment", line: ": ping", wantKind: KindIgnorable},
		{name: "event_line", line: "event: message", wantKind: KindIgnorable},
		{name: "no_space_prefix", line: "data:{}", wantKind: KindIgnorable},
		{name: "done", line: "data: [DONE]", wantKind: KindTerminator},
		{name: "done_padded", line: "data:  [DONE]  ", wantKind: KindTerminator},
		{name: "delta", line: `data: {"choices":[{"delta":{"content":"Hel"}}]}`, wantKind: KindContent, wantText: "Hel"},
		{name: "first_non_empty_choice", line: `data: {"choices":[{"delta":{}},{"delta":{"content":"lo"}}]}`, wantKind: KindContent, wantText: "lo"},
		{name: "role_only_delta", line: `data: {"choices":[{"delta":{"role":"assistant"}}]}`, wantKind: KindIgnorable},
		{name: "non_object", line: `data: 42`, wantKind: KindIgnorable},
		{name: "malformed", line: `data: {"choices":[{"delta":{"content":"a`, wantKind: KindIgnorable, wantErr: ErrIncomplete},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := ParseLine(tc.line)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err=%v want %v", err, tc.wantErr)
			}
			if f.Kind != tc.wantKind {
				t.Fatalf("kind=%s want %s", f.Kind, tc.wantKind)
			}
			if f.Text != tc.wantText {
				t.Fatalf("text=%q want %q", f.Text, tc.wantText)
			}
		})
	}
}

func TestParseLine_Metadata(t *testing.T) {
	line := `data: {"type":"trust_metadata","confidenceLevel":"medium","dataSensitivity":"standard","isInference":true,` +
		`"dataSignals":{"hasBusinessProfile":true,"memoryCompleteness":0.5},"explanation":"based on profile","factors":["profile","history"]}`
	f, err := ParseLine(line)
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if f.Kind != KindMetadata || f.Metadata == nil {
		t.Fatalf("expected metadata frame, got %+v", f)
	}
	m := f.Metadata
	if m.ConfidenceLevel != "medium" || m.DataSensitivity != "standard" || !m.IsInference {
		t.Fatalf("unexpected scalar fields: %+v", m)
	}
	if m.DataSignals == nil || !m.DataSignals.HasBusinessProfile || m.DataSignals.MemoryCompleteness != 0.5 {
		t.Fatalf("unexpected data signals: %+v", m.DataSignals)
	}
	if len(m.Factors) != 2 || m.Factors[1] != "history" {
		t.Fatalf("unexpected factors: %v", m.Factors)
	}
}

func TestParser_JoinsPayloadSplitInsideString(t *testing.T) {
	p := NewParser(0)
	if f := p.Next(`data: {"choices":[{"delta":{"content":"line one`); f.Kind != KindIgnorable {
		t.Fatalf("first half should not produce a frame, got %+v", f)
	}
	if !p.Pending() {
		t.Fatalf("expected pending payload")
	}
	f := p.Next(`line two"}}]}`)
	if f.Kind != KindContent || f.Text != "line one\nline two" {
		t.Fatalf("unexpected frame %+v", f)
	}
	if p.Pending() {
		t.Fatalf("pending should be cleared")
	}
}

func TestParser_JoinsPayloadSplitBetweenTokens(t *testing.T) {
	p := NewParser(0)
	p.Next(`data: {"type":"trust_metadata",`)
	f := p.Next(`"confidenceLevel":"high"}`)
	if f.Kind != KindMetadata || f.Metadata.ConfidenceLevel != "high" {
		t.Fatalf("unexpected frame %+v", f)
	}
}

func TestParser_JoinsPayloadCutThreeTimes(t *testing.T) {
	p := NewParser(0)
	p.Next(`data: {"choices":[{"delta":{"content":"one`)
	p.Next(`two`)
	if !p.Pending() {
		t.Fatalf("expected payload to stay pending after second fragment")
	}
	f := p.Next(`three"}}]}`)
	if f.Kind != KindContent || f.Text != "one\ntwo\nthree" {
		t.Fatalf("unexpected frame %+v", f)
	}
	if p.Pending() {
		t.Fatalf("pending should be cleared")
	}
}

func TestParser_JoinsMixedCuts(t *testing.T) {
	p := NewParser(0)
	p.Next(`data: {"type":"trust_metadata",`)
	p.Next(`"explanation":"first`)
	p.Next(`second",`)
	f := p.Next(`"confidenceLevel":"low"}`)
	if f.Kind != KindMetadata {
		t.Fatalf("unexpected frame %+v", f)
	}
	if f.Metadata.Explanation != "first\nsecond" || f.Metadata.ConfidenceLevel != "low" {
		t.Fatalf("unexpected metadata %+v", f.Metadata)
	}
}

func TestLineSeparator(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`data: {"a":`, "\n"},
		{`data: {"a":"b`, `\n`},
		{`data: {"a":"b\"c`, `\n`},
		{`data: {"a":"b\\"`, "\n"},
		{`data: {"a":"b"`, "\n"},
	}
	for _, tc := range cases {
		if got := lineSeparator(tc.in); got != tc.want {
			t.Errorf("lineSeparator(%q)=%q want %q", tc.in, got, tc.want)
		}
	}
}

func TestParser_DropsAfterBoundedRetries(t *testing.T) {
	var dropped []*DroppedError
	p := NewParser(2)
	p.OnDrop = func(err *DroppedError) { dropped = append(dropped, err) }
	p.Next(`data: {"broken`)
	p.Next(`still broken`)
	if len(dropped) != 0 {
		t.Fatalf("dropped too early")
	}
	p.Next(`and again`)
	if len(dropped) != 1 || dropped[0].Lines != 2 {
		t.Fatalf("expected one drop after 2 lines, got %+v", dropped)
	}
	if p.Pending() {
		t.Fatalf("pending should be cleared after drop")
	}
}

func TestParser_ValidLineSupersedesGarbage(t *testing.T) {
	var dropped []*DroppedError
	p := NewParser(0)
	p.OnDrop = func(err *DroppedError) { dropped = append(dropped, err) }
	p.Next(`data: {oops`)
	p.Next(``)
	f := p.Next(`data: {"choices":[{"delta":{"content":"ok"}}]}`)
	if f.Kind != KindContent || f.Text != "ok" {
		t.Fatalf("unexpected frame %+v", f)
	}
	if len(dropped) != 1 {
		t.Fatalf("drops=%d want 1", len(dropped))
	}
	// The blank line and the superseding line both count as attempts.
	if dropped[0].Lines != 2 || dropped[0].Payload != "data: {oops\n" {
		t.Fatalf("unexpected drop %+v", dropped[0])
	}
	if p.Pending() {
		t.Fatalf("pending should be cleared")
	}
	if f := p.Next("data: [DONE]"); f.Kind != KindTerminator {
		t.Fatalf("expected terminator, got %+v", f)
	}
}

func TestParser_FlushDropsPending(t *testing.T) {
	drops := 0
	p := &Parser{OnDrop: func(*DroppedError) { drops++ }}
	p.Next(`data: {"x":`)
	p.Flush()
	p.Flush()
	if drops != 1 {
		t.Fatalf("drops=%d want 1", drops)
	}
}

func TestMetadataClone_IsDeep(t *testing.T) {
	m := &Metadata{Factors: []string{"a"}, DataSignals: &DataSignals{HasMetrics: true}}
	c := m.Clone()
	c.Factors[0] = "b"
	c.DataSignals.HasMetrics = false
	if m.Factors[0] != "a" || !m.DataSignals.HasMetrics {
		t.Fatalf("clone shares state with original")
	}
}
