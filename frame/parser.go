package frame

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

const dataPrefix = "data: "

// DefaultMaxPendingLines bounds how many continuation lines are joined onto a
// malformed payload before it is dropped.
const DefaultMaxPendingLines = 8

// ErrIncomplete reports a data line whose payload is not yet a complete
// record. The line should be retried prefixed onto the next input.
var ErrIncomplete = errors.New("incomplete frame payload")

// DroppedError reports a payload that never became parseable.
type DroppedError struct {
	Payload string
	Lines   int
}

func (e *DroppedError) Error() string {
	return fmt.Sprintf("dropped unparseable payload after %d continuation lines (%d bytes)", e.Lines, len(e.Payload))
}

// ParseLine classifies a single decoded line. It never fails except with
// ErrIncomplete, in which case the returned frame is Ignorable.
func ParseLine(line string) (Frame, error) {
	if strings.TrimSpace(line) == "" {
		return Ignorable(), nil
	}
	if strings.HasPrefix(line, ":") {
		return Ignorable(), nil
	}
	if !strings.HasPrefix(line, dataPrefix) {
		return Ignorable(), nil
	}
	payload := strings.TrimSpace(line[len(dataPrefix):])
	if payload == DoneSentinel {
		return Terminator(), nil
	}
	return ParsePayload(payload)
}

// ParsePayload maps a structured record to a metadata or content frame.
func ParsePayload(payload string) (Frame, error) {
	if !gjson.Valid(payload) {
		return Ignorable(), ErrIncomplete
	}
	rec := gjson.Parse(payload)
	if !rec.IsObject() {
		return Ignorable(), nil
	}
	if rec.Get("type").String() == MetadataType {
		return MetadataFrame(metadataFrom(rec)), nil
	}
	var text string
	rec.Get("choices").ForEach(func(_, choice gjson.Result) bool {
		c := choice.Get("delta.content")
		if c.Type == gjson.String && c.Str != "" {
			text = c.Str
			return false
		}
		return true
	})
	if text == "" {
		return Ignorable(), nil
	}
	return Content(text), nil
}

func metadataFrom(rec gjson.Result) *Metadata {
	m := &Metadata{
		ConfidenceLevel: rec.Get("confidenceLevel").String(),
		DataSensitivity: rec.Get("dataSensitivity").String(),
		IsInference:     rec.Get("isInference").Bool(),
		Explanation:     rec.Get("explanation").String(),
	}
	if f := rec.Get("factors"); f.IsArray() {
		m.Factors = make([]string, 0, len(f.Array()))
		for _, v := range f.Array() {
			m.Factors = append(m.Factors, v.String())
		}
	}
	if ds := rec.Get("dataSignals"); ds.IsObject() {
		m.DataSignals = &DataSignals{
			HasBusinessProfile: ds.Get("hasBusinessProfile").Bool(),
			HasRecentSessions:  ds.Get("hasRecentSessions").Bool(),
			HasDocuments:       ds.Get("hasDocuments").Bool(),
			HasMetrics:         ds.Get("hasMetrics").Bool(),
			MemoryCompleteness: ds.Get("memoryCompleteness").Float(),
		}
	}
	return m
}

// Parser applies ParseLine to a sequence of lines, re-queuing incomplete
// payloads and joining them with the following lines.
type Parser struct {
	// MaxPendingLines bounds the continuation lines joined onto one payload.
	MaxPendingLines int
	// OnDrop is called when a pending payload is abandoned.
	OnDrop func(err *DroppedError)

	pending string
	joined  int
}

// NewParser constructs a Parser with the given bound (or the default).
func NewParser(maxPending int) *Parser {
	return &Parser{MaxPendingLines: maxPending}
}

// Next parses line, possibly together with previously re-queued input.
// A line that only completes a pending payload yields that payload's frame.
func (p *Parser) Next(line string) Frame {
	if p.pending == "" {
		f, err := ParseLine(line)
		if errors.Is(err, ErrIncomplete) {
			p.pending = line
			p.joined = 0
			return Ignorable()
		}
		return f
	}

	// The payload was split by a raw line feed, either between tokens or
	// inside a string where it must be escaped to parse. The pending text
	// keeps each earlier cut already joined, so any number of cuts rebuild.
	joined := p.pending + lineSeparator(p.pending) + line
	if f, err := ParseLine(joined); err == nil {
		p.reset()
		return f
	}
	p.joined++

	if f, err := ParseLine(line); err == nil && f.Kind != KindIgnorable {
		p.drop()
		return f
	}
	p.pending = joined
	if p.joined >= p.maxPending() {
		p.drop()
	}
	return Ignorable()
}

// lineSeparator returns the text that stands in for a line feed cut after s:
// an escaped `\n` when s ends inside a JSON string, a raw line feed otherwise.
func lineSeparator(s string) string {
	in, escaped := false, false
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case escaped:
			escaped = false
		case c == '\\' && in:
			escaped = true
		case c == '"':
			in = !in
		}
	}
	if in {
		return `\n`
	}
	return "\n"
}

// Pending reports whether a payload is waiting for continuation lines.
func (p *Parser) Pending() bool { return p.pending != "" }

// Flush abandons any pending payload at end of stream.
func (p *Parser) Flush() {
	if p.pending != "" {
		p.drop()
	}
}

func (p *Parser) maxPending() int {
	if p.MaxPendingLines <= 0 {
		return DefaultMaxPendingLines
	}
	return p.MaxPendingLines
}

func (p *Parser) drop() {
	err := &DroppedError{Payload: p.pending, Lines: p.joined}
	p.reset()
	if p.OnDrop != nil {
		p.OnDrop(err)
	}
}

func (p *Parser) reset() {
	p.pending = ""
	p.joined = 0
}
