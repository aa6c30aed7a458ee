package stream

import (
	"reflect"
	"testing"
)

const payload = ": ping\n\ndata: {\"choices\":[{\"delta\":{\"content\":\"héllo → wörld\"}}]}\r\n\ndata: [DONE]\n"

func feedAll(t *testing.T, d *Decoder, data []byte, size int) []string {
	t.Helper()
	var out []string
	for i := 0; i < len(data); i += size {
		end := i + size
		if end > len(data) {
			end = len(data)
		}
		out = append(out, d.Feed(data[i:end])...)
	}
	return append(out, d.Flush()...)
}

func TestDecoder_ChunkBoundaryInvariance(t *testing.T) {
	whole, err := NewDecoder("")
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	want := feedAll(t, whole, []byte(payload), len(payload))
	if len(want) != 5 {
		t.Fatalf("expected 5 lines, got %d: %q", len(want), want)
	}
	for size := 1; size <= 9; size++ {
		d, _ := NewDecoder("utf-8")
		got := feedAll(t, d, []byte(payload), size)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("chunk size %d: got %q want %q", size, got, want)
		}
	}
}

func TestDecoder_StripsSingleCarriageReturn(t *testing.T) {
	d, _ := NewDecoder("")
	got := d.Feed([]byte("a\r\r\nb\r\n"))
	want := []string{"a\r", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestDecoder_RetainsPartialLine(t *testing.T) {
	d, _ := NewDecoder("")
	if got := d.Feed([]byte("data: par")); len(got) != 0 {
		t.Fatalf("expected no complete lines, got %q", got)
	}
	if d.Buffered() != len("data: par") {
		t.Fatalf("buffered=%d", d.Buffered())
	}
	got := d.Feed([]byte("tial\nnext"))
	if !reflect.DeepEqual(got, []string{"data: partial"}) {
		t.Fatalf("got %q", got)
	}
	if got := d.Flush(); !reflect.DeepEqual(got, []string{"next"}) {
		t.Fatalf("flush got %q", got)
	}
	if got := d.Flush(); len(got) != 0 {
		t.Fatalf("second flush should be empty, got %q", got)
	}
}

func TestDecoder_SplitMultiByteRune(t *testing.T) {
	d, _ := NewDecoder("")
	euro := []byte("€\n") // 3-byte rune
	var got []string
	for _, b := range euro {
		got = append(got, d.Feed([]byte{b})...)
	}
	if !reflect.DeepEqual(got, []string{"€"}) {
		t.Fatalf("got %q", got)
	}
}

func TestDecoder_Latin1(t *testing.T) {
	d, err := NewDecoder("iso-8859-1")
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	got := d.Feed([]byte{'c', 'a', 'f', 0xE9, '\n'})
	if !reflect.DeepEqual(got, []string{"café"}) {
		t.Fatalf("got %q", got)
	}
}

func TestDecoder_UnknownCharset(t *testing.T) {
	if _, err := NewDecoder("klingon-8"); err == nil {
		t.Fatalf("expected error for unknown charset")
	}
}
