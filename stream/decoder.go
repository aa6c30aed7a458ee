// Package stream turns a chunked response body into complete text lines.
package stream

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Decoder decodes byte chunks in streaming mode and splits the decoded text
// on line feeds. A Decoder belongs to exactly one stream and is not safe for
// concurrent use.
type Decoder struct {
	tr transform.Transformer
	// raw holds bytes that could not be decoded yet (a code point cut by a chunk boundary).
	raw []byte
	// buf holds decoded text after the last line feed seen so far.
	buf []byte
	dst [4096]byte
}

// NewDecoder returns a Decoder for the named charset. An empty name means UTF-8.
func NewDecoder(charset string) (*Decoder, error) {
	enc, err := lookupEncoding(charset)
	if err != nil {
		return nil, err
	}
	return &Decoder{tr: enc.NewDecoder()}, nil
}

func lookupEncoding(charset string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(charset)) {
	case "", "utf-8", "utf8":
		return unicode.UTF8, nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", charset, err)
	}
	return enc, nil
}

// Feed decodes chunk and returns every line completed by it, in order.
// Text after the last line feed is retained for the next call.
func (d *Decoder) Feed(chunk []byte) []string {
	d.decode(chunk, false)
	return d.lines()
}

// Flush decodes any trailing bytes and returns the remaining partial line,
// if non-empty. The Decoder is empty afterwards.
func (d *Decoder) Flush() []string {
	d.decode(nil, true)
	out := d.lines()
	if len(d.buf) > 0 {
		out = append(out, trimCR(string(d.buf)))
		d.buf = d.buf[:0]
	}
	d.tr.Reset()
	return out
}

// Buffered reports how many decoded bytes are waiting for a line feed.
func (d *Decoder) Buffered() int { return len(d.buf) }

func (d *Decoder) decode(chunk []byte, atEOF bool) {
	d.raw = append(d.raw, chunk...)
	for {
		nDst, nSrc, err := d.tr.Transform(d.dst[:], d.raw, atEOF)
		d.buf = append(d.buf, d.dst[:nDst]...)
		d.raw = d.raw[:copy(d.raw, d.raw[nSrc:])]
		switch {
		case err == nil, errors.Is(err, transform.ErrShortSrc):
			return
		case errors.Is(err, transform.ErrShortDst):
			continue
		default:
			// Undecodable input: substitute one byte and keep going.
			if len(d.raw) == 0 {
				return
			}
			d.buf = utf8.AppendRune(d.buf, utf8.RuneError)
			d.raw = d.raw[:copy(d.raw, d.raw[1:])]
		}
	}
}

func (d *Decoder) lines() []string {
	var out []string
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		out = append(out, trimCR(string(d.buf[:i])))
		d.buf = d.buf[:copy(d.buf, d.buf[i+1:])]
	}
	return out
}

func trimCR(s string) string {
	return strings.TrimSuffix(s, "\r")
}
