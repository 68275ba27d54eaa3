// Package dump reads and writes the text form of a device download: every
// byte as a signed decimal integer followed by a semicolon, e.g. "2;20;-1;".
package dump

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Token range accepted by Parse. Downloads are written as signed chars, but
// unsigned values are accepted too.
const (
	MinToken = -128
	MaxToken = 255
)

// Parse reads dump text from r and returns the bytes it encodes. Blank or
// whitespace-only tokens are skipped; negative values map to v+256.
func Parse(r io.Reader) ([]byte, error) {
	scan := bufio.NewScanner(r)
	scan.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scan.Split(splitTokens)

	var out []byte
	index := 0
	for scan.Scan() {
		tok := strings.TrimSpace(scan.Text())
		if tok == "" {
			continue
		}
		v, err := strconv.Atoi(tok)
		if err != nil {
			return nil, fmt.Errorf("token %d: invalid integer %q", index, tok)
		}
		if v < MinToken || v > MaxToken {
			return nil, fmt.Errorf("token %d: value %d out of range [%d, %d]", index, v, MinToken, MaxToken)
		}
		out = append(out, toUnsigned(v))
		index++
	}
	if err := scan.Err(); err != nil {
		return nil, fmt.Errorf("failed to read dump: %w", err)
	}
	return out, nil
}

// ParseString is Parse over a string.
func ParseString(s string) ([]byte, error) {
	return Parse(strings.NewReader(s))
}

func toUnsigned(v int) byte {
	if v < 0 {
		return byte(v + 256)
	}
	return byte(v)
}

// splitTokens is a bufio.SplitFunc yielding the text between semicolons.
func splitTokens(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, ';'); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// Format writes data to w in dump text form.
func Format(w io.Writer, data []byte) error {
	dw := NewWriter(w)
	_, err := dw.Write(data)
	return err
}

// Writer encodes every byte written to it as a dump token. It is the sink
// used while downloading from the device.
type Writer struct {
	w     *bufio.Writer
	count int
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Write encodes p and flushes it to the underlying writer.
func (d *Writer) Write(p []byte) (int, error) {
	var scratch [5]byte
	for i, b := range p {
		tok := strconv.AppendInt(scratch[:0], int64(int8(b)), 10)
		tok = append(tok, ';')
		if _, err := d.w.Write(tok); err != nil {
			d.count += i
			return i, err
		}
	}
	d.count += len(p)
	if err := d.w.Flush(); err != nil {
		return len(p), err
	}
	return len(p), nil
}

// Count returns the number of bytes encoded so far.
func (d *Writer) Count() int {
	return d.count
}
