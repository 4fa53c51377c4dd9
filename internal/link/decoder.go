package link

import (
	"bytes"
	"strings"
)

// LineDecoder accumulates raw chunks from the device and splits them into
// newline-terminated lines. A line is only returned once its '\n' has been
// seen; a trailing partial line stays buffered for the next chunk.
//
// Splitting happens on bytes. '\n' never occurs inside a multi-byte UTF-8
// sequence, so a rune split across two chunks is reassembled before the line
// is converted to text. Invalid sequences become U+FFFD.
type LineDecoder struct {
	buf []byte
	off int // start of unconsumed data in buf
}

// Write appends a chunk to the buffer. Empty chunks are accepted.
func (d *LineDecoder) Write(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	if d.off > 0 && d.off == len(d.buf) {
		d.buf = d.buf[:0]
		d.off = 0
	}
	d.buf = append(d.buf, chunk...)
}

// Next extracts the next complete line without its terminating '\n'.
// It returns false when no complete line is buffered.
func (d *LineDecoder) Next() (string, bool) {
	pending := d.buf[d.off:]
	idx := bytes.IndexByte(pending, '\n')
	if idx < 0 {
		d.compact()
		return "", false
	}
	line := strings.ToValidUTF8(string(pending[:idx]), "�")
	d.off += idx + 1
	return line, true
}

// Feed writes chunk and returns every line it completes, in order.
func (d *LineDecoder) Feed(chunk []byte) []string {
	d.Write(chunk)
	var lines []string
	for {
		line, ok := d.Next()
		if !ok {
			return lines
		}
		lines = append(lines, line)
	}
}

// Buffered reports how many bytes of partial line are held.
func (d *LineDecoder) Buffered() int {
	return len(d.buf) - d.off
}

// Reset discards any buffered partial line.
func (d *LineDecoder) Reset() {
	d.buf = d.buf[:0]
	d.off = 0
}

// compact moves the partial tail to the front so the buffer does not grow
// with the total stream length.
func (d *LineDecoder) compact() {
	if d.off == 0 {
		return
	}
	n := copy(d.buf, d.buf[d.off:])
	d.buf = d.buf[:n]
	d.off = 0
}
