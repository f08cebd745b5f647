package sandbox

import (
	"bytes"
	"strings"
	"sync"
	"unicode/utf8"
)

// CaptureBuffer stands in for a guest's stdout or stderr. The guest only
// ever holds the capability to append; the host reads the contents once the
// run is over. It is safe for concurrent use.
type CaptureBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

// NewCaptureBuffer creates a buffer keeping at most limit bytes. A limit of
// zero or less keeps everything.
func NewCaptureBuffer(limit int) *CaptureBuffer {
	return &CaptureBuffer{limit: limit}
}

// Write appends p. Bytes past the limit are dropped, but the write still
// reports success so the guest does not observe an I/O error.
func (c *CaptureBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(p)
	if c.limit > 0 {
		room := c.limit - c.buf.Len()
		if room <= 0 {
			c.truncated = c.truncated || n > 0
			return n, nil
		}
		if n > room {
			p = p[:room]
			c.truncated = true
		}
	}
	c.buf.Write(p)
	return n, nil
}

// Snapshot returns everything written so far as text. Invalid UTF-8
// sequences are replaced with U+FFFD.
func (c *CaptureBuffer) Snapshot() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if utf8.Valid(c.buf.Bytes()) {
		return c.buf.String()
	}
	return strings.ToValidUTF8(c.buf.String(), string(utf8.RuneError))
}

// Bytes returns a copy of the raw captured bytes.
func (c *CaptureBuffer) Bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	return bytes.Clone(c.buf.Bytes())
}

// Len returns the number of bytes kept.
func (c *CaptureBuffer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.buf.Len()
}

// Truncated reports whether any write was cut by the limit.
func (c *CaptureBuffer) Truncated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.truncated
}
