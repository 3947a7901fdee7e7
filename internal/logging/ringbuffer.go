package logging

import (
	"os"
	"path/filepath"
	"sync"
)

// RingBuffer keeps the most recent bytes written to it. It backs crash
// dumps, so writes never fail and old data is overwritten once full.
type RingBuffer struct {
	mu      sync.Mutex
	buf     []byte
	pos     int
	wrapped bool
}

// NewRingBuffer creates a ring buffer holding at most size bytes.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 4 * 1024 * 1024
	}
	return &RingBuffer{buf: make([]byte, size)}
}

// Write implements io.Writer.
func (rb *RingBuffer) Write(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(p)
	size := len(rb.buf)
	if n >= size {
		copy(rb.buf, p[n-size:])
		rb.pos = 0
		rb.wrapped = true
		return n, nil
	}

	written := copy(rb.buf[rb.pos:], p)
	if written < n {
		copy(rb.buf, p[written:])
		rb.pos = n - written
		rb.wrapped = true
		return n, nil
	}
	rb.pos += written
	if rb.pos == size {
		rb.pos = 0
		rb.wrapped = true
	}
	return n, nil
}

// Len reports how many bytes are currently retained.
func (rb *RingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.wrapped {
		return len(rb.buf)
	}
	return rb.pos
}

// Bytes returns a copy of the retained data, oldest first.
func (rb *RingBuffer) Bytes() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if !rb.wrapped {
		return append([]byte(nil), rb.buf[:rb.pos]...)
	}
	out := make([]byte, 0, len(rb.buf))
	out = append(out, rb.buf[rb.pos:]...)
	return append(out, rb.buf[:rb.pos]...)
}

// DumpToFile writes the retained data to path, creating parent directories.
func (rb *RingBuffer) DumpToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, rb.Bytes(), 0o644)
}
