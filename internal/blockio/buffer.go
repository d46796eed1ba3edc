// Package blockio bridges bytes delivered asynchronously by a connection's event loop
// to a reader that wants a plain synchronous stream.
package blockio

import (
	"bytes"
	"io"
	"os"
	"sync"
	"time"
)

// Buffer is an append-only byte sequence with a read cursor. Exactly one goroutine is
// expected to write (the connection's event loop) and any goroutine may read. Reads
// park on a condition variable until the writer appends bytes or signals the end
// of the stream.
//
// The read position never moves backwards, so no byte is ever returned twice, and bytes are
// always returned in the order they were written.
type Buffer struct {
	mu       sync.Mutex
	cond     sync.Cond
	data     []byte
	cursor   int
	written  int
	eof      bool
	err      error
	deadline time.Time
	timer    *time.Timer
}

func New() *Buffer {
	b := new(Buffer)
	b.cond.L = &b.mu

	return b
}

// Write appends p to the tail. It always succeeds; bytes written after the end of the
// stream was signalled are silently discarded.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	if !b.eof {
		b.data = append(b.data, p...)
		b.written += len(p)
	}
	b.mu.Unlock()
	b.cond.Broadcast()

	return len(p), nil
}

// FeedEOF marks that no more bytes will ever be written. Pending and subsequent reads
// return what is left and then io.EOF. The call is idempotent.
func (b *Buffer) FeedEOF() {
	b.Fail(io.EOF)
}

// Fail ends the stream with err instead of io.EOF. Readers still receive every byte
// written before. Only the first terminal error (including FeedEOF) is kept.
func (b *Buffer) Fail(err error) {
	b.mu.Lock()
	if !b.eof {
		b.eof = true
		b.err = err
	}
	b.mu.Unlock()
	b.cond.Broadcast()
}

// Read implements io.Reader. It blocks until at least one unconsumed byte is
// available or the stream is over.
func (b *Buffer) Read(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err = b.wait(func() bool { return b.cursor < len(b.data) }); err != nil {
		return 0, err
	}

	n = copy(p, b.data[b.cursor:])
	b.advance(n)

	return n, nil
}

// ReadN returns at most size bytes, blocking until at least one is available. A negative
// size returns everything buffered at the moment. Once the stream is over and drained,
// an empty result is returned immediately together with io.EOF (or the failure error).
func (b *Buffer) ReadN(size int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if size == 0 {
		return nil, nil
	}

	if err := b.wait(func() bool { return b.cursor < len(b.data) }); err != nil {
		return nil, err
	}

	return b.consume(size), nil
}

// ReadLine returns the next line including its trailing '\n'. It blocks until a whole
// line is buffered, or size bytes are (for a non-negative size), or the stream is over,
// in which case the unterminated tail is returned.
func (b *Buffer) ReadLine(size int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if size == 0 {
		return nil, nil
	}

	lineReady := func() bool {
		pending := b.data[b.cursor:]
		if size > 0 && len(pending) >= size {
			return true
		}

		return bytes.IndexByte(pending, '\n') != -1
	}

	if err := b.wait(lineReady); err != nil && (err != b.err || b.cursor == len(b.data)) {
		return nil, err
	}

	pending := b.data[b.cursor:]
	if lf := bytes.IndexByte(pending, '\n'); lf != -1 && (size < 0 || lf < size) {
		return b.consume(lf + 1), nil
	}

	return b.consume(size), nil
}

// Size returns how many bytes were ever written, consumed or not.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.written
}

// SetReadDeadline makes blocked and future reads fail with os.ErrDeadlineExceeded
// once t has passed. A zero t disables the deadline. Bytes are never lost because
// of a deadline: they are returned by the next successful read.
func (b *Buffer) SetReadDeadline(t time.Time) {
	b.mu.Lock()
	b.deadline = t
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}

	if !t.IsZero() {
		b.timer = time.AfterFunc(time.Until(t), func() {
			b.mu.Lock()
			b.mu.Unlock()
			b.cond.Broadcast()
		})
	}
	b.mu.Unlock()
	b.cond.Broadcast()
}

// wait parks the caller until ready reports true, the stream is over or the read
// deadline passes. In the latter two cases the terminal error, respectively
// os.ErrDeadlineExceeded, is returned. Must be called with the lock held.
func (b *Buffer) wait(ready func() bool) error {
	for {
		if ready() {
			return nil
		}

		if b.eof {
			return b.err
		}

		if !b.deadline.IsZero() && !time.Now().Before(b.deadline) {
			return os.ErrDeadlineExceeded
		}

		b.cond.Wait()
	}
}

// advance moves the cursor forward by n bytes. Once everything written is consumed,
// the memory is reused, so long-living streams don't keep every byte ever received.
// Must be called with the lock held.
func (b *Buffer) advance(n int) {
	b.cursor += n
	if b.cursor == len(b.data) {
		b.data = b.data[:0]
		b.cursor = 0
	}
}

// consume copies out up to size unconsumed bytes (everything for a negative size)
// and advances the cursor. Must be called with the lock held.
func (b *Buffer) consume(size int) []byte {
	pending := b.data[b.cursor:]
	if size >= 0 && size < len(pending) {
		pending = pending[:size]
	}

	chunk := bytes.Clone(pending)
	b.advance(len(pending))

	return chunk
}
