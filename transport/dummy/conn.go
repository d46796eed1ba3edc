// Package dummy provides an in-memory net.Conn for driving connections in tests.
package dummy

import (
	"io"
	"net"
	"os"
	"sync"
	"time"
)

var (
	_ net.Conn = new(Conn)

	defaultRemote = &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 50000}
	defaultLocal  = &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8080}
)

// Conn delivers the fed chunks to Read exactly as they were fed, and records everything
// written. It tracks half-closes separately from full closes.
type Conn struct {
	mu         sync.Mutex
	reads      chan []byte
	pending    []byte
	written    []byte
	deadline   time.Time
	closed     chan struct{}
	closeOnce  sync.Once
	hangupOnce sync.Once
	halfClosed bool
	remote     net.Addr
	local      net.Addr
}

// NewConn returns a connection with the chunks already queued for reading.
func NewConn(chunks ...[]byte) *Conn {
	c := &Conn{
		reads:  make(chan []byte, 1024),
		closed: make(chan struct{}),
		remote: defaultRemote,
		local:  defaultLocal,
	}

	for _, chunk := range chunks {
		c.Feed(chunk)
	}

	return c
}

// WithAddrs overrides the remote and the local addresses.
func (c *Conn) WithAddrs(remote, local net.Addr) *Conn {
	c.remote, c.local = remote, local
	return c
}

// Feed queues a chunk for reading. It must not be called after Hangup.
func (c *Conn) Feed(chunk []byte) {
	c.reads <- chunk
}

// Hangup simulates the peer's half-close: once the queued chunks are read, Read
// returns io.EOF.
func (c *Conn) Hangup() {
	c.hangupOnce.Do(func() {
		close(c.reads)
	})
}

func (c *Conn) Read(b []byte) (n int, err error) {
	if len(c.pending) == 0 {
		var timeout <-chan time.Time
		c.mu.Lock()
		if !c.deadline.IsZero() {
			timer := time.NewTimer(time.Until(c.deadline))
			defer timer.Stop()
			timeout = timer.C
		}
		c.mu.Unlock()

		select {
		case chunk, ok := <-c.reads:
			if !ok {
				return 0, io.EOF
			}

			c.pending = chunk
		case <-c.closed:
			return 0, net.ErrClosed
		case <-timeout:
			return 0, os.ErrDeadlineExceeded
		}
	}

	n = copy(b, c.pending)
	c.pending = c.pending[n:]

	return n, nil
}

func (c *Conn) Write(b []byte) (n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.halfClosed || c.isClosed() {
		return 0, net.ErrClosed
	}

	c.written = append(c.written, b...)
	return len(b), nil
}

// Written returns everything written so far.
func (c *Conn) Written() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return string(c.written)
}

func (c *Conn) CloseWrite() error {
	c.mu.Lock()
	c.halfClosed = true
	c.mu.Unlock()

	return nil
}

// HalfClosed reports whether CloseWrite was called.
func (c *Conn) HalfClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.halfClosed
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
	})

	return nil
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	return c.isClosed()
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Conn) LocalAddr() net.Addr {
	return c.local
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.remote
}

func (c *Conn) SetDeadline(t time.Time) error {
	return c.SetReadDeadline(t)
}

// SetReadDeadline affects only the reads started afterwards.
func (c *Conn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadline = t
	c.mu.Unlock()

	return nil
}

func (c *Conn) SetWriteDeadline(time.Time) error {
	return nil
}
