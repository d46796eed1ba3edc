package transport

import (
	"net"
	"sync/atomic"
	"time"
)

// Client wraps an accepted connection for the connection's event loop.
type Client interface {
	// Read reads the next piece of data. The returned slice is valid until the next call.
	Read() ([]byte, error)
	Write([]byte) (int, error)
	// CloseWrite signals the end of output, leaving the reading direction open. When the
	// transport can't half-close, the connection is closed completely.
	CloseWrite() error
	// SetTimeout changes the idle read timeout. Zero disables it and cancels the
	// deadline of a read in progress.
	SetTimeout(time.Duration)
	Conn() net.Conn
	Remote() net.Addr
	Close() error
}

type client struct {
	conn    net.Conn
	buff    []byte
	timeout atomic.Int64
}

func NewClient(conn net.Conn, timeout time.Duration, buff []byte) Client {
	c := &client{
		conn: conn,
		buff: buff,
	}
	c.timeout.Store(int64(timeout))

	return c
}

// Read reads data into the internal buffer and returns a piece of it back. Timeouts are also
// handled automatically.
func (c *client) Read() ([]byte, error) {
	if timeout := time.Duration(c.timeout.Load()); timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, err
		}
	}

	n, err := c.conn.Read(c.buff)
	return c.buff[:n], err
}

func (c *client) Write(b []byte) (int, error) {
	return c.conn.Write(b)
}

type closeWriter interface {
	CloseWrite() error
}

func (c *client) CloseWrite() error {
	if cw, ok := c.conn.(closeWriter); ok {
		return cw.CloseWrite()
	}

	return c.conn.Close()
}

func (c *client) SetTimeout(timeout time.Duration) {
	c.timeout.Store(int64(timeout))
	if timeout == 0 {
		_ = c.conn.SetReadDeadline(time.Time{})
	}
}

// Conn unwraps the underlying net.Conn.
func (c *client) Conn() net.Conn {
	return c.conn
}

// Remote returns the remote address of the connection.
func (c *client) Remote() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *client) Close() error {
	return c.conn.Close()
}
