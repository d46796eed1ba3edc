package http1

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/indigo-web/awsgi/internal/blockio"
)

// handoff is the connection as seen by whoever takes it over after the HTTP exchange.
// The transport is read by the event loop only, so reads are served from the bytes
// the loop routes here. Writes go straight to the transport.
type handoff struct {
	net.Conn
	inbound *blockio.Buffer
	once    sync.Once
}

func newHandoff(conn net.Conn) *handoff {
	return &handoff{
		Conn:    conn,
		inbound: blockio.New(),
	}
}

func (h *handoff) Read(p []byte) (int, error) {
	return h.inbound.Read(p)
}

// feed routes incoming bytes to the readers.
func (h *handoff) feed(data []byte) {
	_, _ = h.inbound.Write(data)
}

// end makes the reads return err (io.EOF if nil) once everything fed is consumed.
func (h *handoff) end(err error) {
	if err == nil {
		err = io.EOF
	}

	h.inbound.Fail(err)
}

func (h *handoff) Close() error {
	var err error
	h.once.Do(func() {
		h.inbound.Fail(net.ErrClosed)
		err = h.Conn.Close()
	})

	return err
}

func (h *handoff) SetDeadline(t time.Time) error {
	h.inbound.SetReadDeadline(t)
	return h.Conn.SetWriteDeadline(t)
}

func (h *handoff) SetReadDeadline(t time.Time) error {
	h.inbound.SetReadDeadline(t)
	return nil
}
