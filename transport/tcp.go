package transport

import (
	"crypto/tls"
	"errors"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/indigo-web/awsgi/config"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

type listener interface {
	net.Listener
	SetDeadline(t time.Time) error
}

// TCP serves plain HTTP.
type TCP struct {
	l       listener
	scheme  string
	conns   sync.WaitGroup
	stopped atomic.Bool
}

func NewTCP() *TCP {
	return &TCP{scheme: "http"}
}

func bindTCP(addr string) (*net.TCPListener, error) {
	tcpaddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, err
	}

	return net.ListenTCP("tcp", tcpaddr)
}

func (t *TCP) Bind(addr string) (err error) {
	t.l, err = bindTCP(addr)
	return err
}

func (t *TCP) Addr() net.Addr {
	return t.l.Addr()
}

func (t *TCP) Scheme() string {
	return t.scheme
}

// Listen accepts connections until stopped. Accepting is interrupted every
// AcceptLoopInterruptPeriod to notice the stop. Running out of file descriptors
// doesn't stop the loop: it backs off and tries again.
func (t *TCP) Listen(cfg config.NET, h Handler) error {
	var backoff time.Duration

	for !t.stopped.Load() {
		if err := t.l.SetDeadline(time.Now().Add(cfg.AcceptLoopInterruptPeriod)); err != nil {
			return err
		}

		conn, err := t.l.Accept()
		switch {
		case err == nil:
			backoff = 0
		case errors.Is(err, os.ErrDeadlineExceeded):
			continue
		case isExhausted(err):
			backoff = min(max(2*backoff, minAcceptBackoff), maxAcceptBackoff)
			time.Sleep(backoff)
			continue
		default:
			return err
		}

		if cfg.NoDelay {
			NoDelay(conn)
		}

		t.conns.Add(1)
		go t.serve(conn, h)
	}

	return nil
}

func (t *TCP) serve(conn net.Conn, h Handler) {
	defer t.conns.Done()

	h(conn)
	_ = conn.Close()
}

func (t *TCP) Stop() {
	t.stopped.Store(true)
}

func (t *TCP) Close() {
	if t.l != nil {
		_ = t.l.Close()
	}
}

// Wait blocks until every accepted connection is served.
func (t *TCP) Wait() {
	t.conns.Wait()
}

func isExhausted(err error) bool {
	return errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE) ||
		errors.Is(err, syscall.ECONNABORTED)
}

// NoDelay disables Nagle's algorithm on the connection, so small writes like a freshly
// started response's head leave immediately. Connections that don't support it are
// left as they are.
func NoDelay(conn net.Conn) bool {
	if tlsConn, ok := conn.(*tls.Conn); ok {
		conn = tlsConn.NetConn()
	}

	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return false
	}

	return tcp.SetNoDelay(true) == nil
}
