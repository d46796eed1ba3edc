package transport

import (
	"net"

	"github.com/indigo-web/awsgi/config"
)

// Handler serves a single accepted connection. The connection is closed once the
// handler returns.
type Handler func(conn net.Conn)

// Transport accepts connections on a single address and hands every one of them to
// the handler in its own goroutine.
type Transport interface {
	Bind(addr string) error
	Listen(cfg config.NET, h Handler) error
	// Addr returns the bound address. Valid after a successful Bind.
	Addr() net.Addr
	// Scheme is what applications see as the URL scheme of requests coming through
	// the transport.
	Scheme() string
	Stop()
	Close()
	Wait()
}
