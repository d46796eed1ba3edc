// Package wsgi describes the contract between the gateway and the applications it runs:
// an application receives a request environment and a start-response callback and
// returns a lazy sequence of body chunks.
package wsgi

import (
	"context"
	"io"
	"iter"
	"net"
)

// Header is a single response header field. Order is preserved on the wire.
type Header struct {
	Key, Value string
}

// StartResponse writes the status line and the headers to the client immediately.
// The status is passed the WSGI way, e.g. "200 OK".
type StartResponse func(status string, headers []Header) error

// Body is the lazily produced response body. Every yielded chunk is written to the
// client as soon as it is produced; a non-nil error stops the response.
type Body = iter.Seq2[[]byte, error]

type Application interface {
	Call(env Environ, start StartResponse) (Body, error)
}

type ApplicationFunc func(env Environ, start StartResponse) (Body, error)

func (f ApplicationFunc) Call(env Environ, start StartResponse) (Body, error) {
	return f(env, start)
}

// Kind tells the gateway how an application must be executed.
type Kind uint8

const (
	// Cooperative applications are started right away in their own goroutine. They
	// are expected to spend their time waiting on I/O rather than computing.
	Cooperative Kind = iota + 1
	// Blocking applications run on the bounded worker pool, so a stalled body read
	// or a slow computation can't pile up unbounded goroutines.
	Blocking
)

func (k Kind) String() string {
	switch k {
	case Cooperative:
		return "cooperative"
	case Blocking:
		return "blocking"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Kind.String. Unknown names yield zero.
func ParseKind(name string) Kind {
	switch name {
	case "cooperative":
		return Cooperative
	case "blocking":
		return Blocking
	default:
		return 0
	}
}

// Handler binds an application to its execution kind. The kind is resolved once, when
// the server is constructed.
type Handler struct {
	Kind Kind
	App  Application
}

func NewCooperative(app Application) Handler {
	return Handler{Kind: Cooperative, App: app}
}

func NewBlocking(app Application) Handler {
	return Handler{Kind: Blocking, App: app}
}

// Input is the request body stream. Reads block until the requested bytes arrive from
// the network or the body is over.
type Input interface {
	io.Reader
	// ReadN returns at most size bytes (all buffered ones for a negative size).
	ReadN(size int) ([]byte, error)
	// ReadLine returns the next line including the line feed.
	ReadLine(size int) ([]byte, error)
}

// UpgradeHandler takes over a connection after the HTTP exchange is done. The context
// is cancelled when the server shuts down.
type UpgradeHandler func(ctx context.Context, conn net.Conn) error

// Protocol is the handle back to the connection serving the request.
type Protocol interface {
	// ID uniquely identifies the connection.
	ID() string
	RemoteAddr() net.Addr
	// Conn returns the raw transport. Reading from it yields only the bytes that
	// arrive after the request head, and only once the application returned.
	Conn() net.Conn
	// Upgrade hands the connection over to h once the application's response is
	// complete. The automatic half-close is suppressed.
	Upgrade(h UpgradeHandler)
}

// Chunks returns a body yielding the given chunks in order.
func Chunks(chunks ...[]byte) Body {
	return func(yield func([]byte, error) bool) {
		for _, chunk := range chunks {
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

// String returns a body consisting of a single chunk.
func String(body string) Body {
	return Chunks([]byte(body))
}

// Empty returns a body yielding nothing.
func Empty() Body {
	return func(func([]byte, error) bool) {}
}
