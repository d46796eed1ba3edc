package http1

import (
	"errors"
	"net"
	"strings"

	"github.com/indigo-web/awsgi/transport"
	"github.com/indigo-web/awsgi/wsgi"
	"github.com/indigo-web/utils/strcomp"
)

var (
	errResponseStarted = errors.New("response is already started")
	errNotStarted      = errors.New("response body written before the response was started")
	errNeverStarted    = errors.New("application returned without starting the response")
	errHijacked        = errors.New("connection is hijacked")
	errBadHeader       = errors.New("response header contains a line break")
)

// signal notifies the event loop about what the application did with the response.
type signal uint8

const (
	signalStarted signal = 1 << iota
	signalUpgrade
)

// exchange is the application's side of a single request: the start-response callback,
// the body sink and the protocol handle. It's used exclusively by the goroutine running
// the application; the event loop reads it only after the outcome is delivered.
type exchange struct {
	id             string
	client         transport.Client
	handoff        *handoff
	signals        chan<- signal
	buff           []byte
	started        bool
	hijacked       bool
	upgrade        bool
	contentLength  bool
	status         string
	headers        []wsgi.Header
	upgradeHandler wsgi.UpgradeHandler
}

var _ wsgi.Protocol = new(exchange)

// newExchange expects signals to have room for at least two values: start-response
// and hijacking send one each, at most once.
func newExchange(id string, client transport.Client, h *handoff, signals chan<- signal) *exchange {
	return &exchange{
		id:      id,
		client:  client,
		handoff: h,
		signals: signals,
		buff:    make([]byte, 0, 512),
	}
}

// StartResponse writes the status line and the headers right away. Nothing is
// validated against the body that follows.
func (e *exchange) StartResponse(status string, headers []wsgi.Header) error {
	switch {
	case e.started:
		return errResponseStarted
	case e.hijacked:
		return errHijacked
	}

	buff := append(e.buff[:0], "HTTP/1.1 "...)
	buff = append(buff, status...)
	buff = append(buff, crlf...)

	for _, header := range headers {
		if strings.ContainsAny(header.Key, "\r\n") || strings.ContainsAny(header.Value, "\r\n") {
			return errBadHeader
		}

		switch len(header.Key) {
		case 10:
			if strcomp.EqualFold(header.Key, "Connection") && hasToken(header.Value, "upgrade") {
				e.upgrade = true
			}
		case 14:
			if strcomp.EqualFold(header.Key, "Content-Length") {
				e.contentLength = true
			}
		}

		buff = append(buff, header.Key...)
		buff = append(buff, ": "...)
		buff = append(buff, header.Value...)
		buff = append(buff, crlf...)
	}

	buff = append(buff, crlf...)
	e.buff = buff
	e.started = true
	e.status = status
	e.headers = headers

	sig := signalStarted
	if e.upgrade {
		sig |= signalUpgrade
	}

	// the loop must start routing the incoming bytes to the handoff before the client
	// is able to see the response
	e.signals <- sig

	_, err := e.client.Write(buff)
	return err
}

// Write sends a piece of the response body.
func (e *exchange) Write(chunk []byte) error {
	switch {
	case e.hijacked:
		return errHijacked
	case !e.started:
		return errNotStarted
	case len(chunk) == 0:
		return nil
	}

	_, err := e.client.Write(chunk)
	return err
}

func (e *exchange) ID() string {
	return e.id
}

func (e *exchange) RemoteAddr() net.Addr {
	return e.client.Remote()
}

// Conn hijacks the connection. From now on, the event loop routes every byte past
// the request head to the returned connection and never writes anything itself.
func (e *exchange) Conn() net.Conn {
	if !e.hijacked {
		e.hijacked = true
		e.signals <- signalUpgrade
	}

	return e.handoff
}

func (e *exchange) Upgrade(h wsgi.UpgradeHandler) {
	e.upgradeHandler = h
}

const crlf = "\r\n"
