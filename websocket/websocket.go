// Package websocket runs websocket connections on top of the gateway. The opening
// handshake goes through the regular start-response callback, after which the
// connection is handed over to a run loop reading messages until the connection
// is closed.
package websocket

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"maps"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/coder/websocket"
	"github.com/indigo-web/awsgi/config"
	"github.com/indigo-web/awsgi/http/status"
	"github.com/indigo-web/awsgi/internal/metrics"
	"github.com/indigo-web/awsgi/wsgi"
	"go.uber.org/zap"
)

var (
	errNoProtocol  = errors.New("environ carries no protocol handle")
	errNotUpgraded = errors.New("connection can be hijacked only after switching protocols")
)

type Options struct {
	// ReadLimit is the maximal message size. Zero keeps the library's default.
	ReadLimit          int64
	Subprotocols       []string
	OriginPatterns     []string
	InsecureSkipVerify bool
	Logger             *zap.Logger
	Metrics            *metrics.Metrics
}

// NewOptions returns the options described by the config.
func NewOptions(cfg config.WebSocket, logger *zap.Logger, m *metrics.Metrics) Options {
	return Options{
		ReadLimit:          cfg.ReadLimit,
		Subprotocols:       cfg.Subprotocols,
		OriginPatterns:     cfg.OriginPatterns,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		Logger:             logger,
		Metrics:            m,
	}
}

// NewApplication returns an application accepting every request as a websocket
// connection.
func NewApplication(opts Options, onMessage MessageHandler) wsgi.Application {
	return wsgi.ApplicationFunc(func(env wsgi.Environ, start wsgi.StartResponse) (wsgi.Body, error) {
		return Upgrade(env, start, opts, onMessage)
	})
}

// Upgrade performs the opening handshake. On success, 101 Switching Protocols is
// written through start and the run loop is registered to take the connection over
// once the application returns; the returned body is nil then. A rejected handshake
// isn't an error: the error response is already started and its body is returned.
func Upgrade(env wsgi.Environ, start wsgi.StartResponse, opts Options, onMessage MessageHandler) (wsgi.Body, error) {
	proto := env.Protocol()
	if proto == nil {
		return nil, errNoProtocol
	}

	w := &responseWriter{
		start:  start,
		proto:  proto,
		header: make(http.Header),
	}

	ws, err := websocket.Accept(w, newRequest(env), &websocket.AcceptOptions{
		Subprotocols:       opts.Subprotocols,
		OriginPatterns:     opts.OriginPatterns,
		InsecureSkipVerify: opts.InsecureSkipVerify,
	})
	if err != nil {
		if w.status == 0 || w.err != nil {
			return nil, errors.Join(err, w.err)
		}

		_, _ = fmt.Fprintf(env.Errors(), "websocket handshake rejected: %s\n", err)
		return wsgi.Chunks(w.body...), nil
	}

	if opts.ReadLimit > 0 {
		ws.SetReadLimit(opts.ReadLimit)
	}

	conn := newConn(proto.ID(), ws, opts.Logger, opts.Metrics)
	proto.Upgrade(func(ctx context.Context, _ net.Conn) error {
		return conn.Run(ctx, onMessage)
	})

	return nil, nil
}

// newRequest rebuilds the handshake request from the environ.
func newRequest(env wsgi.Environ) *http.Request {
	header := make(http.Header)
	for key, value := range env {
		name, ok := strings.CutPrefix(key, "HTTP_")
		if !ok {
			continue
		}

		if v, ok := value.(string); ok {
			header.Set(strings.ReplaceAll(name, "_", "-"), v)
		}
	}

	u := &url.URL{Path: env.Path(), RawQuery: env.Query()}
	remote := env.Get(wsgi.KeyRemoteAddr)
	if port := env.Get(wsgi.KeyRemotePort); len(port) > 0 {
		remote = net.JoinHostPort(remote, port)
	}

	return &http.Request{
		Method:     env.Method(),
		URL:        u,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     header,
		Host:       env.Get(wsgi.KeyHost),
		RemoteAddr: remote,
		RequestURI: u.RequestURI(),
	}
}

// responseWriter lets the library write its handshake response through the
// start-response callback and hijack the connection via the protocol handle.
type responseWriter struct {
	start  wsgi.StartResponse
	proto  wsgi.Protocol
	header http.Header
	status int
	body   [][]byte
	err    error
}

var (
	_ http.ResponseWriter = new(responseWriter)
	_ http.Hijacker       = new(responseWriter)
)

func (w *responseWriter) Header() http.Header {
	return w.header
}

func (w *responseWriter) WriteHeader(code int) {
	if w.status != 0 {
		return
	}

	w.status = code
	switching := code == http.StatusSwitchingProtocols
	headers := make([]wsgi.Header, 0, len(w.header)+1)

	for _, key := range slices.Sorted(maps.Keys(w.header)) {
		if !switching && (key == "Connection" || key == "Upgrade") {
			// an error response must not be taken for the protocol switch
			continue
		}

		for _, value := range w.header[key] {
			headers = append(headers, wsgi.Header{Key: key, Value: value})
		}
	}

	if !switching {
		headers = append(headers, wsgi.Header{Key: "Connection", Value: "close"})
	}

	w.err = w.start(status.Line(status.Code(code)), headers)
}

// Write collects the body of an error response. It's returned from the application
// as is.
func (w *responseWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.WriteHeader(http.StatusOK)
	}

	w.body = append(w.body, slices.Clone(b))
	return len(b), w.err
}

func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	switch {
	case w.err != nil:
		return nil, nil, w.err
	case w.status != http.StatusSwitchingProtocols:
		return nil, nil, errNotUpgraded
	}

	conn := w.proto.Conn()
	return conn, bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn)), nil
}
