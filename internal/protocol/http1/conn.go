package http1

import (
	"context"
	"errors"
	"io"
	"time"
	"unicode/utf8"

	"github.com/indigo-web/awsgi/http/status"
	"github.com/indigo-web/awsgi/internal/blockio"
	"github.com/indigo-web/awsgi/transport"
	"github.com/indigo-web/awsgi/wsgi"
	"github.com/indigo-web/utils/strcomp"
	"github.com/indigo-web/utils/uf"
	"go.uber.org/zap"
)

type connState uint8

const (
	awaitingRequest connState = iota + 1
	parsingHeaders
	dispatched
	streamingResponse
	closed
	upgraded
)

func (c connState) String() string {
	switch c {
	case awaitingRequest:
		return "awaiting request"
	case parsingHeaders:
		return "parsing headers"
	case dispatched:
		return "dispatched"
	case streamingResponse:
		return "streaming response"
	case closed:
		return "closed"
	case upgraded:
		return "upgraded"
	default:
		return "unknown"
	}
}

const (
	// lingerTimeout bounds the wait for the peer to finish after our half-close.
	lingerTimeout = 2 * time.Second
	// maxPending bounds the bytes received past the request, kept until it's known
	// whether the connection is going to be upgraded.
	maxPending = 64 * 1024
)

type readResult struct {
	data []byte
	err  error
}

// Conn serves a single request on a single connection. Everything but the body buffer
// and the exchange is owned by the goroutine running serve, which is the connection's
// event loop.
type Conn struct {
	srv     *Server
	ctx     context.Context
	id      string
	scheme  string
	client  transport.Client
	logger  *zap.Logger
	parser  *Parser
	state   connState
	url     []byte
	headers map[string]string
	body    *blockio.Buffer
	handoff *handoff
	ex      *exchange
	signals chan signal
	// outcomes is nil until the application is dispatched and after its outcome is
	// received.
	outcomes <-chan Outcome
	// upgradeDone is nil unless an upgrade handler is running.
	upgradeDone chan error
	pending     []byte
	// readErr is what ended the incoming stream, once peerClosed is set.
	readErr error
	// peerClosed is set once the peer is done sending.
	peerClosed       bool
	upgradeRequested bool
	messageComplete  bool
	// broken is set when the request stream can't be consumed anymore after the
	// application was dispatched. Such connections are closed completely.
	broken bool
	// discard drops every incoming byte. Set for upgraded connections nobody took over.
	discard bool
}

// serve runs the event loop until the connection is done with. The transport is
// closed on return.
func (c *Conn) serve() {
	defer func() {
		_ = c.client.Close()
	}()

	reads := make(chan readResult)
	next := make(chan struct{})
	done := make(chan struct{})
	defer close(done)
	go c.readLoop(reads, next, done)

	var linger <-chan time.Time
	ctxDone := c.ctx.Done()

	for {
		select {
		case r := <-reads:
			if !c.onRead(r) {
				return
			}

			if r.err != nil {
				reads = nil
				break
			}

			next <- struct{}{}
		case sig := <-c.signals:
			c.onSignal(sig)
		case out := <-c.outcomes:
			c.outcomes = nil
			if !c.finalize(out) {
				return
			}

			if c.state == closed {
				linger = time.After(lingerTimeout)
			}
		case err := <-c.upgradeDone:
			if err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Error("upgrade handler failed", zap.Error(err))
			}

			c.logger.Debug("upgraded connection is done")
			_ = c.handoff.Close()
			return
		case <-linger:
			return
		case <-ctxDone:
			ctxDone = nil

			switch c.state {
			case dispatched, streamingResponse:
				// unblocks applications waiting for the body
				c.body.Fail(context.Canceled)
			case upgraded:
				if c.upgradeDone == nil {
					return
				}
			default:
				return
			}
		}

		if reads == nil && c.waitsForInput() {
			// nothing is going to happen anymore
			return
		}
	}
}

// waitsForInput reports whether the loop has nothing to wait for but the transport.
func (c *Conn) waitsForInput() bool {
	switch c.state {
	case awaitingRequest, parsingHeaders, closed:
		return true
	case upgraded:
		return c.upgradeDone == nil
	default:
		return false
	}
}

func (c *Conn) readLoop(reads chan<- readResult, next, done <-chan struct{}) {
	for {
		data, err := c.client.Read()
		select {
		case reads <- readResult{data: data, err: err}:
		case <-done:
			return
		}

		if err != nil {
			return
		}

		select {
		case <-next:
		case <-done:
			return
		}
	}
}

// onRead handles a piece of the incoming stream. Returns false if the connection
// must be closed.
func (c *Conn) onRead(r readResult) bool {
	if len(r.data) > 0 && !c.onData(r.data) {
		return false
	}

	if r.err == nil {
		return true
	}

	c.peerClosed = true
	c.readErr = r.err
	c.body.FeedEOF()
	if c.upgradeRequested {
		c.handoff.end(r.err)
	}

	if !errors.Is(r.err, io.EOF) {
		c.logger.Debug("read failed", zap.Error(r.err), zap.Stringer("state", c.state))
	}

	return true
}

func (c *Conn) onData(data []byte) bool {
	switch {
	case c.state == closed, c.discard:
		return true
	case c.upgradeRequested:
		c.handoff.feed(data)
		return true
	case c.messageComplete, c.broken:
		if len(c.pending)+len(data) <= maxPending {
			c.pending = append(c.pending, data...)
		}

		return true
	}

	if c.state == awaitingRequest {
		c.state = parsingHeaders
	}

	extra, err := c.parser.Feed(data)
	switch {
	case err == nil:
		if len(extra) > 0 {
			c.pending = append(c.pending, extra...)
		}

		return true
	case errors.Is(err, ErrUpgrade):
		c.pending = append(c.pending, extra...)
		c.requestUpgrade()

		return true
	case c.state == dispatched || c.state == streamingResponse:
		c.logger.Debug("request body stream broken", zap.Error(err))
		c.body.Fail(err)
		c.broken = true

		return true
	case errors.Is(err, status.ErrBodyTooLarge):
		_, _ = c.client.Write(tooLargeResponse)
		return false
	default:
		c.logger.Debug("malformed request", zap.Error(err))
		c.srv.metrics.ParseErrors.Inc()

		return false
	}
}

func (c *Conn) onSignal(sig signal) {
	if sig&signalStarted != 0 && c.state == dispatched {
		c.state = streamingResponse
	}

	if sig&signalUpgrade != 0 {
		c.requestUpgrade()
	}
}

// requestUpgrade makes every further byte bypass the parser.
func (c *Conn) requestUpgrade() {
	if c.upgradeRequested {
		return
	}

	c.upgradeRequested = true
	c.body.FeedEOF()

	if len(c.pending) > 0 {
		c.handoff.feed(c.pending)
		c.pending = nil
	}

	// the stream might have ended before anyone asked for the upgrade
	if c.peerClosed {
		c.handoff.end(c.readErr)
	}
}

// finalize completes the HTTP exchange. Returns false if the connection must be
// closed right away.
func (c *Conn) finalize(out Outcome) bool {
	if out.Err != nil {
		var appErr *AppError
		stage := StageCall
		if errors.As(out.Err, &appErr) {
			stage = appErr.Stage
		}

		c.srv.metrics.AppErrors.WithLabelValues(stage.String()).Inc()
		c.logger.Error("application failed",
			zap.Error(out.Err),
			zap.Stringer("stage", stage),
			zap.Bool("response_started", out.Started),
		)
	}

	if out.Upgrade || out.Hijacked || out.Handler != nil {
		c.requestUpgrade()
	}

	if c.broken {
		return false
	}

	if c.upgradeRequested {
		c.state = upgraded
		c.client.SetTimeout(0)
		c.srv.metrics.Upgrades.Inc()

		switch {
		case out.Handler != nil:
			c.logger.Debug("connection upgraded")
			c.upgradeDone = make(chan error, 1)
			go func(h wsgi.UpgradeHandler) {
				c.upgradeDone <- h(c.ctx, c.handoff)
			}(out.Handler)
		case out.Hijacked:
			c.logger.Debug("connection hijacked")
		default:
			c.logger.Debug("upgrade requested, but nobody took the connection over")
			c.discard = true
		}

		return true
	}

	c.state = closed
	c.pending = nil
	if c.peerClosed {
		return false
	}

	if err := c.client.CloseWrite(); err != nil {
		c.logger.Debug("half-close failed", zap.Error(err))
		return false
	}

	return true
}

func (c *Conn) OnURL(url []byte) {
	c.url = url
}

func (c *Conn) OnHeader(name, value []byte) {
	if !utf8.Valid(name) || !utf8.Valid(value) {
		c.logger.Warn("dropping undecodable header", zap.ByteString("name", name))
		return
	}

	// the parser's memory is never reused during the connection's lifetime
	key := uf.B2S(name)
	switch {
	case strcomp.EqualFold(key, "Content-Type"):
		key = wsgi.KeyContentType
	case strcomp.EqualFold(key, "Content-Length"):
		key = wsgi.KeyContentLength
	default:
		key = wsgi.HeaderKey(key)
	}

	c.headers[key] = uf.B2S(value)
}

func (c *Conn) OnHeadersComplete() error {
	limit := c.srv.cfg.Body.MaxSize
	if length := c.parser.ContentLength(); limit > 0 && length > 0 && uint64(length) > limit {
		return status.ErrBodyTooLarge
	}

	c.state = dispatched
	c.ex = newExchange(c.id, c.client, c.handoff, c.signals)
	c.outcomes = c.srv.dispatcher.Dispatch(c.ctx, c.srv.handler, request{
		id:       c.id,
		method:   c.parser.Method(),
		target:   uf.B2S(c.url),
		scheme:   c.scheme,
		headers:  c.headers,
		remote:   c.client.Remote(),
		local:    c.client.Conn().LocalAddr(),
		input:    c.body,
		errors:   logWriter{logger: c.logger},
		protocol: c.ex,
	}, c.ex)

	return nil
}

func (c *Conn) OnBody(piece []byte) error {
	c.srv.metrics.BodyBytes.Add(float64(len(piece)))

	if limit := c.srv.cfg.Body.MaxSize; limit > 0 && uint64(c.body.Size()+len(piece)) > limit {
		c.body.Fail(status.ErrBodyTooLarge)
		return status.ErrBodyTooLarge
	}

	_, err := c.body.Write(piece)
	return err
}

func (c *Conn) OnMessageComplete() {
	c.messageComplete = true
	c.body.FeedEOF()
	c.client.SetTimeout(0)
}

var tooLargeResponse = []byte(
	"HTTP/1.1 " + status.Line(status.RequestEntityTooLarge) + "\r\n" +
		"Connection: close\r\n" +
		"Content-Length: 0\r\n\r\n",
)
