package websocket

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"unicode/utf8"

	"github.com/coder/websocket"
	"github.com/indigo-web/awsgi/internal/metrics"
	"go.uber.org/zap"
)

type State uint32

const (
	OpeningHandshake State = iota
	Open
	ClosingHandshake
	Closed
)

func (s State) String() string {
	switch s {
	case OpeningHandshake:
		return "opening handshake"
	case Open:
		return "open"
	case ClosingHandshake:
		return "closing handshake"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Message is a single complete data message.
type Message struct {
	Type websocket.MessageType
	Data []byte
}

// MessageHandler is called for every received message, one at a time, in the order
// the messages arrived. A non-nil error terminates the connection; return a
// *ProtocolError to close it with the protocol error code.
type MessageHandler func(ctx context.Context, conn *Conn, msg Message) error

// transport is the part of *websocket.Conn the run loop relies on.
type transport interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
	CloseNow() error
	Subprotocol() string
}

// Conn is an established websocket connection driven by its run loop.
type Conn struct {
	id        string
	transport transport
	logger    *zap.Logger
	metrics   *metrics.Metrics
	state     atomic.Uint32
	code      atomic.Int32
}

func newConn(id string, t transport, logger *zap.Logger, m *metrics.Metrics) *Conn {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Conn{
		id:        id,
		transport: t,
		logger:    logger.With(zap.String("conn", id)),
		metrics:   m,
	}
}

// ID returns the identifier of the underlying HTTP connection.
func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) State() State {
	return State(c.state.Load())
}

// CloseCode returns the code the connection was closed with. Valid once the state
// is Closed.
func (c *Conn) CloseCode() websocket.StatusCode {
	return websocket.StatusCode(c.code.Load())
}

func (c *Conn) Subprotocol() string {
	return c.transport.Subprotocol()
}

// Write sends a data message. It's safe to call concurrently with the run loop.
func (c *Conn) Write(ctx context.Context, typ websocket.MessageType, data []byte) error {
	return c.transport.Write(ctx, typ, data)
}

// Run receives messages until the connection is terminated and always performs the
// closing procedure before returning. Only unexpected failures are returned, after
// the connection was closed with the internal error code.
func (c *Conn) Run(ctx context.Context, onMessage MessageHandler) error {
	c.state.Store(uint32(Open))
	cause := c.receive(ctx, onMessage)

	return c.shutdown(cause)
}

func (c *Conn) receive(ctx context.Context, onMessage MessageHandler) error {
	for {
		typ, data, err := c.transport.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			return &readError{err}
		}

		if typ == websocket.MessageText && !utf8.Valid(data) {
			return ErrInvalidUTF8
		}

		if c.metrics != nil {
			c.metrics.WSMessages.WithLabelValues(typ.String()).Inc()
		}

		if err = onMessage(ctx, c, Message{Type: typ, Data: data}); err != nil {
			return err
		}
	}
}

func (c *Conn) shutdown(cause error) error {
	c.state.Store(uint32(ClosingHandshake))
	code := CloseCode(cause)
	unexpected := false

	switch {
	case code == websocket.StatusAbnormalClosure:
		_ = c.transport.CloseNow()
	case websocket.CloseStatus(cause) != -1:
		// the closing handshake is already completed
		_ = c.transport.CloseNow()
	case code == websocket.StatusInternalError:
		_ = c.transport.Close(code, closeReason(code, cause))
		unexpected = true
	default:
		_ = c.transport.Close(code, closeReason(code, cause))
	}

	c.code.Store(int32(code))
	c.state.Store(uint32(Closed))

	if c.metrics != nil {
		c.metrics.WSClosures.WithLabelValues(strconv.Itoa(int(code))).Inc()
	}

	if unexpected {
		c.logger.Error("websocket connection failed", zap.Error(cause))
		return fmt.Errorf("websocket connection failed: %w", cause)
	}

	switch code {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		c.logger.Debug("websocket connection closed", zap.Stringer("code", code))
	default:
		c.logger.Warn("websocket connection closed",
			zap.Stringer("code", code),
			zap.NamedError("cause", cause),
		)
	}

	return nil
}
