package websocket

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"syscall"

	"github.com/coder/websocket"
)

// ErrInvalidUTF8 terminates the connection when a text message isn't valid UTF-8.
var ErrInvalidUTF8 = errors.New("text message is not valid UTF-8")

// ProtocolError may be returned by a MessageHandler to fail the connection with
// the protocol error code.
type ProtocolError struct {
	Reason string
}

func (p *ProtocolError) Error() string {
	return "websocket protocol violation: " + p.Reason
}

// readError marks failures of receiving a message, as opposed to the ones returned
// by the message handler.
type readError struct {
	err error
}

func (r *readError) Error() string {
	return r.err.Error()
}

func (r *readError) Unwrap() error {
	return r.err
}

// CloseCode maps the error that terminated a connection onto the close code the
// connection is closed with.
func CloseCode(err error) websocket.StatusCode {
	if err == nil {
		return websocket.StatusNormalClosure
	}

	if code := websocket.CloseStatus(err); code != -1 {
		// the peer initiated the closing handshake
		return code
	}

	var protoErr *ProtocolError

	switch {
	case errors.As(err, &protoErr):
		return websocket.StatusProtocolError
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return websocket.StatusGoingAway
	case errors.Is(err, ErrInvalidUTF8):
		return websocket.StatusInvalidFramePayloadData
	case errors.Is(err, websocket.ErrMessageTooBig):
		return websocket.StatusMessageTooBig
	case isBroken(err):
		return websocket.StatusAbnormalClosure
	case errors.As(err, new(*readError)):
		// whatever the library refuses to read that isn't an I/O failure is a
		// malformed frame
		return websocket.StatusProtocolError
	default:
		return websocket.StatusInternalError
	}
}

// isBroken reports whether the connection itself failed, leaving no way to complete
// the closing handshake.
func isBroken(err error) bool {
	var (
		netErr net.Error
		errno  syscall.Errno
	)

	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.As(err, &errno) ||
		errors.As(err, &netErr)
}

// closeReason returns the reason sent along with the close frame. It must fit into
// a control frame together with the code.
func closeReason(code websocket.StatusCode, cause error) string {
	var protoErr *ProtocolError
	if errors.As(cause, &protoErr) {
		reason := protoErr.Reason
		if len(reason) > maxReasonLength {
			reason = reason[:maxReasonLength]
		}

		return reason
	}

	switch code {
	case websocket.StatusGoingAway:
		return "server is shutting down"
	case websocket.StatusProtocolError:
		return "protocol violation"
	case websocket.StatusInvalidFramePayloadData:
		return "invalid UTF-8"
	case websocket.StatusMessageTooBig:
		return "message too big"
	case websocket.StatusInternalError:
		return "internal error"
	default:
		return ""
	}
}

const maxReasonLength = 123
