package http1

import (
	"context"
	"net"

	"github.com/google/uuid"
	"github.com/indigo-web/awsgi/config"
	"github.com/indigo-web/awsgi/internal/blockio"
	"github.com/indigo-web/awsgi/internal/metrics"
	"github.com/indigo-web/awsgi/transport"
	"github.com/indigo-web/awsgi/wsgi"
	"go.uber.org/zap"
)

// Server holds everything the connections of a single listener share.
type Server struct {
	cfg        *config.Config
	handler    wsgi.Handler
	dispatcher *Dispatcher
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewServer returns a server running the handler. Nil logger and metrics are replaced
// with no-op ones.
func NewServer(cfg *config.Config, handler wsgi.Handler, logger *zap.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	if m == nil {
		m = metrics.New()
	}

	return &Server{
		cfg:        cfg,
		handler:    handler,
		dispatcher: NewDispatcher(cfg.Workers.Size, m),
		logger:     logger,
		metrics:    m,
	}
}

// Serve serves the connection until it's done with and closes it. The scheme is
// either http or https. Cancelling the context shuts the connection down: idle
// connections are closed at once, running applications and upgrade handlers see
// the cancellation.
func (s *Server) Serve(ctx context.Context, conn net.Conn, scheme string) {
	s.metrics.Accepted.Inc()
	s.metrics.Active.Inc()
	defer s.metrics.Active.Dec()

	c := s.newConn(ctx, conn, scheme)
	c.logger.Debug("accepted connection")
	c.serve()
}

func (s *Server) newConn(ctx context.Context, conn net.Conn, scheme string) *Conn {
	id := uuid.NewString()
	client := transport.NewClient(conn, s.cfg.NET.ReadTimeout, make([]byte, s.cfg.NET.ReadBufferSize))

	c := &Conn{
		srv:    s,
		ctx:    ctx,
		id:     id,
		scheme: scheme,
		client: client,
		logger: s.logger.With(
			zap.String("conn", id),
			zap.String("remote", addrString(conn.RemoteAddr())),
		),
		state:   awaitingRequest,
		headers: make(map[string]string),
		body:    blockio.New(),
		handoff: newHandoff(conn),
		signals: make(chan signal, 2),
	}
	c.parser = NewParser(s.cfg, c)

	return c
}
