// Package awsgi serves WSGI-style applications over HTTP/1.1: every request is
// described by an environ, answered through a start-response callback and a lazily
// produced body, and may be upgraded to a persistent protocol like websocket.
package awsgi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/indigo-web/awsgi/config"
	"github.com/indigo-web/awsgi/internal/metrics"
	"github.com/indigo-web/awsgi/internal/protocol/http1"
	"github.com/indigo-web/awsgi/transport"
	"github.com/indigo-web/awsgi/wsgi"
	"go.uber.org/zap"
)

type listener struct {
	addr string
	// transport may fail when it needs certificates loaded.
	transport func() (transport.Transport, error)
}

// App is the gateway: a set of listeners serving a single application.
type App struct {
	addr       string
	cfg        *config.Config
	logger     *zap.Logger
	metrics    *metrics.Metrics
	listeners  []listener
	supervisor *transport.Supervisor
	onStart    func()
	ctx        context.Context
	cancel     context.CancelFunc
	mu         sync.Mutex
	metricsSrv *http.Server
}

// New returns an application listening for plain HTTP on addr, in a host:port form.
func New(addr string) *App {
	ctx, cancel := context.WithCancel(context.Background())
	supervisor := transport.NewSupervisor()
	// a failed listener brings the app down just like Stop does
	supervisor.OnShutdown(cancel)

	return &App{
		addr:       addr,
		cfg:        config.Default(),
		logger:     zap.NewNop(),
		metrics:    metrics.New(),
		supervisor: supervisor,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Tune replaces the default config.
func (a *App) Tune(cfg *config.Config) *App {
	a.cfg = cfg
	return a
}

// Logger replaces the default no-op logger.
func (a *App) Logger(logger *zap.Logger) *App {
	if logger != nil {
		a.logger = logger
	}

	return a
}

// NotifyOnStart calls the callback once all the listeners are bound. It isn't strongly
// guaranteed that they're accepting connections at that moment.
func (a *App) NotifyOnStart(cb func()) *App {
	a.onStart = cb
	return a
}

// Listen adds another plain HTTP listener.
func (a *App) Listen(addr string) *App {
	return a.listen(addr, func() (transport.Transport, error) {
		return transport.NewTCP(), nil
	})
}

func (a *App) listen(addr string, t func() (transport.Transport, error)) *App {
	a.listeners = append(a.listeners, listener{
		addr:      addr,
		transport: t,
	})

	return a
}

// Metrics returns the collectors the app records to, so the components built around
// the app (like websocket options) report to the same registry.
func (a *App) Metrics() *metrics.Metrics {
	return a.metrics
}

// MetricsHandler exposes the collected metrics in the prometheus format.
func (a *App) MetricsHandler() http.Handler {
	return a.metrics.Handler()
}

// Serve binds all the listeners and serves the handler until Stop is called or any
// of the listeners fails. The handler's kind decides how the application is run.
func (a *App) Serve(handler wsgi.Handler) error {
	if handler.App == nil {
		return errors.New("awsgi: no application")
	}

	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("awsgi: %w", err)
	}

	srv := http1.NewServer(a.cfg, handler, a.logger, a.metrics)
	listeners := append([]listener{{
		addr: a.addr,
		transport: func() (transport.Transport, error) {
			return transport.NewTCP(), nil
		},
	}}, a.listeners...)

	transports := make([]transport.Transport, len(listeners))
	for i, l := range listeners {
		t, err := l.transport()
		if err != nil {
			return fmt.Errorf("awsgi: %s: %w", l.addr, err)
		}

		transports[i] = t
	}

	if err := a.serveMetrics(); err != nil {
		return err
	}

	for i, l := range listeners {
		scheme := transports[i].Scheme()
		err := a.supervisor.Add(l.addr, transports[i], func(conn net.Conn) {
			srv.Serve(a.ctx, conn, scheme)
		})
		if err != nil {
			a.stopMetrics()
			return fmt.Errorf("awsgi: binding %s: %w", l.addr, err)
		}
	}

	for _, addr := range a.supervisor.Addrs() {
		a.logger.Info("listening", zap.Stringer("addr", addr))
	}

	if a.onStart != nil {
		a.onStart()
	}

	err := a.supervisor.Run(a.cfg.NET)
	a.stopMetrics()

	return err
}

// Addrs returns the addresses the listeners are bound to. Valid once the start
// notification is called.
func (a *App) Addrs() []net.Addr {
	return a.supervisor.Addrs()
}

// Stop shuts the application down: listeners stop accepting, idle connections are
// closed, running applications and upgraded connections are notified via
// cancellation. Stop returns once every connection is done with.
func (a *App) Stop() {
	a.cancel()
	a.supervisor.Stop()
}

func (a *App) serveMetrics() error {
	if len(a.cfg.Metrics.Addr) == 0 {
		return nil
	}

	ln, err := net.Listen("tcp", a.cfg.Metrics.Addr)
	if err != nil {
		return fmt.Errorf("awsgi: metrics endpoint: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, a.metrics.Handler())
	srv := &http.Server{Handler: mux}

	a.mu.Lock()
	a.metricsSrv = srv
	a.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics endpoint failed", zap.Error(err))
		}
	}()

	a.logger.Info("serving metrics", zap.Stringer("addr", ln.Addr()), zap.String("path", a.cfg.Metrics.Path))

	return nil
}

func (a *App) stopMetrics() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.metricsSrv != nil {
		_ = a.metricsSrv.Close()
	}
}
