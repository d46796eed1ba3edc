package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/indigo-web/awsgi/config"
	"golang.org/x/sync/errgroup"
)

// Supervisor runs several transports at once. The first one to return, with an error
// or without, brings down the rest; Stop shuts them all down gracefully, waiting for
// the served connections.
type Supervisor struct {
	ts      []bound
	onStop  []func()
	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

type bound struct {
	addr string
	t    Transport
	h    Handler
}

func NewSupervisor() *Supervisor {
	return new(Supervisor)
}

// OnShutdown registers a callback called once the transports stop accepting and
// before the served connections are waited for. It must make them return, whatever
// brought the supervisor down.
func (s *Supervisor) OnShutdown(cb func()) {
	s.onStop = append(s.onStop, cb)
}

// Add binds the transport to the address. On failure, every previously added
// transport is closed.
func (s *Supervisor) Add(addr string, t Transport, h Handler) error {
	if err := t.Bind(addr); err != nil {
		s.close()
		return err
	}

	s.ts = append(s.ts, bound{addr: addr, t: t, h: h})

	return nil
}

// Addrs returns the addresses of all the added transports in order of addition.
func (s *Supervisor) Addrs() []net.Addr {
	addrs := make([]net.Addr, 0, len(s.ts))
	for _, b := range s.ts {
		addrs = append(addrs, b.t.Addr())
	}

	return addrs
}

// Run serves all the added transports until either Stop is called or any of them
// returns. The returned error is the first listener failure, if any.
func (s *Supervisor) Run(cfg config.NET) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.mu.Lock()
	if s.stopped || len(s.ts) == 0 {
		s.mu.Unlock()
		s.close()
		return nil
	}

	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()
	defer close(s.done)

	g, gctx := errgroup.WithContext(ctx)
	for _, b := range s.ts {
		g.Go(func() error {
			defer cancel()

			if err := b.t.Listen(cfg, b.h); err != nil {
				return fmt.Errorf("%s: %w", b.addr, err)
			}

			return nil
		})
	}

	<-gctx.Done()
	s.shutdown()

	return g.Wait()
}

// Stop blocks until Run returns. A supervisor stopped before running won't run.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.stopped = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *Supervisor) shutdown() {
	for _, b := range s.ts {
		b.t.Stop()
	}

	for _, cb := range s.onStop {
		cb()
	}

	for _, b := range s.ts {
		b.t.Wait()
		b.t.Close()
	}
}

func (s *Supervisor) close() {
	for _, b := range s.ts {
		b.t.Close()
	}
}
