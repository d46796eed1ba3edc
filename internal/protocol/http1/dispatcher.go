package http1

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/indigo-web/awsgi/internal/metrics"
	"github.com/indigo-web/awsgi/wsgi"
	"golang.org/x/sync/semaphore"
)

// Stage tells at which point the application failed.
type Stage uint8

const (
	StageEnviron Stage = iota + 1
	StageCall
	StageBody
)

func (s Stage) String() string {
	switch s {
	case StageEnviron:
		return "environ"
	case StageCall:
		return "call"
	case StageBody:
		return "body"
	default:
		return "unknown"
	}
}

// AppError wraps every failure of an application, including recovered panics.
type AppError struct {
	Stage Stage
	Err   error
}

func (a *AppError) Error() string {
	return fmt.Sprintf("application failed at %s: %s", a.Stage, a.Err)
}

func (a *AppError) Unwrap() error {
	return a.Err
}

// Outcome is what an application run resulted in. The connection is finalized by
// matching on it.
type Outcome struct {
	// Err is nil or an *AppError.
	Err error
	// Started reports whether the response head was written.
	Started bool
	// Upgrade reports whether the response carried a Connection: Upgrade header.
	Upgrade bool
	// Handler takes the connection over, if the application registered one.
	Handler  wsgi.UpgradeHandler
	Hijacked bool
}

// Dispatcher runs applications off the connection's event loop. Cooperative ones are
// started right away, blocking ones wait for a free slot of the worker pool.
type Dispatcher struct {
	workers *semaphore.Weighted
	metrics *metrics.Metrics
}

func NewDispatcher(workers int, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		workers: semaphore.NewWeighted(int64(max(workers, 1))),
		metrics: m,
	}
}

// Dispatch builds the environ and starts the application. The returned channel
// delivers exactly one outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, h wsgi.Handler, r request, ex *exchange) <-chan Outcome {
	out := make(chan Outcome, 1)

	env, err := buildEnviron(r)
	if err != nil {
		out <- Outcome{Err: &AppError{Stage: StageEnviron, Err: err}}
		return out
	}

	d.metrics.Requests.WithLabelValues(h.Kind.String()).Inc()

	switch h.Kind {
	case wsgi.Blocking:
		go func() {
			if err := d.workers.Acquire(ctx, 1); err != nil {
				out <- Outcome{Err: &AppError{Stage: StageCall, Err: err}}
				return
			}

			d.metrics.BlockingBusy.Inc()
			out <- run(h.App, env, ex)
			d.metrics.BlockingBusy.Dec()
			d.workers.Release(1)
		}()
	default:
		go func() {
			out <- run(h.App, env, ex)
		}()
	}

	return out
}

// run calls the application and streams its body.
func run(app wsgi.Application, env wsgi.Environ, ex *exchange) (outcome Outcome) {
	stage := StageCall

	defer func() {
		if r := recover(); r != nil {
			outcome.Err = &AppError{
				Stage: stage,
				Err:   fmt.Errorf("panic: %v\n%s", r, debug.Stack()),
			}
		}

		if outcome.Err == nil && !ex.started && !ex.hijacked && ex.upgradeHandler == nil {
			outcome.Err = &AppError{Stage: StageCall, Err: errNeverStarted}
		}

		outcome.Started = ex.started
		outcome.Upgrade = ex.upgrade
		outcome.Handler = ex.upgradeHandler
		outcome.Hijacked = ex.hijacked
	}()

	body, err := app.Call(env, ex.StartResponse)
	if err != nil {
		return Outcome{Err: &AppError{Stage: StageCall, Err: err}}
	}

	if body == nil {
		return Outcome{}
	}

	stage = StageBody
	for chunk, err := range body {
		if err != nil {
			return Outcome{Err: &AppError{Stage: StageBody, Err: err}}
		}

		if err = ex.Write(chunk); err != nil {
			return Outcome{Err: &AppError{Stage: StageBody, Err: err}}
		}
	}

	return Outcome{}
}
