// Package metrics holds the gateway's prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "awsgi"

type Metrics struct {
	registry *prometheus.Registry

	Accepted     prometheus.Counter
	Active       prometheus.Gauge
	Requests     *prometheus.CounterVec
	Upgrades     prometheus.Counter
	AppErrors    *prometheus.CounterVec
	ParseErrors  prometheus.Counter
	BodyBytes    prometheus.Counter
	WSClosures   *prometheus.CounterVec
	WSMessages   *prometheus.CounterVec
	BlockingBusy prometheus.Gauge
}

// New registers the collectors in a fresh registry, so several servers may live in a
// single process (tests, mostly).
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Accepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "accepted_total",
			Help:      "Total number of accepted connections",
		}),
		Active: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "active",
			Help:      "Number of connections being served right now",
		}),
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of dispatched requests",
		}, []string{"kind"}),
		Upgrades: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "upgrades_total",
			Help:      "Total number of connections handed over to another protocol",
		}),
		AppErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "application_errors_total",
			Help:      "Total number of failed application invocations",
		}, []string{"stage"}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "parse_errors_total",
			Help:      "Total number of connections closed because of a malformed request",
		}),
		BodyBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "body_bytes_total",
			Help:      "Total number of received request body bytes",
		}),
		WSClosures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "closures_total",
			Help:      "Total number of closed websocket connections by close code",
		}, []string{"code"}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_total",
			Help:      "Total number of received websocket messages",
		}, []string{"type"}),
		BlockingBusy: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "workers",
			Name:      "busy",
			Help:      "Number of blocking applications running right now",
		}),
	}
}

// Registry exposes the underlying registry, e.g. for gathering in tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the collected metrics in the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
