// Package metrics defines the observability hooks used by the change
// propagation layer and a Prometheus-backed implementation of them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Long-poll outcomes.
const (
	OutcomeImmediate = "immediate"
	OutcomeChanged   = "changed"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
)

// Collector provides hooks for observability.
type Collector interface {
	// SetPendingWaiters records the number of long-poll requests currently parked.
	SetPendingWaiters(n int)

	// RecordLongPoll records how a long-poll request finished.
	RecordLongPoll(outcome string)

	// RecordStateChange records a version change; kind is "advance" or "reset".
	RecordStateChange(kind string)

	// RecordPropagationFailure records a failed best-effort side effect.
	RecordPropagationFailure(step, action string)

	// RecordPublish records a push message handed to the broadcaster.
	RecordPublish(topic string)

	// RecordDrop records a push message a subscriber could not accept.
	RecordDrop()

	// SetConnections records the number of connected push clients.
	SetConnections(n int)
}

// NoOp is a stub implementation that discards metrics.
type NoOp struct{}

func (NoOp) SetPendingWaiters(int) {}
func (NoOp) RecordLongPoll(string) {}
func (NoOp) RecordStateChange(string) {}
func (NoOp) RecordPropagationFailure(string, string) {}
func (NoOp) RecordPublish(string) {}
func (NoOp) RecordDrop() {}
func (NoOp) SetConnections(int) {}

// OrNoOp returns c, or NoOp when c is nil.
func OrNoOp(c Collector) Collector {
	if c == nil {
		return NoOp{}
	}
	return c
}

// Prometheus implements Collector on a dedicated registry.
type Prometheus struct {
	registry *prometheus.Registry

	pendingWaiters      prometheus.Gauge
	longPolls           *prometheus.CounterVec
	stateChanges        *prometheus.CounterVec
	propagationFailures *prometheus.CounterVec
	publishes           *prometheus.CounterVec
	drops               prometheus.Counter
	connections         prometheus.Gauge
}

// NewPrometheus creates the collector and registers its series under the
// given namespace.
func NewPrometheus(namespace string) *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		pendingWaiters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "longpoll",
			Name:      "pending_waiters",
			Help:      "Number of long-poll requests waiting for a change.",
		}),
		longPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "longpoll",
			Name:      "requests_total",
			Help:      "Long-poll requests by outcome.",
		}, []string{"outcome"}),
		stateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "changes_total",
			Help:      "Version changes by kind.",
		}, []string{"kind"}),
		propagationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "propagation",
			Name:      "failures_total",
			Help:      "Failed best-effort propagation steps.",
		}, []string{"step", "action"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "published_total",
			Help:      "Push messages published by topic.",
		}, []string{"topic"}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "dropped_total",
			Help:      "Push messages dropped because a subscriber could not accept them.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "connections",
			Help:      "Connected push clients.",
		}),
	}
	p.registry.MustRegister(
		p.pendingWaiters,
		p.longPolls,
		p.stateChanges,
		p.propagationFailures,
		p.publishes,
		p.drops,
		p.connections,
		prometheus.NewGoCollector(),
	)
	return p
}

func (p *Prometheus) SetPendingWaiters(n int) { p.pendingWaiters.Set(float64(n)) }

func (p *Prometheus) RecordLongPoll(outcome string) { p.longPolls.WithLabelValues(outcome).Inc() }

func (p *Prometheus) RecordStateChange(kind string) { p.stateChanges.WithLabelValues(kind).Inc() }

func (p *Prometheus) RecordPropagationFailure(step, action string) {
	p.propagationFailures.WithLabelValues(step, action).Inc()
}

// RecordPublish counts per topic. Scoped topics are collapsed to their
// namespace to keep label cardinality bounded.
func (p *Prometheus) RecordPublish(topic string) {
	p.publishes.WithLabelValues(topicLabel(topic)).Inc()
}

func (p *Prometheus) RecordDrop() { p.drops.Inc() }

func (p *Prometheus) SetConnections(n int) { p.connections.Set(float64(n)) }

// Registry exposes the underlying registry, mainly for tests.
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func topicLabel(topic string) string {
	for i := 0; i < len(topic); i++ {
		if topic[i] == ':' {
			return topic[:i]
		}
	}
	return topic
}
