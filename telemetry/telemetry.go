// Package telemetry exports authority-level counters, gauges, and
// histograms via prometheus/client_golang, the metrics half of the
// teacher's observability stack (grpc-ecosystem/go-grpc-prometheus
// covers its gRPC surface; AMP has no gRPC layer, so no interceptor
// middleware is used). No package in this module constructs a Metrics or
// updates its collectors; NewMetrics only creates and registers them.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles counters/gauges/histograms for guard decisions,
// ceremony transitions, flow-budget charges, and AMP traffic.
type Metrics struct {
	GuardDecisions     *prometheus.CounterVec
	CeremonyTransitions *prometheus.CounterVec
	FlowBudgetCharged  prometheus.Counter
	FlowBudgetDenied   prometheus.Counter
	AMPSent            prometheus.Counter
	AMPReceived        prometheus.Counter
	AMPReplayRejected  prometheus.Counter
	CircuitBreakerOpen prometheus.Gauge
	ReceiptLatency     prometheus.Histogram
}

// NewMetrics constructs a Metrics bundle and registers every collector
// with reg. Callers typically pass prometheus.NewRegistry() for test
// isolation or prometheus.DefaultRegisterer in production.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		GuardDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aura",
			Subsystem: "guard",
			Name:      "decisions_total",
			Help:      "Guard chain outcomes by kind.",
		}, []string{"outcome"}),
		CeremonyTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aura",
			Subsystem: "ceremony",
			Name:      "transitions_total",
			Help:      "Ceremony state transitions by (kind, to_state).",
		}, []string{"kind", "to_state"}),
		FlowBudgetCharged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aura",
			Subsystem: "budget",
			Name:      "charged_bytes_total",
			Help:      "Bytes successfully charged against flow budgets.",
		}),
		FlowBudgetDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aura",
			Subsystem: "budget",
			Name:      "denied_total",
			Help:      "Charge attempts denied for exhausted flow budgets.",
		}),
		AMPSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aura",
			Subsystem: "amp",
			Name:      "sent_total",
			Help:      "Envelopes successfully dispatched.",
		}),
		AMPReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aura",
			Subsystem: "amp",
			Name:      "received_total",
			Help:      "Envelopes successfully authenticated and decrypted.",
		}),
		AMPReplayRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aura",
			Subsystem: "amp",
			Name:      "replay_rejected_total",
			Help:      "Envelopes rejected by the receive window as replays.",
		}),
		CircuitBreakerOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aura",
			Subsystem: "amp",
			Name:      "circuit_breaker_open",
			Help:      "Number of channels whose circuit breaker is currently open.",
		}),
		ReceiptLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "aura",
			Subsystem: "amp",
			Name:      "receipt_latency_seconds",
			Help:      "Time from send to receipt acknowledgement.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.GuardDecisions,
		m.CeremonyTransitions,
		m.FlowBudgetCharged,
		m.FlowBudgetDenied,
		m.AMPSent,
		m.AMPReceived,
		m.AMPReplayRejected,
		m.CircuitBreakerOpen,
		m.ReceiptLatency,
	)
	return m
}
