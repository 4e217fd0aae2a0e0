// Package metrics provides Prometheus instrumentation for the CoAP engine.
//
// All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the counters and gauges of one endpoint.
type Metrics struct {
	reg *prometheus.Registry

	MessagesSent     *prometheus.CounterVec
	MessagesReceived *prometheus.CounterVec
	Retransmissions  prometheus.Counter
	Timeouts         prometheus.Counter
	Duplicates       prometheus.Counter
	Rejected         *prometheus.CounterVec
	CacheLookups     *prometheus.CounterVec
	BlockTransfers   *prometheus.CounterVec
	Observations     prometheus.Gauge
}

// New creates a Metrics instance on its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "coap"
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,
		MessagesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_sent_total",
				Help:      "Messages written to the transport by type",
			},
			[]string{"type"},
		),
		MessagesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_received_total",
				Help:      "Inbound messages by matching result",
			},
			[]string{"kind"},
		),
		Retransmissions: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retransmissions_total",
				Help:      "Confirmable retransmissions",
			},
		),
		Timeouts: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retransmission_timeouts_total",
				Help:      "Exchanges canceled after the last retransmission",
			},
		),
		Duplicates: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "duplicates_total",
				Help:      "Duplicate inbound messages suppressed",
			},
		),
		Rejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rejected_total",
				Help:      "Inbound or outbound messages rejected by reason",
			},
			[]string{"reason"},
		),
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Response cache lookups by result",
			},
			[]string{"result"},
		),
		BlockTransfers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "block_transfers_total",
				Help:      "Blocks exchanged by option and direction",
			},
			[]string{"option", "direction"},
		),
		Observations: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "observations",
				Help:      "Observed resources with a live relationship",
			},
		),
	}
}

// Handler returns an HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) Sent(typ string) {
	if m != nil {
		m.MessagesSent.WithLabelValues(typ).Inc()
	}
}

func (m *Metrics) Received(kind string) {
	if m != nil {
		m.MessagesReceived.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) Retransmission() {
	if m != nil {
		m.Retransmissions.Inc()
	}
}

func (m *Metrics) Timeout() {
	if m != nil {
		m.Timeouts.Inc()
	}
}

func (m *Metrics) Duplicate() {
	if m != nil {
		m.Duplicates.Inc()
	}
}

func (m *Metrics) Reject(reason string) {
	if m != nil {
		m.Rejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheLookups.WithLabelValues("hit").Inc()
	} else {
		m.CacheLookups.WithLabelValues("miss").Inc()
	}
}

func (m *Metrics) Block(option, direction string) {
	if m != nil {
		m.BlockTransfers.WithLabelValues(option, direction).Inc()
	}
}

func (m *Metrics) SetObservations(n int) {
	if m != nil {
		m.Observations.Set(float64(n))
	}
}
