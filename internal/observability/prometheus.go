package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics exports retrial counters labelled by destination
type PrometheusMetrics struct {
	received      *prometheus.CounterVec
	acknowledged  *prometheus.CounterVec
	rerouted      *prometheus.CounterVec
	deadLettered  *prometheus.CounterVec
	publishFailed *prometheus.CounterVec

	registry *prometheus.Registry
}

func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	if namespace == "" {
		namespace = "retrial"
	}

	counter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, []string{"destination"})
	}

	m := &PrometheusMetrics{
		received:      counter("messages_received_total", "Deliveries received per destination"),
		acknowledged:  counter("messages_acknowledged_total", "Deliveries handled successfully"),
		rerouted:      counter("messages_rerouted_total", "Failed deliveries sent through the delay exchange"),
		deadLettered:  counter("messages_dead_lettered_total", "Deliveries moved to their dead-letter destination"),
		publishFailed: counter("publish_failures_total", "Reroute or dead-letter publishes that failed"),
		registry:      prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.received,
		m.acknowledged,
		m.rerouted,
		m.deadLettered,
		m.publishFailed,
	)
	return m
}

func (m *PrometheusMetrics) IncReceived(destination string) {
	m.received.WithLabelValues(destination).Inc()
}

func (m *PrometheusMetrics) IncAcknowledged(destination string) {
	m.acknowledged.WithLabelValues(destination).Inc()
}

func (m *PrometheusMetrics) IncRerouted(destination string) {
	m.rerouted.WithLabelValues(destination).Inc()
}

func (m *PrometheusMetrics) IncDeadLettered(destination string) {
	m.deadLettered.WithLabelValues(destination).Inc()
}

func (m *PrometheusMetrics) IncPublishFailed(destination string) {
	m.publishFailed.WithLabelValues(destination).Inc()
}

// Registry exposes the underlying registry, mainly for tests
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus text format
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
