// Package metrics exports service metrics to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "swapshelf"

// Metrics records negotiation, chat and HTTP activity. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	operations *prometheus.HistogramVec
	outcomes   *prometheus.CounterVec
	messages   prometheus.Counter
	requests   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	reg        prometheus.Registerer
}

// New registers the service metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return &Metrics{}
	}
	operations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "negotiation_operation_duration_seconds",
		Help:      "Duration of negotiation transactions.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "negotiation_operations_total",
		Help:      "Negotiation operations by outcome code.",
	}, []string{"op", "code"})
	messages := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chat_messages_total",
		Help:      "Chat messages persisted.",
	})
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status.",
	}, []string{"method", "route", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
	reg.MustRegister(operations, outcomes, messages, requests, latency)
	return &Metrics{
		operations: operations,
		outcomes:   outcomes,
		messages:   messages,
		requests:   requests,
		latency:    latency,
		reg:        reg,
	}
}

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// ObserveOperation records one negotiation transaction. An empty code is a
// success.
func (m *Metrics) ObserveOperation(op, code string, d time.Duration) {
	if m == nil || m.operations == nil {
		return
	}
	if code == "" {
		code = "OK"
	}
	m.operations.WithLabelValues(normalizeLabel(op)).Observe(d.Seconds())
	m.outcomes.WithLabelValues(normalizeLabel(op), code).Inc()
}

func (m *Metrics) MessagePersisted() {
	if m == nil || m.messages == nil {
		return
	}
	m.messages.Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil || m.requests == nil {
		return
	}
	route = normalizeLabel(route)
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(method, route).Observe(d.Seconds())
}

// Gauge registers a gauge read from fn at scrape time.
func (m *Metrics) Gauge(name, help string, fn func() float64) {
	if m == nil || m.reg == nil {
		return
	}
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
