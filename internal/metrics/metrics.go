// Package metrics holds the Prometheus collectors of the notification pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "procnotify"

// Metrics is a private registry plus the pipeline collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	eventsReceived *prometheus.CounterVec
	flushes        *prometheus.CounterVec
	pending        prometheus.Gauge
	deliveries     *prometheus.CounterVec
	lost           prometheus.Counter
	suppressed     prometheus.Counter
	sendDuration   prometheus.Histogram
}

// New creates and registers all collectors, including process and Go
// runtime collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		eventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Lifecycle events accepted by the queue, by delivery mode.",
		}, []string{"mode"}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Batches handed to the delivery path, by flush reason.",
		}, []string{"reason"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_events",
			Help:      "Events buffered and waiting for the next flush.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Webhook send attempts, by outcome.",
		}, []string{"outcome"}),
		lost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_lost_total",
			Help:      "Events dropped because their batch could not be delivered.",
		}),
		suppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_suppressed_total",
			Help:      "Events summarized by the rate limitation notice instead of rendered.",
		}),
		sendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "send_duration_seconds",
			Help:      "Webhook round-trip latency.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	m.reg.MustRegister(
		m.eventsReceived, m.flushes, m.pending, m.deliveries, m.lost, m.suppressed, m.sendDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry (tests, custom handlers).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) EventReceived(mode string) {
	if m == nil {
		return
	}
	m.eventsReceived.WithLabelValues(mode).Inc()
}

func (m *Metrics) Flushed(reason string) {
	if m == nil {
		return
	}
	m.flushes.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

// Delivered records one send attempt. lost is the number of events dropped
// when ok is false.
func (m *Metrics) Delivered(ok bool, lost, suppressed int, seconds float64) {
	if m == nil {
		return
	}
	if ok {
		m.deliveries.WithLabelValues("ok").Inc()
	} else {
		m.deliveries.WithLabelValues("failed").Inc()
		m.lost.Add(float64(lost))
	}
	m.suppressed.Add(float64(suppressed))
	if seconds > 0 {
		m.sendDuration.Observe(seconds)
	}
}

// Dropped records a batch discarded before it reached the transport
// (delivery queue full or shut down).
func (m *Metrics) Dropped(lost int) {
	if m == nil || lost <= 0 {
		return
	}
	m.deliveries.WithLabelValues("dropped").Inc()
	m.lost.Add(float64(lost))
}

// Skipped records a batch dropped before any send (no destination).
func (m *Metrics) Skipped(lost int) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues("skipped").Inc()
	m.lost.Add(float64(lost))
}
