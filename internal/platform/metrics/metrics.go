// Package metrics exposes the Prometheus instruments of the fulfillment service. All methods are
// safe on a nil *Metrics so components can run without instrumentation in tests.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spiritcandles/fulfillment/internal/platform/observability"
)

const namespace = "fulfillment"

// Metrics owns a private registry and every instrument registered on it.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpLatencyMS *prometheus.HistogramVec

	carrierCalls     *prometheus.CounterVec
	carrierLatencyMS *prometheus.HistogramVec

	bulkItems        *prometheus.CounterVec
	notifications    *prometheus.CounterVec
	changeSinks      *prometheus.CounterVec
	changesDropped   prometheus.Counter
	tokenVerifyCalls *prometheus.CounterVec
}

// New registers all instruments plus the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "method", "status"}),
		httpLatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
		carrierCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "carrier",
			Name:      "calls_total",
			Help:      "Carrier aggregator calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
		carrierLatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "carrier",
			Name:      "call_duration_ms",
			Help:      "Carrier aggregator call latency in milliseconds.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 20000},
		}, []string{"operation"}),
		bulkItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bulk",
			Name:      "items_total",
			Help:      "Bulk action items by action and outcome.",
		}, []string{"action", "outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "emitted_total",
			Help:      "Customer notification triggers by event and outcome.",
		}, []string{"event", "outcome"}),
		changeSinks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "changes",
			Name:      "sink_writes_total",
			Help:      "Order change events written to external sinks.",
		}, []string{"sink", "outcome"}),
		changesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "changes",
			Name:      "dropped_total",
			Help:      "Order change deliveries lost: evicted subscribers and events a sink could not take.",
		}),
		tokenVerifyCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "token_verifications_total",
			Help:      "Token verifications by kind, outcome and rejection reason.",
		}, []string{"kind", "outcome", "reason"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpLatencyMS,
		m.carrierCalls, m.carrierLatencyMS,
		m.bulkItems, m.notifications,
		m.changeSinks, m.changesDropped,
		m.tokenVerifyCalls,
	)
	return m
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request counts and latency keyed by the chi route pattern.
func (m *Metrics) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			route := observability.RoutePattern(r)
			m.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
			m.httpLatencyMS.WithLabelValues(route).Observe(float64(time.Since(start).Milliseconds()))
		})
	}
}

// ObserveCarrierCall records one carrier call.
func (m *Metrics) ObserveCarrierCall(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.carrierCalls.WithLabelValues(operation, outcome).Inc()
	m.carrierLatencyMS.WithLabelValues(operation).Observe(float64(elapsed.Milliseconds()))
}

// BulkItem records the outcome of one bulk action item.
func (m *Metrics) BulkItem(action, outcome string) {
	if m == nil {
		return
	}
	m.bulkItems.WithLabelValues(action, outcome).Inc()
}

// Notification records a notification trigger.
func (m *Metrics) Notification(event, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(event, outcome).Inc()
}

// ChangeSink records a write to an external change sink.
func (m *Metrics) ChangeSink(sink, outcome string) {
	if m == nil {
		return
	}
	m.changeSinks.WithLabelValues(sink, outcome).Inc()
}

// ChangeDropped counts an evicted subscriber or an event a sink never received.
func (m *Metrics) ChangeDropped() {
	if m == nil {
		return
	}
	m.changesDropped.Inc()
}

// RecordVerification implements auth.MetricsRecorder.
func (m *Metrics) RecordVerification(_ context.Context, kind string, success bool, reason string, _ time.Duration) {
	if m == nil {
		return
	}
	outcome := "rejected"
	if success {
		outcome = "accepted"
	}
	m.tokenVerifyCalls.WithLabelValues(kind, outcome, reason).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.written {
		r.status = status
		r.written = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.written = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
