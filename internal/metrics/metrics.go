// Package metrics exposes Prometheus instrumentation for the service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the service's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	inFlight      prometheus.Gauge
	admissionDeny *prometheus.CounterVec
	providerCalls *prometheus.CounterVec
}

// New creates and registers the service collectors.
func New(service string) *Metrics {
	registry := prometheus.NewRegistry()
	labels := prometheus.Labels{"service": service}

	m := &Metrics{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "http_requests_total",
			Help:        "HTTP requests by method, route, and status.",
			ConstLabels: labels,
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request latency by method and route.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"method", "route"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "http_requests_in_flight",
			Help:        "Requests currently being served.",
			ConstLabels: labels,
		}),
		admissionDeny: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "admission_rejections_total",
			Help:        "Requests rejected at admission, by reason.",
			ConstLabels: labels,
		}, []string{"reason"}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "provider_calls_total",
			Help:        "AI provider calls by operation and outcome.",
			ConstLabels: labels,
		}, []string{"operation", "outcome"}),
	}

	registry.MustRegister(m.httpRequests, m.httpDuration, m.inFlight, m.admissionDeny, m.providerCalls)
	return m
}

// Handler returns the /metrics endpoint handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records one completed request.
func (m *Metrics) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncrementInFlight marks a request in progress.
func (m *Metrics) IncrementInFlight() { m.inFlight.Inc() }

// DecrementInFlight marks a request finished.
func (m *Metrics) DecrementInFlight() { m.inFlight.Dec() }

// RecordRejection counts an admission rejection ("rate_limit" or "free_tier").
func (m *Metrics) RecordRejection(reason string) {
	m.admissionDeny.WithLabelValues(reason).Inc()
}

// RecordProviderCall counts a provider call outcome.
func (m *Metrics) RecordProviderCall(operation, outcome string) {
	m.providerCalls.WithLabelValues(operation, outcome).Inc()
}
