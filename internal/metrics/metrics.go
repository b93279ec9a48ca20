package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// RequestLatency tracks HTTP request latency by endpoint and method
	RequestLatency *prometheus.HistogramVec
	// HTTPRequestsTotal total HTTP requests
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTPRequestsInFlight current HTTP requests being processed
	HTTPRequestsInFlight prometheus.Gauge
	// ActionsTotal counts router dispatches by action and outcome
	ActionsTotal *prometheus.CounterVec
	// ActionDuration tracks how long each action took
	ActionDuration *prometheus.HistogramVec
	// ProviderRequests counts GitHub API and OAuth calls by operation and status class
	ProviderRequests *prometheus.CounterVec
	// DevicePollAttempts counts device-flow token polls by result
	DevicePollAttempts *prometheus.CounterVec
	// LinksSaved counts links appended to the remote document
	LinksSaved prometheus.Counter
	// ErrorCounter counts errors by type and source
	ErrorCounter *prometheus.CounterVec
	// RateLimitRemaining is the last GitHub rate limit budget seen per resource
	RateLimitRemaining *prometheus.GaugeVec
	// LimiterAcquire counts write slot attempts by result
	LimiterAcquire *prometheus.CounterVec
	// LimiterWait tracks time spent waiting for a write slot
	LimiterWait *prometheus.HistogramVec
	// registry is the custom registry for this metrics instance
	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_latency_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"endpoint", "method", "status"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"endpoint", "method", "status"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
		ActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_total",
				Help:      "Total number of dispatched actions",
			},
			[]string{"action", "status"},
		),
		ActionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "action_duration_seconds",
				Help:      "Time spent handling an action",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
			},
			[]string{"action"},
		),
		ProviderRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_requests_total",
				Help:      "Total number of requests sent to GitHub",
			},
			[]string{"operation", "status"},
		),
		DevicePollAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "device_poll_attempts_total",
				Help:      "Device flow token polls by result",
			},
			[]string{"result"},
		),
		LinksSaved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "links_saved_total",
				Help:      "Total number of links written to the remote document",
			},
		),
		ErrorCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors",
			},
			[]string{"type", "source"},
		),
		RateLimitRemaining: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "github_rate_limit_remaining",
				Help:      "Requests left in the current GitHub rate limit window",
			},
			[]string{"resource"},
		),
		LimiterAcquire: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "write_slot_acquire_total",
				Help:      "Write slot acquisition attempts by result",
			},
			[]string{"result"},
		),
		LimiterWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "write_slot_wait_seconds",
				Help:      "Time spent waiting for a write slot",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		m.RequestLatency,
		m.HTTPRequestsTotal,
		m.HTTPRequestsInFlight,
		m.ActionsTotal,
		m.ActionDuration,
		m.ProviderRequests,
		m.DevicePollAttempts,
		m.LinksSaved,
		m.ErrorCounter,
		m.RateLimitRemaining,
		m.LimiterAcquire,
		m.LimiterWait,
	)

	return m
}

// Handler returns a Prometheus handler for these metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for gathering in tests and tools.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRequestLatency records the latency of an HTTP request
func (m *Metrics) RecordRequestLatency(endpoint, method, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RequestLatency.WithLabelValues(endpoint, method, status).Observe(durationSeconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(endpoint, method, status string) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

func (m *Metrics) IncHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.HTTPRequestsInFlight.Inc()
}

func (m *Metrics) DecHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.HTTPRequestsInFlight.Dec()
}

// RecordAction records the outcome and duration of a router dispatch.
func (m *Metrics) RecordAction(action, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ActionsTotal.WithLabelValues(action, status).Inc()
	m.ActionDuration.WithLabelValues(action).Observe(durationSeconds)
}

// RecordProviderRequest records one GitHub call. status is the HTTP
// status code, or "error" for transport failures.
func (m *Metrics) RecordProviderRequest(operation, status string) {
	if m == nil {
		return
	}
	m.ProviderRequests.WithLabelValues(operation, status).Inc()
}

// RecordDevicePoll records one device-flow token poll.
func (m *Metrics) RecordDevicePoll(result string) {
	if m == nil {
		return
	}
	m.DevicePollAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordLinkSaved() {
	if m == nil {
		return
	}
	m.LinksSaved.Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, source string) {
	if m == nil {
		return
	}
	m.ErrorCounter.WithLabelValues(errorType, source).Inc()
}

// RecordRateLimit stores the remaining GitHub budget for resource.
func (m *Metrics) RecordRateLimit(resource string, remaining int64) {
	if m == nil {
		return
	}
	m.RateLimitRemaining.WithLabelValues(resource).Set(float64(remaining))
}

// RecordLimiterAcquire records a non-blocking write slot attempt.
func (m *Metrics) RecordLimiterAcquire(result string) {
	if m == nil {
		return
	}
	m.LimiterAcquire.WithLabelValues(result).Inc()
}

// RecordLimiterWait records how long a blocking acquisition took and how it ended.
func (m *Metrics) RecordLimiterWait(result string, seconds float64) {
	if m == nil {
		return
	}
	m.LimiterWait.WithLabelValues(result).Observe(seconds)
}
