package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics encapsulates Prometheus metrics for the relay.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP front end
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveRequests  *prometheus.GaugeVec

	// UpdatesTotal counts webhook deliveries by how the endpoint disposed of
	// them: accepted, malformed, unauthorized, duplicate, dropped.
	UpdatesTotal *prometheus.CounterVec

	// PipelineOutcomes counts finished pipeline invocations by terminal stage.
	PipelineOutcomes *prometheus.CounterVec

	// DeliveriesTotal counts outbound messages by kind (welcome, ack, reply,
	// notice) and result (ok, error).
	DeliveriesTotal *prometheus.CounterVec

	CompletionDuration   *prometheus.HistogramVec
	CoalescedCompletions prometheus.Counter
	ChunksPerReply       prometheus.Histogram

	// Dispatcher
	QueueDepth    prometheus.Gauge
	TasksInFlight prometheus.Gauge
	ErrorsTotal   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with a custom registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_http_requests_total",
				Help: "Total number of HTTP requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		ActiveRequests: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "relay_http_active_requests",
				Help: "Number of currently active HTTP requests",
			},
			[]string{"endpoint"},
		),
		UpdatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_updates_total",
				Help: "Total number of webhook updates by disposition",
			},
			[]string{"result"},
		),
		PipelineOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_pipeline_outcomes_total",
				Help: "Total number of pipeline invocations by outcome",
			},
			[]string{"outcome"},
		),
		DeliveriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_deliveries_total",
				Help: "Total number of outbound chat messages by kind and result",
			},
			[]string{"kind", "result"},
		),
		CompletionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_completion_duration_seconds",
				Help:    "Duration of completion calls in seconds",
				Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
			},
			[]string{"result"},
		),
		CoalescedCompletions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_completions_coalesced_total",
				Help: "Number of completion calls that shared an identical in-flight request",
			},
		),
		ChunksPerReply: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "relay_reply_chunks",
				Help:    "Number of chunks a reply was split into",
				Buckets: []float64{1, 2, 3, 4, 6, 8, 12},
			},
		),
		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_queue_depth",
				Help: "Number of updates waiting for a worker",
			},
		),
		TasksInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_tasks_in_flight",
				Help: "Number of pipeline invocations currently running",
			},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_errors_total",
				Help: "Total number of errors by type",
			},
			[]string{"type"},
		),
	}

	// Register default Go metrics
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Initialize series that should be visible before the first update
	for _, result := range []string{"accepted", "malformed", "unauthorized", "duplicate", "dropped"} {
		m.UpdatesTotal.WithLabelValues(result).Add(0)
	}
	m.RequestsTotal.WithLabelValues("/health", "200").Add(0)
	m.RequestDuration.WithLabelValues("/health").Observe(0)

	return m
}

// Registry exposes the private registry so other components (the circuit
// breaker) can register their own collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns a handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: false,
	})
}
