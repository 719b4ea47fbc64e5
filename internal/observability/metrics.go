package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	compassRequestsTotal  *prometheus.CounterVec
	compassLatencySeconds *prometheus.HistogramVec
	compassErrorsTotal    *prometheus.CounterVec

	enginesActive             prometheus.Gauge
	engineEvictionsTotal      prometheus.Counter
	engineLoadSeconds         prometheus.Histogram
	automaticAssessmentsTotal *prometheus.CounterVec
	conflictsDetectedTotal    *prometheus.CounterVec
	parseFailuresTotal        *prometheus.CounterVec
	eventsPublishedTotal      *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors of the assessment service.
func RegisterMetrics() {
	registerOnce.Do(func() {
		compassRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compass_requests_total",
			Help: "Total number of assessment API requests served.",
		}, []string{"method", "route", "status"})

		compassLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "compass_latency_seconds",
			Help:    "Latency distribution for assessment API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		compassErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compass_errors_total",
			Help: "Total number of error responses returned by assessment endpoints.",
		}, []string{"method", "route", "status"})

		enginesActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "compass_engines_active",
			Help: "Number of exercise engines currently loaded.",
		})

		engineEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "compass_engine_evictions_total",
			Help: "Total number of idle engines evicted.",
		})

		engineLoadSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "compass_engine_load_seconds",
			Help:    "Time spent building an engine from persisted submissions.",
			Buckets: prometheus.DefBuckets,
		})

		automaticAssessmentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compass_automatic_assessments_total",
			Help: "Total number of automatic results written after manual assessments.",
		}, []string{"diagram_type"})

		conflictsDetectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compass_conflicts_detected_total",
			Help: "Total number of assessment conflicts detected.",
		}, []string{"element_type"})

		parseFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compass_parse_failures_total",
			Help: "Total number of submissions whose model could not be parsed.",
		}, []string{"reason"})

		eventsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compass_events_published_total",
			Help: "Total number of assessment events published to brokers.",
		}, []string{"event", "transport"})

		prometheus.MustRegister(
			compassRequestsTotal,
			compassLatencySeconds,
			compassErrorsTotal,
			enginesActive,
			engineEvictionsTotal,
			engineLoadSeconds,
			automaticAssessmentsTotal,
			conflictsDetectedTotal,
			parseFailuresTotal,
			eventsPublishedTotal,
		)
	})
}

// CompassRequests exposes the counter for assessment requests.
func CompassRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return compassRequestsTotal
}

// CompassLatency exposes the latency histogram for assessment requests.
func CompassLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return compassLatencySeconds
}

// CompassErrors exposes the counter for assessment error responses.
func CompassErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return compassErrorsTotal
}

// EnginesActive exposes the loaded engine gauge.
func EnginesActive() prometheus.Gauge {
	RegisterMetrics()
	return enginesActive
}

// EngineEvictions exposes the eviction counter.
func EngineEvictions() prometheus.Counter {
	RegisterMetrics()
	return engineEvictionsTotal
}

// EngineLoadDuration exposes the engine load histogram.
func EngineLoadDuration() prometheus.Histogram {
	RegisterMetrics()
	return engineLoadSeconds
}

// AutomaticAssessments exposes the automatic result counter.
func AutomaticAssessments() *prometheus.CounterVec {
	RegisterMetrics()
	return automaticAssessmentsTotal
}

// ConflictsDetected exposes the conflict counter.
func ConflictsDetected() *prometheus.CounterVec {
	RegisterMetrics()
	return conflictsDetectedTotal
}

// ParseFailures exposes the parse failure counter.
func ParseFailures() *prometheus.CounterVec {
	RegisterMetrics()
	return parseFailuresTotal
}

// EventsPublished exposes the broker publish counter.
func EventsPublished() *prometheus.CounterVec {
	RegisterMetrics()
	return eventsPublishedTotal
}
