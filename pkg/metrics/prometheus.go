// Package metrics provides Prometheus metrics for the draftwatch integrity service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the integrity service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Ingest Metrics - picks entering the tracker
	picksReceived  prometheus.Counter
	picksDuplicate prometheus.Counter
	picksTracked   prometheus.Counter
	picksSkipped   *prometheus.CounterVec
	picksDropped   *prometheus.CounterVec

	// Tracker Metrics - snapshot/ledger read-modify-write
	trackerLatency   prometheus.Histogram
	trackerConflicts prometheus.Counter
	flagsRecorded    *prometheus.CounterVec

	// Scoring Metrics
	sessionsCompleted prometheus.Counter
	sessionsScored    prometheus.Counter
	scoringLatency    prometheus.Histogram
	scoringErrors     prometheus.Counter
	pairsScored       *prometheus.CounterVec

	// Aggregation Metrics
	aggregationRuns     prometheus.Counter
	aggregationDuration prometheus.Histogram
	aggregationPairs    *prometheus.CounterVec
	aggregationFailures prometheus.Counter

	// Queue Metrics
	queueSize          *prometheus.GaugeVec
	queueCapacity      *prometheus.GaugeVec
	queueEnqueueTotal  *prometheus.CounterVec
	queueDequeueTotal  *prometheus.CounterVec
	queueEnqueueErrors *prometheus.CounterVec

	// Worker Metrics
	workerActiveCount       *prometheus.GaugeVec
	workerProcessingLatency *prometheus.HistogramVec
	workerErrors            *prometheus.CounterVec

	// Store Metrics
	storeLatency *prometheus.HistogramVec

	// HTTP Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Error Metrics
	errorsByComponent *prometheus.CounterVec

	// System Metrics
	systemMemoryUsage prometheus.Gauge
	systemGoroutines  prometheus.Gauge
	systemGCPause     prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace: "draftwatch",
		subsystem: "integrity",
		histogramBuckets: []float64{
			0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500,
		},
		constLabels: make(map[string]string),
		registry:    prometheus.DefaultRegisterer,
	}

	// Apply all options
	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) histogramOpts(name, help string) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.picksReceived = auto.NewCounter(m.counterOpts("picks_received_total",
		"Total number of pick events accepted by the API"))
	m.picksDuplicate = auto.NewCounter(m.counterOpts("picks_duplicate_total",
		"Total number of pick events rejected as duplicates"))
	m.picksTracked = auto.NewCounter(m.counterOpts("picks_tracked_total",
		"Total number of pick events applied to a session snapshot"))
	m.picksSkipped = auto.NewCounterVec(m.counterOpts("picks_skipped_total",
		"Pick events the tracker ignored, by reason"), []string{"reason"})
	m.picksDropped = auto.NewCounterVec(m.counterOpts("picks_dropped_total",
		"Pick events dropped before tracking, by reason"), []string{"reason"})

	m.trackerLatency = auto.NewHistogram(m.histogramOpts("tracker_latency_milliseconds",
		"Time to apply one pick event to the session state"))
	m.trackerConflicts = auto.NewCounter(m.counterOpts("tracker_conflicts_total",
		"Optimistic concurrency conflicts observed by the tracker"))
	m.flagsRecorded = auto.NewCounterVec(m.counterOpts("flag_events_total",
		"Proximity flag events recorded, by kind"), []string{"kind"})

	m.sessionsCompleted = auto.NewCounter(m.counterOpts("sessions_completed_total",
		"Sessions marked completed"))
	m.sessionsScored = auto.NewCounter(m.counterOpts("sessions_scored_total",
		"Sessions scored by the risk scorer"))
	m.scoringLatency = auto.NewHistogram(m.histogramOpts("scoring_latency_milliseconds",
		"Time to score one completed session"))
	m.scoringErrors = auto.NewCounter(m.counterOpts("scoring_errors_total",
		"Sessions whose scoring failed"))
	m.pairsScored = auto.NewCounterVec(m.counterOpts("pairs_scored_total",
		"Scored pairs, by recommendation"), []string{"recommendation"})

	m.aggregationRuns = auto.NewCounter(m.counterOpts("aggregation_runs_total",
		"Cross-session aggregation runs"))
	m.aggregationDuration = auto.NewHistogram(m.histogramOpts("aggregation_duration_milliseconds",
		"Duration of one aggregation run"))
	m.aggregationPairs = auto.NewCounterVec(m.counterOpts("aggregation_pairs_total",
		"Pair histories written by aggregation, by risk level"), []string{"level"})
	m.aggregationFailures = auto.NewCounter(m.counterOpts("aggregation_pair_failures_total",
		"Pairs whose aggregation failed"))

	m.queueSize = auto.NewGaugeVec(m.gaugeOpts("queue_size",
		"Current number of queued items"), []string{"queue"})
	m.queueCapacity = auto.NewGaugeVec(m.gaugeOpts("queue_capacity",
		"Configured queue capacity"), []string{"queue"})
	m.queueEnqueueTotal = auto.NewCounterVec(m.counterOpts("queue_enqueue_total",
		"Items enqueued"), []string{"queue"})
	m.queueDequeueTotal = auto.NewCounterVec(m.counterOpts("queue_dequeue_total",
		"Items dequeued"), []string{"queue"})
	m.queueEnqueueErrors = auto.NewCounterVec(m.counterOpts("queue_enqueue_errors_total",
		"Rejected enqueue attempts, by reason"), []string{"queue", "reason"})

	m.workerActiveCount = auto.NewGaugeVec(m.gaugeOpts("worker_active_count",
		"Workers currently running"), []string{"pool"})
	m.workerProcessingLatency = auto.NewHistogramVec(m.histogramOpts("worker_processing_latency_milliseconds",
		"Time a worker spends on one item"), []string{"pool"})
	m.workerErrors = auto.NewCounterVec(m.counterOpts("worker_errors_total",
		"Items whose handler returned an error"), []string{"pool"})

	m.storeLatency = auto.NewHistogramVec(m.histogramOpts("store_operation_latency_milliseconds",
		"Latency of store operations"), []string{"driver", "operation"})

	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total",
		"Total number of HTTP requests by endpoint and method"), []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts("http_request_duration_milliseconds",
		"HTTP request duration in milliseconds"), []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = auto.NewCounterVec(m.counterOpts("errors_by_component_total",
		"Errors by component and type"), []string{"component", "error_type"})

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_bytes",
		"Heap bytes allocated"))
	m.systemGoroutines = auto.NewGauge(m.gaugeOpts("system_goroutines",
		"Current number of goroutines"))
	m.systemGCPause = auto.NewGauge(m.gaugeOpts("system_gc_pause_milliseconds",
		"Average GC pause"))
}

// SetGlobal replaces the manager behind the package-level recorders.
func SetGlobal(m *Manager) error {
	if m == nil {
		return ErrNoManager
	}
	globalManager = m
	return nil
}

// Ingest Metrics Functions.

// RecordPickReceived increments the received picks counter.
func RecordPickReceived() {
	globalManager.picksReceived.Inc()
}

// RecordPickDuplicate increments the duplicate picks counter.
func RecordPickDuplicate() {
	globalManager.picksDuplicate.Inc()
}

// RecordPickTracked increments the tracked picks counter.
func RecordPickTracked() {
	globalManager.picksTracked.Inc()
}

// RecordPickSkipped counts a pick the tracker ignored.
func RecordPickSkipped(reason string) {
	globalManager.picksSkipped.WithLabelValues(reason).Inc()
}

// RecordPickDropped counts a pick that was dropped without being tracked.
func RecordPickDropped(reason string) {
	globalManager.picksDropped.WithLabelValues(reason).Inc()
}

// Tracker Metrics Functions.

// RecordTrackerLatency records tracker latency in milliseconds.
func RecordTrackerLatency(latencyMs float64) {
	globalManager.trackerLatency.Observe(latencyMs)
}

// RecordTrackerConflict increments the conflict counter.
func RecordTrackerConflict() {
	globalManager.trackerConflicts.Inc()
}

// RecordFlagEvent counts a recorded flag event of the given kind.
func RecordFlagEvent(kind string) {
	globalManager.flagsRecorded.WithLabelValues(kind).Inc()
}

// Scoring Metrics Functions.

// RecordSessionCompleted increments the completed sessions counter.
func RecordSessionCompleted() {
	globalManager.sessionsCompleted.Inc()
}

// RecordSessionScored increments the scored sessions counter.
func RecordSessionScored() {
	globalManager.sessionsScored.Inc()
}

// RecordScoringLatency records scoring latency in milliseconds.
func RecordScoringLatency(latencyMs float64) {
	globalManager.scoringLatency.Observe(latencyMs)
}

// RecordScoringError increments the scoring errors counter.
func RecordScoringError() {
	globalManager.scoringErrors.Inc()
}

// RecordPairScored counts a scored pair by recommendation.
func RecordPairScored(recommendation string) {
	globalManager.pairsScored.WithLabelValues(recommendation).Inc()
}

// Aggregation Metrics Functions.

// RecordAggregationRun records one completed aggregation run.
func RecordAggregationRun(durationMs float64) {
	globalManager.aggregationRuns.Inc()
	globalManager.aggregationDuration.Observe(durationMs)
}

// RecordAggregatedPair counts a written pair history by level.
func RecordAggregatedPair(level string) {
	globalManager.aggregationPairs.WithLabelValues(level).Inc()
}

// RecordAggregationFailure counts a pair whose aggregation failed.
func RecordAggregationFailure() {
	globalManager.aggregationFailures.Inc()
}

// Queue Metrics Functions.

// UpdateQueueSize sets the current size of the named queue.
func UpdateQueueSize(queue string, size int) {
	globalManager.queueSize.WithLabelValues(queue).Set(float64(size))
}

// UpdateQueueCapacity sets the capacity of the named queue.
func UpdateQueueCapacity(queue string, capacity int) {
	globalManager.queueCapacity.WithLabelValues(queue).Set(float64(capacity))
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue(queue string) {
	globalManager.queueEnqueueTotal.WithLabelValues(queue).Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue(queue string) {
	globalManager.queueDequeueTotal.WithLabelValues(queue).Inc()
}

// RecordQueueEnqueueError counts a rejected enqueue.
func RecordQueueEnqueueError(queue, reason string) {
	globalManager.queueEnqueueErrors.WithLabelValues(queue, reason).Inc()
}

// Worker Metrics Functions.

// UpdateWorkerActiveCount sets the number of running workers in a pool.
func UpdateWorkerActiveCount(pool string, count int) {
	globalManager.workerActiveCount.WithLabelValues(pool).Set(float64(count))
}

// RecordWorkerProcessingLatency records per-item handler latency.
func RecordWorkerProcessingLatency(pool string, latencyMs float64) {
	globalManager.workerProcessingLatency.WithLabelValues(pool).Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError(pool string) {
	globalManager.workerErrors.WithLabelValues(pool).Inc()
}

// Store Metrics Functions.

// RecordStoreLatency records the latency of one store operation.
func RecordStoreLatency(driver, operation string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(driver, operation).Observe(latencyMs)
}

// HTTP Metrics Functions.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Error Metrics Functions.

// RecordErrorByComponent records errors by component.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// System Metrics Functions.

// UpdateSystemMemoryUsage sets the allocated heap gauge.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the goroutine gauge.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutines.Set(float64(count))
}

// RecordSystemGCPauseTime sets the average GC pause gauge.
func RecordSystemGCPauseTime(ms float64) {
	globalManager.systemGCPause.Set(ms)
}
