package prometheus

import "time"

// Default histogram buckets.
var (
	// DefaultRequestDurationBuckets targets the write path's P95 < 50ms goal:
	// dense resolution under 100ms, coarse tail for degraded backends.
	DefaultRequestDurationBuckets = []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5}

	// DefaultSizeBuckets covers payload sizes up to the 1 MiB hard cap.
	DefaultSizeBuckets = []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576}
)

// AppMetrics holds every instrument the WAL ingestion service emits.
// A single instance is constructed at startup and injected into the
// pipeline, the transaction orchestrator, and the producer factory.
type AppMetrics struct {
	// HTTP / pipeline
	RequestDuration HistogramVec // {namespace, operation}
	WritesTotal     CounterVec   // {namespace, status, error_type}
	PayloadSize     HistogramVec // {namespace}
	ActiveMessages  GaugeVec     // {namespace}

	// Transactions
	TransactionsTotal  CounterVec // {status, durability, reason}
	ActiveTransactions GaugeVec   // {} (single series)

	// Producers
	ProducerSendDuration HistogramVec // {backend}
	ProducerSendsTotal   CounterVec   // {backend, status}
	ProducerHealth       GaugeVec     // {backend} 1 healthy, 0.5 degraded, 0 unhealthy
	ProducerFallbacks    CounterVec   // {from, to}

	// Namespace registry
	NamespaceCacheHits   CounterVec // {result} hit|miss
	NamespaceLookupTotal CounterVec // {namespace, result}

	// Delayed scheduling
	DelayedScheduledTotal CounterVec // {backend}
}

// NewAppMetrics registers the WAL metric set against the given collector.
func NewAppMetrics(collector MetricsCollector) *AppMetrics {
	m := &AppMetrics{}

	m.RequestDuration = collector.RegisterHistogram(
		"request_duration_seconds",
		"End-to-end writeToLog duration",
		DefaultRequestDurationBuckets,
		"namespace", "operation")
	m.WritesTotal = collector.RegisterCounter(
		"writes_total",
		"Write attempts by outcome",
		"namespace", "status", "error_type")
	m.PayloadSize = collector.RegisterHistogram(
		"payload_size_bytes",
		"Canonical-JSON payload size",
		DefaultSizeBuckets,
		"namespace")
	m.ActiveMessages = collector.RegisterGauge(
		"active_messages",
		"Messages accepted and not yet handed off to the consumer side",
		"namespace")

	m.TransactionsTotal = collector.RegisterCounter(
		"transactions_total",
		"Transaction terminations by status",
		"status", "durability", "reason")
	m.ActiveTransactions = collector.RegisterGauge(
		"active_transactions",
		"Transactions currently in the active set")

	m.ProducerSendDuration = collector.RegisterHistogram(
		"producer_send_duration_seconds",
		"Driver send latency",
		DefaultRequestDurationBuckets,
		"backend")
	m.ProducerSendsTotal = collector.RegisterCounter(
		"producer_sends_total",
		"Driver sends by outcome",
		"backend", "status")
	m.ProducerHealth = collector.RegisterGauge(
		"producer_health",
		"Producer health sample: 1 healthy, 0.5 degraded, 0 unhealthy",
		"backend")
	m.ProducerFallbacks = collector.RegisterCounter(
		"producer_fallbacks_total",
		"Fallback selections after an unhealthy primary",
		"from", "to")

	m.NamespaceCacheHits = collector.RegisterCounter(
		"namespace_cache_total",
		"Namespace registry cache lookups",
		"result")
	m.NamespaceLookupTotal = collector.RegisterCounter(
		"namespace_lookups_total",
		"Namespace store lookups by result",
		"namespace", "result")

	m.DelayedScheduledTotal = collector.RegisterCounter(
		"delayed_scheduled_total",
		"Messages recorded for delayed release",
		"backend")

	return m
}

// HealthValue converts a health status string into the gauge encoding.
func HealthValue(status string) float64 {
	switch status {
	case "healthy":
		return 1
	case "degraded":
		return 0.5
	default:
		return 0
	}
}

// ObserveDuration is a small helper for deferred timer observation.
func ObserveDuration(h Histogram, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}
