package obs

import "github.com/ormind-ai/ormind/core"

// Metric names for the observability hooks spec §6 calls out explicitly.
// Components call these through core.GetGlobalMetricsRegistry() rather
// than importing this package directly, so obs has no reverse dependency
// on pkg/scheduler, pkg/router, pkg/healing, or pkg/audit.
const (
	MetricQueueDepth           = "ormind.scheduler.queue_depth"
	MetricProviderRequests     = "ormind.router.provider_requests"
	MetricTelemetrySampleLag   = "ormind.telemetry.sample_lag_seconds"
	MetricAuditSealLatency     = "ormind.audit.seal_latency_seconds"
	MetricAnomalyCountPerMin   = "ormind.healing.anomaly_count_per_minute"
)

// Emit is a nil-safe helper: if no MetricsRegistry has been installed
// (core.GetGlobalMetricsRegistry() returns nil), it's a no-op rather than
// a crash. Components needn't nil-check themselves on every call site.
func Emit(kind, name string, value float64, labels ...string) {
	reg := core.GetGlobalMetricsRegistry()
	if reg == nil {
		return
	}
	switch kind {
	case "counter":
		reg.Counter(name, labels...)
	case "gauge":
		reg.Gauge(name, value, labels...)
	case "histogram":
		reg.Histogram(name, value, labels...)
	}
}
