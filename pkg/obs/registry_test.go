package obs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CounterGaugeHistogramRegisterDistinctCollectors(t *testing.T) {
	r := New()
	r.Counter(MetricProviderRequests, "provider", "sim", "outcome", "success")
	r.Gauge(MetricQueueDepth, 3, "gpu_class", "a100")
	r.Histogram(MetricAuditSealLatency, 0.02)
	r.EmitWithContext(context.Background(), MetricTelemetrySampleLag, 1.5, "instance_id", "i-1")

	families, err := r.Gatherer().Gather()
	require.NoError(t, err)
	assert.Len(t, families, 4)
}

func TestEmit_NoOpWithoutInstalledRegistry(t *testing.T) {
	assert.NotPanics(t, func() {
		Emit("counter", MetricAnomalyCountPerMin, 1)
	})
}
