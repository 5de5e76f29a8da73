package healing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormind-ai/ormind/core"
	"github.com/ormind-ai/ormind/pkg/domain"
)

func testAgent() *Agent {
	return New(core.HealingConfig{
		WindowSamples:       60,
		ZThreshold:          3.0,
		VRAMCriticalPct:     97.0,
		TempCriticalCelsius: 84.0,
	}, core.NoOpLogger{})
}

func sample(instanceID string, vram, temp, gpuUtil, interconnect float64) domain.TelemetrySample {
	return domain.TelemetrySample{
		InstanceID:        instanceID,
		VRAMUsagePct:      vram,
		TempCelsius:       temp,
		GPUUtilizationPct: gpuUtil,
		InterconnectGbps:  interconnect,
		Timestamp:         time.Now(),
	}
}

// S3: vram_usage_pct sequence [72, 80, 94, 98] fires prescale_memory on
// the fourth sample, on the first sample that crosses 97.
func TestAgent_VRAMOverCriticalFiresPrescaleImmediately(t *testing.T) {
	a := testAgent()
	for _, v := range []float64{72, 80, 94} {
		triggers := a.Observe(sample("i-1", v, 50, 50, 100))
		for _, tr := range triggers {
			assert.NotEqual(t, TriggerPrescaleMemory, tr.Kind)
		}
	}
	triggers := a.Observe(sample("i-1", 98, 50, 50, 100))
	require.NotEmpty(t, triggers)
	found := false
	for _, tr := range triggers {
		if tr.Kind == TriggerPrescaleMemory {
			found = true
			assert.Equal(t, 98.0, tr.Value)
		}
	}
	assert.True(t, found)
}

func TestAgent_TempSustainedThreeSamplesFiresReduceBatchSize(t *testing.T) {
	a := testAgent()
	triggers := a.Observe(sample("i-1", 50, 90, 50, 100))
	assertNoKind(t, triggers, TriggerReduceBatchSize)
	triggers = a.Observe(sample("i-1", 50, 90, 50, 100))
	assertNoKind(t, triggers, TriggerReduceBatchSize)
	triggers = a.Observe(sample("i-1", 50, 90, 50, 100))
	assertHasKind(t, triggers, TriggerReduceBatchSize)
}

func TestAgent_TempStreakResetsOnNormalSample(t *testing.T) {
	a := testAgent()
	a.Observe(sample("i-1", 50, 90, 50, 100))
	a.Observe(sample("i-1", 50, 90, 50, 100))
	a.Observe(sample("i-1", 50, 50, 50, 100)) // back under threshold: resets streak
	triggers := a.Observe(sample("i-1", 50, 90, 50, 100))
	assertNoKind(t, triggers, TriggerReduceBatchSize)
}

func TestAgent_ZScoreSustainedThreeSamplesFiresRestart(t *testing.T) {
	a := testAgent()
	// Prime the window with a stable baseline so a spike produces a
	// large |Z|.
	for i := 0; i < 30; i++ {
		a.Observe(sample("i-1", 50, 50, 50, 100))
	}
	var triggers []Trigger
	for i := 0; i < zScoreSustainedSamples; i++ {
		triggers = a.Observe(sample("i-1", 50, 50, 99, 100))
	}
	assertHasKind(t, triggers, TriggerRestart)
}

func TestAgent_OOMSignalFiresMigrateLargerGPU(t *testing.T) {
	a := testAgent()
	s := sample("i-1", 50, 50, 50, 100)
	s.OOMSignal = true
	triggers := a.Observe(s)
	assertHasKind(t, triggers, TriggerMigrateLargerGPU)
}

func TestAgent_RecordRestartExceedsBudgetAtThreeWithinWindow(t *testing.T) {
	a := testAgent()
	assert.False(t, a.RecordRestart("i-1"))
	assert.False(t, a.RecordRestart("i-1"))
	assert.True(t, a.RecordRestart("i-1"))
}

func TestAgent_CheckStalenessUnknownInstanceIsNeitherStaleNorFailed(t *testing.T) {
	a := testAgent()
	stale, failed := a.CheckStaleness("never-seen")
	assert.False(t, stale)
	assert.False(t, failed)
}

func TestAgent_CheckStalenessFreshSampleIsNotStale(t *testing.T) {
	a := testAgent()
	a.Observe(sample("i-1", 50, 50, 50, 100))
	stale, failed := a.CheckStaleness("i-1")
	assert.False(t, stale)
	assert.False(t, failed)
}

func TestTrigger_MeetsGate(t *testing.T) {
	prescale := Trigger{Kind: TriggerPrescaleMemory}
	assert.False(t, prescale.MeetsGate(0.5))
	assert.True(t, prescale.MeetsGate(0.80))

	immediate := Trigger{Kind: TriggerReduceBatchSize}
	assert.True(t, immediate.MeetsGate(0))
}

func assertHasKind(t *testing.T, triggers []Trigger, kind TriggerKind) {
	t.Helper()
	for _, tr := range triggers {
		if tr.Kind == kind {
			return
		}
	}
	t.Fatalf("expected a %s trigger, got %+v", kind, triggers)
}

func assertNoKind(t *testing.T, triggers []Trigger, kind TriggerKind) {
	t.Helper()
	for _, tr := range triggers {
		assert.NotEqual(t, kind, tr.Kind)
	}
}
