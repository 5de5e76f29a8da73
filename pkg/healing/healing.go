package healing

import (
	"sync"
	"time"

	"github.com/ormind-ai/ormind/core"
	"github.com/ormind-ai/ormind/pkg/domain"
)

const (
	tempSustainedSamples    = 3
	zScoreSustainedSamples  = 3
	restartBudgetCount      = 3
	restartBudgetWindow     = 10 * time.Minute
	telemetryStaleAfter     = 10 * time.Second
	telemetryFailedAfter    = 30 * time.Second
)

// Agent is the Healing Agent: it consumes a telemetry subscription per
// active instance and emits Triggers for the Safety Governor to gate.
type Agent struct {
	cfg    core.HealingConfig
	logger core.Logger

	mu        sync.Mutex
	instances map[string]*instanceWindows
	lastSeen  map[string]time.Time
}

// New builds an Agent from HealingConfig; WindowSamples sizes every
// rolling window, ZThreshold is the |Z| gate for the restart trigger.
func New(cfg core.HealingConfig, logger core.Logger) *Agent {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Agent{
		cfg:       cfg,
		logger:    logger,
		instances: make(map[string]*instanceWindows),
		lastSeen:  make(map[string]time.Time),
	}
}

func (a *Agent) windowsFor(instanceID string) *instanceWindows {
	a.mu.Lock()
	defer a.mu.Unlock()
	w, ok := a.instances[instanceID]
	if !ok {
		w = newInstanceWindows(a.cfg.WindowSamples)
		a.instances[instanceID] = w
	}
	return w
}

// Observe feeds one TelemetrySample into the instance's rolling windows
// and returns every trigger that fires on this sample. Per-instance
// telemetry is assumed strictly timestamp-ordered by the caller (P6);
// Observe itself does not reorder.
func (a *Agent) Observe(sample domain.TelemetrySample) []Trigger {
	a.mu.Lock()
	a.lastSeen[sample.InstanceID] = time.Now()
	a.mu.Unlock()

	iw := a.windowsFor(sample.InstanceID)
	var triggers []Trigger

	if sample.VRAMUsagePct > a.cfg.VRAMCriticalPct {
		triggers = append(triggers, Trigger{Kind: TriggerPrescaleMemory, InstanceID: sample.InstanceID, Metric: metricVRAMUsage, Value: sample.VRAMUsagePct})
	}

	iw.mu.Lock()
	if sample.TempCelsius > a.cfg.TempCriticalCelsius {
		iw.tempHighStreak++
	} else {
		iw.tempHighStreak = 0
	}
	tempStreak := iw.tempHighStreak
	iw.mu.Unlock()
	if tempStreak >= tempSustainedSamples {
		triggers = append(triggers, Trigger{Kind: TriggerReduceBatchSize, InstanceID: sample.InstanceID, Metric: metricTemp, Value: sample.TempCelsius})
	}

	for kind, value := range map[metricKind]float64{
		metricGPUUtilization: sample.GPUUtilizationPct,
		metricVRAMUsage:      sample.VRAMUsagePct,
		metricTemp:           sample.TempCelsius,
		metricInterconnect:   sample.InterconnectGbps,
	} {
		w := iw.windows[kind]
		z, ready := w.zscore(value)
		w.push(value)
		if !ready {
			continue
		}
		iw.mu.Lock()
		if abs(z) > a.cfg.ZThreshold {
			iw.zScoreStreak[kind]++
		} else {
			iw.zScoreStreak[kind] = 0
		}
		streak := iw.zScoreStreak[kind]
		iw.mu.Unlock()
		if streak >= zScoreSustainedSamples {
			triggers = append(triggers, Trigger{Kind: TriggerRestart, InstanceID: sample.InstanceID, Metric: kind, Value: z})
		}
	}

	if sample.OOMSignal {
		triggers = append(triggers, Trigger{Kind: TriggerMigrateLargerGPU, InstanceID: sample.InstanceID, Metric: metricVRAMUsage, Value: sample.VRAMUsagePct})
	}

	return triggers
}

// RecordRestart marks that instanceID was just restarted as a
// consequence of a TriggerRestart action, and reports whether the
// restart budget (3 within 10 minutes) has now been exceeded, in which
// case the caller should fire TriggerTerminate instead of restarting
// again.
func (a *Agent) RecordRestart(instanceID string) bool {
	iw := a.windowsFor(instanceID)
	now := time.Now().Unix()

	iw.mu.Lock()
	defer iw.mu.Unlock()
	if iw.restartWindowStart == 0 || now-iw.restartWindowStart > int64(restartBudgetWindow.Seconds()) {
		iw.restartWindowStart = now
		iw.restartCount = 0
	}
	iw.restartCount++
	return iw.restartCount >= restartBudgetCount
}

// CheckStaleness reports the telemetry gap state for instanceID: stale
// (no sample in 10s) or failed (no sample in 30s), per the error
// handling design (spec §7): gaps are not anomalies, they escalate on
// their own timeline.
func (a *Agent) CheckStaleness(instanceID string) (stale, failed bool) {
	a.mu.Lock()
	last, ok := a.lastSeen[instanceID]
	a.mu.Unlock()
	if !ok {
		return false, false
	}
	gap := time.Since(last)
	return gap >= telemetryStaleAfter, gap >= telemetryFailedAfter
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
