package healing

// TriggerKind identifies which row of the trigger table fired.
type TriggerKind string

const (
	TriggerPrescaleMemory  TriggerKind = "prescale_memory"
	TriggerReduceBatchSize TriggerKind = "reduce_batch_size"
	TriggerRestart         TriggerKind = "restart"
	TriggerMigrateLargerGPU TriggerKind = "migrate_larger_gpu"
	TriggerTerminate       TriggerKind = "terminate"
)

// requiredConfidence is the hard gate (Q2: these are gates, not logging
// hints) each trigger needs before the Safety Governor will even be
// asked to approve it. A zero value means the action is always attempted
// immediately regardless of confidence (temp/restart-count rows).
var requiredConfidence = map[TriggerKind]float64{
	TriggerPrescaleMemory:   0.80,
	TriggerReduceBatchSize:  0, // immediate
	TriggerRestart:          0.70,
	TriggerMigrateLargerGPU: 0.85,
	TriggerTerminate:        0, // immediate
}

// Trigger is one fired row of the trigger table, ready to be scored by
// the Reasoning Engine (or a deterministic fallback) for confidence.
type Trigger struct {
	Kind       TriggerKind
	InstanceID string
	Metric     metricKind
	Value      float64
}

// MeetsGate reports whether confidence clears the hard gate for t.Kind.
func (t Trigger) MeetsGate(confidence float64) bool {
	required := requiredConfidence[t.Kind]
	if required == 0 {
		return true
	}
	return confidence >= required
}
