// Package scripted provides a deterministic rule-table Engine: the
// default when no language model is configured, and the fallback the
// Healing Agent can fall back on for fixed confidences (spec §4.5's "a
// deterministic rule table provides fixed confidences").
package scripted

import (
	"context"
	"fmt"

	"github.com/ormind-ai/ormind/pkg/domain"
	"github.com/ormind-ai/ormind/pkg/reasoning"
)

// metricFix maps a metric-driven anomaly to its canned diagnosis. This is
// the rule table the reference framework's mock AI provider analogue
// plays for the Reasoning Engine: no model call, fixed confidence.
var metricFix = map[string]reasoning.Diagnosis{
	"vram_usage_pct":   {Action: "prescale_memory", Confidence: 0.82, Reasoning: "vram utilization sustained above critical threshold"},
	"temp_celsius":     {Action: "reduce_batch_size", Confidence: 1.0, Reasoning: "sustained thermal excursion"},
	"gpu_utilization_pct": {Action: "restart", Confidence: 0.72, Reasoning: "utilization deviates from rolling baseline"},
	"interconnect_gbps": {Action: "restart", Confidence: 0.72, Reasoning: "interconnect throughput deviates from rolling baseline"},
}

// Engine is a stateless, deterministic reasoning.Engine. Plan always
// returns a single-task arena running the goal text as an opaque image
// reference (a real planner would decompose it); Diagnose and Repair
// consult fixed tables instead of a model.
type Engine struct{}

// New builds a scripted Engine. It takes no configuration: every
// decision is a pure function of its input.
func New() *Engine {
	return &Engine{}
}

// Plan returns a single-task arena. Without an LLM to decompose goal
// text, the scripted engine treats the whole goal as one task — callers
// needing real decomposition should configure claude.Engine instead.
func (e *Engine) Plan(_ context.Context, goalText string, constraints reasoning.PlanConstraints) (*domain.TaskArena, error) {
	arena := domain.NewTaskArena()
	demand := domain.ResourceDemand{GPUCount: 1}
	risk := constraints.MaxRiskTier
	if risk == "" {
		risk = domain.RiskNormal
	}
	if _, err := arena.AddTask("", fmt.Sprintf("scripted-goal:%s", goalText), demand, nil, 0.5, risk); err != nil {
		return nil, err
	}
	return arena, nil
}

// Diagnose checks the latest sample in the window against fixed rules, in
// order: VRAM above 90%, temperature above 80°C, an OOM signal. It returns
// the canned fix for the first rule that matches, or a low-confidence
// no-op if none does. The instance context is unused: the scripted engine
// only reasons over the metrics window.
func (e *Engine) Diagnose(_ context.Context, _ map[string]interface{}, metricsWindow []domain.TelemetrySample) (reasoning.Diagnosis, error) {
	if len(metricsWindow) == 0 {
		return reasoning.Diagnosis{Action: "none", Confidence: 0, Reasoning: "no telemetry observed"}, nil
	}
	latest := metricsWindow[len(metricsWindow)-1]
	if latest.VRAMUsagePct > 90 {
		return metricFix["vram_usage_pct"], nil
	}
	if latest.TempCelsius > 80 {
		return metricFix["temp_celsius"], nil
	}
	if latest.OOMSignal {
		return reasoning.Diagnosis{Action: "migrate_larger_gpu", Confidence: 0.88, Reasoning: "oom signal observed"}, nil
	}
	return reasoning.Diagnosis{Action: "none", Confidence: 0.3, Reasoning: "no rule matched latest sample"}, nil
}

// Repair recommends abandon when failureContext carries an explicit
// "fatal" flag, modify once the task has been retried 3 or more times,
// and a retry otherwise, matching the conservative default a rule table
// without model judgment should take.
func (e *Engine) Repair(_ context.Context, task domain.Task, failureContext map[string]interface{}) (reasoning.Repair, error) {
	if fatal, _ := failureContext["fatal"].(bool); fatal {
		return reasoning.Repair{Action: reasoning.RepairAbandon, Rationale: "failure context marked fatal"}, nil
	}
	if task.RetryCount >= 3 {
		return reasoning.Repair{Action: reasoning.RepairModify, Rationale: "repeated retries exhausted without model-guided change"}, nil
	}
	return reasoning.Repair{Action: reasoning.RepairRetry, Rationale: "default conservative retry"}, nil
}
