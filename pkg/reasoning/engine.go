// Package reasoning defines the pluggable planning/diagnosis interface
// every non-deterministic decision in OrMind routes through, and an
// audited decorator that makes every call replayable without
// re-invoking the model (spec §9).
package reasoning

import (
	"context"

	"github.com/ormind-ai/ormind/pkg/domain"
)

// PlanConstraints bounds the plan the Engine is asked to produce: budget
// and risk tolerance travel with the goal, not the prompt text.
type PlanConstraints struct {
	BudgetCeiling *float64
	MaxRiskTier   domain.RiskTier
	Region        string
}

// RepairAction is the Engine's recommendation for a failed task.
type RepairAction string

const (
	RepairRetry    RepairAction = "retry"
	RepairModify   RepairAction = "modify"
	RepairAbandon  RepairAction = "abandon"
)

// Diagnosis is the Engine's read on an instance's telemetry window: what
// action to consider, how confident it is, and why. Confidence feeds the
// Healing Agent's hard gates (pkg/healing) — it is never advisory.
type Diagnosis struct {
	Action     string
	Confidence float64
	Reasoning  string
}

// Repair is the Engine's recommendation after a task failure.
type Repair struct {
	Action    RepairAction
	Rationale string
}

// Engine turns natural language and diagnostic context into structured
// decisions. plan/diagnose/repair are exactly spec.md §6's three
// operations.
type Engine interface {
	Plan(ctx context.Context, goalText string, constraints PlanConstraints) (*domain.TaskArena, error)
	Diagnose(ctx context.Context, instanceContext map[string]interface{}, metricsWindow []domain.TelemetrySample) (Diagnosis, error)
	Repair(ctx context.Context, task domain.Task, failureContext map[string]interface{}) (Repair, error)
}
