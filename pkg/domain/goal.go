// Package domain holds the core entity model shared by every OrMind
// activity: Goal, Task, Job, Instance, PricePoint, TelemetrySample,
// AuditRecord/AuditBatch, and PolicyWeights.
//
// Task DAGs are modeled as an arena owned by the Goal rather than a graph
// of pointers: each Task is addressed by a small integer handle (TaskHandle)
// local to its Goal, and predecessor/successor edges are index slices into
// that arena. This keeps a Goal's plan a single contiguous, easily-cloned
// value instead of a web of pointers that's awkward to snapshot for audit
// replay.
package domain

import "time"

// GoalStatus is the lifecycle state of a Goal.
type GoalStatus string

const (
	GoalAccepted  GoalStatus = "accepted"
	GoalPlanning  GoalStatus = "planning"
	GoalRunning   GoalStatus = "running"
	GoalCompleted GoalStatus = "completed"
	GoalFailed    GoalStatus = "failed"
	GoalCancelled GoalStatus = "cancelled"
)

// IsTerminal reports whether this status ends the Goal's lifecycle.
func (s GoalStatus) IsTerminal() bool {
	switch s {
	case GoalCompleted, GoalFailed, GoalCancelled:
		return true
	default:
		return false
	}
}

// Goal is the user-level unit of intent: the root of a Task DAG.
type Goal struct {
	ID            string
	RawText       string
	Owner         string
	BudgetCeiling *float64 // nil means no explicit ceiling
	Plan          *TaskArena
	AggregateCost float64
	Status        GoalStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewGoal constructs a freshly accepted Goal with no plan yet; the
// orchestrator attaches a TaskArena once the Reasoning Engine returns one.
func NewGoal(id, rawText, owner string, budgetCeiling *float64, now time.Time) *Goal {
	return &Goal{
		ID:            id,
		RawText:       rawText,
		Owner:         owner,
		BudgetCeiling: budgetCeiling,
		Status:        GoalAccepted,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// OverBudget reports whether AggregateCost has exceeded the Goal's ceiling,
// when one was set.
func (g *Goal) OverBudget() bool {
	return g.BudgetCeiling != nil && g.AggregateCost > *g.BudgetCeiling
}
