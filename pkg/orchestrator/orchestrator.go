// Package orchestrator drives a single Goal's task DAG from acceptance to
// a terminal state: it requests a plan, pushes ready tasks through the
// Safety Governor to the Scheduler, observes completions, and consults
// the Reasoning Engine for repair on failure. It never talks to a
// Provider Adapter directly (spec §4.8's key structural invariant).
package orchestrator

import (
	"context"
	"time"

	"github.com/ormind-ai/ormind/core"
	"github.com/ormind-ai/ormind/pkg/domain"
	"github.com/ormind-ai/ormind/pkg/reasoning"
	"github.com/ormind-ai/ormind/pkg/safety"
)

// Scheduler is the subset of *scheduler.Scheduler the Orchestrator needs;
// an interface here keeps this package decoupled from the concrete
// priority-queue implementation for testing.
type Scheduler interface {
	Push(goalID string, task domain.TaskHandle, gpuClass string, basePriority float64, deadline time.Time, expectedDur time.Duration) error
}

// AuditSink is the subset of the Audit Agent's API the Orchestrator needs.
type AuditSink interface {
	Append(record domain.AuditRecord) error
}

// Orchestrator drives exactly one Goal (spec §5: "one Orchestrator
// activity per active Goal").
type Orchestrator struct {
	goal   *domain.Goal
	engine reasoning.Engine
	gov    *safety.Governor
	sched  Scheduler
	audit  AuditSink
	logger core.Logger

	completions chan TaskOutcome
	metrics     *Metrics
	hist        *history

	budgetExceeded bool
}

// New builds an Orchestrator for goal. completions is the channel the
// process-wide Executor publishes this goal's TaskOutcomes to; callers
// obtain it from a Registry (registry.go) before constructing this.
func New(goal *domain.Goal, engine reasoning.Engine, gov *safety.Governor, sched Scheduler, audit AuditSink, completions chan TaskOutcome, logger core.Logger) *Orchestrator {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Orchestrator{
		goal: goal, engine: engine, gov: gov, sched: sched, audit: audit,
		logger: logger, completions: completions,
		metrics: &Metrics{}, hist: newHistory(defaultHistorySize),
	}
}

// Plan requests a task DAG from the Reasoning Engine and attaches it to
// the Goal, transitioning it from accepted to planning to running.
func (o *Orchestrator) Plan(ctx context.Context, constraints reasoning.PlanConstraints) error {
	o.goal.Status = domain.GoalPlanning
	arena, err := o.engine.Plan(ctx, o.goal.RawText, constraints)
	if err != nil {
		o.goal.Status = domain.GoalFailed
		return err
	}
	o.goal.Plan = arena
	o.goal.Status = domain.GoalRunning
	return nil
}

// AttachPlan installs a pre-built task DAG directly, skipping the
// Reasoning Engine entirely. This is how an operator-supplied plan file
// enters the system: the same Run loop drives it from here on, so a
// hand-authored DAG gets exactly the same Governor checks, Scheduler
// dispatch, and repair handling a synthesized one would.
func (o *Orchestrator) AttachPlan(arena *domain.TaskArena) {
	o.goal.Plan = arena
	o.goal.Status = domain.GoalRunning
}

// Run drives the lifecycle loop until the Goal reaches a terminal status
// or ctx is cancelled. It is meant to run as its own goroutine, one per
// active Goal.
func (o *Orchestrator) Run(ctx context.Context) {
	start := time.Now()
	defer func() {
		o.hist.record(ExecutionRecord{
			GoalID:        o.goal.ID,
			Timestamp:     time.Now(),
			TasksRun:      o.metrics.Snapshot().TasksDispatched,
			TasksFailed:   o.metrics.Snapshot().TasksFailed,
			FinalStatus:   o.goal.Status,
			ExecutionTime: time.Since(start),
		})
	}()

	if o.goal.Plan == nil {
		o.goal.Status = domain.GoalFailed
		return
	}

	for {
		o.dispatchReadyTasks(ctx)

		if o.goal.Plan.AllTerminal() {
			o.finalizeGoal()
			return
		}

		select {
		case <-ctx.Done():
			o.goal.Status = domain.GoalCancelled
			return
		case outcome := <-o.completions:
			o.handleOutcome(ctx, outcome)
		}
	}
}

// dispatchReadyTasks marks every task whose predecessors have succeeded
// as ready, consults the Governor on its risk tier, and pushes approved
// tasks to the Scheduler (spec §4.8 steps 1-2).
func (o *Orchestrator) dispatchReadyTasks(ctx context.Context) {
	if o.goal.OverBudget() {
		o.cancelRemainingTasks()
		return
	}
	for _, h := range o.goal.Plan.All() {
		t, ok := o.goal.Plan.Get(h)
		if !ok || t.Status != domain.TaskPending {
			continue
		}
		if !o.goal.Plan.IsReady(h) {
			continue
		}
		t.Status = domain.TaskReady

		estimatedCost := t.Demand.MaxCost
		result := o.gov.Check(safety.Action{
			GoalID: o.goal.ID, Actor: "orchestrator", Kind: "dispatch_task",
			EstimatedCost: estimatedCost, RiskTier: t.RiskTier,
		})
		o.auditDecision(t.Handle, result)

		if !result.Approved() {
			t.Status = domain.TaskFailed
			o.metrics.recordFailure()
			continue
		}

		deadline := time.Now().Add(time.Duration(t.Demand.MaxDuration * float64(time.Hour)))
		expectedDur := time.Duration(t.Demand.MaxDuration * float64(time.Hour))
		basePriority := 1.0
		if err := o.sched.Push(o.goal.ID, h, t.Demand.GPUClass, basePriority, deadline, expectedDur); err != nil {
			o.logger.Error("failed to push task to scheduler", map[string]interface{}{
				"goal_id": o.goal.ID, "task": int(h), "error": err.Error(),
			})
			t.Status = domain.TaskFailed
			o.metrics.recordFailure()
			continue
		}
		t.Status = domain.TaskQueued
		o.metrics.recordDispatch()
	}
}

// cancelRemainingTasks marks every non-terminal task cancelled once the
// Goal's own budget ceiling has been exceeded (spec §3: the Goal-level
// optional budget ceiling, distinct from the Governor's per-action/
// per-goal/daily caps). It audits the cancellation exactly once per Goal
// to avoid spamming the log across repeated dispatch loop iterations.
func (o *Orchestrator) cancelRemainingTasks() {
	if o.budgetExceeded {
		return
	}
	o.budgetExceeded = true
	for _, h := range o.goal.Plan.All() {
		t, ok := o.goal.Plan.Get(h)
		if !ok || t.Status.IsTerminal() {
			continue
		}
		t.Status = domain.TaskCancelled
	}
	rec := domain.NewRecord("orchestrator", "budget_ceiling_exceeded").
		Meta("goal_id", o.goal.ID).
		Meta("aggregate_cost", o.goal.AggregateCost).
		Meta("budget_ceiling", *o.goal.BudgetCeiling).
		Outcome("cancelled").
		Build()
	_ = o.audit.Append(rec)
}

func (o *Orchestrator) auditDecision(h domain.TaskHandle, result safety.Result) {
	rec := domain.NewRecord("orchestrator", "governor_check").
		Meta("task_handle", int(h)).
		Meta("policy_version", result.PolicyVersion).
		Outcome(string(result.Decision)).
		Reasoning(result.Reason).
		SafetyApproved(result.Approved()).
		Build()
	_ = o.audit.Append(rec)
}

// handleOutcome processes one TaskOutcome (spec §4.8 step 3): on success
// it marks the task succeeded (unblocking successors next loop), on
// failure it consults the Reasoning Engine for a repair recommendation
// (step 4).
func (o *Orchestrator) handleOutcome(ctx context.Context, outcome TaskOutcome) {
	t, ok := o.goal.Plan.Get(outcome.Task)
	if !ok {
		return
	}
	o.goal.AggregateCost += outcome.CostImpact

	if outcome.Success {
		t.Status = domain.TaskSucceeded
		o.metrics.recordSuccess()
		return
	}

	o.metrics.recordFailure()
	o.metrics.recordRepair()
	repair, err := o.engine.Repair(ctx, *t, outcome.FailureContext)
	if err != nil {
		o.logger.Warn("repair consultation failed, abandoning task", map[string]interface{}{
			"goal_id": o.goal.ID, "task": int(outcome.Task), "error": err.Error(),
		})
		t.Status = domain.TaskFailed
		return
	}

	rec := domain.NewRecord("orchestrator", "repair_consultation").
		Meta("task_handle", int(outcome.Task)).
		Outcome(string(repair.Action)).
		Reasoning(repair.Rationale).
		Build()
	_ = o.audit.Append(rec)

	switch repair.Action {
	case reasoning.RepairRetry, reasoning.RepairModify:
		t.RetryCount++
		t.Status = domain.TaskPending // re-enters the ready check next loop
	case reasoning.RepairAbandon:
		t.Status = domain.TaskFailed
	}
}

// finalizeGoal aggregates the terminal Goal result once every task in
// its DAG has reached a terminal status (spec §4.8 step 5).
func (o *Orchestrator) finalizeGoal() {
	failed := false
	for _, h := range o.goal.Plan.All() {
		t, _ := o.goal.Plan.Get(h)
		if t.Status == domain.TaskFailed || t.Status == domain.TaskCancelled {
			failed = true
			break
		}
	}
	if failed {
		o.goal.Status = domain.GoalFailed
	} else {
		o.goal.Status = domain.GoalCompleted
	}
	o.goal.UpdatedAt = time.Now()
}

// Metrics returns a snapshot of this Orchestrator's counters.
func (o *Orchestrator) Metrics() Snapshot {
	return o.metrics.Snapshot()
}

// History returns a copy of this Orchestrator's bounded execution record
// ring (empty until the Goal completes at least one Run).
func (o *Orchestrator) History() []ExecutionRecord {
	return o.hist.snapshot()
}
