package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormind-ai/ormind/core"
	"github.com/ormind-ai/ormind/pkg/domain"
	"github.com/ormind-ai/ormind/pkg/reasoning"
	"github.com/ormind-ai/ormind/pkg/safety"
)

type fakeScheduler struct {
	pushed []domain.TaskHandle
}

func (f *fakeScheduler) Push(goalID string, task domain.TaskHandle, gpuClass string, basePriority float64, deadline time.Time, expectedDur time.Duration) error {
	f.pushed = append(f.pushed, task)
	return nil
}

type fakeAudit struct {
	records []domain.AuditRecord
}

func (f *fakeAudit) Append(r domain.AuditRecord) error {
	f.records = append(f.records, r)
	return nil
}

type fakeEngine struct {
	repairAction reasoning.RepairAction
}

func (f *fakeEngine) Plan(context.Context, string, reasoning.PlanConstraints) (*domain.TaskArena, error) {
	return nil, nil
}
func (f *fakeEngine) Diagnose(context.Context, map[string]interface{}, []domain.TelemetrySample) (reasoning.Diagnosis, error) {
	return reasoning.Diagnosis{}, nil
}
func (f *fakeEngine) Repair(context.Context, domain.Task, map[string]interface{}) (reasoning.Repair, error) {
	return reasoning.Repair{Action: f.repairAction, Rationale: "test"}, nil
}

func newTestOrchestrator(t *testing.T, repairAction reasoning.RepairAction) (*Orchestrator, *fakeScheduler, chan TaskOutcome) {
	t.Helper()
	gov := safety.New(core.GovernorConfig{DailyCapUSD: 1000, PerActionCapUSD: 100}, core.NoOpLogger{})
	sched := &fakeScheduler{}
	audit := &fakeAudit{}
	engine := &fakeEngine{repairAction: repairAction}
	completions := make(chan TaskOutcome, 4)

	goal := domain.NewGoal("g1", "train something", "tester", nil, time.Now())
	arena := domain.NewTaskArena()
	_, err := arena.AddTask("g1", "img:a", domain.ResourceDemand{GPUClass: "a100", GPUCount: 1}, nil, 0.9, domain.RiskNormal)
	require.NoError(t, err)
	goal.Plan = arena
	goal.Status = domain.GoalRunning

	o := New(goal, engine, gov, sched, audit, completions, core.NoOpLogger{})
	return o, sched, completions
}

func TestOrchestrator_DispatchesReadyRootTask(t *testing.T) {
	o, sched, completions := newTestOrchestrator(t, reasoning.RepairRetry)
	ctx, cancel := context.WithCancel(context.Background())

	go o.Run(ctx)
	time.Sleep(20 * time.Millisecond)
	completions <- TaskOutcome{GoalID: "g1", Task: 0, Success: true}
	time.Sleep(20 * time.Millisecond)
	cancel()
	time.Sleep(10 * time.Millisecond)

	assert.Len(t, sched.pushed, 1)
	assert.Equal(t, domain.GoalCompleted, o.goal.Status)
}

func TestOrchestrator_RepairAbandonFailsGoal(t *testing.T) {
	o, _, completions := newTestOrchestrator(t, reasoning.RepairAbandon)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go o.Run(ctx)
	time.Sleep(20 * time.Millisecond)
	completions <- TaskOutcome{GoalID: "g1", Task: 0, Success: false, FailureContext: map[string]interface{}{}}
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, domain.GoalFailed, o.goal.Status)
}

func TestOrchestrator_OverBudgetCancelsRemainingTasks(t *testing.T) {
	gov := safety.New(core.GovernorConfig{DailyCapUSD: 1000, PerActionCapUSD: 100}, core.NoOpLogger{})
	sched := &fakeScheduler{}
	audit := &fakeAudit{}
	engine := &fakeEngine{repairAction: reasoning.RepairAbandon}
	completions := make(chan TaskOutcome, 4)

	ceiling := 10.0
	goal := domain.NewGoal("g1", "train something", "tester", &ceiling, time.Now())
	arena := domain.NewTaskArena()
	first, err := arena.AddTask("g1", "img:a", domain.ResourceDemand{GPUClass: "a100", GPUCount: 1}, nil, 0.9, domain.RiskNormal)
	require.NoError(t, err)
	_, err = arena.AddTask("g1", "img:b", domain.ResourceDemand{GPUClass: "a100", GPUCount: 1}, []domain.TaskHandle{first}, 0.9, domain.RiskNormal)
	require.NoError(t, err)
	goal.Plan = arena
	goal.Status = domain.GoalRunning
	goal.AggregateCost = 20.0 // already over the 10.0 ceiling

	o := New(goal, engine, gov, sched, audit, completions, core.NoOpLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go o.Run(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()
	time.Sleep(10 * time.Millisecond)

	assert.Empty(t, sched.pushed, "no task should be dispatched once the goal is over budget")
	second, ok := o.goal.Plan.Get(1)
	require.True(t, ok)
	assert.Equal(t, domain.TaskCancelled, second.Status)

	found := false
	for _, rec := range audit.records {
		if rec.Action == "budget_ceiling_exceeded" {
			found = true
		}
	}
	assert.True(t, found, "expected a budget_ceiling_exceeded audit record")
}

func TestRegistry_PublishDropsWhenUnregistered(t *testing.T) {
	r := NewRegistry()
	assert.NotPanics(t, func() {
		r.Publish("unknown-goal", TaskOutcome{})
	})
}
