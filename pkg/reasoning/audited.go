package reasoning

import (
	"context"
	"time"

	"github.com/ormind-ai/ormind/pkg/domain"
)

// Sink is the subset of the Audit Agent's API the decorator needs.
type Sink interface {
	Append(record domain.AuditRecord) error
}

// AuditedEngine wraps an Engine so every call's input/output pair is
// written to the audit log before it returns, so replay can reconstruct
// a decision without re-invoking the model (spec §9).
type AuditedEngine struct {
	inner Engine
	sink  Sink
}

// Wrap decorates inner with audit logging through sink.
func Wrap(inner Engine, sink Sink) *AuditedEngine {
	return &AuditedEngine{inner: inner, sink: sink}
}

func (a *AuditedEngine) Plan(ctx context.Context, goalText string, constraints PlanConstraints) (*domain.TaskArena, error) {
	start := time.Now()
	arena, err := a.inner.Plan(ctx, goalText, constraints)
	record := domain.NewRecord("reasoning_engine", "plan").
		Meta("goal_text", goalText).
		Duration(time.Since(start))
	if err != nil {
		record.Outcome("error").Reasoning(err.Error())
	} else {
		record.Outcome("planned").Meta("task_count", arena.Len())
	}
	_ = a.sink.Append(record.Build())
	return arena, err
}

func (a *AuditedEngine) Diagnose(ctx context.Context, instanceContext map[string]interface{}, metricsWindow []domain.TelemetrySample) (Diagnosis, error) {
	start := time.Now()
	d, err := a.inner.Diagnose(ctx, instanceContext, metricsWindow)
	record := domain.NewRecord("reasoning_engine", "diagnose").
		Meta("instance_context", instanceContext).
		Meta("sample_count", len(metricsWindow)).
		Duration(time.Since(start))
	if err != nil {
		record.Outcome("error").Reasoning(err.Error())
	} else {
		record.Outcome(d.Action).Reasoning(d.Reasoning).Meta("confidence", d.Confidence)
	}
	_ = a.sink.Append(record.Build())
	return d, err
}

func (a *AuditedEngine) Repair(ctx context.Context, task domain.Task, failureContext map[string]interface{}) (Repair, error) {
	start := time.Now()
	r, err := a.inner.Repair(ctx, task, failureContext)
	record := domain.NewRecord("reasoning_engine", "repair").
		Meta("task_handle", int(task.Handle)).
		Meta("failure_context", failureContext).
		Duration(time.Since(start))
	if err != nil {
		record.Outcome("error").Reasoning(err.Error())
	} else {
		record.Outcome(string(r.Action)).Reasoning(r.Rationale)
	}
	_ = a.sink.Append(record.Build())
	return r, err
}
