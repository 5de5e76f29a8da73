package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ormind-ai/ormind/core"
	"github.com/ormind-ai/ormind/pkg/costopt"
	"github.com/ormind-ai/ormind/pkg/domain"
	"github.com/ormind-ai/ormind/pkg/healing"
	"github.com/ormind-ai/ormind/pkg/provider"
	"github.com/ormind-ai/ormind/pkg/reasoning"
	"github.com/ormind-ai/ormind/pkg/router"
	"github.com/ormind-ai/ormind/pkg/safety"
	"github.com/ormind-ai/ormind/pkg/scheduler"
	"github.com/ormind-ai/ormind/pkg/telemetrybus"
)

// telemetryPollInterval paces per-instance Metrics polling at 1Hz (spec
// §5: "golang.org/x/time/rate paces the 1Hz telemetry consumption loop").
const telemetryPollInterval = time.Second

// restartMaxElapsed bounds how long RestartWithBackoff keeps retrying a
// single restart attempt before giving up.
const restartMaxElapsed = 2 * time.Minute

// TaskLookup resolves a dispatched (goalID, handle) pair back to the Task
// it names. Orchestrators and the Executor share Goals through whatever
// backs this — pkg/repository/memstore in production, a plain map in
// tests.
type TaskLookup interface {
	Task(goalID string, h domain.TaskHandle) (domain.Task, bool)
	Region(goalID string) string
}

// Executor is the single Scheduler-dispatcher-adjacent worker that turns
// a Released task into a provisioned, executed instance via the Router,
// and reports the result back through a Registry. This is the only
// component that touches a Provider Adapter (spec §4.8's structural
// invariant: the Orchestrator never does).
type Executor struct {
	dispatch *scheduler.Scheduler
	r        *router.Router
	lookup   TaskLookup
	registry *Registry
	audit    AuditSink
	logger   core.Logger

	bus        *telemetrybus.Bus
	healer     *healing.Agent
	engine     reasoning.Engine
	governor   *safety.Governor
	jobs       *costopt.JobRegistry
	reconciler *router.Reconciler
	tel        core.Telemetry
}

// NewExecutor wires the Scheduler, Router, TaskLookup, and completion
// Registry into one worker. Run should be called from exactly one
// goroutine (spec §5: "One Scheduler dispatcher (serializes queue
// releases)"). bus and healer may be nil, in which case telemetry
// polling and anomaly detection are skipped for every task this Executor
// runs. engine and governor drive trigger actuation (spec §4.5 S3); a nil
// engine or governor skips actuation the same way a nil healer skips
// detection. jobs registers provisioned tasks for the Cost Optimizer's
// migration evaluation; reconciler receives unknown_state Terminate
// results. tel may be nil, in which case core.NoOpTelemetry is used and
// task spans are discarded.
func NewExecutor(dispatch *scheduler.Scheduler, r *router.Router, lookup TaskLookup, registry *Registry, audit AuditSink, bus *telemetrybus.Bus, healer *healing.Agent, engine reasoning.Engine, governor *safety.Governor, jobs *costopt.JobRegistry, reconciler *router.Reconciler, tel core.Telemetry, logger core.Logger) *Executor {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if tel == nil {
		tel = core.NoOpTelemetry{}
	}
	return &Executor{
		dispatch: dispatch, r: r, lookup: lookup, registry: registry, audit: audit,
		bus: bus, healer: healer, engine: engine, governor: governor,
		jobs: jobs, reconciler: reconciler, tel: tel, logger: logger,
	}
}

// Run pulls Released tasks until stop fires, provisioning and executing
// each synchronously. A production deployment would fan this out across
// a worker pool sized to expected concurrent GPU provisioning RPCs; this
// loop keeps the single-writer guarantee the scheduler needs.
func (e *Executor) Run(stop <-chan struct{}) {
	for {
		released, ok := e.dispatch.Dispatch(stop)
		if !ok {
			return
		}
		e.handle(context.Background(), released)
	}
}

func (e *Executor) handle(ctx context.Context, released scheduler.Released) {
	ctx, span := e.tel.StartSpan(ctx, "executor.handle_task")
	defer span.End()
	span.SetAttribute("goal_id", released.GoalID)
	span.SetAttribute("task_handle", int(released.Task))

	task, ok := e.lookup.Task(released.GoalID, released.Task)
	if !ok {
		e.logger.Error("dispatched task not found in lookup", map[string]interface{}{
			"goal_id": released.GoalID, "task": int(released.Task),
		})
		return
	}
	region := e.lookup.Region(released.GoalID)

	jobID := uuid.New().String()
	req := provider.InstanceRequest{
		Token:    jobID,
		Region:   region,
		GPUClass: task.Demand.GPUClass,
		GPUCount: task.Demand.GPUCount,
		Image:    task.Image,
	}

	result, err := e.r.ProvisionWithFailover(ctx, task.Demand, region, req)
	if err != nil {
		span.RecordError(err)
		e.reportProvisionFailure(released, err)
		return
	}
	span.SetAttribute("provider", result.Adapter.Name())

	if e.jobs != nil {
		e.jobs.Register(costopt.RunningJob{
			JobID: jobID, GoalID: released.GoalID, TaskHandle: released.Task,
			Provider: result.Adapter.Name(), Adapter: result.Adapter, Instance: result.Instance,
			HourlyRate: result.Price.HourlyRate,
			Deadline:   time.Now().Add(time.Duration(task.Demand.MaxDuration * float64(time.Hour))),
			Demand:     task.Demand, Region: region,
			Checkpointable: task.Demand.Checkpointable,
			Checkpointer:   costopt.NewAdapterCheckpointer(result.Adapter),
		})
		defer e.jobs.Unregister(jobID)
	}

	handle, err := result.Adapter.Execute(ctx, result.Instance, task.Image, nil)
	if err != nil {
		span.RecordError(err)
		e.publishOutcome(released, false, 0, map[string]interface{}{"phase": "execute", "error": err.Error()})
		return
	}

	started := time.Now()
	pollCtx, stopPolling := context.WithCancel(ctx)
	go e.pollTelemetry(pollCtx, pollState{
		jobID: jobID, goalID: released.GoalID, command: task.Image,
		demand: task.Demand, region: region, riskTier: task.RiskTier,
		adapter: result.Adapter, instance: result.Instance,
	})

	<-handle.Done()
	stopPolling()
	exitStatus, _ := handle.ExitStatus()
	success := exitStatus == "0"

	cost := result.Price.HourlyRate * time.Since(started).Hours()

	_ = e.audit.Append(domain.NewRecord("executor", "task_executed").
		Meta("task_handle", int(released.Task)).
		Meta("provider", result.Adapter.Name()).
		Meta("instance_id", result.Instance.ID).
		Outcome(exitStatus).
		CostImpact(cost).
		Build())

	e.publishOutcome(released, success, cost, map[string]interface{}{"exit_status": exitStatus})
}

// pollState is the mutable context one pollTelemetry goroutine carries
// across its lifetime: adapter/instance change in place when a trigger
// migrates the job to a larger GPU.
type pollState struct {
	jobID, goalID string
	command       string
	demand        domain.ResourceDemand
	region        string
	riskTier      domain.RiskTier
	adapter       provider.Adapter
	instance      domain.Instance
}

// pollTelemetry samples inst's metrics at 1Hz for as long as ctx is
// live, publishing each sample to the Bus and feeding it to the Healing
// Agent. Every trigger that fires is diagnosed, gated, and routed through
// the Safety Governor before any action runs (spec §4.5 S3).
func (e *Executor) pollTelemetry(ctx context.Context, st pollState) {
	if e.bus == nil && e.healer == nil {
		return
	}
	limiter := rate.NewLimiter(rate.Every(telemetryPollInterval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		sample, err := st.adapter.Metrics(ctx, st.instance)
		if err != nil {
			continue
		}
		if e.bus != nil {
			_ = e.bus.Publish(ctx, sample)
		}
		if e.healer == nil {
			continue
		}
		for _, trig := range e.healer.Observe(sample) {
			e.actOnTrigger(ctx, trig, sample, &st)
		}
	}
}

// actOnTrigger drives one fired Trigger through Diagnose, the hard
// confidence gate, and the Safety Governor before dispatching an action.
// A trigger that fails diagnosis, misses its gate, or is denied leaves
// the instance exactly as it was — the next poll tick will re-observe
// and re-fire if the condition persists.
func (e *Executor) actOnTrigger(ctx context.Context, trig healing.Trigger, sample domain.TelemetrySample, st *pollState) {
	if e.engine == nil || e.governor == nil {
		e.logger.Info("healing trigger fired, no actuation wired", map[string]interface{}{
			"instance_id": trig.InstanceID, "kind": string(trig.Kind), "metric": string(trig.Metric), "value": trig.Value,
		})
		return
	}

	diag, err := e.engine.Diagnose(ctx, map[string]interface{}{
		"instance_id": trig.InstanceID, "trigger": string(trig.Kind),
	}, []domain.TelemetrySample{sample})
	if err != nil {
		e.logger.Warn("healing diagnosis failed", map[string]interface{}{
			"instance_id": trig.InstanceID, "kind": string(trig.Kind), "error": err.Error(),
		})
		return
	}
	if !trig.MeetsGate(diag.Confidence) {
		e.logger.Info("healing trigger below confidence gate", map[string]interface{}{
			"instance_id": trig.InstanceID, "kind": string(trig.Kind), "confidence": diag.Confidence,
		})
		return
	}

	estimatedCost := e.estimateActionCost(trig.Kind, st)
	result := e.governor.Check(safety.Action{
		GoalID: st.goalID, Actor: "healing_agent", Kind: string(trig.Kind),
		EstimatedCost: estimatedCost, RiskTier: st.riskTier, Region: st.region,
	})
	e.auditHealingDecision(trig, diag, result)
	if !result.Approved() {
		return
	}

	var actionErr error
	switch trig.Kind {
	case healing.TriggerPrescaleMemory, healing.TriggerReduceBatchSize:
		actionErr = e.sendControl(ctx, st, "control:"+string(trig.Kind))
	case healing.TriggerRestart:
		actionErr = e.doRestart(ctx, trig, st)
	case healing.TriggerMigrateLargerGPU:
		actionErr = e.doMigrateLargerGPU(ctx, st)
	case healing.TriggerTerminate:
		actionErr = e.doTerminate(ctx, st)
	}

	if actionErr != nil {
		e.logger.Error("healing action failed", map[string]interface{}{
			"instance_id": trig.InstanceID, "kind": string(trig.Kind), "error": actionErr.Error(),
		})
		return
	}
	e.governor.Commit(st.goalID, estimatedCost)
}

// estimateActionCost gives the Governor a spend figure to weigh every
// action against, even the ones with no direct provider charge: a
// migration is billed as a fixed 0.05h checkpoint overhead at the current
// adapter's hourly rate, everything else is a control-plane call with no
// incremental spend of its own.
func (e *Executor) estimateActionCost(kind healing.TriggerKind, st *pollState) float64 {
	if kind != healing.TriggerMigrateLargerGPU {
		return 0
	}
	price, err := st.adapter.Price(context.Background(), st.region, st.demand.GPUClass)
	if err != nil {
		return 0
	}
	const checkpointOverheadHours = 0.05
	return price.HourlyRate * checkpointOverheadHours
}

func (e *Executor) auditHealingDecision(trig healing.Trigger, diag reasoning.Diagnosis, result safety.Result) {
	rec := domain.NewRecord("executor", "healing_action_governed").
		Meta("instance_id", trig.InstanceID).
		Meta("trigger_kind", string(trig.Kind)).
		Meta("confidence", diag.Confidence).
		Meta("policy_version", result.PolicyVersion).
		Outcome(string(result.Decision)).
		Reasoning(result.Reason).
		SafetyApproved(result.Approved()).
		Build()
	_ = e.audit.Append(rec)
}

// sendControl issues command on st's current instance and waits for it
// to complete, returning an error on a non-zero exit.
func (e *Executor) sendControl(ctx context.Context, st *pollState, command string) error {
	handle, err := st.adapter.Execute(ctx, st.instance, command, nil)
	if err != nil {
		return err
	}
	<-handle.Done()
	exitStatus, _ := handle.ExitStatus()
	if exitStatus != "0" {
		return fmt.Errorf("executor: control command %q exited %s", command, exitStatus)
	}
	return nil
}

// doRestart retries st's original command under exponential backoff; if
// the per-instance restart budget is now exceeded it escalates straight
// to TriggerTerminate instead of restarting again.
func (e *Executor) doRestart(ctx context.Context, trig healing.Trigger, st *pollState) error {
	err := healing.RestartWithBackoff(ctx, func(ctx context.Context) error {
		return e.sendControl(ctx, st, st.command)
	}, restartMaxElapsed)
	if err != nil {
		return err
	}
	if e.healer.RecordRestart(trig.InstanceID) {
		e.logger.Warn("restart budget exceeded, escalating to terminate", map[string]interface{}{"instance_id": trig.InstanceID})
		return e.doTerminate(ctx, st)
	}
	return nil
}

// doTerminate tears down st's instance. An unknown_state result hands
// the instance to the Reconciler for a follow-up sweep rather than
// surfacing an error, matching the Provider Adapter contract (spec
// §4.1).
func (e *Executor) doTerminate(ctx context.Context, st *pollState) error {
	if e.jobs != nil {
		e.jobs.Unregister(st.jobID)
	}
	err := st.adapter.Terminate(ctx, st.instance)
	if err == nil {
		return nil
	}
	var perr *provider.Error
	kind := provider.KindUnknownState
	if errors.As(err, &perr) {
		kind = perr.Kind
	}
	if kind == provider.KindUnknownState && e.reconciler != nil {
		e.reconciler.MarkPossiblyLeaked(st.instance, st.adapter)
		return nil
	}
	return err
}

// doMigrateLargerGPU provisions a fresh instance at double the original
// VRAM demand, re-issues the job's command on it, and tears down the old
// instance once the new one is confirmed running. st is updated in place
// so subsequent polling and triggers target the new instance.
func (e *Executor) doMigrateLargerGPU(ctx context.Context, st *pollState) error {
	largerDemand := st.demand
	largerDemand.VRAMGiB *= 2

	newReq := provider.InstanceRequest{
		Token: uuid.New().String(), Region: st.region,
		GPUClass: largerDemand.GPUClass, GPUCount: largerDemand.GPUCount,
	}
	result, err := e.r.ProvisionWithFailover(ctx, largerDemand, st.region, newReq)
	if err != nil {
		return fmt.Errorf("executor: migrate to larger gpu: provision: %w", err)
	}

	handle, err := result.Adapter.Execute(ctx, result.Instance, st.command, nil)
	if err != nil {
		_ = result.Adapter.Terminate(ctx, result.Instance)
		return fmt.Errorf("executor: migrate to larger gpu: execute: %w", err)
	}
	go func() { <-handle.Done() }()

	oldAdapter, oldInstance := st.adapter, st.instance
	st.adapter, st.instance, st.demand = result.Adapter, result.Instance, largerDemand

	if e.jobs != nil {
		e.jobs.Register(costopt.RunningJob{
			JobID: st.jobID, GoalID: st.goalID, Provider: result.Adapter.Name(),
			Adapter: result.Adapter, Instance: result.Instance, HourlyRate: result.Price.HourlyRate,
			Demand: largerDemand, Region: st.region, Checkpointable: largerDemand.Checkpointable,
			Checkpointer: costopt.NewAdapterCheckpointer(result.Adapter),
		})
	}

	if err := oldAdapter.Terminate(ctx, oldInstance); err != nil {
		var perr *provider.Error
		kind := provider.KindUnknownState
		if errors.As(err, &perr) {
			kind = perr.Kind
		}
		if kind == provider.KindUnknownState && e.reconciler != nil {
			e.reconciler.MarkPossiblyLeaked(oldInstance, oldAdapter)
		} else {
			e.logger.Error("old instance termination failed after gpu migration", map[string]interface{}{
				"instance": oldInstance.ID, "error": err.Error(),
			})
		}
	}
	return nil
}

func (e *Executor) reportProvisionFailure(released scheduler.Released, err error) {
	kind := "unknown"
	var perr *provider.Error
	if errors.As(err, &perr) {
		kind = string(perr.Kind)
	}
	_ = e.audit.Append(domain.NewRecord("executor", "provision_failed").
		Meta("task_handle", int(released.Task)).
		Meta("kind", kind).
		Outcome("failed").
		Reasoning(err.Error()).
		Build())
	e.publishOutcome(released, false, 0, map[string]interface{}{"phase": "provision", "error": err.Error()})
}

func (e *Executor) publishOutcome(released scheduler.Released, success bool, cost float64, failureContext map[string]interface{}) {
	outcome := TaskOutcome{GoalID: released.GoalID, Task: released.Task, Success: success, CostImpact: cost}
	if !success {
		outcome.FailureContext = failureContext
	}
	e.registry.Publish(released.GoalID, outcome)
}
