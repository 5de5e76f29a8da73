package costopt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ormind-ai/ormind/core"
	"github.com/ormind-ai/ormind/pkg/domain"
	"github.com/ormind-ai/ormind/pkg/provider"
	"github.com/ormind-ai/ormind/pkg/router"
)

// PollTarget is one (provider, region, gpu_class) tuple the poller keeps
// current prices for.
type PollTarget struct {
	Adapter  provider.Adapter
	Region   string
	GPUClass string
}

// RunningJob is the subset of Job state the migration evaluation needs.
// Adapter and Deadline are populated once, when the job is registered with
// the Optimizer's JobRegistry; remainingHours() is always derived fresh
// from Deadline so it never goes stale between poll ticks.
type RunningJob struct {
	JobID          string
	GoalID         string
	TaskHandle     domain.TaskHandle
	Provider       string
	Adapter        provider.Adapter
	Instance       domain.Instance
	HourlyRate     float64
	Deadline       time.Time
	Demand         domain.ResourceDemand
	Region         string
	Checkpointable bool
	Checkpointer   Checkpointer
}

// remainingHours derives the time left before Deadline, floored at zero.
func (j RunningJob) remainingHours() float64 {
	h := time.Until(j.Deadline).Hours()
	if h < 0 {
		return 0
	}
	return h
}

// Checkpointer is the cooperative checkpoint/restore contract a job
// handle must support to be migration-eligible. Restore takes the new
// instance's own adapter explicitly: unlike Checkpoint (which always runs
// against the job's already-known old adapter), the adapter to restore
// onto is only known once migration selects a candidate.
type Checkpointer interface {
	Checkpoint(ctx context.Context, job RunningJob) (artifact string, err error)
	Restore(ctx context.Context, adapter provider.Adapter, artifact string, inst domain.Instance) error
}

// Optimizer is the Cost Optimizer: it polls registered targets on a fixed
// interval, maintains the shared PriceStore, and drives the migration
// procedure when the Router's trigger fires.
type Optimizer struct {
	cfg        core.CostOptimizerConfig
	logger     core.Logger
	store      *PriceStore
	router     *router.Router
	audit      AuditSink
	limiter    *rate.Limiter
	jobs       *JobRegistry
	reconciler *router.Reconciler
}

// AuditSink is the minimal surface the Cost Optimizer needs to record
// migration decisions; pkg/audit.Agent satisfies this.
type AuditSink interface {
	Append(record domain.AuditRecord) error
}

// New builds an Optimizer paced to cfg.PollInterval via a rate.Limiter,
// matching the reference telemetry-loop pacing pattern. jobs is the shared
// registry the Executor populates with in-flight jobs; reconciler receives
// unknown_state Terminate failures during migration teardown. Either may
// be nil in tests that don't exercise migration.
func New(cfg core.CostOptimizerConfig, r *router.Router, store *PriceStore, audit AuditSink, logger core.Logger, jobs *JobRegistry, reconciler *router.Reconciler) *Optimizer {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if jobs == nil {
		jobs = NewJobRegistry()
	}
	return &Optimizer{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		router:     r,
		audit:      audit,
		limiter:    rate.NewLimiter(rate.Every(interval), 1),
		jobs:       jobs,
		reconciler: reconciler,
	}
}

// Jobs returns the Optimizer's shared job registry, for the Executor to
// register/unregister running jobs into.
func (o *Optimizer) Jobs() *JobRegistry { return o.jobs }

// PollOnce quotes every target and records the observation into the
// shared PriceStore. Intended to be called from a loop gated by the
// Optimizer's rate limiter.
func (o *Optimizer) PollOnce(ctx context.Context, targets []PollTarget) {
	for _, t := range targets {
		p, err := t.Adapter.Price(ctx, t.Region, t.GPUClass)
		if err != nil {
			o.logger.Warn("cost optimizer: price poll failed", map[string]interface{}{
				"provider": t.Adapter.Name(), "error": err.Error(),
			})
			continue
		}
		o.store.Observe(p)
	}
}

// EvaluateMigrations runs EvaluateAndMigrate against every job currently
// registered, once per tick (spec §4.4: "for each running job, once per
// 60s tick, evaluate migration trigger").
func (o *Optimizer) EvaluateMigrations(ctx context.Context) {
	for _, job := range o.jobs.Snapshot() {
		if err := o.EvaluateAndMigrate(ctx, job); err != nil {
			o.logger.Warn("cost optimizer: migration evaluation failed", map[string]interface{}{
				"job_id": job.JobID, "error": err.Error(),
			})
		}
	}
}

// Run polls targets and evaluates migrations forever at cfg.PollInterval
// until ctx is cancelled.
func (o *Optimizer) Run(ctx context.Context, targets []PollTarget) {
	for {
		if err := o.limiter.Wait(ctx); err != nil {
			return
		}
		o.PollOnce(ctx, targets)
		o.EvaluateMigrations(ctx)
	}
}

// EvaluateAndMigrate checks job against the Router's migration trigger
// and, if a worthwhile candidate exists, executes the migration
// procedure: checkpoint, provision, restore, terminate, audit. If any
// step up to and including Restore fails the migration is aborted and
// job's old instance is left running (spec §4.4; Q1 resolved: abort keeps
// the old instance). Once Restore succeeds the old instance is torn down
// unconditionally.
func (o *Optimizer) EvaluateAndMigrate(ctx context.Context, job RunningJob) error {
	if !job.Checkpointable || job.Checkpointer == nil {
		return nil // ineligible: jobs that cannot checkpoint are skipped
	}

	candidate, ok := o.router.EvaluateMigration(ctx, job.Demand, job.Region, job.Provider, job.HourlyRate, job.remainingHours(),
		func(target router.Selection) float64 {
			return estimateMigrationCost(job, target)
		})
	if !ok {
		return nil
	}

	artifact, err := job.Checkpointer.Checkpoint(ctx, job)
	if err != nil {
		o.recordMigrationFailed(job, candidate, "checkpoint_failed", err)
		return err
	}

	newInst, err := candidate.Adapter.Provision(ctx, provider.InstanceRequest{
		Token: uuid.New().String(), Region: job.Region, GPUClass: job.Demand.GPUClass, GPUCount: job.Demand.GPUCount,
	})
	if err != nil {
		o.recordMigrationFailed(job, candidate, "provision_failed", err)
		return err
	}

	if err := job.Checkpointer.Restore(ctx, candidate.Adapter, artifact, newInst); err != nil {
		// Best-effort cleanup of the half-provisioned new instance; its
		// failure doesn't change the abort outcome for the old instance.
		_ = candidate.Adapter.Terminate(ctx, newInst)
		o.recordMigrationFailed(job, candidate, "restore_failed", err)
		return err
	}

	// Old instance is only torn down once the new one is confirmed
	// running; a failure here still leaves the new instance serving, so
	// the abort-keeps-old-instance rule doesn't apply past this point.
	oldInst := job.Instance
	o.terminateOldInstance(ctx, job)

	priceDelta := job.HourlyRate - candidate.Price.HourlyRate
	record := domain.NewRecord("cost_optimizer", "migration_succeeded").
		Reasoning(fmt.Sprintf("price delta %.4f/hr, migration cost %.4f", priceDelta, candidate.EstimatedMigrationCost)).
		Outcome("succeeded").
		CostImpact(candidate.EstimatedMigrationCost).
		SafetyApproved(true).
		Meta("old_instance_id", oldInst.ID).
		Meta("new_instance_id", newInst.ID).
		Meta("price_delta_per_hour", priceDelta).
		Build()
	if err := o.audit.Append(record); err != nil {
		o.logger.Error("cost optimizer: audit append failed for migration_succeeded", map[string]interface{}{"error": err.Error()})
	}
	return nil
}

// terminateOldInstance performs step 4 of the migration procedure. A
// confirmed failure is logged; an unknown_state result is handed to the
// Reconciler for a follow-up sweep rather than treated as a hard error,
// since the new instance is already serving and the migration has
// already succeeded from the caller's perspective.
func (o *Optimizer) terminateOldInstance(ctx context.Context, job RunningJob) {
	if job.Adapter == nil {
		return
	}
	err := job.Adapter.Terminate(ctx, job.Instance)
	if err == nil {
		return
	}
	var perr *provider.Error
	kind := provider.KindUnknownState
	if errors.As(err, &perr) {
		kind = perr.Kind
	}
	if kind == provider.KindUnknownState && o.reconciler != nil {
		o.reconciler.MarkPossiblyLeaked(job.Instance, job.Adapter)
		return
	}
	o.logger.Error("cost optimizer: old instance termination failed after migration", map[string]interface{}{
		"instance": job.Instance.ID, "provider": job.Provider, "error": err.Error(),
	})
}

func (o *Optimizer) recordMigrationFailed(job RunningJob, candidate router.MigrationCandidate, reason string, cause error) {
	record := domain.NewRecord("cost_optimizer", "migration_failed").
		Reasoning(reason).
		Outcome("aborted").
		SafetyApproved(true).
		Meta("old_instance_id", job.Instance.ID).
		Meta("target_provider", candidate.Adapter.Name()).
		Meta("error", cause.Error()).
		Build()
	if err := o.audit.Append(record); err != nil {
		o.logger.Error("cost optimizer: audit append failed for migration_failed", map[string]interface{}{"error": err.Error()})
	}
}

// estimateMigrationCost approximates checkpoint-upload + provisioning +
// restore cost as a fixed checkpoint transfer overhead billed at the
// target's hourly rate. The target's observed provisioning latency is not
// included.
func estimateMigrationCost(job RunningJob, target router.Selection) float64 {
	const checkpointOverheadHours = 0.05 // ~3 minutes for checkpoint upload+restore
	return target.Price.HourlyRate * checkpointOverheadHours
}
