package router

import (
	"context"
	"sync"
	"time"

	"github.com/ormind-ai/ormind/core"
	"github.com/ormind-ai/ormind/pkg/domain"
	"github.com/ormind-ai/ormind/pkg/provider"
)

// ReconcileWindow is how long after an unknown_state failure the Router
// waits before sweeping to confirm whether the instance actually exists
// (spec §4.1: "schedules a reconcile sweep within 60s").
const ReconcileWindow = 60 * time.Second

// pendingReconcile is an instance whose state couldn't be confirmed by an
// adapter call and needs a follow-up sweep.
type pendingReconcile struct {
	instance domain.Instance
	adapter  provider.Adapter
	dueAt    time.Time
}

// pendingProvisionReconcile is a Provision call that returned
// unknown_state before any domain.Instance was known. R1 makes req.Token
// idempotent, so the sweep re-issues the exact same request to discover
// (and then clean up) whatever the provider actually did with it.
type pendingProvisionReconcile struct {
	req     provider.InstanceRequest
	adapter provider.Adapter
	dueAt   time.Time
}

// Reconciler tracks possibly-leaked instances reported via unknown_state
// errors and periodically sweeps them with Terminate, which every adapter
// implements idempotently.
type Reconciler struct {
	logger core.Logger

	mu                sync.Mutex
	pending           []pendingReconcile
	pendingProvisions []pendingProvisionReconcile
}

// NewReconciler returns a Reconciler ready to accept MarkPossiblyLeaked
// calls from the Router.
func NewReconciler(logger core.Logger) *Reconciler {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Reconciler{logger: logger}
}

// MarkPossiblyLeaked schedules inst for a reconcile sweep within
// ReconcileWindow after an adapter call returned unknown_state for it.
func (rc *Reconciler) MarkPossiblyLeaked(inst domain.Instance, adapter provider.Adapter) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.pending = append(rc.pending, pendingReconcile{
		instance: inst,
		adapter:  adapter,
		dueAt:    time.Now().Add(ReconcileWindow),
	})
}

// MarkProvisionUnknown schedules a reconcile sweep for a Provision call
// that returned unknown_state before any domain.Instance was known (spec
// §4.1: a failed call with no confirmed result must still be swept within
// ReconcileWindow). req's idempotency token is the only handle available
// at this point.
func (rc *Reconciler) MarkProvisionUnknown(req provider.InstanceRequest, adapter provider.Adapter) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.pendingProvisions = append(rc.pendingProvisions, pendingProvisionReconcile{
		req:     req,
		adapter: adapter,
		dueAt:   time.Now().Add(ReconcileWindow),
	})
}

// Sweep terminates every instance whose reconcile window has elapsed,
// logging the outcome. It is meant to be called on a ticker from the
// component that owns the Reconciler's lifetime.
func (rc *Reconciler) Sweep(ctx context.Context) {
	rc.mu.Lock()
	now := time.Now()
	var due []pendingReconcile
	var remaining []pendingReconcile
	for _, p := range rc.pending {
		if now.After(p.dueAt) {
			due = append(due, p)
		} else {
			remaining = append(remaining, p)
		}
	}
	rc.pending = remaining

	var dueProvisions []pendingProvisionReconcile
	var remainingProvisions []pendingProvisionReconcile
	for _, p := range rc.pendingProvisions {
		if now.After(p.dueAt) {
			dueProvisions = append(dueProvisions, p)
		} else {
			remainingProvisions = append(remainingProvisions, p)
		}
	}
	rc.pendingProvisions = remainingProvisions
	rc.mu.Unlock()

	for _, p := range due {
		if err := p.adapter.Terminate(ctx, p.instance); err != nil {
			rc.logger.Error("reconcile sweep terminate failed", map[string]interface{}{
				"instance": p.instance.ID, "provider": p.adapter.Name(), "error": err.Error(),
			})
			continue
		}
		rc.logger.Info("reconcile sweep resolved possibly-leaked instance", map[string]interface{}{
			"instance": p.instance.ID, "provider": p.adapter.Name(),
		})
	}

	for _, p := range dueProvisions {
		rc.sweepProvision(ctx, p)
	}
}

// sweepProvision re-issues the original (idempotent) Provision request to
// discover what, if anything, the provider actually created, then
// terminates it: by the time a sweep fires the caller has already failed
// over to another provider, so any instance that materializes here is
// orphaned.
func (rc *Reconciler) sweepProvision(ctx context.Context, p pendingProvisionReconcile) {
	inst, err := p.adapter.Provision(ctx, p.req)
	if err != nil {
		rc.logger.Error("reconcile sweep re-provision failed", map[string]interface{}{
			"token": p.req.Token, "provider": p.adapter.Name(), "error": err.Error(),
		})
		return
	}
	if err := p.adapter.Terminate(ctx, inst); err != nil {
		rc.logger.Error("reconcile sweep terminate of re-discovered instance failed", map[string]interface{}{
			"instance": inst.ID, "provider": p.adapter.Name(), "error": err.Error(),
		})
		return
	}
	rc.logger.Info("reconcile sweep resolved possibly-leaked provision", map[string]interface{}{
		"token": p.req.Token, "instance": inst.ID, "provider": p.adapter.Name(),
	})
}
