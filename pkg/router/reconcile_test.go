package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ormind-ai/ormind/core"
	"github.com/ormind-ai/ormind/pkg/domain"
	"github.com/ormind-ai/ormind/pkg/provider"
	"github.com/ormind-ai/ormind/pkg/provider/simadapter"
)

// past backdates a pendingReconcile's dueAt so Sweep treats it as due
// without waiting out the real ReconcileWindow.
func past() time.Time { return time.Now().Add(-time.Second) }

func TestReconciler_SweepTerminatesDueInstance(t *testing.T) {
	rc := NewReconciler(core.NoOpLogger{})
	a := simadapter.New("p1", 1.00, "us-east-1", "a10")
	inst := domain.Instance{ID: "inst-1", Provider: "p1"}

	rc.mu.Lock()
	rc.pending = append(rc.pending, pendingReconcile{instance: inst, adapter: a, dueAt: past()})
	rc.mu.Unlock()

	rc.Sweep(context.Background())
	assert.True(t, a.Terminated("inst-1"))
}

func TestReconciler_SweepLeavesNotYetDueInstance(t *testing.T) {
	rc := NewReconciler(core.NoOpLogger{})
	a := simadapter.New("p1", 1.00, "us-east-1", "a10")
	inst := domain.Instance{ID: "inst-1", Provider: "p1"}

	rc.MarkPossiblyLeaked(inst, a)
	rc.Sweep(context.Background())
	assert.False(t, a.Terminated("inst-1"), "not yet due, Sweep should not have touched it")
}

// spec §4.1: a Provision call that returns unknown_state has no known
// Instance yet; the reconcile sweep re-issues the same idempotent request
// to discover and then clean up whatever the provider actually did.
func TestReconciler_SweepResolvesProvisionUnknownState(t *testing.T) {
	rc := NewReconciler(core.NoOpLogger{})
	a := simadapter.New("p1", 1.00, "us-east-1", "a10")
	req := provider.InstanceRequest{Token: "tok-leak", Region: "us-east-1", GPUClass: "a10", GPUCount: 1}

	rc.mu.Lock()
	rc.pendingProvisions = append(rc.pendingProvisions, pendingProvisionReconcile{req: req, adapter: a, dueAt: past()})
	rc.mu.Unlock()

	rc.Sweep(context.Background())

	// The sweep re-provisions (idempotently, via the same token) to
	// discover the instance, then tears it down.
	inst, err := a.Provision(context.Background(), req)
	assert.NoError(t, err)
	assert.True(t, a.Terminated(inst.ID))
}
