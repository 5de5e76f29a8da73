package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormind-ai/ormind/core"
	"github.com/ormind-ai/ormind/pkg/domain"
	"github.com/ormind-ai/ormind/pkg/provider"
	"github.com/ormind-ai/ormind/pkg/provider/simadapter"
)

func demand() domain.ResourceDemand {
	return domain.ResourceDemand{GPUClass: "a10", GPUCount: 1}
}

// S1: two providers at different prices, both available; Router picks the
// cheaper one.
func TestRouter_SelectPicksCheapestCandidate(t *testing.T) {
	r := New(core.NoOpLogger{}, DefaultReliabilityWeight, DefaultFailoverFanout, nil)
	cheap := simadapter.New("p1", 1.00, "us-east-1", "a10")
	expensive := simadapter.New("p2", 1.40, "us-east-1", "a10")
	r.Register(cheap, "us-east-1", "a10")
	r.Register(expensive, "us-east-1", "a10")

	sel, err := r.Select(context.Background(), demand(), "us-east-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "p1", sel.Adapter.Name())
}

// P8: identical registered adapters and identical offers must select the
// same candidate across repeated calls.
func TestRouter_SelectIsDeterministic(t *testing.T) {
	r := New(core.NoOpLogger{}, DefaultReliabilityWeight, DefaultFailoverFanout, nil)
	a := simadapter.New("p1", 1.00, "us-east-1", "a10")
	b := simadapter.New("p2", 1.00, "us-east-1", "a10")
	r.Register(a, "us-east-1", "a10")
	r.Register(b, "us-east-1", "a10")

	first, err := r.Select(context.Background(), demand(), "us-east-1", nil)
	require.NoError(t, err)
	second, err := r.Select(context.Background(), demand(), "us-east-1", nil)
	require.NoError(t, err)
	assert.Equal(t, first.Adapter.Name(), second.Adapter.Name())
	assert.Equal(t, "p1", first.Adapter.Name(), "equal-score ties break by registration order")
}

func TestRouter_SelectFiltersByRegionAndGPUClass(t *testing.T) {
	r := New(core.NoOpLogger{}, DefaultReliabilityWeight, DefaultFailoverFanout, nil)
	wrongRegion := simadapter.New("p1", 1.00, "eu-west-1", "a10")
	wrongClass := simadapter.New("p2", 1.00, "us-east-1", "h100")
	match := simadapter.New("p3", 2.00, "us-east-1", "a10")
	r.Register(wrongRegion, "eu-west-1", "a10")
	r.Register(wrongClass, "us-east-1", "h100")
	r.Register(match, "us-east-1", "a10")

	sel, err := r.Select(context.Background(), demand(), "us-east-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "p3", sel.Adapter.Name())
}

func TestRouter_SelectExcludesUnavailable(t *testing.T) {
	r := New(core.NoOpLogger{}, DefaultReliabilityWeight, DefaultFailoverFanout, nil)
	cheap := simadapter.New("p1", 1.00, "us-east-1", "a10").SetAvailability(domain.AvailabilityNone)
	fallback := simadapter.New("p2", 1.40, "us-east-1", "a10")
	r.Register(cheap, "us-east-1", "a10")
	r.Register(fallback, "us-east-1", "a10")

	sel, err := r.Select(context.Background(), demand(), "us-east-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "p2", sel.Adapter.Name())
}

func TestRouter_SelectReturnsUnavailableWithNoCandidates(t *testing.T) {
	r := New(core.NoOpLogger{}, DefaultReliabilityWeight, DefaultFailoverFanout, nil)
	_, err := r.Select(context.Background(), demand(), "us-east-1", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrUnavailable)
}

// S2: P1 fails once with an unavailable error then Router re-selects P2;
// no duplicate instances, exactly the one failed attempt recorded.
func TestRouter_ProvisionWithFailoverRetriesOnUnavailable(t *testing.T) {
	r := New(core.NoOpLogger{}, DefaultReliabilityWeight, DefaultFailoverFanout, nil)
	p1 := simadapter.New("p1", 1.00, "us-east-1", "a10").WithProvisionScript(
		simadapter.ProvisionOutcome{Err: &provider.Error{Provider: "p1", Kind: provider.KindUnavailable}},
	)
	p2 := simadapter.New("p2", 1.40, "us-east-1", "a10")
	r.Register(p1, "us-east-1", "a10")
	r.Register(p2, "us-east-1", "a10")

	req := provider.InstanceRequest{Token: "tok-1", Region: "us-east-1", GPUClass: "a10", GPUCount: 1}
	result, err := r.ProvisionWithFailover(context.Background(), demand(), "us-east-1", req)
	require.NoError(t, err)
	assert.Equal(t, "p2", result.Adapter.Name())
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "p1", result.Failed[0].Provider)
	assert.Equal(t, provider.KindUnavailable, result.Failed[0].Kind)
}

func TestRouter_ProvisionWithFailoverStopsOnPermanentError(t *testing.T) {
	r := New(core.NoOpLogger{}, DefaultReliabilityWeight, DefaultFailoverFanout, nil)
	p1 := simadapter.New("p1", 1.00, "us-east-1", "a10").WithProvisionScript(
		simadapter.ProvisionOutcome{Err: &provider.Error{Provider: "p1", Kind: provider.KindPermanent}},
	)
	p2 := simadapter.New("p2", 1.40, "us-east-1", "a10")
	r.Register(p1, "us-east-1", "a10")
	r.Register(p2, "us-east-1", "a10")

	req := provider.InstanceRequest{Token: "tok-1", Region: "us-east-1", GPUClass: "a10", GPUCount: 1}
	_, err := r.ProvisionWithFailover(context.Background(), demand(), "us-east-1", req)
	require.Error(t, err)
	var perr *provider.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, provider.KindPermanent, perr.Kind)
}

// spec §4.2: an adapter currently in a rate-limited posture is excluded
// from selection until it clears, the same way KindUnavailable is.
func TestRouter_SelectExcludesRateLimited(t *testing.T) {
	r := New(core.NoOpLogger{}, DefaultReliabilityWeight, DefaultFailoverFanout, nil)
	cheap := simadapter.New("p1", 1.00, "us-east-1", "a10").WithProvisionScript(
		simadapter.ProvisionOutcome{Err: &provider.Error{Provider: "p1", Kind: provider.KindRateLimited}},
	)
	fallback := simadapter.New("p2", 1.40, "us-east-1", "a10")
	r.Register(cheap, "us-east-1", "a10")
	r.Register(fallback, "us-east-1", "a10")

	req := provider.InstanceRequest{Token: "tok-1", Region: "us-east-1", GPUClass: "a10", GPUCount: 1}
	_, err := r.ProvisionWithFailover(context.Background(), demand(), "us-east-1", req)
	require.Error(t, err) // KindRateLimited isn't failover-eligible, so this attempt stops here
	assert.True(t, cheap.Terminated("") == false)

	sel, err := r.Select(context.Background(), demand(), "us-east-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "p2", sel.Adapter.Name(), "p1 should be excluded after recording a rate-limited failure")
}

// spec §4.1: a Provision call returning unknown_state has no confirmed
// Instance; the Router schedules it with the Reconciler for a follow-up
// sweep rather than dropping it.
func TestRouter_ProvisionUnknownStateSchedulesReconcile(t *testing.T) {
	rc := NewReconciler(core.NoOpLogger{})
	r := New(core.NoOpLogger{}, DefaultReliabilityWeight, DefaultFailoverFanout, rc)
	p1 := simadapter.New("p1", 1.00, "us-east-1", "a10").WithProvisionScript(
		simadapter.ProvisionOutcome{Err: &provider.Error{Provider: "p1", Kind: provider.KindUnknownState}},
	)
	r.Register(p1, "us-east-1", "a10")

	req := provider.InstanceRequest{Token: "tok-unknown", Region: "us-east-1", GPUClass: "a10", GPUCount: 1}
	_, err := r.ProvisionWithFailover(context.Background(), demand(), "us-east-1", req)
	require.Error(t, err)

	rc.mu.Lock()
	pending := len(rc.pendingProvisions)
	rc.mu.Unlock()
	assert.Equal(t, 1, pending)
}

// R1: identical tokens against the same adapter return the same instance.
func TestRouter_ProvisionWithFailoverIsIdempotentOnToken(t *testing.T) {
	r := New(core.NoOpLogger{}, DefaultReliabilityWeight, DefaultFailoverFanout, nil)
	p1 := simadapter.New("p1", 1.00, "us-east-1", "a10")
	r.Register(p1, "us-east-1", "a10")

	req := provider.InstanceRequest{Token: "tok-1", Region: "us-east-1", GPUClass: "a10", GPUCount: 1}
	first, err := r.ProvisionWithFailover(context.Background(), demand(), "us-east-1", req)
	require.NoError(t, err)
	second, err := r.ProvisionWithFailover(context.Background(), demand(), "us-east-1", req)
	require.NoError(t, err)
	assert.Equal(t, first.Instance.ID, second.Instance.ID)
}
