package safety

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormind-ai/ormind/core"
	"github.com/ormind-ai/ormind/pkg/domain"
)

func newTestGovernor() *Governor {
	return New(core.GovernorConfig{DailyCapUSD: 100, PerActionCapUSD: 20}, core.NoOpLogger{})
}

func TestCheck_ApprovesWithinCaps(t *testing.T) {
	g := newTestGovernor()
	result := g.Check(Action{GoalID: "g1", EstimatedCost: 5, RiskTier: domain.RiskNormal})
	assert.Equal(t, DecisionApprove, result.Decision)
}

func TestCheck_DeniesOverPerActionCap(t *testing.T) {
	g := newTestGovernor()
	result := g.Check(Action{GoalID: "g1", EstimatedCost: 25, RiskTier: domain.RiskNormal})
	assert.Equal(t, DecisionDeny, result.Decision)
	assert.Contains(t, result.Reason, "per-action")
}

func TestCheck_DeniesOverDailyCapAfterCommit(t *testing.T) {
	g := newTestGovernor()
	g.Commit("g1", 95)
	result := g.Check(Action{GoalID: "g1", EstimatedCost: 10, RiskTier: domain.RiskNormal})
	assert.Equal(t, DecisionDeny, result.Decision)
	assert.Contains(t, result.Reason, "daily")
}

func TestCheck_BlockedRiskTierAlwaysDenied(t *testing.T) {
	g := newTestGovernor()
	result := g.Check(Action{GoalID: "g1", EstimatedCost: 1, RiskTier: domain.RiskBlocked})
	assert.Equal(t, DecisionDeny, result.Decision)
}

func TestCheck_ElevatedRiskRequiresApproval(t *testing.T) {
	g := newTestGovernor()
	result := g.Check(Action{GoalID: "g1", EstimatedCost: 1, RiskTier: domain.RiskElevated})
	assert.Equal(t, DecisionRequireApproval, result.Decision)
}

func TestCheck_DeniedRegion(t *testing.T) {
	g := newTestGovernor()
	policy := g.Policy()
	policy.RegionDenyList = []string{"us-banned-1"}
	g.SetPolicy(policy)

	result := g.Check(Action{GoalID: "g1", EstimatedCost: 1, RiskTier: domain.RiskNormal, Region: "us-banned-1"})
	assert.Equal(t, DecisionDeny, result.Decision)
}

func TestSetPolicy_TakesEffectImmediately(t *testing.T) {
	g := newTestGovernor()
	before := g.Policy().Version

	next := g.Policy()
	next.Caps.PerActionUSD = 1
	updated := g.SetPolicy(next)

	require.Greater(t, updated.Version, before)
	result := g.Check(Action{GoalID: "g1", EstimatedCost: 5, RiskTier: domain.RiskNormal})
	assert.Equal(t, DecisionDeny, result.Decision, "the very next check must see the new weights")
}

func TestGoalSpendCapIsIndependentOfDailyCap(t *testing.T) {
	g := newTestGovernor()
	policy := g.Policy()
	policy.Caps.PerGoalUSD = 8
	g.SetPolicy(policy)

	result := g.Check(Action{GoalID: "g1", EstimatedCost: 10, RiskTier: domain.RiskNormal})
	assert.Equal(t, DecisionDeny, result.Decision)
	assert.Contains(t, result.Reason, "per-goal")
}
