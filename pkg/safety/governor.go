// Package safety implements the Safety Governor: the single veto point
// every other agent routes proposed actions through before they touch a
// provider, a budget, or a running instance (spec §4.7).
package safety

import (
	"sync"
	"time"

	"github.com/ormind-ai/ormind/core"
	"github.com/ormind-ai/ormind/pkg/domain"
)

// Decision is the Governor's verdict on a proposed action.
type Decision string

const (
	DecisionApprove          Decision = "approve"
	DecisionRequireApproval  Decision = "require_approval"
	DecisionDeny             Decision = "deny"
)

// Action describes a proposed spend-bearing or risk-bearing operation
// awaiting a Check. GoalID groups actions for the per-goal cap; Actor
// identifies which agent proposed it, purely for the audit trail.
type Action struct {
	GoalID        string
	Actor         string
	Kind          string
	EstimatedCost float64
	RiskTier      domain.RiskTier
	Region        string
}

// Result carries the decision plus enough context for the caller to
// build an audit record without re-deriving the reasoning.
type Result struct {
	Decision     Decision
	Reason       string
	PolicyVersion int
}

func (r Result) Approved() bool {
	return r.Decision == DecisionApprove
}

// spendLedger tracks cumulative spend for the caps PolicyWeights enforces.
// Per-day spend resets at UTC midnight; per-goal spend is cumulative for
// the goal's lifetime.
type spendLedger struct {
	dayStart   time.Time
	daySpend   float64
	goalSpend  map[string]float64
}

func newSpendLedger() *spendLedger {
	return &spendLedger{
		dayStart:  dayBoundary(time.Now()),
		goalSpend: make(map[string]float64),
	}
}

func dayBoundary(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Governor holds the policy weights under a read-mostly lock: Check takes
// a read lock, SetPolicy takes a write lock. Every policy mutation is
// itself an audited event distinct from an ordinary decision (Q3: the
// Governor cannot approve its own weight change — rollback is instant and
// the very next Check after SetPolicy observes the new weights, never a
// window of the old ones).
type Governor struct {
	mu     sync.RWMutex
	policy domain.PolicyWeights
	logger core.Logger

	ledgerMu sync.Mutex
	ledger   *spendLedger
}

// New builds a Governor from the hard caps in cfg, using
// domain.DefaultPolicyWeights as the starting policy.
func New(cfg core.GovernorConfig, logger core.Logger) *Governor {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	caps := domain.SpendCaps{
		PerActionUSD: cfg.PerActionCapUSD,
		PerDayUSD:    cfg.DailyCapUSD,
	}
	return &Governor{
		policy: domain.DefaultPolicyWeights(caps),
		logger: logger,
		ledger: newSpendLedger(),
	}
}

// Policy returns a snapshot of the current policy weights.
func (g *Governor) Policy() domain.PolicyWeights {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.policy
}

// SetPolicy installs new weights wholesale, bumping Version. Per Q3 this
// takes effect for every Check call that acquires its read lock after
// this one returns — there is no staged rollout or gradual cutover.
// Callers are responsible for auditing the change themselves: the
// Governor cannot author an audit record approving its own mutation.
func (g *Governor) SetPolicy(next domain.PolicyWeights) domain.PolicyWeights {
	g.mu.Lock()
	defer g.mu.Unlock()
	next.Version = g.policy.Version + 1
	g.policy = next
	g.logger.Info("safety policy updated", map[string]interface{}{
		"policy_version": next.Version,
	})
	return next
}

// Check evaluates action against the hard spend caps (P4) and the
// region/risk-tier policy, returning a Decision. It never mutates the
// ledger on a deny or require_approval outcome — only an Approved
// Result's cost should be committed, via Commit, once the caller knows
// the action actually proceeded.
func (g *Governor) Check(action Action) Result {
	g.mu.RLock()
	policy := g.policy
	g.mu.RUnlock()

	if action.RiskTier == domain.RiskBlocked {
		return Result{Decision: DecisionDeny, Reason: "risk tier blocked", PolicyVersion: policy.Version}
	}

	if action.Region != "" && !policy.AllowsRegion(action.Region) {
		return Result{Decision: DecisionDeny, Reason: "region not permitted by policy", PolicyVersion: policy.Version}
	}

	if action.EstimatedCost > policy.Caps.PerActionUSD {
		return Result{Decision: DecisionDeny, Reason: "exceeds per-action spend cap", PolicyVersion: policy.Version}
	}

	if policy.Caps.PerGoalUSD > 0 {
		g.ledgerMu.Lock()
		goalSpend := g.ledger.goalSpend[action.GoalID]
		g.ledgerMu.Unlock()
		if goalSpend+action.EstimatedCost > policy.Caps.PerGoalUSD {
			return Result{Decision: DecisionDeny, Reason: "exceeds per-goal spend cap", PolicyVersion: policy.Version}
		}
	}

	g.ledgerMu.Lock()
	g.rollDayLocked()
	daySpend := g.ledger.daySpend
	g.ledgerMu.Unlock()
	if daySpend+action.EstimatedCost > policy.Caps.PerDayUSD {
		return Result{Decision: DecisionDeny, Reason: "exceeds daily spend cap", PolicyVersion: policy.Version}
	}

	if req, ok := policy.RiskApproval[action.RiskTier]; ok && req == domain.ApprovalRequired {
		return Result{Decision: DecisionRequireApproval, Reason: "risk tier requires external approval", PolicyVersion: policy.Version}
	}

	return Result{Decision: DecisionApprove, PolicyVersion: policy.Version}
}

// Commit records actualCost against the daily and per-goal ledgers once
// an approved action has actually executed. Calling Commit for an action
// that Check denied is the caller's bug, not the Governor's to detect.
func (g *Governor) Commit(goalID string, actualCost float64) {
	g.ledgerMu.Lock()
	defer g.ledgerMu.Unlock()
	g.rollDayLocked()
	g.ledger.daySpend += actualCost
	g.ledger.goalSpend[goalID] += actualCost
}

// rollDayLocked resets the daily ledger if the UTC day has rolled over.
// Caller must hold ledgerMu.
func (g *Governor) rollDayLocked() {
	today := dayBoundary(time.Now())
	if today.After(g.ledger.dayStart) {
		g.ledger.dayStart = today
		g.ledger.daySpend = 0
	}
}

// DailySpend reports the current day's committed spend, for dashboards
// and tests.
func (g *Governor) DailySpend() float64 {
	g.ledgerMu.Lock()
	defer g.ledgerMu.Unlock()
	g.rollDayLocked()
	return g.ledger.daySpend
}

// GoalSpend reports cumulative committed spend for a single goal.
func (g *Governor) GoalSpend(goalID string) float64 {
	g.ledgerMu.Lock()
	defer g.ledgerMu.Unlock()
	return g.ledger.goalSpend[goalID]
}
