package domain

// ApprovalRequirement says whether a risk tier needs an external
// confirmation before the Governor will approve it.
type ApprovalRequirement string

const (
	ApprovalNone     ApprovalRequirement = "none"
	ApprovalRequired ApprovalRequirement = "required"
)

// SpendCaps are the hard ceilings the Safety Governor enforces. Per-day is
// absolute: once reached, every nonzero-cost action is denied until the
// day rolls over.
type SpendCaps struct {
	PerActionUSD float64
	PerGoalUSD   float64
	PerDayUSD    float64
}

// PolicyWeights is the Safety Governor's mutable state. It is read-mostly:
// readers take a shared lock, writers an exclusive one, and every mutation
// produces its own audited record distinct from an ordinary approve/deny
// decision (the Governor cannot approve its own weight change).
type PolicyWeights struct {
	Version          int
	Caps             SpendCaps
	RegionAllowList  []string
	RegionDenyList   []string
	RiskApproval     map[RiskTier]ApprovalRequirement
}

// DefaultPolicyWeights returns conservative defaults: every risk tier
// above normal requires approval, blocked is never approved.
func DefaultPolicyWeights(caps SpendCaps) PolicyWeights {
	return PolicyWeights{
		Version: 1,
		Caps:    caps,
		RiskApproval: map[RiskTier]ApprovalRequirement{
			RiskLow:      ApprovalNone,
			RiskNormal:   ApprovalNone,
			RiskElevated: ApprovalRequired,
			RiskBlocked:  ApprovalRequired,
		},
	}
}

// AllowsRegion reports whether region is permitted under this policy. An
// empty allow-list means all regions are allowed except those explicitly
// denied.
func (p PolicyWeights) AllowsRegion(region string) bool {
	for _, d := range p.RegionDenyList {
		if d == region {
			return false
		}
	}
	if len(p.RegionAllowList) == 0 {
		return true
	}
	for _, a := range p.RegionAllowList {
		if a == region {
			return true
		}
	}
	return false
}
