package router

import (
	"context"

	"github.com/ormind-ai/ormind/pkg/domain"
)

// MigrationThresholdFactor is the fraction below which a candidate
// provider's price must fall to be worth considering for migration
// (spec §4.2: price(p2) < price(p1) * 0.85).
const MigrationThresholdFactor = 0.85

// MigrationCandidate is a provider worth migrating to, with the estimated
// cost of the move.
type MigrationCandidate struct {
	Selection
	EstimatedMigrationCost float64
}

// EvaluateMigration implements the migration trigger: given a running
// job on currentProvider at currentHourlyRate with remainingHours left,
// it returns the cheapest alternative candidate whose price undercuts
// the 0.85 threshold and whose estimated migration cost is strictly less
// than the savings over the job's remaining runtime. ok is false if no
// such candidate exists.
func (r *Router) EvaluateMigration(
	ctx context.Context,
	demand domain.ResourceDemand,
	region, currentProvider string,
	currentHourlyRate, remainingHours float64,
	estimateMigrationCost func(target Selection) float64,
) (MigrationCandidate, bool) {
	excluded := map[string]bool{currentProvider: true}

	candidates, err := r.selectionAttempt(ctx, demand, region, excluded)
	if err != nil || len(candidates) == 0 {
		return MigrationCandidate{}, false
	}

	threshold := currentHourlyRate * MigrationThresholdFactor
	for _, c := range candidates {
		if c.price.HourlyRate >= threshold {
			continue // candidates are sorted by score, not strictly by price;
			// keep scanning in case a later one still clears the threshold.
		}
		sel := Selection{Adapter: c.ra.adapter, Price: c.price}
		migrationCost := estimateMigrationCost(sel)
		savings := (currentHourlyRate - c.price.HourlyRate) * remainingHours
		if migrationCost < savings {
			return MigrationCandidate{Selection: sel, EstimatedMigrationCost: migrationCost}, true
		}
	}
	return MigrationCandidate{}, false
}
