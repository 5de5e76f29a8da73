// Package router implements the Provider Router: adapter registration,
// bandit-style selection scoring, failover, and the migration trigger the
// Cost Optimizer invokes when a cheaper provider appears.
package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ormind-ai/ormind/core"
	"github.com/ormind-ai/ormind/pkg/domain"
	"github.com/ormind-ai/ormind/pkg/provider"
)

// DefaultReliabilityWeight is δ in the score formula (spec §4.2).
const DefaultReliabilityWeight = 2.0

// DefaultFailoverFanout bounds how many candidates a single Select call
// will try before giving up.
const DefaultFailoverFanout = 3

// registeredAdapter pairs an Adapter with its stats and the order it was
// registered in, used to break selection ties deterministically (P8).
type registeredAdapter struct {
	adapter  provider.Adapter
	stats    *adapterStats
	order    int
	region   string
	gpuClass string
}

// Router selects a Provider Adapter for a task's resource demand, scoring
// candidates by price, observed reliability, and provisioning latency.
type Router struct {
	logger            core.Logger
	reliabilityWeight float64
	fanout            int
	reconciler        *Reconciler

	adapters []*registeredAdapter
}

// New constructs an empty Router. Adapters are added with Register.
// reconciler receives unknown_state Provision failures for sweeping; pass
// nil to disable reconcile scheduling (e.g. in tests that don't exercise
// it).
func New(logger core.Logger, reliabilityWeight float64, fanout int, reconciler *Reconciler) *Router {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if reliabilityWeight <= 0 {
		reliabilityWeight = DefaultReliabilityWeight
	}
	if fanout <= 0 {
		fanout = DefaultFailoverFanout
	}
	return &Router{logger: logger, reliabilityWeight: reliabilityWeight, fanout: fanout, reconciler: reconciler}
}

// Register adds an adapter as a candidate for the given region/gpuClass.
// Registration order is preserved as the tiebreaker in scoring (P8).
func (r *Router) Register(a provider.Adapter, region, gpuClass string) {
	r.adapters = append(r.adapters, &registeredAdapter{
		adapter:  a,
		stats:    newAdapterStats(),
		order:    len(r.adapters),
		region:   region,
		gpuClass: gpuClass,
	})
}

// candidate is a scored adapter offer.
type candidate struct {
	ra    *registeredAdapter
	price domain.PricePoint
	score float64
}

// selectionAttempt filters and scores candidates for demand, without
// mutating any stats; it's the deterministic core behind P8.
func (r *Router) selectionAttempt(ctx context.Context, demand domain.ResourceDemand, region string, excluded map[string]bool) ([]candidate, error) {
	var candidates []candidate
	for _, ra := range r.adapters {
		if excluded[ra.adapter.Name()] {
			continue
		}
		if ra.gpuClass != demand.GPUClass || ra.region != region {
			continue
		}
		price, err := ra.adapter.Price(ctx, region, demand.GPUClass)
		if err != nil {
			continue // adapter can't even quote: skip it this round
		}
		if price.Availability == domain.AvailabilityNone {
			continue
		}
		if ra.stats.isRateLimited() {
			continue // spec §4.2: current rate-limit posture excludes a candidate until it clears
		}
		failureRate := ra.stats.failureRate()
		lambda := failureRate * r.reliabilityWeight
		latency := ra.stats.provisioningLatency()
		score := price.HourlyRate*(1+lambda) + latency*price.HourlyRate/3600
		candidates = append(candidates, candidate{ra: ra, price: price, score: score})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score < candidates[j].score
		}
		fi := candidates[i].ra.stats.failureRate()
		fj := candidates[j].ra.stats.failureRate()
		if fi != fj {
			return fi < fj
		}
		return candidates[i].ra.order < candidates[j].ra.order
	})
	return candidates, nil
}

// Selection is the outcome of Select: the winning adapter plus its quote.
type Selection struct {
	Adapter provider.Adapter
	Price   domain.PricePoint
}

// Select filters registered adapters to those that can satisfy demand in
// region, scores them, and returns the minimum-score candidate. On a
// transient/unavailable Provision failure the caller should call Select
// again with the failed provider added to excluded, up to the Router's
// fanout.
func (r *Router) Select(ctx context.Context, demand domain.ResourceDemand, region string, excluded map[string]bool) (Selection, error) {
	candidates, err := r.selectionAttempt(ctx, demand, region, excluded)
	if err != nil {
		return Selection{}, err
	}
	if len(candidates) == 0 {
		return Selection{}, fmt.Errorf("router: %w for gpu_class=%s region=%s", core.ErrUnavailable, demand.GPUClass, region)
	}
	best := candidates[0]
	return Selection{Adapter: best.ra.adapter, Price: best.price}, nil
}

// ProvisionResult is returned by ProvisionWithFailover.
type ProvisionResult struct {
	Instance domain.Instance
	Adapter  provider.Adapter
	Price    domain.PricePoint
	Failed   []FailedAttempt
}

// FailedAttempt records one provider that was tried and rejected before
// a successful (or final) attempt; the Cost Optimizer's audit trail uses
// this for the exactly-one `provision_failed` record S2 checks for.
type FailedAttempt struct {
	Provider string
	Kind     provider.Kind
	Err      error
}

// ProvisionWithFailover selects a provider, attempts Provision, and on a
// failover-eligible error re-selects excluding the failed provider, up to
// the Router's fanout. A permanent error is returned immediately without
// retry.
func (r *Router) ProvisionWithFailover(ctx context.Context, demand domain.ResourceDemand, region string, req provider.InstanceRequest) (ProvisionResult, error) {
	excluded := make(map[string]bool)
	var failed []FailedAttempt

	for attempt := 0; attempt < r.fanout; attempt++ {
		sel, err := r.Select(ctx, demand, region, excluded)
		if err != nil {
			return ProvisionResult{Failed: failed}, err
		}

		start := time.Now()
		inst, err := sel.Adapter.Provision(ctx, req)
		ra := r.statsFor(sel.Adapter.Name())
		if err == nil {
			if ra != nil {
				ra.recordSuccess(time.Since(start).Seconds())
			}
			return ProvisionResult{Instance: inst, Adapter: sel.Adapter, Price: sel.Price, Failed: failed}, nil
		}

		var perr *provider.Error
		kind := provider.KindUnknownState
		if errors.As(err, &perr) {
			kind = perr.Kind
		}
		if ra != nil {
			ra.recordFailure(kind == provider.KindRateLimited)
		}
		if kind == provider.KindUnknownState && r.reconciler != nil {
			r.reconciler.MarkProvisionUnknown(req, sel.Adapter)
		}
		failed = append(failed, FailedAttempt{Provider: sel.Adapter.Name(), Kind: kind, Err: err})

		if !provider.IsFailoverEligible(err) {
			return ProvisionResult{Failed: failed}, err
		}
		excluded[sel.Adapter.Name()] = true
		r.logger.Warn("provider provisioning failed, failing over", map[string]interface{}{
			"provider": sel.Adapter.Name(), "kind": kind, "attempt": attempt,
		})
	}
	return ProvisionResult{Failed: failed}, fmt.Errorf("router: exhausted failover fanout of %d", r.fanout)
}

func (r *Router) statsFor(name string) *adapterStats {
	for _, ra := range r.adapters {
		if ra.adapter.Name() == name {
			return ra.stats
		}
	}
	return nil
}
