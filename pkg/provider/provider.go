// Package provider defines the uniform facade every cloud GPU provider is
// adapted to, and the error kinds a caller (the Router) must distinguish
// between retry, failover, and surface-without-retry.
package provider

import (
	"context"
	"errors"
	"time"

	"github.com/ormind-ai/ormind/pkg/domain"
)

// Kind classifies an adapter failure so the Router knows whether to retry,
// fail over, or surface the error as-is.
type Kind string

const (
	KindTransient   Kind = "transient"
	KindRateLimited Kind = "rate_limited"
	KindPermanent   Kind = "permanent"
	KindUnavailable Kind = "unavailable"
	KindUnknownState Kind = "unknown_state"
)

// Error wraps an adapter failure with its Kind and the provider that
// produced it. Callers should use errors.As to recover it.
type Error struct {
	Provider     string
	Kind         Kind
	RetryAfter   time.Duration // meaningful only for KindRateLimited
	Err          error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + " from " + e.Provider + ": " + e.Err.Error()
	}
	return string(e.Kind) + " from " + e.Provider
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether the Router should retry this same provider
// under backoff.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == KindTransient || pe.Kind == KindRateLimited
	}
	return false
}

// IsFailoverEligible reports whether the Router should drop this provider
// from the candidate set and re-select among the rest.
func IsFailoverEligible(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == KindTransient || pe.Kind == KindUnavailable
	}
	return false
}

// InstanceRequest describes what to provision. Token makes provision
// idempotent: identical tokens against the same adapter must return the
// same instance (invariant R1).
type InstanceRequest struct {
	Token    string
	Region   string
	GPUClass string
	GPUCount int
	Image    string
}

// CommandHandle represents a running remote command; Lines streams stdout,
// Done closes once the command exits (successfully or not).
type CommandHandle interface {
	Lines() <-chan string
	Done() <-chan struct{}
	ExitStatus() (string, bool) // ok is false until Done fires
	Cancel()
}

// Adapter is the uniform capability surface over one cloud GPU provider.
// Implementations must never silently succeed on a failed call: if state
// cannot be confirmed, fail with KindUnknownState so the Router can
// schedule a reconcile sweep.
type Adapter interface {
	Name() string

	// Price returns the most recent quote for gpuClass in region. It must
	// never block longer than the provider's RPC budget; on timeout it
	// returns the most recently cached value with Stale set.
	Price(ctx context.Context, region, gpuClass string) (domain.PricePoint, error)

	// Provision is idempotent against req.Token: an identical token
	// returns the same Instance rather than allocating a new one.
	Provision(ctx context.Context, req InstanceRequest) (domain.Instance, error)

	// Execute runs command with env on a provisioned, running instance.
	Execute(ctx context.Context, inst domain.Instance, command string, env map[string]string) (CommandHandle, error)

	// Metrics returns a current point-in-time telemetry sample.
	Metrics(ctx context.Context, inst domain.Instance) (domain.TelemetrySample, error)

	// Terminate is idempotent: it must succeed even if the instance has
	// already disappeared server-side.
	Terminate(ctx context.Context, inst domain.Instance) error
}
