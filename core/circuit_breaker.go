// This file defines the CircuitBreaker interface for protecting provider
// adapter calls, and the default breaker settings. Nothing in this module
// implements the interface or wraps calls in the Router: the breaker in use
// is the sony/gobreaker instance pkg/provider/httpadapter builds per
// adapter, configured from CircuitBreakerConfig.
//
// States:
//  1. Closed: calls pass through, failures are counted.
//  2. Open: threshold exceeded, calls fail immediately without reaching the
//     provider.
//  3. Half-Open: a limited number of probe calls are let through to test
//     recovery.
//
// DefaultCircuitBreakerParams supplies the defaults core.Config carries in
// its CircuitBreaker field, so adapter constructors don't repeat the same
// threshold/timeout literals.
package core

import (
	"context"
	"time"
)

// CircuitBreaker protects a single provider adapter from cascading failures.
type CircuitBreaker interface {
	// Execute runs fn with circuit breaker protection. If the circuit is
	// open, it returns ErrCircuitOpen immediately without calling fn.
	Execute(ctx context.Context, fn func() error) error

	// ExecuteWithTimeout runs fn with both circuit breaker protection and a
	// timeout, for provider RPCs that might hang (e.g. a stalled price quote).
	ExecuteWithTimeout(ctx context.Context, timeout time.Duration, fn func() error) error

	// GetState returns "closed", "open", or "half-open".
	GetState() string

	// GetMetrics returns counters for success/failure/state transitions.
	GetMetrics() map[string]interface{}

	// Reset forces the breaker back to closed, clearing failure counts.
	Reset()

	// CanExecute reports whether the breaker would currently allow a call,
	// without executing anything.
	CanExecute() bool
}

// CircuitBreakerParams configures a single provider breaker.
type CircuitBreakerParams struct {
	// Name identifies the breaker; httpadapter names its breaker after
	// the adapter.
	Name string

	Config CircuitBreakerConfig

	Logger    Logger
	Telemetry Telemetry
}

// DefaultCircuitBreakerParams returns the default provider breaker
// settings: five consecutive failures opens the circuit, 30s cooldown before
// probing, three half-open probes before fully closing.
func DefaultCircuitBreakerParams(name string) CircuitBreakerParams {
	return CircuitBreakerParams{
		Name: name,
		Config: CircuitBreakerConfig{
			Enabled:          true,
			Threshold:        5,
			Timeout:          30 * time.Second,
			HalfOpenRequests: 3,
		},
	}
}
