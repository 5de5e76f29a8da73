// Package simadapter is a deterministic in-memory provider adapter used in
// tests and end-to-end scenarios (S1-S6): it never makes a network call,
// and its price, availability, provisioning failures, metrics and
// terminate errors are scripted by the test that constructs it.
// Provisioning latency is a fixed 1ms.
package simadapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ormind-ai/ormind/pkg/domain"
	"github.com/ormind-ai/ormind/pkg/provider"
)

// ProvisionOutcome scripts what the Nth non-repeated call to Provision
// should do, counting calls across all tokens.
type ProvisionOutcome struct {
	Err  error // non-nil: Provision returns this (should be a *provider.Error)
}

// Adapter is a scriptable in-memory provider.Adapter.
type Adapter struct {
	name             string
	hourlyRate       float64
	availability     domain.Availability
	region           string
	gpuClass         string
	provisionLatency time.Duration

	mu              sync.Mutex
	provisionScript []ProvisionOutcome // consumed in order per call, last entry sticks
	callCount       int
	instances       map[string]domain.Instance // keyed by token, for idempotence (R1)
	terminated      map[string]bool
	terminateErr    error
	metricsScript   []domain.TelemetrySample // consumed in order, last entry sticks
	metricsCalls    int
}

// New returns an adapter that always succeeds at hourlyRate with high
// availability, until scripted otherwise via WithProvisionScript.
func New(name string, hourlyRate float64, region, gpuClass string) *Adapter {
	return &Adapter{
		name:             name,
		hourlyRate:       hourlyRate,
		availability:     domain.AvailabilityHigh,
		region:           region,
		gpuClass:         gpuClass,
		provisionLatency: time.Millisecond,
		instances:        make(map[string]domain.Instance),
		terminated:       make(map[string]bool),
	}
}

// WithProvisionScript sets the outcome sequence for successive Provision
// calls (regardless of token); the last entry repeats once exhausted.
func (a *Adapter) WithProvisionScript(outcomes ...ProvisionOutcome) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.provisionScript = outcomes
	return a
}

// WithMetricsScript sets the sample sequence Metrics returns on
// successive calls; the last entry repeats once exhausted.
func (a *Adapter) WithMetricsScript(samples ...domain.TelemetrySample) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.metricsScript = samples
	return a
}

// SetAvailability overrides the availability hint Price reports.
func (a *Adapter) SetAvailability(v domain.Availability) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.availability = v
	return a
}

// WithTerminateError scripts every future Terminate call to fail with err,
// for exercising unknown_state reconcile paths.
func (a *Adapter) WithTerminateError(err error) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.terminateErr = err
	return a
}

// Terminated reports whether Terminate has ever been called for inst.ID.
func (a *Adapter) Terminated(instanceID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.terminated[instanceID]
}

// SetHourlyRate overrides the price Price reports, for scripting S4-style
// migration triggers.
func (a *Adapter) SetHourlyRate(rate float64) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hourlyRate = rate
	return a
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) Price(ctx context.Context, region, gpuClass string) (domain.PricePoint, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return domain.PricePoint{
		Key: domain.PriceKey{
			Provider: a.name,
			Region:   region,
			GPUClass: gpuClass,
		},
		HourlyRate:   a.hourlyRate,
		Availability: a.availability,
		ObservedAt:   time.Now(),
	}, nil
}

func (a *Adapter) Provision(ctx context.Context, req provider.InstanceRequest) (domain.Instance, error) {
	a.mu.Lock()
	if inst, ok := a.instances[req.Token]; ok {
		a.mu.Unlock()
		return inst, nil // idempotence: same token -> same instance (R1)
	}

	idx := a.callCount
	a.callCount++
	var outcome ProvisionOutcome
	if len(a.provisionScript) > 0 {
		if idx < len(a.provisionScript) {
			outcome = a.provisionScript[idx]
		} else {
			outcome = a.provisionScript[len(a.provisionScript)-1]
		}
	}
	a.mu.Unlock()

	if outcome.Err != nil {
		return domain.Instance{}, outcome.Err
	}

	select {
	case <-ctx.Done():
		return domain.Instance{}, ctx.Err()
	case <-time.After(a.provisionLatency):
	}

	inst := domain.Instance{
		ID:         fmt.Sprintf("%s-%s", a.name, req.Token),
		Provider:   a.name,
		Region:     req.Region,
		GPUClass:   req.GPUClass,
		GPUCount:   req.GPUCount,
		HourlyRate: a.hourlyRate,
		State:      domain.InstanceRunning,
	}
	a.mu.Lock()
	a.instances[req.Token] = inst
	a.mu.Unlock()
	return inst, nil
}

func (a *Adapter) Execute(ctx context.Context, inst domain.Instance, command string, env map[string]string) (provider.CommandHandle, error) {
	return newSimHandle(command), nil
}

func (a *Adapter) Metrics(ctx context.Context, inst domain.Instance) (domain.TelemetrySample, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := a.metricsCalls
	a.metricsCalls++
	if len(a.metricsScript) == 0 {
		return domain.TelemetrySample{InstanceID: inst.ID, Timestamp: time.Now()}, nil
	}
	var sample domain.TelemetrySample
	if idx < len(a.metricsScript) {
		sample = a.metricsScript[idx]
	} else {
		sample = a.metricsScript[len(a.metricsScript)-1]
	}
	sample.InstanceID = inst.ID
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}
	return sample, nil
}

func (a *Adapter) Terminate(ctx context.Context, inst domain.Instance) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.terminateErr != nil {
		return a.terminateErr
	}
	a.terminated[inst.ID] = true // idempotent (R2): repeated calls are harmless
	return nil
}

// simHandle is a trivial CommandHandle that completes immediately with a
// zero exit status; sufficient for scenarios that don't exercise streaming.
type simHandle struct {
	lines chan string
	done  chan struct{}
}

func newSimHandle(command string) *simHandle {
	h := &simHandle{
		lines: make(chan string, 1),
		done:  make(chan struct{}),
	}
	h.lines <- fmt.Sprintf("executing: %s", command)
	close(h.lines)
	close(h.done)
	return h
}

func (h *simHandle) Lines() <-chan string   { return h.lines }
func (h *simHandle) Done() <-chan struct{}  { return h.done }
func (h *simHandle) ExitStatus() (string, bool) { return "0", true }
func (h *simHandle) Cancel()                {}
