package telemetrybus

import (
	"context"
	"sync"

	"github.com/ormind-ai/ormind/core"
	"github.com/ormind-ai/ormind/pkg/domain"
)

// AuditSink is the subset of the Audit Agent's API the bus needs.
type AuditSink interface {
	Append(record domain.AuditRecord) error
}

type subscriber struct {
	ch chan domain.TelemetrySample
}

// Bus fans telemetry samples for each instance out to the subscribers
// that registered for it (normally the Healing Agent), preserving strict
// per-instance delivery order while never blocking the publisher: a slow
// subscriber has its oldest buffered sample dropped to make room, and the
// drop is itself audited as a telemetry_drop record (spec §5).
type Bus struct {
	store  Store
	audit  AuditSink
	logger core.Logger

	mu   sync.RWMutex
	subs map[string][]*subscriber
}

// New builds a Bus over store, auditing drops and errors to audit.
func New(store Store, audit AuditSink, logger core.Logger) *Bus {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Bus{store: store, audit: audit, logger: logger, subs: make(map[string][]*subscriber)}
}

// Subscribe returns a channel receiving every sample Published for
// instanceID from this point on, buffered to WindowSize. Callers must
// keep draining it; Unsubscribe when done to free the channel.
func (b *Bus) Subscribe(instanceID string) <-chan domain.TelemetrySample {
	sub := &subscriber{ch: make(chan domain.TelemetrySample, WindowSize)}
	b.mu.Lock()
	b.subs[instanceID] = append(b.subs[instanceID], sub)
	b.mu.Unlock()
	return sub.ch
}

// Unsubscribe removes and closes the channel returned by the matching
// Subscribe call.
func (b *Bus) Unsubscribe(instanceID string, ch <-chan domain.TelemetrySample) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[instanceID]
	for i, sub := range list {
		if sub.ch == ch {
			close(sub.ch)
			b.subs[instanceID] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Publish records sample in the bounded Store and delivers it to every
// subscriber of sample.InstanceID. A subscriber whose buffer is full has
// its oldest sample evicted to make room rather than blocking the
// publisher or the other subscribers.
func (b *Bus) Publish(ctx context.Context, sample domain.TelemetrySample) error {
	if err := b.store.Push(ctx, sample.InstanceID, sample); err != nil {
		return err
	}

	b.mu.RLock()
	subs := append([]*subscriber(nil), b.subs[sample.InstanceID]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.deliver(sub, sample)
	}
	return nil
}

func (b *Bus) deliver(sub *subscriber, sample domain.TelemetrySample) {
	select {
	case sub.ch <- sample:
		return
	default:
	}

	var dropped domain.TelemetrySample
	select {
	case dropped = <-sub.ch:
	default:
	}

	select {
	case sub.ch <- sample:
	default:
	}

	if b.audit == nil {
		return
	}
	_ = b.audit.Append(domain.NewRecord("telemetry_bus", "telemetry_drop").
		Meta("instance_id", sample.InstanceID).
		Meta("dropped_timestamp", dropped.Timestamp).
		Outcome("dropped").
		Build())
}

// Recent returns the last n samples recorded for instanceID (n<=0 or
// n>WindowSize returns the whole bounded window).
func (b *Bus) Recent(ctx context.Context, instanceID string, n int) ([]domain.TelemetrySample, error) {
	return b.store.Recent(ctx, instanceID, n)
}
