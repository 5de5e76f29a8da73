// Package telemetrybus implements the ordered, per-instance telemetry fan
// -out the Healing Agent subscribes to: bounded to the last 60 samples
// per instance, dropping the oldest and auditing a telemetry_drop record
// when a subscriber falls behind (spec §5).
package telemetrybus

import (
	"context"
	"sync"

	"github.com/ormind-ai/ormind/pkg/domain"
)

// WindowSize is the bounded per-instance sample history (spec §5: "last
// 60 samples").
const WindowSize = 60

// Store is the bounded per-instance sample history backing a Bus. The
// in-memory implementation (memStore, this file) is the default; an
// alternate Redis-backed Store (redisstore.go) exists for a multi-process
// deployment sharing one bus across replicas, mirroring the reference
// framework's discovery module pattern of one interface with a local and
// a Redis backend.
type Store interface {
	Push(ctx context.Context, instanceID string, sample domain.TelemetrySample) error
	Recent(ctx context.Context, instanceID string, n int) ([]domain.TelemetrySample, error)
}

type memStore struct {
	mu      sync.Mutex
	windows map[string][]domain.TelemetrySample
}

// NewMemStore builds the default in-memory Store.
func NewMemStore() Store {
	return &memStore{windows: make(map[string][]domain.TelemetrySample)}
}

func (m *memStore) Push(_ context.Context, instanceID string, sample domain.TelemetrySample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := append(m.windows[instanceID], sample)
	if len(w) > WindowSize {
		w = w[len(w)-WindowSize:]
	}
	m.windows[instanceID] = w
	return nil
}

func (m *memStore) Recent(_ context.Context, instanceID string, n int) ([]domain.TelemetrySample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.windows[instanceID]
	if n <= 0 || n > len(w) {
		n = len(w)
	}
	out := make([]domain.TelemetrySample, n)
	copy(out, w[len(w)-n:])
	return out, nil
}
