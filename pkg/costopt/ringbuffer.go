// Package costopt implements the Cost Optimizer: per-key price polling
// into bounded ring buffers, a price EWMA, and the migration procedure
// (checkpoint, provision, restore, terminate, audit) invoked when the
// Router's migration trigger fires.
package costopt

import (
	"sync"

	"github.com/ormind-ai/ormind/pkg/domain"
)

// priceRingBufferSize is the bounded window of recent observations kept
// per (provider, region, gpu_class, instance_type) key (spec §3/§4.4).
const priceRingBufferSize = 60

// ringBuffer is a fixed-capacity circular buffer of PricePoints for one
// PriceKey.
type ringBuffer struct {
	mu     sync.Mutex
	points []domain.PricePoint
	next   int
	full   bool
}

func newRingBuffer() *ringBuffer {
	return &ringBuffer{points: make([]domain.PricePoint, priceRingBufferSize)}
}

func (r *ringBuffer) push(p domain.PricePoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.points[r.next] = p
	r.next = (r.next + 1) % priceRingBufferSize
	if r.next == 0 {
		r.full = true
	}
}

// recent returns up to n most recent points, most recent first.
func (r *ringBuffer) recent(n int) []domain.PricePoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	size := r.next
	if r.full {
		size = priceRingBufferSize
	}
	if n > size {
		n = size
	}
	out := make([]domain.PricePoint, 0, n)
	idx := r.next
	for i := 0; i < n; i++ {
		idx = (idx - 1 + priceRingBufferSize) % priceRingBufferSize
		out = append(out, r.points[idx])
	}
	return out
}

// PriceStore owns one ringBuffer and one EWMA per registered PriceKey;
// it is the single-writer shared structure the Cost Optimizer's poller
// updates (spec §5).
type PriceStore struct {
	mu      sync.Mutex
	buffers map[domain.PriceKey]*ringBuffer
	ewmas   map[domain.PriceKey]*priceEWMA
}

// NewPriceStore returns an empty store.
func NewPriceStore() *PriceStore {
	return &PriceStore{
		buffers: make(map[domain.PriceKey]*ringBuffer),
		ewmas:   make(map[domain.PriceKey]*priceEWMA),
	}
}

// Observe records a new price observation for its key, updating both the
// ring buffer and the smoothing EWMA.
func (s *PriceStore) Observe(p domain.PricePoint) {
	s.mu.Lock()
	buf, ok := s.buffers[p.Key]
	if !ok {
		buf = newRingBuffer()
		s.buffers[p.Key] = buf
	}
	ewma, ok := s.ewmas[p.Key]
	if !ok {
		ewma = newPriceEWMA(priceSmoothingFactor)
		s.ewmas[p.Key] = ewma
	}
	s.mu.Unlock()

	buf.push(p)
	ewma.observe(p.HourlyRate)
}

// Recent returns the last n observations for key, most recent first.
func (s *PriceStore) Recent(key domain.PriceKey, n int) []domain.PricePoint {
	s.mu.Lock()
	buf, ok := s.buffers[key]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return buf.recent(n)
}

// Smoothed returns the current EWMA-smoothed price for key, and whether
// any observation has been recorded yet.
func (s *PriceStore) Smoothed(key domain.PriceKey) (float64, bool) {
	s.mu.Lock()
	ewma, ok := s.ewmas[key]
	s.mu.Unlock()
	if !ok {
		return 0, false
	}
	return ewma.get()
}

// priceSmoothingFactor is the EWMA smoothing factor used to damp
// transient price spikes (spec §4.4).
const priceSmoothingFactor = 0.3

type priceEWMA struct {
	mu     sync.Mutex
	alpha  float64
	value  float64
	primed bool
}

func newPriceEWMA(alpha float64) *priceEWMA {
	return &priceEWMA{alpha: alpha}
}

func (e *priceEWMA) observe(x float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.primed {
		e.value = x
		e.primed = true
		return
	}
	e.value = e.alpha*x + (1-e.alpha)*e.value
}

func (e *priceEWMA) get() (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value, e.primed
}
