// Package healing implements the Healing Agent: a rolling per-instance,
// per-metric window with Z-score anomaly detection, the five-row trigger
// table (spec §4.5), and exponential restart backoff.
package healing

import (
	"math"
	"sync"
)

// sigmaFloorFraction is the fraction of a metric's operating range its
// standard deviation is floored at, so a perfectly flat window never
// produces a divide-by-zero (or absurdly sensitive) Z-score.
const sigmaFloorFraction = 0.05

// operatingRange is each metric's plausible full-scale range, used to
// derive its sigma floor as sigmaFloorFraction of that range. The
// percentage metrics run 0-100; interconnect bandwidth is scaled to a
// plausible NVLink-class ceiling.
var operatingRange = map[metricKind]float64{
	metricGPUUtilization: 100,
	metricVRAMUsage:      100,
	metricTemp:            100,
	metricInterconnect:    400,
}

// window is a fixed-capacity rolling buffer of float64 samples for one
// metric; zscore recomputes mean/stddev over the window on each call.
type window struct {
	mu       sync.Mutex
	samples  []float64
	capacity int
	next     int
	count    int
	floor    float64
}

func newWindow(capacity int, floor float64) *window {
	return &window{samples: make([]float64, capacity), capacity: capacity, floor: floor}
}

func (w *window) push(x float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.next] = x
	w.next = (w.next + 1) % w.capacity
	if w.count < w.capacity {
		w.count++
	}
}

// zscore returns (x - mean) / max(sigma, floor) over the current window
// contents, and whether the window has enough samples (>=2) to produce a
// meaningful score.
func (w *window) zscore(x float64) (float64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.count < 2 {
		return 0, false
	}
	var sum float64
	for i := 0; i < w.count; i++ {
		sum += w.samples[i]
	}
	mean := sum / float64(w.count)

	var variance float64
	for i := 0; i < w.count; i++ {
		d := w.samples[i] - mean
		variance += d * d
	}
	variance /= float64(w.count)
	sigma := math.Sqrt(variance)
	if sigma < w.floor {
		sigma = w.floor
	}
	return (x - mean) / sigma, true
}

// metricKind distinguishes the rolling windows the Healing Agent keeps
// per instance.
type metricKind string

const (
	metricGPUUtilization metricKind = "gpu_utilization_pct"
	metricVRAMUsage       metricKind = "vram_usage_pct"
	metricTemp            metricKind = "temp_celsius"
	metricInterconnect     metricKind = "interconnect_gbps"
)

// instanceWindows owns one rolling window per metric for one instance.
type instanceWindows struct {
	windows map[metricKind]*window

	// tempHighStreak and zScoreStreak track how many samples in a row have
	// exceeded a given trigger's threshold, for the "sustained N samples"
	// trigger rows.
	mu               sync.Mutex
	tempHighStreak   int
	zScoreStreak     map[metricKind]int
	restartCount     int
	restartWindowStart int64 // unix seconds of the first restart in the current 10-minute window
}

func newInstanceWindows(capacity int) *instanceWindows {
	return &instanceWindows{
		windows: map[metricKind]*window{
			metricGPUUtilization: newWindow(capacity, operatingRange[metricGPUUtilization]*sigmaFloorFraction),
			metricVRAMUsage:      newWindow(capacity, operatingRange[metricVRAMUsage]*sigmaFloorFraction),
			metricTemp:           newWindow(capacity, operatingRange[metricTemp]*sigmaFloorFraction),
			metricInterconnect:   newWindow(capacity, operatingRange[metricInterconnect]*sigmaFloorFraction),
		},
		zScoreStreak: make(map[metricKind]int),
	}
}
