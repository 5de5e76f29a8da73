package domain

import "time"

// TelemetrySample is a single 1Hz observation for one instance. Samples
// within an instance's stream are strictly ordered by Timestamp.
type TelemetrySample struct {
	InstanceID       string
	GPUUtilizationPct float64
	VRAMUsagePct     float64
	TempCelsius      float64
	InterconnectGbps float64
	Timestamp        time.Time
	OOMSignal        bool // explicit out-of-memory signal from the job
}
