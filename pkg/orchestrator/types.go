package orchestrator

import (
	"sync"
	"time"

	"github.com/ormind-ai/ormind/pkg/domain"
)

// TaskOutcome is what the Executor reports back once a dispatched task's
// provisioning/execution attempt reaches a terminal result, success or
// failure. The Orchestrator consumes these off its own channel (spec
// §4.8 step 3: "Observe task completions... from the Scheduler's event
// stream").
type TaskOutcome struct {
	GoalID         string
	Task           domain.TaskHandle
	Success        bool
	CostImpact     float64
	FailureContext map[string]interface{}
}

// ExecutionRecord is one entry of a Goal's bounded run history, adapted
// from the reference framework's orchestrator ExecutionRecord shape.
type ExecutionRecord struct {
	GoalID        string
	Timestamp     time.Time
	TasksRun      int
	TasksFailed   int
	FinalStatus   domain.GoalStatus
	ExecutionTime time.Duration
}

// Metrics tracks per-Orchestrator counters under their own mutex,
// mirroring the reference framework's OrchestratorMetrics/metricsMutex
// split from history/historyMutex.
type Metrics struct {
	mu               sync.RWMutex
	tasksDispatched  int
	tasksSucceeded   int
	tasksFailed      int
	repairsConsulted int
}

func (m *Metrics) recordDispatch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasksDispatched++
}

func (m *Metrics) recordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasksSucceeded++
}

func (m *Metrics) recordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasksFailed++
}

func (m *Metrics) recordRepair() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repairsConsulted++
}

// Snapshot is a point-in-time copy of Metrics safe to return to callers.
type Snapshot struct {
	TasksDispatched  int
	TasksSucceeded   int
	TasksFailed      int
	RepairsConsulted int
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		TasksDispatched:  m.tasksDispatched,
		TasksSucceeded:   m.tasksSucceeded,
		TasksFailed:      m.tasksFailed,
		RepairsConsulted: m.repairsConsulted,
	}
}

const defaultHistorySize = 50

// history is a bounded ring of ExecutionRecords, one appended whenever a
// Goal reaches a terminal state.
type history struct {
	mu   sync.RWMutex
	size int
	recs []ExecutionRecord
}

func newHistory(size int) *history {
	if size <= 0 {
		size = defaultHistorySize
	}
	return &history{size: size}
}

func (h *history) record(r ExecutionRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recs = append(h.recs, r)
	if len(h.recs) > h.size {
		h.recs = h.recs[len(h.recs)-h.size:]
	}
}

func (h *history) snapshot() []ExecutionRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]ExecutionRecord, len(h.recs))
	copy(out, h.recs)
	return out
}
