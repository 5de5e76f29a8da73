package scheduler

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"github.com/ormind-ai/ormind/core"
	"github.com/ormind-ai/ormind/pkg/domain"
)

// defaultMaxBackoff is used only when a SchedulerConfig supplies an empty
// backoff sequence; the documented default is the fixed 10s/20s/40s table.
const defaultMaxBackoff = 60 * time.Second

// Released is what the dispatcher hands to the Router: a task ready to be
// provisioned, with the retry count it has already accumulated.
type Released struct {
	Task       domain.TaskHandle
	GoalID     string
	RetryCount int
}

// Scheduler is the single-writer priority queue dispatcher: exactly one
// goroutine should call Dispatch, matching the "serializes queue
// releases" concurrency rule (spec §5).
type Scheduler struct {
	logger     core.Logger
	maxRetries int
	backoffSeq []time.Duration
	capacity   int

	mu       sync.Mutex
	queue    entryHeap
	seq      int64
	released chan Released
}

// New builds a Scheduler from its SchedulerConfig. backoffSeconds maps
// directly to the fixed retry sequence (10s, 20s, 40s by default).
func New(cfg core.SchedulerConfig, logger core.Logger) *Scheduler {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	backoffSeq := make([]time.Duration, len(cfg.BackoffSeconds))
	for i, s := range cfg.BackoffSeconds {
		backoffSeq[i] = time.Duration(s) * time.Second
	}
	capacity := cfg.QueueCapacity
	if capacity <= 0 {
		capacity = 4096
	}
	s := &Scheduler{
		logger:     logger,
		maxRetries: cfg.MaxRetries,
		backoffSeq: backoffSeq,
		capacity:   capacity,
		released:   make(chan Released, capacity),
	}
	heap.Init(&s.queue)
	return s
}

// Push inserts a ready task (caller must have already verified
// domain.TaskArena.IsReady) with its deadline and expected duration.
// basePriority is provided by the Orchestrator (risk tier and goal
// priority may feed into it); estimated_wait is derived from tasks of
// compatible gpuClass already queued.
func (s *Scheduler) Push(goalID string, task domain.TaskHandle, gpuClass string, basePriority float64, deadline time.Time, expectedDur time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) >= s.capacity {
		return core.ErrQueueFull
	}

	var estimatedWait time.Duration
	for _, e := range s.queue {
		if e.gpuClass == gpuClass {
			estimatedWait += e.expectedDur
		}
	}

	e := &entry{
		task:         task,
		goalID:       goalID,
		basePriority: basePriority,
		deadline:     deadline,
		expectedDur:  expectedDur,
		gpuClass:     gpuClass,
		seq:          s.seq,
	}
	s.seq++
	e.priority = computePriority(basePriority, deadline, expectedDur, estimatedWait)
	heap.Push(&s.queue, e)
	return nil
}

// Dispatch pops the highest-priority ready entry and hands it to the
// single dispatcher goroutine via Released. It blocks on an empty queue
// until Push is called or stop fires.
func (s *Scheduler) Dispatch(stop <-chan struct{}) (Released, bool) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			e := heap.Pop(&s.queue).(*entry)
			s.mu.Unlock()
			return Released{Task: e.task, GoalID: e.goalID, RetryCount: e.retryCount}, true
		}
		s.mu.Unlock()

		select {
		case <-stop:
			return Released{}, false
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// RetryAfterFailure re-queues a task whose provisioning attempt failed,
// incrementing its retry count and applying the fixed backoff sequence
// (10s, 20s, 40s). Once retryCount reaches maxRetries it returns
// ErrMaxRetriesExceeded and the caller must transition the task to
// failed instead of re-queueing.
func (s *Scheduler) RetryAfterFailure(goalID string, task domain.TaskHandle, gpuClass string, basePriority float64, deadline time.Time, expectedDur time.Duration, retryCount int) (time.Duration, error) {
	if retryCount >= s.maxRetries {
		return 0, core.ErrMaxRetriesExceeded
	}
	delay := s.backoffFor(retryCount)

	s.mu.Lock()
	var estimatedWait time.Duration
	for _, e := range s.queue {
		if e.gpuClass == gpuClass {
			estimatedWait += e.expectedDur
		}
	}
	e := &entry{
		task:         task,
		goalID:       goalID,
		basePriority: basePriority,
		deadline:     deadline,
		expectedDur:  expectedDur,
		gpuClass:     gpuClass,
		retryCount:   retryCount + 1,
		seq:          s.seq,
	}
	s.seq++
	e.priority = computePriority(basePriority, deadline, expectedDur, estimatedWait)
	s.mu.Unlock()

	// The entry is pushed back into the queue, at its computed priority,
	// only once delay has elapsed, from the timer goroutine AfterFunc runs.
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		heap.Push(&s.queue, e)
	})
	return delay, nil
}

func (s *Scheduler) backoffFor(retryCount int) time.Duration {
	if retryCount < len(s.backoffSeq) {
		return s.backoffSeq[retryCount]
	}
	if len(s.backoffSeq) == 0 {
		return defaultMaxBackoff
	}
	return s.backoffSeq[len(s.backoffSeq)-1]
}

// Len reports the current queue depth, for observability.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// SpotBudget computes the spot-interruption budget for an interruptible
// class: p_interrupt_per_hour * expected_duration_hours * hourly_rate
// (spec §4.3).
func SpotBudget(interruptProbabilityPerHour, expectedDurationHours, hourlyRate float64) float64 {
	return interruptProbabilityPerHour * expectedDurationHours * hourlyRate
}

// RequiredCheckpointInterval returns the maximum checkpoint interval that
// satisfies budget/hourly_rate, or an error if hourlyRate is zero (no
// interval can satisfy the constraint, so the caller must decline the
// interruptible class rather than silently drop it).
func RequiredCheckpointInterval(budget, hourlyRate float64) (time.Duration, error) {
	if hourlyRate <= 0 {
		return 0, fmt.Errorf("%w: hourly_rate must be positive", core.ErrNoBudgetForClass)
	}
	hours := budget / hourlyRate
	if hours <= 0 {
		return 0, core.ErrNoBudgetForClass
	}
	return time.Duration(hours * float64(time.Hour)), nil
}
