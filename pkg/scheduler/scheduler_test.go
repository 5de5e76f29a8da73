package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormind-ai/ormind/core"
)

func testScheduler(t *testing.T) *Scheduler {
	t.Helper()
	return New(core.SchedulerConfig{
		MaxRetries:     3,
		BackoffSeconds: []int{10, 20, 40},
		QueueCapacity:  8,
	}, core.NoOpLogger{})
}

// P7: two tasks of equal priority and deadline pressure dequeue in
// enqueue order.
func TestScheduler_EqualPriorityDispatchesFIFO(t *testing.T) {
	s := testScheduler(t)
	require.NoError(t, s.Push("goal-1", 0, "a10", 1.0, time.Time{}, 0))
	require.NoError(t, s.Push("goal-1", 1, "a10", 1.0, time.Time{}, 0))
	require.NoError(t, s.Push("goal-1", 2, "a10", 1.0, time.Time{}, 0))

	stop := make(chan struct{})
	defer close(stop)

	first, ok := s.Dispatch(stop)
	require.True(t, ok)
	second, ok := s.Dispatch(stop)
	require.True(t, ok)
	third, ok := s.Dispatch(stop)
	require.True(t, ok)

	assert.Equal(t, []int{0, 1, 2}, []int{int(first.Task), int(second.Task), int(third.Task)})
}

func TestScheduler_HigherPriorityDispatchesFirst(t *testing.T) {
	s := testScheduler(t)
	require.NoError(t, s.Push("goal-1", 0, "a10", 1.0, time.Time{}, 0))
	require.NoError(t, s.Push("goal-1", 1, "a10", 5.0, time.Time{}, 0))

	stop := make(chan struct{})
	defer close(stop)
	first, ok := s.Dispatch(stop)
	require.True(t, ok)
	assert.Equal(t, 1, int(first.Task))
}

func TestScheduler_DispatchBlocksUntilPushThenUnblocksOnStop(t *testing.T) {
	s := testScheduler(t)
	stop := make(chan struct{})

	done := make(chan bool, 1)
	go func() {
		_, ok := s.Dispatch(stop)
		done <- ok
	}()

	close(stop)
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Dispatch did not return after stop fired")
	}
}

func TestScheduler_PushFailsWhenQueueFull(t *testing.T) {
	s := New(core.SchedulerConfig{MaxRetries: 1, QueueCapacity: 2}, core.NoOpLogger{})
	require.NoError(t, s.Push("goal-1", 0, "a10", 1.0, time.Time{}, 0))
	require.NoError(t, s.Push("goal-1", 1, "a10", 1.0, time.Time{}, 0))
	err := s.Push("goal-1", 2, "a10", 1.0, time.Time{}, 0)
	assert.ErrorIs(t, err, core.ErrQueueFull)
}

func TestScheduler_RetryAfterFailureAppliesFixedBackoffThenRequeues(t *testing.T) {
	s := New(core.SchedulerConfig{MaxRetries: 3, BackoffSeconds: []int{0, 0, 0}, QueueCapacity: 8}, core.NoOpLogger{})
	delay, err := s.RetryAfterFailure("goal-1", 0, "a10", 1.0, time.Time{}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), delay)

	stop := make(chan struct{})
	defer close(stop)
	released, ok := s.Dispatch(stop)
	require.True(t, ok)
	assert.Equal(t, 1, released.RetryCount)
}

func TestScheduler_RetryAfterFailureExceedsMaxRetries(t *testing.T) {
	s := testScheduler(t)
	_, err := s.RetryAfterFailure("goal-1", 0, "a10", 1.0, time.Time{}, 0, 3)
	assert.ErrorIs(t, err, core.ErrMaxRetriesExceeded)
}

func TestSpotBudget(t *testing.T) {
	budget := SpotBudget(0.02, 4, 1.5)
	assert.InDelta(t, 0.12, budget, 1e-9)
}

func TestRequiredCheckpointInterval(t *testing.T) {
	interval, err := RequiredCheckpointInterval(1.0, 2.0)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, interval)

	_, err = RequiredCheckpointInterval(1.0, 0)
	assert.ErrorIs(t, err, core.ErrNoBudgetForClass)
}
