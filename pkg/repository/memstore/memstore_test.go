package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormind-ai/ormind/pkg/domain"
)

func TestGoalStore_CreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	store := NewGoals()

	g := domain.NewGoal("g1", "train a model", "alice", nil, time.Now())
	require.NoError(t, store.Create(ctx, g))

	got, ok, err := store.Get(ctx, "g1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alice", got.Owner)

	require.NoError(t, store.UpdateStatus(ctx, "g1", domain.GoalCompleted))
	got, _, _ = store.Get(ctx, "g1")
	assert.Equal(t, domain.GoalCompleted, got.Status)

	list, err := store.ListByOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestGoalStore_DuplicateCreateFails(t *testing.T) {
	ctx := context.Background()
	store := NewGoals()
	g := domain.NewGoal("g1", "x", "alice", nil, time.Now())
	require.NoError(t, store.Create(ctx, g))
	assert.Error(t, store.Create(ctx, g))
}

func TestTaskLookupAdapter_ResolvesTaskAndRegion(t *testing.T) {
	ctx := context.Background()
	tasks := NewTasks()
	task := domain.Task{Handle: 0, GoalID: "g1", Image: "img:a", Demand: domain.ResourceDemand{GPUClass: "a100"}}
	require.NoError(t, tasks.Create(ctx, "g1", task))

	lookup := NewTaskLookup(tasks)
	lookup.SetRegion("g1", "us-east-1")

	got, ok := lookup.Task("g1", 0)
	require.True(t, ok)
	assert.Equal(t, "img:a", got.Image)
	assert.Equal(t, "us-east-1", lookup.Region("g1"))
	assert.Equal(t, "", lookup.Region("unknown-goal"))
}

func TestPriceStore_RecentBoundsToAvailable(t *testing.T) {
	ctx := context.Background()
	store := NewPrices()
	key := domain.PriceKey{Provider: "p1", Region: "us-east-1", GPUClass: "a100"}
	require.NoError(t, store.Append(ctx, key, domain.PricePoint{Key: key, HourlyRate: 1.0}))
	require.NoError(t, store.Append(ctx, key, domain.PricePoint{Key: key, HourlyRate: 1.2}))

	recent, err := store.Recent(ctx, key, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
	assert.Equal(t, 1.2, recent[len(recent)-1].HourlyRate)
}

func TestAuditBatchStore_ListRangeSkipsMissing(t *testing.T) {
	ctx := context.Background()
	store := NewAuditBatches()
	require.NoError(t, store.Create(ctx, domain.AuditBatch{Index: 0}))
	require.NoError(t, store.Create(ctx, domain.AuditBatch{Index: 2}))

	out, err := store.ListRange(ctx, 0, 2)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}
