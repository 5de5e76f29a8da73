package costopt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormind-ai/ormind/core"
	"github.com/ormind-ai/ormind/pkg/domain"
	"github.com/ormind-ai/ormind/pkg/provider"
	"github.com/ormind-ai/ormind/pkg/provider/simadapter"
	"github.com/ormind-ai/ormind/pkg/router"
)

type fakeAudit struct {
	records []domain.AuditRecord
}

func (f *fakeAudit) Append(r domain.AuditRecord) error {
	f.records = append(f.records, r)
	return nil
}

func priceKey() domain.PriceKey {
	return domain.PriceKey{Provider: "p1", Region: "us-east-1", GPUClass: "a10"}
}

func TestPriceStore_RecentBoundedToRingSize(t *testing.T) {
	s := NewPriceStore()
	key := priceKey()
	for i := 0; i < priceRingBufferSize+10; i++ {
		s.Observe(domain.PricePoint{Key: key, HourlyRate: float64(i)})
	}
	recent := s.Recent(key, 1000)
	assert.Len(t, recent, priceRingBufferSize)
	assert.Equal(t, float64(priceRingBufferSize+9), recent[0].HourlyRate, "most recent observation first")
}

func TestPriceStore_SmoothedUnsetUntilFirstObservation(t *testing.T) {
	s := NewPriceStore()
	_, ok := s.Smoothed(priceKey())
	assert.False(t, ok)

	s.Observe(domain.PricePoint{Key: priceKey(), HourlyRate: 2.0})
	value, ok := s.Smoothed(priceKey())
	require.True(t, ok)
	assert.Equal(t, 2.0, value)
}

func TestOptimizer_PollOnceRecordsEveryTarget(t *testing.T) {
	store := NewPriceStore()
	a := simadapter.New("p1", 1.50, "us-east-1", "a10")
	opt := New(core.CostOptimizerConfig{}, router.New(core.NoOpLogger{}, 0, 0, nil), store, &fakeAudit{}, core.NoOpLogger{}, nil, nil)

	opt.PollOnce(context.Background(), []PollTarget{{Adapter: a, Region: "us-east-1", GPUClass: "a10"}})

	recent := store.Recent(domain.PriceKey{Provider: "p1", Region: "us-east-1", GPUClass: "a10"}, 1)
	require.Len(t, recent, 1)
	assert.Equal(t, 1.50, recent[0].HourlyRate)
}

// S4: P1 running at $4.00/hr, P2 drops to $1.80/hr, migration cost
// estimated below savings. Expect migration_succeeded audit record
// binding both instance ids.
func TestOptimizer_EvaluateAndMigrateSucceeds(t *testing.T) {
	r := router.New(core.NoOpLogger{}, 0, 0, nil)
	p2 := simadapter.New("p2", 1.80, "us-east-1", "a10")
	r.Register(p2, "us-east-1", "a10")

	store := NewPriceStore()
	audit := &fakeAudit{}
	opt := New(core.CostOptimizerConfig{}, r, store, audit, core.NoOpLogger{}, nil, nil)

	job := RunningJob{
		JobID: "job-1", Provider: "p1",
		Instance:       domain.Instance{ID: "p1-inst-1"},
		HourlyRate:     4.00,
		Deadline:       time.Now().Add(time.Hour),
		Demand:         domain.ResourceDemand{GPUClass: "a10", GPUCount: 1},
		Region:         "us-east-1",
		Checkpointable: true,
		Checkpointer:   &fakeCheckpointer{artifact: "snap-1"},
	}

	err := opt.EvaluateAndMigrate(context.Background(), job)
	require.NoError(t, err)

	require.Len(t, audit.records, 1)
	rec := audit.records[0]
	assert.Equal(t, "migration_succeeded", rec.Action)
	assert.Equal(t, "p1-inst-1", rec.Input["old_instance_id"])
	assert.NotEmpty(t, rec.Input["new_instance_id"])
}

func TestOptimizer_EvaluateAndMigrateSkipsNonCheckpointableJob(t *testing.T) {
	r := router.New(core.NoOpLogger{}, 0, 0, nil)
	p2 := simadapter.New("p2", 1.80, "us-east-1", "a10")
	r.Register(p2, "us-east-1", "a10")
	opt := New(core.CostOptimizerConfig{}, r, NewPriceStore(), &fakeAudit{}, core.NoOpLogger{}, nil, nil)

	job := RunningJob{
		Provider: "p1", HourlyRate: 4.00, Deadline: time.Now().Add(time.Hour),
		Demand: domain.ResourceDemand{GPUClass: "a10"}, Region: "us-east-1",
		Checkpointable: false, Checkpointer: &fakeCheckpointer{},
	}
	err := opt.EvaluateAndMigrate(context.Background(), job)
	assert.NoError(t, err)
}

// Q1 resolution: abort on checkpoint failure keeps the old instance,
// recording migration_failed rather than tearing anything down.
func TestOptimizer_EvaluateAndMigrateAbortsOnCheckpointFailure(t *testing.T) {
	r := router.New(core.NoOpLogger{}, 0, 0, nil)
	p2 := simadapter.New("p2", 1.80, "us-east-1", "a10")
	r.Register(p2, "us-east-1", "a10")
	audit := &fakeAudit{}
	opt := New(core.CostOptimizerConfig{}, r, NewPriceStore(), audit, core.NoOpLogger{}, nil, nil)

	job := RunningJob{
		Provider:       "p1",
		Instance:       domain.Instance{ID: "p1-inst-1"},
		HourlyRate:     4.00,
		Deadline:       time.Now().Add(time.Hour),
		Demand:         domain.ResourceDemand{GPUClass: "a10"},
		Region:         "us-east-1",
		Checkpointable: true,
		Checkpointer:   &fakeCheckpointer{checkpointErr: errors.New("snapshot failed")},
	}

	err := opt.EvaluateAndMigrate(context.Background(), job)
	require.Error(t, err)
	require.Len(t, audit.records, 1)
	assert.Equal(t, "migration_failed", audit.records[0].Action)
	assert.Equal(t, "aborted", audit.records[0].Outcome)
}

type fakeCheckpointer struct {
	artifact      string
	checkpointErr error
	restoreErr    error
}

func (c *fakeCheckpointer) Checkpoint(ctx context.Context, job RunningJob) (string, error) {
	if c.checkpointErr != nil {
		return "", c.checkpointErr
	}
	return c.artifact, nil
}

func (c *fakeCheckpointer) Restore(ctx context.Context, adapter provider.Adapter, artifact string, inst domain.Instance) error {
	return c.restoreErr
}
