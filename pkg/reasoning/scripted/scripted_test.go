package scripted

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormind-ai/ormind/pkg/domain"
	"github.com/ormind-ai/ormind/pkg/reasoning"
)

func TestPlan_ReturnsSingleTask(t *testing.T) {
	e := New()
	arena, err := e.Plan(context.Background(), "train a model", reasoning.PlanConstraints{})
	require.NoError(t, err)
	assert.Equal(t, 1, arena.Len())
}

func TestDiagnose_MatchesVRAMRule(t *testing.T) {
	e := New()
	d, err := e.Diagnose(context.Background(), nil, []domain.TelemetrySample{{VRAMUsagePct: 95}})
	require.NoError(t, err)
	assert.Equal(t, "prescale_memory", d.Action)
	assert.Greater(t, d.Confidence, 0.0)
}

func TestDiagnose_EmptyWindowReturnsNone(t *testing.T) {
	e := New()
	d, err := e.Diagnose(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "none", d.Action)
	assert.Zero(t, d.Confidence)
}

func TestRepair_FatalContextAbandons(t *testing.T) {
	e := New()
	r, err := e.Repair(context.Background(), domain.Task{}, map[string]interface{}{"fatal": true})
	require.NoError(t, err)
	assert.Equal(t, reasoning.RepairAbandon, r.Action)
}

func TestRepair_DefaultRetries(t *testing.T) {
	e := New()
	r, err := e.Repair(context.Background(), domain.Task{RetryCount: 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, reasoning.RepairRetry, r.Action)
}
