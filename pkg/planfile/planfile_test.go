package planfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormind-ai/ormind/pkg/domain"
)

func writePlanFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

const twoStepPlan = `
goal: fine-tune and evaluate
steps:
  - name: train
    image: registry.local/train:latest
    gpu_class: a100
    gpu_count: 4
    vram_gib: 80
    max_duration_hours: 6
    max_cost_usd: 120
    confidence: 0.9
    risk_tier: normal
  - name: evaluate
    image: registry.local/eval:latest
    gpu_class: a10
    gpu_count: 1
    vram_gib: 24
    max_duration_hours: 1
    max_cost_usd: 10
    confidence: 0.95
    risk_tier: low
    depends_on: [train]
`

func TestLoad_ParsesStepsInOrder(t *testing.T) {
	path := writePlanFile(t, twoStepPlan)
	def, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "fine-tune and evaluate", def.Goal)
	require.Len(t, def.Steps, 2)
	assert.Equal(t, "train", def.Steps[0].Name)
	assert.Equal(t, "evaluate", def.Steps[1].Name)
	assert.Equal(t, []string{"train"}, def.Steps[1].DependsOn)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestBuild_WiresDependencyAsPredecessor(t *testing.T) {
	path := writePlanFile(t, twoStepPlan)
	def, err := Load(path)
	require.NoError(t, err)

	arena, err := Build(def, "goal-1")
	require.NoError(t, err)
	require.Equal(t, 2, arena.Len())

	train, ok := arena.Get(0)
	require.True(t, ok)
	assert.Empty(t, train.Predecessors)
	assert.Equal(t, "a100", train.Demand.GPUClass)
	assert.Equal(t, 4, train.Demand.GPUCount)

	evaluate, ok := arena.Get(1)
	require.True(t, ok)
	assert.Equal(t, []int{0}, handlesToInts(evaluate.Predecessors))
	assert.Equal(t, "goal-1", evaluate.GoalID)

	roots := arena.Roots()
	require.Len(t, roots, 1)
	assert.Equal(t, 0, int(roots[0]))
}

func TestBuild_UnknownDependencyFails(t *testing.T) {
	path := writePlanFile(t, `
goal: bad plan
steps:
  - name: evaluate
    image: registry.local/eval:latest
    depends_on: [train]
`)
	def, err := Load(path)
	require.NoError(t, err)

	_, err = Build(def, "goal-1")
	assert.Error(t, err)
}

func TestBuild_DuplicateStepNameFails(t *testing.T) {
	path := writePlanFile(t, `
goal: bad plan
steps:
  - name: train
    image: a
  - name: train
    image: b
`)
	def, err := Load(path)
	require.NoError(t, err)

	_, err = Build(def, "goal-1")
	assert.Error(t, err)
}

func TestBuild_DefaultsRiskTierToNormal(t *testing.T) {
	path := writePlanFile(t, `
goal: single step
steps:
  - name: only
    image: registry.local/only:latest
`)
	def, err := Load(path)
	require.NoError(t, err)

	arena, err := Build(def, "goal-1")
	require.NoError(t, err)
	only, ok := arena.Get(0)
	require.True(t, ok)
	assert.Equal(t, "normal", string(only.RiskTier))
}

func handlesToInts(handles []domain.TaskHandle) []int {
	ints := make([]int, len(handles))
	for i, h := range handles {
		ints[i] = int(h)
	}
	return ints
}
