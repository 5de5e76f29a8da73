// Package planfile loads a static Goal task plan from a YAML definition,
// an alternative to asking the Reasoning Engine to synthesize one: an
// operator can hand the Orchestrator a known-good DAG directly.
package planfile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ormind-ai/ormind/pkg/domain"
)

// StepDefinition is one node of a YAML plan file.
type StepDefinition struct {
	Name             string   `yaml:"name"`
	Image            string   `yaml:"image"`
	GPUClass         string   `yaml:"gpu_class"`
	GPUCount         int      `yaml:"gpu_count"`
	VRAMGiB          float64  `yaml:"vram_gib"`
	MaxDurationHours float64  `yaml:"max_duration_hours"`
	MaxCostUSD       float64  `yaml:"max_cost_usd"`
	Confidence       float64  `yaml:"confidence"`
	RiskTier         string   `yaml:"risk_tier"`
	Checkpointable   bool     `yaml:"checkpointable"`
	DependsOn        []string `yaml:"depends_on"`
}

// Definition is a whole plan file: a named, ordered list of steps. Steps
// must be listed after everything they depend on (no forward references).
type Definition struct {
	Goal  string           `yaml:"goal"`
	Steps []StepDefinition `yaml:"steps"`
}

// Load reads and parses path into a Definition without building an arena
// yet, so callers can validate or template it first.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("planfile: read %s: %w", path, err)
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("planfile: parse %s: %w", path, err)
	}
	return &def, nil
}

// Build resolves def's named depends_on references into a domain.TaskArena
// for goalID, in the order steps appear. It fails on an unknown or
// forward dependency reference rather than silently dropping the edge.
func Build(def *Definition, goalID string) (*domain.TaskArena, error) {
	arena := domain.NewTaskArena()
	handles := make(map[string]domain.TaskHandle, len(def.Steps))

	for _, step := range def.Steps {
		if _, dup := handles[step.Name]; dup {
			return nil, fmt.Errorf("planfile: duplicate step name %q", step.Name)
		}
		predecessors := make([]domain.TaskHandle, 0, len(step.DependsOn))
		for _, dep := range step.DependsOn {
			h, ok := handles[dep]
			if !ok {
				return nil, fmt.Errorf("planfile: step %q depends on unknown or forward-referenced step %q", step.Name, dep)
			}
			predecessors = append(predecessors, h)
		}

		demand := domain.ResourceDemand{
			GPUClass:       step.GPUClass,
			GPUCount:       step.GPUCount,
			VRAMGiB:        step.VRAMGiB,
			MaxDuration:    step.MaxDurationHours,
			MaxCost:        step.MaxCostUSD,
			Checkpointable: step.Checkpointable,
		}
		risk := domain.RiskTier(step.RiskTier)
		if risk == "" {
			risk = domain.RiskNormal
		}
		h, err := arena.AddTask(goalID, step.Image, demand, predecessors, step.Confidence, risk)
		if err != nil {
			return nil, fmt.Errorf("planfile: step %q: %w", step.Name, err)
		}
		handles[step.Name] = h
	}
	return arena, nil
}
