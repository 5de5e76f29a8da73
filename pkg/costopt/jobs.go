package costopt

import "sync"

// JobRegistry is the process-wide set of currently-running jobs the Cost
// Optimizer evaluates for migration each tick, grounded on the same
// registry-by-key pattern pkg/orchestrator/registry.go uses for per-goal
// completion channels. The Executor registers a job once Provision
// succeeds and unregisters it when the job reaches a terminal state.
type JobRegistry struct {
	mu   sync.Mutex
	jobs map[string]RunningJob
}

// NewJobRegistry returns an empty registry.
func NewJobRegistry() *JobRegistry {
	return &JobRegistry{jobs: make(map[string]RunningJob)}
}

// Register adds or replaces the tracked state for job.JobID.
func (r *JobRegistry) Register(job RunningJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.JobID] = job
}

// Unregister stops tracking jobID, a no-op if it isn't present.
func (r *JobRegistry) Unregister(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, jobID)
}

// Snapshot returns a copy of every currently-registered job, safe to
// range over without holding the registry's lock.
func (r *JobRegistry) Snapshot() []RunningJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RunningJob, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job)
	}
	return out
}
