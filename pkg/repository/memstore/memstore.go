// Package memstore implements pkg/repository's contracts over plain
// mutex-guarded maps, grounded on the reference framework's in-memory
// Memory backend (pkg/memory): thread-safe, no external dependencies,
// suitable for development, testing, and single-process deployments.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ormind-ai/ormind/pkg/domain"
	"github.com/ormind-ai/ormind/pkg/repository"
)

type goalStore struct {
	mu    sync.RWMutex
	goals map[string]*domain.Goal
}

// NewGoals builds an in-memory repository.Goals.
func NewGoals() repository.Goals {
	return &goalStore{goals: make(map[string]*domain.Goal)}
}

func (s *goalStore) Create(_ context.Context, g *domain.Goal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.goals[g.ID]; exists {
		return fmt.Errorf("memstore: goal %s already exists", g.ID)
	}
	s.goals[g.ID] = g
	return nil
}

func (s *goalStore) Get(_ context.Context, id string) (*domain.Goal, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.goals[id]
	return g, ok, nil
}

func (s *goalStore) ListByOwner(_ context.Context, owner string) ([]*domain.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Goal
	for _, g := range s.goals {
		if g.Owner == owner {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *goalStore) UpdateStatus(_ context.Context, id string, status domain.GoalStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.goals[id]
	if !ok {
		return fmt.Errorf("memstore: goal %s not found", id)
	}
	g.Status = status
	return nil
}

type taskKey struct {
	goalID string
	handle domain.TaskHandle
}

type taskStore struct {
	mu    sync.RWMutex
	tasks map[taskKey]domain.Task
}

// NewTasks builds an in-memory repository.Tasks.
func NewTasks() repository.Tasks {
	return &taskStore{tasks: make(map[taskKey]domain.Task)}
}

func (s *taskStore) Create(_ context.Context, goalID string, t domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[taskKey{goalID, t.Handle}] = t
	return nil
}

func (s *taskStore) Get(_ context.Context, goalID string, h domain.TaskHandle) (domain.Task, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskKey{goalID, h}]
	return t, ok, nil
}

func (s *taskStore) ListByGoal(_ context.Context, goalID string) ([]domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Task
	for k, t := range s.tasks {
		if k.goalID == goalID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out, nil
}

func (s *taskStore) UpdateStatus(_ context.Context, goalID string, h domain.TaskHandle, status domain.TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := taskKey{goalID, h}
	t, ok := s.tasks[k]
	if !ok {
		return fmt.Errorf("memstore: task %s/%d not found", goalID, h)
	}
	t.Status = status
	s.tasks[k] = t
	return nil
}

// TaskLookupAdapter satisfies orchestrator.TaskLookup over a taskStore
// plus a fixed region-per-goal map, since tasks don't carry their own
// region (the Goal/Orchestrator does).
type TaskLookupAdapter struct {
	tasks   *taskStore
	regions sync.Map // goalID -> string
}

// NewTaskLookup wraps tasks in a TaskLookupAdapter.
func NewTaskLookup(tasks repository.Tasks) *TaskLookupAdapter {
	ts, _ := tasks.(*taskStore)
	return &TaskLookupAdapter{tasks: ts}
}

// SetRegion records the region a goal's tasks should provision in.
func (a *TaskLookupAdapter) SetRegion(goalID, region string) {
	a.regions.Store(goalID, region)
}

// Task implements orchestrator.TaskLookup.
func (a *TaskLookupAdapter) Task(goalID string, h domain.TaskHandle) (domain.Task, bool) {
	t, ok, _ := a.tasks.Get(context.Background(), goalID, h)
	return t, ok
}

// Region implements orchestrator.TaskLookup.
func (a *TaskLookupAdapter) Region(goalID string) string {
	v, ok := a.regions.Load(goalID)
	if !ok {
		return ""
	}
	return v.(string)
}

type jobStore struct {
	mu   sync.RWMutex
	jobs map[string]domain.Job
}

// NewJobs builds an in-memory repository.Jobs.
func NewJobs() repository.Jobs {
	return &jobStore{jobs: make(map[string]domain.Job)}
}

func (s *jobStore) Create(_ context.Context, j domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j
	return nil
}

func (s *jobStore) Get(_ context.Context, id string) (domain.Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	return j, ok, nil
}

func (s *jobStore) ListByTask(_ context.Context, goalID string, h domain.TaskHandle) ([]domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Job
	for _, j := range s.jobs {
		if j.GoalID == goalID && j.TaskHandle == h {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *jobStore) UpdateStatus(_ context.Context, id string, status domain.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("memstore: job %s not found", id)
	}
	j.Status = status
	s.jobs[id] = j
	return nil
}

type instanceStore struct {
	mu        sync.RWMutex
	instances map[string]domain.Instance
}

// NewInstances builds an in-memory repository.Instances.
func NewInstances() repository.Instances {
	return &instanceStore{instances: make(map[string]domain.Instance)}
}

func (s *instanceStore) Create(_ context.Context, inst domain.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[inst.ID] = inst
	return nil
}

func (s *instanceStore) Get(_ context.Context, id string) (domain.Instance, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[id]
	return inst, ok, nil
}

func (s *instanceStore) ListByProvider(_ context.Context, provider string) ([]domain.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Instance
	for _, inst := range s.instances {
		if inst.Provider == provider {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *instanceStore) UpdateState(_ context.Context, id string, state domain.InstanceState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return fmt.Errorf("memstore: instance %s not found", id)
	}
	inst.State = state
	s.instances[id] = inst
	return nil
}

type auditBatchStore struct {
	mu      sync.RWMutex
	batches map[int64]domain.AuditBatch
}

// NewAuditBatches builds an in-memory repository.AuditBatches.
func NewAuditBatches() repository.AuditBatches {
	return &auditBatchStore{batches: make(map[int64]domain.AuditBatch)}
}

func (s *auditBatchStore) Create(_ context.Context, b domain.AuditBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[b.Index] = b
	return nil
}

func (s *auditBatchStore) Get(_ context.Context, index int64) (domain.AuditBatch, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[index]
	return b, ok, nil
}

func (s *auditBatchStore) ListRange(_ context.Context, from, to int64) ([]domain.AuditBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.AuditBatch
	for i := from; i <= to; i++ {
		if b, ok := s.batches[i]; ok {
			out = append(out, b)
		}
	}
	return out, nil
}

type priceStore struct {
	mu     sync.RWMutex
	points map[domain.PriceKey][]domain.PricePoint
}

// NewPrices builds an in-memory repository.Prices.
func NewPrices() repository.Prices {
	return &priceStore{points: make(map[domain.PriceKey][]domain.PricePoint)}
}

func (s *priceStore) Append(_ context.Context, key domain.PriceKey, p domain.PricePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points[key] = append(s.points[key], p)
	return nil
}

func (s *priceStore) Recent(_ context.Context, key domain.PriceKey, n int) ([]domain.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pts := s.points[key]
	if n <= 0 || n > len(pts) {
		n = len(pts)
	}
	out := make([]domain.PricePoint, n)
	copy(out, pts[len(pts)-n:])
	return out, nil
}
