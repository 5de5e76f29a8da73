// Package repository defines the persistence contracts every activity
// depends on instead of a concrete store (spec §6): goals, tasks, jobs,
// and instances each support create/fetch/list-by-parent/update-status,
// audit batches support create/fetch/list-by-index-range, prices support
// append-and-fetch-recent, and telemetry
// is out of scope here (it has its own publish/subscribe bus, see
// pkg/telemetrybus). True persistent backends are out of scope; the only
// implementation shipped is the in-memory one in pkg/repository/memstore.
package repository

import (
	"context"

	"github.com/ormind-ai/ormind/pkg/domain"
)

// Goals is the Goal persistence contract.
type Goals interface {
	Create(ctx context.Context, g *domain.Goal) error
	Get(ctx context.Context, id string) (*domain.Goal, bool, error)
	ListByOwner(ctx context.Context, owner string) ([]*domain.Goal, error)
	UpdateStatus(ctx context.Context, id string, status domain.GoalStatus) error
}

// Tasks is the Task persistence contract. Tasks belong to a Goal's
// TaskArena in-memory during execution; this contract is for durable
// snapshotting of individual task state across restarts.
type Tasks interface {
	Create(ctx context.Context, goalID string, t domain.Task) error
	Get(ctx context.Context, goalID string, h domain.TaskHandle) (domain.Task, bool, error)
	ListByGoal(ctx context.Context, goalID string) ([]domain.Task, error)
	UpdateStatus(ctx context.Context, goalID string, h domain.TaskHandle, status domain.TaskStatus) error
}

// Jobs is the Job persistence contract.
type Jobs interface {
	Create(ctx context.Context, j domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	ListByTask(ctx context.Context, goalID string, h domain.TaskHandle) ([]domain.Job, error)
	UpdateStatus(ctx context.Context, id string, status domain.JobStatus) error
}

// Instances is the Instance persistence contract.
type Instances interface {
	Create(ctx context.Context, inst domain.Instance) error
	Get(ctx context.Context, id string) (domain.Instance, bool, error)
	ListByProvider(ctx context.Context, provider string) ([]domain.Instance, error)
	UpdateState(ctx context.Context, id string, state domain.InstanceState) error
}

// AuditBatches is the sealed-batch persistence contract. The Audit Agent
// keeps its own in-process copy for Verify/Erase; this contract is for
// durable snapshotting of sealed batches across restarts.
type AuditBatches interface {
	Create(ctx context.Context, b domain.AuditBatch) error
	Get(ctx context.Context, index int64) (domain.AuditBatch, bool, error)
	ListRange(ctx context.Context, from, to int64) ([]domain.AuditBatch, error)
}

// Prices is the price-history persistence contract: append a point,
// fetch the most recent N for a given key.
type Prices interface {
	Append(ctx context.Context, key domain.PriceKey, p domain.PricePoint) error
	Recent(ctx context.Context, key domain.PriceKey, n int) ([]domain.PricePoint, error)
}
