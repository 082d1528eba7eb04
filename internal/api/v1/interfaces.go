// Package v1 implements the command surface's HTTP handlers: thin huma
// operations translating requests into calls against the core's Planner,
// Executor and Scheduler, grounded on the teacher's huma.Register templates
// and narrow-interface-per-handler-file pattern.
package v1

import (
	"context"

	"github.com/delinoio/delidev/internal/domain"
)

// DataStore narrows domain.Store to the accessors the command surface uses
// directly, for reads and for creating new rows; state transitions go
// through Planner/Executor so event emission stays centralized there.
type DataStore interface {
	Repositories() domain.RepositoryRepo
	RepositoryGroups() domain.RepositoryGroupRepo
	UnitTasks() domain.UnitTaskRepo
	CompositeTasks() domain.CompositeTaskRepo
	AgentTasks() domain.AgentTaskRepo
}

// CompositeController is the subset of Planner the command surface drives.
type CompositeController interface {
	StartPlanning(ctx context.Context, compositeTaskID string) error
	ApprovePlan(ctx context.Context, compositeTaskID string) error
	RejectPlan(ctx context.Context, compositeTaskID string) error
	UpdatePlan(ctx context.Context, compositeTaskID, updateRequest string) error
}

// UnitController is the subset of Executor the command surface drives.
type UnitController interface {
	RequestChanges(ctx context.Context, unitTaskID, feedback string) error
	CreatePullRequest(ctx context.Context, unitTaskID string, agentOutput string) error
	Stop(ctx context.Context, unitTaskID string) error
}

// Dispatcher is the subset of Scheduler the command surface drives, for
// kicking off standalone unit tasks and reading the blocked set for the
// board view.
type Dispatcher interface {
	DispatchUnitTask(ctx context.Context, unitTaskID string)
	BlockedUnitTaskIDs(ctx context.Context) ([]string, error)
}
