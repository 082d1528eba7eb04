package domain

import (
	"context"
	"time"
)

// CompositeTaskStatus is the state machine a composite (multi-task) request
// moves through: plan, get approval, execute the DAG, finish. Rejected is
// reachable from any pre-Done state.
type CompositeTaskStatus string

const (
	CompositePlanning        CompositeTaskStatus = "planning"
	CompositePendingApproval CompositeTaskStatus = "pending_approval"
	CompositeInProgress      CompositeTaskStatus = "in_progress"
	CompositeDone            CompositeTaskStatus = "done"
	CompositeRejected        CompositeTaskStatus = "rejected"
)

func (s CompositeTaskStatus) ValidTransition(next CompositeTaskStatus) bool {
	switch s {
	case CompositePlanning:
		return next == CompositePendingApproval || next == CompositeRejected
	case CompositePendingApproval:
		return next == CompositeInProgress || next == CompositePlanning || next == CompositeRejected
	case CompositeInProgress:
		return next == CompositeDone || next == CompositeRejected
	case CompositeDone, CompositeRejected:
		return false
	default:
		return false
	}
}

func (s CompositeTaskStatus) Terminal() bool {
	return s == CompositeDone || s == CompositeRejected
}

// CompositeTaskNode is one vertex of the composite task's dependency DAG. Its
// DependsOn slice holds peer node ids, never owning references, so the graph
// can be validated and walked without pointer aliasing concerns.
type CompositeTaskNode struct {
	ID         string // unique within the owning composite task; matches the plan's slug
	UnitTaskID string
	DependsOn  []string
}

// CompositeTask is a higher-level user intent that a Planner expands into a
// DAG of UnitTasks.
type CompositeTask struct {
	ID                  string
	Title               string
	Prompt              string
	RepositoryGroupID   string
	PlanningTaskID      string // -> AgentTask
	ExecutionAgentType  AgentKind
	PlanFilePath        string
	PlanYAMLContent     string
	Nodes               []CompositeTaskNode
	Status              CompositeTaskStatus
	AutoApprove         bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (c *CompositeTask) Node(id string) (*CompositeTaskNode, bool) {
	for i := range c.Nodes {
		if c.Nodes[i].ID == id {
			return &c.Nodes[i], true
		}
	}
	return nil, false
}

type CompositeTaskFilter struct {
	RepositoryGroupID string
	Status            CompositeTaskStatus
}

type CompositeTaskRepo interface {
	Create(ctx context.Context, t *CompositeTask) error
	GetByID(ctx context.Context, id string) (*CompositeTask, error)
	List(ctx context.Context, filter CompositeTaskFilter) ([]*CompositeTask, error)
	Update(ctx context.Context, t *CompositeTask) error
	Delete(ctx context.Context, id string) error

	SetStatus(ctx context.Context, id string, expectedCurrent, newStatus CompositeTaskStatus) error
	SetPlanPath(ctx context.Context, id, path string) error
	SetPlanContent(ctx context.Context, id, yamlContent string) error
	AddNode(ctx context.Context, compositeTaskID string, node CompositeTaskNode) error

	// AreAllNodesDone must be implementable as a single aggregate query:
	// true iff the composite has at least one node and every node's unit
	// task is Done.
	AreAllNodesDone(ctx context.Context, compositeTaskID string) (bool, error)

	// GetReadyDependents returns unit task ids whose owning composite task
	// is InProgress, whose own status is not terminal (Done/Rejected), and
	// whose node's DependsOn are all Done. A node sits at InProgress from
	// creation until it is actually executed, so InProgress is the expected
	// status of a node waiting to become ready, not one to exclude.
	GetReadyDependents(ctx context.Context, doneUnitTaskID string) ([]string, error)

	// GetBlockedUnitTaskIDs returns InProgress unit tasks that are nodes of
	// an InProgress composite task whose dependencies are not all Done yet.
	GetBlockedUnitTaskIDs(ctx context.Context) ([]string, error)

	// FindOwningComposite returns the composite task id that owns the given
	// unit task as a node, or "" if the unit task is standalone.
	FindOwningComposite(ctx context.Context, unitTaskID string) (string, error)
}
