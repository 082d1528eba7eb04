package domain

import (
	"context"
	"time"
)

// UnitTaskStatus is the five-state (plus one alternative terminal) state
// machine every UnitTask moves through. InProgress is both the initial state
// and the retry state: a failed or feedback-requested execution returns here.
type UnitTaskStatus string

const (
	UnitInProgress UnitTaskStatus = "in_progress"
	UnitInReview   UnitTaskStatus = "in_review"
	UnitApproved   UnitTaskStatus = "approved"
	UnitPrOpen     UnitTaskStatus = "pr_open"
	UnitDone       UnitTaskStatus = "done"
	UnitRejected   UnitTaskStatus = "rejected"
)

// ValidTransition reports whether moving from s to next is a legal edge in
// the unit-task state machine. Terminal states (Done, Rejected) have no
// outgoing transitions.
func (s UnitTaskStatus) ValidTransition(next UnitTaskStatus) bool {
	switch s {
	case UnitInProgress:
		return next == UnitInReview || next == UnitDone || next == UnitRejected
	case UnitInReview:
		return next == UnitInProgress || next == UnitApproved || next == UnitPrOpen || next == UnitRejected
	case UnitApproved:
		return next == UnitPrOpen || next == UnitRejected
	case UnitPrOpen:
		return next == UnitDone || next == UnitRejected
	case UnitDone, UnitRejected:
		return false
	default:
		return false
	}
}

func (s UnitTaskStatus) Terminal() bool {
	return s == UnitDone || s == UnitRejected
}

// UnitTask is the smallest independently-executable unit of work: it maps to
// exactly one branch and, eventually, one pull request.
type UnitTask struct {
	ID                string
	Title             string
	Prompt            string
	RepositoryGroupID string
	AgentTaskID       string
	BranchName        string
	LinkedPRURL       string
	BaseCommit        string
	EndCommit         string
	AutoFixTaskIDs    []string
	Status            UnitTaskStatus
	LastExecutionFailed bool
	CompositeTaskID   string // empty when this unit task is not part of a composite
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type UnitTaskFilter struct {
	RepositoryGroupID string
	Status            UnitTaskStatus
}

type UnitTaskRepo interface {
	Create(ctx context.Context, t *UnitTask) error
	GetByID(ctx context.Context, id string) (*UnitTask, error)
	List(ctx context.Context, filter UnitTaskFilter) ([]*UnitTask, error)
	ListByStatus(ctx context.Context, status UnitTaskStatus) ([]*UnitTask, error)
	Update(ctx context.Context, t *UnitTask) error
	Delete(ctx context.Context, id string) error

	SetStatus(ctx context.Context, id string, expectedCurrent, newStatus UnitTaskStatus) error
	SetBranchName(ctx context.Context, id, branchName string) error
	SetBaseCommit(ctx context.Context, id, baseCommit string) error
	SetEndCommit(ctx context.Context, id, endCommit string) error
	SetPRURL(ctx context.Context, id, url string) error
	SetPrompt(ctx context.Context, id, prompt string) error
	SetLastExecutionFailed(ctx context.Context, id string, failed bool) error
	AddAutoFixTask(ctx context.Context, unitTaskID, agentTaskID string) error
}
