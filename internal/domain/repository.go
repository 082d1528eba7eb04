package domain

import (
	"context"
	"time"
)

// Provider identifies the hosted VCS platform a Repository lives on.
type Provider string

const (
	ProviderGitHub    Provider = "github"
	ProviderGitLab    Provider = "gitlab"
	ProviderBitbucket Provider = "bitbucket"
)

// Repository is a single git repository the engine can operate against.
// LocalPath may be empty in server-mode / URL-only deployments; operations
// that require a working directory (worktrees, diffing) fail with
// ResourceSetup when it is empty.
type Repository struct {
	ID             string
	Name           string
	LocalPath      string
	RemoteURL      string
	DefaultBranch  string
	Provider       Provider
	AutoLearning   bool
	AutoApprove    bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RepositoryGroup bundles one or more repositories under a single workspace.
// The primary repository, repository_ids[0], is the one the planner and
// executor clone worktrees from.
type RepositoryGroup struct {
	ID            string
	WorkspaceID   string
	RepositoryIDs []string
	CreatedAt     time.Time
}

func (g *RepositoryGroup) PrimaryRepositoryID() (string, error) {
	if len(g.RepositoryIDs) == 0 {
		return "", NewValidation("repository_ids", "repository group has no repositories")
	}
	return g.RepositoryIDs[0], nil
}

type RepositoryRepo interface {
	Create(ctx context.Context, r *Repository) error
	GetByID(ctx context.Context, id string) (*Repository, error)
	List(ctx context.Context) ([]*Repository, error)
	Update(ctx context.Context, r *Repository) error
	Delete(ctx context.Context, id string) error
}

type RepositoryGroupRepo interface {
	Create(ctx context.Context, g *RepositoryGroup) error
	GetByID(ctx context.Context, id string) (*RepositoryGroup, error)
	List(ctx context.Context, workspaceID string) ([]*RepositoryGroup, error)
	Delete(ctx context.Context, id string) error
}
