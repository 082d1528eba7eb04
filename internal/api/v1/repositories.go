package v1

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/delinoio/delidev/internal/domain"
)

type CreateRepositoryInput struct {
	Body struct {
		Name          string `json:"name" minLength:"1" maxLength:"200" doc:"Repository name"`
		LocalPath     string `json:"local_path,omitempty" doc:"Local filesystem path, required for worktree operations"`
		RemoteURL     string `json:"remote_url,omitempty" doc:"Remote git URL"`
		DefaultBranch string `json:"default_branch,omitempty" doc:"Default branch, defaults to main"`
		Provider      string `json:"provider,omitempty" doc:"Hosted VCS provider: github, gitlab, bitbucket"`
		AutoLearning  bool   `json:"auto_learning,omitempty" doc:"Enable repository auto-learning"`
		AutoApprove   bool   `json:"auto_approve,omitempty" doc:"Auto-approve composite task plans for this repository"`
	}
}

type CreateRepositoryOutput struct {
	Body *domain.Repository
}

type ListRepositoriesInput struct{}

type ListRepositoriesOutput struct {
	Body []*domain.Repository
}

type CreateRepositoryGroupInput struct {
	Body struct {
		WorkspaceID   string   `json:"workspace_id" minLength:"1" doc:"Workspace identifier"`
		RepositoryIDs []string `json:"repository_ids" minItems:"1" doc:"Member repository ids; index 0 is primary"`
	}
}

type CreateRepositoryGroupOutput struct {
	Body *domain.RepositoryGroup
}

func RegisterRepositoryRoutes(api huma.API, store DataStore) {
	huma.Register(api, huma.Operation{
		OperationID: "create-repository",
		Method:      http.MethodPost,
		Path:        "/repositories",
		Summary:     "Register a repository",
		Tags:        []string{"Repositories"},
	}, func(ctx context.Context, input *CreateRepositoryInput) (*CreateRepositoryOutput, error) {
		if input.Body.RemoteURL != "" {
			if err := domain.ValidateRemoteURL(input.Body.RemoteURL); err != nil {
				return nil, huma.Error400BadRequest(err.Error())
			}
		}

		defaultBranch := input.Body.DefaultBranch
		if defaultBranch == "" {
			defaultBranch = "main"
		}
		provider := domain.Provider(input.Body.Provider)

		now := time.Now()
		repo := &domain.Repository{
			ID:            uuid.NewString(),
			Name:          input.Body.Name,
			LocalPath:     input.Body.LocalPath,
			RemoteURL:     input.Body.RemoteURL,
			DefaultBranch: defaultBranch,
			Provider:      provider,
			AutoLearning:  input.Body.AutoLearning,
			AutoApprove:   input.Body.AutoApprove,
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		if err := store.Repositories().Create(ctx, repo); err != nil {
			return nil, huma.Error500InternalServerError("failed to create repository", err)
		}
		return &CreateRepositoryOutput{Body: repo}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-repositories",
		Method:      http.MethodGet,
		Path:        "/repositories",
		Summary:     "List registered repositories",
		Tags:        []string{"Repositories"},
	}, func(ctx context.Context, _ *ListRepositoriesInput) (*ListRepositoriesOutput, error) {
		repos, err := store.Repositories().List(ctx)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list repositories", err)
		}
		return &ListRepositoriesOutput{Body: repos}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-repository-group",
		Method:      http.MethodPost,
		Path:        "/repository-groups",
		Summary:     "Create a repository group",
		Tags:        []string{"Repositories"},
	}, func(ctx context.Context, input *CreateRepositoryGroupInput) (*CreateRepositoryGroupOutput, error) {
		for _, id := range input.Body.RepositoryIDs {
			if _, err := store.Repositories().GetByID(ctx, id); err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return nil, huma.Error404NotFound("repository not found: " + id)
				}
				return nil, huma.Error500InternalServerError("failed to validate repository", err)
			}
		}

		group := &domain.RepositoryGroup{
			ID:            uuid.NewString(),
			WorkspaceID:   input.Body.WorkspaceID,
			RepositoryIDs: input.Body.RepositoryIDs,
			CreatedAt:     time.Now(),
		}
		if err := store.RepositoryGroups().Create(ctx, group); err != nil {
			return nil, huma.Error500InternalServerError("failed to create repository group", err)
		}
		return &CreateRepositoryGroupOutput{Body: group}, nil
	})
}
