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

type CreateUnitTaskInput struct {
	Body struct {
		Title             string `json:"title" minLength:"1" maxLength:"500" doc:"Unit task title"`
		Prompt            string `json:"prompt" minLength:"1" doc:"Task prompt for the agent"`
		RepositoryGroupID string `json:"repository_group_id" minLength:"1" doc:"Repository group to execute against"`
		AgentType         string `json:"agent_type,omitempty" doc:"Agent kind to execute with"`
		AgentModel        string `json:"agent_model,omitempty" doc:"Agent model override"`
	}
}

type CreateUnitTaskOutput struct {
	Body *domain.UnitTask
}

type ListUnitTasksInput struct {
	RepositoryGroupID string `query:"repository_group_id" doc:"Filter by repository group"`
	Status            string `query:"status" doc:"Filter by status"`
}

type ListUnitTasksOutput struct {
	Body []*domain.UnitTask
}

type UnitTaskIDInput struct {
	ID string `path:"id" doc:"Unit task id"`
}

type UnitTaskActionOutput struct {
	Body *domain.UnitTask
}

type RequestChangesInput struct {
	ID   string `path:"id" doc:"Unit task id"`
	Body struct {
		Feedback string `json:"feedback" minLength:"1" doc:"Feedback to append to the task prompt before re-running"`
	}
}

type CreatePRInput struct {
	ID   string `path:"id" doc:"Unit task id"`
	Body struct {
		AgentOutput string `json:"agent_output,omitempty" doc:"Raw agent output to scan for a PR URL if no VCS provider is configured"`
	}
}

type StopUnitTaskOutput struct {
	Body struct {
		Stopped bool `json:"stopped"`
	}
}

func RegisterUnitTaskRoutes(api huma.API, store DataStore, executor UnitController, dispatcher Dispatcher) {
	huma.Register(api, huma.Operation{
		OperationID: "create-unit-task",
		Method:      http.MethodPost,
		Path:        "/unit-tasks",
		Summary:     "Create a standalone unit task and dispatch it",
		Tags:        []string{"Unit Tasks"},
	}, func(ctx context.Context, input *CreateUnitTaskInput) (*CreateUnitTaskOutput, error) {
		if _, err := store.RepositoryGroups().GetByID(ctx, input.Body.RepositoryGroupID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("repository group not found")
			}
			return nil, huma.Error500InternalServerError("failed to validate repository group", err)
		}

		agentType := domain.AgentKind(input.Body.AgentType)
		if agentType == "" {
			agentType = domain.AgentClaudeCode
		}
		agentTask := &domain.AgentTask{ID: uuid.NewString(), AgentType: agentType, AgentModel: input.Body.AgentModel}
		if err := store.AgentTasks().Create(ctx, agentTask); err != nil {
			return nil, huma.Error500InternalServerError("failed to create agent task", err)
		}

		now := time.Now()
		task := &domain.UnitTask{
			ID:                uuid.NewString(),
			Title:             input.Body.Title,
			Prompt:            input.Body.Prompt,
			RepositoryGroupID: input.Body.RepositoryGroupID,
			AgentTaskID:       agentTask.ID,
			Status:            domain.UnitInProgress,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := store.UnitTasks().Create(ctx, task); err != nil {
			return nil, huma.Error500InternalServerError("failed to create unit task", err)
		}

		dispatcher.DispatchUnitTask(context.Background(), task.ID)

		return &CreateUnitTaskOutput{Body: task}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-unit-tasks",
		Method:      http.MethodGet,
		Path:        "/unit-tasks",
		Summary:     "List unit tasks",
		Tags:        []string{"Unit Tasks"},
	}, func(ctx context.Context, input *ListUnitTasksInput) (*ListUnitTasksOutput, error) {
		filter := domain.UnitTaskFilter{
			RepositoryGroupID: input.RepositoryGroupID,
			Status:            domain.UnitTaskStatus(input.Status),
		}
		tasks, err := store.UnitTasks().List(ctx, filter)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list unit tasks", err)
		}
		return &ListUnitTasksOutput{Body: tasks}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "request-unit-task-changes",
		Method:      http.MethodPost,
		Path:        "/unit-tasks/{id}/request-changes",
		Summary:     "Request changes on a reviewed unit task",
		Tags:        []string{"Unit Tasks"},
	}, func(ctx context.Context, input *RequestChangesInput) (*UnitTaskActionOutput, error) {
		if err := executor.RequestChanges(ctx, input.ID, input.Body.Feedback); err != nil {
			return nil, mapUnitError(err)
		}
		return getUnitTask(ctx, store, input.ID)
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-unit-task-pr",
		Method:      http.MethodPost,
		Path:        "/unit-tasks/{id}/create-pr",
		Summary:     "Create the pull request for a reviewed unit task",
		Tags:        []string{"Unit Tasks"},
	}, func(ctx context.Context, input *CreatePRInput) (*UnitTaskActionOutput, error) {
		if err := executor.CreatePullRequest(ctx, input.ID, input.Body.AgentOutput); err != nil {
			return nil, mapUnitError(err)
		}
		return getUnitTask(ctx, store, input.ID)
	})

	huma.Register(api, huma.Operation{
		OperationID: "stop-unit-task",
		Method:      http.MethodPost,
		Path:        "/unit-tasks/{id}/stop",
		Summary:     "Drop a pending unit task and clean up its resources",
		Tags:        []string{"Unit Tasks"},
	}, func(ctx context.Context, input *UnitTaskIDInput) (*StopUnitTaskOutput, error) {
		if err := executor.Stop(ctx, input.ID); err != nil {
			return nil, mapUnitError(err)
		}
		out := &StopUnitTaskOutput{}
		out.Body.Stopped = true
		return out, nil
	})
}

func getUnitTask(ctx context.Context, store DataStore, id string) (*UnitTaskActionOutput, error) {
	task, err := store.UnitTasks().GetByID(ctx, id)
	if err != nil {
		return nil, mapUnitError(err)
	}
	return &UnitTaskActionOutput{Body: task}, nil
}

func mapUnitError(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return huma.Error404NotFound("unit task not found", err)
	case errors.Is(err, domain.ErrPreconditionFailed), errors.Is(err, domain.ErrValidation):
		return huma.Error400BadRequest(err.Error())
	default:
		return huma.Error500InternalServerError("unit task operation failed", err)
	}
}
