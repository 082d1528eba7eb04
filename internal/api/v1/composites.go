package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/delinoio/delidev/internal/domain"
)

type CreateCompositeTaskInput struct {
	Body struct {
		Title              string `json:"title" minLength:"1" maxLength:"500" doc:"Composite task title"`
		Prompt             string `json:"prompt" minLength:"1" doc:"Natural-language description of the overall intent"`
		RepositoryGroupID  string `json:"repository_group_id" minLength:"1" doc:"Repository group to plan and execute against"`
		ExecutionAgentType string `json:"execution_agent_type,omitempty" doc:"Agent kind used to execute the resulting unit tasks"`
		AutoApprove        bool   `json:"auto_approve,omitempty" doc:"Skip the human approval step once planning succeeds"`
	}
}

type CreateCompositeTaskOutput struct {
	Body *domain.CompositeTask
}

type ListCompositeTasksInput struct {
	RepositoryGroupID string `query:"repository_group_id" doc:"Filter by repository group"`
	Status            string `query:"status" doc:"Filter by status"`
}

type ListCompositeTasksOutput struct {
	Body []*domain.CompositeTask
}

type CompositeTaskIDInput struct {
	ID string `path:"id" doc:"Composite task id"`
}

type CompositeTaskActionOutput struct {
	Body *domain.CompositeTask
}

type UpdatePlanInput struct {
	ID   string `path:"id" doc:"Composite task id"`
	Body struct {
		UpdateRequest string `json:"update_request" minLength:"1" doc:"Natural-language description of what to change in the plan"`
	}
}

// RegisterCompositeTaskRoutes wires the composite-task endpoints. Approve,
// reject and update-plan block on the Planner; StartPlanning is always run
// on a detached goroutine since it blocks on a potentially multi-minute
// agent run and the create call should return as soon as the row exists.
func RegisterCompositeTaskRoutes(api huma.API, store DataStore, planner CompositeController) {
	huma.Register(api, huma.Operation{
		OperationID: "create-composite-task",
		Method:      http.MethodPost,
		Path:        "/composite-tasks",
		Summary:     "Create a composite task and start planning",
		Tags:        []string{"Composite Tasks"},
	}, func(ctx context.Context, input *CreateCompositeTaskInput) (*CreateCompositeTaskOutput, error) {
		if _, err := store.RepositoryGroups().GetByID(ctx, input.Body.RepositoryGroupID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("repository group not found")
			}
			return nil, huma.Error500InternalServerError("failed to validate repository group", err)
		}

		agentType := domain.AgentKind(input.Body.ExecutionAgentType)
		if agentType == "" {
			agentType = domain.AgentClaudeCode
		}

		planningTask := &domain.AgentTask{ID: uuid.NewString(), AgentType: agentType}
		if err := store.AgentTasks().Create(ctx, planningTask); err != nil {
			return nil, huma.Error500InternalServerError("failed to create planning agent task", err)
		}

		composite := &domain.CompositeTask{
			ID:                 uuid.NewString(),
			Title:              input.Body.Title,
			Prompt:             input.Body.Prompt,
			RepositoryGroupID:  input.Body.RepositoryGroupID,
			PlanningTaskID:     planningTask.ID,
			ExecutionAgentType: agentType,
			Status:             domain.CompositePlanning,
			AutoApprove:        input.Body.AutoApprove,
		}
		if err := store.CompositeTasks().Create(ctx, composite); err != nil {
			return nil, huma.Error500InternalServerError("failed to create composite task", err)
		}

		go func() {
			bg := context.Background()
			if err := planner.StartPlanning(bg, composite.ID); err != nil {
				log.Error().Err(err).Str("composite_task_id", composite.ID).Msg("api: planning failed")
			}
		}()

		return &CreateCompositeTaskOutput{Body: composite}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-composite-tasks",
		Method:      http.MethodGet,
		Path:        "/composite-tasks",
		Summary:     "List composite tasks",
		Tags:        []string{"Composite Tasks"},
	}, func(ctx context.Context, input *ListCompositeTasksInput) (*ListCompositeTasksOutput, error) {
		filter := domain.CompositeTaskFilter{
			RepositoryGroupID: input.RepositoryGroupID,
			Status:            domain.CompositeTaskStatus(input.Status),
		}
		tasks, err := store.CompositeTasks().List(ctx, filter)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list composite tasks", err)
		}
		return &ListCompositeTasksOutput{Body: tasks}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-composite-task-plan",
		Method:      http.MethodPost,
		Path:        "/composite-tasks/{id}/approve",
		Summary:     "Approve a composite task's plan and begin execution",
		Tags:        []string{"Composite Tasks"},
	}, func(ctx context.Context, input *CompositeTaskIDInput) (*CompositeTaskActionOutput, error) {
		if err := planner.ApprovePlan(ctx, input.ID); err != nil {
			return nil, mapCompositeError(err)
		}
		return getComposite(ctx, store, input.ID)
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-composite-task",
		Method:      http.MethodPost,
		Path:        "/composite-tasks/{id}/reject",
		Summary:     "Reject a composite task",
		Tags:        []string{"Composite Tasks"},
	}, func(ctx context.Context, input *CompositeTaskIDInput) (*CompositeTaskActionOutput, error) {
		if err := planner.RejectPlan(ctx, input.ID); err != nil {
			return nil, mapCompositeError(err)
		}
		return getComposite(ctx, store, input.ID)
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-composite-task-plan",
		Method:      http.MethodPost,
		Path:        "/composite-tasks/{id}/update-plan",
		Summary:     "Request an in-place revision of a pending plan",
		Tags:        []string{"Composite Tasks"},
	}, func(ctx context.Context, input *UpdatePlanInput) (*CompositeTaskActionOutput, error) {
		if err := planner.UpdatePlan(ctx, input.ID, input.Body.UpdateRequest); err != nil {
			return nil, mapCompositeError(err)
		}
		return getComposite(ctx, store, input.ID)
	})
}

func getComposite(ctx context.Context, store DataStore, id string) (*CompositeTaskActionOutput, error) {
	composite, err := store.CompositeTasks().GetByID(ctx, id)
	if err != nil {
		return nil, mapCompositeError(err)
	}
	return &CompositeTaskActionOutput{Body: composite}, nil
}

func mapCompositeError(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return huma.Error404NotFound("composite task not found", err)
	case errors.Is(err, domain.ErrPreconditionFailed), errors.Is(err, domain.ErrValidation):
		return huma.Error400BadRequest(err.Error())
	default:
		return huma.Error500InternalServerError("composite task operation failed", err)
	}
}
