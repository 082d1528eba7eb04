package v1

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/delinoio/delidev/internal/domain"
)

// BoardColumn groups unit tasks by status for the kanban view.
type BoardColumn struct {
	Status domain.UnitTaskStatus `json:"status"`
	Tasks  []*domain.UnitTask    `json:"tasks"`
}

type BoardView struct {
	Columns            []BoardColumn           `json:"columns"`
	CompositeTasks     []*domain.CompositeTask `json:"composite_tasks"`
	BlockedUnitTaskIDs []string                `json:"blocked_unit_task_ids"`
}

type GetBoardInput struct {
	RepositoryGroupID string `query:"repository_group_id" doc:"Filter by repository group"`
}

type GetBoardOutput struct {
	Body *BoardView
}

var boardColumns = []domain.UnitTaskStatus{
	domain.UnitInProgress,
	domain.UnitInReview,
	domain.UnitApproved,
	domain.UnitPrOpen,
	domain.UnitDone,
	domain.UnitRejected,
}

func RegisterBoardRoutes(api huma.API, store DataStore, dispatcher Dispatcher) {
	huma.Register(api, huma.Operation{
		OperationID: "get-board",
		Method:      http.MethodGet,
		Path:        "/board",
		Summary:     "Kanban view of unit and composite tasks",
		Tags:        []string{"Board"},
	}, func(ctx context.Context, input *GetBoardInput) (*GetBoardOutput, error) {
		columns := make([]BoardColumn, 0, len(boardColumns))
		for _, status := range boardColumns {
			tasks, err := store.UnitTasks().List(ctx, domain.UnitTaskFilter{
				RepositoryGroupID: input.RepositoryGroupID,
				Status:            status,
			})
			if err != nil {
				return nil, huma.Error500InternalServerError("failed to list unit tasks for board", err)
			}
			columns = append(columns, BoardColumn{Status: status, Tasks: tasks})
		}

		composites, err := store.CompositeTasks().List(ctx, domain.CompositeTaskFilter{RepositoryGroupID: input.RepositoryGroupID})
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list composite tasks for board", err)
		}

		blocked, err := dispatcher.BlockedUnitTaskIDs(ctx)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to compute blocked unit tasks", err)
		}

		return &GetBoardOutput{Body: &BoardView{
			Columns:            columns,
			CompositeTasks:     composites,
			BlockedUnitTaskIDs: blocked,
		}}, nil
	})
}
