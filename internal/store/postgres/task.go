package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/delinoio/delidev/internal/domain"
)

type UnitTaskRepo struct {
	pool *pgxpool.Pool
}

func NewUnitTaskRepo(pool *pgxpool.Pool) *UnitTaskRepo { return &UnitTaskRepo{pool: pool} }

func (r *UnitTaskRepo) Create(ctx context.Context, t *domain.UnitTask) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO unit_tasks (id, title, prompt, repository_group_id, agent_task_id, branch_name,
		        linked_pr_url, base_commit, end_commit, auto_fix_task_ids, status, last_execution_failed,
		        composite_task_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		t.ID, t.Title, t.Prompt, t.RepositoryGroupID, t.AgentTaskID, t.BranchName,
		t.LinkedPRURL, t.BaseCommit, t.EndCommit, t.AutoFixTaskIDs, t.Status, t.LastExecutionFailed,
		nullableString(t.CompositeTaskID), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("unitTaskRepo.Create: %w", err)
	}
	return nil
}

func (r *UnitTaskRepo) GetByID(ctx context.Context, id string) (*domain.UnitTask, error) {
	t, err := scanUnitTaskRow(r.pool.QueryRow(ctx, unitTaskSelect+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("unitTaskRepo.GetByID: %w", domain.NewNotFound("unit_task", id))
	}
	if err != nil {
		return nil, fmt.Errorf("unitTaskRepo.GetByID: %w", err)
	}
	return t, nil
}

func (r *UnitTaskRepo) List(ctx context.Context, filter domain.UnitTaskFilter) ([]*domain.UnitTask, error) {
	query := unitTaskSelect + ` WHERE ($1 = '' OR repository_group_id = $1) AND ($2 = '' OR status = $2)
	                             ORDER BY created_at LIMIT 1000`
	rows, err := r.pool.Query(ctx, query, filter.RepositoryGroupID, filter.Status)
	if err != nil {
		return nil, fmt.Errorf("unitTaskRepo.List: %w", err)
	}
	defer rows.Close()
	return scanUnitTasks(rows, "unitTaskRepo.List")
}

func (r *UnitTaskRepo) ListByStatus(ctx context.Context, status domain.UnitTaskStatus) ([]*domain.UnitTask, error) {
	rows, err := r.pool.Query(ctx, unitTaskSelect+` WHERE status = $1 ORDER BY created_at LIMIT 1000`, status)
	if err != nil {
		return nil, fmt.Errorf("unitTaskRepo.ListByStatus: %w", err)
	}
	defer rows.Close()
	return scanUnitTasks(rows, "unitTaskRepo.ListByStatus")
}

func (r *UnitTaskRepo) Update(ctx context.Context, t *domain.UnitTask) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE unit_tasks SET title = $1, prompt = $2, repository_group_id = $3, agent_task_id = $4,
		        branch_name = $5, linked_pr_url = $6, base_commit = $7, end_commit = $8,
		        auto_fix_task_ids = $9, status = $10, last_execution_failed = $11,
		        composite_task_id = $12, updated_at = now()
		 WHERE id = $13`,
		t.Title, t.Prompt, t.RepositoryGroupID, t.AgentTaskID, t.BranchName, t.LinkedPRURL,
		t.BaseCommit, t.EndCommit, t.AutoFixTaskIDs, t.Status, t.LastExecutionFailed,
		nullableString(t.CompositeTaskID), t.ID,
	)
	if err != nil {
		return fmt.Errorf("unitTaskRepo.Update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("unitTaskRepo.Update: %w", domain.NewNotFound("unit_task", t.ID))
	}
	return nil
}

// Delete enforces invariant §3.6: a unit task that is a node of a composite
// task cannot be deleted on its own. Deleting the owning composite task is
// the only way to remove it, via CompositeTaskRepo.Delete's cascade.
func (r *UnitTaskRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM unit_tasks WHERE id = $1 AND composite_task_id IS NULL`, id)
	if err != nil {
		return fmt.Errorf("unitTaskRepo.Delete: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	t, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return fmt.Errorf("unitTaskRepo.Delete: %w", domain.NewNotFound("unit_task", id))
	}
	if t.CompositeTaskID != "" {
		return fmt.Errorf("unitTaskRepo.Delete: %w", domain.NewPrecondition(
			fmt.Sprintf("unit task %s belongs to composite task %s; delete the composite task instead", id, t.CompositeTaskID)))
	}
	return fmt.Errorf("unitTaskRepo.Delete: %w", domain.NewNotFound("unit_task", id))
}

// SetStatus performs the core's optimistic-concurrency state transition: the
// row only moves if it is still in expectedCurrent, preventing two
// concurrent callers (e.g. a cascade-spawn and a manual status change) from
// both succeeding on the same edge.
func (r *UnitTaskRepo) SetStatus(ctx context.Context, id string, expectedCurrent, newStatus domain.UnitTaskStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE unit_tasks SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`,
		newStatus, id, expectedCurrent,
	)
	if err != nil {
		return fmt.Errorf("unitTaskRepo.SetStatus: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("unitTaskRepo.SetStatus: %w", domain.NewPrecondition(
			fmt.Sprintf("unit task %s is not in status %s", id, expectedCurrent)))
	}
	return nil
}

func (r *UnitTaskRepo) SetBranchName(ctx context.Context, id, branchName string) error {
	return r.setColumn(ctx, "branch_name", branchName, id)
}

func (r *UnitTaskRepo) SetBaseCommit(ctx context.Context, id, baseCommit string) error {
	return r.setColumn(ctx, "base_commit", baseCommit, id)
}

func (r *UnitTaskRepo) SetEndCommit(ctx context.Context, id, endCommit string) error {
	return r.setColumn(ctx, "end_commit", endCommit, id)
}

func (r *UnitTaskRepo) SetPRURL(ctx context.Context, id, url string) error {
	return r.setColumn(ctx, "linked_pr_url", url, id)
}

func (r *UnitTaskRepo) SetPrompt(ctx context.Context, id, prompt string) error {
	return r.setColumn(ctx, "prompt", prompt, id)
}

func (r *UnitTaskRepo) SetLastExecutionFailed(ctx context.Context, id string, failed bool) error {
	return r.setColumn(ctx, "last_execution_failed", failed, id)
}

func (r *UnitTaskRepo) setColumn(ctx context.Context, column string, value any, id string) error {
	tag, err := r.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE unit_tasks SET %s = $1, updated_at = now() WHERE id = $2`, column),
		value, id,
	)
	if err != nil {
		return fmt.Errorf("unitTaskRepo.setColumn(%s): %w", column, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("unitTaskRepo.setColumn(%s): %w", column, domain.NewNotFound("unit_task", id))
	}
	return nil
}

func (r *UnitTaskRepo) AddAutoFixTask(ctx context.Context, unitTaskID, agentTaskID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE unit_tasks SET auto_fix_task_ids = array_append(auto_fix_task_ids, $1), updated_at = now()
		 WHERE id = $2`,
		agentTaskID, unitTaskID,
	)
	if err != nil {
		return fmt.Errorf("unitTaskRepo.AddAutoFixTask: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("unitTaskRepo.AddAutoFixTask: %w", domain.NewNotFound("unit_task", unitTaskID))
	}
	return nil
}

const unitTaskSelect = `SELECT id, title, prompt, repository_group_id, agent_task_id, branch_name,
	linked_pr_url, base_commit, end_commit, auto_fix_task_ids, status, last_execution_failed,
	COALESCE(composite_task_id, ''), created_at, updated_at
	FROM unit_tasks`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUnitTaskRow(row rowScanner) (*domain.UnitTask, error) {
	var t domain.UnitTask
	err := row.Scan(
		&t.ID, &t.Title, &t.Prompt, &t.RepositoryGroupID, &t.AgentTaskID, &t.BranchName,
		&t.LinkedPRURL, &t.BaseCommit, &t.EndCommit, &t.AutoFixTaskIDs, &t.Status, &t.LastExecutionFailed,
		&t.CompositeTaskID, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanUnitTasks(rows pgx.Rows, caller string) ([]*domain.UnitTask, error) {
	var out []*domain.UnitTask
	for rows.Next() {
		t, err := scanUnitTaskRow(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", caller, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", caller, err)
	}
	return out, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
