package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/delinoio/delidev/internal/domain"
)

type AgentTaskRepo struct {
	pool *pgxpool.Pool
}

func NewAgentTaskRepo(pool *pgxpool.Pool) *AgentTaskRepo { return &AgentTaskRepo{pool: pool} }

func (r *AgentTaskRepo) Create(ctx context.Context, t *domain.AgentTask) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO agent_tasks (id, agent_type, agent_model, base_remotes, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.AgentType, t.AgentModel, t.BaseRemotes, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("agentTaskRepo.Create: %w", err)
	}
	return nil
}

func (r *AgentTaskRepo) GetByID(ctx context.Context, id string) (*domain.AgentTask, error) {
	var t domain.AgentTask
	err := r.pool.QueryRow(ctx,
		`SELECT id, agent_type, agent_model, base_remotes, created_at FROM agent_tasks WHERE id = $1`,
		id,
	).Scan(&t.ID, &t.AgentType, &t.AgentModel, &t.BaseRemotes, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("agentTaskRepo.GetByID: %w", domain.NewNotFound("agent_task", id))
	}
	if err != nil {
		return nil, fmt.Errorf("agentTaskRepo.GetByID: %w", err)
	}
	return &t, nil
}

func (r *AgentTaskRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM agent_tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("agentTaskRepo.Delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("agentTaskRepo.Delete: %w", domain.NewNotFound("agent_task", id))
	}
	return nil
}

type AgentSessionRepo struct {
	pool *pgxpool.Pool
}

func NewAgentSessionRepo(pool *pgxpool.Pool) *AgentSessionRepo { return &AgentSessionRepo{pool: pool} }

func (r *AgentSessionRepo) Create(ctx context.Context, s *domain.AgentSession) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO agent_sessions (id, agent_task_id, agent_type, agent_model, status, container_id, error, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.AgentTaskID, s.AgentType, s.AgentModel, s.Status, s.ContainerID, s.Error, s.StartedAt, s.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("agentSessionRepo.Create: %w", err)
	}
	return nil
}

func (r *AgentSessionRepo) GetByID(ctx context.Context, id string) (*domain.AgentSession, error) {
	var s domain.AgentSession
	err := r.pool.QueryRow(ctx,
		`SELECT id, agent_task_id, agent_type, agent_model, status, container_id, error, started_at, completed_at
		 FROM agent_sessions WHERE id = $1`,
		id,
	).Scan(&s.ID, &s.AgentTaskID, &s.AgentType, &s.AgentModel, &s.Status, &s.ContainerID, &s.Error, &s.StartedAt, &s.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("agentSessionRepo.GetByID: %w", domain.NewNotFound("agent_session", id))
	}
	if err != nil {
		return nil, fmt.Errorf("agentSessionRepo.GetByID: %w", err)
	}
	return &s, nil
}

func (r *AgentSessionRepo) ListByAgentTask(ctx context.Context, agentTaskID string) ([]*domain.AgentSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, agent_task_id, agent_type, agent_model, status, container_id, error, started_at, completed_at
		 FROM agent_sessions WHERE agent_task_id = $1 ORDER BY started_at LIMIT 1000`,
		agentTaskID,
	)
	if err != nil {
		return nil, fmt.Errorf("agentSessionRepo.ListByAgentTask: %w", err)
	}
	defer rows.Close()

	var out []*domain.AgentSession
	for rows.Next() {
		var s domain.AgentSession
		if err := rows.Scan(&s.ID, &s.AgentTaskID, &s.AgentType, &s.AgentModel, &s.Status, &s.ContainerID, &s.Error, &s.StartedAt, &s.CompletedAt); err != nil {
			return nil, fmt.Errorf("agentSessionRepo.ListByAgentTask: scan: %w", err)
		}
		out = append(out, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("agentSessionRepo.ListByAgentTask: rows: %w", err)
	}
	return out, nil
}

func (r *AgentSessionRepo) UpdateStatus(ctx context.Context, id string, status domain.AgentSessionStatus, errMsg string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE agent_sessions SET status = $1, error = $2,
		        completed_at = CASE WHEN $1 IN ('completed', 'failed', 'cancelled') THEN now() ELSE completed_at END
		 WHERE id = $3`,
		status, errMsg, id,
	)
	if err != nil {
		return fmt.Errorf("agentSessionRepo.UpdateStatus: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("agentSessionRepo.UpdateStatus: %w", domain.NewNotFound("agent_session", id))
	}
	return nil
}

func (r *AgentSessionRepo) SetContainerID(ctx context.Context, id, containerID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE agent_sessions SET container_id = $1 WHERE id = $2`,
		containerID, id,
	)
	if err != nil {
		return fmt.Errorf("agentSessionRepo.SetContainerID: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("agentSessionRepo.SetContainerID: %w", domain.NewNotFound("agent_session", id))
	}
	return nil
}
