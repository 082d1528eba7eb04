package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/delinoio/delidev/internal/domain"
)

type ExecutionLogRepo struct {
	pool *pgxpool.Pool
}

func NewExecutionLogRepo(pool *pgxpool.Pool) *ExecutionLogRepo { return &ExecutionLogRepo{pool: pool} }

func (r *ExecutionLogRepo) Append(ctx context.Context, e *domain.ExecutionLog) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO execution_logs (id, session_id, level, line, created_at) VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.SessionID, e.Level, e.Line, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("executionLogRepo.Append: %w", err)
	}
	return nil
}

func (r *ExecutionLogRepo) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]*domain.ExecutionLog, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, level, line, created_at FROM execution_logs
		 WHERE session_id = $1 ORDER BY created_at LIMIT $2 OFFSET $3`,
		sessionID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("executionLogRepo.ListBySession: %w", err)
	}
	defer rows.Close()

	var out []*domain.ExecutionLog
	for rows.Next() {
		var e domain.ExecutionLog
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Level, &e.Line, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("executionLogRepo.ListBySession: scan: %w", err)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("executionLogRepo.ListBySession: rows: %w", err)
	}
	return out, nil
}

type StreamMessageRepo struct {
	pool *pgxpool.Pool
}

func NewStreamMessageRepo(pool *pgxpool.Pool) *StreamMessageRepo { return &StreamMessageRepo{pool: pool} }

func (r *StreamMessageRepo) Append(ctx context.Context, m *domain.StreamMessage) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO stream_messages (id, session_id, type, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.SessionID, m.Type, m.Content, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("streamMessageRepo.Append: %w", err)
	}
	return nil
}

func (r *StreamMessageRepo) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]*domain.StreamMessage, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, type, content, created_at FROM stream_messages
		 WHERE session_id = $1 ORDER BY created_at LIMIT $2 OFFSET $3`,
		sessionID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("streamMessageRepo.ListBySession: %w", err)
	}
	defer rows.Close()

	var out []*domain.StreamMessage
	for rows.Next() {
		var m domain.StreamMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Type, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("streamMessageRepo.ListBySession: scan: %w", err)
		}
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("streamMessageRepo.ListBySession: rows: %w", err)
	}
	return out, nil
}

type SessionUsageRepo struct {
	pool *pgxpool.Pool
}

func NewSessionUsageRepo(pool *pgxpool.Pool) *SessionUsageRepo { return &SessionUsageRepo{pool: pool} }

func (r *SessionUsageRepo) Create(ctx context.Context, u *domain.SessionUsage) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO session_usages (session_id, input_tokens, output_tokens, cost, model) VALUES ($1, $2, $3, $4, $5)`,
		u.SessionID, u.InputTokens, u.OutputTokens, u.Cost, u.Model,
	)
	if err != nil {
		return fmt.Errorf("sessionUsageRepo.Create: %w", err)
	}
	return nil
}

func (r *SessionUsageRepo) GetBySession(ctx context.Context, sessionID string) (*domain.SessionUsage, error) {
	var u domain.SessionUsage
	err := r.pool.QueryRow(ctx,
		`SELECT session_id, input_tokens, output_tokens, cost, model FROM session_usages WHERE session_id = $1`,
		sessionID,
	).Scan(&u.SessionID, &u.InputTokens, &u.OutputTokens, &u.Cost, &u.Model)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("sessionUsageRepo.GetBySession: %w", domain.NewNotFound("session_usage", sessionID))
	}
	if err != nil {
		return nil, fmt.Errorf("sessionUsageRepo.GetBySession: %w", err)
	}
	return &u, nil
}
