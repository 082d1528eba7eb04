package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/delinoio/delidev/internal/domain"
)

type RepositoryRepo struct {
	pool *pgxpool.Pool
}

func NewRepositoryRepo(pool *pgxpool.Pool) *RepositoryRepo { return &RepositoryRepo{pool: pool} }

func (r *RepositoryRepo) Create(ctx context.Context, rp *domain.Repository) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO repositories (id, name, local_path, remote_url, default_branch, provider, auto_learning, auto_approve, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rp.ID, rp.Name, rp.LocalPath, rp.RemoteURL, rp.DefaultBranch, rp.Provider,
		rp.AutoLearning, rp.AutoApprove, rp.CreatedAt, rp.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("repositoryRepo.Create: %w", err)
	}
	return nil
}

func (r *RepositoryRepo) GetByID(ctx context.Context, id string) (*domain.Repository, error) {
	var rp domain.Repository
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, local_path, remote_url, default_branch, provider, auto_learning, auto_approve, created_at, updated_at
		 FROM repositories WHERE id = $1`,
		id,
	).Scan(
		&rp.ID, &rp.Name, &rp.LocalPath, &rp.RemoteURL, &rp.DefaultBranch, &rp.Provider,
		&rp.AutoLearning, &rp.AutoApprove, &rp.CreatedAt, &rp.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("repositoryRepo.GetByID: %w", domain.NewNotFound("repository", id))
	}
	if err != nil {
		return nil, fmt.Errorf("repositoryRepo.GetByID: %w", err)
	}
	return &rp, nil
}

func (r *RepositoryRepo) List(ctx context.Context) ([]*domain.Repository, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, local_path, remote_url, default_branch, provider, auto_learning, auto_approve, created_at, updated_at
		 FROM repositories ORDER BY created_at LIMIT 1000`,
	)
	if err != nil {
		return nil, fmt.Errorf("repositoryRepo.List: %w", err)
	}
	defer rows.Close()

	var out []*domain.Repository
	for rows.Next() {
		var rp domain.Repository
		if err := rows.Scan(
			&rp.ID, &rp.Name, &rp.LocalPath, &rp.RemoteURL, &rp.DefaultBranch, &rp.Provider,
			&rp.AutoLearning, &rp.AutoApprove, &rp.CreatedAt, &rp.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("repositoryRepo.List: scan: %w", err)
		}
		out = append(out, &rp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repositoryRepo.List: rows: %w", err)
	}
	return out, nil
}

func (r *RepositoryRepo) Update(ctx context.Context, rp *domain.Repository) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE repositories SET name = $1, local_path = $2, remote_url = $3, default_branch = $4,
		        provider = $5, auto_learning = $6, auto_approve = $7, updated_at = now()
		 WHERE id = $8`,
		rp.Name, rp.LocalPath, rp.RemoteURL, rp.DefaultBranch, rp.Provider,
		rp.AutoLearning, rp.AutoApprove, rp.ID,
	)
	if err != nil {
		return fmt.Errorf("repositoryRepo.Update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repositoryRepo.Update: %w", domain.NewNotFound("repository", rp.ID))
	}
	return nil
}

func (r *RepositoryRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM repositories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("repositoryRepo.Delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repositoryRepo.Delete: %w", domain.NewNotFound("repository", id))
	}
	return nil
}

type RepositoryGroupRepo struct {
	pool *pgxpool.Pool
}

func NewRepositoryGroupRepo(pool *pgxpool.Pool) *RepositoryGroupRepo {
	return &RepositoryGroupRepo{pool: pool}
}

func (r *RepositoryGroupRepo) Create(ctx context.Context, g *domain.RepositoryGroup) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO repository_groups (id, workspace_id, repository_ids, created_at)
		 VALUES ($1, $2, $3, $4)`,
		g.ID, g.WorkspaceID, g.RepositoryIDs, g.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("repositoryGroupRepo.Create: %w", err)
	}
	return nil
}

func (r *RepositoryGroupRepo) GetByID(ctx context.Context, id string) (*domain.RepositoryGroup, error) {
	var g domain.RepositoryGroup
	err := r.pool.QueryRow(ctx,
		`SELECT id, workspace_id, repository_ids, created_at FROM repository_groups WHERE id = $1`,
		id,
	).Scan(&g.ID, &g.WorkspaceID, &g.RepositoryIDs, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("repositoryGroupRepo.GetByID: %w", domain.NewNotFound("repository_group", id))
	}
	if err != nil {
		return nil, fmt.Errorf("repositoryGroupRepo.GetByID: %w", err)
	}
	return &g, nil
}

func (r *RepositoryGroupRepo) List(ctx context.Context, workspaceID string) ([]*domain.RepositoryGroup, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, workspace_id, repository_ids, created_at FROM repository_groups
		 WHERE workspace_id = $1 ORDER BY created_at LIMIT 1000`,
		workspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("repositoryGroupRepo.List: %w", err)
	}
	defer rows.Close()

	var out []*domain.RepositoryGroup
	for rows.Next() {
		var g domain.RepositoryGroup
		if err := rows.Scan(&g.ID, &g.WorkspaceID, &g.RepositoryIDs, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("repositoryGroupRepo.List: scan: %w", err)
		}
		out = append(out, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repositoryGroupRepo.List: rows: %w", err)
	}
	return out, nil
}

func (r *RepositoryGroupRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM repository_groups WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("repositoryGroupRepo.Delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repositoryGroupRepo.Delete: %w", domain.NewNotFound("repository_group", id))
	}
	return nil
}
