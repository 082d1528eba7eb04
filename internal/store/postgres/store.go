// Package postgres implements the Store port (C1) against PostgreSQL via
// pgx/v5's connection pool, following the teacher's one-repo-struct-per-
// entity layout.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/delinoio/delidev/internal/domain"
)

type Store struct {
	pool *pgxpool.Pool

	repositories      *RepositoryRepo
	repositoryGroups  *RepositoryGroupRepo
	agentTasks        *AgentTaskRepo
	agentSessions     *AgentSessionRepo
	unitTasks         *UnitTaskRepo
	compositeTasks    *CompositeTaskRepo
	executionLogs     *ExecutionLogRepo
	streamMessages    *StreamMessageRepo
	sessionUsages     *SessionUsageRepo
}

func New(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: parse config: %w", err)
	}

	cfg.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.New: ping: %w", err)
	}

	return &Store{
		pool:             pool,
		repositories:     NewRepositoryRepo(pool),
		repositoryGroups: NewRepositoryGroupRepo(pool),
		agentTasks:       NewAgentTaskRepo(pool),
		agentSessions:    NewAgentSessionRepo(pool),
		unitTasks:        NewUnitTaskRepo(pool),
		compositeTasks:   NewCompositeTaskRepo(pool),
		executionLogs:    NewExecutionLogRepo(pool),
		streamMessages:   NewStreamMessageRepo(pool),
		sessionUsages:    NewSessionUsageRepo(pool),
	}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Repositories() domain.RepositoryRepo           { return s.repositories }
func (s *Store) RepositoryGroups() domain.RepositoryGroupRepo   { return s.repositoryGroups }
func (s *Store) AgentTasks() domain.AgentTaskRepo               { return s.agentTasks }
func (s *Store) AgentSessions() domain.AgentSessionRepo         { return s.agentSessions }
func (s *Store) UnitTasks() domain.UnitTaskRepo                 { return s.unitTasks }
func (s *Store) CompositeTasks() domain.CompositeTaskRepo       { return s.compositeTasks }
func (s *Store) ExecutionLogs() domain.ExecutionLogRepo         { return s.executionLogs }
func (s *Store) StreamMessages() domain.StreamMessageRepo       { return s.streamMessages }
func (s *Store) SessionUsages() domain.SessionUsageRepo         { return s.sessionUsages }

var _ domain.Store = (*Store)(nil)
