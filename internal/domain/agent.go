package domain

import (
	"context"
	"time"
)

// AgentKind is a tagged variant over the coding-agent CLIs the runner knows
// how to drive. Dispatch happens once, at command-build time; the Agent
// Runner never virtualises message parsing over this type.
type AgentKind string

const (
	AgentClaudeCode AgentKind = "claude_code"
	AgentOpenCode   AgentKind = "opencode"
	AgentGeminiCli  AgentKind = "gemini_cli"
	AgentCodexCli   AgentKind = "codex_cli"
	AgentAider      AgentKind = "aider"
	AgentAmp        AgentKind = "amp"
)

// AgentTask represents one invocation of a specific agent against a set of
// base remotes. A single AgentTask may be retried, producing a new
// AgentSession each time.
type AgentTask struct {
	ID          string
	AgentType   AgentKind
	AgentModel  string
	BaseRemotes []string
	CreatedAt   time.Time
}

// AgentSessionStatus tracks one execution attempt of an AgentTask.
type AgentSessionStatus string

const (
	SessionRunning   AgentSessionStatus = "running"
	SessionCompleted AgentSessionStatus = "completed"
	SessionFailed    AgentSessionStatus = "failed"
	SessionCancelled AgentSessionStatus = "cancelled"
)

// AgentSession is one append-only execution attempt of an AgentTask.
type AgentSession struct {
	ID          string
	AgentTaskID string
	AgentType   AgentKind
	AgentModel  string
	Status      AgentSessionStatus
	ContainerID string
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

type AgentTaskRepo interface {
	Create(ctx context.Context, t *AgentTask) error
	GetByID(ctx context.Context, id string) (*AgentTask, error)
	Delete(ctx context.Context, id string) error
}

type AgentSessionRepo interface {
	Create(ctx context.Context, s *AgentSession) error
	GetByID(ctx context.Context, id string) (*AgentSession, error)
	ListByAgentTask(ctx context.Context, agentTaskID string) ([]*AgentSession, error)
	UpdateStatus(ctx context.Context, id string, status AgentSessionStatus, errMsg string) error
	SetContainerID(ctx context.Context, id, containerID string) error
}
