package domain

import (
	"context"
	"time"
)

// LogLevel tags an ExecutionLog line. The executor only ever writes Info and
// Error; the levels exist so the store and API can filter without parsing
// message text.
type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogError LogLevel = "error"
)

// ExecutionLog is a free-form text line emitted by the agent runner that did
// not parse as a structured message; opaque to the core beyond its level.
type ExecutionLog struct {
	ID        string
	SessionID string
	Level     LogLevel
	Line      string
	CreatedAt time.Time
}

// StreamMessageType mirrors the shapes the Agent Runner normalises every
// backend's structured output into.
type StreamMessageType string

const (
	MessageOutput     StreamMessageType = "output"
	MessageToolCall   StreamMessageType = "tool_call"
	MessageToolResult StreamMessageType = "tool_result"
	MessageError      StreamMessageType = "error"
	MessageResult     StreamMessageType = "result"
)

// StreamMessage is a structured AgentStream event, persisted verbatim and
// replayed to subscribers.
type StreamMessage struct {
	ID        string
	SessionID string
	Type      StreamMessageType
	Content   string // raw JSON or text payload
	CreatedAt time.Time
}

// SessionUsage is derived from the final agent "result" message of a
// session and persisted exactly once per session.
type SessionUsage struct {
	SessionID    string
	InputTokens  int64
	OutputTokens int64
	Cost         *float64
	Model        string
}

type ExecutionLogRepo interface {
	Append(ctx context.Context, e *ExecutionLog) error
	ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]*ExecutionLog, error)
}

type StreamMessageRepo interface {
	Append(ctx context.Context, m *StreamMessage) error
	ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]*StreamMessage, error)
}

type SessionUsageRepo interface {
	Create(ctx context.Context, u *SessionUsage) error
	GetBySession(ctx context.Context, sessionID string) (*SessionUsage, error)
}
