// Package events implements the Event Emitter port (C9): best-effort
// fan-out of typed execution/status events to out-of-core subscribers.
package events

import (
	"context"
	"time"
)

// Kind tags the four event shapes the core ever emits.
type Kind string

const (
	KindTaskStatusChanged Kind = "task_status_changed"
	KindExecutionProgress Kind = "execution_progress"
	KindExecutionLog      Kind = "execution_log"
	KindAgentStream       Kind = "agent_stream"
)

// ExecutionPhase names the step of the Unit Executor's algorithm an
// ExecutionProgress event reports, exactly as named in the specification.
type ExecutionPhase string

const (
	PhaseStarting  ExecutionPhase = "starting"
	PhaseWorktree  ExecutionPhase = "worktree"
	PhaseContainer ExecutionPhase = "container"
	PhaseSetup     ExecutionPhase = "setup"
	PhaseExecuting ExecutionPhase = "executing"
	PhaseCleanup   ExecutionPhase = "cleanup"
	PhaseCompleted ExecutionPhase = "completed"
	PhaseFailed    ExecutionPhase = "failed"
)

// Event is the single envelope every emitted event takes, JSON-encoded for
// transport over Redis pub/sub and the websocket hub alike.
type Event struct {
	Kind      Kind      `json:"kind"`
	TaskID    string    `json:"task_id"`
	SessionID string    `json:"session_id,omitempty"`
	OldStatus string    `json:"old_status,omitempty"`
	NewStatus string    `json:"new_status,omitempty"`
	Phase     ExecutionPhase `json:"phase,omitempty"`
	Message   string    `json:"message,omitempty"`
	Log       string    `json:"log,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Emitter is the narrow port the core depends on; failures to deliver an
// event are the implementation's problem, never the caller's.
type Emitter interface {
	Emit(ctx context.Context, evt Event)
}

func TaskStatusChanged(taskID, oldStatus, newStatus string) Event {
	return Event{Kind: KindTaskStatusChanged, TaskID: taskID, OldStatus: oldStatus, NewStatus: newStatus, Timestamp: time.Now()}
}

func ExecutionProgressEvent(taskID, sessionID string, phase ExecutionPhase, message string) Event {
	return Event{Kind: KindExecutionProgress, TaskID: taskID, SessionID: sessionID, Phase: phase, Message: message, Timestamp: time.Now()}
}

func ExecutionLogEvent(taskID, sessionID, line string) Event {
	return Event{Kind: KindExecutionLog, TaskID: taskID, SessionID: sessionID, Log: line, Timestamp: time.Now()}
}

func AgentStreamEvent(taskID, sessionID, message string) Event {
	return Event{Kind: KindAgentStream, TaskID: taskID, SessionID: sessionID, Message: message, Timestamp: time.Now()}
}
