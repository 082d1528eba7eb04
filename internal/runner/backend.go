// Package runner implements the Agent Runner port (C3): one-shot execution
// of a coding-agent CLI in a working directory, streaming structured events
// back to the caller. It is deliberately agnostic to *where* the command
// actually runs (host process or sandbox container) via the CommandRunner
// seam, and to *which* agent kind is invoked via a per-kind command builder
// table, matching the specification's "tagged variant with per-variant
// command builder" guidance.
package runner

import (
	"context"
	"time"

	"github.com/delinoio/delidev/internal/domain"
)

type SessionID = string

type MessageType string

const (
	MessageOutput     MessageType = "output"
	MessageToolCall   MessageType = "tool_call"
	MessageToolResult MessageType = "tool_result"
	MessageError      MessageType = "error"
	MessageResult     MessageType = "result"
)

// ToolCall is the normalised shape of a tool invocation an agent emits,
// regardless of which backend produced it.
type ToolCall struct {
	ID    string
	Name  string
	Input map[string]any
}

// Message is the Agent Runner's normalised event shape. Raw non-JSON lines
// are surfaced as MessageOutput with Raw set; the core persists those as
// ExecutionLog entries rather than StreamMessage rows.
type Message struct {
	SessionID SessionID
	Type      MessageType
	Content   string
	ToolCall  *ToolCall
	Raw       bool
	Timestamp time.Time

	// Usage is populated only on the final "result" message, when the
	// backend's transport exposes token/cost accounting.
	Usage *Usage
}

type Usage struct {
	InputTokens  int64
	OutputTokens int64
	Cost         *float64
	Model        string
}

type ExitStatus struct {
	Code       int
	StderrTail string
}

type MessageHandler func(Message)

// SessionOptions configures one agent invocation.
type SessionOptions struct {
	SessionID   SessionID
	WorkingDir  string
	Prompt      string
	Environment map[string]string
	AgentType   domain.AgentKind
	Model       string
}

// Backend drives one coding-agent CLI to completion for a single session.
type Backend interface {
	// StartSession launches the agent and returns immediately; messages and
	// the terminal ExitStatus are delivered via the handler registered with
	// OnMessage and the channel returned here respectively.
	StartSession(ctx context.Context, opts SessionOptions) (<-chan ExitStatus, error)
	SendPrompt(ctx context.Context, sessionID SessionID, prompt string) error
	Cancel(ctx context.Context, sessionID SessionID) error
	OnMessage(handler MessageHandler)
	Dispose(ctx context.Context) error
}

// CommandRunner abstracts "how the agent CLI actually runs" away from the
// backend: a local os/exec process in direct mode, or an exec attached to an
// already-running sandbox container in container mode.
type CommandRunner interface {
	Start(ctx context.Context, argv []string, workingDir string, env map[string]string) (Process, error)
}

// Process is a single running command's I/O and lifecycle handle.
type Process interface {
	// StdoutLine blocks until the next line of combined stdout+stderr is
	// available, returning io.EOF-equivalent via ok=false when the process
	// has finished producing output.
	StdoutLine() (line string, ok bool)
	Wait() (exitCode int, stderrTail string, err error)
	Kill() error
}
