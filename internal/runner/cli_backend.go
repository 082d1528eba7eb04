package runner

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// CLIBackend drives a single long-lived agent CLI invocation through a
// CommandRunner, parsing each output line with the AgentKind's ParseLine
// function and dispatching to the registered MessageHandler. One CLIBackend
// instance serves exactly one session at a time, matching the one-session-
// per-container lifetime the Resource Manager assumes.
type CLIBackend struct {
	kind CommandSpec
	cr   CommandRunner

	mu      sync.Mutex
	handler MessageHandler
	proc    Process
}

// NewCLIBackendFactory returns a BackendFactory bound to one AgentKind's
// CommandSpec, suitable for registering with Registry.
func NewCLIBackendFactory(spec CommandSpec) BackendFactory {
	return func(cr CommandRunner) (Backend, error) {
		return &CLIBackend{kind: spec, cr: cr}, nil
	}
}

// RegisterDefaults registers a CLIBackend factory for every AgentKind in
// DefaultCommandSpecs.
func RegisterDefaults(reg *Registry) {
	for kind, spec := range DefaultCommandSpecs() {
		reg.Register(kind, NewCLIBackendFactory(spec))
	}
}

func (b *CLIBackend) OnMessage(handler MessageHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = handler
}

func (b *CLIBackend) StartSession(ctx context.Context, opts SessionOptions) (<-chan ExitStatus, error) {
	argv := append([]string{b.kind.Bin}, b.kind.BuildArgs(opts.Prompt, opts.Model)...)

	proc, err := b.cr.Start(ctx, argv, opts.WorkingDir, opts.Environment)
	if err != nil {
		return nil, fmt.Errorf("runner: start %s: %w", opts.AgentType, err)
	}

	b.mu.Lock()
	b.proc = proc
	handler := b.handler
	b.mu.Unlock()

	out := make(chan ExitStatus, 1)
	go func() {
		for {
			line, ok := proc.StdoutLine()
			if !ok {
				break
			}
			msg := b.kind.ParseLine(line)
			msg.SessionID = opts.SessionID
			if handler != nil {
				handler(msg)
			}
		}
		code, tail, err := proc.Wait()
		if err != nil {
			log.Error().Err(err).Str("session_id", opts.SessionID).Msg("agent process wait failed")
		}
		out <- ExitStatus{Code: code, StderrTail: tail}
		close(out)
	}()

	return out, nil
}

// SendPrompt is unsupported: every registered CLI is invoked once per
// session with its full prompt on the command line, there is no interactive
// follow-up channel. Resuming a session with a human-in-the-loop reply is a
// new StartSession call with an amended prompt.
func (b *CLIBackend) SendPrompt(ctx context.Context, sessionID SessionID, prompt string) error {
	return fmt.Errorf("runner: %w", errSendPromptUnsupported)
}

func (b *CLIBackend) Cancel(ctx context.Context, sessionID SessionID) error {
	b.mu.Lock()
	proc := b.proc
	b.mu.Unlock()
	if proc == nil {
		return nil
	}
	return proc.Kill()
}

func (b *CLIBackend) Dispose(ctx context.Context) error {
	return nil
}

var errSendPromptUnsupported = fmt.Errorf("backend does not support mid-session prompts")
