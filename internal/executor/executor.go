// Package executor implements the Unit Executor (C6): the single operation
// that drives one UnitTask through worktree setup, agent execution, diff
// classification, and cleanup.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/delinoio/delidev/internal/diffclassifier"
	"github.com/delinoio/delidev/internal/domain"
	"github.com/delinoio/delidev/internal/events"
	"github.com/delinoio/delidev/internal/gate"
	"github.com/delinoio/delidev/internal/resources"
	"github.com/delinoio/delidev/internal/runner"
	"github.com/delinoio/delidev/internal/vcs"
)

const defaultAgentTimeout = 600 * time.Second

// Cascader is implemented by the Scheduler; the executor calls back into it
// once a unit task reaches Done so cascades and composite rollup can run
// without the executor importing the scheduler package.
type Cascader interface {
	OnUnitTaskDone(ctx context.Context, unitTaskID string)
}

type Executor struct {
	store        domain.Store
	worktrees    *resources.WorktreeManager
	containers   *resources.ContainerManager
	registry     *runner.Registry
	emitter      events.Emitter
	vcsProvider  vcs.Provider
	cascader     Cascader
	gate         *gate.Gate
	baseTmp      string
	agentTimeout time.Duration
}

type Config struct {
	Store        domain.Store
	Worktrees    *resources.WorktreeManager
	Containers   *resources.ContainerManager
	Registry     *runner.Registry
	Emitter      events.Emitter
	VcsProvider  vcs.Provider
	Cascader     Cascader
	Gate         *gate.Gate
	BaseTmp      string
	AgentTimeout time.Duration
}

func New(cfg Config) *Executor {
	timeout := cfg.AgentTimeout
	if timeout <= 0 {
		timeout = defaultAgentTimeout
	}
	vcsProvider := cfg.VcsProvider
	if vcsProvider == nil {
		vcsProvider = vcs.StubProvider{}
	}
	return &Executor{
		store:        cfg.Store,
		worktrees:    cfg.Worktrees,
		containers:   cfg.Containers,
		registry:     cfg.Registry,
		emitter:      cfg.Emitter,
		vcsProvider:  vcsProvider,
		cascader:     cfg.Cascader,
		gate:         cfg.Gate,
		baseTmp:      cfg.BaseTmp,
		agentTimeout: timeout,
	}
}

// SetCascader completes the executor/scheduler wiring after both have been
// constructed: the scheduler needs a live Executor to build, so the
// cascade callback can only be attached once the scheduler exists.
func (e *Executor) SetCascader(c Cascader) {
	e.cascader = c
}

func (e *Executor) progress(ctx context.Context, taskID, sessionID string, phase events.ExecutionPhase, message string) {
	e.emitter.Emit(ctx, events.ExecutionProgressEvent(taskID, sessionID, phase, message))
}

// primaryRepo resolves the repository group and primary repository a unit
// task runs against.
func (e *Executor) primaryRepo(ctx context.Context, task *domain.UnitTask) (*domain.Repository, error) {
	repoGroup, err := e.store.RepositoryGroups().GetByID(ctx, task.RepositoryGroupID)
	if err != nil {
		return nil, fmt.Errorf("get repository group: %w", err)
	}
	primaryID, err := repoGroup.PrimaryRepositoryID()
	if err != nil {
		return nil, err
	}
	repo, err := e.store.Repositories().GetByID(ctx, primaryID)
	if err != nil {
		return nil, fmt.Errorf("get repository: %w", err)
	}
	return repo, nil
}

// Execute runs the full seven-step algorithm for one unit task. The
// Concurrency Gate guard is acquired by the caller (the Scheduler) and
// passed in so its release on return frees the slot exactly once, at the
// end of this one execution attempt.
func (e *Executor) Execute(ctx context.Context, guard *gate.Guard, unitTaskID string) error {
	defer guard.Release()

	task, err := e.store.UnitTasks().GetByID(ctx, unitTaskID)
	if err != nil {
		return fmt.Errorf("executor.Execute: get unit task: %w", err)
	}

	repo, err := e.primaryRepo(ctx, task)
	if err != nil {
		return fmt.Errorf("executor.Execute: %w", err)
	}

	agentTask, err := e.store.AgentTasks().GetByID(ctx, task.AgentTaskID)
	if err != nil {
		return fmt.Errorf("executor.Execute: get agent task: %w", err)
	}

	// Step 1: Starting.
	session := &domain.AgentSession{
		ID:          uuid.NewString(),
		AgentTaskID: agentTask.ID,
		AgentType:   agentTask.AgentType,
		AgentModel:  agentTask.AgentModel,
		Status:      domain.SessionRunning,
		StartedAt:   time.Now(),
	}
	e.progress(ctx, task.ID, session.ID, events.PhaseStarting, "resolving repository and opening session")
	if err := e.store.AgentSessions().Create(ctx, session); err != nil {
		return fmt.Errorf("executor.Execute: create session: %w", err)
	}
	if err := e.store.UnitTasks().SetLastExecutionFailed(ctx, task.ID, false); err != nil {
		return fmt.Errorf("executor.Execute: clear last_execution_failed: %w", err)
	}

	// Step 2: Worktree.
	branchName := task.BranchName
	if branchName == "" {
		branchName = "delidev/" + task.ID
	}
	if err := domain.ValidateBranchName(branchName); err != nil {
		e.failSession(ctx, session.ID, task.ID, "invalid branch name: "+err.Error())
		return fmt.Errorf("executor.Execute: %w", err)
	}

	worktreePath, err := resources.WorktreePath(e.baseTmp, task.ID)
	if err != nil {
		e.failSession(ctx, session.ID, task.ID, "invalid task id: "+err.Error())
		return fmt.Errorf("executor.Execute: %w", err)
	}

	e.progress(ctx, task.ID, session.ID, events.PhaseWorktree, "preparing git worktree")
	info, err := e.worktrees.PrepareWorktree(ctx, repo.LocalPath, worktreePath, branchName, repo.DefaultBranch)
	if err != nil {
		e.failSession(ctx, session.ID, task.ID, "worktree setup failed: "+err.Error())
		return fmt.Errorf("executor.Execute: prepare worktree: %w", err)
	}
	if err := e.store.UnitTasks().SetBranchName(ctx, task.ID, branchName); err != nil {
		return fmt.Errorf("executor.Execute: persist branch name: %w", err)
	}
	if task.BaseCommit == "" {
		if err := e.store.UnitTasks().SetBaseCommit(ctx, task.ID, info.BaseCommit); err != nil {
			return fmt.Errorf("executor.Execute: persist base commit: %w", err)
		}
		task.BaseCommit = info.BaseCommit
	}

	// Step 3: Setup / container.
	var cmdRunner runner.CommandRunner
	var containerName string
	containerMode := e.containers != nil
	if containerMode {
		containerName, err = resources.ContainerName(task.ID)
		if err != nil {
			e.failSession(ctx, session.ID, task.ID, "invalid task id: "+err.Error())
			return fmt.Errorf("executor.Execute: %w", err)
		}

		e.progress(ctx, task.ID, session.ID, events.PhaseContainer, "building or reusing sandbox image")
		image, err := e.containers.BuildOrReuseImage(ctx, repo.LocalPath, task.ID)
		if err != nil {
			e.failSession(ctx, session.ID, task.ID, "image build failed: "+err.Error())
			return fmt.Errorf("executor.Execute: build image: %w", err)
		}

		e.progress(ctx, task.ID, session.ID, events.PhaseSetup, "starting sandbox container")
		e.containers.CleanupTask(ctx, containerName) // tolerate leftovers from a prior attempt

		containerID, err := e.containers.CreateContainer(ctx, resources.ContainerOptions{
			Name:       containerName,
			Image:      image,
			WorkingDir: "/workspace",
			HostPath:   worktreePath,
		})
		if err != nil {
			e.failSession(ctx, session.ID, task.ID, "container create failed: "+err.Error())
			return fmt.Errorf("executor.Execute: create container: %w", err)
		}
		if err := e.containers.StartContainer(ctx, containerID); err != nil {
			e.failSession(ctx, session.ID, task.ID, "container start failed: "+err.Error())
			return fmt.Errorf("executor.Execute: start container: %w", err)
		}
		if err := e.store.AgentSessions().SetContainerID(ctx, session.ID, containerID); err != nil {
			return fmt.Errorf("executor.Execute: persist container id: %w", err)
		}
		cmdRunner = resources.NewContainerCommandRunner(e.containers, containerID)
	} else {
		cmdRunner = runner.NewLocalCommandRunner()
	}

	backend, err := e.registry.Create(agentTask.AgentType, cmdRunner)
	if err != nil {
		e.failSession(ctx, session.ID, task.ID, "unknown agent backend: "+err.Error())
		return fmt.Errorf("executor.Execute: create backend: %w", err)
	}

	// Step 4: Executing.
	e.progress(ctx, task.ID, session.ID, events.PhaseExecuting, "running agent")
	prompt := buildUnitTaskPrompt(task, repo)

	var usage *runner.Usage
	backend.OnMessage(func(msg runner.Message) {
		e.handleMessage(ctx, task.ID, session.ID, msg)
		if msg.Usage != nil {
			usage = msg.Usage
		}
	})

	execCtx, cancel := context.WithTimeout(ctx, e.agentTimeout)
	defer cancel()

	exitCh, err := backend.StartSession(execCtx, runner.SessionOptions{
		SessionID:  session.ID,
		WorkingDir: worktreePath,
		Prompt:     prompt,
		AgentType:  agentTask.AgentType,
		Model:      agentTask.AgentModel,
	})
	if err != nil {
		e.failSession(ctx, session.ID, task.ID, "agent start failed: "+err.Error())
		e.cleanupAttempt(ctx, task, repo, containerName, false)
		return fmt.Errorf("executor.Execute: start session: %w", domain.NewBackend(err))
	}

	var exit runner.ExitStatus
	select {
	case exit = <-exitCh:
	case <-execCtx.Done():
		_ = backend.Cancel(ctx, session.ID)
		e.failSession(ctx, session.ID, task.ID, "agent execution timed out")
		if err := e.store.UnitTasks().SetLastExecutionFailed(ctx, task.ID, true); err != nil {
			log.Error().Err(err).Str("task_id", task.ID).Msg("executor.Execute: failed to mark last_execution_failed")
		}
		e.cleanupAttempt(ctx, task, repo, containerName, false)
		return domain.NewTimeout(int(e.agentTimeout.Seconds()))
	}

	if usage != nil {
		if err := e.store.SessionUsages().Create(ctx, &domain.SessionUsage{
			SessionID:    session.ID,
			InputTokens:  usage.InputTokens,
			OutputTokens: usage.OutputTokens,
			Cost:         usage.Cost,
			Model:        usage.Model,
		}); err != nil {
			log.Error().Err(err).Str("session_id", session.ID).Msg("executor.Execute: failed to persist session usage")
		}
	}

	if exit.Code != 0 {
		e.failSession(ctx, session.ID, task.ID, exit.StderrTail)
		if err := e.store.UnitTasks().SetLastExecutionFailed(ctx, task.ID, true); err != nil {
			log.Error().Err(err).Str("task_id", task.ID).Msg("executor.Execute: failed to mark last_execution_failed")
		}
		e.cleanupAttempt(ctx, task, repo, containerName, false)
		code := exit.Code
		return domain.NewAgentFailed(&code, exit.StderrTail)
	}

	// Step 5: Classification.
	endCommit, err := e.worktrees.RevParseHead(ctx, worktreePath)
	if err != nil {
		log.Error().Err(err).Str("task_id", task.ID).Msg("executor.Execute: failed to resolve end commit")
	} else if err := e.store.UnitTasks().SetEndCommit(ctx, task.ID, endCommit); err != nil {
		log.Error().Err(err).Str("task_id", task.ID).Msg("executor.Execute: failed to persist end commit")
	}

	result, err := diffclassifier.Classify(ctx, repo.LocalPath, worktreePath, task.BaseCommit, endCommit, repo.DefaultBranch)
	if err != nil {
		e.failSession(ctx, session.ID, task.ID, "diff classification failed: "+err.Error())
		e.cleanupAttempt(ctx, task, repo, containerName, false)
		return fmt.Errorf("executor.Execute: classify: %w", err)
	}

	if err := e.store.AgentSessions().UpdateStatus(ctx, session.ID, domain.SessionCompleted, ""); err != nil {
		log.Error().Err(err).Str("session_id", session.ID).Msg("executor.Execute: failed to mark session completed")
	}

	if result == diffclassifier.HasChanges {
		if err := e.transition(ctx, task.ID, domain.UnitInProgress, domain.UnitInReview); err != nil {
			return fmt.Errorf("executor.Execute: transition to in_review: %w", err)
		}
		e.progress(ctx, task.ID, session.ID, events.PhaseCompleted, "changes produced, awaiting review")
		if containerMode {
			e.containers.CleanupTask(ctx, containerName)
		}
		return nil
	}

	if err := e.transition(ctx, task.ID, domain.UnitInProgress, domain.UnitDone); err != nil {
		return fmt.Errorf("executor.Execute: transition to done: %w", err)
	}
	e.progress(ctx, task.ID, session.ID, events.PhaseCompleted, "no changes produced, task complete")
	e.cleanupAttempt(ctx, task, repo, containerName, true)

	if e.cascader != nil {
		e.cascader.OnUnitTaskDone(ctx, task.ID)
	}

	return nil
}

// RequestChanges appends review feedback to a task's prompt and returns the
// task to InProgress; it does not start a new execution attempt itself.
// Only valid from InReview.
func (e *Executor) RequestChanges(ctx context.Context, unitTaskID, feedback string) error {
	task, err := e.store.UnitTasks().GetByID(ctx, unitTaskID)
	if err != nil {
		return fmt.Errorf("executor.RequestChanges: %w", err)
	}
	if task.Status != domain.UnitInReview {
		return domain.NewPrecondition(fmt.Sprintf("unit task %s is not in review", unitTaskID))
	}

	newPrompt := task.Prompt + "\n\n" + feedbackMarker + ":\n" + feedback
	if err := e.store.UnitTasks().SetPrompt(ctx, unitTaskID, newPrompt); err != nil {
		return fmt.Errorf("executor.RequestChanges: set prompt: %w", err)
	}
	if err := e.transition(ctx, unitTaskID, domain.UnitInReview, domain.UnitInProgress); err != nil {
		return fmt.Errorf("executor.RequestChanges: %w", err)
	}
	return nil
}

// CreatePullRequest drives PR creation for a reviewed task: tries the
// configured VcsProvider first, falls back to scanning the agent's own
// output for a URL it already produced via an authenticated CLI.
func (e *Executor) CreatePullRequest(ctx context.Context, unitTaskID string, agentOutput string) error {
	task, err := e.store.UnitTasks().GetByID(ctx, unitTaskID)
	if err != nil {
		return fmt.Errorf("executor.CreatePullRequest: %w", err)
	}
	if task.Status != domain.UnitInReview && task.Status != domain.UnitApproved {
		return domain.NewPrecondition(fmt.Sprintf("unit task %s is not ready for PR creation", unitTaskID))
	}

	repo, err := e.primaryRepo(ctx, task)
	if err != nil {
		return fmt.Errorf("executor.CreatePullRequest: %w", err)
	}

	url, err := e.vcsProvider.CreatePullRequest(ctx, repo.RemoteURL, task.BranchName, repo.DefaultBranch, task.Title, task.Prompt)
	if err != nil {
		var found bool
		url, found = vcs.ExtractPRURL(agentOutput)
		if !found {
			return fmt.Errorf("executor.CreatePullRequest: no PR provider configured and no PR URL in agent output: %w", err)
		}
	}

	if err := e.store.UnitTasks().SetPRURL(ctx, unitTaskID, url); err != nil {
		return fmt.Errorf("executor.CreatePullRequest: set pr url: %w", err)
	}
	fromStatus := task.Status
	if err := e.transition(ctx, unitTaskID, fromStatus, domain.UnitPrOpen); err != nil {
		return fmt.Errorf("executor.CreatePullRequest: %w", err)
	}

	if worktreePath, perr := resources.WorktreePath(e.baseTmp, unitTaskID); perr == nil {
		e.worktrees.RemoveWorktree(ctx, repo.LocalPath, worktreePath, false, task.BranchName)
	}

	return nil
}

// Stop removes a unit task from the pending dispatch queue if it is waiting
// there, and best-effort removes its container only when that container
// exists and is not running; a running container is left alone and the
// worktree is not removed. It never changes the task's status: a running
// agent keeps running to completion, matching the command surface's
// "cleanup without status change" semantics rather than a forceful cancel.
func (e *Executor) Stop(ctx context.Context, unitTaskID string) error {
	task, err := e.store.UnitTasks().GetByID(ctx, unitTaskID)
	if err != nil {
		return fmt.Errorf("executor.Stop: %w", err)
	}

	if e.gate != nil {
		e.gate.Remove(unitTaskID)
	}

	if containerName, cerr := resources.ContainerName(unitTaskID); cerr == nil && e.containers != nil {
		running, rerr := e.containers.IsRunning(ctx, containerName)
		if rerr == nil && !running {
			e.containers.CleanupTask(ctx, containerName)
		}
	}

	log.Info().Str("unit_task_id", task.ID).Msg("executor.Stop: cleanup requested")
	return nil
}

func (e *Executor) transition(ctx context.Context, taskID string, from, to domain.UnitTaskStatus) error {
	if !from.ValidTransition(to) {
		return domain.NewPrecondition(fmt.Sprintf("invalid transition %s -> %s", from, to))
	}
	if err := e.store.UnitTasks().SetStatus(ctx, taskID, from, to); err != nil {
		return err
	}
	e.emitter.Emit(ctx, events.TaskStatusChanged(taskID, string(from), string(to)))
	return nil
}

func (e *Executor) failSession(ctx context.Context, sessionID, taskID, reason string) {
	if err := e.store.AgentSessions().UpdateStatus(ctx, sessionID, domain.SessionFailed, reason); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("executor.failSession: failed to mark session failed")
	}
	e.progress(ctx, taskID, sessionID, events.PhaseFailed, reason)
}

// cleanupAttempt tears down the container (if any) for a finished attempt
// and, when removeWorktree is true, the worktree as well. Best-effort: all
// failures are logged by the underlying resource managers, never returned.
func (e *Executor) cleanupAttempt(ctx context.Context, task *domain.UnitTask, repo *domain.Repository, containerName string, removeWorktree bool) {
	if e.containers != nil && containerName != "" {
		e.containers.CleanupTask(ctx, containerName)
	}
	if removeWorktree {
		worktreePath, err := resources.WorktreePath(e.baseTmp, task.ID)
		if err != nil {
			return
		}
		e.worktrees.RemoveWorktree(ctx, repo.LocalPath, worktreePath, false, task.BranchName)
	}
}

func (e *Executor) handleMessage(ctx context.Context, taskID, sessionID string, msg runner.Message) {
	if msg.Raw {
		level := domain.LogInfo
		if msg.Type == runner.MessageError {
			level = domain.LogError
		}
		if err := e.store.ExecutionLogs().Append(ctx, &domain.ExecutionLog{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Level:     level,
			Line:      msg.Content,
			CreatedAt: time.Now(),
		}); err != nil {
			log.Error().Err(err).Str("session_id", sessionID).Msg("executor.handleMessage: failed to append execution log")
		}
		return
	}

	if err := e.store.StreamMessages().Append(ctx, &domain.StreamMessage{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Type:      domain.StreamMessageType(msg.Type),
		Content:   msg.Content,
		CreatedAt: time.Now(),
	}); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("executor.handleMessage: failed to append stream message")
	}
	e.emitter.Emit(ctx, events.AgentStreamEvent(taskID, sessionID, msg.Content))
}

const feedbackMarker = "Feedback from review"

func buildUnitTaskPrompt(task *domain.UnitTask, repo *domain.Repository) string {
	var sb strings.Builder
	sb.WriteString("## Task: ")
	sb.WriteString(task.Title)
	sb.WriteString("\n\n")
	sb.WriteString(task.Prompt)
	sb.WriteString("\n\nImplement the request above, follow this repository's existing conventions, and commit all changes before finishing.\n")

	if strings.Contains(task.Prompt, feedbackMarker) && repo.AutoLearning {
		sb.WriteString("\nThis request includes feedback from a prior review. If the feedback reveals a generalisable lesson, consider recording it in this repository's AGENTS.md or CLAUDE.md guidelines.\n")
	}

	return sb.String()
}
