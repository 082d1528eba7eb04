package planner

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/delinoio/delidev/internal/domain"
	"github.com/delinoio/delidev/internal/events"
	"github.com/delinoio/delidev/internal/resources"
	"github.com/delinoio/delidev/internal/runner"
)

const defaultPlanningTimeout = 600 * time.Second

// Dispatcher is implemented by the Scheduler; the planner calls back into it
// after approve_plan creates a fresh set of unit tasks so initial dispatch
// can run without the planner importing the scheduler package.
type Dispatcher interface {
	OnCompositeApproved(ctx context.Context, compositeTaskID string)
}

type Planner struct {
	store      domain.Store
	worktrees  *resources.WorktreeManager
	registry   *runner.Registry
	emitter    events.Emitter
	dispatcher Dispatcher
	baseTmp    string
	timeout    time.Duration
}

type Config struct {
	Store      domain.Store
	Worktrees  *resources.WorktreeManager
	Registry   *runner.Registry
	Emitter    events.Emitter
	Dispatcher Dispatcher
	BaseTmp    string
	Timeout    time.Duration
}

func New(cfg Config) *Planner {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultPlanningTimeout
	}
	return &Planner{
		store:      cfg.Store,
		worktrees:  cfg.Worktrees,
		registry:   cfg.Registry,
		emitter:    cfg.Emitter,
		dispatcher: cfg.Dispatcher,
		baseTmp:    cfg.BaseTmp,
		timeout:    timeout,
	}
}

// SetDispatcher completes the planner/scheduler wiring after both have been
// constructed: the scheduler needs a live Executor (not a Planner) to
// build, but it still has to exist before the planner can be told about it.
func (p *Planner) SetDispatcher(d Dispatcher) {
	p.dispatcher = d
}

func (p *Planner) primaryRepo(ctx context.Context, repositoryGroupID string) (*domain.Repository, error) {
	group, err := p.store.RepositoryGroups().GetByID(ctx, repositoryGroupID)
	if err != nil {
		return nil, fmt.Errorf("get repository group: %w", err)
	}
	primaryID, err := group.PrimaryRepositoryID()
	if err != nil {
		return nil, err
	}
	repo, err := p.store.Repositories().GetByID(ctx, primaryID)
	if err != nil {
		return nil, fmt.Errorf("get repository: %w", err)
	}
	return repo, nil
}

func generatePlanFilename() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", domain.NewResourceSetup("failed to generate plan filename: " + err.Error())
	}
	return "PLAN-" + hex.EncodeToString(buf) + ".yaml", nil
}

func planningBranchName(compositeTaskID string) string {
	return "delidev/planning/" + compositeTaskID
}

// StartPlanning runs the full planning worktree/agent/copy-out/cleanup
// sequence for a composite task. Only valid from Planning. On success the
// composite task is left in PendingApproval (or, when auto-approval is
// configured, already moved on through approval to InProgress).
func (p *Planner) StartPlanning(ctx context.Context, compositeTaskID string) error {
	composite, err := p.store.CompositeTasks().GetByID(ctx, compositeTaskID)
	if err != nil {
		return fmt.Errorf("planner.StartPlanning: %w", err)
	}
	if composite.Status != domain.CompositePlanning {
		return domain.NewPrecondition(fmt.Sprintf("composite task %s is not in planning", compositeTaskID))
	}

	repo, err := p.primaryRepo(ctx, composite.RepositoryGroupID)
	if err != nil {
		return fmt.Errorf("planner.StartPlanning: %w", err)
	}

	planFilename, err := generatePlanFilename()
	if err != nil {
		return fmt.Errorf("planner.StartPlanning: %w", err)
	}
	if err := p.store.CompositeTasks().SetPlanPath(ctx, compositeTaskID, planFilename); err != nil {
		return fmt.Errorf("planner.StartPlanning: persist plan path: %w", err)
	}

	worktreePath, err := resources.PlanningWorktreePath(p.baseTmp, compositeTaskID)
	if err != nil {
		return fmt.Errorf("planner.StartPlanning: %w", err)
	}
	branchName := planningBranchName(compositeTaskID)

	p.emitter.Emit(ctx, events.ExecutionProgressEvent(compositeTaskID, "", events.PhaseWorktree, "preparing planning worktree"))
	if _, err := p.worktrees.PrepareWorktree(ctx, repo.LocalPath, worktreePath, branchName, repo.DefaultBranch); err != nil {
		return fmt.Errorf("planner.StartPlanning: prepare worktree: %w", err)
	}
	defer p.worktrees.RemoveWorktree(ctx, repo.LocalPath, worktreePath, true, branchName)

	agentTask, err := p.store.AgentTasks().GetByID(ctx, composite.PlanningTaskID)
	if err != nil {
		return fmt.Errorf("planner.StartPlanning: get planning agent task: %w", err)
	}

	prompt := generatePlanningPrompt(composite.Prompt, planFilename)
	if err := p.runPlanningAgent(ctx, compositeTaskID, agentTask, worktreePath, prompt); err != nil {
		return fmt.Errorf("planner.StartPlanning: %w", err)
	}

	worktreePlanPath := filepath.Join(worktreePath, planFilename)
	content, err := os.ReadFile(worktreePlanPath)
	if err != nil {
		return domain.NewResourceSetup("planning agent did not produce " + planFilename + ": " + err.Error())
	}

	plan, err := ParsePlan(string(content))
	if err != nil {
		return fmt.Errorf("planner.StartPlanning: %w", err)
	}
	if err := plan.Validate(); err != nil {
		return fmt.Errorf("planner.StartPlanning: invalid plan: %w", err)
	}

	// Copy the plan into the primary repo's working directory before the
	// worktree is torn down, so a human reviewer can inspect it even if the
	// database write below fails.
	repoPlanPath := filepath.Join(repo.LocalPath, planFilename)
	if err := os.WriteFile(repoPlanPath, content, 0o644); err != nil {
		log.Warn().Err(err).Str("composite_task_id", compositeTaskID).Msg("planner: failed to copy plan file into repo, continuing with in-memory content")
	}

	if err := p.persistAndDeletePlanFile(ctx, compositeTaskID, repo.LocalPath, planFilename, string(content)); err != nil {
		return fmt.Errorf("planner.StartPlanning: %w", err)
	}

	if err := p.transition(ctx, compositeTaskID, domain.CompositePlanning, domain.CompositePendingApproval); err != nil {
		return fmt.Errorf("planner.StartPlanning: %w", err)
	}

	if composite.AutoApprove {
		return p.ApprovePlan(ctx, compositeTaskID)
	}
	return nil
}

// runPlanningAgent drives the planning agent to completion against the
// worktree, reusing the local command runner: planning agents always run on
// the host, never sandboxed, since they only read the repository and write
// one YAML file.
func (p *Planner) runPlanningAgent(ctx context.Context, compositeTaskID string, agentTask *domain.AgentTask, worktreePath, prompt string) error {
	backend, err := p.registry.Create(agentTask.AgentType, runner.NewLocalCommandRunner())
	if err != nil {
		return fmt.Errorf("create planning agent backend: %w", err)
	}

	backend.OnMessage(func(msg runner.Message) {
		p.emitter.Emit(ctx, events.AgentStreamEvent(compositeTaskID, "", msg.Content))
	})

	sessionID := uuid.NewString()
	p.emitter.Emit(ctx, events.ExecutionProgressEvent(compositeTaskID, sessionID, events.PhaseExecuting, "running planning agent"))

	execCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	exitCh, err := backend.StartSession(execCtx, runner.SessionOptions{
		SessionID:  sessionID,
		WorkingDir: worktreePath,
		Prompt:     prompt,
		AgentType:  agentTask.AgentType,
		Model:      agentTask.AgentModel,
	})
	if err != nil {
		return domain.NewBackend(err)
	}

	select {
	case exit := <-exitCh:
		if exit.Code != 0 {
			code := exit.Code
			return domain.NewAgentFailed(&code, exit.StderrTail)
		}
		return nil
	case <-execCtx.Done():
		_ = backend.Cancel(ctx, sessionID)
		return domain.NewTimeout(int(p.timeout.Seconds()))
	}
}

func (p *Planner) persistAndDeletePlanFile(ctx context.Context, compositeTaskID, repoLocalPath, planFilename, content string) error {
	if err := p.store.CompositeTasks().SetPlanContent(ctx, compositeTaskID, content); err != nil {
		return fmt.Errorf("persist plan content: %w", err)
	}
	repoPlanPath := filepath.Join(repoLocalPath, planFilename)
	if err := os.Remove(repoPlanPath); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", repoPlanPath).Msg("planner: best-effort plan file deletion failed")
	}
	return nil
}

// ApprovePlan materialises a validated plan into AgentTasks, UnitTasks and
// CompositeTaskNodes, only valid from PendingApproval.
func (p *Planner) ApprovePlan(ctx context.Context, compositeTaskID string) error {
	composite, err := p.store.CompositeTasks().GetByID(ctx, compositeTaskID)
	if err != nil {
		return fmt.Errorf("planner.ApprovePlan: %w", err)
	}
	if composite.Status != domain.CompositePendingApproval {
		return domain.NewPrecondition(fmt.Sprintf("composite task %s is not pending approval", compositeTaskID))
	}

	plan, err := p.currentPlan(ctx, composite)
	if err != nil {
		return fmt.Errorf("planner.ApprovePlan: %w", err)
	}

	for _, planTask := range plan.Tasks {
		agentTaskID := uuid.NewString()
		agentType := composite.ExecutionAgentType
		if agentType == "" {
			agentType = domain.AgentClaudeCode
		}
		agentTask := &domain.AgentTask{ID: agentTaskID, AgentType: agentType}
		if err := p.store.AgentTasks().Create(ctx, agentTask); err != nil {
			return fmt.Errorf("planner.ApprovePlan: create agent task: %w", err)
		}

		title := planTask.Title
		if title == "" {
			title = planTask.ID
		}

		unitTaskID := uuid.NewString()
		branchName := ""
		if planTask.BranchName != "" {
			branchName, err = domain.MakeUniqueBranchName(planTask.BranchName)
			if err != nil {
				return fmt.Errorf("planner.ApprovePlan: %w", err)
			}
		}

		unitTask := &domain.UnitTask{
			ID:                unitTaskID,
			Title:             title,
			Prompt:            planTask.Prompt,
			RepositoryGroupID: composite.RepositoryGroupID,
			AgentTaskID:       agentTaskID,
			BranchName:        branchName,
			Status:            domain.UnitInProgress,
			CompositeTaskID:   compositeTaskID,
		}
		if err := p.store.UnitTasks().Create(ctx, unitTask); err != nil {
			return fmt.Errorf("planner.ApprovePlan: create unit task: %w", err)
		}

		node := domain.CompositeTaskNode{ID: planTask.ID, UnitTaskID: unitTaskID, DependsOn: planTask.DependsOn}
		if err := p.store.CompositeTasks().AddNode(ctx, compositeTaskID, node); err != nil {
			return fmt.Errorf("planner.ApprovePlan: add node: %w", err)
		}
	}

	p.deletePlanFileBestEffort(ctx, composite)

	if err := p.transition(ctx, compositeTaskID, domain.CompositePendingApproval, domain.CompositeInProgress); err != nil {
		return fmt.Errorf("planner.ApprovePlan: %w", err)
	}

	if p.dispatcher != nil {
		p.dispatcher.OnCompositeApproved(ctx, compositeTaskID)
	}
	return nil
}

// RejectPlan transitions a composite task to Rejected from any pre-Done
// state and cleans up any leftover plan file.
func (p *Planner) RejectPlan(ctx context.Context, compositeTaskID string) error {
	composite, err := p.store.CompositeTasks().GetByID(ctx, compositeTaskID)
	if err != nil {
		return fmt.Errorf("planner.RejectPlan: %w", err)
	}
	if composite.Status.Terminal() {
		return domain.NewPrecondition(fmt.Sprintf("composite task %s is already in a terminal state", compositeTaskID))
	}

	p.deletePlanFileBestEffort(ctx, composite)

	return p.transition(ctx, compositeTaskID, composite.Status, domain.CompositeRejected)
}

// UpdatePlan re-drives the planning agent with an update request against
// the current plan, only valid from PendingApproval. On success the
// composite task returns to PendingApproval with the revised plan.
func (p *Planner) UpdatePlan(ctx context.Context, compositeTaskID, updateRequest string) error {
	composite, err := p.store.CompositeTasks().GetByID(ctx, compositeTaskID)
	if err != nil {
		return fmt.Errorf("planner.UpdatePlan: %w", err)
	}
	if composite.Status != domain.CompositePendingApproval {
		return domain.NewPrecondition(fmt.Sprintf("composite task %s is not pending approval", compositeTaskID))
	}

	currentContent, err := p.planContent(ctx, composite)
	if err != nil {
		return fmt.Errorf("planner.UpdatePlan: %w", err)
	}

	repo, err := p.primaryRepo(ctx, composite.RepositoryGroupID)
	if err != nil {
		return fmt.Errorf("planner.UpdatePlan: %w", err)
	}

	if err := p.transition(ctx, compositeTaskID, domain.CompositePendingApproval, domain.CompositePlanning); err != nil {
		return fmt.Errorf("planner.UpdatePlan: %w", err)
	}

	planFilename, err := generatePlanFilename()
	if err != nil {
		return fmt.Errorf("planner.UpdatePlan: %w", err)
	}
	if err := p.store.CompositeTasks().SetPlanPath(ctx, compositeTaskID, planFilename); err != nil {
		return fmt.Errorf("planner.UpdatePlan: persist plan path: %w", err)
	}

	worktreePath, err := resources.PlanningWorktreePath(p.baseTmp, compositeTaskID)
	if err != nil {
		return fmt.Errorf("planner.UpdatePlan: %w", err)
	}
	branchName := planningBranchName(compositeTaskID)

	if _, err := p.worktrees.PrepareWorktree(ctx, repo.LocalPath, worktreePath, branchName, repo.DefaultBranch); err != nil {
		return fmt.Errorf("planner.UpdatePlan: prepare worktree: %w", err)
	}
	defer p.worktrees.RemoveWorktree(ctx, repo.LocalPath, worktreePath, true, branchName)

	agentTask, err := p.store.AgentTasks().GetByID(ctx, composite.PlanningTaskID)
	if err != nil {
		return fmt.Errorf("planner.UpdatePlan: get planning agent task: %w", err)
	}

	prompt := generateUpdatePlanPrompt(composite.Prompt, currentContent, updateRequest, planFilename)
	if err := p.runPlanningAgent(ctx, compositeTaskID, agentTask, worktreePath, prompt); err != nil {
		return fmt.Errorf("planner.UpdatePlan: %w", err)
	}

	content, err := os.ReadFile(filepath.Join(worktreePath, planFilename))
	if err != nil {
		return domain.NewResourceSetup("planning agent did not produce " + planFilename + ": " + err.Error())
	}
	plan, err := ParsePlan(string(content))
	if err != nil {
		return fmt.Errorf("planner.UpdatePlan: %w", err)
	}
	if err := plan.Validate(); err != nil {
		return fmt.Errorf("planner.UpdatePlan: invalid plan: %w", err)
	}

	if err := p.store.CompositeTasks().SetPlanContent(ctx, compositeTaskID, string(content)); err != nil {
		return fmt.Errorf("planner.UpdatePlan: persist plan content: %w", err)
	}

	return p.transition(ctx, compositeTaskID, domain.CompositePlanning, domain.CompositePendingApproval)
}

// currentPlan resolves and validates the plan for approval, reading
// persisted database content when available, falling back to the on-disk
// file on first read to keep the persist-then-delete ordering intact.
func (p *Planner) currentPlan(ctx context.Context, composite *domain.CompositeTask) (*Plan, error) {
	content, err := p.planContent(ctx, composite)
	if err != nil {
		return nil, err
	}
	plan, err := ParsePlan(content)
	if err != nil {
		return nil, err
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

func (p *Planner) planContent(ctx context.Context, composite *domain.CompositeTask) (string, error) {
	if composite.PlanYAMLContent != "" {
		return composite.PlanYAMLContent, nil
	}

	repo, err := p.primaryRepo(ctx, composite.RepositoryGroupID)
	if err != nil {
		return "", err
	}
	if composite.PlanFilePath == "" {
		return "", domain.NewPrecondition("composite task has no plan file path set")
	}

	content, err := os.ReadFile(filepath.Join(repo.LocalPath, composite.PlanFilePath))
	if err != nil {
		return "", domain.NewResourceSetup("read plan file: " + err.Error())
	}

	plan, err := ParsePlan(string(content))
	if err != nil {
		return "", err
	}
	if err := plan.Validate(); err != nil {
		return "", err
	}

	if err := p.persistAndDeletePlanFile(ctx, composite.ID, repo.LocalPath, composite.PlanFilePath, string(content)); err != nil {
		return "", err
	}
	return string(content), nil
}

func (p *Planner) deletePlanFileBestEffort(ctx context.Context, composite *domain.CompositeTask) {
	if composite.PlanFilePath == "" {
		return
	}
	repo, err := p.primaryRepo(ctx, composite.RepositoryGroupID)
	if err != nil {
		return
	}
	path := filepath.Join(repo.LocalPath, composite.PlanFilePath)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", path).Msg("planner: best-effort plan file deletion failed")
	}
}

func (p *Planner) transition(ctx context.Context, compositeTaskID string, from, to domain.CompositeTaskStatus) error {
	if !from.ValidTransition(to) {
		return domain.NewPrecondition(fmt.Sprintf("invalid composite transition %s -> %s", from, to))
	}
	if err := p.store.CompositeTasks().SetStatus(ctx, compositeTaskID, from, to); err != nil {
		return err
	}
	p.emitter.Emit(ctx, events.TaskStatusChanged(compositeTaskID, string(from), string(to)))
	return nil
}
