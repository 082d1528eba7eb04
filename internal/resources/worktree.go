package resources

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/delinoio/delidev/internal/domain"
)

// WorktreeInfo is the result of a successful worktree preparation.
type WorktreeInfo struct {
	WorktreePath string
	BaseCommit   string
}

// WorktreeManager owns host-filesystem git worktree operations. Grounded on
// the raw `git worktree` subprocess idiom rather than an in-container git
// runtime, since worktrees in this engine live on the host so a sandbox
// container can bind-mount them directly.
//
// repoMu serialises any operation that touches the shared primary repository
// (branch creation, default-branch tip lookup); worktree paths themselves are
// task-local and never contend with each other.
type WorktreeManager struct {
	repoMu sync.Mutex
}

func NewWorktreeManager() *WorktreeManager {
	return &WorktreeManager{}
}

// PrepareWorktree creates (or recreates) the worktree for a unit task.
// Idempotent: a pre-existing worktree directory at the target path is
// removed first, best-effort. The base commit is captured from the tip of
// defaultBranch before the worktree is created. If branchName does not
// already exist as a local branch, it is created off defaultBranch.
func (m *WorktreeManager) PrepareWorktree(ctx context.Context, repoPath, worktreePath, branchName, defaultBranch string) (*WorktreeInfo, error) {
	m.repoMu.Lock()
	defer m.repoMu.Unlock()

	if _, err := os.Stat(worktreePath); err == nil {
		if rmErr := m.removeWorktreeLocked(ctx, repoPath, worktreePath); rmErr != nil {
			log.Warn().Err(rmErr).Str("path", worktreePath).Msg("resources: best-effort removal of stale worktree failed, proceeding")
		}
	}

	baseCommit, err := m.revParse(ctx, repoPath, defaultBranch)
	if err != nil {
		return nil, domain.NewResourceSetup("resolve tip of " + defaultBranch + ": " + err.Error())
	}

	if !m.branchExists(ctx, repoPath, branchName) {
		if err := m.run(ctx, repoPath, "worktree", "add", "-b", branchName, worktreePath, defaultBranch); err != nil {
			return nil, domain.NewResourceSetup("git worktree add: " + err.Error())
		}
	} else {
		if err := m.run(ctx, repoPath, "worktree", "add", worktreePath, branchName); err != nil {
			return nil, domain.NewResourceSetup("git worktree add: " + err.Error())
		}
	}

	return &WorktreeInfo{WorktreePath: worktreePath, BaseCommit: baseCommit}, nil
}

// RemoveWorktree tears down a worktree and, if requested, deletes its branch.
// Best-effort: failures are logged, never returned as a hard error, per the
// "cleanup never overrides the caller's outcome" rule.
func (m *WorktreeManager) RemoveWorktree(ctx context.Context, repoPath, worktreePath string, deleteBranch bool, branchName string) {
	m.repoMu.Lock()
	defer m.repoMu.Unlock()

	if err := m.removeWorktreeLocked(ctx, repoPath, worktreePath); err != nil {
		log.Warn().Err(err).Str("path", worktreePath).Msg("resources: worktree removal failed")
	}
	if deleteBranch && branchName != "" {
		if err := m.run(ctx, repoPath, "branch", "-D", branchName); err != nil {
			log.Warn().Err(err).Str("branch", branchName).Msg("resources: branch deletion failed")
		}
	}
}

func (m *WorktreeManager) removeWorktreeLocked(ctx context.Context, repoPath, worktreePath string) error {
	if err := m.run(ctx, repoPath, "worktree", "remove", "--force", worktreePath); err != nil {
		// Fall back to a raw directory removal; the worktree metadata in
		// .git/worktrees becomes stale but `git worktree prune` cleans it.
		if rmErr := os.RemoveAll(worktreePath); rmErr != nil {
			return fmt.Errorf("git worktree remove failed (%w) and rm -rf failed (%v)", err, rmErr)
		}
		_ = m.run(ctx, repoPath, "worktree", "prune")
	}
	return nil
}

// RevParseHead resolves the current HEAD commit of a worktree, used by the
// executor after an agent run to record the unit task's end commit.
func (m *WorktreeManager) RevParseHead(ctx context.Context, worktreePath string) (string, error) {
	return m.revParse(ctx, worktreePath, "HEAD")
}

func (m *WorktreeManager) branchExists(ctx context.Context, repoPath, branch string) bool {
	cmd := exec.CommandContext(ctx, "git", "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	cmd.Dir = repoPath
	return cmd.Run() == nil
}

func (m *WorktreeManager) revParse(ctx context.Context, repoPath, ref string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", ref)
	cmd.Dir = repoPath
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (m *WorktreeManager) run(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}
