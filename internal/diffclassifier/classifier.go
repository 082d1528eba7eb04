// Package diffclassifier decides whether a unit task's worktree contains any
// changes worth a pull request. It is pure with respect to git state: given
// the same commits and worktree contents it always returns the same answer.
package diffclassifier

import (
	"context"
	"os/exec"

	"github.com/delinoio/delidev/internal/domain"
)

type Result string

const (
	HasChanges Result = "has_changes"
	NoChanges  Result = "no_changes"
)

// Classify implements the four-step procedure from the specification:
// prefer base..end if both commits are known, else fall back to
// default_branch..HEAD, and always additionally check the worktree's
// uncommitted working-tree diff. Any non-empty diff yields HasChanges.
func Classify(ctx context.Context, repoPath, worktreePath, baseCommit, endCommit, defaultBranch string) (Result, error) {
	if baseCommit != "" && endCommit != "" {
		nonEmpty, err := diffNonEmpty(ctx, repoPath, baseCommit+".."+endCommit)
		if err != nil {
			return "", domain.NewBackend(err)
		}
		if nonEmpty {
			return HasChanges, nil
		}
	} else {
		nonEmpty, err := diffNonEmpty(ctx, worktreePath, defaultBranch+"..HEAD")
		if err != nil {
			return "", domain.NewBackend(err)
		}
		if nonEmpty {
			return HasChanges, nil
		}
	}

	workingTreeDirty, err := diffNonEmpty(ctx, worktreePath)
	if err != nil {
		return "", domain.NewBackend(err)
	}
	if workingTreeDirty {
		return HasChanges, nil
	}

	return NoChanges, nil
}

// diffNonEmpty runs `git diff --quiet <args...>` in dir; exit code 1 means a
// non-empty diff, exit code 0 means no differences, anything else is a
// genuine error.
func diffNonEmpty(ctx context.Context, dir string, args ...string) (bool, error) {
	cmdArgs := append([]string{"diff", "--quiet"}, args...)
	cmd := exec.CommandContext(ctx, "git", cmdArgs...)
	cmd.Dir = dir
	err := cmd.Run()
	if err == nil {
		return false, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
		return true, nil
	}
	return false, err
}
