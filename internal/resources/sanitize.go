package resources

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/delinoio/delidev/internal/domain"
)

var taskIDPattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// ValidateTaskID enforces the filesystem/container-name-safe id format: only
// letters, digits and hyphens, no ".." traversal, no absolute-path prefix.
func ValidateTaskID(taskID string) error {
	if taskID == "" || !taskIDPattern.MatchString(taskID) {
		return domain.NewValidation("task_id", "must match [A-Za-z0-9-]+")
	}
	if strings.Contains(taskID, "..") {
		return domain.NewValidation("task_id", "must not contain \"..\"")
	}
	if filepath.IsAbs(taskID) {
		return domain.NewValidation("task_id", "must not be an absolute path")
	}
	return nil
}

var repoNameDisallowed = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SanitizeRepoName replaces any character outside [A-Za-z0-9._-] with '_' so
// a repository name is safe to use as a directory component.
func SanitizeRepoName(name string) string {
	return repoNameDisallowed.ReplaceAllString(name, "_")
}

// WorktreePath returns the canonical per-unit-task worktree path.
func WorktreePath(baseTmp, taskID string) (string, error) {
	if err := ValidateTaskID(taskID); err != nil {
		return "", err
	}
	return filepath.Join(baseTmp, "delidev", "worktrees", taskID), nil
}

// PlanningWorktreePath returns the canonical planning worktree path for a
// composite task.
func PlanningWorktreePath(baseTmp, compositeID string) (string, error) {
	if err := ValidateTaskID(compositeID); err != nil {
		return "", err
	}
	return filepath.Join(baseTmp, "delidev", "planning", compositeID), nil
}

// ContainerName returns the canonical container name for a unit task.
func ContainerName(taskID string) (string, error) {
	if err := ValidateTaskID(taskID); err != nil {
		return "", err
	}
	return "delidev-" + taskID, nil
}

var containerNamePattern = regexp.MustCompile(`^delidev-[A-Za-z0-9-]+$`)
var imageTagPattern = regexp.MustCompile(`^delidev-setup:[0-9a-f]{16}$`)

func ValidContainerName(name string) bool { return containerNamePattern.MatchString(name) }
func ValidImageTag(tag string) bool       { return imageTagPattern.MatchString(tag) }

// CanonicalBaseTmp resolves symlinks on baseTmp so container bind mounts
// agree with the host path the engine computed.
func CanonicalBaseTmp(baseTmp string) (string, error) {
	resolved, err := filepath.EvalSymlinks(baseTmp)
	if err != nil {
		return "", domain.NewResourceSetup("resolve base_tmp: " + err.Error())
	}
	return resolved, nil
}
