package domain

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// ValidateBranchName enforces git's ref-format rules as named in the
// external-interfaces contract: non-empty, no leading '-'/'.', no trailing
// '.'/'/', no "..", "//", "@{", no ASCII control characters, none of the
// forbidden punctuation characters, not ending in ".lock", not exactly "@",
// and no longer than 255 characters.
func ValidateBranchName(name string) error {
	if name == "" {
		return NewValidation("branch_name", "must not be empty")
	}
	if len(name) > 255 {
		return NewValidation("branch_name", "must be at most 255 characters")
	}
	if name == "@" {
		return NewValidation("branch_name", "must not be exactly \"@\"")
	}
	if strings.HasPrefix(name, "-") || strings.HasPrefix(name, ".") {
		return NewValidation("branch_name", "must not start with '-' or '.'")
	}
	if strings.HasSuffix(name, ".") || strings.HasSuffix(name, "/") {
		return NewValidation("branch_name", "must not end with '.' or '/'")
	}
	if strings.HasSuffix(name, ".lock") {
		return NewValidation("branch_name", "must not end with \".lock\"")
	}
	if strings.Contains(name, "..") || strings.Contains(name, "//") || strings.Contains(name, "@{") {
		return NewValidation("branch_name", "must not contain \"..\", \"//\", or \"@{\"")
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return NewValidation("branch_name", "must not contain ASCII control characters")
		}
		if strings.ContainsRune(" ~^:?*[\\", r) {
			return NewValidation("branch_name", fmt.Sprintf("must not contain %q", r))
		}
	}
	return nil
}

// MakeUniqueBranchName appends a short random suffix to a valid branch name,
// used by the planner when materialising a composite task's plan so sibling
// tasks with similar names never collide.
func MakeUniqueBranchName(name string) (string, error) {
	if err := ValidateBranchName(name); err != nil {
		return "", err
	}
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", NewResourceSetup("failed to generate random suffix: " + err.Error())
	}
	unique := name + "-" + hex.EncodeToString(buf)
	if err := ValidateBranchName(unique); err != nil {
		return "", err
	}
	return unique, nil
}

// ValidTaskIDPattern-restricted identifiers used as filesystem path
// components (worktree/container names) are checked by internal/resources,
// not here; branch names and task ids are validated independently because
// they are governed by different external rule sets (git refs vs.
// filesystem-safe names).
