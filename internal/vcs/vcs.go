// Package vcs defines the pull-request creation port the Unit Executor's PR
// creation operation depends on, plus a best-effort fallback for extracting
// a PR URL an agent already created itself by calling `gh`/`glab` directly.
package vcs

import (
	"context"
	"errors"
	"regexp"
)

// ErrNotConfigured is returned by Provider implementations that have no
// credentials wired in; PR creation then falls back to ExtractPRURL against
// the agent's own output.
var ErrNotConfigured = errors.New("vcs: provider not configured")

// Provider opens a pull request for a task branch against its base branch.
type Provider interface {
	CreatePullRequest(ctx context.Context, repoRemoteURL, branchName, baseBranch, title, body string) (url string, err error)
}

// StubProvider always reports ErrNotConfigured, the default when no real
// GitHub/GitLab/Bitbucket client is wired in; PR creation then depends
// entirely on ExtractPRURL finding a URL the agent already produced.
type StubProvider struct{}

func (StubProvider) CreatePullRequest(ctx context.Context, repoRemoteURL, branchName, baseBranch, title, body string) (string, error) {
	return "", ErrNotConfigured
}

var prURLPattern = regexp.MustCompile(`https://(?:github\.com|gitlab\.com|bitbucket\.org)/[\w.-]+/[\w.-]+/(?:pull|pulls|merge_requests)/\d+`)

// ExtractPRURL scans raw agent output for a PR/MR URL, used as a fallback
// when no VcsProvider is configured and the agent opened the PR itself via
// an authenticated CLI (gh/glab) inside the sandbox.
func ExtractPRURL(agentOutput string) (string, bool) {
	match := prURLPattern.FindString(agentOutput)
	return match, match != ""
}
