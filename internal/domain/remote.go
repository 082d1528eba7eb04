package domain

import (
	"regexp"
	"strings"
)

// remoteURLPattern matches the four remote forms named in the
// external-interfaces contract: https/http URLs, ssh:// URLs, and the
// scp-like git@HOST:OWNER/REPO shorthand, each with an optional ".git"
// suffix.
var remoteURLPattern = regexp.MustCompile(
	`^(?:(?:https?|ssh)://(?:[^\s@/]+@)?[^\s/]+/[^\s/]+/[^\s/]+|git@[^\s:/]+:[^\s/]+/[^\s/]+)(?:\.git)?/?$`,
)

// ValidateRemoteURL enforces the remote-URL rules named alongside branch
// names in the external-interfaces contract: only the https/http/ssh and
// git@HOST:OWNER/REPO forms are accepted, and ".." or a NUL, CR or LF
// character anywhere in the URL is rejected regardless of scheme.
func ValidateRemoteURL(url string) error {
	if url == "" {
		return NewValidation("remote_url", "must not be empty")
	}
	if strings.Contains(url, "..") {
		return NewValidation("remote_url", "must not contain \"..\"")
	}
	for _, r := range url {
		if r == 0 || r == '\r' || r == '\n' {
			return NewValidation("remote_url", "must not contain NUL, CR, or LF")
		}
	}
	if !remoteURLPattern.MatchString(url) {
		return NewValidation("remote_url", "must be an https://, http://, ssh://, or git@HOST:OWNER/REPO URL")
	}
	return nil
}
