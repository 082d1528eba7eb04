package runner

import (
	"github.com/delinoio/delidev/internal/domain"
)

// CommandSpec describes how to invoke one AgentKind's CLI and how to parse
// the lines it writes to stdout/stderr. Per the specification's Design
// Notes, dispatch happens once here, at command-build time; message parsing
// is not virtualised elsewhere.
type CommandSpec struct {
	Bin        string
	BuildArgs  func(prompt, model string) []string
	ParseLine  func(line string) Message
}

// DefaultCommandSpecs returns the command-builder table for every AgentKind
// named in the specification. Binaries are resolved from PATH by name; a
// deployment overriding a binary's location does so via PATH or by
// registering a different spec through Registry.
func DefaultCommandSpecs() map[domain.AgentKind]CommandSpec {
	return map[domain.AgentKind]CommandSpec{
		domain.AgentClaudeCode: {
			Bin: "claude",
			BuildArgs: func(prompt, model string) []string {
				args := []string{"--output-format", "stream-json", "--verbose", "-p", prompt}
				if model != "" {
					args = append(args, "--model", model)
				}
				return args
			},
			ParseLine: parseClaudeLine,
		},
		domain.AgentOpenCode: {
			Bin: "opencode",
			BuildArgs: func(prompt, model string) []string {
				args := []string{"run", "--format", "json", prompt}
				if model != "" {
					args = append(args, "--model", model)
				}
				return args
			},
			ParseLine: parseGenericJSONLine,
		},
		domain.AgentGeminiCli: {
			Bin: "gemini",
			BuildArgs: func(prompt, model string) []string {
				args := []string{"-p", prompt, "--output-format", "json"}
				if model != "" {
					args = append(args, "--model", model)
				}
				return args
			},
			ParseLine: parseGenericJSONLine,
		},
		domain.AgentCodexCli: {
			Bin: "codex",
			BuildArgs: func(prompt, model string) []string {
				args := []string{"exec", "--json", prompt}
				if model != "" {
					args = append(args, "--model", model)
				}
				return args
			},
			ParseLine: parseGenericJSONLine,
		},
		domain.AgentAider: {
			Bin: "aider",
			BuildArgs: func(prompt, model string) []string {
				args := []string{"--yes-always", "--message", prompt}
				if model != "" {
					args = append(args, "--model", model)
				}
				return args
			},
			ParseLine: parseTextOnlyLine,
		},
		domain.AgentAmp: {
			Bin: "amp",
			BuildArgs: func(prompt, model string) []string {
				return []string{"-x", prompt}
			},
			ParseLine: parseGenericJSONLine,
		},
	}
}
