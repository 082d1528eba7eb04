// Package planner implements the Composite Planner (C7): expanding a
// composite task's user prompt into a validated DAG of unit tasks via a
// planning agent run in an isolated worktree.
package planner

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gammazero/toposort"
	"gopkg.in/yaml.v3"

	"github.com/delinoio/delidev/internal/domain"
)

// PlanTask is one node of a plan document, as emitted by the planning agent.
type PlanTask struct {
	ID         string   `yaml:"id"`
	Title      string   `yaml:"title,omitempty"`
	Prompt     string   `yaml:"prompt"`
	BranchName string   `yaml:"branchName,omitempty"`
	DependsOn  []string `yaml:"dependsOn,omitempty"`
}

// Plan is the top-level YAML document the planning agent writes.
type Plan struct {
	Tasks []PlanTask `yaml:"tasks"`
}

var planTaskIDPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// ParsePlan decodes a plan document, rejecting malformed YAML outright.
// Semantic validation is a separate step so callers can distinguish a
// corrupt document from an invalid-but-well-formed one.
func ParsePlan(content string) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal([]byte(content), &p); err != nil {
		return nil, fmt.Errorf("planner: parse plan yaml: %w", err)
	}
	return &p, nil
}

// Validate enforces every structural invariant a plan must satisfy before
// it can be approved: non-empty task list, id format and uniqueness,
// dependency references that exist, no self-loops, a branch name that
// passes git ref rules when given, and an acyclic dependency graph.
func (p *Plan) Validate() error {
	if len(p.Tasks) == 0 {
		return domain.NewValidation("tasks", "plan must declare at least one task")
	}

	seen := make(map[string]bool, len(p.Tasks))
	for _, t := range p.Tasks {
		if !planTaskIDPattern.MatchString(t.ID) {
			return domain.NewValidation("tasks[].id", fmt.Sprintf("%q must match [a-z0-9-]+", t.ID))
		}
		if seen[t.ID] {
			return domain.NewValidation("tasks[].id", fmt.Sprintf("duplicate task id %q", t.ID))
		}
		seen[t.ID] = true
		if strings.TrimSpace(t.Prompt) == "" {
			return domain.NewValidation("tasks[].prompt", fmt.Sprintf("task %q must have a non-empty prompt", t.ID))
		}
		if t.BranchName != "" {
			if err := domain.ValidateBranchName(t.BranchName); err != nil {
				return err
			}
		}
		for _, dep := range t.DependsOn {
			if dep == t.ID {
				return domain.NewValidation("tasks[].dependsOn", fmt.Sprintf("task %q cannot depend on itself", t.ID))
			}
		}
	}

	for _, t := range p.Tasks {
		for _, dep := range t.DependsOn {
			if !seen[dep] {
				return domain.NewValidation("tasks[].dependsOn", fmt.Sprintf("task %q depends on unknown task %q", t.ID, dep))
			}
		}
	}

	return validateDAG(p.Tasks)
}

// validateDAG runs a topological sort over the plan's dependsOn edges,
// following the orchestrator pattern of building explicit edges (including
// a nil-rooted edge for dependency-free nodes so isolated tasks still show
// up in the sort) and comparing the sorted length against the task count to
// catch cycles or disconnected references that slipped past Validate's
// other checks.
func validateDAG(tasks []PlanTask) error {
	var edges []toposort.Edge
	for _, t := range tasks {
		if len(t.DependsOn) == 0 {
			edges = append(edges, toposort.Edge{nil, t.ID})
			continue
		}
		for _, dep := range t.DependsOn {
			edges = append(edges, toposort.Edge{dep, t.ID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return domain.NewValidation("tasks", "dependency graph contains a cycle")
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}
	if len(order) != len(tasks) {
		return domain.NewValidation("tasks", "dependency graph is disconnected or contains a cycle")
	}

	return nil
}
