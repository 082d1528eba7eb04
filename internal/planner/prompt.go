package planner

import "fmt"

func generatePlanningPrompt(userPrompt, planFilename string) string {
	return fmt.Sprintf(`You are an expert software architect. Decompose the request below into logical, cohesive tasks that can each become a separate pull request.

For simple, single-PR requests, create a single-node plan with no dependencies. Not every request needs to be broken down.

Write a YAML plan file at the repository root named exactly %q, with this structure:

tasks:
  - id: "task-id-1"
    title: "Human-readable title"
    prompt: "What the agent should do for this task"
    branchName: "optional/custom-branch"
  - id: "task-id-2"
    prompt: "What the agent should do for this task"
    dependsOn: ["task-id-1"]

Rules:
- id is lowercase, hyphen-separated, unique across the plan
- prompt is self-contained: include all context a separate agent session will need
- dependsOn lists task ids that must finish first; omit it for tasks with no dependencies
- structure the plan for maximum parallelism among tasks with no true dependency
- write only the plan file, nothing else

Original request:
%s`, planFilename, userPrompt)
}

func generateUpdatePlanPrompt(originalPrompt, currentPlan, updateRequest, planFilename string) string {
	return fmt.Sprintf(`You are an expert software architect updating an existing development plan based on feedback.

Current plan:

%s

Original request:
%s

Requested changes:
%s

Apply the requested changes, keep the plan internally consistent (valid ids, dependsOn references), and write the updated plan to the repository root as %q, using the same YAML structure as before.`, currentPlan, originalPrompt, updateRequest, planFilename)
}
