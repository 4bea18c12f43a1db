package agent

import (
	"fmt"
	"strings"

	"github.com/cludelabs/clude/internal/plan"
)

// planInstruction asks the model for a FullPlan. Sent as a user message after
// the task; the system prompt already carries the tool manifest.
const planInstruction = `Break the task into a plan before doing any work.

Respond with a single JSON object and nothing else:
{"type": "FullPlan", "title": "...", "steps": [{"id": "s1", "description": "...", "dependencies": [], "tools_expected": ["read_file"]}], "verification": {"mode": "none"}}

Rules:
- at most %d steps
- step ids must be unique; dependencies reference earlier ids only
- a step with an empty tools_expected list is informational
- verification.mode is one of none, lint, test, build, custom; give commands for modes that run them`

// stepInstruction frames one plan step for execution.
const stepInstruction = `Current step %s: %s
%sRespond with exactly one of:
- a tool call: {"tool": "<name>", "args": {...}}
- {"control": "step_done", "reason": "..."} when the step is complete
- {"control": "replan", "reason": "..."} if the plan no longer fits reality

One JSON object, no surrounding prose.`

// patchInstruction asks for an incremental replan.
const patchInstruction = `The plan needs revision: %s

Current plan state:
%s
Prefer a PlanPatch; only produce a full FullPlan if patching is impossible:
{"type": "PlanPatch", "remove": ["s3"], "update": [{"id": "s2", "description": "..."}], "add": [{"id": "s4", "description": "...", "dependencies": ["s2"]}]}

Completed steps stay completed. The step that requested the replan is marked failed; update it with "status": "pending" if it should run again. Respond with the JSON object only.`

// correctiveInstruction is fed back after a protocol violation.
const correctiveInstruction = `Your last message did not follow the output protocol. Respond with exactly one JSON object: a tool call {"tool": ..., "args": ...} or a control frame {"control": "step_done"|"replan", "reason": ...}. No prose around it.`

// reactCorrective is the ReAct variant: control frames carry no meaning
// outside plan execution.
const reactCorrective = `Control frames are not valid here. Respond with a tool call {"tool": ..., "args": ...} or answer the user in plain text.`

const summarizeInstruction = `The work above is finished. Summarize for the user what was done, what changed, and anything that still needs attention. Plain text, no JSON.`

func planPrompt(maxSteps int) string {
	return fmt.Sprintf(planInstruction, maxSteps)
}

func stepPrompt(s *plan.Step) string {
	var tools string
	if len(s.ToolsExpected) > 0 {
		tools = fmt.Sprintf("Expected tools: %s\n", strings.Join(s.ToolsExpected, ", "))
	}
	return fmt.Sprintf(stepInstruction, s.ID, s.Description, tools)
}

func patchPrompt(reason string, p *plan.FullPlan) string {
	return fmt.Sprintf(patchInstruction, reason, p.Render())
}
