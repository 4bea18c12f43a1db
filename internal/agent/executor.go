package agent

import (
	"context"

	"github.com/cludelabs/clude/internal/compress"
	"github.com/cludelabs/clude/internal/event"
	"github.com/cludelabs/clude/internal/parse"
	"github.com/cludelabs/clude/internal/plan"
	"github.com/cludelabs/clude/internal/session"
	"github.com/cludelabs/clude/internal/tool"
)

// executor walks a plan to completion: a topological cursor over ready
// steps, a bounded tool loop inside each step, and incremental replanning
// when execution and plan diverge.
type executor struct {
	o       *Orchestrator
	sess    *session.Session
	st      *TurnState
	machine *Machine
	runner  *toolRunner

	replans int
	// notes collects informational step output for the summary.
	notes []string
}

// run drives the plan. It returns false when the turn is over (cancelled,
// deadlocked, replans exhausted, or model failure); StopReason and FailCode
// on the state say why.
func (e *executor) run(ctx context.Context) bool {
	for {
		if ctx.Err() != nil {
			e.st.StopReason = StopCancelled
			_ = e.machine.Apply(InputCancel)
			return false
		}

		ready := e.st.Plan.Ready()
		if len(ready) == 0 {
			if e.st.Plan.Remaining() == 0 {
				return true
			}
			if e.st.Plan.Deadlocked() {
				if e.tryReplan(ctx, "remaining steps are blocked by failed work") {
					continue
				}
				if e.st.StopReason == "" {
					e.st.StopReason = StopDeadlock
				}
				return false
			}
			return true
		}

		if !e.runStep(ctx, ready[0]) {
			return false
		}
	}
}

// runStep executes one step's inner loop. Returns false on turn-fatal
// failure; a failed step alone keeps the turn alive so independent steps can
// still run.
func (e *executor) runStep(ctx context.Context, stepID string) bool {
	step := e.st.Plan.Step(stepID)
	step.Status = plan.StatusInProgress
	e.o.emitStep(event.KindPlanStepStart, stepID, map[string]any{"description": step.Description})

	keywords := compress.Keywords(step.Description)
	e.sess.Messages.AppendUser(stepPrompt(step))

	violations := 0
	for calls := 0; calls < e.o.Fuses.MaxStepToolCalls; calls++ {
		text, err := e.o.chatText(ctx, e.sess, e.st)
		if err != nil {
			return e.modelFailure(ctx, step, err)
		}
		e.sess.Messages.AppendAssistant(text)

		out := parse.Parse(text)
		switch out.Kind {
		case parse.KindControl:
			if out.Control == parse.ControlStepDone {
				e.finishStep(step, plan.StatusDone, out.Reason)
				_ = e.machine.Apply(InputStepDone)
				return true
			}
			// The step asking for a replan has failed; the patch decides
			// whether it runs again.
			e.finishStep(step, plan.StatusFailed, "replan requested: "+out.Reason)
			return e.tryReplan(ctx, out.Reason)

		case parse.KindToolCall:
			feedback, _ := e.runner.run(ctx, stepID, out.ToolName, out.ToolArgs, keywords)
			e.sess.Messages.AppendUser(feedback)

		case parse.KindText:
			if len(step.ToolsExpected) == 0 {
				// Informational step: plain text is the deliverable.
				e.notes = append(e.notes, out.Text)
				e.finishStep(step, plan.StatusDone, "informational")
				_ = e.machine.Apply(InputStepDone)
				return true
			}
			violations++
			if violations > e.o.Fuses.MaxLLMRetries {
				e.st.FailCode = tool.ErrModel
				e.finishStep(step, plan.StatusFailed, "output protocol violated repeatedly")
				return e.afterStepFailure(ctx)
			}
			e.sess.Messages.AppendUser(correctiveInstruction)
		}
	}

	e.finishStep(step, plan.StatusFailed, "tool call budget exhausted")
	return e.afterStepFailure(ctx)
}

func (e *executor) finishStep(step *plan.Step, status, reason string) {
	step.Status = status
	e.o.emitStep(event.KindPlanStepEnd, step.ID, map[string]any{"status": status, "reason": reason})
}

// afterStepFailure blocks dependents and decides whether the turn can go on.
func (e *executor) afterStepFailure(ctx context.Context) bool {
	e.st.Plan.MarkBlocked()
	if !e.st.Plan.Deadlocked() {
		return true
	}
	if e.tryReplan(ctx, "a step failed and its dependents are blocked") {
		return true
	}
	if e.st.StopReason == "" {
		e.st.StopReason = StopDeadlock
	}
	return false
}

func (e *executor) modelFailure(ctx context.Context, step *plan.Step, err error) bool {
	if ctx.Err() != nil {
		e.st.StopReason = StopCancelled
		_ = e.machine.Apply(InputCancel)
		return false
	}
	e.st.FailCode = tool.ErrModel
	e.finishStep(step, plan.StatusFailed, err.Error())
	return false
}

// tryReplan asks the model for a PlanPatch, falling back to a FullPlan when
// the model decides patching is impossible. Done steps survive either way.
func (e *executor) tryReplan(ctx context.Context, reason string) bool {
	e.replans++
	if e.replans > e.o.Fuses.MaxReplans {
		e.st.StopReason = StopReplanExhausted
		return false
	}
	if e.machine.Current() == StateExecuting {
		_ = e.machine.Apply(InputReplan)
	}

	e.sess.Messages.AppendUser(patchPrompt(reason, e.st.Plan))
	for attempt := 0; attempt <= e.o.Fuses.MaxLLMRetries; attempt++ {
		text, err := e.o.chatText(ctx, e.sess, e.st)
		if err != nil {
			e.st.FailCode = tool.ErrModel
			return false
		}
		e.sess.Messages.AppendAssistant(text)

		if patch, perr := plan.ParsePatch(text); perr == nil {
			next, aerr := e.st.Plan.Apply(patch, e.o.Fuses.MaxPlanSteps)
			if aerr == nil {
				e.st.Plan = next
				e.o.emit(event.KindPlanReplanned, map[string]any{"mode": "patch", "round": e.replans, "reason": reason})
				e.reenterExecuting()
				return true
			}
			e.sess.Messages.AppendUser("Patch rejected: " + aerr.Error() + "\n" + correctiveInstruction)
			continue
		}

		if full, ferr := plan.Parse(text, e.o.Fuses.MaxPlanSteps); ferr == nil {
			e.carryDone(full)
			e.st.Plan = full
			e.o.emit(event.KindPlanReplanned, map[string]any{"mode": "full", "round": e.replans, "reason": reason})
			e.reenterExecuting()
			return true
		}

		e.sess.Messages.AppendUser("That was not a valid PlanPatch or FullPlan. " + correctiveInstruction)
	}

	e.st.FailCode = tool.ErrModel
	return false
}

// carryDone preserves completed work across a full replan: steps reusing an
// id that was already done stay done.
func (e *executor) carryDone(next *plan.FullPlan) {
	done := make(map[string]bool)
	for _, s := range e.st.Plan.Steps {
		if s.Status == plan.StatusDone {
			done[s.ID] = true
		}
	}
	for i := range next.Steps {
		if done[next.Steps[i].ID] {
			next.Steps[i].Status = plan.StatusDone
		}
	}
}

func (e *executor) reenterExecuting() {
	if e.machine.Current() == StatePlanning {
		_ = e.machine.Enter(StateExecuting)
	}
}
