package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/cludelabs/clude/internal/budget"
	"github.com/cludelabs/clude/internal/compress"
	"github.com/cludelabs/clude/internal/config"
	"github.com/cludelabs/clude/internal/core"
	"github.com/cludelabs/clude/internal/event"
	"github.com/cludelabs/clude/internal/intent"
	"github.com/cludelabs/clude/internal/llm"
	"github.com/cludelabs/clude/internal/parse"
	"github.com/cludelabs/clude/internal/plan"
	"github.com/cludelabs/clude/internal/policy"
	"github.com/cludelabs/clude/internal/profile"
	"github.com/cludelabs/clude/internal/session"
	"github.com/cludelabs/clude/internal/tool"
)

// Orchestrator wires the runtime together and drives turns. All fields are
// set once at startup; per-turn state lives in TurnState.
type Orchestrator struct {
	Chat       *llm.Chat
	Classifier *intent.Classifier
	Profiles   *profile.Registry
	Tools      *tool.Registry
	Compressor *compress.Compressor
	Budget     *budget.Budgeter
	Screen     *policy.CommandScreen
	Confirmer  policy.Confirmer
	Bus        *event.Bus
	Fuses      config.Fuses
	Workspace  string
	Debug      bool

	// ContextTokens is the model context window used for utilization
	// accounting. Zero picks the chokepoint default.
	ContextTokens int
}

// RunTurn processes one user message to completion.
func (o *Orchestrator) RunTurn(ctx context.Context, sess *session.Session, input string) (res TurnResult) {
	traceID := uuid.NewString()
	if o.Bus != nil {
		o.Bus.SetTraceID(traceID)
	}

	st := &TurnState{Input: strings.TrimSpace(input)}
	m := NewMachine(o.Bus, o.Debug)

	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[Agent] Panic recovered: %v", rec)
			st.StopReason = StopInternalError
			st.FailCode = tool.ErrTool
			st.FinalText = "Internal error; the turn was aborted."
			o.emit(event.KindStopReason, map[string]any{"reason": st.StopReason})
			res = st.result()
		}
	}()

	if err := m.Apply(InputUserMessage); err != nil {
		st.StopReason = StopInternalError
		st.FailCode = tool.ErrTool
		return st.result()
	}

	if st.Input == "" {
		_ = m.Enter(StateClarifying)
		st.FinalText = "I need a bit more to go on. What would you like me to do?"
		o.emit(event.KindFinalText, map[string]any{"length": len(st.FinalText)})
		o.emit(event.KindStopReason, map[string]any{"reason": StopDone})
		_ = m.Enter(StateDone)
		return st.result()
	}

	runner := newToolRunner(o, sess, st, m, traceID)

	classify := core.NewNode[TurnState, string, intent.Result](&classifyNode{o: o, sess: sess, m: m}, 0)
	planN := core.NewNode[TurnState, struct{}, planOutcome](&planNode{o: o, sess: sess, m: m}, 0)
	execN := core.NewNode[TurnState, struct{}, execOutcome](&executeNode{o: o, sess: sess, m: m, runner: runner}, 0)
	verifyN := core.NewNode[TurnState, struct{}, verifyOutcome](&verifyNode{o: o, sess: sess, m: m, runner: runner, st: st}, 0)
	reactN := core.NewNode[TurnState, struct{}, bool](&reactNode{o: o, sess: sess, m: m, runner: runner, st: st}, 0)
	sumN := core.NewNode[TurnState, struct{}, string](&summarizeNode{o: o, sess: sess, m: m, st: st}, 0)

	classify.AddSuccessor(planN, core.ActionPlan)
	classify.AddSuccessor(reactN, core.ActionReact)
	classify.AddSuccessor(sumN, core.ActionSummarize)
	planN.AddSuccessor(execN, core.ActionExecute)
	planN.AddSuccessor(reactN, core.ActionReact)
	planN.AddSuccessor(sumN, core.ActionSummarize)
	execN.AddSuccessor(verifyN, core.ActionVerify)
	execN.AddSuccessor(sumN, core.ActionSummarize)
	verifyN.AddSuccessor(sumN, core.ActionSummarize)
	reactN.AddSuccessor(sumN, core.ActionSummarize)

	flow := core.NewFlow[TurnState](classify)
	action := flow.Run(ctx, st)

	if ctx.Err() != nil && st.StopReason == "" {
		st.StopReason = StopCancelled
	}
	if action == core.ActionFailure && st.FinalText == "" {
		st.FinalText = "The turn could not be completed."
		if st.FailCode == "" {
			st.FailCode = tool.ErrTool
		}
	}
	return st.result()
}

// chatText is the per-turn model call wrapper: cost guard, then the
// chokepoint. Pathological model output (repetition, timeout) terminates the
// turn with stop reason llm_error; exceeding the cost guard terminates with
// max_iterations.
func (o *Orchestrator) chatText(ctx context.Context, sess *session.Session, st *TurnState) (string, error) {
	st.llmCalls++
	if limit := o.maxTurnLLMCalls(); st.llmCalls > limit {
		if st.StopReason == "" {
			st.StopReason = StopMaxIterations
		}
		return "", fmt.Errorf("turn cost guard: %d model calls exceed the limit of %d", st.llmCalls, limit)
	}

	text, err := o.Chat.Chat(ctx, sess.Messages.Messages())
	if err != nil {
		var lerr *llm.Error
		// A cancelled context also surfaces as a timeout-kind error; that is
		// the cancellation path, not a model failure.
		if errors.As(err, &lerr) && ctx.Err() == nil {
			switch lerr.Kind {
			case llm.ErrRepetition, llm.ErrTimeout:
				if st.StopReason == "" {
					st.StopReason = StopLLMError
				}
			}
		}
		return "", err
	}
	return text, nil
}

func (o *Orchestrator) maxTurnLLMCalls() int {
	return o.Fuses.MaxPlanSteps*(o.Fuses.MaxStepToolCalls+2) + 8
}

func (o *Orchestrator) maxContext() int {
	if o.ContextTokens > 0 {
		return o.ContextTokens
	}
	return 128000
}

func (o *Orchestrator) emit(kind event.Kind, payload map[string]any) {
	if o.Bus != nil {
		o.Bus.Emit(kind, payload)
	}
}

func (o *Orchestrator) emitStep(kind event.Kind, stepID string, payload map[string]any) {
	if o.Bus != nil {
		o.Bus.EmitStep(kind, stepID, payload)
	}
}

// ── Pipeline nodes ──

// classifyNode resolves intent and profile, composes the system prompt, and
// routes to planning or the ReAct loop.
type classifyNode struct {
	o    *Orchestrator
	sess *session.Session
	m    *Machine
}

func (n *classifyNode) Prep(st *TurnState) []string { return []string{st.Input} }

func (n *classifyNode) Exec(ctx context.Context, input string) (intent.Result, error) {
	return n.o.Classifier.Classify(ctx, input), nil
}

func (n *classifyNode) ExecFallback(error) intent.Result {
	return intent.Result{Category: intent.Uncertain, Stage: "fallback"}
}

func (n *classifyNode) Post(st *TurnState, _ []string, results ...intent.Result) core.Action {
	st.Intent = results[0]
	st.Profile = n.o.Profiles.Select(st.Intent.Category, n.o.Bus)
	_ = n.m.Enter(StateContextBuild)

	assets := n.o.Profiles.Assets()
	vars := map[string]string{
		"tool_manifest":  n.o.Tools.Manifest(),
		"workspace_root": n.o.Workspace,
		"session_id":     n.sess.ID,
	}
	n.sess.Messages.SetSystem(assets.ComposeSystem(st.Profile, vars))
	n.o.emit(event.KindSystemPromptRefresh, map[string]any{"profile": st.Profile.Name})

	n.sess.Messages.AppendUser(assets.RenderUser(st.Profile, map[string]string{"input": st.Input}))

	if st.Profile.PlanningEnabled {
		_ = n.m.Enter(StatePlanning)
		return core.ActionPlan
	}
	_ = n.m.Enter(StateExecuting)
	return core.ActionReact
}

// planNode asks the model for a FullPlan, with corrective retries on
// malformed output. When the retries are spent without a valid plan the turn
// terminates with stop reason llm_error.
type planOutcome struct {
	plan      *plan.FullPlan
	cancelled bool
}

type planNode struct {
	o    *Orchestrator
	sess *session.Session
	m    *Machine
	st   *TurnState
}

func (n *planNode) Prep(st *TurnState) []struct{} {
	n.st = st
	return []struct{}{{}}
}

func (n *planNode) Exec(ctx context.Context, _ struct{}) (planOutcome, error) {
	n.sess.Messages.AppendUser(planPrompt(n.o.Fuses.MaxPlanSteps))

	for attempt := 0; attempt <= n.o.Fuses.MaxLLMRetries; attempt++ {
		text, err := n.o.chatText(ctx, n.sess, n.st)
		if err != nil {
			return planOutcome{cancelled: ctx.Err() != nil}, nil
		}
		n.sess.Messages.AppendAssistant(text)

		p, perr := plan.Parse(text, n.o.Fuses.MaxPlanSteps)
		if perr == nil {
			return planOutcome{plan: p}, nil
		}
		n.sess.Messages.AppendUser(fmt.Sprintf("The plan was rejected: %v. Respond with a single valid FullPlan JSON object and nothing else.", perr))
	}
	return planOutcome{}, nil
}

func (n *planNode) ExecFallback(error) planOutcome { return planOutcome{} }

func (n *planNode) Post(st *TurnState, _ []struct{}, results ...planOutcome) core.Action {
	out := results[0]
	if out.cancelled {
		st.StopReason = StopCancelled
		_ = n.m.Apply(InputCancel)
		return core.ActionSummarize
	}
	if out.plan == nil {
		log.Printf("[Agent] No valid plan after retries, stopping the turn")
		n.o.emit(event.KindLLMError, map[string]any{"kind": "protocol", "detail": "no valid plan produced"})
		if st.StopReason == "" {
			st.StopReason = StopLLMError
		}
		if st.FailCode == "" {
			st.FailCode = tool.ErrModel
		}
		_ = n.m.Enter(StateSummarizing)
		return core.ActionSummarize
	}

	st.Plan = out.plan
	done, total := out.plan.Progress()
	n.o.emit(event.KindPlanGenerated, map[string]any{
		"title": out.plan.Title, "steps": total, "done": done,
		"verification": out.plan.Verification.Mode,
	})
	_ = n.m.Enter(StateExecuting)
	return core.ActionExecute
}

// executeNode runs the plan executor.
type execOutcome struct {
	completed bool
	notes     []string
}

type executeNode struct {
	o      *Orchestrator
	sess   *session.Session
	m      *Machine
	runner *toolRunner
	st     *TurnState
}

func (n *executeNode) Prep(st *TurnState) []struct{} {
	n.st = st
	return []struct{}{{}}
}

func (n *executeNode) Exec(ctx context.Context, _ struct{}) (execOutcome, error) {
	ex := &executor{o: n.o, sess: n.sess, st: n.st, machine: n.m, runner: n.runner}
	ok := ex.run(ctx)
	return execOutcome{completed: ok, notes: ex.notes}, nil
}

func (n *executeNode) ExecFallback(error) execOutcome { return execOutcome{} }

func (n *executeNode) Post(st *TurnState, _ []struct{}, results ...execOutcome) core.Action {
	out := results[0]
	if len(out.notes) > 0 {
		st.Notes = out.notes
	}
	if out.completed && st.Plan != nil && needsVerification(st.Plan) {
		_ = n.m.Enter(StateVerifying)
		return core.ActionVerify
	}
	if n.m.Current() != StateDone {
		_ = n.m.Enter(StateSummarizing)
	}
	return core.ActionSummarize
}

func needsVerification(p *plan.FullPlan) bool {
	return p.Verification.Mode != "" && p.Verification.Mode != plan.VerifyNone &&
		len(p.Verification.Commands) > 0
}

// verifyNode runs the plan's verification commands through the normal tool
// pipeline, so they face the same policy gates as model-issued calls.
type verifyOutcome struct {
	failed bool
}

type verifyNode struct {
	o      *Orchestrator
	sess   *session.Session
	m      *Machine
	runner *toolRunner
	st     *TurnState
}

func (n *verifyNode) Prep(st *TurnState) []struct{} {
	n.st = st
	return []struct{}{{}}
}

func (n *verifyNode) Exec(ctx context.Context, _ struct{}) (verifyOutcome, error) {
	v := n.st.Plan.Verification
	failed := false
	for _, cmd := range v.Commands {
		feedback, res := n.runner.run(ctx, "", "run_cmd", map[string]any{"command": cmd}, nil)
		n.sess.Messages.AppendUser(feedback)

		ok := res.OK && payloadInt(res.Payload, "exit_code") == 0
		n.o.emit(event.KindVerify, map[string]any{"command": cmd, "mode": v.Mode, "ok": ok})
		if !ok {
			failed = true
			if v.StopOnFail {
				break
			}
		}
	}
	return verifyOutcome{failed: failed}, nil
}

func (n *verifyNode) ExecFallback(error) verifyOutcome { return verifyOutcome{failed: true} }

func (n *verifyNode) Post(st *TurnState, _ []struct{}, results ...verifyOutcome) core.Action {
	if results[0].failed {
		st.VerifyFailed = true
		if st.Plan.Verification.Required {
			st.FailCode = tool.ErrBuildFail
		}
	}
	_ = n.m.Enter(StateSummarizing)
	return core.ActionSummarize
}

func payloadInt(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// reactNode runs the plan-free loop.
type reactNode struct {
	o      *Orchestrator
	sess   *session.Session
	m      *Machine
	runner *toolRunner
	st     *TurnState
}

func (n *reactNode) Prep(st *TurnState) []struct{} {
	n.st = st
	return []struct{}{{}}
}

func (n *reactNode) Exec(ctx context.Context, _ struct{}) (bool, error) {
	r := &reactLoop{o: n.o, sess: n.sess, st: n.st, machine: n.m, runner: n.runner}
	return r.run(ctx), nil
}

func (n *reactNode) ExecFallback(error) bool { return false }

func (n *reactNode) Post(st *TurnState, _ []struct{}, _ ...bool) core.Action {
	if n.m.Current() != StateDone {
		_ = n.m.Enter(StateSummarizing)
	}
	return core.ActionSummarize
}

// summarizeNode produces the final answer and closes the turn's event
// stream with final_text and stop_reason.
type summarizeNode struct {
	o    *Orchestrator
	sess *session.Session
	m    *Machine
	st   *TurnState
}

func (n *summarizeNode) Prep(st *TurnState) []struct{} {
	n.st = st
	return []struct{}{{}}
}

func (n *summarizeNode) Exec(ctx context.Context, _ struct{}) (string, error) {
	st := n.st
	if st.FinalText != "" {
		return st.FinalText, nil
	}
	if st.StopReason == StopCancelled {
		return "Cancelled before completion.", nil
	}
	if st.StopReason == StopLLMError {
		// The model is misbehaving; asking it to summarize would feed the
		// same failure back to the user.
		return "The model produced unusable output and the turn was stopped.", nil
	}

	prompt := summarizeInstruction
	if st.StopReason != "" {
		prompt = fmt.Sprintf("Execution stopped early (%s). %s", st.StopReason, summarizeInstruction)
	} else if st.VerifyFailed {
		prompt = "Verification commands failed. " + summarizeInstruction
	}
	n.sess.Messages.AppendUser(prompt)

	text, err := n.o.chatText(ctx, n.sess, st)
	if err != nil || strings.TrimSpace(text) == "" {
		return n.fallbackSummary(), nil
	}
	n.sess.Messages.AppendAssistant(text)
	if out := parse.Parse(text); out.Kind == parse.KindText {
		return out.Text, nil
	}
	return n.fallbackSummary(), nil
}

func (n *summarizeNode) fallbackSummary() string {
	if len(n.st.Notes) > 0 {
		return strings.Join(n.st.Notes, "\n\n")
	}
	if n.st.Plan != nil {
		return "Work finished without a model summary. Final plan state:\n" + n.st.Plan.Render()
	}
	return "The turn ended without a summary."
}

func (n *summarizeNode) ExecFallback(error) string { return "The turn ended without a summary." }

func (n *summarizeNode) Post(st *TurnState, _ []struct{}, results ...string) core.Action {
	st.FinalText = results[0]

	reason := st.StopReason
	if reason == "" {
		reason = StopDone
	}
	n.o.emit(event.KindFinalText, map[string]any{"length": len(st.FinalText)})
	n.o.emit(event.KindStopReason, map[string]any{"reason": reason, "exit_code": st.exitCode()})

	if n.m.Current() == StateSummarizing {
		_ = n.m.Enter(StateDone)
	}
	return core.ActionDone
}
