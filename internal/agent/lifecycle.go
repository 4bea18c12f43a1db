package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/cludelabs/clude/internal/audit"
	"github.com/cludelabs/clude/internal/compress"
	"github.com/cludelabs/clude/internal/event"
	"github.com/cludelabs/clude/internal/policy"
	"github.com/cludelabs/clude/internal/session"
	"github.com/cludelabs/clude/internal/tool"
)

// toolRunner carries one tool call through the full pipeline: validation,
// risk routing, confirmation, command screening, dispatch, and result
// compression. One runner per turn; it tracks which tools already ran so the
// compressor can grant first calls detailed fidelity.
type toolRunner struct {
	o       *Orchestrator
	sess    *session.Session
	st      *TurnState
	machine *Machine
	traceID string

	seen         map[string]bool
	planApproved bool

	// Loop detection: identical consecutive calls get a warning appended to
	// the feedback so the model breaks out of retry spirals.
	lastKey    string
	repeats    int
	deniedRuns int
}

func newToolRunner(o *Orchestrator, sess *session.Session, st *TurnState, m *Machine, traceID string) *toolRunner {
	return &toolRunner{
		o: o, sess: sess, st: st, machine: m, traceID: traceID,
		seen: make(map[string]bool),
	}
}

// run executes one parsed tool call and returns the feedback message for the
// model alongside the raw result.
func (r *toolRunner) run(ctx context.Context, stepID, name string, rawArgs map[string]any, keywords []string) (string, tool.ToolResult) {
	r.o.emitStep(event.KindToolCallParsed, stepID, map[string]any{"tool": name})

	start := time.Now()
	res, ran := r.gate(ctx, stepID, name, rawArgs)
	durationMS := time.Since(start).Milliseconds()
	if ran {
		_ = r.machine.Apply(InputToolCallResult)
	}

	code := ""
	if res.Err != nil {
		code = string(res.Err.Code)
	}
	r.o.emitStep(event.KindToolResult, stepID, map[string]any{
		"tool": name, "ok": res.OK, "code": code, "from_cache": res.FromCache,
		"duration_ms":   durationMS,
		"args_digest":   audit.PayloadDigest(rawArgs),
		"result_digest": audit.PayloadDigest(res.Payload),
	})

	feedback := r.feedback(name, res, keywords)
	if warn := r.detectLoop(name, rawArgs, res); warn != "" {
		feedback += "\n" + warn
	}
	r.o.emitStep(event.KindToolResultFedBack, stepID, map[string]any{"tool": name, "bytes": len(feedback)})
	return feedback, res
}

// gate runs the policy pipeline and dispatches. The bool reports whether the
// handler actually ran (false for validation and policy rejections).
func (r *toolRunner) gate(ctx context.Context, stepID, name string, rawArgs map[string]any) (tool.ToolResult, bool) {
	args, verr := r.o.Tools.ValidateArgs(name, rawArgs)
	if verr != nil {
		return *verr, false
	}
	spec, _ := r.o.Tools.Get(name)
	if !spec.CallableByModel {
		// Indistinguishable from an unknown tool on purpose.
		return tool.Fail(tool.ErrNoTool, "unknown tool %q", name), false
	}

	switch policy.Route(r.st.Profile.RiskLevel, spec.SideEffects) {
	case policy.DecisionReject:
		r.o.emitStep(event.KindPolicyDeny, stepID, map[string]any{
			"tool": name, "reason": "rejected at risk level " + string(r.st.Profile.RiskLevel),
		})
		return tool.Fail(tool.ErrPolicyDenied, "tool %s is not allowed at risk level %s", name, r.st.Profile.RiskLevel), false

	case policy.DecisionApprove:
		// Plan review: one approval covers the rest of the turn.
		if !r.planApproved {
			ok, err := r.confirm(ctx, stepID, name, args, r.planPreview())
			if err != nil || !ok {
				return r.denied(stepID, name, err), false
			}
			r.planApproved = true
		}

	case policy.DecisionConfirm:
		ok, err := r.confirm(ctx, stepID, name, args, "")
		if err != nil || !ok {
			return r.denied(stepID, name, err), false
		}
	}

	if spec.SideEffects == tool.SideEffectExec {
		if cmd, _ := args["command"].(string); cmd != "" {
			if err := r.o.Screen.Check(cmd); err != nil {
				r.o.emitStep(event.KindPolicyDeny, stepID, map[string]any{
					"tool": name, "reason": err.Error(),
				})
				return tool.Fail(tool.ErrPolicyDenied, "command rejected: %v", err), false
			}
		}
	}

	hc := tool.HandlerContext{Ctx: ctx, Workspace: r.o.Workspace, TraceID: r.traceID}
	return r.o.Tools.Dispatch(hc, r.sess.Cache, name, args), true
}

// confirm walks the machine through the confirmation exchange and asks the
// configured confirmer. A nil confirmer denies: the safe default when no
// terminal is attached.
func (r *toolRunner) confirm(ctx context.Context, stepID, name string, args map[string]any, planPreview string) (bool, error) {
	_ = r.machine.Apply(InputToolCallRequest)
	defer func() { _ = r.machine.Apply(InputConfirm) }()

	req := policy.ConfirmRequest{
		Tool:        name,
		Summary:     confirmSummary(name, args),
		Args:        args,
		PlanPreview: planPreview,
		Paths:       confirmPaths(args),
	}
	var ok bool
	var err error
	if r.o.Confirmer == nil {
		ok = false
	} else {
		ok, err = r.o.Confirmer.Confirm(ctx, req)
	}
	r.o.emitStep(event.KindToolConfirm, stepID, map[string]any{
		"tool": name, "approved": ok && err == nil, "plan_review": planPreview != "",
	})
	return ok, err
}

func (r *toolRunner) denied(stepID, name string, err error) tool.ToolResult {
	r.deniedRuns++
	reason := "user denied the call"
	if err != nil {
		reason = fmt.Sprintf("confirmation failed: %v", err)
	}
	r.o.emitStep(event.KindPolicyDeny, stepID, map[string]any{"tool": name, "reason": reason})
	return tool.Fail(tool.ErrDenied, "%s: %s", name, reason)
}

func (r *toolRunner) planPreview() string {
	if r.st.Plan != nil {
		return r.st.Plan.Render()
	}
	return ""
}

// feedback compresses the result at a fidelity matched to context pressure.
func (r *toolRunner) feedback(name string, res tool.ToolResult, keywords []string) string {
	utilization := r.o.Budget.Utilization(r.sess.Messages.Messages(), r.o.maxContext())
	first := !r.seen[name]
	r.seen[name] = true

	fid := r.o.Compressor.ChooseFidelity(utilization, first)
	return compress.Render(r.o.Compressor.Compress(name, res, fid, keywords))
}

// detectLoop flags the third identical call in a row.
func (r *toolRunner) detectLoop(name string, args map[string]any, res tool.ToolResult) string {
	key := tool.Key(name, args)
	if key == r.lastKey {
		r.repeats++
	} else {
		r.lastKey = key
		r.repeats = 0
	}
	if r.repeats >= 2 && !res.FromCache {
		return "Note: this exact call has now run several times with the same arguments. Change approach instead of repeating it."
	}
	return ""
}

func confirmSummary(name string, args map[string]any) string {
	if cmd, _ := args["command"].(string); cmd != "" {
		return fmt.Sprintf("%s: %s", name, cmd)
	}
	if p, _ := args["path"].(string); p != "" {
		return fmt.Sprintf("%s: %s", name, p)
	}
	return name
}

func confirmPaths(args map[string]any) []string {
	if p, _ := args["path"].(string); p != "" {
		return []string{p}
	}
	return nil
}
