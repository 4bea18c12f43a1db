package agent

import (
	"github.com/cludelabs/clude/internal/intent"
	"github.com/cludelabs/clude/internal/plan"
	"github.com/cludelabs/clude/internal/profile"
	"github.com/cludelabs/clude/internal/tool"
)

// Stop reasons. An empty StopReason on TurnState means nothing went wrong;
// it surfaces to the user as StopDone.
const (
	StopDone            = "done"
	StopCancelled       = "cancelled"
	StopMaxIterations   = "max_iterations"
	StopDeadlock        = "deadlock"
	StopReplanExhausted = "replan_exhausted"
	StopLLMError        = "llm_error"
	StopInternalError   = "internal_error"
)

// Exit codes for the CLI.
const (
	ExitOK           = 0
	ExitFailure      = 1
	ExitPolicyDenied = 2
	ExitInvalidArgs  = 3
	ExitCancelled    = 4
)

// TurnState is the shared state the pipeline nodes read and write. One value
// per turn; only the node lifecycle touches it, so no locking.
type TurnState struct {
	Input   string
	Intent  intent.Result
	Profile profile.Profile
	Plan    *plan.FullPlan

	FinalText  string
	StopReason string
	// Notes holds plain-text output of informational plan steps; the summary
	// falls back to it when no model summary is available.
	Notes []string
	// FailCode is set when a failure decides the turn's outcome, and maps to
	// the process exit code.
	FailCode tool.ErrorCode

	VerifyFailed bool
	llmCalls     int
}

// TurnResult is what RunTurn hands back to the caller.
type TurnResult struct {
	FinalText  string
	StopReason string
	ExitCode   int
}

func (st *TurnState) result() TurnResult {
	reason := st.StopReason
	if reason == "" {
		reason = StopDone
	}
	return TurnResult{
		FinalText:  st.FinalText,
		StopReason: reason,
		ExitCode:   st.exitCode(),
	}
}

func (st *TurnState) exitCode() int {
	if st.StopReason == StopCancelled {
		return ExitCancelled
	}
	switch st.FailCode {
	case "":
	case tool.ErrPolicyDenied, tool.ErrDenied:
		return ExitPolicyDenied
	case tool.ErrInvalidArgs:
		return ExitInvalidArgs
	default:
		return ExitFailure
	}
	if st.StopReason != "" && st.StopReason != StopDone {
		return ExitFailure
	}
	return ExitOK
}
