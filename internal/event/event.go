// Package event defines the structured event stream that every core component
// emits into. Each turn produces a strictly ordered sequence of TurnEvents on
// a per-session Bus; the audit and trace recorders consume it.
package event

import "time"

// Kind identifies the event type. The vocabulary is fixed; components must
// not invent ad-hoc kinds, or replay tooling breaks.
type Kind string

const (
	KindIntentClassified     Kind = "intent_classified"
	KindProfileSelected      Kind = "profile_selected"
	KindSystemPromptRefresh  Kind = "system_prompt_refreshed"
	KindPlanGenerated        Kind = "plan_generated"
	KindPlanStepStart        Kind = "plan_step_start"
	KindPlanStepEnd          Kind = "plan_step_end"
	KindPlanReplanned        Kind = "plan_replanned"
	KindLLMRequest           Kind = "llm_request"
	KindLLMResponse          Kind = "llm_response"
	KindLLMError             Kind = "llm_error"
	KindToolCallParsed       Kind = "tool_call_parsed"
	KindToolConfirm          Kind = "tool_confirm"
	KindPolicyDeny           Kind = "policy_deny"
	KindToolResult           Kind = "tool_result"
	KindToolResultFedBack    Kind = "tool_result_fed_back"
	KindVerify               Kind = "verify"
	KindState                Kind = "state"
	KindFinalText            Kind = "final_text"
	KindStopReason           Kind = "stop_reason"
)

// TurnEvent is one entry in the per-session event stream.
// Seq is a monotonically increasing sequence number assigned by the Bus;
// replay must observe the same order. Across sessions, ordering is undefined.
type TurnEvent struct {
	TraceID   string         `json:"trace_id"`
	SessionID string         `json:"session_id"`
	StepID    string         `json:"step_id,omitempty"`
	Seq       uint64         `json:"seq"`
	Timestamp time.Time      `json:"timestamp"`
	Kind      Kind           `json:"kind"`
	Payload   map[string]any `json:"payload,omitempty"`
}
