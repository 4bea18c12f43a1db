// Package tool defines the tool specification model, the frozen registry,
// and the session result cache. Tools are declared as data (Spec) rather
// than interfaces so the registry can validate arguments, render manifests,
// and route side effects without invoking handler code.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
)

// ErrorCode is the closed set of tool failure codes. Handlers and the
// dispatch pipeline never invent codes outside this set.
type ErrorCode string

const (
	ErrNoTool       ErrorCode = "E_NO_TOOL"
	ErrInvalidArgs  ErrorCode = "E_INVALID_ARGS"
	ErrPolicyDenied ErrorCode = "E_POLICY_DENIED"
	ErrDenied       ErrorCode = "E_DENIED"
	ErrIO           ErrorCode = "E_IO"
	ErrToolTimeout  ErrorCode = "E_TOOL_TIMEOUT"
	ErrConflict     ErrorCode = "E_CONFLICT"
	ErrBuildFail    ErrorCode = "E_BUILD_FAIL"
	ErrModel        ErrorCode = "E_MODEL"
	ErrTool         ErrorCode = "E_TOOL"
	ErrRAGDisabled  ErrorCode = "E_RAG_DISABLED"
)

// SideEffect classifies what a tool touches. The risk router keys off it.
type SideEffect string

const (
	SideEffectRead    SideEffect = "read"
	SideEffectWrite   SideEffect = "write"
	SideEffectExec    SideEffect = "exec"
	SideEffectNetwork SideEffect = "network"
)

// ToolError is the structured error half of a ToolResult.
type ToolError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *ToolError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// ToolResult is the uniform outcome of one tool invocation. Exactly one of
// Payload/Err is meaningful depending on OK.
type ToolResult struct {
	OK        bool           `json:"ok"`
	Payload   map[string]any `json:"payload,omitempty"`
	Err       *ToolError     `json:"error,omitempty"`
	FromCache bool           `json:"from_cache,omitempty"`

	// TouchedPaths lists workspace paths the handler modified. Dispatch uses
	// it to invalidate cached read results. Empty for read tools.
	TouchedPaths []string `json:"-"`
}

// Fail builds an error result.
func Fail(code ErrorCode, format string, a ...any) ToolResult {
	return ToolResult{OK: false, Err: &ToolError{Code: code, Message: fmt.Sprintf(format, a...)}}
}

// FailWith builds an error result carrying structured details.
func FailWith(code ErrorCode, message string, details map[string]any) ToolResult {
	return ToolResult{OK: false, Err: &ToolError{Code: code, Message: message, Details: details}}
}

// Succeed builds an ok result.
func Succeed(payload map[string]any) ToolResult {
	return ToolResult{OK: true, Payload: payload}
}

// HandlerContext carries the per-call environment into a handler.
type HandlerContext struct {
	Ctx       context.Context
	Workspace string // absolute workspace root; all paths resolve inside it
	TraceID   string
}

// Handler executes a tool with already-validated arguments.
type Handler func(hc HandlerContext, args map[string]any) ToolResult

// Spec is one registry entry. Immutable after registry construction.
type Spec struct {
	Name        string
	Summary     string
	Description string

	// ArgsSchema is a JSON Schema object. BuildSchema produces conforming
	// schemas with additionalProperties=false.
	ArgsSchema json.RawMessage

	// ExampleArgs must validate against ArgsSchema; checked at registry
	// construction so the manifest never shows a broken example.
	ExampleArgs map[string]any

	SideEffects     SideEffect
	VisibleInPrompt bool
	CallableByModel bool
	Idempotent      bool

	Handler Handler
}
