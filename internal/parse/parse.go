// Package parse interprets assistant output. The model is allowed exactly two
// structured shapes, a control frame and a tool call, and anything else is
// plain text. The parser is strict on purpose: a JSON-looking fragment inside
// prose is prose, and the literal words "step_done" in a sentence carry no
// control semantics.
package parse

import (
	"encoding/json"
	"strings"
)

// OutputKind tags the parsed shape of an assistant message.
type OutputKind string

const (
	KindText     OutputKind = "text"
	KindToolCall OutputKind = "tool_call"
	KindControl  OutputKind = "control"
)

// Control frame verbs.
const (
	ControlStepDone = "step_done"
	ControlReplan   = "replan"
)

// Output is the parsed form of one assistant message. Exactly one of the
// shape-specific fields is populated, selected by Kind.
type Output struct {
	Kind OutputKind

	// KindText
	Text string

	// KindToolCall
	ToolName string
	ToolArgs map[string]any

	// KindControl
	Control string
	Reason  string
}

// controlFrame is the wire shape of a control frame.
type controlFrame struct {
	Control string `json:"control"`
	Reason  string `json:"reason,omitempty"`
}

// toolCall is the wire shape of a tool call.
type toolCall struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// Parse classifies assistant output. Precedence: control frame, then tool
// call, then text. Structured shapes must be the entire message content (a
// single fenced code block holding one JSON object also qualifies); any
// surrounding prose demotes the output to text.
func Parse(raw string) Output {
	candidate, ok := extractJSONObject(raw)
	if !ok {
		return Output{Kind: KindText, Text: raw}
	}

	if cf, ok := parseControl(candidate); ok {
		return cf
	}
	if tc, ok := parseToolCall(candidate); ok {
		return tc
	}
	return Output{Kind: KindText, Text: raw}
}

func parseControl(candidate string) (Output, bool) {
	var cf controlFrame
	if err := strictUnmarshal(candidate, &cf); err != nil {
		return Output{}, false
	}
	if cf.Control != ControlStepDone && cf.Control != ControlReplan {
		return Output{}, false
	}
	return Output{Kind: KindControl, Control: cf.Control, Reason: cf.Reason}, true
}

func parseToolCall(candidate string) (Output, bool) {
	var tc toolCall
	if err := strictUnmarshal(candidate, &tc); err != nil {
		return Output{}, false
	}
	if tc.Tool == "" {
		return Output{}, false
	}
	if tc.Args == nil {
		tc.Args = map[string]any{}
	}
	return Output{Kind: KindToolCall, ToolName: tc.Tool, ToolArgs: tc.Args}, true
}

// strictUnmarshal decodes candidate into v, rejecting unknown fields so that
// {"tool": ..., "control": ...} hybrids cannot match both shapes.
func strictUnmarshal(candidate string, v any) error {
	dec := json.NewDecoder(strings.NewReader(candidate))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// extractJSONObject returns the single JSON object that constitutes the whole
// message, or reports that the message is prose. Accepted forms:
//   - the trimmed content is one JSON object
//   - the trimmed content is exactly one fenced code block whose body is one
//     JSON object (an optional language tag like ```json is allowed)
func extractJSONObject(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}

	if body, ok := unwrapSingleFence(s); ok {
		s = strings.TrimSpace(body)
	}

	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return "", false
	}
	if !json.Valid([]byte(s)) {
		return "", false
	}
	// Reject concatenations like {..}{..}: the decoder must consume
	// everything in one value.
	dec := json.NewDecoder(strings.NewReader(s))
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", false
	}
	if dec.More() {
		return "", false
	}
	if _, isObj := v.(map[string]any); !isObj {
		return "", false
	}
	return s, true
}

// unwrapSingleFence strips a fenced code block when the block is the entire
// string. Returns ok=false when the string is not a single complete fence.
func unwrapSingleFence(s string) (string, bool) {
	if !strings.HasPrefix(s, "```") {
		return "", false
	}
	rest := s[3:]
	// Optional language tag up to the first newline.
	nl := strings.IndexByte(rest, '\n')
	if nl < 0 {
		return "", false
	}
	body := rest[nl+1:]
	end := strings.Index(body, "```")
	if end < 0 {
		return "", false
	}
	if strings.TrimSpace(body[end+3:]) != "" {
		return "", false
	}
	return body[:end], true
}
