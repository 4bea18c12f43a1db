package parse

import "testing"

func TestParse_ControlFrames(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		control string
		reason  string
	}{
		{"step done", `{"control": "step_done"}`, ControlStepDone, ""},
		{"replan with reason", `{"control": "replan", "reason": "missing file"}`, ControlReplan, "missing file"},
		{"replan bare", `{"control":"replan"}`, ControlReplan, ""},
		{"surrounding whitespace", "  \n {\"control\": \"step_done\"} \n", ControlStepDone, ""},
		{"fenced", "```json\n{\"control\": \"step_done\"}\n```", ControlStepDone, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.raw)
			if got.Kind != KindControl {
				t.Fatalf("kind = %q, want control", got.Kind)
			}
			if got.Control != tt.control || got.Reason != tt.reason {
				t.Errorf("got %q/%q, want %q/%q", got.Control, got.Reason, tt.control, tt.reason)
			}
		})
	}
}

func TestParse_ToolCalls(t *testing.T) {
	got := Parse(`{"tool": "read_file", "args": {"path": "main.go"}}`)
	if got.Kind != KindToolCall {
		t.Fatalf("kind = %q, want tool_call", got.Kind)
	}
	if got.ToolName != "read_file" {
		t.Errorf("tool = %q", got.ToolName)
	}
	if got.ToolArgs["path"] != "main.go" {
		t.Errorf("args = %v", got.ToolArgs)
	}

	// Missing args object defaults to empty, not nil.
	got = Parse(`{"tool": "list_dir"}`)
	if got.Kind != KindToolCall || got.ToolArgs == nil {
		t.Errorf("bare tool call: %+v", got)
	}

	// Fenced block containing exactly one object.
	got = Parse("```\n{\"tool\": \"grep_files\", \"args\": {\"pattern\": \"TODO\"}}\n```")
	if got.Kind != KindToolCall || got.ToolName != "grep_files" {
		t.Errorf("fenced tool call: %+v", got)
	}
}

func TestParse_ProseDisqualifies(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"prose before json", `I will now call {"tool": "read_file", "args": {}}`},
		{"prose after json", `{"control": "step_done"} and that concludes the step`},
		{"control keyword in prose", "The step is STEP_DONE now."},
		{"step_done in prose", "I emitted step_done as requested."},
		{"two objects", `{"control":"step_done"}{"control":"replan"}`},
		{"json array", `[{"tool": "read_file"}]`},
		{"unknown control verb", `{"control": "abort"}`},
		{"hybrid frame", `{"control": "step_done", "tool": "read_file"}`},
		{"bare string json", `"step_done"`},
		{"text after fence", "```\n{\"control\":\"step_done\"}\n```\ndone"},
		{"empty", ""},
		{"plain answer", "The function reads a file and returns its contents."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Parse(tt.raw); got.Kind != KindText {
				t.Errorf("kind = %q, want text for %q", got.Kind, tt.raw)
			}
		})
	}
}

func TestParse_PrecedenceControlOverTool(t *testing.T) {
	// A frame that decodes as a control frame must never be treated as a
	// tool call even though "control" could be an argument name elsewhere.
	got := Parse(`{"control": "replan", "reason": "tool missing"}`)
	if got.Kind != KindControl {
		t.Fatalf("kind = %q, want control", got.Kind)
	}
}

func TestParse_TextPreservedVerbatim(t *testing.T) {
	raw := "  leading spaces matter to the renderer  "
	if got := Parse(raw); got.Text != raw {
		t.Errorf("text altered: %q", got.Text)
	}
}
