package plan

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Parse extracts and validates a FullPlan from model output. The outermost
// JSON object is located by brace scanning, so leading and trailing prose
// around the plan is tolerated (unlike tool-call parsing, which is strict).
func Parse(text string, maxSteps int) (*FullPlan, error) {
	raw, err := outermostObject(text)
	if err != nil {
		return nil, err
	}

	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	if probe.Type != TypeFullPlan {
		return nil, fmt.Errorf("object type is %q, want %q", probe.Type, TypeFullPlan)
	}

	var p FullPlan
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	p.Normalize()
	if err := p.Validate(maxSteps); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	return &p, nil
}

// ParsePatch extracts and validates a PlanPatch from model output. A model
// asked for a patch may answer with a FullPlan when patching is impossible;
// callers should try ParsePatch first and fall back to Parse.
func ParsePatch(text string) (*Patch, error) {
	raw, err := outermostObject(text)
	if err != nil {
		return nil, err
	}

	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return nil, fmt.Errorf("decode patch: %w", err)
	}
	if probe.Type != TypePatch {
		return nil, fmt.Errorf("object type is %q, want %q", probe.Type, TypePatch)
	}

	var patch Patch
	if err := json.Unmarshal([]byte(raw), &patch); err != nil {
		return nil, fmt.Errorf("decode patch: %w", err)
	}
	if len(patch.Remove) == 0 && len(patch.Update) == 0 && len(patch.Add) == 0 {
		return nil, fmt.Errorf("empty patch")
	}
	return &patch, nil
}

// outermostObject finds the first balanced top-level JSON object in text.
// Braces inside JSON strings are skipped by tracking string state.
func outermostObject(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object in output")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				candidate := text[start : i+1]
				if !json.Valid([]byte(candidate)) {
					return "", fmt.Errorf("malformed JSON object in output")
				}
				return candidate, nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON object in output")
}

// Render formats the plan as a markdown checklist for prompt injection and
// terminal display.
func (p *FullPlan) Render() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Plan: %s\n", p.Title)
	for _, c := range p.Constraints {
		fmt.Fprintf(&sb, "- constraint: %s\n", c)
	}
	for _, s := range p.Steps {
		fmt.Fprintf(&sb, "- %s %s: %s", statusIcon(s.Status), s.ID, s.Description)
		if len(s.Dependencies) > 0 {
			fmt.Fprintf(&sb, " (after %s)", strings.Join(s.Dependencies, ", "))
		}
		sb.WriteByte('\n')
	}
	done, total := p.Progress()
	fmt.Fprintf(&sb, "Progress: %d/%d done\n", done, total)
	if p.Verification.Mode != "" && p.Verification.Mode != VerifyNone {
		fmt.Fprintf(&sb, "Verification: %s %s\n", p.Verification.Mode, strings.Join(p.Verification.Commands, "; "))
	}
	return sb.String()
}

func statusIcon(status string) string {
	switch status {
	case StatusDone:
		return "[x]"
	case StatusInProgress:
		return "[>]"
	case StatusFailed:
		return "[!]"
	case StatusBlocked:
		return "[#]"
	case StatusSkipped:
		return "[-]"
	default:
		return "[ ]"
	}
}
