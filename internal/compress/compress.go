// Package compress converts raw tool results into bounded summaries before
// they re-enter the conversation. The model never sees an unbounded payload:
// every string is capped, every list is capped, and anything cut is marked.
package compress

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cludelabs/clude/internal/tool"
)

// Fidelity selects how much of a result survives compression.
type Fidelity string

const (
	FidelitySummary  Fidelity = "summary"
	FidelityCompact  Fidelity = "compact"
	FidelityDetailed Fidelity = "detailed"
)

// countFields are the payload keys kept at summary fidelity.
var countFields = map[string]bool{
	"hits": true, "files_matched": true, "files_scanned": true,
	"lines": true, "total_lines": true, "count": true,
	"exit_code": true, "bytes_written": true, "duration_ms": true,
	"truncated": true,
}

const elisionMarker = "\n…[elided]…\n"

type caps struct {
	listItems  int
	charBudget int // per string field
	totalChars int // whole rendered payload
}

var fidelityCaps = map[Fidelity]caps{
	FidelityCompact:  {listItems: 10, charBudget: 1200, totalChars: 2400},
	FidelityDetailed: {listItems: 40, charBudget: 4000, totalChars: 8000},
}

// Compressor applies fidelity selection and payload bounding. Construction
// carries no state beyond the utilization threshold used by ChooseFidelity.
type Compressor struct {
	// HighUtilization is the context utilization above which results are
	// compressed to counts only.
	HighUtilization float64
}

// New creates a Compressor with the default utilization threshold.
func New() *Compressor {
	return &Compressor{HighUtilization: 0.7}
}

// ChooseFidelity picks the level for a call. First use of a tool in a turn
// earns detailed output; afterwards compact is the default, degrading to
// summary when the context is nearly full.
func (c *Compressor) ChooseFidelity(utilization float64, firstCallForTool bool) Fidelity {
	if utilization >= c.HighUtilization {
		return FidelitySummary
	}
	if firstCallForTool {
		return FidelityDetailed
	}
	return FidelityCompact
}

// Compress bounds a tool result for feedback. keywords bias preview windows
// for long content fields toward the terms the current step is about.
func (c *Compressor) Compress(toolName string, res tool.ToolResult, fid Fidelity, keywords []string) map[string]any {
	out := map[string]any{"tool": toolName, "ok": res.OK}
	if res.FromCache {
		out["from_cache"] = true
	}
	if !res.OK {
		if res.Err != nil {
			e := map[string]any{
				"code":    string(res.Err.Code),
				"message": truncateMiddle(res.Err.Message, 500),
			}
			if len(res.Err.Details) > 0 {
				e["details"] = res.Err.Details
			}
			out["error"] = e
		}
		return out
	}

	if fid == FidelitySummary {
		summary := map[string]any{}
		for k, v := range res.Payload {
			if countFields[k] {
				summary[k] = v
			}
		}
		out["summary"] = summary
		return out
	}

	cp := fidelityCaps[fid]
	truncated := false
	payload := make(map[string]any, len(res.Payload))
	for _, k := range sortedKeys(res.Payload) {
		v, cut := boundValue(res.Payload[k], k, cp, keywords)
		payload[k] = v
		truncated = truncated || cut
	}

	// Whole-payload ceiling: degrade to summary fields plus a note when the
	// bounded payload still renders too large.
	if rendered, _ := json.Marshal(payload); len(rendered) > cp.totalChars {
		slim := map[string]any{}
		for k, v := range payload {
			if countFields[k] {
				slim[k] = v
			}
		}
		slim["note"] = fmt.Sprintf("payload too large (%d chars bounded); counts only", len(rendered))
		payload = slim
		truncated = true
	}

	out["payload"] = payload
	if truncated {
		out["truncated"] = true
	}
	return out
}

// Render serializes a compressed result for the feedback user message.
func Render(compressed map[string]any) string {
	data, err := json.Marshal(compressed)
	if err != nil {
		return fmt.Sprintf(`{"ok":false,"error":{"code":"E_TOOL","message":"render: %v"}}`, err)
	}
	return "Tool result:\n" + string(data)
}

func boundValue(v any, key string, cp caps, keywords []string) (any, bool) {
	switch t := v.(type) {
	case string:
		if utf8.RuneCountInString(t) <= cp.charBudget {
			return t, false
		}
		if key == "content" && len(keywords) > 0 {
			if w, ok := keywordWindows(t, keywords, cp.charBudget); ok {
				return w, true
			}
		}
		return truncateMiddle(t, cp.charBudget), true
	case []map[string]any:
		return boundList(anySlice(t), cp)
	case []any:
		return boundList(t, cp)
	case map[string]any:
		out := make(map[string]any, len(t))
		cut := false
		for _, k := range sortedKeys(t) {
			bv, c := boundValue(t[k], k, cp, keywords)
			out[k] = bv
			cut = cut || c
		}
		return out, cut
	default:
		return v, false
	}
}

func boundList(items []any, cp caps) (any, bool) {
	cut := false
	if len(items) > cp.listItems {
		items = items[:cp.listItems]
		cut = true
	}
	out := make([]any, len(items))
	for i, it := range items {
		bv, c := boundValue(it, "", cp, nil)
		out[i] = bv
		cut = cut || c
	}
	return out, cut
}

func anySlice[T any](in []T) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

// truncateMiddle keeps the head and tail of an oversized string with an
// elision marker between them.
func truncateMiddle(s string, budget int) string {
	runes := []rune(s)
	if len(runes) <= budget {
		return s
	}
	half := (budget - len(elisionMarker)) / 2
	if half < 1 {
		half = 1
	}
	return string(runes[:half]) + elisionMarker + string(runes[len(runes)-half:])
}

// keywordWindows samples line windows around keyword occurrences instead of
// blind head and tail. Returns ok=false when no keyword appears.
func keywordWindows(content string, keywords []string, budget int) (string, bool) {
	lines := strings.Split(content, "\n")
	const contextLines = 2

	lowered := make([]string, len(keywords))
	for i, k := range keywords {
		lowered[i] = strings.ToLower(k)
	}

	keep := make(map[int]bool)
	matched := false
	for i, line := range lines {
		ll := strings.ToLower(line)
		for _, k := range lowered {
			if k == "" || !strings.Contains(ll, k) {
				continue
			}
			matched = true
			for j := i - contextLines; j <= i+contextLines; j++ {
				if j >= 0 && j < len(lines) {
					keep[j] = true
				}
			}
			break
		}
	}
	if !matched {
		return "", false
	}

	var sb strings.Builder
	prev := -2
	for i := 0; i < len(lines) && sb.Len() < budget; i++ {
		if !keep[i] {
			continue
		}
		if i != prev+1 && prev >= 0 {
			sb.WriteString("…\n")
		}
		fmt.Fprintf(&sb, "%d: %s\n", i+1, lines[i])
		prev = i
	}
	out := sb.String()
	if utf8.RuneCountInString(out) > budget {
		out = truncateMiddle(out, budget)
	}
	return out, true
}

// Keywords extracts salient tokens from step or user text for window
// biasing: identifiers and words of four or more characters, minus
// stopwords, capped.
func Keywords(text string) []string {
	const maxKeywords = 8
	seen := map[string]bool{}
	var out []string
	for _, tok := range strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '.'
	}) {
		tok = strings.Trim(tok, "._")
		lower := strings.ToLower(tok)
		if len(tok) < 4 || stopwords[lower] || seen[lower] {
			continue
		}
		seen[lower] = true
		out = append(out, tok)
		if len(out) == maxKeywords {
			break
		}
	}
	return out
}

var stopwords = map[string]bool{
	"this": true, "that": true, "with": true, "from": true, "into": true,
	"then": true, "them": true, "have": true, "what": true, "when": true,
	"file": true, "files": true, "please": true, "should": true, "would": true,
	"make": true, "need": true, "using": true, "about": true, "there": true,
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
