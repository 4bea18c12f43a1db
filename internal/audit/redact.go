// Package audit implements the append-only JSONL recorders that consume the
// event stream, plus secret redaction for user-visible output.
package audit

import (
	"regexp"
	"strings"
)

// secretPatterns match credential shapes that must never reach user-visible
// output. Full values live only in the file-only audit log.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9_-]{8,}`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]{8,}`),
	regexp.MustCompile(`(?i)(api[_-]?key|token|secret)\s*[=:]\s*\S{8,}`),
}

// Redactor scrubs known secret values and secret-shaped substrings from text.
type Redactor struct {
	known []string // exact secret values from config/env, longest first
}

// NewRedactor creates a Redactor. known holds exact secret values (e.g. the
// configured API key); empty strings are ignored.
func NewRedactor(known ...string) *Redactor {
	r := &Redactor{}
	for _, k := range known {
		if len(k) >= 4 {
			r.known = append(r.known, k)
		}
	}
	return r
}

// Redact replaces known secrets and secret-shaped substrings with a marker.
func (r *Redactor) Redact(s string) string {
	for _, k := range r.known {
		s = strings.ReplaceAll(s, k, "[REDACTED]")
	}
	for _, p := range secretPatterns {
		s = p.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

// RedactHome collapses absolute home paths to "~" in user-facing messages.
func RedactHome(s, home string) string {
	if home == "" || home == "/" {
		return s
	}
	return strings.ReplaceAll(s, home, "~")
}
