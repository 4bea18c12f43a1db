package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cludelabs/clude/internal/event"
)

func TestRedactor(t *testing.T) {
	r := NewRedactor("super-secret-value")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"known secret", "key is super-secret-value ok", "key is [REDACTED] ok"},
		{"sk prefix", "using sk-abc123def456ghi789", "using [REDACTED]"},
		{"bearer header", "Authorization: Bearer abcdef123456789", "Authorization: [REDACTED]"},
		{"clean text", "nothing secret here", "nothing secret here"},
		{"api key assignment", "API_KEY=abcdefgh1234 in env", "[REDACTED] in env"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Redact(tt.in); got != tt.want {
				t.Errorf("Redact(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRedactor_ShortKnownValuesIgnored(t *testing.T) {
	r := NewRedactor("ab") // too short to be a secret; would shred normal text
	if got := r.Redact("about"); got != "about" {
		t.Errorf("short known value should be ignored, got %q", got)
	}
}

func TestRecorder_WritesDigestNotPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	rec, err := NewRecorder(path)
	if err != nil {
		t.Fatal(err)
	}

	rec.HandleEvent(event.TurnEvent{
		TraceID:   "tr-1",
		SessionID: "s-1",
		Seq:       1,
		Timestamp: time.Now(),
		Kind:      event.KindToolResult,
		Payload: map[string]any{
			"tool":          "read_file",
			"ok":            true,
			"duration_ms":   int64(42),
			"args_digest":   "aaaa0000bbbb1111",
			"result_digest": "cccc2222dddd3333",
			"content":       "secret file body that must not appear",
		},
	})
	if err := rec.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "secret file body") {
		t.Error("audit log must carry digests, not raw payloads")
	}

	var line map[string]any
	if err := json.Unmarshal(data[:len(data)-1], &line); err != nil {
		t.Fatalf("audit line is not valid JSON: %v", err)
	}
	if line["tool"] != "read_file" {
		t.Errorf("tool = %v, want read_file", line["tool"])
	}
	if line["payload_digest"] == "" {
		t.Error("payload_digest missing")
	}
	if line["ok"] != true {
		t.Errorf("ok = %v, want true", line["ok"])
	}
	if line["duration_ms"] != float64(42) {
		t.Errorf("duration_ms = %v, want 42", line["duration_ms"])
	}
	if line["args_digest"] != "aaaa0000bbbb1111" || line["result_digest"] != "cccc2222dddd3333" {
		t.Errorf("digests not promoted: args=%v result=%v", line["args_digest"], line["result_digest"])
	}
}

func TestTraceRecorder_AppendsFullEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	tr, err := NewTraceRecorder(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 3; i++ {
		tr.HandleEvent(event.TurnEvent{
			TraceID: "tr", SessionID: "s", Seq: uint64(i),
			Kind: event.KindState, Payload: map[string]any{"n": i},
		})
	}
	tr.Close()

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	count := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev event.TurnEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("line %d: %v", count, err)
		}
		count++
		if ev.Seq != uint64(count) {
			t.Errorf("line %d: seq = %d", count, ev.Seq)
		}
	}
	if count != 3 {
		t.Errorf("trace lines = %d, want 3", count)
	}
}

func TestPayloadDigest_Stable(t *testing.T) {
	a := PayloadDigest(map[string]any{"b": 2, "a": 1})
	b := PayloadDigest(map[string]any{"a": 1, "b": 2})
	if a == "" || a != b {
		t.Errorf("digest not canonical: %q vs %q", a, b)
	}
	if PayloadDigest(nil) != "" {
		t.Error("empty payload should digest to empty string")
	}
}
