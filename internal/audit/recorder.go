package audit

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cludelabs/clude/internal/event"
)

// Recorder is the audit log: one compact JSON line per event, with payload
// digests instead of full payloads. It implements event.Subscriber.
// Writes are serialized by a mutex; the file is opened append-only.
type Recorder struct {
	mu   sync.Mutex
	file *os.File
}

// auditLine is the on-disk shape of one audit entry.
type auditLine struct {
	TraceID   string     `json:"trace_id"`
	SessionID string     `json:"session_id"`
	StepID    string     `json:"step_id,omitempty"`
	Seq       uint64     `json:"seq"`
	Timestamp time.Time  `json:"timestamp"`
	Kind      event.Kind `json:"kind"`
	Digest    string     `json:"payload_digest,omitempty"`
	// Select fields promoted out of the payload for grep-ability. Tool
	// results carry separate digests for the call arguments and the result
	// payload so either side can be matched against a replay.
	Tool         string `json:"tool,omitempty"`
	DurationMS   int64  `json:"duration_ms,omitempty"`
	OK           *bool  `json:"ok,omitempty"`
	FromCache    bool   `json:"from_cache,omitempty"`
	ArgsDigest   string `json:"args_digest,omitempty"`
	ResultDigest string `json:"result_digest,omitempty"`
}

// NewRecorder opens (creating parent directories if needed) the audit log at
// path for appending.
func NewRecorder(path string) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("audit: create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("audit: open %q: %w", path, err)
	}
	return &Recorder{file: f}, nil
}

// HandleEvent implements event.Subscriber.
func (r *Recorder) HandleEvent(ev event.TurnEvent) {
	line := auditLine{
		TraceID:   ev.TraceID,
		SessionID: ev.SessionID,
		StepID:    ev.StepID,
		Seq:       ev.Seq,
		Timestamp: ev.Timestamp,
		Kind:      ev.Kind,
		Digest:    PayloadDigest(ev.Payload),
	}
	if tool, ok := ev.Payload["tool"].(string); ok {
		line.Tool = tool
	}
	switch v := ev.Payload["duration_ms"].(type) {
	case int64:
		line.DurationMS = v
	case float64:
		line.DurationMS = int64(v)
	}
	if ok, isBool := ev.Payload["ok"].(bool); isBool {
		line.OK = &ok
	}
	if fc, isBool := ev.Payload["from_cache"].(bool); isBool {
		line.FromCache = fc
	}
	if d, ok := ev.Payload["args_digest"].(string); ok {
		line.ArgsDigest = d
	}
	if d, ok := ev.Payload["result_digest"].(string); ok {
		line.ResultDigest = d
	}

	data, err := json.Marshal(line)
	if err != nil {
		return // never let a marshal failure take down the turn
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.file.Write(append(data, '\n'))
}

// Close syncs and closes the underlying file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// PayloadDigest returns a short stable digest of a payload map.
// encoding/json sorts map keys, so the digest is canonical.
func PayloadDigest(payload map[string]any) string {
	if len(payload) == 0 {
		return ""
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum[:8])
}
