package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cludelabs/clude/internal/event"
)

// TraceRecorder writes the full event stream, payloads included, as JSONL
// for per-turn replay. Unlike the audit Recorder it keeps complete payloads;
// the file stays local and is never surfaced to the user, so secrets are not
// redacted here.
type TraceRecorder struct {
	mu   sync.Mutex
	file *os.File
}

// NewTraceRecorder opens the trace log at path for appending.
func NewTraceRecorder(path string) (*TraceRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("trace: create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("trace: open %q: %w", path, err)
	}
	return &TraceRecorder{file: f}, nil
}

// HandleEvent implements event.Subscriber.
func (t *TraceRecorder) HandleEvent(ev event.TurnEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.file.Write(append(data, '\n'))
}

// Close closes the underlying file.
func (t *TraceRecorder) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}
