package event

import (
	"sync"
	"testing"
)

// collector records events in delivery order.
type collector struct {
	mu  sync.Mutex
	got []TurnEvent
}

func (c *collector) HandleEvent(ev TurnEvent) {
	c.mu.Lock()
	c.got = append(c.got, ev)
	c.mu.Unlock()
}

func (c *collector) events() []TurnEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TurnEvent, len(c.got))
	copy(out, c.got)
	return out
}

func TestBus_OrderAndSeq(t *testing.T) {
	b := NewBus("sess-1", "trace-1")
	c := &collector{}
	b.Subscribe(c)

	kinds := []Kind{KindIntentClassified, KindProfileSelected, KindLLMRequest, KindLLMResponse, KindFinalText}
	for _, k := range kinds {
		b.Emit(k, map[string]any{"k": string(k)})
	}
	b.Close()

	got := c.events()
	if len(got) != len(kinds) {
		t.Fatalf("delivered %d events, want %d", len(got), len(kinds))
	}
	for i, ev := range got {
		if ev.Kind != kinds[i] {
			t.Errorf("event %d: kind = %q, want %q", i, ev.Kind, kinds[i])
		}
		if ev.Seq != uint64(i+1) {
			t.Errorf("event %d: seq = %d, want %d", i, ev.Seq, i+1)
		}
		if ev.SessionID != "sess-1" || ev.TraceID != "trace-1" {
			t.Errorf("event %d: ids not stamped: %+v", i, ev)
		}
	}
}

func TestBus_MultipleSubscribersSeeSameOrder(t *testing.T) {
	b := NewBus("sess-2", "trace-2")
	c1, c2 := &collector{}, &collector{}
	b.Subscribe(c1)
	b.Subscribe(c2)

	for i := 0; i < 50; i++ {
		b.Emit(KindState, map[string]any{"i": i})
	}
	b.Close()

	e1, e2 := c1.events(), c2.events()
	if len(e1) != 50 || len(e2) != 50 {
		t.Fatalf("delivered %d/%d events, want 50/50", len(e1), len(e2))
	}
	for i := range e1 {
		if e1[i].Seq != e2[i].Seq {
			t.Fatalf("subscriber order diverged at %d: %d vs %d", i, e1[i].Seq, e2[i].Seq)
		}
	}
}

func TestBus_EmitAfterCloseIsDiscarded(t *testing.T) {
	b := NewBus("sess-3", "trace-3")
	c := &collector{}
	b.Subscribe(c)
	b.Emit(KindState, nil)
	b.Close()
	b.Emit(KindState, nil) // must not panic or deliver

	if n := len(c.events()); n != 1 {
		t.Errorf("events after close delivered: got %d, want 1", n)
	}
}

func TestBus_SetTraceID(t *testing.T) {
	b := NewBus("sess-4", "turn-1")
	c := &collector{}
	b.Subscribe(c)

	b.Emit(KindState, nil)
	b.SetTraceID("turn-2")
	b.Emit(KindState, nil)
	b.Close()

	got := c.events()
	if got[0].TraceID != "turn-1" || got[1].TraceID != "turn-2" {
		t.Errorf("trace ids = %q, %q; want turn-1, turn-2", got[0].TraceID, got[1].TraceID)
	}
}
