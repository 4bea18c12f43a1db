package event

import (
	"log"
	"sync"
	"time"
)

// Subscriber receives events in emission order. Implementations should be
// fast; slow consumers get their own drain goroutine (see Subscribe) so they
// never block the producer.
type Subscriber interface {
	HandleEvent(ev TurnEvent)
}

// SubscriberFunc adapts a plain function to the Subscriber interface.
type SubscriberFunc func(ev TurnEvent)

func (f SubscriberFunc) HandleEvent(ev TurnEvent) { f(ev) }

// Bus is the per-session event stream. Emission is non-blocking on the
// producer side: each subscriber owns an unbounded FIFO queue drained by a
// dedicated goroutine, so events are never dropped and every subscriber sees
// the exact emission order.
//
// Emit is safe for concurrent use, although the orchestrator emits from a
// single goroutine per turn.
type Bus struct {
	mu        sync.Mutex
	traceID   string
	sessionID string
	seq       uint64
	subs      []*subQueue
	closed    bool
}

// NewBus creates a Bus for one session. traceID identifies the current turn
// and can be rotated per turn via SetTraceID.
func NewBus(sessionID, traceID string) *Bus {
	return &Bus{sessionID: sessionID, traceID: traceID}
}

// SetTraceID switches the trace id stamped on subsequent events.
// Called by the orchestrator at the start of each turn.
func (b *Bus) SetTraceID(traceID string) {
	b.mu.Lock()
	b.traceID = traceID
	b.mu.Unlock()
}

// Subscribe attaches a subscriber and starts its drain goroutine.
// Must be called before the first Emit for the subscriber to see all events.
func (b *Bus) Subscribe(s Subscriber) {
	q := newSubQueue(s)
	b.mu.Lock()
	b.subs = append(b.subs, q)
	b.mu.Unlock()
}

// Emit publishes an event with the given kind and payload.
// The Bus fills in trace/session ids, sequence number, and timestamp.
func (b *Bus) Emit(kind Kind, payload map[string]any) {
	b.EmitStep(kind, "", payload)
}

// EmitStep publishes an event associated with a plan step.
func (b *Bus) EmitStep(kind Kind, stepID string, payload map[string]any) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		log.Printf("[Bus] WARNING: emit %q on closed bus", kind)
		return
	}
	b.seq++
	ev := TurnEvent{
		TraceID:   b.traceID,
		SessionID: b.sessionID,
		StepID:    stepID,
		Seq:       b.seq,
		Timestamp: time.Now(),
		Kind:      kind,
		Payload:   payload,
	}
	subs := b.subs
	b.mu.Unlock()

	for _, q := range subs {
		q.push(ev)
	}
}

// Close flushes all subscriber queues and stops their drain goroutines.
// Safe to call once; subsequent Emits are logged and discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.mu.Unlock()

	for _, q := range subs {
		q.close()
	}
}

// subQueue is an unbounded ordered queue with a single drain goroutine.
// Unbounded is acceptable here: a turn is bounded by the fuses in §5, so the
// queue length is bounded by the number of events one turn can produce.
type subQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []TurnEvent
	closed bool
	done   chan struct{}
	sub    Subscriber
}

func newSubQueue(s Subscriber) *subQueue {
	q := &subQueue{sub: s, done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.drain()
	return q
}

func (q *subQueue) push(ev TurnEvent) {
	q.mu.Lock()
	if !q.closed {
		q.buf = append(q.buf, ev)
		q.cond.Signal()
	}
	q.mu.Unlock()
}

func (q *subQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Signal()
	q.mu.Unlock()
	<-q.done // wait until the drain goroutine has delivered everything
}

func (q *subQueue) drain() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.buf) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.buf) == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		batch := q.buf
		q.buf = nil
		q.mu.Unlock()

		for _, ev := range batch {
			q.sub.HandleEvent(ev)
		}
	}
}
