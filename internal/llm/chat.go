package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cludelabs/clude/internal/event"
)

// ErrorKind classifies an LLM I/O failure.
type ErrorKind string

const (
	ErrTimeout    ErrorKind = "timeout"
	ErrRepetition ErrorKind = "repetition"
	ErrTransport  ErrorKind = "transport"
	ErrProtocol   ErrorKind = "protocol"
)

// Error is the error type returned by Chat. Kind drives the caller's recovery
// policy: transport errors were already retried, repetition errors carry
// sanitized text alongside the error, timeouts surface a user-visible event.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("llm %s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Trimmer shrinks a message sequence to fit a token budget. Implemented by
// the context budgeter; injected here so the chokepoint can request trimming
// without depending on the budget package.
type Trimmer interface {
	Trim(msgs []Message, budgetTokens int) []Message
}

// Options bound a Chat instance. Zero values pick the defaults.
type Options struct {
	MaxContextTokens    int           // model context window (default 128000)
	ReservedOutput      int           // slice of the window reserved for output (default 4096)
	MaxOutputTokens     int           // per-call output cap (default 1024, hard ceiling 8192)
	Timeout             time.Duration // wall-clock bound per call (default 120s)
	MaxTransportRetries int           // retries on transport errors (default 2)
}

// maxOutputCeiling is the hard upper bound on per-call output tokens.
// Config may raise MaxOutputTokens up to this value, never past it.
const maxOutputCeiling = 8192

func (o Options) withDefaults() Options {
	if o.MaxContextTokens <= 0 {
		o.MaxContextTokens = 128000
	}
	if o.ReservedOutput <= 0 {
		o.ReservedOutput = 4096
	}
	if o.MaxOutputTokens <= 0 {
		o.MaxOutputTokens = 1024
	}
	if o.MaxOutputTokens > maxOutputCeiling {
		o.MaxOutputTokens = maxOutputCeiling
	}
	if o.Timeout <= 0 {
		o.Timeout = 120 * time.Second
	}
	if o.MaxTransportRetries < 0 {
		o.MaxTransportRetries = 0
	} else if o.MaxTransportRetries == 0 {
		o.MaxTransportRetries = 2
	}
	return o
}

// Chat is the LLM I/O chokepoint. Every model call in the runtime goes
// through Chat.Chat, which normalizes, accounts tokens, emits events, applies
// the retry policy, and screens the response for pathological output.
type Chat struct {
	provider Provider
	bus      *event.Bus
	est      *Estimator
	trim     Trimmer
	redact   func(string) string
	opts     Options
}

// NewChat wires the chokepoint. bus, trim, and redact may be nil (events
// skipped, no trimming, no redaction), which is useful in tests.
func NewChat(provider Provider, bus *event.Bus, est *Estimator, trim Trimmer, redact func(string) string, opts Options) *Chat {
	return &Chat{
		provider: provider,
		bus:      bus,
		est:      est,
		trim:     trim,
		redact:   redact,
		opts:     opts.withDefaults(),
	}
}

// Chat sends a message sequence to the backend and returns the response text.
//
// On ErrRepetition the sanitized (truncated) text is returned alongside the
// error so the caller can still surface what the model produced.
func (c *Chat) Chat(ctx context.Context, msgs []Message) (string, error) {
	msgs = Normalize(msgs)
	if len(msgs) == 0 {
		return "", &Error{Kind: ErrProtocol, Err: errors.New("no messages to send")}
	}

	// Token accounting: trim before the request would overflow the window.
	promptTokens := c.est.CountMessages(msgs)
	budget := c.opts.MaxContextTokens - c.opts.ReservedOutput
	if promptTokens > budget && c.trim != nil {
		msgs = c.trim.Trim(msgs, budget)
		promptTokens = c.est.CountMessages(msgs)
	}

	c.emit(event.KindLLMRequest, map[string]any{
		"messages":   len(msgs),
		"est_tokens": promptTokens,
		"max_tokens": c.opts.MaxOutputTokens,
		"preview":    c.preview(msgs[len(msgs)-1].Text()),
	})

	resp, err := c.callWithRetry(ctx, msgs)
	if err != nil {
		return "", err
	}

	text := resp.Text()
	if LooksDegenerate(text) {
		sanitized := TruncateDegenerate(text)
		c.emit(event.KindLLMError, map[string]any{
			"kind":             string(ErrRepetition),
			"repetition_ratio": RepetitionRatio(text),
			"length":           len(text),
		})
		// No retry for repetition: the model is stuck, not the transport.
		return sanitized, &Error{Kind: ErrRepetition, Err: errors.New("repetitive model output")}
	}

	c.emit(event.KindLLMResponse, map[string]any{
		"length":  len(text),
		"preview": c.preview(text),
	})
	return text, nil
}

// callWithRetry applies the wall-clock timeout and the transport retry policy
// with exponential backoff. Timeouts and cancellation are not retried.
func (c *Chat) callWithRetry(ctx context.Context, msgs []Message) (Message, error) {
	var lastErr error
	for attempt := 0; attempt <= c.opts.MaxTransportRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		resp, err := c.provider.CallLLM(callCtx, msgs, c.opts.MaxOutputTokens)
		cancel()
		if err == nil {
			return resp, nil
		}

		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			c.emit(event.KindLLMError, map[string]any{"kind": string(ErrTimeout), "timeout": c.opts.Timeout.String()})
			return Message{}, &Error{Kind: ErrTimeout, Err: err}
		}
		if ctx.Err() != nil {
			return Message{}, &Error{Kind: ErrTimeout, Err: ctx.Err()}
		}

		lastErr = err
		if attempt < c.opts.MaxTransportRetries {
			wait := time.Duration(1<<attempt) * 500 * time.Millisecond
			log.Printf("[LLM] Transport retry %d/%d after %v: %v", attempt+1, c.opts.MaxTransportRetries, wait, err)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return Message{}, &Error{Kind: ErrTimeout, Err: ctx.Err()}
			}
		}
	}

	c.emit(event.KindLLMError, map[string]any{
		"kind":    string(ErrTransport),
		"retries": c.opts.MaxTransportRetries,
		"error":   c.preview(lastErr.Error()),
	})
	return Message{}, &Error{Kind: ErrTransport, Err: lastErr}
}

// preview produces a short redacted excerpt for events: never full prompts,
// never secrets.
func (c *Chat) preview(s string) string {
	const max = 120
	runes := []rune(s)
	if len(runes) > max {
		s = string(runes[:max]) + "…"
	}
	if c.redact != nil {
		s = c.redact(s)
	}
	return s
}

func (c *Chat) emit(kind event.Kind, payload map[string]any) {
	if c.bus != nil {
		c.bus.Emit(kind, payload)
	}
}
