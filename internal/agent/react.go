package agent

import (
	"context"

	"github.com/cludelabs/clude/internal/compress"
	"github.com/cludelabs/clude/internal/event"
	"github.com/cludelabs/clude/internal/parse"
	"github.com/cludelabs/clude/internal/session"
	"github.com/cludelabs/clude/internal/tool"
)

// reactLoop is the plan-free execution mode: think, maybe call a tool, feed
// the result back, repeat until the model answers in plain text. Used for
// chat-like profiles.
type reactLoop struct {
	o       *Orchestrator
	sess    *session.Session
	st      *TurnState
	machine *Machine
	runner  *toolRunner
}

// run executes the loop. The final plain-text answer lands in st.FinalText.
func (r *reactLoop) run(ctx context.Context) bool {
	keywords := compress.Keywords(r.st.Input)

	violations := 0
	for calls := 0; calls < r.o.Fuses.MaxStepToolCalls; calls++ {
		if ctx.Err() != nil {
			r.st.StopReason = StopCancelled
			_ = r.machine.Apply(InputCancel)
			return false
		}

		text, err := r.o.chatText(ctx, r.sess, r.st)
		if err != nil {
			if ctx.Err() != nil {
				r.st.StopReason = StopCancelled
				_ = r.machine.Apply(InputCancel)
				return false
			}
			r.st.FailCode = tool.ErrModel
			return false
		}
		r.sess.Messages.AppendAssistant(text)

		out := parse.Parse(text)
		switch out.Kind {
		case parse.KindText:
			r.st.FinalText = out.Text
			return true

		case parse.KindToolCall:
			feedback, _ := r.runner.run(ctx, "", out.ToolName, out.ToolArgs, keywords)
			r.sess.Messages.AppendUser(feedback)

		case parse.KindControl:
			// Control frames only mean something inside plan execution.
			violations++
			if violations > r.o.Fuses.MaxLLMRetries {
				r.o.emit(event.KindLLMError, map[string]any{
					"kind": "protocol", "detail": "persistent control frames outside plan execution",
				})
				r.st.FinalText = text
				return true
			}
			r.sess.Messages.AppendUser(reactCorrective)
		}
	}

	// Tool budget exhausted without a final answer.
	r.st.FinalText = "I ran out of tool budget before finishing. Here is where things stand: the work above is partial."
	r.st.StopReason = StopMaxIterations
	r.st.FailCode = tool.ErrModel
	return true
}
