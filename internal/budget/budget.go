// Package budget implements priority-based trimming of the conversation
// under a token budget. It is injected into the LLM chokepoint as its
// Trimmer.
package budget

import (
	"log"
	"strings"

	"github.com/cludelabs/clude/internal/compress"
	"github.com/cludelabs/clude/internal/llm"
)

// Priority classes, lowest dropped first.
type Priority int

const (
	Archival Priority = iota // old, unreferenced
	Relevant                 // old but sharing terms with the current work
	Recent                   // the last few turns
	Working                  // the current exchange
	Protected                // system prefix, never dropped
)

// recentWindow is the number of trailing non-system messages treated as
// RECENT (roughly five user/assistant turns).
const recentWindow = 10

// Budgeter assigns priorities and trims. Zero value is not usable; call New.
type Budgeter struct {
	est *llm.Estimator

	// UtilizationThreshold is the fraction of the context window above
	// which trimming starts.
	UtilizationThreshold float64
}

// New creates a Budgeter with the default utilization threshold.
func New(est *llm.Estimator) *Budgeter {
	return &Budgeter{est: est, UtilizationThreshold: 0.7}
}

// ShouldTrim reports whether the estimated prompt has crossed the threshold.
func (b *Budgeter) ShouldTrim(msgs []llm.Message, maxContext int) bool {
	if maxContext <= 0 {
		return false
	}
	return float64(b.est.CountMessages(msgs)) > b.UtilizationThreshold*float64(maxContext)
}

// Utilization returns estimated tokens over the window size.
func (b *Budgeter) Utilization(msgs []llm.Message, maxContext int) float64 {
	if maxContext <= 0 {
		return 0
	}
	return float64(b.est.CountMessages(msgs)) / float64(maxContext)
}

// Trim drops messages from the lowest priority upward until the sequence
// fits budgetTokens, then repairs role alternation. The system prefix and
// the current exchange survive even when the result still exceeds the
// budget.
func (b *Budgeter) Trim(msgs []llm.Message, budgetTokens int) []llm.Message {
	if len(msgs) == 0 || b.est.CountMessages(msgs) <= budgetTokens {
		return msgs
	}

	prio := b.classify(msgs)

	keep := make([]bool, len(msgs))
	for i := range keep {
		keep[i] = true
	}
	total := b.est.CountMessages(msgs)

	for _, level := range []Priority{Archival, Relevant, Recent} {
		// Oldest messages of the level go first.
		for i := 0; i < len(msgs) && total > budgetTokens; i++ {
			if prio[i] != level || !keep[i] {
				continue
			}
			keep[i] = false
			total -= b.est.Count(msgs[i].Text()) + 4
		}
		if total <= budgetTokens {
			break
		}
	}

	var out []llm.Message
	dropped := 0
	for i, m := range msgs {
		if keep[i] {
			out = append(out, m)
		} else {
			dropped++
		}
	}
	if dropped > 0 {
		log.Printf("[Budget] Trimmed %d messages (%d kept, ~%d tokens)", dropped, len(out), total)
	}

	// Trimming can leave the system prefix followed by an assistant turn or
	// two same-role neighbors; Normalize restores the alternation invariant.
	return llm.Normalize(out)
}

// classify assigns a priority to each message.
func (b *Budgeter) classify(msgs []llm.Message) []Priority {
	prio := make([]Priority, len(msgs))

	// Working set: everything from the last user message that is not tool
	// feedback, to the end. Tool feedback is recognized by the fixed prefix
	// the compressor renders.
	workingStart := len(msgs) - 1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == llm.RoleUser && !strings.HasPrefix(msgs[i].Text(), "Tool result:") {
			workingStart = i
			break
		}
	}

	keywords := compress.Keywords(collectText(msgs[workingStart:]))

	nonSystemSeen := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		switch {
		case msgs[i].Role == llm.RoleSystem:
			prio[i] = Protected
		case i >= workingStart:
			prio[i] = Working
		default:
			nonSystemSeen++
			if nonSystemSeen <= recentWindow {
				prio[i] = Recent
			} else if mentionsAny(msgs[i].Text(), keywords) {
				prio[i] = Relevant
			} else {
				prio[i] = Archival
			}
		}
	}
	return prio
}

func collectText(msgs []llm.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		sb.WriteString(m.Text())
		sb.WriteByte('\n')
	}
	return sb.String()
}

func mentionsAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, k := range keywords {
		if strings.Contains(lower, strings.ToLower(k)) {
			return true
		}
	}
	return false
}
