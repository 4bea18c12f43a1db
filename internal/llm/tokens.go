package llm

import (
	"log"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// charsPerToken is the heuristic ratio used when no tokenizer is available.
const charsPerToken = 4

// perMessageOverhead approximates the per-message wrapping cost of the chat
// format (role markers, separators).
const perMessageOverhead = 4

// Estimator estimates prompt token usage. It prefers a real tiktoken encoding
// for the configured model and degrades to a character heuristic when the
// encoding is unknown (e.g. local models with unregistered names).
type Estimator struct {
	once  sync.Once
	model string
	enc   *tiktoken.Tiktoken
}

// NewEstimator creates an Estimator for the given model name.
// The encoding is resolved lazily on first use: tiktoken may download BPE
// data, and construction must stay cheap.
func NewEstimator(model string) *Estimator {
	return &Estimator{model: model}
}

func (e *Estimator) encoding() *tiktoken.Tiktoken {
	e.once.Do(func() {
		enc, err := tiktoken.EncodingForModel(e.model)
		if err != nil {
			enc, err = tiktoken.GetEncoding("cl100k_base")
		}
		if err != nil {
			log.Printf("[Tokens] No tiktoken encoding for %q, using %d-chars-per-token heuristic", e.model, charsPerToken)
			return
		}
		e.enc = enc
	})
	return e.enc
}

// Count estimates the token count of a single string.
func (e *Estimator) Count(s string) int {
	if s == "" {
		return 0
	}
	if enc := e.encoding(); enc != nil {
		return len(enc.Encode(s, nil, nil))
	}
	n := len(s) / charsPerToken
	if n == 0 {
		n = 1
	}
	return n
}

// CountMessages estimates the total prompt tokens for a message sequence,
// including per-message formatting overhead. Media parts are charged a flat
// cost since their token footprint is backend-specific.
func (e *Estimator) CountMessages(msgs []Message) int {
	const mediaPartCost = 768
	total := 0
	for _, m := range msgs {
		total += perMessageOverhead
		total += e.Count(m.Text())
		for _, p := range m.Parts {
			if p.MediaType != "" {
				total += mediaPartCost
			}
		}
	}
	return total
}
