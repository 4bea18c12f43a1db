// Package llm is the single chokepoint for model calls: message normalization,
// token accounting, request/response events, retry policy, and pathological
// output detection all live here. No other package talks to the backend.
package llm

import "context"

// Role constants.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ContentPart is one element of a multi-part message: either inline text or a
// reference to a media item carried as base64 data.
type ContentPart struct {
	Text      string `json:"text,omitempty"`
	MediaType string `json:"media_type,omitempty"` // e.g. "image/png"; empty for text parts
	Data      string `json:"data,omitempty"`       // base64 payload for media parts
}

// Message represents one chat turn. Content and Parts are alternatives:
// plain-text messages use Content, multi-part messages use Parts.
// Messages are treated as immutable once appended to a store.
type Message struct {
	Role    string        `json:"role"`
	Content string        `json:"content,omitempty"`
	Parts   []ContentPart `json:"parts,omitempty"`
}

// Text returns the textual content of the message, concatenating the text
// parts of a multi-part message. Media parts contribute nothing.
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var out string
	for _, p := range m.Parts {
		if p.MediaType == "" && p.Text != "" {
			if out != "" {
				out += "\n"
			}
			out += p.Text
		}
	}
	return out
}

// Provider is the contract for a chat-completion backend. Any
// OpenAI-compatible endpoint can be used by implementing this interface.
// maxTokens is the enforced output bound for this single call; implementations
// must pass it through to the backend verbatim.
type Provider interface {
	CallLLM(ctx context.Context, messages []Message, maxTokens int) (Message, error)
}
