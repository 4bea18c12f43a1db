// Package session holds per-session state: the ordered message store and
// the TTL-evicting session registry. One session owns one message store,
// one result cache and one event bus; nothing here is shared across
// sessions.
package session

import (
	"sync"

	"github.com/cludelabs/clude/internal/llm"
)

// MessageStore is the ordered conversation of one session. Message 0 is
// always the composed system prompt; appended messages are immutable.
type MessageStore struct {
	mu         sync.RWMutex
	msgs       []llm.Message
	maxHistory int // non-system messages retained; oldest dropped beyond it
}

// NewMessageStore creates a store with the given history fuse.
func NewMessageStore(maxHistory int) *MessageStore {
	if maxHistory <= 0 {
		maxHistory = 30
	}
	return &MessageStore{maxHistory: maxHistory}
}

// SetSystem installs or replaces the system prompt at index 0.
func (s *MessageStore) SetSystem(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sys := llm.Message{Role: llm.RoleSystem, Content: content}
	if len(s.msgs) > 0 && s.msgs[0].Role == llm.RoleSystem {
		s.msgs[0] = sys
		return
	}
	s.msgs = append([]llm.Message{sys}, s.msgs...)
}

// Append adds a message, enforcing the history fuse on non-system messages.
func (s *MessageStore) Append(m llm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m)

	nonSystem := 0
	firstNonSystem := -1
	for i, msg := range s.msgs {
		if msg.Role != llm.RoleSystem {
			nonSystem++
			if firstNonSystem < 0 {
				firstNonSystem = i
			}
		}
	}
	for nonSystem > s.maxHistory && firstNonSystem >= 0 {
		s.msgs = append(s.msgs[:firstNonSystem], s.msgs[firstNonSystem+1:]...)
		nonSystem--
		firstNonSystem = -1
		for i, msg := range s.msgs {
			if msg.Role != llm.RoleSystem {
				firstNonSystem = i
				break
			}
		}
	}
}

// AppendUser and AppendAssistant are append shorthands.
func (s *MessageStore) AppendUser(content string) {
	s.Append(llm.Message{Role: llm.RoleUser, Content: content})
}

func (s *MessageStore) AppendAssistant(content string) {
	s.Append(llm.Message{Role: llm.RoleAssistant, Content: content})
}

// Messages returns a copy of the conversation.
func (s *MessageStore) Messages() []llm.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]llm.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Len returns the message count including the system prompt.
func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}
