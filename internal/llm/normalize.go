package llm

// syntheticUserBridge is the minimal user turn inserted when the sequence
// would otherwise open with an assistant message after the system prefix.
const syntheticUserBridge = "(continue)"

// Normalize repairs a message sequence so that the backend always receives a
// well-formed conversation:
//
//   - consecutive same-role messages are collapsed by concatenation,
//   - the system prefix (zero or more leading system messages) is merged into
//     at most one system message,
//   - if the first non-system message is assistant, a synthetic minimal user
//     turn is inserted before it.
//
// Messages are never reordered, and the input slice is not mutated.
func Normalize(msgs []Message) []Message {
	if len(msgs) == 0 {
		return nil
	}

	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if len(out) > 0 && out[len(out)-1].Role == m.Role {
			out[len(out)-1] = merge(out[len(out)-1], m)
			continue
		}
		out = append(out, m)
	}

	// Find the first non-system message; bridge a leading assistant turn.
	for i, m := range out {
		if m.Role == RoleSystem {
			continue
		}
		if m.Role == RoleAssistant {
			bridged := make([]Message, 0, len(out)+1)
			bridged = append(bridged, out[:i]...)
			bridged = append(bridged, Message{Role: RoleUser, Content: syntheticUserBridge})
			bridged = append(bridged, out[i:]...)
			out = bridged
		}
		break
	}
	return out
}

// merge concatenates two same-role messages. Multi-part messages keep their
// parts; plain content is joined with a blank line.
func merge(a, b Message) Message {
	if len(a.Parts) > 0 || len(b.Parts) > 0 {
		parts := append([]ContentPart{}, a.Parts...)
		if a.Content != "" {
			parts = append(parts, ContentPart{Text: a.Content})
		}
		if b.Content != "" {
			parts = append(parts, ContentPart{Text: b.Content})
		}
		parts = append(parts, b.Parts...)
		return Message{Role: a.Role, Parts: parts}
	}
	switch {
	case a.Content == "":
		return Message{Role: a.Role, Content: b.Content}
	case b.Content == "":
		return a
	default:
		return Message{Role: a.Role, Content: a.Content + "\n\n" + b.Content}
	}
}
