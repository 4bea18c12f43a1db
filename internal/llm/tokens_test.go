package llm

import "testing"

func TestEstimator_HeuristicFallback(t *testing.T) {
	// Unregistered model name forces the chars-per-token heuristic
	// (cl100k_base may be unavailable offline; the heuristic always works).
	e := &Estimator{model: "totally-unknown-model"}
	e.once.Do(func() {}) // skip encoding resolution, exercise the fallback path

	if got := e.Count(""); got != 0 {
		t.Errorf("Count(empty) = %d, want 0", got)
	}
	if got := e.Count("ab"); got != 1 {
		t.Errorf("Count(short) = %d, want 1 (rounds up from zero)", got)
	}
	if got := e.Count("abcdefgh"); got != 2 {
		t.Errorf("Count(8 chars) = %d, want 2", got)
	}
}

func TestEstimator_CountMessages(t *testing.T) {
	e := &Estimator{model: "totally-unknown-model"}
	e.once.Do(func() {})

	msgs := []Message{
		{Role: RoleSystem, Content: "abcdefgh"},
		{Role: RoleUser, Content: "abcd"},
	}
	// 2 tokens + 1 token of content, plus per-message overhead of 4 each.
	if got := e.CountMessages(msgs); got != 2+1+4+4 {
		t.Errorf("CountMessages = %d, want 11", got)
	}
}

func TestEstimator_MediaPartCharged(t *testing.T) {
	e := &Estimator{model: "totally-unknown-model"}
	e.once.Do(func() {})

	text := e.CountMessages([]Message{{Role: RoleUser, Content: "hi"}})
	media := e.CountMessages([]Message{{Role: RoleUser, Parts: []ContentPart{
		{Text: "hi"},
		{MediaType: "image/png", Data: "aGk="},
	}}})
	if media-text < 500 {
		t.Errorf("media part cost = %d, want a substantial flat charge", media-text)
	}
}
