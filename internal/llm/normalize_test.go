package llm

import (
	"strings"
	"testing"
)

func TestNormalize_CollapsesAdjacentSameRole(t *testing.T) {
	msgs := []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "a"},
		{Role: RoleUser, Content: "b"},
		{Role: RoleAssistant, Content: "r"},
	}
	got := Normalize(msgs)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3: %+v", len(got), got)
	}
	if got[1].Content != "a\n\nb" {
		t.Errorf("merged user content = %q", got[1].Content)
	}
}

func TestNormalize_BridgesLeadingAssistant(t *testing.T) {
	msgs := []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleAssistant, Content: "hello"},
	}
	got := Normalize(msgs)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[1].Role != RoleUser {
		t.Errorf("bridge role = %q, want user", got[1].Role)
	}
	if got[2].Role != RoleAssistant || got[2].Content != "hello" {
		t.Errorf("assistant turn lost: %+v", got[2])
	}
}

func TestNormalize_MergesSystemPrefix(t *testing.T) {
	msgs := []Message{
		{Role: RoleSystem, Content: "core"},
		{Role: RoleSystem, Content: "policy"},
		{Role: RoleUser, Content: "q"},
	}
	got := Normalize(msgs)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if !strings.Contains(got[0].Content, "core") || !strings.Contains(got[0].Content, "policy") {
		t.Errorf("system prefix not merged: %q", got[0].Content)
	}
}

// Role-alternation invariant: after Normalize, no two adjacent non-system
// messages share a role, and the first non-system message is user.
func TestNormalize_Invariant(t *testing.T) {
	cases := [][]Message{
		{{Role: RoleUser, Content: "x"}},
		{{Role: RoleAssistant, Content: "x"}},
		{
			{Role: RoleSystem, Content: "s"},
			{Role: RoleAssistant, Content: "a1"},
			{Role: RoleAssistant, Content: "a2"},
			{Role: RoleUser, Content: "u1"},
			{Role: RoleUser, Content: "u2"},
			{Role: RoleAssistant, Content: "a3"},
		},
		{
			{Role: RoleSystem, Content: "s1"},
			{Role: RoleSystem, Content: "s2"},
			{Role: RoleUser, Content: "u"},
			{Role: RoleAssistant, Content: "a"},
			{Role: RoleUser, Content: "u2"},
		},
	}
	for i, msgs := range cases {
		got := Normalize(msgs)
		firstNonSystem := ""
		for j, m := range got {
			if j > 0 && got[j-1].Role == m.Role {
				t.Errorf("case %d: adjacent messages share role %q", i, m.Role)
			}
			if firstNonSystem == "" && m.Role != RoleSystem {
				firstNonSystem = m.Role
			}
		}
		if firstNonSystem != RoleUser {
			t.Errorf("case %d: first non-system role = %q, want user", i, firstNonSystem)
		}
	}
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	msgs := []Message{
		{Role: RoleUser, Content: "a"},
		{Role: RoleUser, Content: "b"},
	}
	Normalize(msgs)
	if msgs[0].Content != "a" || msgs[1].Content != "b" {
		t.Error("input slice mutated")
	}
}

func TestMessage_Text_MultiPart(t *testing.T) {
	m := Message{Role: RoleUser, Parts: []ContentPart{
		{Text: "look at"},
		{MediaType: "image/png", Data: "aGk="},
		{Text: "this"},
	}}
	if got := m.Text(); got != "look at\nthis" {
		t.Errorf("Text() = %q", got)
	}
}
