package session

import (
	"fmt"
	"testing"
	"time"

	"github.com/cludelabs/clude/internal/llm"
	"github.com/cludelabs/clude/internal/tool"
)

func TestMessageStore_SystemAlwaysFirst(t *testing.T) {
	s := NewMessageStore(30)
	s.AppendUser("hi")
	s.SetSystem("sys v1")

	msgs := s.Messages()
	if msgs[0].Role != llm.RoleSystem || msgs[0].Content != "sys v1" {
		t.Fatalf("msgs[0] = %+v", msgs[0])
	}
	if msgs[1].Content != "hi" {
		t.Errorf("user message displaced: %+v", msgs[1])
	}

	s.SetSystem("sys v2")
	msgs = s.Messages()
	if msgs[0].Content != "sys v2" || len(msgs) != 2 {
		t.Errorf("SetSystem must replace, not insert: %+v", msgs)
	}
}

func TestMessageStore_HistoryFuse(t *testing.T) {
	s := NewMessageStore(4)
	s.SetSystem("sys")
	for i := 0; i < 10; i++ {
		s.AppendUser(fmt.Sprintf("u%d", i))
		s.AppendAssistant(fmt.Sprintf("a%d", i))
	}

	msgs := s.Messages()
	if msgs[0].Role != llm.RoleSystem {
		t.Fatal("system prompt evicted by the history fuse")
	}
	if got := len(msgs); got != 5 {
		t.Fatalf("len = %d, want system + 4", got)
	}
	if msgs[len(msgs)-1].Content != "a9" {
		t.Errorf("newest message lost: %+v", msgs[len(msgs)-1])
	}
}

func TestMessageStore_CopyOnRead(t *testing.T) {
	s := NewMessageStore(30)
	s.AppendUser("original")
	msgs := s.Messages()
	msgs[0].Content = "mutated"
	if s.Messages()[0].Content != "original" {
		t.Error("external mutation reached the store")
	}
}

func TestStore_GetOrCreate(t *testing.T) {
	st := NewStore(time.Minute, 30)
	defer st.Close()

	a := st.GetOrCreate("s1")
	b := st.GetOrCreate("s1")
	if a != b {
		t.Error("same id produced different sessions")
	}
	if a.Messages == nil || a.Cache == nil {
		t.Error("session created without state")
	}

	anon := st.GetOrCreate("")
	if anon.ID == "" {
		t.Error("empty id did not allocate a generated one")
	}
	if st.Len() != 2 {
		t.Errorf("len = %d", st.Len())
	}
}

func TestStore_EndClearsState(t *testing.T) {
	st := NewStore(time.Minute, 30)
	defer st.Close()

	sess := st.GetOrCreate("s1")
	sess.Cache.Put("k", nil, tool.Succeed(nil))
	st.End("s1")
	if st.Len() != 0 {
		t.Errorf("len = %d after End", st.Len())
	}
}

func TestStore_TTLEviction(t *testing.T) {
	st := NewStore(20*time.Millisecond, 30)
	defer st.Close()

	st.GetOrCreate("idle")
	deadline := time.Now().Add(2 * time.Second)
	for st.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if st.Len() != 0 {
		t.Error("idle session not evicted")
	}
}
