package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/cludelabs/clude/internal/llm"
)

type scriptedChat struct {
	reply string
	err   error
	calls int
}

func (s *scriptedChat) Chat(_ context.Context, _ []llm.Message) (string, error) {
	s.calls++
	return s.reply, s.err
}

func TestClassify_GreetingsShortCircuit(t *testing.T) {
	chat := &scriptedChat{reply: "CODING_TASK"}
	c := NewClassifier(chat, nil)

	for _, text := range []string{"hi", "Hello!", "hey there", "Thanks!", "你好", "你好!", "Hola", "こんにちは"} {
		res := c.Classify(context.Background(), text)
		if res.Category != GeneralChat {
			t.Errorf("%q classified as %q, want GENERAL_CHAT", text, res.Category)
		}
		if res.Stage != "keyword" {
			t.Errorf("%q decided by %q stage", text, res.Stage)
		}
	}
	if chat.calls != 0 {
		t.Errorf("greetings must not reach the LLM, calls = %d", chat.calls)
	}
}

func TestClassify_StrongKeywordsSkipLLM(t *testing.T) {
	chat := &scriptedChat{reply: "GENERAL_CHAT"}
	c := NewClassifier(chat, nil)

	tests := []struct {
		text string
		want Category
	}{
		{"Please refactor the session store to use generics", CodingTask},
		{"Here is the stack trace, why does it panic?", ErrorDiagnosis},
		{"Can you explain this repo to me?", RepoAnalysis},
		{"What are the pros and cons of sqlite vs postgres here?", TechnicalConsulting},
		{"What tools do you have available?", CapabilityInquiry},
	}
	for _, tt := range tests {
		res := c.Classify(context.Background(), tt.text)
		if res.Category != tt.want {
			t.Errorf("%q classified as %q, want %q", tt.text, res.Category, tt.want)
		}
		if res.Stage != "keyword" || res.Confidence < 0.90 {
			t.Errorf("%q: stage=%q conf=%.2f, want decisive keyword hit", tt.text, res.Stage, res.Confidence)
		}
	}
	if chat.calls != 0 {
		t.Errorf("strong keywords must not reach the LLM, calls = %d", chat.calls)
	}
}

func TestClassify_AmbiguousGoesToLLM(t *testing.T) {
	chat := &scriptedChat{reply: "TECHNICAL_CONSULTING"}
	c := NewClassifier(chat, nil)

	res := c.Classify(context.Background(), "thoughts on the new scheduler design?")
	if chat.calls != 1 {
		t.Fatalf("LLM stage not consulted, calls = %d", chat.calls)
	}
	if res.Category != TechnicalConsulting || res.Stage != "llm" {
		t.Errorf("res = %+v", res)
	}
}

func TestClassify_LLMAnswerNormalized(t *testing.T) {
	chat := &scriptedChat{reply: "  \"coding_task\".\n"}
	c := NewClassifier(chat, nil)
	res := c.Classify(context.Background(), "something ambiguous entirely")
	if res.Category != CodingTask {
		t.Errorf("category = %q", res.Category)
	}
}

func TestClassify_LLMFailureFallsBack(t *testing.T) {
	t.Run("transport error with weak keyword", func(t *testing.T) {
		chat := &scriptedChat{err: errors.New("down")}
		c := NewClassifier(chat, nil)
		res := c.Classify(context.Background(), "there is an error somewhere in it")
		if res.Category != ErrorDiagnosis || res.Stage != "fallback" {
			t.Errorf("res = %+v", res)
		}
	})

	t.Run("invalid label without keywords", func(t *testing.T) {
		chat := &scriptedChat{reply: "BANANA"}
		c := NewClassifier(chat, nil)
		res := c.Classify(context.Background(), "qwerty asdf zxcv")
		if res.Category != Uncertain {
			t.Errorf("category = %q, want UNCERTAIN", res.Category)
		}
	})

	t.Run("nil chatter", func(t *testing.T) {
		c := NewClassifier(nil, nil)
		res := c.Classify(context.Background(), "qwerty asdf zxcv")
		if res.Category != Uncertain {
			t.Errorf("category = %q, want UNCERTAIN", res.Category)
		}
	})
}
