// Package intent classifies user input into a closed category set. A cheap
// keyword stage answers the obvious cases; the model is consulted only when
// keywords are inconclusive, and its answer is trusted only when it names a
// known category.
package intent

import (
	"context"
	"log"
	"strings"

	"github.com/cludelabs/clude/internal/event"
	"github.com/cludelabs/clude/internal/llm"
)

// Category is an intent label.
type Category string

const (
	CodingTask          Category = "CODING_TASK"
	ErrorDiagnosis      Category = "ERROR_DIAGNOSIS"
	RepoAnalysis        Category = "REPO_ANALYSIS"
	TechnicalConsulting Category = "TECHNICAL_CONSULTING"
	GeneralChat         Category = "GENERAL_CHAT"
	CapabilityInquiry   Category = "CAPABILITY_INQUIRY"
	Uncertain           Category = "UNCERTAIN"
)

// Known reports whether a label is in the closed set.
func Known(c Category) bool {
	switch c {
	case CodingTask, ErrorDiagnosis, RepoAnalysis, TechnicalConsulting,
		GeneralChat, CapabilityInquiry, Uncertain:
		return true
	}
	return false
}

// Result carries the chosen category with the stage that decided it.
type Result struct {
	Category   Category
	Confidence float64
	Stage      string // "keyword", "llm", "fallback"
}

// Chatter is the slice of the LLM chokepoint the classifier needs.
type Chatter interface {
	Chat(ctx context.Context, msgs []llm.Message) (string, error)
}

// confidence at or above which the keyword stage short-circuits.
const keywordShortCircuit = 0.90

// greetings short-circuit to GENERAL_CHAT before any scoring. Not limited to
// English; users greet in their own language.
var greetings = map[string]bool{
	"hi": true, "hello": true, "hey": true, "yo": true, "sup": true,
	"good morning": true, "good afternoon": true, "good evening": true,
	"thanks": true, "thank you": true, "bye": true, "goodbye": true,
	"你好": true, "您好": true, "谢谢": true,
	"hola": true, "bonjour": true, "salut": true, "hallo": true, "ciao": true,
	"こんにちは": true, "ありがとう": true, "안녕하세요": true,
}

// keywordRule scores one category from substring signals. Strong signals
// are decisive on their own; weak ones accumulate.
type keywordRule struct {
	category Category
	strong   []string
	weak     []string
}

var rules = []keywordRule{
	{
		category: CodingTask,
		strong:   []string{"implement", "refactor", "write a function", "add a test", "fix the bug", "rename", "apply this patch", "create a file"},
		weak:     []string{"code", "function", "class", "method", "variable", "compile", "write", "add", "change", "update"},
	},
	{
		category: ErrorDiagnosis,
		strong:   []string{"stack trace", "panic:", "traceback", "segfault", "why does this fail", "exception"},
		weak:     []string{"error", "fails", "failing", "crash", "broken", "bug", "doesn't work", "does not work"},
	},
	{
		category: RepoAnalysis,
		strong:   []string{"explain this repo", "analyze the codebase", "project structure", "architecture overview", "what does this project"},
		weak:     []string{"repository", "repo", "codebase", "structure", "overview", "dependencies"},
	},
	{
		category: TechnicalConsulting,
		strong:   []string{"which is better", "pros and cons", "best practice", "should i use", "trade-off", "tradeoff"},
		weak:     []string{"recommend", "compare", "opinion", "advice", "versus", " vs "},
	},
	{
		category: CapabilityInquiry,
		strong:   []string{"what can you do", "what tools do you have", "how do you work", "list your tools", "are you able to"},
		weak:     []string{"can you", "capabilities", "help me with"},
	},
}

// Classifier runs the two-stage pipeline.
type Classifier struct {
	chat Chatter
	bus  *event.Bus
}

// NewClassifier wires the classifier. chat may be nil; the keyword result
// is then final.
func NewClassifier(chat Chatter, bus *event.Bus) *Classifier {
	return &Classifier{chat: chat, bus: bus}
}

// Classify maps user text to a category.
func (c *Classifier) Classify(ctx context.Context, text string) Result {
	res := c.classify(ctx, text)
	if c.bus != nil {
		c.bus.Emit(event.KindIntentClassified, map[string]any{
			"category":   string(res.Category),
			"confidence": res.Confidence,
			"stage":      res.Stage,
		})
	}
	return res
}

func (c *Classifier) classify(ctx context.Context, text string) Result {
	normalized := strings.ToLower(strings.TrimSpace(strings.Trim(strings.TrimSpace(text), "!.?,")))
	if greetings[normalized] || (len([]rune(normalized)) <= 12 && startsWithGreeting(normalized)) {
		return Result{Category: GeneralChat, Confidence: 1.0, Stage: "keyword"}
	}

	kwCat, kwConf := keywordScore(normalized)
	if kwConf >= keywordShortCircuit {
		return Result{Category: kwCat, Confidence: kwConf, Stage: "keyword"}
	}

	if c.chat == nil {
		return fallback(kwCat, kwConf)
	}

	llmCat, ok := c.classifyLLM(ctx, text)
	if !ok {
		return fallback(kwCat, kwConf)
	}
	return Result{Category: llmCat, Confidence: 0.8, Stage: "llm"}
}

func fallback(kwCat Category, kwConf float64) Result {
	if kwConf > 0 {
		return Result{Category: kwCat, Confidence: kwConf, Stage: "fallback"}
	}
	return Result{Category: Uncertain, Confidence: 0, Stage: "fallback"}
}

func startsWithGreeting(s string) bool {
	for g := range greetings {
		if strings.HasPrefix(s, g+" ") || s == g {
			return true
		}
	}
	return false
}

// keywordScore returns the best-scoring category. A strong hit scores 0.95;
// weak hits accumulate 0.30 each up to 0.85, so weak signals alone never
// short-circuit.
func keywordScore(text string) (Category, float64) {
	best := Uncertain
	bestScore := 0.0
	for _, r := range rules {
		score := 0.0
		for _, s := range r.strong {
			if strings.Contains(text, s) {
				score = 0.95
				break
			}
		}
		if score == 0 {
			for _, w := range r.weak {
				if strings.Contains(text, w) {
					score += 0.30
				}
			}
			if score > 0.85 {
				score = 0.85
			}
		}
		if score > bestScore {
			best, bestScore = r.category, score
		}
	}
	return best, bestScore
}

const classifyPrompt = `Classify the user request into exactly one category. Answer with the category name only, nothing else.

Categories:
- CODING_TASK: write, modify, refactor or test code
- ERROR_DIAGNOSIS: investigate an error, failure or unexpected behavior
- REPO_ANALYSIS: explain or summarize the structure of a codebase
- TECHNICAL_CONSULTING: compare options, recommend approaches
- GENERAL_CHAT: small talk, anything not about software
- CAPABILITY_INQUIRY: questions about what this assistant can do
- UNCERTAIN: none of the above fits

User request:
`

func (c *Classifier) classifyLLM(ctx context.Context, text string) (Category, bool) {
	reply, err := c.chat.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: "You are an intent classification function."},
		{Role: llm.RoleUser, Content: classifyPrompt + text},
	})
	if err != nil {
		log.Printf("[Intent] LLM classification failed, using keyword fallback: %v", err)
		return "", false
	}

	label := Category(strings.ToUpper(strings.TrimSpace(strings.Trim(strings.TrimSpace(reply), "\"'`."))))
	if !Known(label) {
		log.Printf("[Intent] LLM returned unknown label %q", label)
		return "", false
	}
	return label, true
}
