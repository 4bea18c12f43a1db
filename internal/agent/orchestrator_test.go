package agent

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cludelabs/clude/internal/budget"
	"github.com/cludelabs/clude/internal/compress"
	"github.com/cludelabs/clude/internal/config"
	"github.com/cludelabs/clude/internal/event"
	"github.com/cludelabs/clude/internal/intent"
	"github.com/cludelabs/clude/internal/llm"
	"github.com/cludelabs/clude/internal/policy"
	"github.com/cludelabs/clude/internal/profile"
	"github.com/cludelabs/clude/internal/session"
	"github.com/cludelabs/clude/internal/tool"
	"github.com/cludelabs/clude/internal/tool/builtin"
)

// scriptedProvider replays canned assistant responses in order and records
// the last message of every request for assertions.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []string
	calls     int
	lastMsgs  []string
}

func (p *scriptedProvider) CallLLM(_ context.Context, msgs []llm.Message, _ int) (llm.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastMsgs = append(p.lastMsgs, msgs[len(msgs)-1].Text())
	idx := p.calls
	p.calls++
	if idx >= len(p.responses) {
		return llm.Message{Role: llm.RoleAssistant, Content: "I have nothing further."}, nil
	}
	return llm.Message{Role: llm.RoleAssistant, Content: p.responses[idx]}, nil
}

type eventSink struct {
	mu     sync.Mutex
	events []event.TurnEvent
}

func (s *eventSink) HandleEvent(ev event.TurnEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *eventSink) find(kind event.Kind) []event.TurnEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []event.TurnEvent
	for _, ev := range s.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	o        *Orchestrator
	sess     *session.Session
	provider *scriptedProvider
	sink     *eventSink
	bus      *event.Bus
	ws       string
}

func newHarness(t *testing.T, responses []string, confirmer policy.Confirmer, fuses config.Fuses) *harness {
	t.Helper()
	ws := t.TempDir()

	bus := event.NewBus("s1", "t0")
	sink := &eventSink{}
	bus.Subscribe(sink)

	provider := &scriptedProvider{responses: responses}
	est := llm.NewEstimator("test-local-model")
	chat := llm.NewChat(provider, bus, est, nil, nil, llm.Options{Timeout: 5 * time.Second})

	reg, err := tool.New(builtin.All())
	if err != nil {
		t.Fatal(err)
	}

	store := session.NewStore(time.Minute, fuses.MaxHistoryMessages)
	t.Cleanup(store.Close)
	sess := store.GetOrCreate("s1")

	assets := profile.NewAssets(filepath.Join(ws, ".clude", "prompts"))
	profiles := profile.NewRegistry(ws, assets)
	t.Cleanup(profiles.Close)

	o := &Orchestrator{
		Chat:       chat,
		Classifier: intent.NewClassifier(chat, bus),
		Profiles:   profiles,
		Tools:      reg,
		Compressor: compress.New(),
		Budget:     budget.New(est),
		Screen:     &policy.CommandScreen{},
		Confirmer:  confirmer,
		Bus:        bus,
		Fuses:      fuses,
		Workspace:  ws,
		Debug:      true,
	}
	return &harness{o: o, sess: sess, provider: provider, sink: sink, bus: bus, ws: ws}
}

func (h *harness) run(t *testing.T, input string) TurnResult {
	t.Helper()
	res := h.o.RunTurn(context.Background(), h.sess, input)
	h.bus.Close()
	return res
}

func TestRunTurn_PlannedToolTask(t *testing.T) {
	h := newHarness(t, []string{
		`{"type":"FullPlan","title":"Create hello file","steps":[{"id":"s1","description":"write the hello file","tools_expected":["write_file"]}],"verification":{"mode":"none"}}`,
		`{"tool":"write_file","args":{"path":"hello.txt","content":"hi"}}`,
		`{"control":"step_done","reason":"file written"}`,
		`Created hello.txt with the greeting.`,
	}, policy.AutoApprove{}, config.DefaultFuses())

	res := h.run(t, "implement a hello file in the workspace")
	if res.ExitCode != ExitOK {
		t.Fatalf("exit = %d, final = %q, stop = %q", res.ExitCode, res.FinalText, res.StopReason)
	}
	if res.FinalText != "Created hello.txt with the greeting." {
		t.Errorf("final = %q", res.FinalText)
	}

	data, err := os.ReadFile(filepath.Join(h.ws, "hello.txt"))
	if err != nil || string(data) != "hi" {
		t.Errorf("hello.txt = %q, %v", data, err)
	}

	for _, kind := range []event.Kind{
		event.KindIntentClassified, event.KindProfileSelected,
		event.KindPlanGenerated, event.KindPlanStepStart,
		event.KindToolConfirm, event.KindToolResult, event.KindToolResultFedBack,
		event.KindPlanStepEnd, event.KindFinalText, event.KindStopReason,
	} {
		if len(h.sink.find(kind)) == 0 {
			t.Errorf("no %s event", kind)
		}
	}

	confirms := h.sink.find(event.KindToolConfirm)
	if len(confirms) != 1 || confirms[0].Payload["approved"] != true {
		t.Errorf("confirm events = %+v", confirms)
	}
	stops := h.sink.find(event.KindStopReason)
	if stops[len(stops)-1].Payload["reason"] != StopDone {
		t.Errorf("stop reason = %v", stops[len(stops)-1].Payload)
	}

	results := h.sink.find(event.KindToolResult)
	if len(results) != 1 {
		t.Fatalf("tool_result events = %+v", results)
	}
	payload := results[0].Payload
	if _, ok := payload["duration_ms"].(int64); !ok {
		t.Errorf("tool_result missing duration_ms: %+v", payload)
	}
	if d, _ := payload["args_digest"].(string); d == "" {
		t.Errorf("tool_result missing args_digest: %+v", payload)
	}
	if d, _ := payload["result_digest"].(string); d == "" {
		t.Errorf("tool_result missing result_digest: %+v", payload)
	}
}

func TestRunTurn_DeniedWriteLeavesWorkspaceUntouched(t *testing.T) {
	h := newHarness(t, []string{
		`{"type":"FullPlan","title":"Write","steps":[{"id":"s1","description":"write file","tools_expected":["write_file"]}],"verification":{"mode":"none"}}`,
		`{"tool":"write_file","args":{"path":"secret.txt","content":"x"}}`,
		`{"control":"step_done","reason":"giving up on the write"}`,
		`I was not allowed to write the file.`,
	}, policy.AutoDeny{}, config.DefaultFuses())

	res := h.run(t, "implement a secret file")
	if res.FinalText != "I was not allowed to write the file." {
		t.Errorf("final = %q", res.FinalText)
	}
	if _, err := os.Stat(filepath.Join(h.ws, "secret.txt")); !os.IsNotExist(err) {
		t.Error("denied write still created the file")
	}
	if len(h.sink.find(event.KindPolicyDeny)) == 0 {
		t.Error("no policy_deny event")
	}

	// The model must have been told about the denial.
	found := false
	for _, m := range h.provider.lastMsgs {
		if strings.Contains(m, "E_DENIED") {
			found = true
		}
	}
	if !found {
		t.Error("denial never fed back to the model")
	}
}

func TestRunTurn_ReplanViaPatch(t *testing.T) {
	h := newHarness(t, []string{
		`{"type":"FullPlan","title":"Two steps","steps":[{"id":"s1","description":"inspect input","tools_expected":["read_file"]},{"id":"s2","description":"process","dependencies":["s1"],"tools_expected":["write_file"]}],"verification":{"mode":"none"}}`,
		`{"control":"replan","reason":"input file does not exist"}`,
		`{"type":"PlanPatch","remove":["s2"],"update":[{"id":"s1","description":"explain the situation","tools_expected":[],"status":"pending"}]}`,
		`There is no input file, so nothing to process.`,
		`Done: explained that the input file is missing.`,
	}, policy.AutoApprove{}, config.DefaultFuses())

	res := h.run(t, "implement the processing pipeline")
	if res.ExitCode != ExitOK {
		t.Fatalf("exit = %d, final = %q", res.ExitCode, res.FinalText)
	}
	if res.FinalText != "Done: explained that the input file is missing." {
		t.Errorf("final = %q", res.FinalText)
	}

	replans := h.sink.find(event.KindPlanReplanned)
	if len(replans) != 1 || replans[0].Payload["mode"] != "patch" {
		t.Fatalf("replan events = %+v", replans)
	}

	// The step that requested the replan is recorded as failed before the
	// patch revives it.
	ends := h.sink.find(event.KindPlanStepEnd)
	sawFailed := false
	for _, ev := range ends {
		if ev.StepID == "s1" && ev.Payload["status"] == "failed" {
			sawFailed = true
		}
	}
	if !sawFailed {
		t.Errorf("no failed step end for the replanning step: %+v", ends)
	}
}

func TestRunTurn_ReplanExhausted(t *testing.T) {
	fuses := config.DefaultFuses()
	fuses.MaxReplans = 0

	h := newHarness(t, []string{
		`{"type":"FullPlan","title":"Doomed","steps":[{"id":"s1","description":"try","tools_expected":["read_file"]}],"verification":{"mode":"none"}}`,
		`{"control":"replan","reason":"stuck"}`,
		`I could not make progress.`,
	}, policy.AutoApprove{}, fuses)

	res := h.run(t, "implement the thing")
	if res.StopReason != StopReplanExhausted {
		t.Fatalf("stop = %q", res.StopReason)
	}
	if res.ExitCode != ExitFailure {
		t.Errorf("exit = %d", res.ExitCode)
	}

	stops := h.sink.find(event.KindStopReason)
	if stops[len(stops)-1].Payload["reason"] != StopReplanExhausted {
		t.Errorf("stop payload = %v", stops[len(stops)-1].Payload)
	}
}

func TestRunTurn_RepetitiveOutputStopsTurn(t *testing.T) {
	h := newHarness(t, []string{
		strings.Repeat("{", 3000),
	}, policy.AutoDeny{}, config.DefaultFuses())

	res := h.run(t, "hi")
	if res.StopReason != StopLLMError {
		t.Fatalf("stop = %q", res.StopReason)
	}
	if res.ExitCode != ExitFailure {
		t.Errorf("exit = %d", res.ExitCode)
	}
	if strings.Contains(res.FinalText, "{") {
		t.Errorf("degenerate output leaked into the final text: %q", res.FinalText)
	}
	if res.FinalText == "" {
		t.Error("no warning surfaced to the user")
	}

	if len(h.sink.find(event.KindLLMError)) == 0 {
		t.Error("no llm_error event")
	}
	if len(h.sink.find(event.KindToolCallParsed)) != 0 {
		t.Error("degenerate output still reached the tool pipeline")
	}
	stops := h.sink.find(event.KindStopReason)
	if stops[len(stops)-1].Payload["reason"] != StopLLMError {
		t.Errorf("stop payload = %v", stops[len(stops)-1].Payload)
	}
}

func TestRunTurn_ToolBudgetExhaustedStopsWithMaxIterations(t *testing.T) {
	fuses := config.DefaultFuses()
	fuses.MaxStepToolCalls = 1

	h := newHarness(t, []string{
		`{"tool":"list_dir","args":{"path":"."}}`,
		`{"tool":"list_dir","args":{"path":"."}}`,
	}, policy.AutoDeny{}, fuses)

	res := h.run(t, "what can you do")
	if res.StopReason != StopMaxIterations {
		t.Fatalf("stop = %q, final = %q", res.StopReason, res.FinalText)
	}
	if res.ExitCode != ExitFailure {
		t.Errorf("exit = %d", res.ExitCode)
	}
	if res.FinalText == "" {
		t.Error("no partial-progress answer surfaced")
	}
	stops := h.sink.find(event.KindStopReason)
	if stops[len(stops)-1].Payload["reason"] != StopMaxIterations {
		t.Errorf("stop payload = %v", stops[len(stops)-1].Payload)
	}
}

func TestRunTurn_UnparseablePlanStopsTurn(t *testing.T) {
	fuses := config.DefaultFuses()
	fuses.MaxLLMRetries = 0

	h := newHarness(t, []string{
		`{"type":"FullPlan","title":"Loop","steps":[{"id":"s1","description":"a","dependencies":["s2"]},{"id":"s2","description":"b","dependencies":["s1"]}],"verification":{"mode":"none"}}`,
	}, policy.AutoApprove{}, fuses)

	res := h.run(t, "implement the feature")
	if res.StopReason != StopLLMError {
		t.Fatalf("stop = %q, final = %q", res.StopReason, res.FinalText)
	}
	if res.ExitCode != ExitFailure {
		t.Errorf("exit = %d", res.ExitCode)
	}
	if len(h.sink.find(event.KindPlanGenerated)) != 0 {
		t.Error("invalid plan still reported as generated")
	}
	if len(h.sink.find(event.KindLLMError)) == 0 {
		t.Error("no llm_error event")
	}
}

func TestRunTurn_ChatSkipsPlanning(t *testing.T) {
	h := newHarness(t, []string{
		`Hello! What can I help you with today?`,
	}, policy.AutoDeny{}, config.DefaultFuses())

	res := h.run(t, "hi")
	if res.ExitCode != ExitOK || res.FinalText != "Hello! What can I help you with today?" {
		t.Fatalf("res = %+v", res)
	}
	if len(h.sink.find(event.KindPlanGenerated)) != 0 {
		t.Error("chat turn generated a plan")
	}
	if len(h.sink.find(event.KindToolCallParsed)) != 0 {
		t.Error("chat turn ran tools")
	}
	if h.provider.calls != 1 {
		t.Errorf("llm calls = %d", h.provider.calls)
	}
}

func TestRunTurn_InvalidArgsFeedbackSuggestsRename(t *testing.T) {
	h := newHarness(t, []string{
		`{"tool":"read_file","args":{"filename":"README.md"}}`,
		`{"tool":"read_file","args":{"path":"README.md"}}`,
		`The README contains a greeting.`,
	}, policy.AutoDeny{}, config.DefaultFuses())

	if err := os.WriteFile(filepath.Join(h.ws, "README.md"), []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	res := h.run(t, "what can you do")
	if res.ExitCode != ExitOK {
		t.Fatalf("res = %+v", res)
	}

	// The second request must carry the corrected-name hint.
	if len(h.provider.lastMsgs) < 2 {
		t.Fatalf("llm calls = %d", h.provider.calls)
	}
	feedback := h.provider.lastMsgs[1]
	if !strings.Contains(feedback, "E_INVALID_ARGS") || !strings.Contains(feedback, `use \"path\" instead of \"filename\"`) {
		t.Errorf("feedback = %q", feedback)
	}
}

func TestRunTurn_VerificationRuns(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("verification commands use sh")
	}

	t.Run("passing", func(t *testing.T) {
		h := newHarness(t, []string{
			`{"type":"FullPlan","title":"Check","steps":[{"id":"s1","description":"note the state","tools_expected":[]}],"verification":{"mode":"custom","commands":["true"],"required":true}}`,
			`Everything is already in place.`,
			`All checks passed.`,
		}, policy.AutoApprove{}, config.DefaultFuses())

		res := h.run(t, "implement the check")
		if res.ExitCode != ExitOK {
			t.Fatalf("res = %+v", res)
		}
		verifies := h.sink.find(event.KindVerify)
		if len(verifies) != 1 || verifies[0].Payload["ok"] != true {
			t.Errorf("verify events = %+v", verifies)
		}
	})

	t.Run("required failure", func(t *testing.T) {
		h := newHarness(t, []string{
			`{"type":"FullPlan","title":"Check","steps":[{"id":"s1","description":"note the state","tools_expected":[]}],"verification":{"mode":"custom","commands":["false"],"required":true}}`,
			`Everything is already in place.`,
			`The verification command failed.`,
		}, policy.AutoApprove{}, config.DefaultFuses())

		res := h.run(t, "implement the check")
		if res.ExitCode != ExitFailure {
			t.Errorf("exit = %d", res.ExitCode)
		}
		verifies := h.sink.find(event.KindVerify)
		if len(verifies) != 1 || verifies[0].Payload["ok"] != false {
			t.Errorf("verify events = %+v", verifies)
		}
	})
}

func TestRunTurn_CancelledBeforeStart(t *testing.T) {
	h := newHarness(t, nil, policy.AutoDeny{}, config.DefaultFuses())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := h.o.RunTurn(ctx, h.sess, "implement something")
	h.bus.Close()

	if res.ExitCode != ExitCancelled {
		t.Errorf("exit = %d", res.ExitCode)
	}
	if res.StopReason != StopCancelled {
		t.Errorf("stop = %q", res.StopReason)
	}
	if h.provider.calls != 0 {
		t.Errorf("cancelled turn made %d llm calls", h.provider.calls)
	}
}

func TestRunTurn_EmptyInputAsksForClarification(t *testing.T) {
	h := newHarness(t, nil, policy.AutoDeny{}, config.DefaultFuses())

	res := h.run(t, "   ")
	if res.ExitCode != ExitOK {
		t.Errorf("exit = %d", res.ExitCode)
	}
	if !strings.Contains(res.FinalText, "What would you like") {
		t.Errorf("final = %q", res.FinalText)
	}
	if h.provider.calls != 0 {
		t.Errorf("clarification turn made %d llm calls", h.provider.calls)
	}
}
