// Command clude is the local-first code agent runtime: it takes a task,
// classifies it, optionally plans, and drives the model/tool loop to
// completion inside a sandboxed workspace.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cludelabs/clude/internal/agent"
	"github.com/cludelabs/clude/internal/audit"
	"github.com/cludelabs/clude/internal/budget"
	"github.com/cludelabs/clude/internal/compress"
	"github.com/cludelabs/clude/internal/config"
	"github.com/cludelabs/clude/internal/event"
	"github.com/cludelabs/clude/internal/intent"
	"github.com/cludelabs/clude/internal/llm"
	"github.com/cludelabs/clude/internal/llm/openai"
	"github.com/cludelabs/clude/internal/mcp"
	"github.com/cludelabs/clude/internal/policy"
	"github.com/cludelabs/clude/internal/profile"
	"github.com/cludelabs/clude/internal/session"
	"github.com/cludelabs/clude/internal/tool"
	"github.com/cludelabs/clude/internal/tool/builtin"
)

// CLI is the command-line surface.
type CLI struct {
	Run     RunCmd     `cmd:"" help:"Run one task to completion and print the result."`
	Chat    ChatCmd    `cmd:"" help:"Interactive session in the terminal."`
	Tools   ToolsCmd   `cmd:"" help:"Print the tool manifest."`
	Version VersionCmd `cmd:"" help:"Show version information."`

	Workspace string `short:"w" help:"Workspace root (default: WORKSPACE_ROOT or the working directory)." type:"path"`
	Debug     bool   `help:"Fail fast on internal state errors."`
	Metrics   string `help:"Expose Prometheus metrics on this address (e.g. :9464)."`
}

// RunCmd executes a single turn.
type RunCmd struct {
	Yes     bool     `short:"y" help:"Approve tool confirmations automatically."`
	Session string   `help:"Session id to continue an earlier conversation."`
	Task    []string `arg:"" help:"Task description."`
}

// ChatCmd runs a line-based interactive loop.
type ChatCmd struct {
	Yes bool `short:"y" help:"Approve tool confirmations automatically."`
}

// ToolsCmd prints the manifest the model sees.
type ToolsCmd struct{}

// VersionCmd prints build information.
type VersionCmd struct{}

// exitError carries a process exit code through kong's error plumbing.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit code %d", e.code) }

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("clude"),
		kong.Description("Local-first code agent runtime."),
		kong.UsageOnError(),
	)

	err := ctx.Run(&cli)
	var ee exitError
	if errors.As(err, &ee) {
		os.Exit(ee.code)
	}
	ctx.FatalIfErrorf(err)
}

// runtimeEnv bundles everything a turn needs plus its teardown.
type runtimeEnv struct {
	orch     *agent.Orchestrator
	sessions *session.Store
	cleanup  func()
}

func buildRuntime(g *CLI, confirmer policy.Confirmer, sessionID string) (*runtimeEnv, error) {
	config.LoadEnv()

	workspace := g.Workspace
	if workspace == "" {
		var err error
		if workspace, err = config.Workspace(); err != nil {
			return nil, err
		}
	}
	if info, err := os.Stat(workspace); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("workspace %q does not exist or is not a directory", workspace)
	}

	client, err := openai.NewClientFromEnv()
	if err != nil {
		return nil, err
	}

	fuses := config.FusesFromEnv()
	est := llm.NewEstimator(client.GetConfig().Model)
	budgeter := budget.New(est)

	bus := event.NewBus(sessionID, "")
	var closers []func()

	redactor := audit.NewRedactor(client.GetConfig().APIKey)
	logDir := filepath.Join(workspace, ".clude", "logs")
	if rec, err := audit.NewRecorder(filepath.Join(logDir, "audit.jsonl")); err != nil {
		log.Printf("[Main] Audit log disabled: %v", err)
	} else {
		bus.Subscribe(rec)
		closers = append(closers, func() { _ = rec.Close() })
	}
	if tr, err := audit.NewTraceRecorder(filepath.Join(logDir, "trace.jsonl")); err != nil {
		log.Printf("[Main] Trace log disabled: %v", err)
	} else {
		bus.Subscribe(tr)
		closers = append(closers, func() { _ = tr.Close() })
	}

	if g.Metrics != "" {
		bus.Subscribe(event.NewMetrics(prometheus.DefaultRegisterer))
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(g.Metrics, nil); err != nil {
				log.Printf("[Main] Metrics endpoint failed: %v", err)
			}
		}()
		log.Printf("[Main] Prometheus metrics on %s/metrics", g.Metrics)
	}

	chat := llm.NewChat(client, bus, est, budgeter, redactor.Redact, llm.Options{
		MaxOutputTokens:     fuses.MaxLLMOutputTokens,
		MaxTransportRetries: fuses.MaxLLMRetries,
	})

	specs := builtin.All()
	mgr := mcp.NewManager(filepath.Join(workspace, ".clude", "mcp.json"))
	mcpSpecs, mcpErrs := mgr.Specs(context.Background())
	for _, e := range mcpErrs {
		log.Printf("[Main] MCP: %v", e)
	}
	specs = append(specs, mcpSpecs...)
	closers = append(closers, func() { _ = mgr.CloseAll() })

	reg, err := tool.New(specs)
	if err != nil {
		return nil, fmt.Errorf("tool registry: %w", err)
	}

	assets := profile.NewAssets(filepath.Join(workspace, ".clude", "prompts"))
	profiles := profile.NewRegistry(workspace, assets)
	if err := profiles.Watch(); err != nil {
		log.Printf("[Main] Registry hot reload disabled: %v", err)
	}
	closers = append(closers, profiles.Close)

	sessions := session.NewStore(2*time.Hour, fuses.MaxHistoryMessages)
	closers = append(closers, sessions.Close)

	orch := &agent.Orchestrator{
		Chat:       chat,
		Classifier: intent.NewClassifier(chat, bus),
		Profiles:   profiles,
		Tools:      reg,
		Compressor: compress.New(),
		Budget:     budgeter,
		Screen:     &policy.CommandScreen{},
		Confirmer:  confirmer,
		Bus:        bus,
		Fuses:      fuses,
		Workspace:  workspace,
		Debug:      g.Debug || config.Debug(),
	}

	cleanup := func() {
		bus.Close()
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	return &runtimeEnv{orch: orch, sessions: sessions, cleanup: cleanup}, nil
}

func (c *RunCmd) Run(g *CLI) error {
	sessionID := c.Session
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	env, err := buildRuntime(g, pickConfirmer(c.Yes), sessionID)
	if err != nil {
		return err
	}
	defer env.cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sess := env.sessions.GetOrCreate(sessionID)
	res := env.orch.RunTurn(ctx, sess, strings.Join(c.Task, " "))

	fmt.Println(res.FinalText)
	if res.StopReason != "" {
		fmt.Fprintf(os.Stderr, "(stopped: %s)\n", res.StopReason)
	}
	if res.ExitCode != agent.ExitOK {
		return exitError{code: res.ExitCode}
	}
	return nil
}

func (c *ChatCmd) Run(g *CLI) error {
	sessionID := uuid.NewString()
	env, err := buildRuntime(g, pickConfirmer(c.Yes), sessionID)
	if err != nil {
		return err
	}
	defer env.cleanup()

	sess := env.sessions.GetOrCreate(sessionID)
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("clude interactive session. Empty line or Ctrl-D to quit.")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			return nil
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		res := env.orch.RunTurn(ctx, sess, line)
		stop()

		fmt.Println(res.FinalText)
		if res.StopReason != "" {
			fmt.Printf("(stopped: %s)\n", res.StopReason)
		}
	}
}

func (c *ToolsCmd) Run(g *CLI) error {
	env, err := buildRuntime(g, policy.AutoDeny{}, uuid.NewString())
	if err != nil {
		return err
	}
	defer env.cleanup()
	fmt.Println(env.orch.Tools.Manifest())
	return nil
}

func (c *VersionCmd) Run(*CLI) error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		version = info.Main.Version
	}
	fmt.Printf("clude %s\n", version)
	return nil
}

// pickConfirmer maps --yes to auto-approval; otherwise confirmations go to
// the terminal.
func pickConfirmer(yes bool) policy.Confirmer {
	if yes {
		return policy.AutoApprove{}
	}
	return &terminalConfirmer{in: bufio.NewReader(os.Stdin)}
}

// terminalConfirmer asks on stdout and reads y/n from stdin.
type terminalConfirmer struct {
	in *bufio.Reader
}

func (t *terminalConfirmer) Confirm(ctx context.Context, req policy.ConfirmRequest) (bool, error) {
	if req.PlanPreview != "" {
		fmt.Println("\nPlan approval required:")
		fmt.Println(req.PlanPreview)
	}
	fmt.Printf("Allow %s? [y/N] ", req.Summary)

	type answer struct {
		ok  bool
		err error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := t.in.ReadString('\n')
		if err != nil {
			ch <- answer{err: err}
			return
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			ch <- answer{ok: true}
		default:
			ch <- answer{ok: false}
		}
	}()

	select {
	case a := <-ch:
		return a.ok, a.err
	case <-ctx.Done():
		fmt.Println()
		return false, ctx.Err()
	}
}
