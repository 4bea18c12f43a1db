package builtin

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/cludelabs/clude/internal/tool"
)

const (
	cmdDefaultTimeout = 30 * time.Second
	cmdMaxTimeout     = 300 * time.Second
	cmdMaxOutputChars = 8000
)

// runCmdArgs is the argument shape of run_cmd; the schema is reflected from
// the struct so handler and contract cannot drift apart.
type runCmdArgs struct {
	Command        string `json:"command" jsonschema:"description=Command line to execute"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" jsonschema:"description=Wall clock limit in seconds; default 30 and cap 300"`
}

// RunCmd executes a shell command inside the workspace. Deny and allow list
// screening happens in the lifecycle before dispatch reaches this handler;
// the handler itself only enforces the timeout and output caps.
func RunCmd() tool.Spec {
	return tool.Spec{
		Name:    "run_cmd",
		Summary: "Run a shell command in the workspace",
		Description: "Executes a shell command with the workspace root as working directory " +
			"and returns stdout, stderr and the exit code. Output is truncated to a fixed budget.",
		ArgsSchema:      tool.SchemaFor(&runCmdArgs{}),
		ExampleArgs:     map[string]any{"command": "go test ./..."},
		SideEffects:     tool.SideEffectExec,
		VisibleInPrompt: true,
		CallableByModel: true,
		Idempotent:      false,
		Handler:         runCmdHandler,
	}
}

func runCmdHandler(hc tool.HandlerContext, args map[string]any) tool.ToolResult {
	command, _ := args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return tool.Fail(tool.ErrInvalidArgs, "command cannot be empty")
	}

	timeout := time.Duration(clamp(intArg(args, "timeout_seconds", int(cmdDefaultTimeout/time.Second)), 1, int(cmdMaxTimeout/time.Second))) * time.Second
	ctx, cancel := context.WithTimeout(hc.Ctx, timeout)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", "/C", command)
	} else {
		cmd = exec.CommandContext(ctx, "sh", "-c", command)
	}
	cmd.Dir = hc.Workspace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		return tool.FailWith(tool.ErrToolTimeout,
			"command exceeded the "+timeout.String()+" limit",
			map[string]any{"stdout": capOutput(stdout.String()), "stderr": capOutput(stderr.String())})
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return tool.Fail(tool.ErrIO, "start command: %v", err)
		}
	}

	return tool.Succeed(map[string]any{
		"command":     command,
		"exit_code":   exitCode,
		"stdout":      capOutput(stdout.String()),
		"stderr":      capOutput(stderr.String()),
		"duration_ms": elapsed.Milliseconds(),
	})
}

// capOutput keeps head and tail of oversized command output.
func capOutput(s string) string {
	runes := []rune(s)
	if len(runes) <= cmdMaxOutputChars {
		return s
	}
	half := cmdMaxOutputChars / 2
	return string(runes[:half]) + "\n…[output truncated]…\n" + string(runes[len(runes)-half:])
}
