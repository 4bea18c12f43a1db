// Package builtin provides the standard workspace tools. Each constructor
// returns a tool.Spec; main assembles them into the registry at startup.
package builtin

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cludelabs/clude/internal/tool"
)

const (
	readMaxBytes  = 256 * 1024 // refuse larger files; models cannot use them anyway
	writeMaxBytes = 1024 * 1024
)

// ReadFile reads a text file from the workspace.
func ReadFile() tool.Spec {
	return tool.Spec{
		Name:    "read_file",
		Summary: "Read a file from the workspace",
		Description: "Reads a UTF-8 text file and returns its content with line count. " +
			"Paths are relative to the workspace root.",
		ArgsSchema: tool.BuildSchema(
			tool.Param{Name: "path", Type: "string", Description: "File path relative to the workspace root", Required: true},
			tool.Param{Name: "start_line", Type: "integer", Description: "First line to return (1-based, default 1)"},
			tool.Param{Name: "max_lines", Type: "integer", Description: "Maximum number of lines to return (default all)"},
		),
		ExampleArgs:     map[string]any{"path": "cmd/main.go"},
		SideEffects:     tool.SideEffectRead,
		VisibleInPrompt: true,
		CallableByModel: true,
		Idempotent:      true,
		Handler:         readFileHandler,
	}
}

func readFileHandler(hc tool.HandlerContext, args map[string]any) tool.ToolResult {
	path, _ := args["path"].(string)
	abs, err := tool.ResolveInWorkspace(path, hc.Workspace)
	if err != nil {
		return tool.Fail(tool.ErrInvalidArgs, "%v", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return tool.Fail(tool.ErrIO, "stat %s: %v", path, err)
	}
	if info.IsDir() {
		return tool.Fail(tool.ErrInvalidArgs, "%s is a directory; use list_dir", path)
	}
	if info.Size() > readMaxBytes {
		return tool.Fail(tool.ErrIO, "%s is %d bytes, exceeds the %d byte read limit", path, info.Size(), readMaxBytes)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return tool.Fail(tool.ErrIO, "read %s: %v", path, err)
	}

	lines := strings.Split(string(data), "\n")
	total := len(lines)

	start := intArg(args, "start_line", 1)
	if start < 1 {
		start = 1
	}
	if start > total {
		return tool.Fail(tool.ErrInvalidArgs, "start_line %d exceeds %d lines in %s", start, total, path)
	}
	maxLines := intArg(args, "max_lines", 0)
	end := total
	if maxLines > 0 && start-1+maxLines < end {
		end = start - 1 + maxLines
	}

	return tool.Succeed(map[string]any{
		"path":        tool.WorkspaceRel(abs, hc.Workspace),
		"content":     strings.Join(lines[start-1:end], "\n"),
		"total_lines": total,
		"start_line":  start,
		"end_line":    end,
	})
}

// WriteFile writes content to a workspace file, creating parents as needed.
func WriteFile() tool.Spec {
	return tool.Spec{
		Name:    "write_file",
		Summary: "Write a file in the workspace",
		Description: "Writes content to a file, creating parent directories when missing. " +
			"Set mode to \"append\" to add to the end of an existing file.",
		ArgsSchema: tool.BuildSchema(
			tool.Param{Name: "path", Type: "string", Description: "File path relative to the workspace root", Required: true},
			tool.Param{Name: "content", Type: "string", Description: "Content to write", Required: true},
			tool.Param{Name: "mode", Type: "string", Description: "Write mode", Enum: []string{"overwrite", "append"}, Default: "overwrite"},
		),
		ExampleArgs:     map[string]any{"path": "notes.md", "content": "# Notes\n", "mode": "overwrite"},
		SideEffects:     tool.SideEffectWrite,
		VisibleInPrompt: true,
		CallableByModel: true,
		Idempotent:      false,
		Handler:         writeFileHandler,
	}
}

func writeFileHandler(hc tool.HandlerContext, args map[string]any) tool.ToolResult {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	mode, _ := args["mode"].(string)

	if len(content) > writeMaxBytes {
		return tool.Fail(tool.ErrInvalidArgs, "content is %d bytes, exceeds the %d byte write limit", len(content), writeMaxBytes)
	}

	abs, err := tool.ResolveInWorkspace(path, hc.Workspace)
	if err != nil {
		return tool.Fail(tool.ErrInvalidArgs, "%v", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return tool.Fail(tool.ErrIO, "create parent directory: %v", err)
	}

	var written int
	switch mode {
	case "append":
		f, err := os.OpenFile(abs, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return tool.Fail(tool.ErrIO, "open %s: %v", path, err)
		}
		n, werr := f.WriteString(content)
		cerr := f.Close()
		if werr != nil {
			return tool.Fail(tool.ErrIO, "append %s: %v", path, werr)
		}
		if cerr != nil {
			return tool.Fail(tool.ErrIO, "close %s: %v", path, cerr)
		}
		written = n
	default:
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			return tool.Fail(tool.ErrIO, "write %s: %v", path, err)
		}
		written = len(content)
	}

	rel := tool.WorkspaceRel(abs, hc.Workspace)
	res := tool.Succeed(map[string]any{
		"path":          rel,
		"bytes_written": written,
		"mode":          nonEmpty(mode, "overwrite"),
	})
	res.TouchedPaths = []string{rel}
	return res
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func nonEmpty(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
