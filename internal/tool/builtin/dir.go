package builtin

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cludelabs/clude/internal/tool"
)

const (
	listDefaultMax = 200
	listHardMax    = 1000
)

// ignoredDirs are never descended into when listing recursively.
var ignoredDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	".venv":        true,
	"__pycache__":  true,
	".idea":        true,
	".vscode":      true,
}

// ListDir lists workspace directory entries.
func ListDir() tool.Spec {
	return tool.Spec{
		Name:    "list_dir",
		Summary: "List a workspace directory",
		Description: "Lists files and directories under a path. With recursive=true, walks the " +
			"subtree (skipping .git, node_modules and similar) up to the entry limit.",
		ArgsSchema: tool.BuildSchema(
			tool.Param{Name: "path", Type: "string", Description: "Directory path relative to the workspace root", Default: "."},
			tool.Param{Name: "recursive", Type: "boolean", Description: "Walk subdirectories", Default: false},
			tool.Param{Name: "max_entries", Type: "integer", Description: "Maximum entries to return (default 200)"},
		),
		ExampleArgs:     map[string]any{"path": ".", "recursive": false},
		SideEffects:     tool.SideEffectRead,
		VisibleInPrompt: true,
		CallableByModel: true,
		Idempotent:      true,
		Handler:         listDirHandler,
	}
}

func listDirHandler(hc tool.HandlerContext, args map[string]any) tool.ToolResult {
	path, _ := args["path"].(string)
	if path == "" {
		path = "."
	}
	recursive, _ := args["recursive"].(bool)
	maxEntries := intArg(args, "max_entries", listDefaultMax)
	maxEntries = clamp(maxEntries, 1, listHardMax)

	abs, err := tool.ResolveInWorkspace(path, hc.Workspace)
	if err != nil {
		return tool.Fail(tool.ErrInvalidArgs, "%v", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return tool.Fail(tool.ErrIO, "stat %s: %v", path, err)
	}
	if !info.IsDir() {
		return tool.Fail(tool.ErrInvalidArgs, "%s is a file; use read_file", path)
	}

	var entries []map[string]any
	truncated := false

	add := func(p string, d os.DirEntry) bool {
		if len(entries) >= maxEntries {
			truncated = true
			return false
		}
		e := map[string]any{
			"path": tool.WorkspaceRel(p, hc.Workspace),
			"dir":  d.IsDir(),
		}
		if fi, err := d.Info(); err == nil && !d.IsDir() {
			e["size"] = fi.Size()
		}
		entries = append(entries, e)
		return true
	}

	if recursive {
		err = filepath.WalkDir(abs, func(p string, d os.DirEntry, werr error) error {
			if werr != nil {
				return nil // unreadable subtree, keep going
			}
			if p == abs {
				return nil
			}
			if d.IsDir() && ignoredDirs[d.Name()] {
				return filepath.SkipDir
			}
			if strings.HasPrefix(d.Name(), ".") && d.IsDir() {
				return filepath.SkipDir
			}
			if !add(p, d) {
				return filepath.SkipAll
			}
			return nil
		})
		if err != nil {
			return tool.Fail(tool.ErrIO, "walk %s: %v", path, err)
		}
	} else {
		dirEntries, err := os.ReadDir(abs)
		if err != nil {
			return tool.Fail(tool.ErrIO, "read dir %s: %v", path, err)
		}
		for _, d := range dirEntries {
			if !add(filepath.Join(abs, d.Name()), d) {
				break
			}
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i]["path"].(string) < entries[j]["path"].(string)
	})

	return tool.Succeed(map[string]any{
		"path":      tool.WorkspaceRel(abs, hc.Workspace),
		"entries":   entries,
		"count":     len(entries),
		"truncated": truncated,
	})
}
