package builtin

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/cludelabs/clude/internal/tool"
)

const (
	grepDefaultMax = 50
	grepHardMax    = 200
	grepMaxLineLen = 200 // truncate long matched lines to keep payloads tidy
	grepMaxFileSz  = 2 * 1024 * 1024
)

// GrepFiles searches file contents under the workspace.
func GrepFiles() tool.Spec {
	return tool.Spec{
		Name:    "grep_files",
		Summary: "Search file contents by pattern",
		Description: "Searches files under a path for a regular expression and returns " +
			"path, line number and the matched line. Binary files are skipped.",
		ArgsSchema: tool.BuildSchema(
			tool.Param{Name: "pattern", Type: "string", Description: "Search pattern (Go regular expression syntax)", Required: true},
			tool.Param{Name: "path", Type: "string", Description: "Directory or file to search, default workspace root", Default: "."},
			tool.Param{Name: "file_glob", Type: "string", Description: "Filename filter, e.g. *.go"},
			tool.Param{Name: "case_sensitive", Type: "boolean", Description: "Case sensitive matching", Default: false},
			tool.Param{Name: "max_results", Type: "integer", Description: "Maximum matches to return (default 50, cap 200)"},
		),
		ExampleArgs:     map[string]any{"pattern": "func main", "file_glob": "*.go"},
		SideEffects:     tool.SideEffectRead,
		VisibleInPrompt: true,
		CallableByModel: true,
		Idempotent:      true,
		Handler:         grepFilesHandler,
	}
}

func grepFilesHandler(hc tool.HandlerContext, args map[string]any) tool.ToolResult {
	pattern, _ := args["pattern"].(string)
	if strings.TrimSpace(pattern) == "" {
		return tool.Fail(tool.ErrInvalidArgs, "pattern cannot be empty")
	}
	caseSensitive, _ := args["case_sensitive"].(bool)
	re, err := buildRegexp(pattern, caseSensitive)
	if err != nil {
		return tool.Fail(tool.ErrInvalidArgs, "bad pattern: %v", err)
	}

	path, _ := args["path"].(string)
	if path == "" {
		path = "."
	}
	root, err := tool.ResolveInWorkspace(path, hc.Workspace)
	if err != nil {
		return tool.Fail(tool.ErrInvalidArgs, "%v", err)
	}
	fileGlob, _ := args["file_glob"].(string)
	maxResults := clamp(intArg(args, "max_results", grepDefaultMax), 1, grepHardMax)

	var matches []map[string]any
	filesMatched := map[string]bool{}
	filesScanned := 0
	truncated := false

	walkErr := filepath.WalkDir(root, func(p string, d os.DirEntry, werr error) error {
		if werr != nil {
			return nil
		}
		if d.IsDir() {
			if p != root && (ignoredDirs[d.Name()] || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if fileGlob != "" {
			if ok, _ := filepath.Match(fileGlob, d.Name()); !ok {
				return nil
			}
		}
		if fi, err := d.Info(); err != nil || fi.Size() > grepMaxFileSz {
			return nil
		}
		select {
		case <-hc.Ctx.Done():
			return filepath.SkipAll
		default:
		}

		filesScanned++
		hits, err := grepFile(p, re, maxResults-len(matches))
		if err != nil {
			return nil
		}
		for _, h := range hits {
			h["path"] = tool.WorkspaceRel(p, hc.Workspace)
			matches = append(matches, h)
			filesMatched[p] = true
		}
		if len(matches) >= maxResults {
			truncated = true
			return filepath.SkipAll
		}
		return nil
	})
	if walkErr != nil {
		return tool.Fail(tool.ErrIO, "search %s: %v", path, walkErr)
	}
	if hc.Ctx.Err() != nil {
		return tool.Fail(tool.ErrToolTimeout, "search cancelled after %d files", filesScanned)
	}

	return tool.Succeed(map[string]any{
		"pattern":       pattern,
		"matches":       matches,
		"hits":          len(matches),
		"files_matched": len(filesMatched),
		"files_scanned": filesScanned,
		"truncated":     truncated,
	})
}

func buildRegexp(pattern string, caseSensitive bool) (*regexp.Regexp, error) {
	if !caseSensitive {
		pattern = "(?i)" + pattern
	}
	return regexp.Compile(pattern)
}

func grepFile(path string, re *regexp.Regexp, limit int) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Binary sniff on the first block.
	head := make([]byte, 512)
	n, _ := f.Read(head)
	if bytes.IndexByte(head[:n], 0) >= 0 {
		return nil, nil
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}

	var out []map[string]any
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() && len(out) < limit {
		lineNum++
		line := scanner.Text()
		if !re.MatchString(line) {
			continue
		}
		out = append(out, map[string]any{
			"line": lineNum,
			"text": truncateLine(line, grepMaxLineLen),
		})
	}
	return out, scanner.Err()
}

func truncateLine(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "…"
}
