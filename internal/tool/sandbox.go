package tool

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

// ResolveInWorkspace resolves a user- or model-supplied path against the
// workspace root and rejects escapes. Relative paths resolve under the root;
// absolute paths are accepted only when they already point inside it.
// Symlinks are followed before the containment check, so a link inside the
// workspace cannot smuggle access to a target outside it.
func ResolveInWorkspace(path, workspace string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	root, err := filepath.Abs(workspace)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}

	var abs string
	if filepath.IsAbs(path) {
		abs = filepath.Clean(path)
	} else {
		abs = filepath.Join(root, path)
	}

	// Lexical check first: catches plain ../ escapes even when nothing on
	// the path exists yet.
	if !contained(root, abs) {
		return "", fmt.Errorf("path %q escapes the workspace", path)
	}

	rootReal, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	real, err := evalExisting(abs)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", path, err)
	}
	if !contained(rootReal, real) {
		return "", fmt.Errorf("path %q escapes the workspace", path)
	}
	return real, nil
}

// contained reports whether abs is root or lies under it, lexically.
func contained(root, abs string) bool {
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return true
}

// evalExisting resolves symlinks in abs. The target may not exist yet (write
// to a new file), so resolution walks up to the nearest existing ancestor,
// resolves that, and rejoins the not-yet-existing remainder.
func evalExisting(abs string) (string, error) {
	dir := abs
	var suffix []string
	for {
		real, err := filepath.EvalSymlinks(dir)
		if err == nil {
			for i := len(suffix) - 1; i >= 0; i-- {
				real = filepath.Join(real, suffix[i])
			}
			return real, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", err
		}
		suffix = append(suffix, filepath.Base(dir))
		dir = parent
	}
}

// WorkspaceRel converts an absolute path back to its workspace-relative form
// for payloads and cache keys. The workspace root itself may be a symlink
// (macOS temp dirs), so the resolved root is tried too. Falls back to the
// input when outside.
func WorkspaceRel(abs, workspace string) string {
	rel, err := filepath.Rel(workspace, abs)
	if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.ToSlash(rel)
	}
	if real, rerr := filepath.EvalSymlinks(workspace); rerr == nil && real != workspace {
		rel, err = filepath.Rel(real, abs)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return filepath.ToSlash(rel)
		}
	}
	return abs
}
