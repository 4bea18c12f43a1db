package tool

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestResolveInWorkspace(t *testing.T) {
	ws := t.TempDir()

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"relative inside", "src/main.go", false},
		{"dot", ".", false},
		{"absolute inside", filepath.Join(ws, "a.txt"), false},
		{"parent escape", "../outside", true},
		{"nested escape", "src/../../outside", true},
		{"absolute outside", "/etc/passwd", true},
		{"empty", "", true},
		{"whitespace", "   ", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveInWorkspace(tt.path, ws)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr = %v", err, tt.wantErr)
			}
			if err == nil && !filepath.IsAbs(got) {
				t.Errorf("resolved path %q not absolute", got)
			}
		})
	}
}

func TestResolveInWorkspace_Symlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink setup is POSIX")
	}
	outside := t.TempDir()
	ws := t.TempDir()

	t.Run("link to a file outside is rejected", func(t *testing.T) {
		target := filepath.Join(outside, "secret.txt")
		if err := os.WriteFile(target, []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
		if err := os.Symlink(target, filepath.Join(ws, "sneaky")); err != nil {
			t.Fatal(err)
		}
		if _, err := ResolveInWorkspace("sneaky", ws); err == nil {
			t.Fatal("symlink to an outside file resolved without error")
		}
	})

	t.Run("link to a directory outside is rejected", func(t *testing.T) {
		if err := os.Symlink(outside, filepath.Join(ws, "escape")); err != nil {
			t.Fatal(err)
		}
		if _, err := ResolveInWorkspace("escape/anything.txt", ws); err == nil {
			t.Fatal("path through an outside-pointing symlink resolved without error")
		}
	})

	t.Run("link inside the workspace is fine", func(t *testing.T) {
		if err := os.MkdirAll(filepath.Join(ws, "real"), 0o750); err != nil {
			t.Fatal(err)
		}
		if err := os.Symlink(filepath.Join(ws, "real"), filepath.Join(ws, "alias")); err != nil {
			t.Fatal(err)
		}
		got, err := ResolveInWorkspace("alias/new.txt", ws)
		if err != nil {
			t.Fatalf("err = %v", err)
		}
		if !strings.HasSuffix(got, filepath.Join("real", "new.txt")) {
			t.Errorf("resolved to %q, want the link target", got)
		}
	})

	t.Run("not yet existing nested path resolves", func(t *testing.T) {
		got, err := ResolveInWorkspace("a/b/c.txt", ws)
		if err != nil {
			t.Fatalf("err = %v", err)
		}
		if !strings.HasSuffix(got, filepath.Join("a", "b", "c.txt")) {
			t.Errorf("resolved to %q", got)
		}
	})
}

func TestWorkspaceRel(t *testing.T) {
	ws := t.TempDir()
	if got := WorkspaceRel(filepath.Join(ws, "src", "a.go"), ws); got != "src/a.go" {
		t.Errorf("got %q", got)
	}
	if got := WorkspaceRel("/somewhere/else", ws); got != "/somewhere/else" {
		t.Errorf("outside path altered: %q", got)
	}
}
