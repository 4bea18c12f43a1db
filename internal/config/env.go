// Package config loads process configuration from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// LoadEnv loads environment variables from a .env file.
//
// Search order (stops at the first file found):
//  1. Explicit paths passed as arguments (test use).
//  2. Walking up from the executable's directory.
//  3. Current working directory, for `go run ./cmd/clude`.
//
// If no .env is found anywhere, the program continues with system env vars.
func LoadEnv(paths ...string) {
	if len(paths) > 0 {
		if err := godotenv.Load(paths...); err != nil {
			log.Printf("[Config] No .env file at specified path(s), using system environment variables")
		}
		return
	}

	candidates := resolveEnvCandidates()
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			if err := godotenv.Load(p); err != nil {
				log.Printf("[Config] Failed to load .env from %s: %v", p, err)
			} else {
				log.Printf("[Config] Loaded .env from %s", p)
			}
			return
		}
	}

	log.Printf("[Config] No .env file found (searched: %v), using system environment variables", candidates)
}

// resolveEnvCandidates returns the ordered list of .env paths to probe.
func resolveEnvCandidates() []string {
	var candidates []string
	seen := map[string]bool{}

	add := func(p string) {
		p = filepath.Clean(p)
		if !seen[p] {
			seen[p] = true
			candidates = append(candidates, p)
		}
	}

	// Walk up from the executable directory (up to 3 levels) so a binary in
	// bin/ finds the project-root .env.
	if exe, err := os.Executable(); err == nil {
		if real, err := filepath.EvalSymlinks(exe); err == nil {
			exe = real
		}
		dir := filepath.Dir(exe)
		for i := 0; i <= 3; i++ {
			add(filepath.Join(dir, ".env"))
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	if cwd, err := os.Getwd(); err == nil {
		add(filepath.Join(cwd, ".env"))
	}

	return candidates
}

// EnvFilePath reports where .env will be loaded from, for startup logging.
func EnvFilePath() string {
	for _, p := range resolveEnvCandidates() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return fmt.Sprintf("(not found; searched %v)", resolveEnvCandidates())
}

// Fuses are the hard loop bounds. Every value has a default; env overrides
// outside (0, sane ceiling] are ignored rather than honored, so a bad .env
// cannot disable a fuse.
type Fuses struct {
	MaxPlanSteps       int // steps per plan
	MaxStepToolCalls   int // tool calls inside one step
	MaxReplans         int // replan rounds per turn
	MaxLLMRetries      int // transport retries per model call
	MaxHistoryMessages int // non-system messages kept per session
	MaxLLMOutputTokens int // per-call output cap, ceiling 8192
}

// DefaultFuses returns the stock bounds.
func DefaultFuses() Fuses {
	return Fuses{
		MaxPlanSteps:       20,
		MaxStepToolCalls:   20,
		MaxReplans:         3,
		MaxLLMRetries:      2,
		MaxHistoryMessages: 30,
		MaxLLMOutputTokens: 1024,
	}
}

// FusesFromEnv applies environment overrides on top of the defaults.
func FusesFromEnv() Fuses {
	f := DefaultFuses()
	overrideInt(&f.MaxPlanSteps, "MAX_PLAN_STEPS", 100)
	overrideInt(&f.MaxStepToolCalls, "MAX_STEP_TOOL_CALLS", 100)
	overrideInt(&f.MaxReplans, "MAX_REPLANS", 10)
	overrideInt(&f.MaxLLMRetries, "MAX_LLM_RETRIES", 10)
	overrideInt(&f.MaxHistoryMessages, "MAX_HISTORY_MESSAGES", 200)
	overrideInt(&f.MaxLLMOutputTokens, "MAX_LLM_OUTPUT_TOKENS", 8192)
	return f
}

func overrideInt(dst *int, key string, ceiling int) {
	raw := os.Getenv(key)
	if raw == "" {
		return
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > ceiling {
		log.Printf("[Config] Ignoring %s=%q (want integer in 1..%d)", key, raw, ceiling)
		return
	}
	*dst = n
}

// Workspace resolves the workspace root directory. WORKSPACE_ROOT wins,
// WORKSPACE_DIR is accepted as an alias, and the working directory is the
// fallback. The result is always absolute.
func Workspace() (string, error) {
	root := os.Getenv("WORKSPACE_ROOT")
	if root == "" {
		root = os.Getenv("WORKSPACE_DIR")
	}
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("config: resolve workspace: %w", err)
		}
		root = cwd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("config: resolve workspace %q: %w", root, err)
	}
	return abs, nil
}

// Debug reports whether debug mode is on. In debug the orchestrator treats
// invalid state transitions as fatal instead of degrading.
func Debug() bool {
	switch os.Getenv("DEBUG") {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
