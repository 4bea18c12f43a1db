package profile

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// defaults embeds the prompt assets shipped with the binary. A disk file
// with the same name under the assets directory overrides its embedded
// counterpart.
//
//go:embed prompts/*
var defaults embed.FS

// Meta is the optional YAML front matter of a prompt asset. It is parsed
// for bookkeeping and always stripped before the content reaches a model.
type Meta struct {
	Title         string   `yaml:"title"`
	Version       string   `yaml:"version"`
	Layer         string   `yaml:"layer"`
	ToolsExpected []string `yaml:"tools_expected"`
	Constraints   []string `yaml:"constraints"`
}

// Asset is one loaded prompt file.
type Asset struct {
	Name    string
	Meta    Meta
	Content string // front matter stripped
}

// injectionPatterns are lowercased substrings indicating prompt injection
// attempts. Lines matching any of them are dropped from workspace-provided
// context layers.
var injectionPatterns = []string{
	"ignore previous",
	"ignore above",
	"ignore all previous",
	"disregard all",
	"disregard previous",
	"forget previous",
	"forget all previous",
	"override instructions",
	"override previous",
	"new instructions:",
	"from now on",
}

// versions is the shape of the prompt_versions.json sidecar. It maps a bare
// ref to its current (and previous, for rollback) versioned filename.
type versions map[string]struct {
	Current  string `json:"current"`
	Previous string `json:"previous"`
}

// versionedName matches name_vX.Y.Z.ext files.
var versionedName = regexp.MustCompile(`^(.+)_v(\d+\.\d+\.\d+)(\.[a-z]+)$`)

// Assets loads prompt files with mtime-aware caching. Disk files under dir
// override embedded defaults of the same name.
type Assets struct {
	dir string

	mu    sync.RWMutex
	cache map[string]cachedAsset
	vers  versions
}

type cachedAsset struct {
	asset Asset
	mtime int64 // unix nanos of the disk file; 0 for embedded
}

// NewAssets creates an asset loader. dir may be empty; only embedded
// defaults are then available.
func NewAssets(dir string) *Assets {
	a := &Assets{dir: dir, cache: make(map[string]cachedAsset)}
	a.loadVersions()
	return a
}

func (a *Assets) loadVersions() {
	if a.dir == "" {
		return
	}
	data, err := os.ReadFile(filepath.Join(a.dir, "prompt_versions.json"))
	if err != nil {
		return
	}
	var v versions
	if err := json.Unmarshal(data, &v); err != nil {
		log.Printf("[Assets] Malformed prompt_versions.json ignored: %v", err)
		return
	}
	a.vers = v
}

// Resolve maps a ref through the version sidecar: when the sidecar pins a
// current file for the ref, that file is loaded instead.
func (a *Assets) resolve(ref string) string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if v, ok := a.vers[ref]; ok && v.Current != "" {
		return v.Current
	}
	return ref
}

// Load returns the asset for a ref, or an empty asset when it exists
// nowhere. Disk overrides are re-read when their mtime changes.
func (a *Assets) Load(ref string) Asset {
	if ref == "" {
		return Asset{}
	}
	name := a.resolve(ref)

	diskPath := ""
	var mtime int64
	if a.dir != "" {
		p := filepath.Join(a.dir, name)
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			diskPath = p
			mtime = fi.ModTime().UnixNano()
		}
	}

	a.mu.RLock()
	if c, ok := a.cache[name]; ok && c.mtime == mtime {
		a.mu.RUnlock()
		return c.asset
	}
	a.mu.RUnlock()

	var raw []byte
	if diskPath != "" {
		data, err := os.ReadFile(diskPath)
		if err == nil {
			raw = data
		} else {
			log.Printf("[Assets] Read %q failed: %v; falling back to embedded", diskPath, err)
		}
	}
	if raw == nil {
		data, err := fs.ReadFile(defaults, "prompts/"+name)
		if err != nil {
			return Asset{Name: name}
		}
		raw = data
	}

	meta, content := stripFrontMatter(string(raw))
	if meta.Version == "" {
		if m := versionedName.FindStringSubmatch(name); m != nil {
			meta.Version = m[2]
		}
	}
	asset := Asset{Name: name, Meta: meta, Content: content}

	a.mu.Lock()
	a.cache[name] = cachedAsset{asset: asset, mtime: mtime}
	a.mu.Unlock()
	return asset
}

// Invalidate drops the cache; the registry watcher calls it on prompt
// directory changes.
func (a *Assets) Invalidate() {
	a.mu.Lock()
	a.cache = make(map[string]cachedAsset)
	a.mu.Unlock()
	a.loadVersions()
}

// stripFrontMatter splits optional YAML front matter from the body. Front
// matter must start at the first line with "---" and end at the next "---"
// line; anything malformed is treated as plain content.
func stripFrontMatter(s string) (Meta, string) {
	var meta Meta
	if !strings.HasPrefix(s, "---\n") && !strings.HasPrefix(s, "---\r\n") {
		return meta, s
	}
	rest := s[strings.IndexByte(s, '\n')+1:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return meta, s
	}
	block := rest[:end]
	body := rest[end+len("\n---"):]
	body = strings.TrimPrefix(body, "\r")
	body = strings.TrimPrefix(body, "\n")

	if err := yaml.Unmarshal([]byte(block), &meta); err != nil {
		log.Printf("[Assets] Malformed front matter ignored: %v", err)
		return Meta{}, s
	}
	return meta, body
}

// Substitute replaces {{ var }} placeholders. Unknown variables are left in
// place so a missing value is visible rather than silently blank.
func Substitute(tpl string, vars map[string]string) string {
	return templateVar.ReplaceAllStringFunc(tpl, func(m string) string {
		key := strings.TrimSpace(strings.Trim(m, "{}"))
		if v, ok := vars[key]; ok {
			return v
		}
		return m
	})
}

var templateVar = regexp.MustCompile(`\{\{\s*[a-zA-Z0-9_.]+\s*\}\}`)

// FilterInjection drops lines that look like prompt injection from
// workspace-supplied content, logging what it removed.
func FilterInjection(content string) string {
	lines := strings.Split(content, "\n")
	var kept []string
	for _, line := range lines {
		lower := strings.ToLower(line)
		dropped := false
		for _, p := range injectionPatterns {
			if strings.Contains(lower, p) {
				log.Printf("[Assets] Dropped suspicious line: %.60q", line)
				dropped = true
				break
			}
		}
		if !dropped {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// ComposeSystem builds the system prompt for a profile: the four layers in
// order, variables substituted, joined by blank lines. The context layer is
// workspace-controlled and passes through the injection filter.
func (a *Assets) ComposeSystem(p Profile, vars map[string]string) string {
	var parts []string
	for i, ref := range []string{p.System.Core, p.System.Role, p.System.Policy, p.System.Context} {
		if ref == "" {
			continue
		}
		content := a.Load(ref).Content
		if content == "" {
			continue
		}
		content = Substitute(content, vars)
		if i == 3 {
			content = FilterInjection(content)
		}
		parts = append(parts, strings.TrimSpace(content))
	}
	return strings.Join(parts, "\n\n")
}

// RenderUser builds the user message from the profile's template. When the
// template is missing, the raw input passes through unchanged.
func (a *Assets) RenderUser(p Profile, vars map[string]string) string {
	tpl := a.Load(p.UserTemplateRef).Content
	if tpl == "" {
		return vars["input"]
	}
	return strings.TrimSpace(Substitute(tpl, vars))
}

// Describe summarizes an asset for diagnostics.
func (a Asset) Describe() string {
	if a.Content == "" {
		return fmt.Sprintf("%s (missing)", a.Name)
	}
	if a.Meta.Version != "" {
		return fmt.Sprintf("%s v%s (%d chars)", a.Name, a.Meta.Version, len(a.Content))
	}
	return fmt.Sprintf("%s (%d chars)", a.Name, len(a.Content))
}
