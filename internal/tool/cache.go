package tool

import (
	"fmt"
	"log"
	"strings"
	"sync"
)

// Cache is the session-scoped store of idempotent read-tool results. Keys
// are (tool, canonical args); a write that touches a path evicts every entry
// whose arguments reference that path or a parent of it.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	hits    int
	misses  int
}

type cacheEntry struct {
	result ToolResult
	// paths extracted from the call's arguments, used for invalidation
	paths []string
}

// NewCache creates an empty result cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry)}
}

// Key derives the cache key for a call.
func Key(tool string, args map[string]any) string {
	return fmt.Sprintf("%s\x00%s", tool, canonicalJSON(args))
}

// Get returns a cached result.
func (c *Cache) Get(key string) (ToolResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return e.result, ok
}

// Put stores a successful result together with the paths its arguments
// referenced.
func (c *Cache) Put(key string, args map[string]any, result ToolResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{result: result, paths: argPaths(args)}
}

// InvalidatePaths evicts entries whose argument paths overlap the touched
// paths. Overlap is prefix-based in both directions: writing a file evicts
// reads of that file and listings of its ancestor directories, and writing a
// directory evicts reads under it.
func (c *Cache) InvalidatePaths(touched []string) int {
	if len(touched) == 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for key, e := range c.entries {
		if pathsOverlap(e.paths, touched) {
			delete(c.entries, key)
			evicted++
		}
	}
	if evicted > 0 {
		log.Printf("[Cache] Invalidated %d entries for %d touched paths", evicted, len(touched))
	}
	return evicted
}

// Clear drops every entry. Called at session end.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// Stats returns (hits, misses, size).
func (c *Cache) Stats() (int, int, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses, len(c.entries)
}

// argPaths extracts path-like string values from an argument map. Keys are
// matched by convention: the builtin tools name their path arguments "path";
// any string value containing a separator is also treated as a path so
// nested shapes still invalidate.
func argPaths(args map[string]any) []string {
	var out []string
	var walk func(v any, key string)
	walk = func(v any, key string) {
		switch t := v.(type) {
		case string:
			if key == "path" || strings.ContainsAny(t, "/\\") {
				out = append(out, normalizePath(t))
			}
		case map[string]any:
			for k, vv := range t {
				walk(vv, k)
			}
		case []any:
			for _, vv := range t {
				walk(vv, key)
			}
		}
	}
	walk(args, "")
	return out
}

func normalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	return strings.Trim(p, "/")
}

func pathsOverlap(cached, touched []string) bool {
	if len(cached) == 0 {
		// An entry with no path arguments reads workspace-wide state
		// (e.g. a bare directory listing); any write may affect it.
		return true
	}
	for _, cp := range cached {
		for _, tp := range touched {
			t := normalizePath(tp)
			if cp == t || strings.HasPrefix(t, cp+"/") || strings.HasPrefix(cp, t+"/") || cp == "" {
				return true
			}
		}
	}
	return false
}
