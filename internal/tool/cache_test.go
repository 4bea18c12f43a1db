package tool

import "testing"

func TestKey_CanonicalOrder(t *testing.T) {
	a := Key("read_file", map[string]any{"path": "x", "max_lines": 5})
	b := Key("read_file", map[string]any{"max_lines": 5, "path": "x"})
	if a != b {
		t.Errorf("key depends on map construction order:\n%q\n%q", a, b)
	}
	if a == Key("list_dir", map[string]any{"path": "x", "max_lines": 5}) {
		t.Error("key must include the tool name")
	}
}

func TestCache_InvalidatePaths(t *testing.T) {
	tests := []struct {
		name    string
		args    map[string]any
		touched string
		evicted bool
	}{
		{"same file", map[string]any{"path": "src/a.go"}, "src/a.go", true},
		{"file under cached dir", map[string]any{"path": "src"}, "src/a.go", true},
		{"dir above cached file", map[string]any{"path": "src/a.go"}, "src", true},
		{"sibling untouched", map[string]any{"path": "src/a.go"}, "src/b.go", false},
		{"prefix is not ancestry", map[string]any{"path": "src/ab.go"}, "src/a", false},
		{"no path args evicts conservatively", map[string]any{"pattern": "x"}, "src/a.go", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCache()
			key := Key("read_file", tt.args)
			c.Put(key, tt.args, Succeed(nil))

			c.InvalidatePaths([]string{tt.touched})
			_, stillThere := c.Get(key)
			if stillThere == tt.evicted {
				t.Errorf("evicted = %v, want %v", !stillThere, tt.evicted)
			}
		})
	}
}

func TestCache_ClearAndStats(t *testing.T) {
	c := NewCache()
	key := Key("read_file", map[string]any{"path": "a"})
	c.Put(key, map[string]any{"path": "a"}, Succeed(nil))
	c.Get(key)
	c.Get("missing")

	hits, misses, size := c.Stats()
	if hits != 1 || misses != 1 || size != 1 {
		t.Errorf("stats = %d/%d/%d", hits, misses, size)
	}

	c.Clear()
	if _, ok := c.Get(key); ok {
		t.Error("entry survived Clear")
	}
}
