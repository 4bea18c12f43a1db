package mcp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cludelabs/clude/internal/tool"
)

func TestLoadConfig_MissingFileIsEmpty(t *testing.T) {
	cfgs, err := LoadConfig(filepath.Join(t.TempDir(), "mcp.json"))
	if err != nil {
		t.Fatalf("missing config: %v", err)
	}
	if len(cfgs) != 0 {
		t.Errorf("cfgs = %v", cfgs)
	}
}

func TestLoadConfig_NamesFromMapKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.json")
	content := `{
  "mcpServers": {
    "csv-tool": {"transport": "stdio", "command": "csvd", "args": ["--serve"]},
    "docs": {"transport": "sse", "url": "http://localhost:9090/sse"}
  }
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfgs, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfgs) != 2 {
		t.Fatalf("len = %d", len(cfgs))
	}
	if cfgs["csv-tool"].Name != "csv-tool" || cfgs["csv-tool"].Command != "csvd" {
		t.Errorf("csv-tool = %+v", cfgs["csv-tool"])
	}
	if cfgs["docs"].Transport != "sse" {
		t.Errorf("docs = %+v", cfgs["docs"])
	}
}

func TestLoadConfig_MalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("malformed config accepted")
	}
}

// fakeCaller scripts CallTool responses without a live server.
type fakeCaller struct {
	text string
	err  error
	got  map[string]any
}

func (f *fakeCaller) CallTool(_ context.Context, _ string, args map[string]any) (string, error) {
	f.got = args
	return f.text, f.err
}

func TestAdaptSpec_NamingAndClassification(t *testing.T) {
	s := adaptSpec("csv-tool", ToolInfo{Name: "read_csv", Description: "read a csv"}, &fakeCaller{})
	if s.Name != "mcp_csv-tool__read_csv" {
		t.Errorf("name = %q", s.Name)
	}
	if s.SideEffects != tool.SideEffectNetwork {
		t.Errorf("side effect = %q", s.SideEffects)
	}
	if s.Idempotent {
		t.Error("remote tools must not be cached")
	}
}

func TestAdaptSpec_HandlerSuccess(t *testing.T) {
	fc := &fakeCaller{text: "col_a,col_b\n1,2"}
	s := adaptSpec("csv-tool", ToolInfo{Name: "read_csv"}, fc)

	hc := tool.HandlerContext{Ctx: context.Background()}
	res := s.Handler(hc, map[string]any{"path": "data.csv"})
	if !res.OK {
		t.Fatalf("result = %+v", res)
	}
	if res.Payload["output"] != "col_a,col_b\n1,2" {
		t.Errorf("output = %v", res.Payload["output"])
	}
	if fc.got["path"] != "data.csv" {
		t.Errorf("args not forwarded: %v", fc.got)
	}
}

func TestAdaptSpec_HandlerErrors(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		fc := &fakeCaller{err: errors.New("mcp: tool returned error: boom")}
		s := adaptSpec("srv", ToolInfo{Name: "t"}, fc)
		res := s.Handler(tool.HandlerContext{Ctx: context.Background()}, nil)
		if res.OK || res.Err.Code != tool.ErrTool {
			t.Errorf("result = %+v", res)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		fc := &fakeCaller{err: ctx.Err()}
		s := adaptSpec("srv", ToolInfo{Name: "t"}, fc)
		res := s.Handler(tool.HandlerContext{Ctx: ctx}, nil)
		if res.OK || res.Err.Code != tool.ErrToolTimeout {
			t.Errorf("result = %+v", res)
		}
	})
}

// The adapter's output must survive registry construction: the server schema
// compiles and validation routes unknown keys to a structured error.
func TestAdaptSpec_RegistryIntegration(t *testing.T) {
	info := ToolInfo{
		Name:        "read_csv",
		Description: "read a csv file",
		InputSchema: []byte(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"],"additionalProperties":false}`),
	}
	reg, err := tool.New([]tool.Spec{adaptSpec("csv-tool", info, &fakeCaller{})})
	if err != nil {
		t.Fatalf("registry rejected adapted spec: %v", err)
	}

	if _, res := reg.ValidateArgs("mcp_csv-tool__read_csv", map[string]any{"path": "a.csv"}); res != nil {
		t.Errorf("valid args rejected: %+v", res)
	}
	if _, res := reg.ValidateArgs("mcp_csv-tool__read_csv", map[string]any{"file": "a.csv"}); res == nil {
		t.Error("schema violation accepted")
	}
}
