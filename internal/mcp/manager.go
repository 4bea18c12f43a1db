package mcp

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/cludelabs/clude/internal/tool"
)

// caller is the slice of Client the adapter needs. Narrowed for tests.
type caller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// Manager owns the MCP server connections for one process. Discovery runs
// before the tool registry is built: Specs returns the adapter specs, which
// the caller passes to tool.New alongside the builtin ones.
//
// Network I/O happens outside the lock so a hung server cannot block
// CloseAll during shutdown.
type Manager struct {
	configPath string

	mu      sync.Mutex
	clients map[string]*Client
}

// NewManager creates a Manager for the given mcp.json path. No connections
// are made until Specs is called.
func NewManager(configPath string) *Manager {
	return &Manager{
		configPath: configPath,
		clients:    make(map[string]*Client),
	}
}

// Specs connects to every configured server, lists its tools, and returns
// one registry spec per tool. Per-server failures are collected, not fatal:
// a dead server costs its own tools only.
func (m *Manager) Specs(ctx context.Context) ([]tool.Spec, []error) {
	configs, err := LoadConfig(m.configPath)
	if err != nil {
		return nil, []error{err}
	}

	var specs []tool.Spec
	var errs []error
	for name, cfg := range configs {
		cli := NewClient(cfg)
		if err := cli.Connect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("server %q: %w", name, err))
			log.Printf("[MCP] Connect failed: %s: %v", name, err)
			continue
		}
		infos, err := cli.ListTools(ctx)
		if err != nil {
			_ = cli.Close()
			errs = append(errs, fmt.Errorf("server %q: %w", name, err))
			log.Printf("[MCP] List tools failed: %s: %v", name, err)
			continue
		}

		m.mu.Lock()
		m.clients[name] = cli
		m.mu.Unlock()

		for _, info := range infos {
			specs = append(specs, adaptSpec(name, info, cli))
		}
		log.Printf("[MCP] Connected: %s (%s, %d tool(s))", name, cfg.Transport, len(infos))
	}
	return specs, errs
}

// CloseAll disconnects every server.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	clients := m.clients
	m.clients = make(map[string]*Client)
	m.mu.Unlock()

	var errs []error
	for _, cli := range clients {
		if err := cli.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// adaptSpec bridges one MCP tool into a registry spec.
//
// Naming: mcp_<server>__<tool>. The double underscore cannot appear inside a
// valid server or tool name, so the mapping is unambiguous even when either
// component contains single underscores.
//
// MCP tools run on another process or host, so they are classified as
// network side effects and never cached.
func adaptSpec(serverName string, info ToolInfo, c caller) tool.Spec {
	name := fmt.Sprintf("mcp_%s__%s", serverName, info.Name)

	schema := info.InputSchema
	if len(schema) == 0 || string(schema) == "null" {
		schema = tool.BuildSchema()
	}

	return tool.Spec{
		Name:            name,
		Summary:         info.Description,
		Description:     fmt.Sprintf("%s (via MCP server %q)", info.Description, serverName),
		ArgsSchema:      schema,
		SideEffects:     tool.SideEffectNetwork,
		VisibleInPrompt: true,
		CallableByModel: true,
		Idempotent:      false,
		Handler: func(hc tool.HandlerContext, args map[string]any) tool.ToolResult {
			text, err := c.CallTool(hc.Ctx, info.Name, args)
			if err != nil {
				if hc.Ctx.Err() != nil {
					return tool.Fail(tool.ErrToolTimeout, "mcp tool %s timed out", name)
				}
				return tool.Fail(tool.ErrTool, "%v", err)
			}
			return tool.Succeed(map[string]any{"output": text})
		},
	}
}
