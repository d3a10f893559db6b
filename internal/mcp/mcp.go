// Package mcp provides the flashkit MCP server: runner discovery, flashing
// and record inspection for agents driving a board.
package mcp

import (
	"context"
	_ "embed"
	"net/url"
	"time"

	"github.com/deixis/flashkit"
	"github.com/deixis/flashkit/internal/config"
	"github.com/deixis/flashkit/internal/report"
	"github.com/deixis/flashkit/internal/runner"
	"github.com/deixis/flashkit/internal/runners"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

//go:embed instructions.md
var Instructions string

// handler holds shared dependencies for all tool handlers.
type handler struct {
	registry  *runners.Registry
	runner    *runner.Runner // template; copied per call
	cfg       *config.Config
	store     report.Store
	workspace string
}

// NewServer creates an MCP server with all flashkit tools registered.
// Subprocess output goes to r.Stderr; stdout carries the protocol.
func NewServer(reg *runners.Registry, cfg *config.Config, r *runner.Runner, store report.Store, workspace string) *mcp.Server {
	h := &handler{
		registry:  reg,
		runner:    r,
		cfg:       cfg,
		store:     store,
		workspace: workspace,
	}

	mcpOpts := &mcp.ServerOptions{
		Instructions: Instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
		InitializedHandler: func(ctx context.Context, req *mcp.InitializedRequest) {
			h.updateWorkspaceFromRoots(ctx, req.Session)
		},
	}
	s := mcp.NewServer(&mcp.Implementation{Name: "flashkit", Version: flashkit.Version}, mcpOpts)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "runners_list",
		Description: "List the available runners with their supported commands and options.",
	}, h.listHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "runner_flash",
		Description: `Flash the build artifact to the connected board with a runner.

Runner defaults to flash_runner from .flashkit. args are the runner's command-line options,
e.g. ["--target", "nrf52840"]. Set dry_run to see the commands without running them.
The result is stored for drill-down via runner_inspect.`,
	}, h.flashHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "runner_inspect",
		Description: "Show the stored record of a previous runner_flash call: status, error and every command line issued.",
	}, h.inspectHandler)

	return s
}

// updateWorkspaceFromRoots queries the client for MCP roots and reloads the
// .flashkit configuration from the first file root.
func (h *handler) updateWorkspaceFromRoots(ctx context.Context, session *mcp.ServerSession) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	roots, err := session.ListRoots(ctx, &mcp.ListRootsParams{})
	if err != nil || len(roots.Roots) == 0 {
		return
	}
	u, err := url.Parse(roots.Roots[0].URI)
	if err != nil || u.Scheme != "file" {
		return
	}

	loaded, err := config.Load(u.Path)
	if err != nil {
		return
	}
	h.workspace = u.Path
	h.cfg = loaded.Config
	h.runner.ReadyTimeout = loaded.Config.ReadyTimeout()
	h.runner.StopTimeout = loaded.Config.StopTimeout()
}

// textResult is a helper to build a text-only tool result.
func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// errorResult is a helper to build an error tool result.
func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}
