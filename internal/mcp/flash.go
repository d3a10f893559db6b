package mcp

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/deixis/flashkit/internal/config"
	"github.com/deixis/flashkit/internal/runners"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type listParams struct{}

func (h *handler) listHandler(ctx context.Context, req *mcp.CallToolRequest, _ listParams) (*mcp.CallToolResult, any, error) {
	var b strings.Builder
	for _, reg := range h.registry.Registrations() {
		fmt.Fprintf(&b, "%s: %s\n", reg.Name, reg.Description)
		fmt.Fprintf(&b, "  %s\n", reg.Capabilities)
		for _, o := range reg.Options {
			suffix := ""
			if o.Required {
				suffix = " (required)"
			}
			fmt.Fprintf(&b, "  --%s%s: %s\n", o.Name, suffix, o.Usage)
		}
	}
	if def := h.cfg.DefaultRunner(string(runners.Flash)); def != "" {
		fmt.Fprintf(&b, "\nDefault flash runner: %s\n", def)
	}
	return textResult(b.String())
}

type flashParams struct {
	Runner   string   `json:"runner,omitempty" jsonschema:"runner name, defaults to flash_runner from .flashkit"`
	Args     []string `json:"args,omitempty" jsonschema:"runner command-line options, e.g. [\"--target\", \"nrf52840\"]"`
	BuildDir string   `json:"build_dir,omitempty" jsonschema:"build directory, relative to the workspace"`
	ElfFile  string   `json:"elf_file,omitempty" jsonschema:"ELF artifact override, relative to the build directory"`
	DryRun   bool     `json:"dry_run,omitempty" jsonschema:"report the commands without running them"`
}

func (h *handler) flashHandler(ctx context.Context, req *mcp.CallToolRequest, params flashParams) (*mcp.CallToolResult, any, error) {
	name := params.Runner
	if name == "" {
		name = h.cfg.DefaultRunner(string(runners.Flash))
	}
	if name == "" {
		return errorResult("runner is required: no flash_runner configured in .flashkit")
	}

	parser, err := h.registry.NewParser(name)
	if err != nil {
		return errorResult(err.Error())
	}
	parser.FlagSet().SetOutput(io.Discard)
	args, err := parser.Parse(append(h.cfg.RunnerArgs(name), params.Args...))
	if err != nil {
		return errorResult(fmt.Sprintf("Invalid arguments for %s: %v", name, err))
	}

	cfg := h.cfg.Runner.Merge(config.RunnerConfig{
		BuildDir: params.BuildDir,
		ElfFile:  params.ElfFile,
	})
	if cfg.BuildDir != "" && !filepath.IsAbs(cfg.BuildDir) {
		cfg.BuildDir = filepath.Join(h.workspace, cfg.BuildDir)
	}
	cfg = cfg.Resolve()

	// Stdout is the protocol stream; tool output goes to stderr.
	r := *h.runner
	r.Stdin = nil
	r.Stdout = r.Stderr
	r.DryRun = r.DryRun || params.DryRun || args.Bool(runners.OptDryRun)

	d := &runners.Dispatcher{
		Registry: h.registry,
		Exec:     &r,
		Log:      r.Log,
		Store:    h.store,
		DryRun:   r.DryRun,
	}
	rec, err := d.Dispatch(ctx, runners.Flash, name, cfg, args)
	if rec == nil {
		return errorResult(err.Error())
	}
	if err != nil {
		return errorResult(rec.Summary() + "\nUse runner_inspect with this run ID to review the record.")
	}
	return textResult(rec.Summary())
}
