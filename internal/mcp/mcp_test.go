package mcp

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/deixis/flashkit/internal/config"
	"github.com/deixis/flashkit/internal/report"
	"github.com/deixis/flashkit/internal/runner"
	"github.com/deixis/flashkit/internal/runners"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
)

// setup creates a flashkit MCP server + client over in-memory transports.
func setup(t *testing.T, workspace string, cfg *config.Config) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	if cfg == nil {
		cfg = &config.Config{}
	}
	var out bytes.Buffer
	r := &runner.Runner{
		Stderr: &out,
		Log:    zerolog.New(&out),
		LookPath: func(file string) (string, error) {
			return "/usr/bin/" + filepath.Base(file), nil
		},
	}
	store := report.NewLRUStore(5, report.NewDiskStore(t.TempDir()))

	server := NewServer(runners.NewBuiltinRegistry(), cfg, r, store, workspace)

	ct, st := mcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, st, nil)
	if err != nil {
		t.Fatalf("server.Connect: %v", err)
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	if err != nil {
		t.Fatalf("client.Connect: %v", err)
	}

	t.Cleanup(func() {
		_ = cs.Close()
		_ = ss.Wait()
	})

	return cs
}

func callTool(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	return res
}

func resultText(r *mcp.CallToolResult) string {
	var parts []string
	for _, c := range r.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func runID(t *testing.T, text string) string {
	t.Helper()
	first, _, _ := strings.Cut(text, "\n")
	id, ok := strings.CutPrefix(first, "Run: ")
	if !ok {
		t.Fatalf("no run ID in:\n%s", text)
	}
	return id
}

func writeElf(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "zephyr", "zephyr.elf")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("\x7fELF"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// --- runners_list ---

func TestRunnersList(t *testing.T) {
	cs := setup(t, t.TempDir(), &config.Config{FlashRunner: "pyocd"})
	res := callTool(t, cs, "runners_list", nil)
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	for _, want := range []string{"pyocd:", "misc-flasher:", "--target (required)", "commands=flash\n", "Default flash runner: pyocd"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in output, got:\n%s", want, text)
		}
	}
}

// --- runner_flash ---

func TestRunnerFlash_DryRun(t *testing.T) {
	dir := t.TempDir()
	writeElf(t, filepath.Join(dir, "build"))
	cfg := &config.Config{
		Runner: config.RunnerConfig{ElfFile: "zephyr/zephyr.elf"},
		Args:   map[string][]string{"pyocd": {"--target", "cortex-m0"}},
	}
	cs := setup(t, dir, cfg)

	res := callTool(t, cs, "runner_flash", map[string]any{
		"runner":    "pyocd",
		"args":      []string{"--erase"},
		"build_dir": "build",
		"dry_run":   true,
	})
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	for _, want := range []string{"Status: ok", "Dry run: true", `"chip"`, `"cortex-m0"`, `zephyr.elf"`} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in output, got:\n%s", want, text)
		}
	}
}

func TestRunnerFlash_DefaultRunnerFailure(t *testing.T) {
	cfg := &config.Config{FlashRunner: "misc-flasher"}
	cs := setup(t, t.TempDir(), cfg)

	res := callTool(t, cs, "runner_flash", map[string]any{
		"args": []string{"--cmd", "sh", "--", "-c", "exit 3"},
	})
	text := resultText(res)
	if !res.IsError {
		t.Fatalf("expected error result, got:\n%s", text)
	}
	for _, want := range []string{"Runner: misc-flasher", "Status: failed", "Exit code: 3", "runner_inspect"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in output, got:\n%s", want, text)
		}
	}
}

func TestRunnerFlash_Errors(t *testing.T) {
	cs := setup(t, t.TempDir(), nil)
	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"no runner", nil, "runner is required"},
		{"unknown runner", map[string]any{"runner": "jlink"}, "unknown runner"},
		{"missing option", map[string]any{"runner": "pyocd"}, "requires --target"},
		{"unsupported option", map[string]any{"runner": "misc-flasher", "args": []string{"--cmd", "x", "--erase"}}, "not supported"},
		{"missing artifact", map[string]any{"runner": "pyocd", "args": []string{"--target", "x"}}, "no elf file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := callTool(t, cs, "runner_flash", tt.args)
			text := resultText(res)
			if !res.IsError || !strings.Contains(text, tt.want) {
				t.Errorf("IsError=%v, want %q in:\n%s", res.IsError, tt.want, text)
			}
		})
	}
}

// --- runner_inspect ---

func TestRunnerInspect(t *testing.T) {
	dir := t.TempDir()
	writeElf(t, dir)
	cs := setup(t, dir, &config.Config{Runner: config.RunnerConfig{BuildDir: dir, ElfFile: "zephyr/zephyr.elf"}})

	res := callTool(t, cs, "runner_flash", map[string]any{
		"runner":  "pyocd",
		"args":    []string{"--target", "nrf52"},
		"dry_run": true,
	})
	id := runID(t, resultText(res))

	res = callTool(t, cs, "runner_inspect", map[string]any{"run_id": id})
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	if !strings.Contains(text, "Run: "+id) || !strings.Contains(text, `"nrf52"`) {
		t.Errorf("unexpected inspect output:\n%s", text)
	}
}

func TestRunnerInspect_Errors(t *testing.T) {
	cs := setup(t, t.TempDir(), nil)
	if res := callTool(t, cs, "runner_inspect", map[string]any{"run_id": ""}); !res.IsError {
		t.Error("expected error for empty run_id")
	}
	if res := callTool(t, cs, "runner_inspect", map[string]any{"run_id": "nope"}); !res.IsError {
		t.Error("expected error for unknown run")
	}
}
