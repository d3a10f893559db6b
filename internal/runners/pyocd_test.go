package runners

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/deixis/flashkit/internal/config"
)

func newTestPyOCD(t *testing.T, cfg config.RunnerConfig, argv ...string) (Backend, *fakeExec, *bytes.Buffer) {
	t.Helper()
	deps, exec, logs := newTestDeps(t)
	r := NewBuiltinRegistry()
	args := mustParse(t, r, "pyocd", argv...)
	b, err := r.Create("pyocd", cfg, args, deps)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return b, exec, logs
}

func TestPyOCD_FlashDefaults(t *testing.T) {
	elf := writeFile(t, filepath.Join(t.TempDir(), "zephyr.elf"))
	b, exec, _ := newTestPyOCD(t, config.RunnerConfig{ElfFile: elf}, "--target", "cortex-m4")

	if err := b.Run(context.Background(), Flash); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(exec.calls) != 1 {
		t.Fatalf("calls = %v", exec.calls)
	}
	want := []string{"pyocd", "flash", "-e", "sector", "-t", "cortex-m4", elf}
	if got := exec.calls[0]; !slices.Equal(got, want) {
		t.Errorf("argv = %q\nwant   %q", got, want)
	}
}

func TestPyOCD_FlashEraseOnlyChangesMethod(t *testing.T) {
	elf := writeFile(t, filepath.Join(t.TempDir(), "zephyr.elf"))
	cfg := config.RunnerConfig{ElfFile: elf}
	common := []string{"--target", "nrf52840", "--board-id", "123", "--frequency", "4000000", "--flash-opt", "-O"}

	sector, execSector, _ := newTestPyOCD(t, cfg, common...)
	chip, execChip, _ := newTestPyOCD(t, cfg, append(common, "--erase")...)
	if err := sector.Run(context.Background(), Flash); err != nil {
		t.Fatal(err)
	}
	if err := chip.Run(context.Background(), Flash); err != nil {
		t.Fatal(err)
	}

	a, b := execSector.calls[0], execChip.calls[0]
	if len(a) != len(b) {
		t.Fatalf("argv lengths differ:\n%q\n%q", a, b)
	}
	for i := range a {
		if a[i] == b[i] {
			continue
		}
		if a[i] != "sector" || b[i] != "chip" {
			t.Errorf("argv[%d]: %q vs %q", i, a[i], b[i])
		}
	}
	if i := indexOf(b, "chip"); i < 1 || b[i-1] != "-e" {
		t.Errorf("chip erase not after -e: %q", b)
	}
	if b[len(b)-1] != elf {
		t.Errorf("last argument = %q, want artifact", b[len(b)-1])
	}
}

func TestPyOCD_FlashFullArgv(t *testing.T) {
	dir := t.TempDir()
	hex := writeFile(t, filepath.Join(dir, "build", "zephyr.hex"))
	cfgFile := writeFile(t, filepath.Join(dir, "board", "support", "pyocd.yaml"))
	cfg := config.RunnerConfig{HexFile: hex, BoardDir: filepath.Join(dir, "board")}

	b, exec, _ := newTestPyOCD(t, cfg,
		"--target", "stm32f4",
		"--flash-format", "hex",
		"--flash-addr", "0x8000",
		"--daparg", "limit=1",
		"--tool-opt", "--script=user.py",
		"--pyocd", "/opt/pyocd",
	)
	if err := b.Run(context.Background(), Flash); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"/opt/pyocd", "flash",
		"--config", cfgFile,
		"-e", "sector",
		"--format", "hex",
		"-a", "0x8000",
		"-da", "limit=1",
		"-t", "stm32f4",
		"--script=user.py",
		hex,
	}
	if got := exec.calls[0]; !slices.Equal(got, want) {
		t.Errorf("argv = %q\nwant   %q", got, want)
	}
}

func TestPyOCD_FlashMissingArtifact(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "zephyr.elf")
	b, exec, _ := newTestPyOCD(t, config.RunnerConfig{ElfFile: missing}, "--target", "x")

	err := b.Run(context.Background(), Flash)
	var notFound ErrArtifactNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want ErrArtifactNotFound", err)
	}
	if notFound.Kind != "elf" || notFound.Path != missing {
		t.Errorf("err = %+v", notFound)
	}
	if exec.spawned() != 0 {
		t.Errorf("spawned %d processes", exec.spawned())
	}
}

func TestPyOCD_InvalidFlashFormat(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	r := NewBuiltinRegistry()
	args := mustParse(t, r, "pyocd", "--target", "x", "--flash-format", "srec")
	if _, err := r.Create("pyocd", config.RunnerConfig{}, args, deps); !errors.Is(err, ErrInvalidOption) {
		t.Errorf("err = %v, want ErrInvalidOption", err)
	}
}

func TestPyOCD_DebugServer(t *testing.T) {
	b, exec, _ := newTestPyOCD(t, config.RunnerConfig{}, "--target", "nrf52", "--gdb-port", "3334", "--board-id", "abc")
	if err := b.Require(DebugServer); err != nil {
		t.Fatalf("Require: %v", err)
	}
	if err := b.Run(context.Background(), DebugServer); err != nil {
		t.Fatal(err)
	}
	want := []string{"pyocd", "gdbserver", "-p", "3334", "-T", "4444", "-t", "nrf52", "-u", "abc"}
	if len(exec.calls) != 1 || !slices.Equal(exec.calls[0], want) {
		t.Errorf("calls = %q, want %q", exec.calls, want)
	}
	if len(exec.servers) != 0 {
		t.Error("debugserver started a client")
	}
}

func TestPyOCD_DebugClient(t *testing.T) {
	cfg := config.RunnerConfig{GDB: "arm-none-eabi-gdb", ElfFile: "build/zephyr.elf"}
	b, exec, _ := newTestPyOCD(t, cfg, "--target", "nrf52", "--tui")
	if err := b.Require(Debug); err != nil {
		t.Fatalf("Require: %v", err)
	}
	if err := b.Run(context.Background(), Debug); err != nil {
		t.Fatal(err)
	}
	wantClient := []string{
		"arm-none-eabi-gdb", "-tui", "build/zephyr.elf",
		"-ex", "target remote :3333",
		"-ex", "monitor halt",
		"-ex", "monitor reset",
		"-ex", "load",
	}
	if len(exec.clients) != 1 || !slices.Equal(exec.clients[0], wantClient) {
		t.Errorf("client = %q\nwant     %q", exec.clients, wantClient)
	}
	if exec.servers[0][1] != "gdbserver" {
		t.Errorf("server = %q", exec.servers[0])
	}
	if exec.probes != 1 {
		t.Error("no readiness probe passed")
	}
}

func TestPyOCD_AttachSkipsLoad(t *testing.T) {
	cfg := config.RunnerConfig{GDB: "gdb", ElfFile: "zephyr.elf"}
	b, exec, _ := newTestPyOCD(t, cfg, "--target", "nrf52")
	if err := b.Run(context.Background(), Attach); err != nil {
		t.Fatal(err)
	}
	want := []string{"gdb", "zephyr.elf", "-ex", "target remote :3333"}
	if !slices.Equal(exec.clients[0], want) {
		t.Errorf("client = %q, want %q", exec.clients[0], want)
	}
}

func TestPyOCD_DebugMissingPreconditions(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.RunnerConfig
		want string
	}{
		{"no gdb", config.RunnerConfig{ElfFile: "zephyr.elf"}, "gdb"},
		{"no elf", config.RunnerConfig{GDB: "gdb"}, "elf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, exec, _ := newTestPyOCD(t, tt.cfg, "--target", "nrf52")
			for _, cmd := range []Command{Debug, Attach} {
				var missing ErrMissingTool
				if err := b.Require(cmd); !errors.As(err, &missing) || missing.Name != tt.want || !missing.Unset {
					t.Errorf("Require(%s) = %v", cmd, err)
				}
				if err := b.Run(context.Background(), cmd); !errors.As(err, &missing) {
					t.Errorf("Run(%s) = %v", cmd, err)
				}
			}
			if exec.spawned() != 0 {
				t.Errorf("spawned %d processes", exec.spawned())
			}
		})
	}
}

func TestPyOCD_RequireTool(t *testing.T) {
	deps, exec, _ := newTestDeps(t)
	exec.missing["pyocd"] = true
	r := NewBuiltinRegistry()
	b, err := r.Create("pyocd", config.RunnerConfig{}, mustParse(t, r, "pyocd", "--target", "x"), deps)
	if err != nil {
		t.Fatal(err)
	}
	var missing ErrMissingTool
	if err := b.Require(Flash); !errors.As(err, &missing) || missing.Name != "pyocd" || missing.Unset {
		t.Errorf("Require = %v", err)
	}
}

func TestPyOCD_DAPArgEnv(t *testing.T) {
	t.Run("fallback", func(t *testing.T) {
		t.Setenv(EnvPyOCDDAPArg, "limit=1")
		deps, exec, logs := newTestDeps(t)
		r := NewBuiltinRegistry()
		b, err := r.Create("pyocd", config.RunnerConfig{}, mustParse(t, r, "pyocd", "--target", "x"), deps)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(logs.String(), "PYOCD_DAPARG is deprecated") {
			t.Errorf("missing deprecation warning:\n%s", logs)
		}
		if err := b.Run(context.Background(), DebugServer); err != nil {
			t.Fatal(err)
		}
		if i := indexOf(exec.calls[0], "-da"); i < 0 || exec.calls[0][i+1] != "limit=1" {
			t.Errorf("argv = %q", exec.calls[0])
		}
	})
	t.Run("explicit wins", func(t *testing.T) {
		t.Setenv(EnvPyOCDDAPArg, "limit=1")
		deps, exec, logs := newTestDeps(t)
		r := NewBuiltinRegistry()
		args := mustParse(t, r, "pyocd", "--target", "x", "--daparg", "limit=2")
		b, err := r.Create("pyocd", config.RunnerConfig{}, args, deps)
		if err != nil {
			t.Fatal(err)
		}
		if strings.Contains(logs.String(), "deprecated") {
			t.Errorf("unexpected warning:\n%s", logs)
		}
		if err := b.Run(context.Background(), DebugServer); err != nil {
			t.Fatal(err)
		}
		if i := indexOf(exec.calls[0], "-da"); i < 0 || exec.calls[0][i+1] != "limit=2" {
			t.Errorf("argv = %q", exec.calls[0])
		}
	})
	t.Run("explicit empty wins", func(t *testing.T) {
		t.Setenv(EnvPyOCDDAPArg, "limit=1")
		deps, exec, logs := newTestDeps(t)
		r := NewBuiltinRegistry()
		args := mustParse(t, r, "pyocd", "--target", "x", "--daparg=", "--board-id=", "--frequency=", "--tool-opt=")
		b, err := r.Create("pyocd", config.RunnerConfig{}, args, deps)
		if err != nil {
			t.Fatal(err)
		}
		if strings.Contains(logs.String(), "deprecated") {
			t.Errorf("unexpected warning:\n%s", logs)
		}
		if err := b.Run(context.Background(), DebugServer); err != nil {
			t.Fatal(err)
		}
		argv := exec.calls[0]
		for _, opt := range []string{"-da", "-u", "-f"} {
			if i := indexOf(argv, opt); i < 0 || argv[i+1] != "" {
				t.Errorf("%s: argv = %q, want an empty value", opt, argv)
			}
		}
		if strings.Contains(strings.Join(argv, " "), "limit=1") {
			t.Errorf("environment fallback used: %q", argv)
		}
	})
}

func TestPyOCD_WSL(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	elf := writeFile(t, filepath.Join(dir, "build", "zephyr", "zephyr.elf"))

	b, exec, _ := newTestPyOCD(t, config.RunnerConfig{ElfFile: elf},
		"--target", "x", "--wsl-path", "/mnt/c/Python/python.exe")
	if err := b.Run(context.Background(), Flash); err != nil {
		t.Fatal(err)
	}
	argv := exec.calls[0]
	if !slices.Equal(argv[:4], []string{"/mnt/c/Python/python.exe", "-m", "pyocd", "flash"}) {
		t.Errorf("argv = %q", argv)
	}
	if got, want := argv[len(argv)-1], `build\zephyr\zephyr.elf`; got != want {
		t.Errorf("artifact = %q, want %q", got, want)
	}
}
