package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"testing"

	"github.com/deixis/flashkit/internal/runner"
	"github.com/deixis/flashkit/internal/runners"
)

func TestExitStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"tool exit", fmt.Errorf("flash: %w", &runner.ErrExecution{Argv: []string{"pyocd"}, ExitCode: 4}), 4},
		{"launch failure", &runner.ErrExecution{Argv: []string{"pyocd"}, ExitCode: -1}, 1},
		{"cancelled", context.Canceled, 130},
		{"missing option", fmt.Errorf("%w: runner pyocd requires --target", runners.ErrMissingOption), 2},
		{"unknown runner", fmt.Errorf("%w: jlink", runners.ErrUnknownRunner), 2},
		{"usage", usageError{errors.New("no runner")}, 2},
		{"reported", exitCode(2), 2},
		{"missing tool", runners.ErrMissingTool{Name: "pyocd"}, 1},
	}
	for _, tt := range tests {
		if got := exitStatus(tt.err); got != tt.want {
			t.Errorf("%s: exitStatus = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestFlagValue(t *testing.T) {
	tests := []struct {
		argv []string
		want string
	}{
		{[]string{"--target", "x", "--config-dir", "/src/app"}, "/src/app"},
		{[]string{"-config-dir=/src/app"}, "/src/app"},
		{[]string{"--", "--config-dir", "/src/app"}, ""},
		{[]string{"--config-dir"}, ""},
		{[]string{"config-dir", "x"}, ""},
	}
	for _, tt := range tests {
		if got := flagValue(tt.argv, "config-dir"); got != tt.want {
			t.Errorf("flagValue(%v) = %q, want %q", tt.argv, got, tt.want)
		}
	}
}

func TestHostBoolFlags(t *testing.T) {
	fs := flag.NewFlagSet("flash", flag.ContinueOnError)
	var h hostFlags
	h.register(fs, runners.Flash)
	for _, name := range hostBoolFlags {
		f := fs.Lookup(name)
		if f == nil {
			t.Errorf("-%s not registered", name)
			continue
		}
		if b, ok := f.Value.(interface{ IsBoolFlag() bool }); !ok || !b.IsBoolFlag() {
			t.Errorf("-%s is not a boolean flag", name)
		}
	}
}

func TestExitStatus_Interrupted(t *testing.T) {
	if got := exitStatus(fmt.Errorf("debug: %w", runner.ErrInterrupted)); got != 130 {
		t.Errorf("exitStatus = %d, want 130", got)
	}
}

func TestFormatRunners(t *testing.T) {
	out := formatRunners(runners.NewBuiltinRegistry(), true)
	for _, want := range []string{"misc-flasher", "pyocd", "commands=flash,debug,debugserver,attach flash-addr erase", "--target (required)"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(formatRunners(runners.NewBuiltinRegistry(), false), "--target") {
		t.Error("options listed without -v")
	}
}
