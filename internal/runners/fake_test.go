package runners

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/deixis/flashkit/internal/runner"
	"github.com/rs/zerolog"
)

// fakeExec records command lines instead of spawning them.
type fakeExec struct {
	missing map[string]bool
	err     error // returned by Call and RunServerAndClient

	calls   [][]string
	servers [][]string
	clients [][]string
	probes  int
}

func (f *fakeExec) Require(program string) (string, error) {
	if f.missing[program] {
		return "", errors.New("not found")
	}
	return "/usr/bin/" + filepath.Base(program), nil
}

func (f *fakeExec) Call(_ context.Context, argv []string) error {
	f.calls = append(f.calls, argv)
	return f.err
}

func (f *fakeExec) RunServerAndClient(_ context.Context, server, client []string, probe runner.Probe) error {
	f.servers = append(f.servers, server)
	f.clients = append(f.clients, client)
	if probe != nil {
		f.probes++
	}
	return f.err
}

func (f *fakeExec) spawned() int {
	return len(f.calls) + len(f.servers)
}

func newTestDeps(t *testing.T) (Deps, *fakeExec, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	exec := &fakeExec{missing: map[string]bool{}}
	return Deps{Exec: exec, Log: zerolog.New(&logs).Level(zerolog.DebugLevel)}, exec, &logs
}

func writeFile(t *testing.T, path string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("\x7fELF"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func mustParse(t *testing.T, reg *Registry, name string, argv ...string) *Args {
	t.Helper()
	p, err := reg.NewParser(name)
	if err != nil {
		t.Fatalf("NewParser(%s): %v", name, err)
	}
	args, err := p.Parse(argv)
	if err != nil {
		t.Fatalf("Parse(%v): %v", argv, err)
	}
	return args
}

func indexOf(argv []string, s string) int {
	for i, a := range argv {
		if a == s {
			return i
		}
	}
	return -1
}
