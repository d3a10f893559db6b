// Package runners is the flash/debug dispatch framework: capability
// declarations, the runner registry and its generated option parsers, the
// dispatcher, and the concrete probe-tool runners.
package runners

import (
	"context"
	"os"

	"github.com/deixis/flashkit/internal/runner"
)

// Backend is one constructed runner, bound to a build configuration and
// its parsed options.
type Backend interface {
	// Require checks external preconditions for cmd, such as programs on
	// the search path, without spawning anything.
	Require(cmd Command) error
	// Run executes cmd. Callers only pass commands the runner declares.
	Run(ctx context.Context, cmd Command) error
}

// PathTransformer is implemented by runners whose tool executes in a
// different host environment than the one that produced the artifacts.
type PathTransformer interface {
	TransformPath(path string) (string, error)
}

// Executor spawns runner subprocesses. Implemented by runner.Runner.
type Executor interface {
	Require(program string) (string, error)
	Call(ctx context.Context, argv []string) error
	RunServerAndClient(ctx context.Context, server, client []string, probe runner.Probe) error
}

// hostPath applies b's path transform when it has one.
func hostPath(b Backend, path string) (string, error) {
	if t, ok := b.(PathTransformer); ok {
		return t.TransformPath(path)
	}
	return path, nil
}

// require resolves program through exec, mapping failure to ErrMissingTool.
func require(exec Executor, program string) error {
	if _, err := exec.Require(program); err != nil {
		return ErrMissingTool{Name: program}
	}
	return nil
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func concat(parts ...[]string) []string {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]string, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
