package runners

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/deixis/flashkit/internal/config"
)

// MiscFlasher registers a runner that flashes by calling a user-supplied
// program. Trailing positional arguments are passed to it unchanged.
func MiscFlasher() Registration {
	return Registration{
		Name:         "misc-flasher",
		Description:  "flash by running an arbitrary program",
		Capabilities: Capabilities{Commands: []Command{Flash}},
		Options: []Option{
			{Name: "cmd", Required: true, Usage: "program to run; relative paths with a separator resolve against the build directory"},
		},
		New: newMiscFlasher,
	}
}

type miscFlasher struct {
	exec Executor
	cmd  string
	args []string
}

func newMiscFlasher(cfg config.RunnerConfig, args *Args, deps Deps) (Backend, error) {
	cmd := args.String("cmd")
	if !filepath.IsAbs(cmd) && strings.ContainsRune(cmd, filepath.Separator) && cfg.BuildDir != "" {
		cmd = filepath.Join(cfg.BuildDir, cmd)
	}
	return &miscFlasher{exec: deps.Exec, cmd: cmd, args: args.Rest()}, nil
}

func (m *miscFlasher) Require(Command) error {
	return require(m.exec, m.cmd)
}

func (m *miscFlasher) Run(ctx context.Context, cmd Command) error {
	if cmd != Flash {
		return fmt.Errorf("%w: runner misc-flasher does not support %s", ErrUnsupportedCommand, cmd)
	}
	return m.exec.Call(ctx, concat([]string{m.cmd}, m.args))
}
