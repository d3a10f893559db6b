package runners

import (
	"context"
	"errors"
	"fmt"

	"github.com/deixis/flashkit/internal/config"
	"github.com/deixis/flashkit/internal/report"
	"github.com/deixis/flashkit/internal/runner"
	"github.com/rs/zerolog"
)

// Dispatcher validates a command against a runner's capabilities, builds the
// runner and runs the command.
type Dispatcher struct {
	Registry *Registry
	Exec     Executor
	Log      zerolog.Logger
	Store    report.Store // optional; records are always returned
	DryRun   bool         // recorded only; Exec decides what a dry run means
}

// Dispatch runs cmd on runner name. Capability, option and precondition
// failures are returned before any process is spawned.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command, name string, cfg config.RunnerConfig, args *Args) (*report.Record, error) {
	reg, err := d.Registry.Lookup(name)
	if err != nil {
		return nil, err
	}

	rec := report.NewRecord(reg.Name, string(cmd))
	rec.DryRun = d.DryRun
	err = d.dispatch(ctx, cmd, reg, cfg, args, rec)
	rec.Finish(err, exitCode(err))

	if d.Store != nil {
		if serr := d.Store.Save(rec); serr != nil {
			d.Log.Warn().Err(serr).Str("run", rec.ID).Msg("saving dispatch record")
		}
	}
	return rec, err
}

func (d *Dispatcher) dispatch(ctx context.Context, cmd Command, reg Registration, cfg config.RunnerConfig, args *Args, rec *report.Record) error {
	if !reg.Capabilities.Supports(cmd) {
		return fmt.Errorf("%w: runner %s does not support %s", ErrUnsupportedCommand, reg.Name, cmd)
	}

	deps := Deps{
		Exec: &recordingExecutor{Executor: d.Exec, rec: rec},
		Log:  d.Log.With().Str("runner", reg.Name).Logger(),
	}
	backend, err := d.Registry.Create(reg.Name, cfg, args, deps)
	if err != nil {
		return err
	}
	if err := backend.Require(cmd); err != nil {
		return err
	}
	return backend.Run(ctx, cmd)
}

// exitCode extracts the wrapped tool's exit status, 0 when there is none.
func exitCode(err error) int {
	var execErr *runner.ErrExecution
	if errors.As(err, &execErr) && execErr.ExitCode > 0 {
		return execErr.ExitCode
	}
	return 0
}

// recordingExecutor notes every command line on the dispatch record before
// handing it on.
type recordingExecutor struct {
	Executor
	rec *report.Record
}

func (e *recordingExecutor) Call(ctx context.Context, argv []string) error {
	e.rec.AddCall(argv)
	return e.Executor.Call(ctx, argv)
}

func (e *recordingExecutor) RunServerAndClient(ctx context.Context, server, client []string, probe runner.Probe) error {
	e.rec.AddCall(server)
	e.rec.AddCall(client)
	return e.Executor.RunServerAndClient(ctx, server, client, probe)
}
