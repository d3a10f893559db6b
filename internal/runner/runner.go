// Package runner provides scoped subprocess execution for flash and debug
// backends: run-to-completion, and a debug server paired with a foreground
// client whose teardown is guaranteed.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"time"

	"github.com/rs/zerolog"
)

// Default values for server lifecycle handling.
const (
	DefaultStopTimeout = 5 * time.Second
	DefaultMaxStderr   = 4 << 10
)

// Runner executes external tools on the local host.
type Runner struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Log    zerolog.Logger

	// DryRun logs every command instead of spawning it.
	DryRun bool

	// ReadyTimeout bounds how long a server probe may run before the client
	// is started anyway. Zero disables probing: the client starts right after
	// the server.
	ReadyTimeout time.Duration

	// StopTimeout is the grace period between SIGTERM and SIGKILL when tearing
	// down a server.
	StopTimeout time.Duration

	// MaxStderr caps how much leading stderr is kept for error reports.
	MaxStderr int

	// LookPath resolves program names; exec.LookPath when nil.
	LookPath func(file string) (string, error)
}

// Require resolves program on the search path and returns its location.
func (r *Runner) Require(program string) (string, error) {
	lookPath := r.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	return lookPath(program)
}

// Call runs argv to completion. A non-zero exit or launch failure is
// returned as *ErrExecution. Cancellation of ctx returns ctx.Err() unless the
// tool handled the interrupt and exited with a status of its own.
func (r *Runner) Call(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("empty argv")
	}
	if r.DryRun {
		r.Log.Info().Msgf("dry run: %s", Quote(argv))
		return nil
	}
	r.Log.Debug().Msgf("running: %s", Quote(argv))

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = r.Stdin
	cmd.Stdout = r.Stdout
	// Interrupt first so the tool can release the probe cleanly.
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = r.stopTimeout()

	var diag bytes.Buffer
	lw := &limitWriter{buf: &diag, limit: r.maxStderr()}
	if r.Stderr != nil {
		cmd.Stderr = io.MultiWriter(r.Stderr, lw)
	} else {
		cmd.Stderr = lw
	}

	err := cmd.Run()
	if ctx.Err() != nil && !exitedNonZero(cmd.ProcessState) {
		return ctx.Err()
	}
	if err != nil {
		execErr := newErrExecution(argv, err, cmd.ProcessState)
		execErr.Stderr = diag.String()
		return execErr
	}
	return nil
}

// RunServerAndClient starts server, waits for probe when configured, then
// runs client in the foreground. The server is always terminated before
// RunServerAndClient returns, whatever the client outcome. The client's exit
// status is not reported; failing to launch it is.
//
// An interrupt received before the client starts cancels the session and
// returns ErrInterrupted. Once the client runs, interrupts are left to it.
func (r *Runner) RunServerAndClient(ctx context.Context, server, client []string, probe Probe) error {
	if len(server) == 0 || len(client) == 0 {
		return fmt.Errorf("empty argv")
	}
	if r.DryRun {
		r.Log.Info().Msgf("dry run: %s", Quote(server))
		r.Log.Info().Msgf("dry run: %s", Quote(client))
		return nil
	}
	r.Log.Debug().Msgf("starting server: %s", Quote(server))

	// Installed before the server starts: from here on an interrupt must
	// reach the teardown below, never the default handler.
	intr := make(chan os.Signal, 1)
	signal.Notify(intr, os.Interrupt)
	defer signal.Stop(intr)

	srv := exec.Command(server[0], server[1:]...)
	srv.Stdout = r.Stdout
	srv.Stderr = r.Stderr
	setProcessGroup(srv)
	if err := srv.Start(); err != nil {
		return newErrExecution(server, err, nil)
	}

	var srvErr error
	srvDone := make(chan struct{})
	go func() {
		srvErr = srv.Wait()
		close(srvDone)
	}()
	defer r.stopServer(srv, srvDone)

	if probe != nil && r.ReadyTimeout > 0 {
		if err := r.awaitReady(ctx, probe, srvDone, intr); err != nil {
			if errors.Is(err, errServerExited) {
				execErr := newErrExecution(server, srvErr, srv.ProcessState)
				if execErr.Err == nil {
					execErr.Err = errServerExited
				}
				return execErr
			}
			return err
		}
	}

	select {
	case <-intr:
		return ErrInterrupted
	default:
	}
	return r.runClient(ctx, client, intr)
}

// ErrInterrupted is returned when an interrupt arrives before the client
// has started. It matches context.Canceled.
var ErrInterrupted = fmt.Errorf("interrupted: %w", context.Canceled)

var errServerExited = errors.New("server exited before accepting connections")

func (r *Runner) awaitReady(ctx context.Context, probe Probe, srvDone <-chan struct{}, intr <-chan os.Signal) error {
	readyCtx, cancel := context.WithTimeout(ctx, r.ReadyTimeout)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- probe(readyCtx) }()

	select {
	case err := <-errc:
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.Log.Warn().Err(err).Msg("server readiness not confirmed, starting client anyway")
		return nil
	case <-srvDone:
		return errServerExited
	case <-intr:
		return ErrInterrupted
	}
}

func (r *Runner) runClient(ctx context.Context, client []string, intr <-chan os.Signal) error {
	r.Log.Debug().Msgf("starting client: %s", Quote(client))

	cmd := exec.Command(client[0], client[1:]...)
	cmd.Stdin = r.Stdin
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	if err := cmd.Start(); err != nil {
		return newErrExecution(client, err, nil)
	}

	// The terminal delivers SIGINT to the client directly; absorb it here so
	// the debugger, not flashkit, decides what an interrupt means.
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	for {
		select {
		case err := <-done:
			if err != nil {
				r.Log.Debug().Err(err).Msg("client exited")
			}
			return nil
		case <-intr:
			r.Log.Debug().Msg("interrupt left to client")
		case <-ctx.Done():
			_ = cmd.Process.Kill()
			<-done
			return ctx.Err()
		}
	}
}

// stopServer terminates the server process group and reaps it.
func (r *Runner) stopServer(cmd *exec.Cmd, done <-chan struct{}) {
	select {
	case <-done:
		return
	default:
	}

	if err := terminate(cmd.Process); err != nil {
		r.Log.Debug().Err(err).Msg("terminating server")
	}
	select {
	case <-done:
	case <-time.After(r.stopTimeout()):
		r.Log.Warn().Msg("server ignored SIGTERM, killing")
		_ = kill(cmd.Process)
		<-done
	}
}

// exitedNonZero reports whether the process called exit with a failure
// status, as opposed to being killed by a signal.
func exitedNonZero(ps *os.ProcessState) bool {
	return ps != nil && ps.Exited() && ps.ExitCode() != 0
}

func (r *Runner) stopTimeout() time.Duration {
	if r.StopTimeout > 0 {
		return r.StopTimeout
	}
	return DefaultStopTimeout
}

func (r *Runner) maxStderr() int {
	if r.MaxStderr > 0 {
		return r.MaxStderr
	}
	return DefaultMaxStderr
}

// limitWriter writes up to limit bytes to buf, then silently discards the rest.
type limitWriter struct {
	buf   *bytes.Buffer
	limit int
}

func (w *limitWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		return len(p), nil
	}
	if len(p) > remaining {
		w.buf.Write(p[:remaining])
		return len(p), nil
	}
	return w.buf.Write(p)
}
