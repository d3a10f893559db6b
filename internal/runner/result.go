package runner

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ErrExecution reports a wrapped tool that failed to launch or exited
// non-zero.
type ErrExecution struct {
	Argv     []string
	ExitCode int    // -1 when the process never ran to completion
	Stderr   string // leading diagnostic output, may be empty
	Err      error
}

func newErrExecution(argv []string, err error, state *os.ProcessState) *ErrExecution {
	return &ErrExecution{Argv: argv, ExitCode: exitCodeFrom(err, state), Err: err}
}

func (e *ErrExecution) Error() string {
	name := "command"
	if len(e.Argv) > 0 {
		name = e.Argv[0]
	}
	if e.ExitCode > 0 {
		return fmt.Sprintf("%s exited with status %d", name, e.ExitCode)
	}
	return fmt.Sprintf("executing %s: %v", name, e.Err)
}

func (e *ErrExecution) Unwrap() error { return e.Err }

func exitCodeFrom(waitErr error, state *os.ProcessState) int {
	if state != nil && state.Exited() {
		return state.ExitCode()
	}
	if waitErr == nil && state != nil {
		return state.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) && exitErr.ProcessState != nil {
		return exitErr.ProcessState.ExitCode()
	}
	return -1
}

// Quote renders argv as a single shell-safe line for logs and dry runs.
func Quote(argv []string) string {
	parts := make([]string, len(argv))
	for i, arg := range argv {
		parts[i] = shellEscape(arg)
	}
	return strings.Join(parts, " ")
}

func shellEscape(value string) string {
	if value == "" {
		return "''"
	}
	if !strings.ContainsAny(value, " \t\n'\"\\$`*?[]{}()<>|&;#~!") {
		return value
	}
	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}
