// Package report records what each dispatch did: the runner and command,
// every command line it issued, and how it ended. Records are kept in an
// LRU cache in front of a JSON disk store.
package report

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Status is the outcome of a dispatch.
type Status string

const (
	Running Status = "running"
	OK      Status = "ok"
	Failed  Status = "failed"
)

// Store persists and retrieves dispatch records.
type Store interface {
	Save(rec *Record) error
	Load(id string) (*Record, error)
}

// Record describes one dispatch.
type Record struct {
	ID       string        `json:"id"`
	Runner   string        `json:"runner"`
	Command  string        `json:"command"`
	DryRun   bool          `json:"dry_run,omitempty"`
	Calls    [][]string    `json:"calls,omitempty"` // argv of every process, in spawn order
	Status   Status        `json:"status"`
	Error    string        `json:"error,omitempty"`
	ExitCode int           `json:"exit_code,omitempty"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
}

// NewRecord starts a record for a dispatch of command to runner.
func NewRecord(runner, command string) *Record {
	return &Record{
		ID:      uuid.New().String(),
		Runner:  runner,
		Command: command,
		Status:  Running,
		Started: time.Now(),
	}
}

// AddCall appends a copy of argv.
func (r *Record) AddCall(argv []string) {
	r.Calls = append(r.Calls, slices.Clone(argv))
}

// Finish closes the record with the dispatch outcome.
func (r *Record) Finish(err error, exitCode int) {
	r.Duration = time.Since(r.Started)
	if err != nil {
		r.Status = Failed
		r.Error = err.Error()
		r.ExitCode = exitCode
		return
	}
	r.Status = OK
}

// Summary renders the record as a short human-readable block.
func (r *Record) Summary() string {
	b := fmt.Appendf(nil, "Run: %s\nRunner: %s\nCommand: %s\nStatus: %s\n", r.ID, r.Runner, r.Command, r.Status)
	if r.DryRun {
		b = fmt.Appendf(b, "Dry run: true\n")
	}
	if r.Error != "" {
		b = fmt.Appendf(b, "Error: %s\n", r.Error)
	}
	if r.ExitCode != 0 {
		b = fmt.Appendf(b, "Exit code: %d\n", r.ExitCode)
	}
	if len(r.Calls) > 0 {
		b = fmt.Appendf(b, "Calls:\n")
		for _, argv := range r.Calls {
			b = fmt.Appendf(b, "  %q\n", argv)
		}
	}
	return string(b)
}
