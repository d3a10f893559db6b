// Package logging builds the zerolog logger shared by the CLI, the
// dispatcher and every runner.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	EnvLogLevel     = "FLASHKIT_LOG_LEVEL"
	EnvLogTimestamp = "FLASHKIT_LOG_TIMESTAMP"
	EnvLogNoColor   = "FLASHKIT_LOG_NOCOLOR"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Options controls logger construction. Env overrides are applied on top.
type Options struct {
	Profile   Profile
	Out       io.Writer // defaults to os.Stderr
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
	Verbose   bool // forces debug regardless of env
}

// Defaults returns the options for a profile before env overrides.
func Defaults(profile Profile) Options {
	opts := Options{Profile: profile}
	switch profile {
	case ProfileTest:
		opts.Level = zerolog.DebugLevel
		opts.NoColor = true
	default:
		opts.Level = zerolog.InfoLevel
	}
	return opts
}

// New builds a console logger from opts and the FLASHKIT_LOG_* environment.
func New(opts Options) zerolog.Logger {
	applyEnvOverrides(&opts)
	if opts.Verbose && opts.Level > zerolog.DebugLevel {
		opts.Level = zerolog.DebugLevel
	}
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	w := zerolog.ConsoleWriter{
		Out:        out,
		NoColor:    opts.NoColor,
		TimeFormat: time.Kitchen,
	}
	if !opts.Timestamp {
		w.PartsExclude = []string{zerolog.TimestampFieldName}
	}
	ctx := zerolog.New(w).Level(opts.Level).With()
	if opts.Timestamp {
		ctx = ctx.Timestamp()
	}
	return ctx.Logger()
}

func applyEnvOverrides(opts *Options) {
	if lvl, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		opts.Level = lvl
	}
	if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); ok {
		opts.Timestamp = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		opts.NoColor = v
	}
}

// ParseLevel maps a level name to a zerolog level.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
