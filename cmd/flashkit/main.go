// Command flashkit flashes and debugs boards through probe tool runners.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/deixis/flashkit"
	"github.com/deixis/flashkit/internal/config"
	"github.com/deixis/flashkit/internal/logging"
	fkmcp "github.com/deixis/flashkit/internal/mcp"
	"github.com/deixis/flashkit/internal/report"
	"github.com/deixis/flashkit/internal/runner"
	"github.com/deixis/flashkit/internal/runners"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("flashkit: ")

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "flash", "debug", "debugserver", "attach":
		err = dispatchMain(runners.Command(cmd), args)
	case "runners":
		err = runnersMain(args)
	case "mcp":
		err = mcpMain(args)
	case "version":
		fmt.Println(flashkit.Version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "flashkit: unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}

	if err != nil {
		var code exitCode
		if !errors.As(err, &code) {
			log.Print(err)
		}
		os.Exit(exitStatus(err))
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: flashkit <command> [-r runner] [flags] [-- args]

Commands:
  flash        Flash the build artifact to the board
  debug        Start a debug server, load the image and attach a debugger
  debugserver  Start a debug server only
  attach       Start a debug server and attach a debugger without loading
  runners      List the available runners
  mcp          Start the MCP server
  version      Print the version
  help         Show this help

Use "flashkit <command> -r <runner> -h" for runner-specific flags.`)
}

// --- dispatch ---

type hostFlags struct {
	buildDir  string
	boardDir  string
	gdb       string
	board     string
	configDir string
	verbose   bool
	json      bool
}

func (h *hostFlags) register(fs *flag.FlagSet, cmd runners.Command) {
	fs.StringVar(&h.buildDir, "build-dir", "", "build directory holding the artifacts")
	fs.StringVar(&h.boardDir, "board-dir", "", "board definition directory")
	fs.StringVar(&h.gdb, "gdb", "", "debugger client executable")
	fs.StringVar(&h.board, "board", "", "board name")
	fs.StringVar(&h.configDir, "config-dir", "", "directory to search for .flashkit config (default: working directory)")
	fs.BoolVar(&h.verbose, "v", false, "verbose output")
	if cmd == runners.Flash {
		fs.BoolVar(&h.json, "json", false, "print the dispatch record as JSON")
	}
}

func (h *hostFlags) runnerConfig() config.RunnerConfig {
	return config.RunnerConfig{
		BuildDir: h.buildDir,
		BoardDir: h.boardDir,
		GDB:      h.gdb,
		Board:    h.board,
	}
}

// hostBoolFlags are the boolean flags hostFlags registers.
var hostBoolFlags = []string{"v", "json"}

func dispatchMain(cmd runners.Command, argv []string) error {
	reg := runners.NewBuiltinRegistry()
	name, rest := runners.SplitRunner(argv, append(reg.BoolOptions(), hostBoolFlags...)...)

	configDir := flagValue(rest, "config-dir")
	if configDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("determining working directory: %w", err)
		}
		configDir = wd
	}
	loaded, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg := loaded.Config

	if name == "" {
		name = cfg.DefaultRunner(string(cmd))
	}
	if name == "" {
		return usageError{fmt.Errorf("no runner for %s: pass -r NAME or set %s_runner in .flashkit", cmd, runnerFamily(cmd))}
	}

	parser, err := reg.NewParser(name)
	if err != nil {
		return usageError{err}
	}
	var host hostFlags
	host.register(parser.FlagSet(), cmd)

	args, err := parser.Parse(append(cfg.RunnerArgs(name), rest...))
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		if isParserError(err) {
			return usageError{err}
		}
		// The flag package has already printed the error and usage.
		return exitCode(2)
	}

	opts := logging.Defaults(logging.ProfileRuntime)
	opts.Verbose = host.verbose
	logger := logging.New(opts)
	if loaded.Path != "" {
		logger.Debug().Str("path", loaded.Path).Msg("loaded config")
	}

	stdout := io.Writer(os.Stdout)
	if host.json {
		stdout = os.Stderr
	}
	r := &runner.Runner{
		Stdin:        os.Stdin,
		Stdout:       stdout,
		Stderr:       os.Stderr,
		Log:          logger,
		DryRun:       args.Bool(runners.OptDryRun),
		ReadyTimeout: cfg.ReadyTimeout(),
		StopTimeout:  cfg.StopTimeout(),
	}
	d := &runners.Dispatcher{
		Registry: reg,
		Exec:     r,
		Log:      logger,
		Store:    report.NewDefaultStore(1),
		DryRun:   r.DryRun,
	}

	ctx, stop := notifyContext(cmd)
	defer stop()

	rcfg := cfg.Runner.Merge(host.runnerConfig()).Resolve()
	rec, err := d.Dispatch(ctx, cmd, name, rcfg, args)
	if host.json && rec != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if jerr := enc.Encode(rec); jerr != nil && err == nil {
			err = jerr
		}
	}
	return err
}

// notifyContext cancels on SIGTERM, and on interrupt when no interactive
// debugger owns the terminal.
func notifyContext(cmd runners.Command) (context.Context, context.CancelFunc) {
	if cmd == runners.Debug || cmd == runners.Attach {
		return signal.NotifyContext(context.Background(), syscall.SIGTERM)
	}
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runnerFamily(cmd runners.Command) string {
	if cmd == runners.Flash {
		return "flash"
	}
	return "debug"
}

// flagValue scans argv for -name or --name and returns its value.
func flagValue(argv []string, name string) string {
	for i, arg := range argv {
		if arg == "--" {
			break
		}
		key := strings.TrimLeft(arg, "-")
		if !strings.HasPrefix(arg, "-") || len(arg)-len(key) > 2 {
			continue
		}
		if k, v, ok := strings.Cut(key, "="); ok && k == name {
			return v
		}
		if key == name && i+1 < len(argv) {
			return argv[i+1]
		}
	}
	return ""
}

// --- errors and exit status ---

// usageError marks an error caused by the command line.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// exitCode ends the process with a status after the message was already
// reported elsewhere.
type exitCode int

func (c exitCode) Error() string { return fmt.Sprintf("exit status %d", int(c)) }

func isParserError(err error) bool {
	for _, target := range []error{
		runners.ErrUnsupportedOption,
		runners.ErrMissingOption,
		runners.ErrInvalidOption,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func exitStatus(err error) int {
	var code exitCode
	if errors.As(err, &code) {
		return int(code)
	}
	if errors.Is(err, context.Canceled) {
		return 130
	}
	var execErr *runner.ErrExecution
	if errors.As(err, &execErr) && execErr.ExitCode > 0 {
		return execErr.ExitCode
	}
	var uerr usageError
	if errors.As(err, &uerr) ||
		isParserError(err) ||
		errors.Is(err, runners.ErrUnknownRunner) ||
		errors.Is(err, runners.ErrUnsupportedCommand) {
		return 2
	}
	return 1
}

// --- runners ---

func runnersMain(args []string) error {
	fs := flag.NewFlagSet("runners", flag.ExitOnError)
	verbose := fs.Bool("v", false, "list each runner's options")
	_ = fs.Parse(args)

	fmt.Print(formatRunners(runners.NewBuiltinRegistry(), *verbose))
	return nil
}

func formatRunners(reg *runners.Registry, verbose bool) string {
	var b []byte
	w := func(format string, args ...any) {
		b = fmt.Appendf(b, format, args...)
	}

	for _, r := range reg.Registrations() {
		w("%-14s %s\n", r.Name, r.Description)
		w("%-14s %s\n", "", r.Capabilities)
		if !verbose {
			continue
		}
		for _, o := range r.Options {
			req := ""
			if o.Required {
				req = " (required)"
			}
			w("%-14s   --%s%s  %s\n", "", o.Name, req, o.Usage)
		}
	}
	return string(b)
}

// --- mcp ---

func mcpMain(args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	instructions := fs.Bool("instructions", false, "print model instructions and exit")
	httpAddr := fs.String("http", "", "start HTTP server on address (e.g. :9090)")
	_ = fs.Parse(args)

	if *instructions {
		fmt.Print(fkmcp.Instructions)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, *httpAddr)
}

func serve(ctx context.Context, httpAddr string) error {
	workspace, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("determining workspace: %w", err)
	}

	loaded, err := config.Load(workspace)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg := loaded.Config

	store := report.NewDefaultStore(16)

	logger := logging.New(logging.Defaults(logging.ProfileRuntime))
	r := &runner.Runner{
		Stderr:       os.Stderr,
		Log:          logger,
		ReadyTimeout: cfg.ReadyTimeout(),
		StopTimeout:  cfg.StopTimeout(),
	}

	server := fkmcp.NewServer(runners.NewBuiltinRegistry(), cfg, r, store, workspace)

	if httpAddr != "" {
		return serveHTTP(ctx, server, httpAddr)
	}
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}

func serveHTTP(ctx context.Context, server *mcpsdk.Server, addr string) error {
	handler := mcpsdk.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcpsdk.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	log.Printf("listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
