package runners

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/deixis/flashkit/internal/config"
	"github.com/deixis/flashkit/internal/runner"
	"github.com/rs/zerolog"
)

const (
	DefaultPyOCDGDBPort    = 3333
	DefaultPyOCDTelnetPort = 4444

	// EnvPyOCDDAPArg is the deprecated fallback for --daparg.
	EnvPyOCDDAPArg = "PYOCD_DAPARG"
)

// PyOCD registers the pyOCD runner: flashing, a GDB server, and a GDB
// client attached to it.
func PyOCD() Registration {
	return Registration{
		Name:        "pyocd",
		Description: "pyOCD flash programming and GDB server",
		Capabilities: Capabilities{
			Commands:  []Command{Flash, Debug, DebugServer, Attach},
			FlashAddr: true,
			Erase:     true,
		},
		Options: []Option{
			{Name: "target", Required: true, Usage: "target override"},
			{Name: "daparg", Usage: "additional -da arguments to pyocd tool"},
			{Name: "pyocd", Default: "pyocd", Usage: "path to pyocd tool"},
			{Name: "flash-opt", Kind: ListOption, Usage: `additional options for pyocd flash, e.g. --flash-opt="-e=chip" to chip erase`},
			{Name: "flash-format", Usage: "flash image format bin/hex/elf, default elf"},
			{Name: "frequency", Usage: "SWD clock frequency in Hz"},
			{Name: "gdb-port", Kind: IntOption, Default: strconv.Itoa(DefaultPyOCDGDBPort), Usage: "pyocd gdb port"},
			{Name: "telnet-port", Kind: IntOption, Default: strconv.Itoa(DefaultPyOCDTelnetPort), Usage: "pyocd telnet port"},
			{Name: "tui", Kind: BoolOption, Usage: "if given, GDB uses -tui"},
			{Name: "board-id", Usage: "ID of board to flash, default is to prompt"},
			{Name: "tool-opt", Usage: "additional options for pyocd commander, e.g. '--script=user.py'"},
			{Name: "wsl-path", Usage: "path to a Windows python executable, to get around USB restrictions in WSL"},
		},
		New: newPyOCD,
	}
}

type pyocd struct {
	exec Executor
	log  zerolog.Logger

	tool    []string
	wslPath string

	configArgs    []string
	targetArgs    []string
	flashAddrArgs []string
	dapargArgs    []string
	boardArgs     []string
	frequencyArgs []string
	toolOptArgs   []string
	flashExtra    []string
	tuiArgs       []string

	erase       bool
	flashFormat string
	gdbPort     int
	telnetPort  int

	gdb string
	elf string
	hex string
	bin string
}

func newPyOCD(cfg config.RunnerConfig, args *Args, deps Deps) (Backend, error) {
	p := &pyocd{
		exec:        deps.Exec,
		log:         deps.Log,
		wslPath:     args.String("wsl-path"),
		targetArgs:  []string{"-t", args.String("target")},
		erase:       args.Bool(OptErase),
		flashFormat: args.String("flash-format"),
		gdbPort:     args.Int("gdb-port"),
		telnetPort:  args.Int("telnet-port"),
		flashExtra:  args.List("flash-opt"),
		gdb:         cfg.GDB,
		elf:         cfg.ElfFile,
		hex:         cfg.HexFile,
		bin:         cfg.BinFile,
	}

	switch p.flashFormat {
	case "", "elf", "hex", "bin":
	default:
		return nil, fmt.Errorf("%w: --flash-format %q, want bin, hex or elf", ErrInvalidOption, p.flashFormat)
	}
	for _, port := range []int{p.gdbPort, p.telnetPort} {
		if port <= 0 || port > 65535 {
			return nil, fmt.Errorf("%w: port %d out of range", ErrInvalidOption, port)
		}
	}

	tool := args.String("pyocd")
	if p.wslPath != "" {
		// pyOCD runs on the Windows side through python -m; the GDB server
		// is still reachable from inside WSL.
		p.tool = []string{p.wslPath, "-m", tool}
	} else {
		p.tool = []string{tool}
	}

	if cfg.BoardDir != "" {
		if def := filepath.Join(cfg.BoardDir, "support", "pyocd.yaml"); isFile(def) {
			p.configArgs = []string{"--config", def}
		}
	}
	if addr := args.Uint(OptFlashAddr); addr != 0 {
		p.flashAddrArgs = []string{"-a", fmt.Sprintf("%#x", addr)}
	}
	// An explicitly empty value is still passed through.
	if args.IsSet("board-id") {
		p.boardArgs = []string{"-u", args.String("board-id")}
	}
	if args.IsSet("daparg") {
		p.dapargArgs = []string{"-da", args.String("daparg")}
	}
	if args.IsSet("frequency") {
		p.frequencyArgs = []string{"-f", args.String("frequency")}
	}
	if args.IsSet("tool-opt") {
		p.toolOptArgs = []string{args.String("tool-opt")}
	}
	if args.Bool("tui") {
		p.tuiArgs = []string{"-tui"}
	}

	if v := os.Getenv(EnvPyOCDDAPArg); !args.IsSet("daparg") && v != "" {
		p.log.Warn().Msgf("%s is deprecated; use --daparg", EnvPyOCDDAPArg)
		p.log.Debug().Msgf("--daparg=%s via %s", v, EnvPyOCDDAPArg)
		p.dapargArgs = []string{"-da", v}
	}

	return p, nil
}

func (p *pyocd) Require(cmd Command) error {
	if err := require(p.exec, p.tool[0]); err != nil {
		return err
	}
	if cmd == Debug || cmd == Attach {
		if err := p.clientPreconditions(cmd); err != nil {
			return err
		}
		return require(p.exec, p.gdb)
	}
	return nil
}

func (p *pyocd) Run(ctx context.Context, cmd Command) error {
	switch cmd {
	case Flash:
		return p.flash(ctx)
	case Debug, DebugServer, Attach:
		return p.debugDebugServer(ctx, cmd)
	default:
		return fmt.Errorf("%w: runner pyocd does not support %s", ErrUnsupportedCommand, cmd)
	}
}

// TransformPath rewrites an artifact path for a pyOCD running under
// Windows: relative to the working directory, so the drive mount point
// needs no translation, with backslash separators.
func (p *pyocd) TransformPath(path string) (string, error) {
	if p.wslPath == "" {
		return path, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(wd, abs)
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(rel, "/", `\`), nil
}

func (p *pyocd) artifact() (kind, path string, formatArgs []string) {
	switch p.flashFormat {
	case "hex":
		return "hex", p.hex, []string{"--format", "hex"}
	case "bin":
		return "bin", p.bin, []string{"--format", "bin"}
	case "elf":
		return "elf", p.elf, []string{"--format", "elf"}
	default:
		return "elf", p.elf, nil
	}
}

func (p *pyocd) flash(ctx context.Context) error {
	kind, fname, formatArgs := p.artifact()
	if fname == "" || !isFile(fname) {
		return ErrArtifactNotFound{Kind: kind, Path: fname}
	}
	hostName, err := hostPath(p, fname)
	if err != nil {
		return fmt.Errorf("translating %s: %w", fname, err)
	}
	fname = hostName

	eraseMethod := "sector"
	if p.erase {
		eraseMethod = "chip"
	}

	argv := concat(
		p.tool,
		[]string{"flash"},
		p.configArgs,
		[]string{"-e", eraseMethod},
		formatArgs,
		p.flashAddrArgs,
		p.dapargArgs,
		p.targetArgs,
		p.boardArgs,
		p.frequencyArgs,
		p.toolOptArgs,
		p.flashExtra,
		[]string{fname},
	)

	p.log.Info().Msgf("Flashing file: %s", fname)
	return p.exec.Call(ctx, argv)
}

func (p *pyocd) portArgs() []string {
	return []string{"-p", strconv.Itoa(p.gdbPort), "-T", strconv.Itoa(p.telnetPort)}
}

func (p *pyocd) serverArgv() []string {
	return concat(
		p.tool,
		[]string{"gdbserver"},
		p.dapargArgs,
		p.portArgs(),
		p.targetArgs,
		p.boardArgs,
		p.frequencyArgs,
		p.toolOptArgs,
	)
}

func (p *pyocd) clientPreconditions(cmd Command) error {
	if p.gdb == "" {
		return ErrMissingTool{Name: "gdb", Command: cmd, Unset: true}
	}
	if p.elf == "" {
		return ErrMissingTool{Name: "elf", Command: cmd, Unset: true}
	}
	return nil
}

func (p *pyocd) clientArgv(cmd Command) []string {
	argv := concat(
		[]string{p.gdb},
		p.tuiArgs,
		[]string{p.elf},
		[]string{"-ex", fmt.Sprintf("target remote :%d", p.gdbPort)},
	)
	if cmd == Debug {
		argv = append(argv,
			"-ex", "monitor halt",
			"-ex", "monitor reset",
			"-ex", "load",
		)
	}
	return argv
}

func (p *pyocd) debugDebugServer(ctx context.Context, cmd Command) error {
	server := p.serverArgv()

	if cmd == DebugServer {
		p.logServer()
		return p.exec.Call(ctx, server)
	}

	if err := p.clientPreconditions(cmd); err != nil {
		return err
	}
	client := p.clientArgv(cmd)

	p.logServer()
	probe := runner.TCPProbe(net.JoinHostPort("localhost", strconv.Itoa(p.gdbPort)))
	return p.exec.RunServerAndClient(ctx, server, client, probe)
}

func (p *pyocd) logServer() {
	p.log.Info().Msgf("pyOCD GDB server running on port %d", p.gdbPort)
}
