package runners

import (
	"flag"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// OptionKind selects how an option value is parsed.
type OptionKind int

const (
	StringOption OptionKind = iota
	BoolOption
	IntOption
	UintOption // decimal, or 0x/0o/0b prefixed
	ListOption // repeatable, values accumulate
)

// Option declares one command-line option of a runner.
type Option struct {
	Name     string
	Kind     OptionKind
	Default  string
	Usage    string
	Required bool
}

// Option names shared by every runner.
const (
	OptElfFile   = "elf-file"
	OptHexFile   = "hex-file"
	OptBinFile   = "bin-file"
	OptDryRun    = "dry-run"
	OptFlashAddr = "flash-addr"
	OptErase     = "erase"
)

var commonOptions = []Option{
	{Name: OptElfFile, Usage: "override the ELF artifact from the build configuration"},
	{Name: OptHexFile, Usage: "override the Intel HEX artifact from the build configuration"},
	{Name: OptBinFile, Usage: "override the raw binary artifact from the build configuration"},
	{Name: OptDryRun, Kind: BoolOption, Usage: "print the commands that would run without running them"},
}

// gatedOptions are recognised for every runner but only accepted when the
// runner declares the matching capability.
var gatedOptions = []struct {
	Option
	supported func(Capabilities) bool
}{
	{
		Option{Name: OptFlashAddr, Kind: UintOption, Default: "0", Usage: "flash address override, e.g. 0x8000"},
		func(c Capabilities) bool { return c.FlashAddr },
	},
	{
		Option{Name: OptErase, Kind: BoolOption, Usage: "mass erase the device before flashing"},
		func(c Capabilities) bool { return c.Erase },
	},
}

func isReservedOption(name string) bool {
	for _, o := range commonOptions {
		if o.Name == name {
			return true
		}
	}
	for _, g := range gatedOptions {
		if g.Name == name {
			return true
		}
	}
	return false
}

// Parser parses the command line of one runner: the common options, the
// capability-gated options and the runner's own declarations.
type Parser struct {
	runner      string
	fs          *flag.FlagSet
	values      map[string]*optionValue
	unsupported []string
	required    []string
}

func newParser(reg Registration) *Parser {
	p := &Parser{
		runner: reg.Name,
		fs:     flag.NewFlagSet(reg.Name, flag.ContinueOnError),
		values: make(map[string]*optionValue),
	}
	for _, o := range commonOptions {
		p.add(o)
	}
	for _, g := range gatedOptions {
		o := g.Option
		if !g.supported(reg.Capabilities) {
			o.Usage += " (not supported by " + reg.Name + ")"
			p.unsupported = append(p.unsupported, o.Name)
		}
		p.add(o)
	}
	for _, o := range reg.Options {
		p.add(o)
	}
	return p
}

func (p *Parser) add(o Option) {
	v := &optionValue{kind: o.Kind, value: o.Default}
	p.values[o.Name] = v
	if o.Required {
		p.required = append(p.required, o.Name)
	}
	p.fs.Var(v, o.Name, o.Usage)
}

// FlagSet exposes the underlying flag set so callers can declare host
// options (build directory, verbosity) parsed in the same pass.
func (p *Parser) FlagSet() *flag.FlagSet { return p.fs }

// Parse parses argv and validates gating and required options.
func (p *Parser) Parse(argv []string) (*Args, error) {
	if err := p.fs.Parse(argv); err != nil {
		return nil, err
	}

	set := make(map[string]bool)
	p.fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	for _, name := range p.unsupported {
		if set[name] {
			return nil, fmt.Errorf("%w: --%s is not supported by runner %s", ErrUnsupportedOption, name, p.runner)
		}
	}
	for _, name := range p.required {
		if !set[name] {
			return nil, fmt.Errorf("%w: runner %s requires --%s", ErrMissingOption, p.runner, name)
		}
	}

	args := &Args{
		values: make(map[string]string, len(p.values)),
		lists:  make(map[string][]string),
		set:    set,
		rest:   p.fs.Args(),
	}
	for name, v := range p.values {
		if v.kind == ListOption {
			args.lists[name] = v.list
			continue
		}
		args.values[name] = v.value
	}
	return args, nil
}

// optionValue is the flag.Value behind every declared option. Values are
// validated on Set so Args accessors never fail.
type optionValue struct {
	kind  OptionKind
	value string
	list  []string
}

func (v *optionValue) String() string {
	if v.kind == ListOption {
		return strings.Join(v.list, ",")
	}
	return v.value
}

func (v *optionValue) Set(s string) error {
	switch v.kind {
	case BoolOption:
		if _, err := strconv.ParseBool(s); err != nil {
			return err
		}
	case IntOption:
		if _, err := strconv.Atoi(s); err != nil {
			return err
		}
	case UintOption:
		if _, err := strconv.ParseUint(s, 0, 64); err != nil {
			return err
		}
	case ListOption:
		v.list = append(v.list, s)
		return nil
	}
	v.value = s
	return nil
}

func (v *optionValue) IsBoolFlag() bool { return v.kind == BoolOption }

// Args is the transient result of parsing one runner command line. It is
// consumed once to construct a runner.
type Args struct {
	values map[string]string
	lists  map[string][]string
	set    map[string]bool
	rest   []string
}

// String returns the value of a string option, or its default.
func (a *Args) String(name string) string { return a.values[name] }

// Bool returns the value of a boolean option.
func (a *Args) Bool(name string) bool {
	b, _ := strconv.ParseBool(a.values[name])
	return b
}

// Int returns the value of an integer option.
func (a *Args) Int(name string) int {
	n, _ := strconv.Atoi(a.values[name])
	return n
}

// Uint returns the value of an unsigned option.
func (a *Args) Uint(name string) uint64 {
	n, _ := strconv.ParseUint(a.values[name], 0, 64)
	return n
}

// List returns every value given for a repeatable option, in order.
func (a *Args) List(name string) []string { return a.lists[name] }

// IsSet reports whether the option was given explicitly.
func (a *Args) IsSet(name string) bool { return a.set[name] }

// Rest returns the positional arguments left after the options.
func (a *Args) Rest() []string { return a.rest }

// SplitRunner extracts a -r/--runner selection from argv and returns the
// remaining arguments. Scanning stops at "--" and at the first positional
// argument, like the flag package: everything from there on is passed
// through untouched. A bare word after an option is read as that option's
// value unless the option is one of bools.
func SplitRunner(argv []string, bools ...string) (string, []string) {
	var name string
	rest := make([]string, 0, len(argv))
	value := false
	for i := 0; i < len(argv); i++ {
		arg := argv[i]
		if value {
			rest = append(rest, arg)
			value = false
			continue
		}
		if arg == "--" || !isFlagArg(arg) {
			rest = append(rest, argv[i:]...)
			break
		}
		switch {
		case arg == "-r" || arg == "--runner" || arg == "-runner":
			if i+1 < len(argv) {
				name = argv[i+1]
				i++
			}
		case strings.HasPrefix(arg, "-r="):
			name = strings.TrimPrefix(arg, "-r=")
		case strings.HasPrefix(arg, "--runner="):
			name = strings.TrimPrefix(arg, "--runner=")
		case strings.HasPrefix(arg, "-runner="):
			name = strings.TrimPrefix(arg, "-runner=")
		default:
			rest = append(rest, arg)
			key := strings.TrimLeft(arg, "-")
			value = !strings.Contains(key, "=") && !slices.Contains(bools, key)
		}
	}
	return name, rest
}

func isFlagArg(arg string) bool {
	return len(arg) > 1 && arg[0] == '-'
}
