package runners

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/deixis/flashkit/internal/config"
	"github.com/rs/zerolog"
)

// Deps are the collaborators handed to a runner constructor.
type Deps struct {
	Exec Executor
	Log  zerolog.Logger
}

// Registration binds a runner name to its capabilities, its own options and
// its constructor.
type Registration struct {
	Name         string
	Description  string
	Capabilities Capabilities
	Options      []Option
	New          func(cfg config.RunnerConfig, args *Args, deps Deps) (Backend, error)
}

// Registry maps runner names to registrations. Build one at startup and
// pass it to the dispatcher.
type Registry struct {
	items map[string]Registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{items: make(map[string]Registration)}
}

// NewBuiltinRegistry creates a registry holding every runner in this package.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	for _, reg := range []Registration{PyOCD(), MiscFlasher()} {
		if err := r.Register(reg); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a runner.
func (r *Registry) Register(reg Registration) error {
	name := strings.TrimSpace(reg.Name)
	if name == "" || name != reg.Name {
		return fmt.Errorf("invalid runner name %q", reg.Name)
	}
	if reg.New == nil {
		return fmt.Errorf("runner %s has no constructor", name)
	}
	if _, ok := r.items[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateRunner, name)
	}
	seen := make(map[string]bool, len(reg.Options))
	for _, o := range reg.Options {
		if o.Name == "" || seen[o.Name] || isReservedOption(o.Name) {
			return fmt.Errorf("runner %s: invalid or duplicate option %q", name, o.Name)
		}
		seen[o.Name] = true
	}
	r.items[name] = reg
	return nil
}

// Lookup returns the registration for name.
func (r *Registry) Lookup(name string) (Registration, error) {
	reg, ok := r.items[name]
	if !ok {
		return Registration{}, fmt.Errorf("%w: %q (available: %s)", ErrUnknownRunner, name, strings.Join(r.Names(), ", "))
	}
	return reg, nil
}

// Names returns the registered runner names in order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Registrations returns every registration ordered by name.
func (r *Registry) Registrations() []Registration {
	list := make([]Registration, 0, len(r.items))
	for _, name := range r.Names() {
		list = append(list, r.items[name])
	}
	return list
}

// BoolOptions returns the names of every boolean option any registered
// runner accepts.
func (r *Registry) BoolOptions() []string {
	var names []string
	for _, o := range commonOptions {
		if o.Kind == BoolOption {
			names = append(names, o.Name)
		}
	}
	for _, g := range gatedOptions {
		if g.Kind == BoolOption {
			names = append(names, g.Name)
		}
	}
	for _, reg := range r.Registrations() {
		for _, o := range reg.Options {
			if o.Kind == BoolOption && !slices.Contains(names, o.Name) {
				names = append(names, o.Name)
			}
		}
	}
	return names
}

// NewParser builds the command-line parser for runner name.
func (r *Registry) NewParser(name string) (*Parser, error) {
	reg, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	return newParser(reg), nil
}

// Create constructs runner name from cfg and args. Artifact overrides in
// args take precedence over cfg.
func (r *Registry) Create(name string, cfg config.RunnerConfig, args *Args, deps Deps) (Backend, error) {
	reg, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	cfg = cfg.Merge(config.RunnerConfig{
		ElfFile: args.String(OptElfFile),
		HexFile: args.String(OptHexFile),
		BinFile: args.String(OptBinFile),
	})
	return reg.New(cfg, args, deps)
}
