// Package config holds the build configuration handed to every runner and
// loads the optional .flashkit YAML or TOML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Default values for debug server lifecycle handling.
const (
	DefaultReadyTimeout = 0 // no readiness probe
	DefaultStopTimeout  = 5 * time.Second
)

// FileNames lists the config files recognised in a directory, in lookup order.
var FileNames = []string{".flashkit.yaml", ".flashkit.yml", ".flashkit.toml"}

// RunnerConfig is the read-only view of a completed build that every runner
// is constructed from. It is passed by value; runners never modify it.
type RunnerConfig struct {
	BoardDir string `yaml:"board_dir" toml:"board_dir" json:"board_dir,omitempty"`
	BuildDir string `yaml:"build_dir" toml:"build_dir" json:"build_dir,omitempty"`
	ElfFile  string `yaml:"elf_file" toml:"elf_file" json:"elf_file,omitempty"`
	HexFile  string `yaml:"hex_file" toml:"hex_file" json:"hex_file,omitempty"`
	BinFile  string `yaml:"bin_file" toml:"bin_file" json:"bin_file,omitempty"`
	GDB      string `yaml:"gdb" toml:"gdb" json:"gdb,omitempty"` // debugger client executable
	Board    string `yaml:"board" toml:"board" json:"board,omitempty"`
}

// Merge returns c with every non-empty field of o applied on top.
func (c RunnerConfig) Merge(o RunnerConfig) RunnerConfig {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.BoardDir, o.BoardDir)
	set(&c.BuildDir, o.BuildDir)
	set(&c.ElfFile, o.ElfFile)
	set(&c.HexFile, o.HexFile)
	set(&c.BinFile, o.BinFile)
	set(&c.GDB, o.GDB)
	set(&c.Board, o.Board)
	return c
}

// Resolve returns c with relative artifact paths joined to BuildDir.
func (c RunnerConfig) Resolve() RunnerConfig {
	if c.BuildDir == "" {
		return c
	}
	join := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(c.BuildDir, p)
	}
	c.ElfFile = join(c.ElfFile)
	c.HexFile = join(c.HexFile)
	c.BinFile = join(c.BinFile)
	return c
}

// Config holds the parsed .flashkit configuration.
// All fields are optional; zero values represent defaults.
type Config struct {
	FlashRunner string              `yaml:"flash_runner" toml:"flash_runner"`
	DebugRunner string              `yaml:"debug_runner" toml:"debug_runner"`
	Runner      RunnerConfig        `yaml:"runner" toml:"runner"`
	Args        map[string][]string `yaml:"args" toml:"args"` // default arguments per runner name
	Server      ServerConfig        `yaml:"server" toml:"server"`
}

// ServerConfig controls debug server lifecycle handling.
type ServerConfig struct {
	RawReadyTimeout string `yaml:"ready_timeout" toml:"ready_timeout"` // e.g. "3s"
	RawStopTimeout  string `yaml:"stop_timeout" toml:"stop_timeout"`
}

// ReadyTimeout returns the configured readiness probe timeout or the default.
func (c *Config) ReadyTimeout() time.Duration {
	return parseDuration(c.Server.RawReadyTimeout, DefaultReadyTimeout)
}

// StopTimeout returns the configured server stop grace period or the default.
func (c *Config) StopTimeout() time.Duration {
	return parseDuration(c.Server.RawStopTimeout, DefaultStopTimeout)
}

func parseDuration(raw string, def time.Duration) time.Duration {
	if raw != "" {
		d, err := time.ParseDuration(raw)
		if err == nil && d > 0 {
			return d
		}
	}
	return def
}

// DefaultRunner returns the configured runner for a command family:
// flash uses flash_runner, every other command uses debug_runner.
func (c *Config) DefaultRunner(command string) string {
	if command == "flash" {
		return c.FlashRunner
	}
	return c.DebugRunner
}

// RunnerArgs returns the default arguments configured for a runner.
func (c *Config) RunnerArgs(name string) []string {
	return c.Args[name]
}

// LoadResult holds the parsed config and where it was found.
type LoadResult struct {
	Config *Config
	Path   string // empty when no file was found
}

// Load searches dir and its parents for a .flashkit file. If none exists a
// default Config is returned.
func Load(dir string) (*LoadResult, error) {
	path, err := findConfig(dir)
	if err != nil {
		return &LoadResult{Config: &Config{}}, nil
	}
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return &LoadResult{Config: cfg, Path: path}, nil
}

// LoadFile parses one config file, choosing the decoder by extension.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}

	cfg := &Config{}
	switch filepath.Ext(path) {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
		}
	}
	return cfg, nil
}

// findConfig walks upward from dir looking for the first recognised file.
func findConfig(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		for _, name := range FileNames {
			path := filepath.Join(dir, name)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("config file not found")
		}
		dir = parent
	}
}
