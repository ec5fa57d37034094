// Package config handles atomhost.toml configuration files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/caffeineduck/atomhost/hostfunc"
	"github.com/caffeineduck/atomhost/observe"
	"github.com/caffeineduck/atomhost/vm"
)

// FileName is the name FindAndLoad looks for.
const FileName = "atomhost.toml"

// Config is the contents of an atomhost.toml file.
type Config struct {
	VM     vm.Config    `toml:"vm"`
	Host   HostConfig   `toml:"host"`
	Pool   PoolConfig   `toml:"pool"`
	Server ServerConfig `toml:"server"`
	Log    LogConfig    `toml:"log"`
	KV     KVConfig     `toml:"kv"`
	// Modules are loaded at startup. Relative paths are resolved against Dir.
	Modules []string `toml:"modules"`

	// Dir is the directory containing the file (set at load time).
	Dir string `toml:"-"`
}

// HostConfig configures each runtime host.
type HostConfig struct {
	CallTimeout time.Duration `toml:"call_timeout"`
	EventLimit  int           `toml:"event_limit"`
	Health      HealthConfig  `toml:"health"`
}

// HealthConfig mirrors observe.Thresholds.
type HealthConfig struct {
	DegradedErrorRate float64       `toml:"degraded_error_rate"`
	CriticalErrorRate float64       `toml:"critical_error_rate"`
	MaxLatency        time.Duration `toml:"max_latency"`
	Window            int           `toml:"window"`
}

// Thresholds converts the section to observe.Thresholds.
func (c HealthConfig) Thresholds() observe.Thresholds {
	return observe.Thresholds{
		DegradedErrorRate: c.DegradedErrorRate,
		CriticalErrorRate: c.CriticalErrorRate,
		MaxLatency:        c.MaxLatency,
		Window:            c.Window,
	}
}

// PoolConfig configures the host pool used by the server.
type PoolConfig struct {
	Size int `toml:"size"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr        string `toml:"addr"`
	MaxBodySize int64  `toml:"max_body_size"`
}

// LogConfig configures logging and log file rotation.
type LogConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
	File        string `toml:"file"`
	MaxSizeMB   int    `toml:"max_size_mb"`
	MaxBackups  int    `toml:"max_backups"`
	MaxAgeDays  int    `toml:"max_age_days"`
}

// KVConfig enables the key-value native functions.
type KVConfig struct {
	Enabled      bool `toml:"enabled"`
	MaxKeySize   int  `toml:"max_key_size"`
	MaxValueSize int  `toml:"max_value_size"`
	MaxEntries   int  `toml:"max_entries"`
}

// Options converts the section to hostfunc KV options. Zero fields keep
// their defaults.
func (c KVConfig) Options() []hostfunc.KVOption {
	var opts []hostfunc.KVOption
	if c.MaxKeySize > 0 {
		opts = append(opts, hostfunc.WithMaxKeySize(c.MaxKeySize))
	}
	if c.MaxValueSize > 0 {
		opts = append(opts, hostfunc.WithMaxValueSize(c.MaxValueSize))
	}
	if c.MaxEntries > 0 {
		opts = append(opts, hostfunc.WithMaxEntries(c.MaxEntries))
	}
	return opts
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		VM: vm.DefaultConfig(),
		Host: HostConfig{
			CallTimeout: 30 * time.Second,
			EventLimit:  observe.DefaultEventLimit,
		},
		Pool:   PoolConfig{Size: 4},
		Server: ServerConfig{Addr: ":8080", MaxBodySize: 1 << 20},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load parses the file at path over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %s", path, undecoded[0])
	}

	c.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find atomhost.toml. It returns the
// defaults when no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}
	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.VM.Validate(); err != nil {
		return err
	}
	switch {
	case c.Host.CallTimeout < 0:
		return errors.New("host.call_timeout must not be negative")
	case c.Pool.Size < 1:
		return fmt.Errorf("pool.size %d below 1", c.Pool.Size)
	case c.Server.MaxBodySize < 0:
		return errors.New("server.max_body_size must not be negative")
	case c.Host.Health.CriticalErrorRate > 1 || c.Host.Health.DegradedErrorRate > 1:
		return errors.New("host.health error rates must be at most 1")
	}
	return nil
}

// ModulePaths returns the configured modules as absolute paths.
func (c *Config) ModulePaths() []string {
	paths := make([]string, len(c.Modules))
	for i, m := range c.Modules {
		if filepath.IsAbs(m) || c.Dir == "" {
			paths[i] = m
		} else {
			paths[i] = filepath.Join(c.Dir, m)
		}
	}
	return paths
}

// DefaultCacheDir is where the compilation cache lives when enabled
// without a directory.
func DefaultCacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "atomhost")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "atomhost")
	}
	return filepath.Join(os.TempDir(), "atomhost-cache")
}
