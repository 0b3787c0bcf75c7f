// Package config provides configuration loading and defaults for the panicmon
// demo harness.
//
// Configuration is loaded from a TOML file in the user's data directory. It
// describes the simulated workers the harness spawns, which of them to watch,
// and how to log. First run materializes an embedded default config so users
// have a file to edit.
package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
	"tools.zach/dev/panicmon/internal/atomicfile"
	"tools.zach/dev/panicmon/internal/paths"
)

// CurrentVersion is the config schema version this build reads and writes.
const CurrentVersion = 1

// DefaultTOML holds the raw bytes of config.default.toml, embedded at build
// time. [EnsureDefault] copies it to the data directory on first run.
//
//go:embed config.default.toml
var DefaultTOML []byte

// ///////////////////////////////////////////////
// Configuration Types
// ///////////////////////////////////////////////

// Config represents the top-level harness configuration.
type Config struct {
	// Version is the config schema version. See [CurrentVersion].
	Version int `toml:"version"`
	// Watch holds watch-list and timeout settings.
	Watch WatchConfig `toml:"watch"`
	// Log holds logging settings.
	Log LogConfig `toml:"log"`
	// Workers describes the simulated workers to spawn, in spawn order.
	Workers []WorkerConfig `toml:"workers"`
}

// WatchConfig holds watch-list and timeout settings.
type WatchConfig struct {
	// Pattern is a doublestar glob matched against worker names. Empty means
	// the harness watches the spawned workers by identity instead of by name.
	Pattern string `toml:"pattern"`
	// TimeoutMS bounds how long the harness waits for an abnormal
	// termination, in milliseconds.
	TimeoutMS int `toml:"timeout_ms"`
}

// Timeout returns the watch timeout as a [time.Duration].
func (w WatchConfig) Timeout() time.Duration {
	return time.Duration(w.TimeoutMS) * time.Millisecond
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error, fail).
	Level string `toml:"level"`
	// File is "stderr" or a file name inside the data directory.
	File string `toml:"file"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation.
	MaxSizeMB int `toml:"max_size_mb"`
}

// WorkerConfig describes one simulated worker: a named goroutine that sleeps
// for its lifetime and then either panics or returns normally.
type WorkerConfig struct {
	// Name is the worker's display name; must be unique and non-empty.
	Name string `toml:"name"`
	// LifetimeMS is how long the worker runs before terminating, in
	// milliseconds.
	LifetimeMS int `toml:"lifetime_ms"`
	// Panics selects abnormal termination.
	Panics bool `toml:"panics"`
	// Message is the panic value used when Panics is set; defaults to
	// "simulated crash".
	Message string `toml:"message,omitempty"`
}

// Lifetime returns the worker lifetime as a [time.Duration].
func (w WorkerConfig) Lifetime() time.Duration {
	return time.Duration(w.LifetimeMS) * time.Millisecond
}

// ///////////////////////////////////////////////
// Defaults
// ///////////////////////////////////////////////

// DefaultConfig returns the built-in configuration used when no config file
// exists. It mirrors the embedded config.default.toml.
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		Watch: WatchConfig{
			Pattern:   "",
			TimeoutMS: 2000,
		},
		Log: LogConfig{
			Level:     "info",
			File:      "stderr",
			MaxSizeMB: 5,
		},
		Workers: []WorkerConfig{
			{Name: "steady-worker", LifetimeMS: 100, Panics: false},
			{Name: "flaky-worker", LifetimeMS: 100, Panics: true, Message: "simulated crash"},
		},
	}
}

// EnsureDefault writes the embedded default config into dataDir if no config
// file exists there yet. The data directory must already exist.
func EnsureDefault(dataDir string) error {
	path := filepath.Join(dataDir, paths.ConfigFile)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}
	if err := atomicfile.Write(path, DefaultTOML, 0o644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}

// ///////////////////////////////////////////////
// Load / Save
// ///////////////////////////////////////////////

// Load reads and validates the config file in dataDir. A missing file yields
// [DefaultConfig]. Unset fields fall back to defaults; a version newer than
// this build understands is an error.
func Load(dataDir string) (*Config, error) {
	path := filepath.Join(dataDir, paths.ConfigFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	cfg.Workers = nil // worker list is replaced, not merged
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Version > CurrentVersion {
		return nil, fmt.Errorf("config version %d is newer than supported version %d", cfg.Version, CurrentVersion)
	}
	cfg.Version = CurrentVersion

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Save writes the config to disk as TOML using atomic file write.
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return atomicfile.Write(path, buf.Bytes(), 0o644)
}

// ///////////////////////////////////////////////
// Validation
// ///////////////////////////////////////////////

// validLogLevels is the set of accepted log level strings.
var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true, "fail": true,
}

// Validate checks that all configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level %q: must be trace, debug, info, warn, error, or fail", c.Log.Level)
	}
	if c.Log.File == "" {
		return fmt.Errorf("log file must be %q or a file name", "stderr")
	}
	if c.Log.MaxSizeMB < 1 {
		return fmt.Errorf("log max_size_mb %d: must be at least 1", c.Log.MaxSizeMB)
	}
	if c.Watch.TimeoutMS < 1 {
		return fmt.Errorf("watch timeout_ms %d: must be at least 1", c.Watch.TimeoutMS)
	}
	if c.Watch.Pattern != "" && !doublestar.ValidatePattern(c.Watch.Pattern) {
		return fmt.Errorf("invalid watch pattern %q", c.Watch.Pattern)
	}

	seen := make(map[string]bool, len(c.Workers))
	for i, w := range c.Workers {
		if w.Name == "" {
			return fmt.Errorf("worker %d: name must not be empty", i)
		}
		if seen[w.Name] {
			return fmt.Errorf("worker %d: duplicate name %q", i, w.Name)
		}
		seen[w.Name] = true
		if w.LifetimeMS < 0 {
			return fmt.Errorf("worker %q: lifetime_ms must not be negative", w.Name)
		}
	}
	return nil
}
