// Package config provides configuration for simdash.
// It covers two distinct concerns: the client's own settings (engine
// command, buffer sizing, logging) loaded from YAML and environment
// variables, and the engine Configuration payload that is validated at
// the session boundary before it is ever put on the wire.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ClientConfig contains all simdash client settings.
type ClientConfig struct {
	// Engine contains settings for launching or reaching the engine process.
	Engine EngineProcessConfig `json:"engine" yaml:"engine"`

	// Buffer contains snapshot ring buffer settings.
	Buffer BufferConfig `json:"buffer" yaml:"buffer"`

	// Archive contains snapshot archive settings.
	Archive ArchiveConfig `json:"archive" yaml:"archive"`

	// Logging contains settings for operational and trace logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// EngineProcessConfig describes how to reach the external engine.
// Exactly one of Command or Addr should be set: Command spawns a child
// process speaking the protocol on stdio, Addr dials a TCP endpoint.
type EngineProcessConfig struct {
	// Command is the engine executable to spawn (e.g. "python3").
	Command string `json:"command,omitempty" yaml:"command,omitempty"`

	// Args are passed to Command (e.g. the sidecar script path).
	Args []string `json:"args,omitempty" yaml:"args,omitempty"`

	// Addr is a TCP address of an already-running engine ("host:port").
	// When set, Command is ignored.
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`

	// Provider selects the engine backend named in the init request.
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty"`
}

// BufferConfig configures the snapshot ring buffer.
type BufferConfig struct {
	// Capacity is the maximum number of snapshots kept in memory.
	Capacity int `json:"capacity" yaml:"capacity"`

	// DownsampleInterval keeps every Nth snapshot (1 = keep all).
	DownsampleInterval int `json:"downsample_interval" yaml:"downsample_interval"`
}

// ArchiveConfig configures the SQLite snapshot archive.
type ArchiveConfig struct {
	// Path is the SQLite database file. Empty disables archiving.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// LoggingConfig configures simdash's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables session tracing to the trace directory.
	// "trace" additionally includes raw protocol lines.
	Level string `json:"level" yaml:"level"`

	// TraceDir is where session.jsonl is written at debug/trace level.
	TraceDir string `json:"trace_dir,omitempty" yaml:"trace_dir,omitempty"`
}

// Default returns a ClientConfig with sensible defaults.
func Default() *ClientConfig {
	return &ClientConfig{
		Engine: EngineProcessConfig{
			Provider: "mesa",
		},
		Buffer: BufferConfig{
			Capacity:           1000,
			DownsampleInterval: 1,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> ~/.simdash/config.yaml -> environment variables.
func Load() (*ClientConfig, error) {
	cfg := Default()

	homeDir, err := os.UserHomeDir()
	if err == nil {
		configPath := filepath.Join(homeDir, ".simdash", "config.yaml")
		if _, statErr := os.Stat(configPath); statErr == nil {
			fileCfg, loadErr := LoadFromFile(configPath)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			cfg = fileCfg
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadFromFile loads configuration from a specific YAML file.
func LoadFromFile(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// Validate checks that the client configuration is usable.
func (c *ClientConfig) Validate() error {
	if c.Engine.Command == "" && c.Engine.Addr == "" {
		return fmt.Errorf("engine.command or engine.addr must be set")
	}

	if c.Buffer.Capacity < 1 {
		return fmt.Errorf("buffer.capacity must be positive, got %d", c.Buffer.Capacity)
	}

	if c.Buffer.DownsampleInterval < 1 {
		return fmt.Errorf("buffer.downsample_interval must be >= 1, got %d", c.Buffer.DownsampleInterval)
	}

	validLevels := map[string]bool{"": true, "info": true, "debug": true, "trace": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(cfg *ClientConfig) {
	if v := os.Getenv("SIMDASH_ENGINE_COMMAND"); v != "" {
		cfg.Engine.Command = v
	}
	if v := os.Getenv("SIMDASH_ENGINE_ADDR"); v != "" {
		cfg.Engine.Addr = v
	}
	if v := os.Getenv("SIMDASH_ENGINE_PROVIDER"); v != "" {
		cfg.Engine.Provider = v
	}
	if v := os.Getenv("SIMDASH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SIMDASH_BUFFER_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Buffer.Capacity = n
		}
	}
}
