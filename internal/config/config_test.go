package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Buffer.Capacity != 1000 {
		t.Errorf("Buffer.Capacity = %d, want 1000", cfg.Buffer.Capacity)
	}
	if cfg.Buffer.DownsampleInterval != 1 {
		t.Errorf("Buffer.DownsampleInterval = %d, want 1", cfg.Buffer.DownsampleInterval)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
	if cfg.Engine.Provider != "mesa" {
		t.Errorf("Engine.Provider = %q, want mesa", cfg.Engine.Provider)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yamlContent := `
engine:
  command: python3
  args: ["sidecar/main.py"]
  provider: mock
buffer:
  capacity: 250
  downsample_interval: 5
archive:
  path: /tmp/snapshots.db
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(yamlContent), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error: %v", err)
	}

	if cfg.Engine.Command != "python3" {
		t.Errorf("Engine.Command = %q, want python3", cfg.Engine.Command)
	}
	if len(cfg.Engine.Args) != 1 || cfg.Engine.Args[0] != "sidecar/main.py" {
		t.Errorf("Engine.Args = %v, want [sidecar/main.py]", cfg.Engine.Args)
	}
	if cfg.Engine.Provider != "mock" {
		t.Errorf("Engine.Provider = %q, want mock", cfg.Engine.Provider)
	}
	if cfg.Buffer.Capacity != 250 {
		t.Errorf("Buffer.Capacity = %d, want 250", cfg.Buffer.Capacity)
	}
	if cfg.Buffer.DownsampleInterval != 5 {
		t.Errorf("Buffer.DownsampleInterval = %d, want 5", cfg.Buffer.DownsampleInterval)
	}
	if cfg.Archive.Path != "/tmp/snapshots.db" {
		t.Errorf("Archive.Path = %q, want /tmp/snapshots.db", cfg.Archive.Path)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadFromFile_PartialKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(path, []byte("engine:\n  command: mock-engine\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error: %v", err)
	}

	if cfg.Engine.Command != "mock-engine" {
		t.Errorf("Engine.Command = %q, want mock-engine", cfg.Engine.Command)
	}
	if cfg.Buffer.Capacity != 1000 {
		t.Errorf("Buffer.Capacity = %d, want default 1000", cfg.Buffer.Capacity)
	}
}

func TestLoadFromFile_Malformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(path, []byte("engine: [not a mapping"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFromFile(path); err == nil {
		t.Fatal("LoadFromFile() = nil error for malformed YAML")
	}
}

func TestClientConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ClientConfig)
		wantErr string
	}{
		{
			name:    "no engine target",
			mutate:  func(c *ClientConfig) { c.Engine.Command = ""; c.Engine.Addr = "" },
			wantErr: "engine.command or engine.addr",
		},
		{
			name:    "zero capacity",
			mutate:  func(c *ClientConfig) { c.Buffer.Capacity = 0 },
			wantErr: "buffer.capacity",
		},
		{
			name:    "zero downsample",
			mutate:  func(c *ClientConfig) { c.Buffer.DownsampleInterval = 0 },
			wantErr: "downsample_interval",
		},
		{
			name:    "bad log level",
			mutate:  func(c *ClientConfig) { c.Logging.Level = "verbose" },
			wantErr: "log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Engine.Command = "mock-engine"
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q missing %q", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("SIMDASH_ENGINE_COMMAND", "engine-bin")
	t.Setenv("SIMDASH_LOG_LEVEL", "trace")
	t.Setenv("SIMDASH_BUFFER_CAPACITY", "42")

	cfg := Default()
	applyEnvOverrides(cfg)

	if cfg.Engine.Command != "engine-bin" {
		t.Errorf("Engine.Command = %q, want engine-bin", cfg.Engine.Command)
	}
	if cfg.Logging.Level != "trace" {
		t.Errorf("Logging.Level = %q, want trace", cfg.Logging.Level)
	}
	if cfg.Buffer.Capacity != 42 {
		t.Errorf("Buffer.Capacity = %d, want 42", cfg.Buffer.Capacity)
	}
}
