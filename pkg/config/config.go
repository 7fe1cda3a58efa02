// Package config provides configuration loading, validation, and persistence for shaderx.
//
// Settings live in <projectDir>/.shaderx/config.json. The file is plain JSON with ${VAR}
// placeholders resolved from the environment, and any field can be overridden by a
// SHADERX_<PATH> variable (for example SHADERX_METRICS_ENABLED=true). A .env file in the
// project directory is loaded before the environment is read.
//
// Only user-facing settings belong here. Session state such as compile history is kept in
// the history database, never in config.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/alister-chowdhury/shader-explorer/pkg/logx"
	"github.com/alister-chowdhury/shader-explorer/pkg/rga"
	"github.com/alister-chowdhury/shader-explorer/pkg/toolreg"
)

// Project config constants.
const (
	ProjectConfigDir      = ".shaderx"
	ProjectConfigFilename = "config.json"
	SchemaVersion         = "1.0"
	EnvPrefix             = "SHADERX_"
)

// Defaults applied to missing fields.
const (
	DefaultOutputDir          = "shaderx-out"
	DefaultTarget             = "gfx1030"
	DefaultHistoryDB          = "history.db"
	HistoryDisabled           = "none"
	DefaultDiscoveryCacheSize = 4
)

// MetricsConfig defines configuration for metrics collection.
type MetricsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"` // Whether tool runs are recorded and dumped after each command
}

// DebugConfig defines configuration for debug logging.
type DebugConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"` // Enable debug output
	Domains []string `json:"domains" yaml:"domains"` // Restrict debug output to these domains; empty means all
}

// Config is the complete shaderx configuration.
type Config struct {
	SchemaVersion string `json:"schema_version" yaml:"schema_version"`

	OutputDir     string `json:"output_dir" yaml:"output_dir"`         // Where stable artifacts are written
	DefaultTarget string `json:"default_target" yaml:"default_target"` // Target used when -target is omitted
	Online        bool   `json:"online" yaml:"online"`                 // Compile through the installed driver by default

	Tools map[string]string `json:"tools" yaml:"tools"` // Tool name to explicit executable path

	HistoryDB          string `json:"history_db" yaml:"history_db"`                     // Journal path, relative to .shaderx; "none" disables
	DiscoveryCacheSize int    `json:"discovery_cache_size" yaml:"discovery_cache_size"` // Number of discovery results kept per process

	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
	Debug   DebugConfig   `json:"debug" yaml:"debug"`

	projectDir string
}

var logger = logx.NewLogger("config")

// Path returns the config file location for projectDir.
func Path(projectDir string) string {
	return filepath.Join(projectDir, ProjectConfigDir, ProjectConfigFilename)
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// ProjectDir is the directory the config was loaded for.
func (c *Config) ProjectDir() string {
	return c.projectDir
}

// HistoryPath resolves HistoryDB against the project's .shaderx directory.
// HistoryDisabled yields "".
func (c *Config) HistoryPath() string {
	if c.HistoryDB == HistoryDisabled {
		return ""
	}
	if c.HistoryDB == ":memory:" || filepath.IsAbs(c.HistoryDB) {
		return c.HistoryDB
	}
	return filepath.Join(c.projectDir, ProjectConfigDir, c.HistoryDB)
}

// ResolvedOutputDir resolves OutputDir against the project directory.
func (c *Config) ResolvedOutputDir() string {
	if filepath.IsAbs(c.OutputDir) {
		return c.OutputDir
	}
	return filepath.Join(c.projectDir, c.OutputDir)
}

// Mode returns the default compile mode.
func (c *Config) Mode() rga.Mode {
	if c.Online {
		return rga.ModeOnline
	}
	return rga.ModeOffline
}

// ToolOptions returns toolreg options honouring the configured tool paths.
func (c *Config) ToolOptions() toolreg.Options {
	opts := toolreg.DefaultOptions()
	if len(c.Tools) > 0 {
		opts.Explicit = make(map[string]string, len(c.Tools))
		for name, path := range c.Tools {
			opts.Explicit[name] = path
		}
	}
	return opts
}

// ApplyDebug pushes the debug settings into logx.
func (c *Config) ApplyDebug() {
	if !c.Debug.Enabled {
		return
	}
	logx.SetDebugConfig(true, false, "")
	logx.SetDebugDomains(c.Debug.Domains)
}

// Save writes cfg to <projectDir>/.shaderx/config.json.
func Save(cfg *Config, projectDir string) error {
	configPath := Path(projectDir)

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// applyDefaults sets default values for missing configuration.
func applyDefaults(cfg *Config) {
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SchemaVersion
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = DefaultOutputDir
	}
	if cfg.DefaultTarget == "" {
		cfg.DefaultTarget = DefaultTarget
	}
	if cfg.HistoryDB == "" {
		cfg.HistoryDB = DefaultHistoryDB
	}
	if cfg.DiscoveryCacheSize <= 0 {
		cfg.DiscoveryCacheSize = DefaultDiscoveryCacheSize
	}
	if cfg.Tools == nil {
		cfg.Tools = map[string]string{}
	}
}

func validateConfig(cfg *Config) error {
	if cfg.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported schema_version %q (want %q)", cfg.SchemaVersion, SchemaVersion)
	}
	if strings.TrimSpace(cfg.DefaultTarget) == "" {
		return fmt.Errorf("default_target must not be blank")
	}

	known := make(map[string]bool)
	for _, spec := range toolreg.DefaultSpecs() {
		known[spec.Name] = true
	}
	for name, path := range cfg.Tools {
		if !known[name] {
			return fmt.Errorf("tools: unknown tool %q", name)
		}
		if strings.TrimSpace(path) == "" {
			return fmt.Errorf("tools: empty path for %q", name)
		}
	}

	for _, domain := range cfg.Debug.Domains {
		if strings.TrimSpace(domain) == "" {
			return fmt.Errorf("debug.domains must not contain blank entries")
		}
	}
	return nil
}
