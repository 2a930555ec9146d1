// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/hjson/hjson-go/v4"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "KERNELSUP"

// Loader handles configuration file loading.
type Loader struct{}

// NewLoader creates a new config loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads and parses the configuration file at path. The format is picked
// by extension: .toml, .yaml/.yml, otherwise HJSON (which accepts JSON).
func (l *Loader) Load(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var raw map[string]interface{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &raw); err != nil {
			return nil, fmt.Errorf("parse toml: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	default:
		if err := hjson.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse hjson: %w", err)
		}
	}

	// Round-trip through JSON so every format shares the json tags.
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert to json: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// LoadWithDefaults loads the file (if path is non-empty), applies defaults
// and environment overrides, expands path templates and validates.
func (l *Loader) LoadWithDefaults(ctx context.Context, path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		loaded, err := l.Load(ctx, path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := ExpandPaths(cfg, DefaultTemplateContext(cfg)); err != nil {
		return nil, err
	}
	if err := NewValidator().Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindConfig searches dir for a config file.
func (l *Loader) FindConfig(dir string) (string, error) {
	candidates := []string{"kernelsup.hjson", "kernelsup.json", "kernelsup.toml", "kernelsup.yaml", "kernelsup.yml"}
	for _, name := range candidates {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			if abs, err := filepath.Abs(path); err == nil {
				return abs, nil
			}
			return path, nil
		}
	}
	return "", fmt.Errorf("config file not found (looked for %s)", strings.Join(candidates, ", "))
}

// envOverrides are read from KERNELSUP_* variables.
type envOverrides struct {
	ConnectionFile  string `envconfig:"CONNECTION_FILE"`
	HostMode        string `envconfig:"HOST_MODE"`
	ShutdownTimeout string `envconfig:"SHUTDOWN_TIMEOUT"`
	LogLevel        string `envconfig:"LOG_LEVEL"`
	ShowTerminal    string `envconfig:"SHOW_TERMINAL"`
	Listen          string `envconfig:"LISTEN"`
	Workspace       string `envconfig:"WORKSPACE"`
}

// ApplyEnv overlays environment overrides onto cfg.
func ApplyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	if env.ConnectionFile != "" {
		cfg.Supervisor.ConnectionFile = env.ConnectionFile
	}
	if env.HostMode != "" {
		cfg.Supervisor.HostMode = env.HostMode
	}
	if env.ShutdownTimeout != "" {
		cfg.Supervisor.ShutdownTimeout = env.ShutdownTimeout
	}
	if env.LogLevel != "" {
		cfg.Supervisor.LogLevel = env.LogLevel
	}
	if env.ShowTerminal != "" {
		cfg.Supervisor.ShowTerminal = env.ShowTerminal == "1" || strings.EqualFold(env.ShowTerminal, "true")
	}
	if env.Listen != "" {
		cfg.API.Listen = env.Listen
	}
	if env.Workspace != "" {
		cfg.State.Workspace = env.Workspace
	}
	return nil
}

// applyDefaults sets default values for missing config fields.
func applyDefaults(cfg *Config) {
	s := &cfg.Supervisor
	if s.LogLevel == "" {
		s.LogLevel = "warn"
	}
	if s.ShutdownTimeout == "" {
		s.ShutdownTimeout = "immediately"
	}
	if s.HostMode == "" {
		s.HostMode = HostDesktop
	}
	if s.BinaryName == "" {
		s.BinaryName = "kcserver"
	}
	if s.HeartbeatInterval == "" {
		s.HeartbeatInterval = "20s"
	}
	if s.StartupTimeout == "" {
		s.StartupTimeout = "10s"
	}
	if s.PollInterval == "" {
		s.PollInterval = "100ms"
	}
	if s.ReconnectTimeout == "" {
		s.ReconnectTimeout = "2s"
	}
	if s.LivenessProbe == "" {
		s.LivenessProbe = "signal"
	}
	if s.TempDir == "" {
		s.TempDir = os.TempDir()
	}
	if s.FilePrefix == "" {
		s.FilePrefix = "kernelsup"
	}
	if s.OutputLines == 0 {
		s.OutputLines = 5000
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = "127.0.0.1:8765"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}

	if cfg.State.Path == "" {
		cfg.State.Path = "{{.Home}}/.kernelsup/state.db"
	}
	if cfg.State.Workspace == "" {
		cfg.State.Workspace = "{{.Cwd}}"
	}

	if cfg.Events.HistoryMaxEvents == 0 {
		cfg.Events.HistoryMaxEvents = 1000
	}
	if cfg.Events.HistoryMaxAge == "" {
		cfg.Events.HistoryMaxAge = "1h"
	}

	if cfg.Watch.Debounce == "" {
		cfg.Watch.Debounce = "250ms"
	}
}
