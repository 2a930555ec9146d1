// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config handles configuration loading, environment overrides and
// path template expansion.
package config

import (
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	Supervisor SupervisorConfig `json:"supervisor"`
	API        APIConfig        `json:"api"`
	Logging    LoggingConfig    `json:"logging"`
	State      StateConfig      `json:"state"`
	Events     EventsConfig     `json:"events"`
	Watch      WatchConfig      `json:"watch"`
}

// SupervisorConfig controls how the supervisor server is launched and kept
// alive.
type SupervisorConfig struct {
	LogLevel          string   `json:"log_level"`
	ShowTerminal      bool     `json:"show_terminal"`
	ShutdownTimeout   string   `json:"shutdown_timeout"` // immediately, when idle, indefinitely, or hours
	HostMode          string   `json:"host_mode"`        // desktop or web
	ConnectionFile    string   `json:"connection_file"`
	BinaryName        string   `json:"binary_name"`
	DevRoots          []string `json:"dev_roots"`
	BundledPath       string   `json:"bundled_path"`
	ExpectedVersion   string   `json:"expected_version"`
	HeartbeatInterval string   `json:"heartbeat_interval"`
	StartupTimeout    string   `json:"startup_timeout"`
	PollInterval      string   `json:"poll_interval"`
	ReconnectTimeout  string   `json:"reconnect_timeout"`
	LivenessProbe     string   `json:"liveness_probe"` // signal or table
	TempDir           string   `json:"temp_dir"`
	FilePrefix        string   `json:"file_prefix"`
	OutputLines       int      `json:"output_lines"`
}

// APIConfig configures the local HTTP API.
type APIConfig struct {
	Listen  string `json:"listen"`
	TLSCert string `json:"tls_cert,omitempty"`
	TLSKey  string `json:"tls_key,omitempty"`
}

// LoggingConfig configures the client's own log output.
type LoggingConfig struct {
	Level  string   `json:"level"`
	Format string   `json:"format"` // json or console
	Output []string `json:"output"`
}

// StateConfig locates the per-workspace state database.
type StateConfig struct {
	Path      string `json:"path"`
	Workspace string `json:"workspace"`
}

// EventsConfig configures the event bus history.
type EventsConfig struct {
	HistoryMaxEvents int    `json:"history_max_events"`
	HistoryMaxAge    string `json:"history_max_age"`
}

// WatchConfig configures config-file watching.
type WatchConfig struct {
	Enabled  *bool  `json:"enabled"`
	Debounce string `json:"debounce"`
}

// Host modes.
const (
	HostDesktop = "desktop"
	HostWeb     = "web"
)

// IsWeb reports whether the client runs in web (multi-user) mode.
func (s *SupervisorConfig) IsWeb() bool {
	return s.HostMode == HostWeb
}

// IdleShutdownHours converts the shutdown_timeout setting to the server's
// idle_shutdown_hours value. Unrecognized values fall back to -1 and set ok
// to false.
func (s *SupervisorConfig) IdleShutdownHours() (hours int, ok bool) {
	if s.IsWeb() {
		return -1, true
	}
	switch v := strings.TrimSpace(s.ShutdownTimeout); v {
	case "immediately":
		return 1, true
	case "when idle":
		return 0, true
	case "indefinitely":
		return -1, true
	default:
		n, err := strconv.Atoi(v)
		if err != nil {
			return -1, false
		}
		return n, true
	}
}

// Persistent reports whether the server should outlive this client.
func (s *SupervisorConfig) Persistent() bool {
	return s.ShutdownTimeout != "immediately"
}

// IsEnabled reports whether config watching is on. The default is on.
func (w *WatchConfig) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

// ParseDuration parses a duration string, returning a default if empty or
// invalid. A "d" suffix is read as days.
func ParseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := parseDurationWithDays(s)
	if err != nil {
		return defaultVal
	}
	return d
}

func parseDurationWithDays(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		if days, err := strconv.Atoi(strings.TrimSuffix(s, "d")); err == nil {
			return time.Duration(days) * 24 * time.Hour, nil
		}
	}
	return time.ParseDuration(s)
}
