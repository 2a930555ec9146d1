// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"
)

// Validator validates configuration.
type Validator struct{}

// NewValidator creates a new config validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidationError contains multiple validation failures.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single field validation error.
type FieldError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return strings.Join(msgs, "; ")
}

// IsEmpty returns true if there are no validation errors.
func (e *ValidationError) IsEmpty() bool {
	return len(e.Errors) == 0
}

// Add adds a field error.
func (e *ValidationError) Add(field, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: message})
}

var (
	serverLevels = []string{"error", "warn", "info", "debug", "trace"}
	clientLevels = []string{"debug", "info", "warn", "error"}
)

// Validate checks configuration validity. An unrecognized shutdown_timeout
// is not an error; it is reported at runtime and treated as "never".
func (v *Validator) Validate(cfg *Config) error {
	errs := &ValidationError{}

	s := cfg.Supervisor
	oneOf(errs, "supervisor.host_mode", s.HostMode, []string{HostDesktop, HostWeb})
	oneOf(errs, "supervisor.liveness_probe", s.LivenessProbe, []string{"signal", "table"})
	oneOf(errs, "supervisor.log_level", strings.ToLower(s.LogLevel), serverLevels)
	if s.BinaryName == "" {
		errs.Add("supervisor.binary_name", "is required")
	}
	if s.OutputLines < 0 {
		errs.Add("supervisor.output_lines", "must be positive")
	}

	oneOf(errs, "logging.level", strings.ToLower(cfg.Logging.Level), clientLevels)
	oneOf(errs, "logging.format", cfg.Logging.Format, []string{"json", "console"})

	if cfg.API.Listen == "" {
		errs.Add("api.listen", "is required")
	}
	if (cfg.API.TLSCert == "") != (cfg.API.TLSKey == "") {
		errs.Add("api.tls_cert", "tls_cert and tls_key must be set together")
	}

	durations := map[string]string{
		"supervisor.heartbeat_interval": s.HeartbeatInterval,
		"supervisor.startup_timeout":    s.StartupTimeout,
		"supervisor.poll_interval":      s.PollInterval,
		"supervisor.reconnect_timeout":  s.ReconnectTimeout,
		"events.history_max_age":        cfg.Events.HistoryMaxAge,
		"watch.debounce":                cfg.Watch.Debounce,
	}
	for field, val := range durations {
		if val == "" {
			continue
		}
		d, err := parseDurationWithDays(val)
		if err != nil {
			errs.Add(field, fmt.Sprintf("invalid duration format: %s", err))
		} else if d <= 0 {
			errs.Add(field, "must be positive")
		}
	}

	if errs.IsEmpty() {
		return nil
	}
	return errs
}

func oneOf(errs *ValidationError, field, value string, allowed []string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	errs.Add(field, fmt.Sprintf("must be one of %s (got %q)", strings.Join(allowed, ", "), value))
}
