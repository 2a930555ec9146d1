// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import "time"

// Status is the lifecycle status of a session as reported by the server.
type Status string

// Session statuses.
const (
	StatusUninitialized Status = "uninitialized"
	StatusStarting      Status = "starting"
	StatusReady         Status = "ready"
	StatusIdle          Status = "idle"
	StatusBusy          Status = "busy"
	StatusOffline       Status = "offline"
	StatusExited        Status = "exited"
)

// Running reports whether a session in this status is still usable.
func (s Status) Running() bool {
	return s != StatusExited && s != StatusUninitialized
}

// ServerStatus is the server's self-reported status.
type ServerStatus struct {
	Version     string    `json:"version"`
	Sessions    int       `json:"sessions"`
	Active      int       `json:"active"`
	Busy        bool      `json:"busy"`
	IdleSeconds int64     `json:"idle_seconds"`
	BusySeconds int64     `json:"busy_seconds"`
	ProcessID   int       `json:"process_id"`
	Started     time.Time `json:"started"`
}

// ClientHeartbeat tells the server a client process is still attached.
type ClientHeartbeat struct {
	ProcessID int `json:"process_id"`
}

// ServerConfiguration is the mutable server configuration.
type ServerConfiguration struct {
	// IdleShutdownHours is the number of idle hours before the server exits.
	// 0 exits shortly after the last session goes idle; -1 never exits.
	IdleShutdownHours int    `json:"idle_shutdown_hours"`
	LogLevel          string `json:"log_level,omitempty"`
}

// NewSession is the request body for creating a session.
type NewSession struct {
	SessionID          string            `json:"session_id"`
	DisplayName        string            `json:"display_name"`
	Language           string            `json:"language"`
	Username           string            `json:"username"`
	InputPrompt        string            `json:"input_prompt"`
	ContinuationPrompt string            `json:"continuation_prompt"`
	Argv               []string          `json:"argv"`
	WorkingDirectory   string            `json:"working_directory"`
	Env                map[string]string `json:"env,omitempty"`
	InterruptMode      string            `json:"interrupt_mode,omitempty"`
}

// NewSessionResponse is returned when a session is created.
type NewSessionResponse struct {
	SessionID string `json:"session_id"`
}

// ActiveSession describes a session hosted by the server.
type ActiveSession struct {
	SessionID          string    `json:"session_id"`
	Argv               []string  `json:"argv"`
	ProcessID          int       `json:"process_id,omitempty"`
	Username           string    `json:"username"`
	DisplayName        string    `json:"display_name"`
	Language           string    `json:"language"`
	InterruptMode      string    `json:"interrupt_mode,omitempty"`
	WorkingDirectory   string    `json:"working_directory"`
	InputPrompt        string    `json:"input_prompt"`
	ContinuationPrompt string    `json:"continuation_prompt"`
	Status             Status    `json:"status"`
	Connected          bool      `json:"connected"`
	Started            time.Time `json:"started"`
	IdleSeconds        int64     `json:"idle_seconds"`
	BusySeconds        int64     `json:"busy_seconds"`
}

// SessionList is the response to a session listing.
type SessionList struct {
	Total    int             `json:"total"`
	Sessions []ActiveSession `json:"sessions"`
}
