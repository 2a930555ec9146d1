// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package session implements the client-side handle for one compute session
// hosted by the supervisor server.
package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// State is the connection state of a session handle.
type State int

const (
	StateUnconnected State = iota
	StateConnected
	StateDisconnected
	StateExited
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for _, st := range []State{StateUnconnected, StateConnected, StateDisconnected, StateExited} {
		if st.String() == name {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", name)
}

// DisconnectReason explains why a session's event stream closed.
type DisconnectReason int

const (
	// ReasonUnknown means the stream dropped without an explicit reason.
	ReasonUnknown DisconnectReason = iota
	// ReasonTransferred means another client took over the session.
	ReasonTransferred
	// ReasonShutdown means the server closed the stream normally.
	ReasonShutdown
)

// String returns the string representation of the reason.
func (r DisconnectReason) String() string {
	switch r {
	case ReasonTransferred:
		return "transferred"
	case ReasonShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler.
func (r DisconnectReason) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// CloseTransferred is the WebSocket close code the server sends when another
// client connects to the same session.
const CloseTransferred = 4001

// DisconnectedEvent is delivered once per physical disconnect.
type DisconnectedEvent struct {
	SessionID string           `json:"session_id"`
	Reason    DisconnectReason `json:"reason"`
	State     State            `json:"state"` // state before the disconnect
	Err       string           `json:"error,omitempty"`
	Time      time.Time        `json:"time"`
}

// ExitReason describes why a session exited.
type ExitReason string

const (
	ExitError    ExitReason = "error"
	ExitShutdown ExitReason = "shutdown"
)

// Exit records how a session ended.
type Exit struct {
	Code   int        `json:"code"`
	Reason ExitReason `json:"reason"`
	Time   time.Time  `json:"time"`
}

// Metadata identifies a session.
type Metadata struct {
	SessionID        string `json:"session_id"`
	SessionName      string `json:"session_name,omitempty"`
	SessionMode      string `json:"session_mode,omitempty"`
	WorkingDirectory string `json:"working_directory,omitempty"`
	Username         string `json:"username,omitempty"`
}

// RuntimeMetadata describes the language runtime behind a session.
type RuntimeMetadata struct {
	RuntimeID       string `json:"runtime_id"`
	RuntimeName     string `json:"runtime_name,omitempty"`
	LanguageName    string `json:"language_name"`
	LanguageVersion string `json:"language_version,omitempty"`
}

// DynState is the session state that changes while it runs.
type DynState struct {
	SessionName        string `json:"session_name,omitempty"`
	InputPrompt        string `json:"input_prompt"`
	ContinuationPrompt string `json:"continuation_prompt"`
}

// KernelSpec describes how the server should start the kernel.
type KernelSpec struct {
	Argv          []string          `json:"argv"`
	DisplayName   string            `json:"display_name"`
	Language      string            `json:"language"`
	Env           map[string]string `json:"env,omitempty"`
	InterruptMode string            `json:"interrupt_mode,omitempty"`
}

// Info is a snapshot of a handle for reporting.
type Info struct {
	Metadata Metadata        `json:"metadata"`
	Runtime  RuntimeMetadata `json:"runtime"`
	Dyn      DynState        `json:"dyn_state"`
	State    State           `json:"state"`
	Exit     *Exit           `json:"exit,omitempty"`
	Offline  string          `json:"offline_reason,omitempty"`
}
