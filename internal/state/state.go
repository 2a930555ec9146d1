// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package state persists the connection details of a running supervisor
// server so a later client can reconnect to it.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	kserrors "github.com/wingedpig/kernelsup/internal/errors"
)

// Key is the workspace key the server state is stored under.
const Key = "kernelsup.v1"

// ServerState describes a running server. The same shape is used for the
// connection file the server writes at startup.
type ServerState struct {
	// Port is the port the server is listening on, e.g. 8182.
	Port int `json:"port"`

	// BasePath is the full base URL of the API, e.g. http://127.0.0.1:8182/.
	BasePath string `json:"base_path"`

	// ServerPath is the path to the server binary.
	ServerPath string `json:"server_path"`

	// ServerPID is the process id of the server. Zero means unknown.
	ServerPID int `json:"server_pid"`

	// BearerToken authenticates requests to the server.
	BearerToken string `json:"bearer_token"`

	// LogPath is the server's log file.
	LogPath string `json:"log_path"`
}

// Validate reports whether the state has enough information to connect.
func (s *ServerState) Validate() error {
	if s.BasePath == "" {
		return fmt.Errorf("missing base_path")
	}
	return nil
}

// ReadConnectionFile reads and parses a connection file written by the
// server.
func ReadConnectionFile(path string) (*ServerState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, kserrors.Newf(kserrors.CodeStateCorrupt, "connection file %s is empty", path)
	}
	var st ServerState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, kserrors.Wrap(kserrors.CodeStateCorrupt, fmt.Sprintf("connection file %s is invalid", path), err)
	}
	if err := st.Validate(); err != nil {
		return nil, kserrors.Wrap(kserrors.CodeStateCorrupt, fmt.Sprintf("connection file %s is invalid", path), err)
	}
	return &st, nil
}

// Store reads and writes the ServerState record in a workspace KV.
type Store struct {
	kv KV
}

// NewStore creates a store backed by kv.
func NewStore(kv KV) *Store {
	return &Store{kv: kv}
}

// Load returns the persisted state, or nil if none is stored.
func (s *Store) Load(ctx context.Context) (*ServerState, error) {
	data, ok, err := s.kv.Get(ctx, Key)
	if err != nil {
		return nil, kserrors.Wrap(kserrors.CodeStateFailed, "loading server state", err)
	}
	if !ok {
		return nil, nil
	}
	var st ServerState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, kserrors.Wrap(kserrors.CodeStateCorrupt, "decoding server state", err)
	}
	return &st, nil
}

// Save persists st, replacing any previous record.
func (s *Store) Save(ctx context.Context, st *ServerState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return kserrors.Wrap(kserrors.CodeStateFailed, "encoding server state", err)
	}
	if err := s.kv.Set(ctx, Key, data); err != nil {
		return kserrors.Wrap(kserrors.CodeStateFailed, "saving server state", err)
	}
	return nil
}

// Clear removes the persisted state.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, Key); err != nil {
		return kserrors.Wrap(kserrors.CodeStateFailed, "clearing server state", err)
	}
	return nil
}
