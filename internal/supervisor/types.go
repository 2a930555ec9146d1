// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"

	"go.uber.org/zap"

	"github.com/wingedpig/kernelsup/internal/session"
	"github.com/wingedpig/kernelsup/pkg/client"
)

// ServerAPI is the part of the RPC client the controller drives directly.
type ServerAPI interface {
	SetConnection(basePath, token string)
	ServerStatus(ctx context.Context) (*client.ServerStatus, error)
	ClientHeartbeat(ctx context.Context, pid int) error
	GetSession(ctx context.Context, id string) (*client.ActiveSession, error)
	SetServerConfiguration(ctx context.Context, cfg client.ServerConfiguration) error
	ShutdownServer(ctx context.Context) error
}

// Session is a handle to one remote session. *session.Handle implements it.
type Session interface {
	ID() string
	Create(ctx context.Context, kernel session.KernelSpec) error
	Start(ctx context.Context) error
	Restore(ctx context.Context, status *client.ActiveSession) error
	Connect(ctx context.Context) error
	Disconnect()
	MarkExited(code int, reason session.ExitReason)
	MarkOffline(reason string)
	Dispose()
	State() session.State
	Info() session.Info
	OnDisconnect(fn func(session.DisconnectedEvent)) func()
}

// SessionFactory builds an unconnected session handle.
type SessionFactory func(meta session.Metadata, runtime session.RuntimeMetadata, dyn session.DynState) Session

// NewSessionFactory returns a factory producing *session.Handle values that
// talk to api.
func NewSessionFactory(api session.API, logger *zap.Logger) SessionFactory {
	return func(meta session.Metadata, runtime session.RuntimeMetadata, dyn session.DynState) Session {
		return session.New(meta, runtime, dyn, api, logger)
	}
}

// CreateRequest describes a new session.
type CreateRequest struct {
	Metadata session.Metadata        `json:"metadata"`
	Runtime  session.RuntimeMetadata `json:"runtime"`
	Dyn      session.DynState        `json:"dyn_state"`
	Kernel   session.KernelSpec      `json:"kernel"`
}

// RestoreRequest describes a session to reattach to.
type RestoreRequest struct {
	Metadata session.Metadata        `json:"metadata"`
	Runtime  session.RuntimeMetadata `json:"runtime"`
	Dyn      session.DynState        `json:"dyn_state"`
}

// Snapshot is the controller's view of the server.
type Snapshot struct {
	Started       bool   `json:"started"`
	Starting      bool   `json:"starting"`
	NewSupervisor bool   `json:"new_supervisor"`
	PID           int    `json:"pid,omitempty"`
	BasePath      string `json:"base_path,omitempty"`
	LogPath       string `json:"log_path,omitempty"`
	Version       string `json:"version,omitempty"`
	Sessions      int    `json:"sessions"`
	IdleHours     int    `json:"idle_shutdown_hours"`
}
