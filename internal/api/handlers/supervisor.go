// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/wingedpig/kernelsup/internal/session"
	"github.com/wingedpig/kernelsup/internal/supervisor"
	"github.com/wingedpig/kernelsup/pkg/client"
)

// Supervisor is the controller surface the handlers use.
// *supervisor.Controller implements it.
type Supervisor interface {
	EnsureStarted(ctx context.Context) error
	Snapshot() supervisor.Snapshot
	ServerStatus(ctx context.Context) (*client.ServerStatus, error)
	Restart(ctx context.Context) error
	Sessions() []session.Info
	CreateSession(ctx context.Context, req supervisor.CreateRequest) (supervisor.Session, error)
	RestoreSession(ctx context.Context, req supervisor.RestoreRequest) (supervisor.Session, error)
	ValidateSession(ctx context.Context, id string) (bool, error)
	ReconnectActiveSession(id string) error
}

// OutputSource provides the supervisor output channel's lines.
type OutputSource interface {
	Lines(n int) []string
}

// SupervisorHandler handles requests about the supervisor server.
type SupervisorHandler struct {
	ctl Supervisor
	out OutputSource
}

// NewSupervisorHandler creates a new supervisor handler.
func NewSupervisorHandler(ctl Supervisor, out OutputSource) *SupervisorHandler {
	return &SupervisorHandler{ctl: ctl, out: out}
}

// SupervisorResponse combines the controller snapshot with the server's own
// status when it is reachable.
type SupervisorResponse struct {
	supervisor.Snapshot
	Server      *client.ServerStatus `json:"server,omitempty"`
	ServerError string               `json:"server_error,omitempty"`
}

// Health reports liveness of this process and whether the server is up.
func (h *SupervisorHandler) Health(w http.ResponseWriter, r *http.Request) {
	snap := h.ctl.Snapshot()
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"started": snap.Started,
	})
}

// Get returns the supervisor state. The server is queried only once started;
// this endpoint never launches it.
func (h *SupervisorHandler) Get(w http.ResponseWriter, r *http.Request) {
	resp := SupervisorResponse{Snapshot: h.ctl.Snapshot()}
	if resp.Started {
		status, err := h.ctl.ServerStatus(r.Context())
		if err != nil {
			resp.ServerError = err.Error()
		} else {
			resp.Server = status
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

// Start starts the server if needed.
func (h *SupervisorHandler) Start(w http.ResponseWriter, r *http.Request) {
	if err := h.ctl.EnsureStarted(r.Context()); err != nil {
		WriteCodedError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, h.ctl.Snapshot())
}

// Restart replaces the server with a fresh one.
func (h *SupervisorHandler) Restart(w http.ResponseWriter, r *http.Request) {
	// Use background context - the restart should finish even if the client goes away
	if err := h.ctl.Restart(context.Background()); err != nil {
		WriteCodedError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, h.ctl.Snapshot())
}

// Output returns recent lines of supervisor output.
func (h *SupervisorHandler) Output(w http.ResponseWriter, r *http.Request) {
	lines := 200
	if s := r.URL.Query().Get("lines"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			WriteError(w, http.StatusBadRequest, ErrBadRequest, "lines must be a non-negative integer")
			return
		}
		lines = n
	}
	WriteJSON(w, http.StatusOK, h.out.Lines(lines))
}
