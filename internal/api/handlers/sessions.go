// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	kserrors "github.com/wingedpig/kernelsup/internal/errors"
	"github.com/wingedpig/kernelsup/internal/session"
	"github.com/wingedpig/kernelsup/internal/supervisor"
)

// SessionHandler handles session API requests.
type SessionHandler struct {
	ctl Supervisor
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(ctl Supervisor) *SessionHandler {
	return &SessionHandler{ctl: ctl}
}

// CreateSessionRequest is the request body for creating a session.
type CreateSessionRequest struct {
	supervisor.CreateRequest
	// Start starts the kernel once the session exists.
	Start bool `json:"start"`
}

// ValidResponse is the response from the validate endpoint.
type ValidResponse struct {
	SessionID string `json:"session_id"`
	Valid     bool   `json:"valid"`
}

// List returns the sessions tracked by the controller.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.ctl.Sessions())
}

// Create creates a new session.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid JSON")
		return
	}
	if req.Metadata.SessionID == "" {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "metadata.session_id is required")
		return
	}
	if len(req.Kernel.Argv) == 0 {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "kernel.argv is required")
		return
	}

	// Use background context - the session should outlive the HTTP request
	ctx := context.Background()
	s, err := h.ctl.CreateSession(ctx, req.CreateRequest)
	if err != nil {
		WriteCodedError(w, err)
		return
	}
	if req.Start {
		if err := s.Start(ctx); err != nil {
			WriteCodedError(w, kserrors.Wrap(kserrors.CodeSessionCreateFailed, "starting session", err))
			return
		}
	}
	WriteJSON(w, http.StatusCreated, s.Info())
}

// Restore reattaches to a session still running on the server.
func (h *SessionHandler) Restore(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req supervisor.RestoreRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid JSON")
			return
		}
	}
	if req.Metadata.SessionID != "" && req.Metadata.SessionID != id {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "metadata.session_id does not match the URL")
		return
	}
	req.Metadata.SessionID = id

	s, err := h.ctl.RestoreSession(context.Background(), req)
	if err != nil {
		WriteCodedError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, s.Info())
}

// Valid reports whether the server still hosts a running session.
func (h *SessionHandler) Valid(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ok, err := h.ctl.ValidateSession(r.Context(), id)
	if err != nil {
		WriteCodedError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, ValidResponse{SessionID: id, Valid: ok})
}

// Reconnect drops and re-establishes a session's event stream.
func (h *SessionHandler) Reconnect(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.ctl.ReconnectActiveSession(id); err != nil {
		WriteCodedError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]string{"session_id": id})
}

func findSession(infos []session.Info, id string) (session.Info, bool) {
	for _, info := range infos {
		if info.Metadata.SessionID == id {
			return info, true
		}
	}
	return session.Info{}, false
}

// Get returns a single tracked session.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	info, ok := findSession(h.ctl.Sessions(), id)
	if !ok {
		WriteError(w, http.StatusNotFound, ErrNotFound, "session not found")
		return
	}
	WriteJSON(w, http.StatusOK, info)
}
