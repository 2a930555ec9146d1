// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingedpig/kernelsup/internal/api/handlers"
	"github.com/wingedpig/kernelsup/internal/api/version"
	"github.com/wingedpig/kernelsup/internal/session"
	"github.com/wingedpig/kernelsup/internal/supervisor"
)

// serveAPI points the package client at a test server answering with fixed
// handlers, and captures stdout.
func serveAPI(t *testing.T, routes map[string]http.HandlerFunc) *bytes.Buffer {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, version.LatestVersion, r.Header.Get(version.Header))
		h, ok := routes[r.Method+" "+r.URL.Path]
		if !ok {
			handlers.WriteError(w, http.StatusNotFound, handlers.ErrNotFound, "no route")
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)

	api = newAPIClient(srv.URL, 5*time.Second)
	buf := &bytes.Buffer{}
	stdout = buf
	jsonOutput = false
	return buf
}

func TestStatus(t *testing.T) {
	out := serveAPI(t, map[string]http.HandlerFunc{
		"GET /api/v1/supervisor": func(w http.ResponseWriter, r *http.Request) {
			handlers.WriteJSON(w, http.StatusOK, handlers.SupervisorResponse{
				Snapshot: supervisor.Snapshot{Started: true, PID: 4242, BasePath: "http://127.0.0.1:9000/", Sessions: 2},
			})
		},
	})

	require.NoError(t, run("status", nil))
	assert.Contains(t, out.String(), "running")
	assert.Contains(t, out.String(), "4242")
	assert.Contains(t, out.String(), "http://127.0.0.1:9000/")
}

func TestSessions(t *testing.T) {
	out := serveAPI(t, map[string]http.HandlerFunc{
		"GET /api/v1/sessions": func(w http.ResponseWriter, r *http.Request) {
			handlers.WriteJSON(w, http.StatusOK, []session.Info{
				{Metadata: session.Metadata{SessionID: "python-2"}, State: session.StateExited,
					Exit: &session.Exit{Code: 1, Reason: session.ExitError}},
				{Metadata: session.Metadata{SessionID: "python-1"}, State: session.StateConnected,
					Runtime: session.RuntimeMetadata{LanguageName: "Python"}},
			})
		},
	})

	require.NoError(t, run("sessions", nil))
	text := out.String()
	assert.Less(t, strings.Index(text, "python-1"), strings.Index(text, "python-2"))
	assert.Contains(t, text, "connected")
	assert.Contains(t, text, "exit 1")
}

func TestOutputGrep(t *testing.T) {
	out := serveAPI(t, map[string]http.HandlerFunc{
		"GET /api/v1/output": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "5", r.URL.Query().Get("lines"))
			handlers.WriteJSON(w, http.StatusOK, []string{"starting", "error: boom", "ready"})
		},
	})

	require.NoError(t, run("output", []string{"-n", "5", "-grep", "^err"}))
	assert.Equal(t, "error: boom\n", out.String())
}

func TestOutputJSON(t *testing.T) {
	out := serveAPI(t, map[string]http.HandlerFunc{
		"GET /api/v1/output": func(w http.ResponseWriter, r *http.Request) {
			handlers.WriteJSON(w, http.StatusOK, []string{"a", "b"})
		},
	})
	jsonOutput = true
	defer func() { jsonOutput = false }()

	require.NoError(t, run("output", nil))
	var lines []string
	require.NoError(t, json.Unmarshal(out.Bytes(), &lines))
	assert.Equal(t, []string{"a", "b"}, lines)
}

func TestAPIErrorIsReturned(t *testing.T) {
	serveAPI(t, map[string]http.HandlerFunc{
		"POST /api/v1/sessions/s1/reconnect": func(w http.ResponseWriter, r *http.Request) {
			handlers.WriteError(w, http.StatusConflict, "session.not_running", "Session s1 is not running")
		},
	})

	err := run("reconnect", []string{"s1"})
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "session.not_running", apiErr.Code)
}

func TestValid(t *testing.T) {
	out := serveAPI(t, map[string]http.HandlerFunc{
		"GET /api/v1/sessions/s1/valid": func(w http.ResponseWriter, r *http.Request) {
			handlers.WriteJSON(w, http.StatusOK, handlers.ValidResponse{SessionID: "s1", Valid: true})
		},
	})

	require.NoError(t, run("valid", []string{"s1"}))
	assert.Equal(t, "s1 is running\n", out.String())
}

func TestUsageErrors(t *testing.T) {
	serveAPI(t, nil)
	assert.Error(t, run("session", nil))
	assert.Error(t, run("ack", nil))
	assert.Error(t, run("frobnicate", nil))
}

func TestVersion(t *testing.T) {
	out := serveAPI(t, nil)

	require.NoError(t, run("version", nil))
	assert.Equal(t, "kernelsup-ctl "+ctlVersion+"\n", out.String())
}
