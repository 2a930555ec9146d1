// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/wingedpig/kernelsup/internal/api/version"
	"github.com/wingedpig/kernelsup/internal/events"
	"github.com/wingedpig/kernelsup/internal/metrics"
	"github.com/wingedpig/kernelsup/internal/notify"
	"github.com/wingedpig/kernelsup/internal/session"
	"github.com/wingedpig/kernelsup/internal/supervisor"
	"github.com/wingedpig/kernelsup/pkg/client"
)

type stubSupervisor struct{}

func (stubSupervisor) EnsureStarted(ctx context.Context) error { return nil }

func (stubSupervisor) Snapshot() supervisor.Snapshot { return supervisor.Snapshot{} }

func (stubSupervisor) ServerStatus(ctx context.Context) (*client.ServerStatus, error) {
	return &client.ServerStatus{}, nil
}

func (stubSupervisor) Restart(ctx context.Context) error { return nil }

func (stubSupervisor) Sessions() []session.Info { return nil }

func (stubSupervisor) CreateSession(ctx context.Context, req supervisor.CreateRequest) (supervisor.Session, error) {
	return nil, nil
}

func (stubSupervisor) RestoreSession(ctx context.Context, req supervisor.RestoreRequest) (supervisor.Session, error) {
	return nil, nil
}

func (stubSupervisor) ValidateSession(ctx context.Context, id string) (bool, error) {
	return false, nil
}

func (stubSupervisor) ReconnectActiveSession(id string) error { return nil }

type stubOutput struct{}

func (stubOutput) Lines(n int) []string { return []string{"hello"} }

type stubNotices struct{}

func (stubNotices) Open() []notify.Notice { return nil }

func (stubNotices) Acknowledge(id string) error { return nil }

func newTestDeps(t *testing.T) (Dependencies, *metrics.Metrics) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	bus := events.NewMemoryBus(events.Config{HistoryMaxEvents: 10})
	t.Cleanup(func() { bus.Close() })
	return Dependencies{
		Supervisor: stubSupervisor{},
		Output:     stubOutput{},
		Notices:    stubNotices{},
		EventBus:   bus,
		Metrics:    m,
		Gatherer:   reg,
		Logger:     zaptest.NewLogger(t),
	}, m
}

func TestRouterRoutes(t *testing.T) {
	deps, _ := newTestDeps(t)
	r := NewRouter(deps)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{"GET", "/healthz", http.StatusOK},
		{"GET", "/api/v1/supervisor", http.StatusOK},
		{"GET", "/api/v1/output", http.StatusOK},
		{"GET", "/api/v1/sessions", http.StatusOK},
		{"GET", "/api/v1/sessions/s1", http.StatusNotFound},
		{"GET", "/api/v1/sessions/s1/valid", http.StatusOK},
		{"POST", "/api/v1/sessions/s1/reconnect", http.StatusAccepted},
		{"GET", "/api/v1/events", http.StatusOK},
		{"GET", "/api/v1/notices", http.StatusOK},
		{"POST", "/api/v1/notices/n1/ack", http.StatusOK},
		{"DELETE", "/api/v1/sessions", http.StatusMethodNotAllowed},
		{"GET", "/api/v1/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestRouterRejectsUnsupportedVersion(t *testing.T) {
	deps, _ := newTestDeps(t)
	r := NewRouter(deps)

	req := httptest.NewRequest("GET", "/api/v1/supervisor", nil)
	req.Header.Set(version.Header, "1999-01-01")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "UNSUPPORTED_VERSION")
}

func TestRouterMethodNotAllowed(t *testing.T) {
	deps, _ := newTestDeps(t)
	r := NewRouter(deps)

	for _, path := range []string{"/api/v1/sessions", "/api/v1/supervisor/restart", "/api/v1/sessions/s1/valid"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest("DELETE", path, nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, path)
		assert.Contains(t, rec.Body.String(), "METHOD_NOT_ALLOWED", path)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("DELETE", "/api/v1/sessions", nil))
	assert.Equal(t, "GET, POST", rec.Header().Get("Allow"))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_FOUND")
}

func TestRouterMetrics(t *testing.T) {
	deps, m := newTestDeps(t)
	r := NewRouter(deps)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/sessions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/api/v1/sessions", "200")))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kernelsup_http_requests_total")
}

func TestRouterWithoutOptionalDeps(t *testing.T) {
	r := NewRouter(Dependencies{Supervisor: stubSupervisor{}, Output: stubOutput{}})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/events", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerListenAndShutdown(t *testing.T) {
	deps, _ := newTestDeps(t)
	s := NewServer(ServerConfig{Listen: "127.0.0.1:0"}, deps)

	errCh := make(chan error, 1)
	go func() { errCh <- s.ListenAndServe() }()

	require.Eventually(t, func() bool { return s.Addr() != nil }, 2*time.Second, 5*time.Millisecond)

	resp, err := http.Get("http://" + s.Addr().String() + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), `"ok"`))

	require.NoError(t, s.Shutdown(context.Background()))
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ListenAndServe did not return")
	}
}

func TestShutdownBeforeListen(t *testing.T) {
	deps, _ := newTestDeps(t)
	s := NewServer(ServerConfig{Listen: "127.0.0.1:0"}, deps)
	assert.NoError(t, s.Shutdown(context.Background()))
}

func TestCheckTLSConfig(t *testing.T) {
	dir := t.TempDir()
	cert := filepath.Join(dir, "cert.pem")
	key := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(cert, []byte("cert"), 0600))
	require.NoError(t, os.WriteFile(key, []byte("key"), 0600))

	enabled, err := CheckTLSConfig("", "")
	assert.NoError(t, err)
	assert.False(t, enabled)

	_, err = CheckTLSConfig(cert, "")
	assert.Error(t, err)

	_, err = CheckTLSConfig(cert, filepath.Join(dir, "missing.pem"))
	assert.ErrorContains(t, err, "tls_key file not found")

	_, err = CheckTLSConfig(dir, key)
	assert.ErrorContains(t, err, "tls_cert file not found")

	enabled, err = CheckTLSConfig(cert, key)
	assert.NoError(t, err)
	assert.True(t, enabled)
}

func TestListenAndServeTLSConfigError(t *testing.T) {
	deps, _ := newTestDeps(t)
	s := NewServer(ServerConfig{Listen: "127.0.0.1:0", TLSCert: "/nonexistent.pem"}, deps)
	assert.ErrorContains(t, s.ListenAndServe(), "TLS configuration error")
}
