// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package api serves the local HTTP API for inspecting and driving the
// kernel supervisor.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wingedpig/kernelsup/internal/api/handlers"
	"github.com/wingedpig/kernelsup/internal/api/middleware"
	"github.com/wingedpig/kernelsup/internal/api/version"
	"github.com/wingedpig/kernelsup/internal/events"
	"github.com/wingedpig/kernelsup/internal/metrics"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Listen  string // host:port
	TLSCert string // Path to TLS certificate file
	TLSKey  string // Path to TLS private key file
}

// Dependencies holds all dependencies for API handlers.
type Dependencies struct {
	Supervisor handlers.Supervisor
	Output     handlers.OutputSource
	Notices    handlers.Notices
	EventBus   events.Bus
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer // served at /metrics when set
	Logger     *zap.Logger
}

// NewRouter creates a new API router.
func NewRouter(deps Dependencies) *mux.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	r := mux.NewRouter()

	// Apply global middleware
	r.Use(middleware.Logging(logger.Named("http"), deps.Metrics))
	r.Use(middleware.Recovery(logger.Named("http")))

	supervisorHandler := handlers.NewSupervisorHandler(deps.Supervisor, deps.Output)
	r.HandleFunc("/healthz", supervisorHandler.Health).Methods("GET")
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	// API v1 routes
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(version.Middleware)

	api.HandleFunc("/supervisor", supervisorHandler.Get).Methods("GET")
	api.HandleFunc("/supervisor/start", supervisorHandler.Start).Methods("POST")
	api.HandleFunc("/supervisor/restart", supervisorHandler.Restart).Methods("POST")
	api.HandleFunc("/output", supervisorHandler.Output).Methods("GET")

	sessionHandler := handlers.NewSessionHandler(deps.Supervisor)
	api.HandleFunc("/sessions", sessionHandler.List).Methods("GET")
	api.HandleFunc("/sessions", sessionHandler.Create).Methods("POST")
	api.HandleFunc("/sessions/{id}", sessionHandler.Get).Methods("GET")
	api.HandleFunc("/sessions/{id}/restore", sessionHandler.Restore).Methods("POST")
	api.HandleFunc("/sessions/{id}/valid", sessionHandler.Valid).Methods("GET")
	api.HandleFunc("/sessions/{id}/reconnect", sessionHandler.Reconnect).Methods("POST")

	if deps.EventBus != nil {
		var conns prometheus.Gauge
		if deps.Metrics != nil {
			conns = deps.Metrics.WSConnections
		}
		eventHandler := handlers.NewEventHandler(deps.EventBus, conns)
		api.HandleFunc("/events", eventHandler.History).Methods("GET")
		api.HandleFunc("/events/ws", eventHandler.WebSocket).Methods("GET")
	}

	if deps.Notices != nil {
		noticeHandler := handlers.NewNoticeHandler(deps.Notices)
		api.HandleFunc("/notices", noticeHandler.List).Methods("GET")
		api.HandleFunc("/notices/{id}/ack", noticeHandler.Ack).Methods("POST")
	}

	// Subroutes carry the prefix matcher, which can clear mux's
	// method-mismatch state, so a wrong method is also detected on not-found.
	api.NotFoundHandler = notFound(api)
	api.MethodNotAllowedHandler = api.NotFoundHandler

	return r
}

// notFound answers 405 with an Allow header when a route under sub matches
// the path for another method, and 404 otherwise.
func notFound(sub *mux.Router) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var allowed []string
		sub.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
			methods, err := route.GetMethods()
			if err != nil {
				return nil
			}
			for _, m := range methods {
				alt := r.Clone(r.Context())
				alt.Method = m
				var match mux.RouteMatch
				if route.Match(alt, &match) {
					allowed = append(allowed, m)
				}
			}
			return nil
		})
		if len(allowed) > 0 {
			w.Header().Set("Allow", strings.Join(allowed, ", "))
			handlers.MethodNotAllowed(w, r)
			return
		}
		handlers.WriteError(w, http.StatusNotFound, handlers.ErrNotFound,
			fmt.Sprintf("no route for %s", r.URL.Path))
	})
}

// Server represents the API server.
type Server struct {
	router *mux.Router
	cfg    ServerConfig
	logger *zap.Logger

	mu     sync.Mutex
	server *http.Server
	addr   net.Addr
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig, deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		router: NewRouter(deps),
		cfg:    cfg,
		logger: logger.Named("api"),
	}
}

// Router returns the underlying router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Addr returns the bound address once the server is listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// ListenAndServe starts the server and blocks until it stops. If TLS is
// configured (tls_cert and tls_key), uses HTTPS. A clean Shutdown returns
// nil.
func (s *Server) ListenAndServe() error {
	tlsEnabled, err := CheckTLSConfig(s.cfg.TLSCert, s.cfg.TLSKey)
	if err != nil {
		return fmt.Errorf("TLS configuration error: %w", err)
	}

	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Listen, err)
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.addr = ln.Addr()
	s.mu.Unlock()

	if tlsEnabled {
		s.logger.Info("API server listening", zap.String("url", "https://"+ln.Addr().String()))
		err = srv.ServeTLS(ln, s.cfg.TLSCert, s.cfg.TLSKey)
	} else {
		s.logger.Info("API server listening", zap.String("url", "http://"+ln.Addr().String()))
		err = srv.Serve(ln)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	s.logger.Info("shutting down API server")

	// Create a timeout context if none provided
	shutdownCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	return srv.Shutdown(shutdownCtx)
}
