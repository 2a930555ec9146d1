// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	kserrors "github.com/wingedpig/kernelsup/internal/errors"
	"github.com/wingedpig/kernelsup/pkg/client"
)

// API is the part of the server API a session uses.
type API interface {
	NewSession(ctx context.Context, req client.NewSession) (*client.NewSessionResponse, error)
	StartSession(ctx context.Context, id string) error
	DialChannels(ctx context.Context, id string) (*websocket.Conn, error)
}

// Handle is a client-side proxy for one remote session.
type Handle struct {
	meta    Metadata
	runtime RuntimeMetadata
	api     API
	logger  *zap.Logger

	mu       sync.Mutex
	dyn      DynState
	state    State
	exit     *Exit
	offline  string
	conn     *websocket.Conn
	connGen  uint64
	disposed bool

	handlers    map[int]func(DisconnectedEvent)
	nextHandler int
	onMessage   func([]byte)

	writeMu sync.Mutex
}

// New creates an unconnected handle.
func New(meta Metadata, runtime RuntimeMetadata, dyn DynState, api API, logger *zap.Logger) *Handle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handle{
		meta:     meta,
		runtime:  runtime,
		dyn:      dyn,
		api:      api,
		logger:   logger.With(zap.String("session", meta.SessionID)),
		handlers: make(map[int]func(DisconnectedEvent)),
	}
}

// ID returns the session id.
func (h *Handle) ID() string { return h.meta.SessionID }

// Metadata returns the session metadata.
func (h *Handle) Metadata() Metadata { return h.meta }

// State returns the current connection state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Info returns a snapshot of the handle.
func (h *Handle) Info() Info {
	h.mu.Lock()
	defer h.mu.Unlock()
	info := Info{
		Metadata: h.meta,
		Runtime:  h.runtime,
		Dyn:      h.dyn,
		State:    h.state,
		Offline:  h.offline,
	}
	if h.exit != nil {
		e := *h.exit
		info.Exit = &e
	}
	return info
}

// Create registers the session with the server and connects its event
// stream.
func (h *Handle) Create(ctx context.Context, kernel KernelSpec) error {
	h.mu.Lock()
	if h.state != StateUnconnected || h.disposed {
		state := h.state
		h.mu.Unlock()
		return fmt.Errorf("session %s cannot be created in state %s", h.meta.SessionID, state)
	}
	dyn := h.dyn
	h.mu.Unlock()

	displayName := kernel.DisplayName
	if displayName == "" {
		displayName = dyn.SessionName
	}
	_, err := h.api.NewSession(ctx, client.NewSession{
		SessionID:          h.meta.SessionID,
		DisplayName:        displayName,
		Language:           kernel.Language,
		Username:           h.meta.Username,
		InputPrompt:        dyn.InputPrompt,
		ContinuationPrompt: dyn.ContinuationPrompt,
		Argv:               kernel.Argv,
		WorkingDirectory:   h.meta.WorkingDirectory,
		Env:                kernel.Env,
		InterruptMode:      kernel.InterruptMode,
	})
	if err != nil {
		return err
	}
	h.logger.Debug("session registered")
	return h.Connect(ctx)
}

// Start asks the server to launch the session's kernel.
func (h *Handle) Start(ctx context.Context) error {
	if st := h.State(); st == StateExited {
		return kserrors.Newf(kserrors.CodeSessionNotRunning, "session %s has exited", h.meta.SessionID)
	}
	return h.api.StartSession(ctx, h.meta.SessionID)
}

// Restore attaches to a session that is already running on the server.
func (h *Handle) Restore(ctx context.Context, status *client.ActiveSession) error {
	if status == nil {
		return errors.New("missing session status")
	}
	if status.Status == client.StatusExited {
		return kserrors.Newf(kserrors.CodeSessionNotRunning, "Session (%s) is no longer running", h.meta.SessionID)
	}

	h.mu.Lock()
	if status.InputPrompt != "" {
		h.dyn.InputPrompt = status.InputPrompt
	}
	if status.ContinuationPrompt != "" {
		h.dyn.ContinuationPrompt = status.ContinuationPrompt
	}
	h.mu.Unlock()

	return h.Connect(ctx)
}

// Connect opens (or reopens) the session's event stream.
func (h *Handle) Connect(ctx context.Context) error {
	h.mu.Lock()
	if h.disposed {
		h.mu.Unlock()
		return fmt.Errorf("session %s is disposed", h.meta.SessionID)
	}
	if h.state == StateExited {
		h.mu.Unlock()
		return kserrors.Newf(kserrors.CodeSessionNotRunning, "session %s has exited", h.meta.SessionID)
	}
	h.mu.Unlock()

	conn, err := h.api.DialChannels(ctx, h.meta.SessionID)
	if err != nil {
		return kserrors.Wrap(kserrors.CodeSessionConnectFailed,
			fmt.Sprintf("connecting to session %s", h.meta.SessionID), err)
	}

	h.mu.Lock()
	if h.disposed || h.state == StateExited {
		h.mu.Unlock()
		conn.Close()
		return fmt.Errorf("session %s closed while connecting", h.meta.SessionID)
	}
	h.closeConnLocked()
	h.conn = conn
	h.connGen++
	gen := h.connGen
	h.state = StateConnected
	h.offline = ""
	h.mu.Unlock()

	h.logger.Debug("event stream connected")
	go h.readLoop(conn, gen)
	return nil
}

// Send writes a raw message to the session's event stream.
func (h *Handle) Send(data []byte) error {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("session %s is not connected", h.meta.SessionID)
	}
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Disconnect drops the event stream as if the connection had been lost,
// which notifies disconnect handlers with ReasonUnknown.
func (h *Handle) Disconnect() {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// MarkExited records that the session has ended. The event stream is closed
// without notifying disconnect handlers. Marking an exited session again has
// no effect.
func (h *Handle) MarkExited(code int, reason ExitReason) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateExited {
		return
	}
	h.state = StateExited
	h.exit = &Exit{Code: code, Reason: reason, Time: time.Now()}
	h.closeConnLocked()
	h.logger.Info("session exited", zap.Int("code", code), zap.String("reason", string(reason)))
}

// MarkOffline records that the event stream is gone for good.
func (h *Handle) MarkOffline(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateExited {
		return
	}
	h.state = StateDisconnected
	h.offline = reason
	h.closeConnLocked()
	h.logger.Warn("session offline", zap.String("reason", reason))
}

// Dispose releases the handle. The remote session is left alone.
func (h *Handle) Dispose() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disposed {
		return
	}
	h.disposed = true
	h.closeConnLocked()
	h.handlers = make(map[int]func(DisconnectedEvent))
	h.onMessage = nil
}

// OnDisconnect registers fn to be called on each disconnect. The returned
// function removes the registration.
func (h *Handle) OnDisconnect(fn func(DisconnectedEvent)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextHandler
	h.nextHandler++
	h.handlers[id] = fn
	return func() {
		h.mu.Lock()
		delete(h.handlers, id)
		h.mu.Unlock()
	}
}

// OnMessage sets the receiver for raw event stream messages.
func (h *Handle) OnMessage(fn func([]byte)) {
	h.mu.Lock()
	h.onMessage = fn
	h.mu.Unlock()
}

// closeConnLocked closes the current connection without notifying handlers.
func (h *Handle) closeConnLocked() {
	if h.conn == nil {
		return
	}
	h.connGen++
	h.conn.Close()
	h.conn = nil
}

func (h *Handle) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			h.connectionLost(gen, err)
			return
		}
		h.mu.Lock()
		fn := h.onMessage
		h.mu.Unlock()
		if fn != nil {
			fn(data)
		}
	}
}

// connectionLost notifies handlers, unless the connection was closed or
// replaced on purpose.
func (h *Handle) connectionLost(gen uint64, err error) {
	h.mu.Lock()
	if gen != h.connGen || h.disposed {
		h.mu.Unlock()
		return
	}
	prior := h.state
	h.connGen++
	h.conn.Close()
	h.conn = nil
	h.state = StateDisconnected

	handlers := make([]func(DisconnectedEvent), 0, len(h.handlers))
	for _, fn := range h.handlers {
		handlers = append(handlers, fn)
	}
	h.mu.Unlock()

	evt := DisconnectedEvent{
		SessionID: h.meta.SessionID,
		Reason:    classify(err),
		State:     prior,
		Err:       err.Error(),
		Time:      time.Now(),
	}
	h.logger.Info("event stream disconnected", zap.Stringer("reason", evt.Reason), zap.Error(err))
	for _, fn := range handlers {
		fn(evt)
	}
}

func classify(err error) DisconnectReason {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case CloseTransferred:
			return ReasonTransferred
		case websocket.CloseNormalClosure, websocket.CloseGoingAway:
			return ReasonShutdown
		}
	}
	return ReasonUnknown
}
