// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	kserrors "github.com/wingedpig/kernelsup/internal/errors"
	"github.com/wingedpig/kernelsup/internal/events"
	"github.com/wingedpig/kernelsup/internal/metrics"
	"github.com/wingedpig/kernelsup/internal/session"
	"github.com/wingedpig/kernelsup/pkg/client"
)

// CreateSession starts the server if needed and creates a new session on
// it. A connection refusal triggers a death check; if the server is usable
// afterwards the create is retried once.
func (c *Controller) CreateSession(ctx context.Context, req CreateRequest) (Session, error) {
	s, err := c.createSession(ctx, req, false)
	c.metrics.SessionOps.WithLabelValues("create", metrics.Result(err)).Inc()
	return s, err
}

func (c *Controller) createSession(ctx context.Context, req CreateRequest, retried bool) (Session, error) {
	if err := c.EnsureStarted(ctx); err != nil {
		return nil, err
	}

	if meta, err := json.Marshal(req.Metadata); err == nil {
		c.logf("Creating session: %s", meta)
	}

	s := c.factory(req.Metadata, req.Runtime, req.Dyn)
	if err := s.Create(ctx, req.Kernel); err != nil {
		s.Dispose()
		if client.IsConnectionRefused(err) && !retried {
			c.logf("Connection refused while attempting to create session; checking server status")
			c.testServerExited(ctx)
			if c.Started() {
				return c.createSession(ctx, req, true)
			}
		}
		msg := summarize(err)
		c.logf("Failed to create session %s: %s", req.Metadata.SessionID, msg)
		return nil, kserrors.Wrap(kserrors.CodeSessionCreateFailed, msg, err)
	}

	c.track(s)
	c.publish(events.SessionCreated, map[string]interface{}{
		"session_id": s.ID(),
		"name":       req.Metadata.SessionName,
		"language":   req.Runtime.LanguageName,
	})
	return s, nil
}

// RestoreSession reattaches to a session the server is still hosting.
func (c *Controller) RestoreSession(ctx context.Context, req RestoreRequest) (Session, error) {
	s, err := c.restoreSession(ctx, req)
	c.metrics.SessionOps.WithLabelValues("restore", metrics.Result(err)).Inc()
	return s, err
}

func (c *Controller) restoreSession(ctx context.Context, req RestoreRequest) (Session, error) {
	if err := c.EnsureStarted(ctx); err != nil {
		return nil, err
	}

	id := req.Metadata.SessionID
	status, err := c.api.GetSession(ctx, id)
	if err != nil {
		msg := summarize(err)
		c.logf("Failed to get session info for %s: %s", id, msg)
		return nil, kserrors.Wrap(kserrors.CodeSessionRestoreFailed, msg, err)
	}
	if status.Status == client.StatusExited {
		c.logf("Attempt to reconnect to session %s failed because it is no longer running", id)
		return nil, kserrors.Newf(kserrors.CodeSessionNotRunning, "Session (%s) is no longer running", id)
	}

	s := c.factory(req.Metadata, req.Runtime, req.Dyn)
	if err := s.Restore(ctx, status); err != nil {
		s.Dispose()
		msg := summarize(err)
		c.logf("Failed to restore session %s: %s", id, msg)
		if kserrors.IsCode(err, kserrors.CodeSessionNotRunning) {
			return nil, err
		}
		return nil, kserrors.Wrap(kserrors.CodeSessionRestoreFailed, msg, err)
	}

	c.track(s)
	c.publish(events.SessionRestored, map[string]interface{}{
		"session_id": id,
		"status":     string(status.Status),
	})
	return s, nil
}

// ValidateSession reports whether the server still hosts a running session
// with the given id. Errors are logged and reported as invalid.
func (c *Controller) ValidateSession(ctx context.Context, id string) (bool, error) {
	if err := c.EnsureStarted(ctx); err != nil {
		return false, err
	}

	c.mu.Lock()
	fresh := c.newSupervisor
	c.mu.Unlock()
	// Nothing survives into a freshly launched server.
	if fresh {
		return false, nil
	}

	status, err := c.api.GetSession(ctx, id)
	if err != nil {
		if !client.IsNotFound(err) {
			c.logf("Error validating session %s: %s", id, summarize(err))
		}
		return false, nil
	}
	return status.Status.Running(), nil
}

// ReconnectActiveSession drops the event stream of a connected session so
// the disconnect handler re-establishes it.
func (c *Controller) ReconnectActiveSession(id string) error {
	if id == "" {
		c.notifier.Info("No active session to reconnect to")
		return kserrors.New(kserrors.CodeSessionNotFound, "no active session")
	}
	s := c.find(id)
	if s == nil {
		c.notifier.Info(fmt.Sprintf("Active session %s not managed by the kernel supervisor", id))
		return kserrors.Newf(kserrors.CodeSessionNotFound, "session %s is not managed here", id)
	}
	if s.State() != session.StateConnected {
		c.notifier.Info(fmt.Sprintf("Session %s is not running", id))
		return kserrors.Newf(kserrors.CodeSessionNotRunning, "session %s is not running", id)
	}
	c.logf("Reconnecting to session %s", id)
	s.Disconnect()
	return nil
}

// Sessions lists the tracked sessions.
func (c *Controller) Sessions() []session.Info {
	c.mu.Lock()
	entries := make([]*tracked, len(c.sessions))
	copy(entries, c.sessions)
	c.mu.Unlock()

	infos := make([]session.Info, 0, len(entries))
	for _, t := range entries {
		infos = append(infos, t.s.Info())
	}
	return infos
}

// Session returns the tracked session with the given id, or nil.
func (c *Controller) Session(id string) Session {
	return c.find(id)
}

// ServerStatus queries the server once it has started.
func (c *Controller) ServerStatus(ctx context.Context) (*client.ServerStatus, error) {
	if err := c.EnsureStarted(ctx); err != nil {
		return nil, err
	}
	return c.api.ServerStatus(ctx)
}

func (c *Controller) find(id string) Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.sessions {
		if t.s.ID() == id {
			return t.s
		}
	}
	return nil
}

func (c *Controller) track(s Session) {
	t := &tracked{s: s}
	t.unsub = s.OnDisconnect(func(evt session.DisconnectedEvent) {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.wg.Add(1)
		c.mu.Unlock()
		go func() {
			defer c.wg.Done()
			c.handleDisconnect(s, evt)
		}()
	})

	c.mu.Lock()
	c.sessions = append(c.sessions, t)
	n := len(c.sessions)
	c.mu.Unlock()
	c.metrics.SessionsActive.Set(float64(n))
}

func (c *Controller) handleDisconnect(s Session, evt session.DisconnectedEvent) {
	c.metrics.Disconnects.WithLabelValues(evt.Reason.String()).Inc()
	c.publish(events.SessionDisconnected, map[string]interface{}{
		"session_id": evt.SessionID,
		"reason":     evt.Reason.String(),
		"state":      evt.State.String(),
	})

	switch evt.Reason {
	case session.ReasonTransferred:
		c.showTransferred()
	case session.ReasonShutdown:
		c.logf("Session '%s' disconnected: the server closed the connection", evt.SessionID)
	default:
		c.recoverSession(s, evt)
	}
}

// recoverSession handles a stream that dropped without a reason: either the
// server died or the connection broke and can be re-established.
func (c *Controller) recoverSession(s Session, evt session.DisconnectedEvent) {
	c.logf("Session '%s' disconnected while in state '%s'. This is unexpected; checking server status.",
		evt.SessionID, evt.State)

	if c.testServerExited(c.ctx) {
		return
	}
	if s.State() == session.StateExited {
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.timings().reconnect)
	defer cancel()

	err := s.Connect(ctx)
	if err == nil {
		c.logf("Session '%s' reconnected", evt.SessionID)
		c.publish(events.SessionReconnected, map[string]interface{}{"session_id": evt.SessionID})
		return
	}

	msg := summarize(err)
	if ctx.Err() == context.DeadlineExceeded {
		msg = fmt.Sprintf("Timed out reconnecting to session %s", evt.SessionID)
	}
	c.logger.Warn("session reconnect failed", zap.String("session_id", evt.SessionID), zap.Error(err))
	s.MarkOffline("Lost connection to the session WebSocket event stream and could not restore it: " + msg)
	c.publish(events.SessionOffline, map[string]interface{}{
		"session_id": evt.SessionID,
		"error":      msg,
	})
	c.notifier.Error(fmt.Sprintf("Unable to re-establish connection to %s: %s", evt.SessionID, msg))
}

// showTransferred shows the transfer modal unless one is already showing.
func (c *Controller) showTransferred() {
	if !c.modalShowing.CompareAndSwap(false, true) {
		return
	}
	defer c.modalShowing.Store(false)

	err := c.notifier.Modal(c.ctx,
		"Interpreters Disconnected",
		"This session has been opened in another window. As a result, interpreters have been disconnected in the current window. Reload this window to reconnect to your sessions.",
		"Continue")
	if err != nil && c.ctx.Err() == nil {
		c.logger.Debug("transfer notice not shown", zap.Error(err))
	}
}
