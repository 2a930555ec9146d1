// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wingedpig/kernelsup/internal/config"
	"github.com/wingedpig/kernelsup/internal/events"
	"github.com/wingedpig/kernelsup/internal/metrics"
	"github.com/wingedpig/kernelsup/internal/session"
	"github.com/wingedpig/kernelsup/pkg/client"
)

// Restart shuts the server down and starts a new one. Sessions on the old
// server are marked exited. If the server was never started it is simply
// started.
func (c *Controller) Restart(ctx context.Context) error {
	err := c.restart(ctx)
	c.metrics.Restarts.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		c.notifier.Error(fmt.Sprintf("Failed to restart kernel supervisor: %s", summarize(err)))
		return err
	}
	c.notifier.Info("Kernel supervisor successfully restarted")
	c.publish(events.SupervisorRestarted, nil)
	return nil
}

func (c *Controller) restart(ctx context.Context) error {
	if err := c.restarting.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.restarting.Release(1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	a := c.attempt
	started := c.barrier.IsOpen()
	c.mu.Unlock()

	if a != nil {
		select {
		case <-a.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		started = c.Started()
	}
	if !started {
		return c.EnsureStarted(ctx)
	}

	c.mu.Lock()
	entries := c.sessions
	c.sessions = nil
	proc := c.proc
	c.proc = nil
	connFile := c.connFile
	c.mu.Unlock()

	var g errgroup.Group
	for _, t := range entries {
		t := t
		g.Go(func() error {
			t.unsub()
			t.s.MarkExited(0, session.ExitShutdown)
			t.s.Dispose()
			return nil
		})
	}
	g.Wait()
	c.metrics.SessionsActive.Set(0)

	if err := c.store.Clear(ctx); err != nil {
		c.logf("Failed to clear saved server state: %s", summarize(err))
	}
	if connFile != "" {
		c.logf("Cleaning up connection file %s", connFile)
		if err := os.Remove(connFile); err != nil && !os.IsNotExist(err) {
			c.logf("Failed to remove connection file %s: %v", connFile, err)
		}
	}

	if err := c.api.ShutdownServer(ctx); err != nil {
		c.logf("Failed to shut down kernel supervisor: %s", summarize(err))
	}
	if proc != nil {
		if err := proc.Dispose(); err != nil {
			c.logger.Warn("disposing server process", zap.Error(err))
		}
	}
	c.detachStreamer()

	c.mu.Lock()
	c.serverPID = 0
	c.resetBarrierLocked()
	c.mu.Unlock()

	return c.EnsureStarted(ctx)
}

// UpdateConfig applies a changed configuration. A new shutdown timeout is
// pushed to a running server. Changes that affect launch take effect at the
// next start. Web-hosted sessions ignore configuration changes.
func (c *Controller) UpdateConfig(ctx context.Context, cfg config.SupervisorConfig) {
	c.mu.Lock()
	if c.cfg.IsWeb() || c.closed {
		c.mu.Unlock()
		return
	}
	changed := cfg.ShutdownTimeout != c.cfg.ShutdownTimeout
	// The connection file is fixed for the life of the controller.
	cfg.ConnectionFile = c.connFile
	c.cfg = cfg
	c.timing = timingFrom(cfg)
	open := c.barrier.IsOpen()
	c.mu.Unlock()

	if changed && open {
		c.updateIdleTimeout(ctx)
	}
}

// IdleShutdownHours returns the idle shutdown hours for the current
// configuration.
func (c *Controller) IdleShutdownHours() int {
	return c.idleShutdownHours(c.config())
}

func (c *Controller) idleShutdownHours(cfg config.SupervisorConfig) int {
	hours, ok := cfg.IdleShutdownHours()
	if !ok {
		c.logf("Invalid hour value for shutdown_timeout: '%s'; persisting sessions indefinitely", cfg.ShutdownTimeout)
	}
	return hours
}

// updateIdleTimeout pushes the idle shutdown hours to the server. Failures
// are logged.
func (c *Controller) updateIdleTimeout(ctx context.Context) {
	hours := c.IdleShutdownHours()
	c.logf("Updating server configuration with new shutdown timeout: %d", hours)
	err := c.api.SetServerConfiguration(ctx, client.ServerConfiguration{IdleShutdownHours: hours})
	if err != nil {
		c.logf("Failed to update idle timeout: %s", summarize(err))
	}
}
