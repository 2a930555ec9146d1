// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/wingedpig/kernelsup/internal/barrier"
	"github.com/wingedpig/kernelsup/internal/events"
	"github.com/wingedpig/kernelsup/internal/session"
	"github.com/wingedpig/kernelsup/pkg/client"
)

// heartbeat sends client heartbeats while the Barrier is open. When the
// Barrier is replaced it waits for the next one to open and resumes.
func (c *Controller) heartbeat(ctx context.Context) {
	for {
		b, err := c.waitOpen(ctx)
		if err != nil {
			return
		}
		c.heartbeatUntilClosed(ctx, b)
		if ctx.Err() != nil {
			return
		}
	}
}

func (c *Controller) heartbeatUntilClosed(ctx context.Context, b *barrier.Barrier) {
	ticker := time.NewTicker(c.timings().heartbeat)
	defer ticker.Stop()

	c.mu.Lock()
	reset := c.resetCh
	c.mu.Unlock()

	pid := os.Getpid()
	for {
		select {
		case <-ctx.Done():
			return
		case <-reset:
			return
		case <-ticker.C:
		}
		if !c.isCurrentOpen(b) {
			return
		}

		err := c.api.ClientHeartbeat(ctx, pid)
		c.metrics.Heartbeats.WithLabelValues(heartbeatResult(err)).Inc()
		switch {
		case err == nil:
		case client.IsConnectionRefused(err):
			c.logf("Connection refused while sending heartbeat; checking server status")
			c.testServerExited(ctx)
		case ctx.Err() != nil:
			return
		default:
			c.logf("Failed to send client heartbeat: %s", summarize(err))
		}
	}
}

func heartbeatResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case client.IsConnectionRefused(err):
		return "refused"
	default:
		return "failed"
	}
}

// testServerExited reports whether the server process has died. When it
// has, the controller is reset, dependent sessions are marked exited and a
// restart is attempted. Concurrent callers share one check.
func (c *Controller) testServerExited(ctx context.Context) bool {
	v, _, _ := c.exitGroup.Do("exit", func() (interface{}, error) {
		return c.checkServerExited(ctx), nil
	})
	return v.(bool)
}

func (c *Controller) checkServerExited(ctx context.Context) bool {
	c.mu.Lock()
	a := c.attempt
	c.mu.Unlock()

	// A start in flight means the server is being replaced already.
	if a != nil {
		select {
		case <-a.done:
		case <-ctx.Done():
		}
		return false
	}

	st, err := c.store.Load(ctx)
	if err != nil {
		c.logf("Could not read saved server state: %s", summarize(err))
		return false
	}
	if st == nil {
		c.logf("No kernel supervisor state found; cannot test server process")
		return false
	}
	if st.ServerPID == 0 {
		return false
	}
	if c.prober.IsAlive(st.ServerPID) {
		c.logf("Kernel supervisor PID %d is still running", st.ServerPID)
		return false
	}

	c.logf("Kernel supervisor PID %d is not running", st.ServerPID)
	c.metrics.ServerExits.Inc()
	if err := c.store.Clear(ctx); err != nil {
		c.logf("Failed to clear saved server state: %s", summarize(err))
	}

	c.mu.Lock()
	entries := c.sessions
	c.sessions = nil
	proc := c.proc
	c.proc = nil
	c.serverPID = 0
	c.resetBarrierLocked()
	c.mu.Unlock()

	c.detachStreamer()
	if proc != nil {
		proc.Dispose()
	}
	for _, t := range entries {
		t.unsub()
		t.s.MarkExited(1, session.ExitError)
	}
	c.metrics.SessionsActive.Set(0)
	c.logger.Warn("kernel supervisor exited",
		zap.Int("pid", st.ServerPID),
		zap.Int("sessions", len(entries)))
	c.publish(events.SupervisorExited, map[string]interface{}{
		"pid":      st.ServerPID,
		"sessions": len(entries),
	})

	if err := c.EnsureStarted(c.ctx); err != nil {
		if err == ErrClosed {
			return true
		}
		c.notifier.Error(fmt.Sprintf(
			"The process supervising the interpreters has exited unexpectedly and could not be automatically restarted: %s",
			summarize(err)))
		return true
	}
	if len(entries) > 0 {
		c.notifier.Warn("The process supervising the interpreters has exited unexpectedly and was automatically restarted. You may need to start your interpreter again.")
	}
	return true
}
