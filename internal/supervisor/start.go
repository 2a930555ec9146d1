// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wingedpig/kernelsup/internal/barrier"
	kserrors "github.com/wingedpig/kernelsup/internal/errors"
	"github.com/wingedpig/kernelsup/internal/events"
	"github.com/wingedpig/kernelsup/internal/logs"
	"github.com/wingedpig/kernelsup/internal/process"
	"github.com/wingedpig/kernelsup/internal/state"
	"github.com/wingedpig/kernelsup/pkg/client"
)

func summarize(err error) string {
	return kserrors.Summarize(err)
}

// start reconnects to a known server or launches a new one.
func (c *Controller) start(ctx context.Context) error {
	c.publish(events.SupervisorStarting, nil)

	c.mu.Lock()
	connFile := c.connFile
	c.mu.Unlock()

	if connFile != "" {
		if _, err := os.Stat(connFile); err == nil {
			c.logf("Using connection file from KERNELSUP_CONNECTION_FILE: %s", connFile)
			if ok := c.reconnectFrom(ctx, connFile); ok {
				c.logf("Connected to previously established supervisor.")
				return nil
			}
		} else {
			c.logf("Connection file named in KERNELSUP_CONNECTION_FILE does not exist: %s", connFile)
		}
	}

	st, err := c.store.Load(ctx)
	if err != nil {
		c.logf("Could not read saved server state: %s", summarize(err))
	}
	if st != nil {
		ok, err := c.reconnect(ctx, st)
		switch {
		case err != nil:
			c.logf("Failed to reconnect to server at %s: %s. Starting a new server.", st.BasePath, summarize(err))
		case ok:
			return nil
		default:
			c.logf("Could not reconnect to server at %s. Starting a new server", st.BasePath)
			if err := c.store.Clear(ctx); err != nil {
				c.logf("Failed to clear saved server state: %s", summarize(err))
			}
		}
	}

	return c.launch(ctx, connFile)
}

// reconnectFrom reconnects using an externally supplied connection file.
// Any failure is logged and reported as not reconnected.
func (c *Controller) reconnectFrom(ctx context.Context, path string) bool {
	st, err := state.ReadConnectionFile(path)
	if err != nil {
		c.logf("Error connecting to supervisor (%s): %s", path, summarize(err))
		return false
	}
	ok, err := c.reconnect(ctx, st)
	if err != nil {
		c.logf("Error connecting to supervisor (%s): %s", path, summarize(err))
		return false
	}
	return ok
}

// reconnect attaches to the server described by st. It returns false without
// error when the recorded process is gone.
func (c *Controller) reconnect(ctx context.Context, st *state.ServerState) (bool, error) {
	pid := st.ServerPID
	if pid != 0 && !c.prober.IsAlive(pid) {
		c.logf("Kernel supervisor PID %d is not running", pid)
		return false, nil
	}

	// Log positions are not kept, so stale lines would be repeated.
	c.out.Clear()
	c.logf("Reconnecting to kernel supervisor at %s (PID %d)", st.BasePath, pid)

	c.api.SetConnection(st.BasePath, st.BearerToken)
	c.attachStreamer(st.LogPath)

	status, err := c.api.ServerStatus(ctx)
	if err != nil {
		c.detachStreamer()
		return false, err
	}

	if err := c.store.Save(ctx, st); err != nil {
		c.logf("Failed to save server state: %s", summarize(err))
	}

	c.mu.Lock()
	c.newSupervisor = false
	c.serverPID = pid
	c.basePath = st.BasePath
	c.logPath = st.LogPath
	c.version = status.Version
	web := c.cfg.IsWeb()
	b := c.barrier
	c.mu.Unlock()

	b.Open()
	c.metrics.ServerUp.Set(1)
	c.metrics.StartAttempts.WithLabelValues("reconnected").Inc()
	c.logf("Kernel supervisor %s reconnected with %d sessions", status.Version, status.Sessions)
	c.publish(events.SupervisorReconnected, map[string]interface{}{
		"pid":      pid,
		"version":  status.Version,
		"sessions": status.Sessions,
	})

	if !web {
		c.updateIdleTimeout(ctx)
	}
	return true, nil
}

// launch starts a new server process and waits for it to become ready.
func (c *Controller) launch(ctx context.Context, connFile string) (err error) {
	cfg := c.config()
	t := c.timings()

	binary, dev, err := process.LocateBinary(cfg.DevRoots, cfg.BundledPath, cfg.BinaryName)
	if err != nil {
		c.logf("%s", summarize(err))
		return err
	}
	if dev {
		c.logf("Loading kernel supervisor from disk in adjacent repository (%s). Make sure it's up-to-date.", binary)
	}

	id := fmt.Sprintf("%s-%d", uuid.NewString()[:8], os.Getpid())
	base := filepath.Join(cfg.TempDir, cfg.FilePrefix+"-"+id)
	if connFile == "" {
		connFile = base + ".json"
		c.logf("Generated connection file path: %s", connFile)
	} else if err := os.Remove(connFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.logf("Failed to remove stale connection file %s: %v", connFile, err)
	}
	logFile := base + ".log"
	outFile := base + ".out.log"

	level := cfg.LogLevel
	args := []string{
		"--log-level", level,
		"--log-file", logFile,
		"--connection-file", connFile,
	}
	if hours := c.idleShutdownHours(cfg); hours >= 0 {
		args = append(args, "--idle-shutdown-hours", strconv.Itoa(hours))
	}

	spec := process.Spec{
		Path:       binary,
		Args:       args,
		Env:        []string{"RUST_LOG=" + level},
		OutFile:    outFile,
		Persistent: cfg.Persistent(),
	}
	if cfg.ShowTerminal {
		spec.Echo = c.out
	}
	if spec.Persistent {
		c.logf("Running kernel supervisor with nohup to persist sessions")
	}

	c.logf("Starting kernel supervisor %s with connection file %s", binary, connFile)
	began := time.Now()

	c.mu.Lock()
	gate := c.barrier
	c.mu.Unlock()

	proc, err := c.spawner.Spawn(ctx, spec)
	if err != nil {
		return kserrors.Wrap(kserrors.CodeSpawnFailed, "failed to launch kernel supervisor", err)
	}

	c.mu.Lock()
	c.proc = proc
	c.outFiles = append(c.outFiles, outFile)
	c.mu.Unlock()

	defer func() {
		if err == nil {
			return
		}
		c.mu.Lock()
		if c.proc == proc {
			c.proc = nil
		}
		c.mu.Unlock()
		proc.Dispose()
	}()

	c.wg.Add(1)
	go c.watchStartup(proc, gate, outFile, began)

	st, err := c.waitForConnectionFile(ctx, proc, connFile, outFile, began, t)
	if err != nil {
		return err
	}

	if proxy := client.ProxyFromEnvironment(); proxy != "" {
		c.logf("HTTP proxy set to %s; exempting supervisor at localhost:%d", proxy, st.Port)
	}
	c.api.SetConnection(st.BasePath, st.BearerToken)

	status, err := c.waitForReady(ctx, proc, outFile, began, t)
	if err != nil {
		return err
	}

	pid := proc.PID()
	if status.ProcessID != 0 && status.ProcessID != pid {
		c.logf("Running as pid %d (launcher pid %d)", status.ProcessID, pid)
		pid = status.ProcessID
	}
	c.checkVersion(cfg.ExpectedVersion, status.Version)
	c.logf("Kernel supervisor started in %dms", time.Since(began).Milliseconds())

	c.attachStreamer(logFile)

	saved := &state.ServerState{
		Port:        st.Port,
		BasePath:    st.BasePath,
		ServerPath:  binary,
		ServerPID:   pid,
		BearerToken: st.BearerToken,
		LogPath:     logFile,
	}
	if err := c.store.Save(ctx, saved); err != nil {
		c.logf("Failed to save server state: %s", summarize(err))
	}

	c.mu.Lock()
	c.newSupervisor = true
	c.serverPID = pid
	c.basePath = st.BasePath
	c.logPath = logFile
	c.version = status.Version
	c.mu.Unlock()

	gate.Open()
	c.metrics.ServerUp.Set(1)
	c.metrics.StartAttempts.WithLabelValues("started").Inc()
	c.logger.Info("kernel supervisor ready",
		zap.Int("pid", pid),
		zap.String("base_path", st.BasePath),
		zap.String("version", status.Version))
	c.publish(events.SupervisorStarted, map[string]interface{}{
		"pid":       pid,
		"version":   status.Version,
		"base_path": st.BasePath,
	})
	return nil
}

// waitForConnectionFile polls for the file the server writes once it is
// listening.
func (c *Controller) waitForConnectionFile(ctx context.Context, proc process.Process, path, outFile string, began time.Time, t timing) (*state.ServerState, error) {
	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()

	for attempt := 0; ; attempt++ {
		st, err := state.ReadConnectionFile(path)
		if err == nil {
			c.logf("Read connection information from %s: %s", path, st.BasePath)
			return st, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			c.logf("Error reading connection file (attempt %d): %s", attempt, summarize(err))
		}

		if exited(proc) {
			msg := withOutput("The supervisor process exited unexpectedly during startup", outFile)
			c.logf("%s", msg)
			return nil, kserrors.New(kserrors.CodeProcessExited, msg)
		}

		if elapsed := time.Since(began); elapsed > t.startup {
			msg := withOutput(fmt.Sprintf("Connection file was not created after %dms", elapsed.Milliseconds()), outFile)
			c.logf("%s", msg)
			return nil, kserrors.New(kserrors.CodeConnectionFileTimeout, msg)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-proc.Exited():
		case <-ticker.C:
		}
	}
}

// waitForReady polls the status endpoint until the server answers.
func (c *Controller) waitForReady(ctx context.Context, proc process.Process, outFile string, began time.Time, t timing) (*client.ServerStatus, error) {
	progress := rate.Sometimes{Every: 5}

	for attempt := 0; ; attempt++ {
		status, err := c.api.ServerStatus(ctx)
		if err == nil {
			c.logf("Kernel supervisor %s online with %d sessions", status.Version, status.Sessions)
			return status, nil
		}

		if exited(proc) {
			msg := "The supervisor process exited before the server was ready."
			c.logf("%s", msg)
			return nil, kserrors.New(kserrors.CodeProcessExited, msg)
		}

		elapsed := time.Since(began)
		switch {
		case client.IsConnectionRefused(err):
			if elapsed >= t.startup {
				msg := withOutput(fmt.Sprintf("Kernel supervisor did not start after %dms", elapsed.Milliseconds()), outFile)
				c.logf("%s", msg)
				return nil, kserrors.New(kserrors.CodeStartTimeout, msg)
			}
			if attempt > 0 {
				progress.Do(func() {
					c.logf("Waiting for kernel supervisor to start (attempt %d, %dms)", attempt, elapsed.Milliseconds())
				})
			}
		case client.IsTimeout(err) && elapsed < t.startup:
			c.logf("Request for server status timed out; retrying (attempt %d, %dms)", attempt+1, elapsed.Milliseconds())
			continue
		default:
			c.logf("Failed to get initial server status; server may not be running or may not be ready. Error: %s", summarize(err))
			return nil, kserrors.Wrap(kserrors.CodeStatusFailed, "kernel supervisor status check failed", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(t.poll):
		}
	}
}

// watchStartup reports a server that exits after launch but before the
// Barrier opens.
func (c *Controller) watchStartup(proc process.Process, gate *barrier.Barrier, outFile string, began time.Time) {
	defer c.wg.Done()

	timer := time.NewTimer(startupWatchWindow - time.Since(began))
	defer timer.Stop()

	select {
	case <-proc.Exited():
	case <-gate.Done():
		return
	case <-timer.C:
		return
	case <-c.ctx.Done():
		return
	}
	if gate.IsOpen() {
		return
	}

	contents := process.ReadOutput(outFile)
	if code := proc.ExitCode(); code > 0 {
		c.logf("Supervisor process exited with exit code %d; output:\n%s", code, contents)
	} else {
		c.logf("Supervisor process exited unexpectedly; output:\n%s", contents)
	}
	c.notifier.Info("There was an error starting the kernel supervisor. Check the log for more information.")
}

func (c *Controller) checkVersion(expected, actual string) {
	if expected == "" {
		return
	}
	match := 0.0
	if actual == expected {
		match = 1
	}
	c.metrics.VersionMatches.WithLabelValues(actual).Set(match)
	if match == 1 {
		return
	}
	c.notifier.Warn(fmt.Sprintf(
		"Kernel supervisor version %s is unsupported (expected %s). This may result in unexpected behavior or errors.",
		actual, expected))
	c.publish(events.SupervisorVersion, map[string]interface{}{"version": actual, "expected": expected})
}

// attachStreamer replaces the log streamer with one following path.
func (c *Controller) attachStreamer(path string) {
	if path == "" {
		c.detachStreamer()
		return
	}
	s := logs.NewStreamer(path, c.out, c.logger)

	c.mu.Lock()
	old := c.streamer
	c.streamer = s
	level := c.cfg.LogLevel
	c.mu.Unlock()

	if old != nil {
		old.Dispose()
	}
	if err := s.Watch(c.ctx); err != nil {
		c.logf("Failed to stream kernel supervisor logs from %s: %v", path, err)
		return
	}
	c.logf("Streaming kernel supervisor logs from %s (log level: %s)", path, level)
}

func (c *Controller) detachStreamer() {
	c.mu.Lock()
	s := c.streamer
	c.streamer = nil
	c.mu.Unlock()
	if s != nil {
		s.Dispose()
	}
}

func exited(proc process.Process) bool {
	select {
	case <-proc.Exited():
		return true
	default:
		return false
	}
}

// withOutput appends captured process output to msg, if there is any.
func withOutput(msg, outFile string) string {
	if contents := process.ReadOutput(outFile); contents != "" {
		return msg + "; output:\n\n" + contents
	}
	return msg
}
