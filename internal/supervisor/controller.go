// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package supervisor keeps a connection to the kernel supervisor server.
//
// The Controller launches the server or reconnects to one left running by an
// earlier client, gates every operation on a started Barrier, sends client
// heartbeats, notices when the server process has died, and recovers or
// fails the sessions that depended on it.
//
// Exactly one start sequence runs at a time. Callers of EnsureStarted that
// arrive while a start is in flight share its outcome:
//
//	if err := ctl.EnsureStarted(ctx); err != nil {
//		return err
//	}
//	sess, err := ctl.CreateSession(ctx, req)
//
// When the server is confirmed dead the Barrier is replaced by a fresh closed
// one, never re-closed, so waiters on the old instance are not stranded.
package supervisor

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/wingedpig/kernelsup/internal/barrier"
	"github.com/wingedpig/kernelsup/internal/config"
	"github.com/wingedpig/kernelsup/internal/events"
	"github.com/wingedpig/kernelsup/internal/logs"
	"github.com/wingedpig/kernelsup/internal/metrics"
	"github.com/wingedpig/kernelsup/internal/notify"
	"github.com/wingedpig/kernelsup/internal/output"
	"github.com/wingedpig/kernelsup/internal/process"
	"github.com/wingedpig/kernelsup/internal/state"
)

// ErrClosed is returned by operations on a closed controller.
var ErrClosed = errors.New("supervisor controller is closed")

// startupWatchWindow bounds how long after launch an early exit is reported.
const startupWatchWindow = 5 * time.Minute

// Deps are the collaborators a Controller needs.
type Deps struct {
	API      ServerAPI
	Sessions SessionFactory
	Spawner  process.Spawner
	Prober   process.Prober
	Store    *state.Store
	Notifier notify.Notifier
	Output   *output.Channel
	Bus      events.Bus
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// Controller owns the lifecycle of the supervisor server.
type Controller struct {
	api      ServerAPI
	factory  SessionFactory
	spawner  process.Spawner
	prober   process.Prober
	store    *state.Store
	notifier notify.Notifier
	out      *output.Channel
	bus      events.Bus
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu            sync.Mutex
	cfg           config.SupervisorConfig
	timing        timing
	barrier       *barrier.Barrier
	resetCh       chan struct{} // closed whenever barrier is replaced
	attempt       *startAttempt
	sessions      []*tracked
	proc          process.Process
	streamer      *logs.Streamer
	connFile      string
	newSupervisor bool
	serverPID     int
	basePath      string
	logPath       string
	version       string
	outFiles      []string
	closed        bool

	exitGroup    singleflight.Group
	restarting   *semaphore.Weighted // one Restart at a time
	modalShowing atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type startAttempt struct {
	done chan struct{}
	err  error
}

type tracked struct {
	s     Session
	unsub func()
}

type timing struct {
	heartbeat time.Duration
	startup   time.Duration
	poll      time.Duration
	reconnect time.Duration
}

func timingFrom(cfg config.SupervisorConfig) timing {
	return timing{
		heartbeat: config.ParseDuration(cfg.HeartbeatInterval, 20*time.Second),
		startup:   config.ParseDuration(cfg.StartupTimeout, 10*time.Second),
		poll:      config.ParseDuration(cfg.PollInterval, 100*time.Millisecond),
		reconnect: config.ParseDuration(cfg.ReconnectTimeout, 2*time.Second),
	}
}

// New creates a controller. Nothing is started until EnsureStarted or Run.
func New(cfg config.SupervisorConfig, deps Deps) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	out := deps.Output
	if out == nil {
		out = output.New(cfg.OutputLines, logger)
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.New(nil)
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Controller{
		api:           deps.API,
		factory:       deps.Sessions,
		spawner:       deps.Spawner,
		prober:        deps.Prober,
		store:         deps.Store,
		notifier:      deps.Notifier,
		out:           out,
		bus:           deps.Bus,
		metrics:       m,
		logger:        logger.Named("supervisor"),
		cfg:           cfg,
		timing:        timingFrom(cfg),
		barrier:       barrier.New(),
		resetCh:       make(chan struct{}),
		connFile:      cfg.ConnectionFile,
		newSupervisor: true,
		restarting:    semaphore.NewWeighted(1),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Output returns the channel carrying client and server log lines.
func (c *Controller) Output() *output.Channel {
	return c.out
}

// EnsureStarted returns once the server is usable. A start already in flight
// is joined rather than repeated. Cancelling ctx abandons the wait but not
// the start itself.
func (c *Controller) EnsureStarted(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.barrier.IsOpen() {
		c.mu.Unlock()
		return nil
	}
	a := c.attempt
	if a == nil {
		a = &startAttempt{done: make(chan struct{})}
		c.attempt = a
		c.wg.Add(1)
		go c.runStart(a)
	}
	c.mu.Unlock()

	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) runStart(a *startAttempt) {
	defer c.wg.Done()
	began := time.Now()
	err := c.start(c.ctx)
	c.metrics.StartDuration.Observe(time.Since(began).Seconds())
	if err != nil {
		c.metrics.StartAttempts.WithLabelValues("failed").Inc()
		c.logger.Error("supervisor start failed", zap.Error(err))
		c.publish(events.SupervisorStartFailed, map[string]interface{}{"error": err.Error()})
	}

	c.mu.Lock()
	c.attempt = nil
	c.mu.Unlock()

	a.err = err
	close(a.done)
}

// Started reports whether the Barrier is open.
func (c *Controller) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.barrier.IsOpen()
}

// waitOpen blocks until the current Barrier opens, following resets. It
// never triggers a start.
func (c *Controller) waitOpen(ctx context.Context) (*barrier.Barrier, error) {
	for {
		c.mu.Lock()
		b, reset := c.barrier, c.resetCh
		c.mu.Unlock()

		select {
		case <-b.Done():
			if c.isCurrentOpen(b) {
				return b, nil
			}
		case <-reset:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *Controller) isCurrentOpen(b *barrier.Barrier) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.barrier == b && b.IsOpen()
}

// resetBarrierLocked replaces the Barrier with a closed one. Waiters on the
// old instance are released through resetCh.
func (c *Controller) resetBarrierLocked() {
	c.barrier = barrier.New()
	close(c.resetCh)
	c.resetCh = make(chan struct{})
	c.metrics.ServerUp.Set(0)
}

// Run starts the server eagerly and then sends heartbeats until ctx is done.
// A failed start is logged; the heartbeat loop waits for a later start.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.EnsureStarted(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		c.logf("Failed to start kernel supervisor: %s", summarize(err))
	}
	c.heartbeat(ctx)
	return nil
}

// Snapshot describes the current server connection.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	hours, _ := c.cfg.IdleShutdownHours()
	return Snapshot{
		Started:       c.barrier.IsOpen(),
		Starting:      c.attempt != nil,
		NewSupervisor: c.newSupervisor,
		PID:           c.serverPID,
		BasePath:      c.basePath,
		LogPath:       c.logPath,
		Version:       c.version,
		Sessions:      len(c.sessions),
		IdleHours:     hours,
	}
}

// Close disposes sessions and the log streamer, removes captured output
// files and releases a terminal-hosted server. A persistent server is left
// running for the next client.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	entries := c.sessions
	c.sessions = nil
	streamer := c.streamer
	c.streamer = nil
	proc := c.proc
	c.proc = nil
	files := c.outFiles
	c.outFiles = nil
	c.mu.Unlock()

	c.cancel()
	for _, t := range entries {
		t.unsub()
		t.s.Dispose()
	}
	if streamer != nil {
		streamer.Dispose()
	}
	var errs []error
	if proc != nil {
		if err := proc.Dispose(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, f := range files {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	c.wg.Wait()
	c.metrics.SessionsActive.Set(0)
	c.metrics.ServerUp.Set(0)
	return errors.Join(errs...)
}

func (c *Controller) logf(format string, args ...any) {
	c.out.Logf(format, args...)
}

func (c *Controller) publish(typ string, payload map[string]interface{}) {
	if c.bus == nil {
		return
	}
	if err := c.bus.Publish(context.Background(), events.Event{Type: typ, Payload: payload}); err != nil {
		c.logger.Debug("event not published", zap.String("type", typ), zap.Error(err))
	}
}

func (c *Controller) config() config.SupervisorConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

func (c *Controller) timings() timing {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timing
}
