// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wingedpig/kernelsup/internal/config"
	"github.com/wingedpig/kernelsup/internal/process"
	"github.com/wingedpig/kernelsup/internal/session"
	"github.com/wingedpig/kernelsup/internal/state"
	"github.com/wingedpig/kernelsup/pkg/client"
)

var errRefused = &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}

// fakeAPI stands in for the RPC client.
type fakeAPI struct {
	mu           sync.Mutex
	basePath     string
	token        string
	version      string
	statusPID    int
	statusErrs   []error
	statusCalls  int
	heartbeats   []int
	heartbeatErr error
	sessions     map[string]*client.ActiveSession
	sessionErrs  map[string]error
	getCalls     int
	configs      []client.ServerConfiguration
	shutdowns    int
	shutdownErr  error
	shutdownGate chan struct{} // ShutdownServer blocks until closed
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		version:     "1.0.0",
		sessions:    make(map[string]*client.ActiveSession),
		sessionErrs: make(map[string]error),
	}
}

func (f *fakeAPI) SetConnection(basePath, token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.basePath, f.token = basePath, token
}

func (f *fakeAPI) ServerStatus(ctx context.Context) (*client.ServerStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if len(f.statusErrs) > 0 {
		err := f.statusErrs[0]
		f.statusErrs = f.statusErrs[1:]
		return nil, err
	}
	return &client.ServerStatus{Version: f.version, Sessions: len(f.sessions), ProcessID: f.statusPID}, nil
}

func (f *fakeAPI) ClientHeartbeat(ctx context.Context, pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats = append(f.heartbeats, pid)
	return f.heartbeatErr
}

func (f *fakeAPI) GetSession(ctx context.Context, id string) (*client.ActiveSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if err := f.sessionErrs[id]; err != nil {
		return nil, err
	}
	s, ok := f.sessions[id]
	if !ok {
		return nil, &client.HTTPError{StatusCode: 404, Message: "Not Found"}
	}
	return s, nil
}

func (f *fakeAPI) SetServerConfiguration(ctx context.Context, cfg client.ServerConfiguration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs = append(f.configs, cfg)
	return nil
}

func (f *fakeAPI) ShutdownServer(ctx context.Context) error {
	f.mu.Lock()
	f.shutdowns++
	gate := f.shutdownGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shutdownErr
}

func (f *fakeAPI) shutdownCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shutdowns
}

func (f *fakeAPI) heartbeatCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.heartbeats)
}

func (f *fakeAPI) lastConfig() (client.ServerConfiguration, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.configs) == 0 {
		return client.ServerConfiguration{}, false
	}
	return f.configs[len(f.configs)-1], true
}

// fakeProc is a process handle whose exit is controlled by the test.
type fakeProc struct {
	pid      int
	exited   chan struct{}
	once     sync.Once
	mu       sync.Mutex
	code     int
	disposed int
}

func newFakeProc(pid int) *fakeProc {
	return &fakeProc{pid: pid, exited: make(chan struct{}), code: -1}
}

func (p *fakeProc) PID() int                { return p.pid }
func (p *fakeProc) Exited() <-chan struct{} { return p.exited }

func (p *fakeProc) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code
}

func (p *fakeProc) Dispose() error {
	p.mu.Lock()
	p.disposed++
	p.mu.Unlock()
	return nil
}

func (p *fakeProc) exit(code int) {
	p.once.Do(func() {
		p.mu.Lock()
		p.code = code
		p.mu.Unlock()
		close(p.exited)
	})
}

func (p *fakeProc) disposeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disposed
}

// fakeSpawner writes the connection file a real server would write.
type fakeSpawner struct {
	mu         sync.Mutex
	nextPID    int
	specs      []process.Spec
	procs      []*fakeProc
	noConnFile bool
	exitCode   *int
	output     string
	err        error
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{nextPID: 4242}
}

func (s *fakeSpawner) Spawn(ctx context.Context, spec process.Spec) (process.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.specs = append(s.specs, spec)
	p := newFakeProc(s.nextPID)
	s.nextPID++
	s.procs = append(s.procs, p)

	if err := os.WriteFile(spec.OutFile, []byte(s.output), 0600); err != nil {
		return nil, err
	}
	if s.exitCode != nil {
		p.exit(*s.exitCode)
		return p, nil
	}
	if !s.noConnFile {
		conn := argAfter(spec.Args, "--connection-file")
		data, _ := json.Marshal(map[string]interface{}{
			"port":         9000 + len(s.procs),
			"base_path":    fmt.Sprintf("http://127.0.0.1:%d/", 9000+len(s.procs)),
			"bearer_token": "token",
		})
		if err := os.WriteFile(conn, data, 0600); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (s *fakeSpawner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.specs)
}

func (s *fakeSpawner) spec(i int) process.Spec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.specs[i]
}

func (s *fakeSpawner) proc(i int) *fakeProc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[i]
}

func argAfter(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// fakeProber reports every pid alive unless marked dead.
type fakeProber struct {
	mu   sync.Mutex
	dead map[int]bool
}

func (p *fakeProber) IsAlive(pid int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.dead[pid]
}

func (p *fakeProber) kill(pid int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dead == nil {
		p.dead = make(map[int]bool)
	}
	p.dead[pid] = true
}

// fakeSession records what the controller does to it.
type fakeSession struct {
	h *harness

	meta session.Metadata

	mu          sync.Mutex
	state       session.State
	created     int
	restored    int
	connects    int
	disconnects int
	disposed    bool
	exit        *session.Exit
	offline     string
	handlers    map[int]func(session.DisconnectedEvent)
	nextID      int
}

func (s *fakeSession) ID() string { return s.meta.SessionID }

func (s *fakeSession) Create(ctx context.Context, kernel session.KernelSpec) error {
	if err := s.h.nextCreateErr(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created++
	s.state = session.StateConnected
	return nil
}

func (s *fakeSession) Start(ctx context.Context) error { return nil }

func (s *fakeSession) Restore(ctx context.Context, status *client.ActiveSession) error {
	s.h.mu.Lock()
	err := s.h.restoreErr
	s.h.mu.Unlock()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restored++
	s.state = session.StateConnected
	return nil
}

func (s *fakeSession) Connect(ctx context.Context) error {
	s.h.mu.Lock()
	err := s.h.connectErr
	s.h.mu.Unlock()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	s.state = session.StateConnected
	s.offline = ""
	return nil
}

func (s *fakeSession) Disconnect() {
	s.mu.Lock()
	s.disconnects++
	s.mu.Unlock()
}

func (s *fakeSession) MarkExited(code int, reason session.ExitReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == session.StateExited {
		return
	}
	s.state = session.StateExited
	s.exit = &session.Exit{Code: code, Reason: reason, Time: time.Now()}
}

func (s *fakeSession) MarkOffline(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = session.StateDisconnected
	s.offline = reason
}

func (s *fakeSession) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposed = true
}

func (s *fakeSession) State() session.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *fakeSession) Info() session.Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return session.Info{Metadata: s.meta, State: s.state, Exit: s.exit, Offline: s.offline}
}

func (s *fakeSession) OnDisconnect(fn func(session.DisconnectedEvent)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handlers == nil {
		s.handlers = make(map[int]func(session.DisconnectedEvent))
	}
	id := s.nextID
	s.nextID++
	s.handlers[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.handlers, id)
		s.mu.Unlock()
	}
}

// emit simulates the event stream dropping.
func (s *fakeSession) emit(reason session.DisconnectReason) {
	s.mu.Lock()
	prior := s.state
	s.state = session.StateDisconnected
	var fns []func(session.DisconnectedEvent)
	for _, fn := range s.handlers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	evt := session.DisconnectedEvent{SessionID: s.meta.SessionID, Reason: reason, State: prior, Time: time.Now()}
	for _, fn := range fns {
		fn(evt)
	}
}

func (s *fakeSession) exitInfo() *session.Exit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exit
}

func (s *fakeSession) isDisposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

func (s *fakeSession) offlineReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offline
}

func (s *fakeSession) connectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

// recNotifier records notices. Modal blocks until release is closed.
type recNotifier struct {
	mu      sync.Mutex
	infos   []string
	warns   []string
	errs    []string
	modals  []string
	release chan struct{}
}

func (n *recNotifier) Info(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.infos = append(n.infos, msg)
}

func (n *recNotifier) Warn(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.warns = append(n.warns, msg)
}

func (n *recNotifier) Error(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errs = append(n.errs, msg)
}

func (n *recNotifier) Modal(ctx context.Context, title, msg, button string) error {
	n.mu.Lock()
	n.modals = append(n.modals, title)
	release := n.release
	n.mu.Unlock()
	if release == nil {
		return nil
	}
	select {
	case <-release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *recNotifier) has(kind, substr string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	var list []string
	switch kind {
	case "info":
		list = n.infos
	case "warn":
		list = n.warns
	case "error":
		list = n.errs
	}
	for _, m := range list {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

func (n *recNotifier) modalCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.modals)
}

// countingKV records writes and deletes to the backing store in order.
type countingKV struct {
	*state.MemoryKV
	mu  sync.Mutex
	ops []string
}

func (k *countingKV) Set(ctx context.Context, key string, value []byte) error {
	k.mu.Lock()
	k.ops = append(k.ops, "set")
	k.mu.Unlock()
	return k.MemoryKV.Set(ctx, key, value)
}

func (k *countingKV) Delete(ctx context.Context, key string) error {
	k.mu.Lock()
	k.ops = append(k.ops, "delete")
	k.mu.Unlock()
	return k.MemoryKV.Delete(ctx, key)
}

func (k *countingKV) setCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	n := 0
	for _, op := range k.ops {
		if op == "set" {
			n++
		}
	}
	return n
}

func (k *countingKV) history() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]string(nil), k.ops...)
}

type harness struct {
	t        *testing.T
	cfg      config.SupervisorConfig
	api      *fakeAPI
	spawner  *fakeSpawner
	prober   *fakeProber
	kv       *countingKV
	store    *state.Store
	notifier *recNotifier

	mu         sync.Mutex
	createErrs []error
	restoreErr error
	connectErr error
	sessions   []*fakeSession
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	bin := filepath.Join(dir, "kcserver")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0755))

	cfg := config.SupervisorConfig{
		LogLevel:          "warn",
		ShutdownTimeout:   "immediately",
		HostMode:          config.HostDesktop,
		BinaryName:        "kcserver",
		BundledPath:       bin,
		HeartbeatInterval: "20s",
		StartupTimeout:    "2s",
		PollInterval:      "5ms",
		ReconnectTimeout:  "200ms",
		TempDir:           dir,
		FilePrefix:        "kernelsup",
		OutputLines:       1000,
	}
	kv := &countingKV{MemoryKV: state.NewMemoryKV()}
	return &harness{
		t:        t,
		cfg:      cfg,
		api:      newFakeAPI(),
		spawner:  newFakeSpawner(),
		prober:   &fakeProber{},
		kv:       kv,
		store:    state.NewStore(kv),
		notifier: &recNotifier{},
	}
}

func (h *harness) controller() *Controller {
	c := New(h.cfg, Deps{
		API:      h.api,
		Sessions: h.factory,
		Spawner:  h.spawner,
		Prober:   h.prober,
		Store:    h.store,
		Notifier: h.notifier,
	})
	h.t.Cleanup(func() { c.Close() })
	return c
}

func (h *harness) factory(meta session.Metadata, runtime session.RuntimeMetadata, dyn session.DynState) Session {
	s := &fakeSession{h: h, meta: meta}
	h.mu.Lock()
	h.sessions = append(h.sessions, s)
	h.mu.Unlock()
	return s
}

func (h *harness) nextCreateErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.createErrs) == 0 {
		return nil
	}
	err := h.createErrs[0]
	h.createErrs = h.createErrs[1:]
	return err
}

func (h *harness) sessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

func (h *harness) session(i int) *fakeSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions[i]
}

func (h *harness) saveState(st *state.ServerState) {
	h.t.Helper()
	require.NoError(h.t, h.store.Save(context.Background(), st))
}

func createRequest(id string) CreateRequest {
	return CreateRequest{
		Metadata: session.Metadata{SessionID: id, SessionName: "Python " + id},
		Runtime:  session.RuntimeMetadata{RuntimeID: "py", LanguageName: "Python"},
		Kernel:   session.KernelSpec{Argv: []string{"python", "-m", "ipykernel"}},
	}
}

func outputContains(c *Controller, substr string) bool {
	for _, line := range c.Output().All() {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

var errBoom = errors.New("boom")
