// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kserrors "github.com/wingedpig/kernelsup/internal/errors"
)

type lineRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *lineRecorder) AppendLine(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}

func (r *lineRecorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func waitExit(t *testing.T, p Process) {
	t.Helper()
	select {
	case <-p.Exited():
	case <-time.After(10 * time.Second):
		t.Fatal("process did not exit")
	}
}

func TestSpawn_TerminalCapturesOutput(t *testing.T) {
	out := filepath.Join(t.TempDir(), "server.out.log")
	echo := &lineRecorder{}

	p, err := NewLocalSpawner(nil).Spawn(context.Background(), Spec{
		Path:    "/bin/sh",
		Args:    []string{"-c", "echo hello from $GREETING; exit 3"},
		Env:     []string{"GREETING=server"},
		OutFile: out,
		Echo:    echo,
	})
	require.NoError(t, err)
	assert.Greater(t, p.PID(), 0)

	waitExit(t, p)
	assert.Equal(t, 3, p.ExitCode())
	assert.Contains(t, ReadOutput(out), "hello from server")
	assert.Contains(t, echo.Lines(), "hello from server")
}

func TestSpawn_Persistent(t *testing.T) {
	out := filepath.Join(t.TempDir(), "server.out.log")

	p, err := NewLocalSpawner(nil).Spawn(context.Background(), Spec{
		Path:       "/bin/sh",
		Args:       []string{"-c", "echo persisted"},
		OutFile:    out,
		Persistent: true,
	})
	require.NoError(t, err)
	waitExit(t, p)

	assert.Equal(t, 0, p.ExitCode())
	assert.Contains(t, ReadOutput(out), "persisted")

	// Disposing a persistent process never kills it.
	assert.NoError(t, p.Dispose())
}

func TestSpawn_DisposeKillsTerminalProcess(t *testing.T) {
	out := filepath.Join(t.TempDir(), "server.out.log")

	p, err := NewLocalSpawner(nil).Spawn(context.Background(), Spec{
		Path:    "/bin/sh",
		Args:    []string{"-c", "sleep 30"},
		OutFile: out,
	})
	require.NoError(t, err)
	assert.Equal(t, -1, p.ExitCode())
	assert.True(t, SignalProber{}.IsAlive(p.PID()))

	require.NoError(t, p.Dispose())
	waitExit(t, p)
	assert.NoError(t, p.Dispose())
}

func TestSpawn_Errors(t *testing.T) {
	s := NewLocalSpawner(nil)
	out := filepath.Join(t.TempDir(), "server.out.log")

	_, err := s.Spawn(context.Background(), Spec{OutFile: out})
	assert.Error(t, err)

	_, err = s.Spawn(context.Background(), Spec{Path: "/nonexistent/kcserver", OutFile: out})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Spawn(ctx, Spec{Path: "/bin/true", OutFile: out})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProbers(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "exit 0")
	require.NoError(t, cmd.Run())
	deadPID := cmd.Process.Pid

	for _, kind := range []string{ProbeSignal, ProbeTable} {
		t.Run(kind, func(t *testing.T) {
			p, err := NewProber(kind)
			require.NoError(t, err)
			assert.True(t, p.IsAlive(os.Getpid()))
			assert.False(t, p.IsAlive(deadPID))
			assert.False(t, p.IsAlive(0))
			assert.False(t, p.IsAlive(-1))
		})
	}

	_, err := NewProber("psychic")
	assert.Error(t, err)
}

func touch(t *testing.T, path string, mod time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0755))
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func TestLocateBinary(t *testing.T) {
	dir := t.TempDir()
	devRoot := filepath.Join(dir, "kallichore")
	bundled := filepath.Join(dir, "resources", "kcserver")
	debug := filepath.Join(devRoot, "target", "debug", "kcserver")
	release := filepath.Join(devRoot, "target", "release", "kcserver")
	now := time.Now()

	t.Run("nothing found", func(t *testing.T) {
		_, _, err := LocateBinary([]string{devRoot}, bundled, "kcserver")
		require.Error(t, err)
		assert.Equal(t, kserrors.CodeBinaryNotFound, kserrors.GetCode(err))
		assert.Contains(t, err.Error(), bundled)
	})

	t.Run("bundled fallback", func(t *testing.T) {
		touch(t, bundled, now)
		path, dev, err := LocateBinary([]string{devRoot}, bundled, "kcserver")
		require.NoError(t, err)
		assert.Equal(t, bundled, path)
		assert.False(t, dev)
	})

	t.Run("debug build wins over bundled", func(t *testing.T) {
		touch(t, debug, now.Add(-time.Hour))
		path, dev, err := LocateBinary([]string{devRoot}, bundled, "kcserver")
		require.NoError(t, err)
		assert.Equal(t, debug, path)
		assert.True(t, dev)
	})

	t.Run("newest dev build wins", func(t *testing.T) {
		touch(t, release, now)
		path, _, err := LocateBinary([]string{devRoot}, bundled, "kcserver")
		require.NoError(t, err)
		assert.Equal(t, release, path)

		touch(t, debug, now.Add(time.Minute))
		path, _, err = LocateBinary([]string{devRoot}, bundled, "kcserver")
		require.NoError(t, err)
		assert.Equal(t, debug, path)
	})
}
