// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	maxLineLen      = 1024 * 1024
	copyDrainWindow = time.Second
)

// LocalSpawner launches processes on this host.
type LocalSpawner struct {
	logger *zap.Logger
}

// NewLocalSpawner creates a spawner.
func NewLocalSpawner(logger *zap.Logger) *LocalSpawner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalSpawner{logger: logger}
}

// Handle is a process started by LocalSpawner.
type Handle struct {
	spec   Spec
	logger *zap.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	pid      int
	pty      *os.File
	out      *os.File
	exitCode int
	disposed bool

	exited   chan struct{}
	copyDone chan struct{}
}

// Spawn starts spec. The context only bounds the launch itself; the process
// keeps running after ctx is done.
func (s *LocalSpawner) Spawn(ctx context.Context, spec Spec) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if spec.Path == "" {
		return nil, errors.New("empty command")
	}

	out, err := os.OpenFile(spec.OutFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening output file: %w", err)
	}

	h := &Handle{
		spec:     spec,
		logger:   s.logger,
		out:      out,
		exitCode: -1,
		exited:   make(chan struct{}),
		copyDone: make(chan struct{}),
	}

	if spec.Persistent {
		err = h.startPersistent()
	} else {
		err = h.startTerminal()
	}
	if err != nil {
		out.Close()
		return nil, err
	}

	s.logger.Info("server process started",
		zap.String("path", spec.Path),
		zap.Strings("args", spec.Args),
		zap.Int("pid", h.pid),
		zap.Bool("persistent", spec.Persistent))

	go h.waitForExit()
	return h, nil
}

func (h *Handle) command(name string, args ...string) *exec.Cmd {
	cmd := exec.Command(name, args...)
	cmd.Dir = h.spec.Dir
	cmd.Env = append(os.Environ(), h.spec.Env...)
	return cmd
}

// startTerminal runs the server attached to a pseudo-terminal, the way an
// interactive shell would host it.
func (h *Handle) startTerminal() error {
	cmd := h.command(h.spec.Path, h.spec.Args...)
	f, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("start process: %w", err)
	}
	h.cmd = cmd
	h.pid = cmd.Process.Pid
	h.pty = f
	go h.captureOutput(f)
	return nil
}

// startPersistent runs the server under nohup in its own session so it
// survives this client exiting.
func (h *Handle) startPersistent() error {
	name, args := h.spec.Path, h.spec.Args
	if nohup, err := exec.LookPath("nohup"); err == nil {
		name, args = nohup, append([]string{h.spec.Path}, h.spec.Args...)
	}
	cmd := h.command(name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	var pipe io.ReadCloser
	if h.spec.Echo != nil {
		r, w, err := os.Pipe()
		if err != nil {
			return fmt.Errorf("output pipe: %w", err)
		}
		cmd.Stdout, cmd.Stderr = w, w
		pipe = r
		defer w.Close()
	} else {
		cmd.Stdout, cmd.Stderr = h.out, h.out
		close(h.copyDone)
	}

	if err := cmd.Start(); err != nil {
		if pipe != nil {
			pipe.Close()
		}
		return fmt.Errorf("start process: %w", err)
	}
	h.cmd = cmd
	h.pid = cmd.Process.Pid
	if pipe != nil {
		go h.captureOutput(pipe)
	}
	return nil
}

// captureOutput copies output to the out file and, line by line, to the
// echo sink.
func (h *Handle) captureOutput(r io.ReadCloser) {
	defer close(h.copyDone)
	defer r.Close()

	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			h.out.WriteString(line)
			if h.spec.Echo != nil {
				line = strings.TrimRight(line, "\r\n")
				if len(line) > maxLineLen {
					line = line[:maxLineLen] + "... [truncated]"
				}
				h.spec.Echo.AppendLine(line)
			}
		}
		if err != nil {
			// A pty reports EIO once the child side closes.
			if err != io.EOF && !errors.Is(err, syscall.EIO) && !errors.Is(err, os.ErrClosed) {
				h.logger.Debug("output read error", zap.Int("pid", h.pid), zap.Error(err))
			}
			return
		}
	}
}

func (h *Handle) waitForExit() {
	err := h.cmd.Wait()

	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}

	// Let buffered output land in the out file before announcing the exit.
	select {
	case <-h.copyDone:
	case <-time.After(copyDrainWindow):
	}

	h.mu.Lock()
	h.exitCode = code
	if h.pty != nil {
		h.pty.Close()
	}
	h.out.Close()
	h.mu.Unlock()

	h.logger.Info("server process exited", zap.Int("pid", h.pid), zap.Int("code", code))
	close(h.exited)
}

// PID returns the process id.
func (h *Handle) PID() int {
	return h.pid
}

// Exited is closed when the process exits.
func (h *Handle) Exited() <-chan struct{} {
	return h.exited
}

// ExitCode returns the exit code, or -1 if the process has not exited.
func (h *Handle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

// Dispose hangs up a terminal-hosted process and kills its process group.
// A persistent process is left running.
func (h *Handle) Dispose() error {
	h.mu.Lock()
	if h.disposed {
		h.mu.Unlock()
		return nil
	}
	h.disposed = true
	persistent := h.spec.Persistent
	h.mu.Unlock()

	if persistent {
		return nil
	}

	select {
	case <-h.exited:
		return nil
	default:
	}

	// The pty child leads its own session; signal the whole group.
	unix.Kill(-h.pid, unix.SIGHUP)
	select {
	case <-h.exited:
	case <-time.After(5 * time.Second):
		unix.Kill(-h.pid, unix.SIGKILL)
		<-h.exited
	}
	return nil
}

// ReadOutput returns the contents of a captured output file, or "" if it
// cannot be read.
func ReadOutput(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
