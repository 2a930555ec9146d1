// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package process launches the supervisor server and answers questions
// about whether a process is still running.
package process

import (
	"context"
	"fmt"
)

// Spec describes a server launch.
type Spec struct {
	// Path is the binary to run.
	Path string
	// Args are passed to the binary.
	Args []string
	// Env holds extra KEY=VALUE pairs added to the inherited environment.
	Env []string
	// Dir is the working directory; empty means the current one.
	Dir string
	// OutFile receives the process's stdout and stderr.
	OutFile string
	// Persistent launches the process with nohup in a new session so it
	// outlives this client. Otherwise it runs attached to a pseudo-terminal
	// that is torn down by Dispose.
	Persistent bool
	// Echo, if set, receives each line of output as well.
	Echo LineSink
}

// LineSink receives process output one line at a time.
type LineSink interface {
	AppendLine(line string)
}

// Process is a launched server process.
type Process interface {
	// PID returns the process id of the launched process.
	PID() int
	// Exited is closed once the process has exited.
	Exited() <-chan struct{}
	// ExitCode returns the exit code, or -1 while running or if unknown.
	ExitCode() int
	// Dispose releases the process. A terminal-hosted process is hung up
	// and killed; a persistent one is left running.
	Dispose() error
}

// Spawner launches processes.
type Spawner interface {
	Spawn(ctx context.Context, spec Spec) (Process, error)
}

// Prober reports whether a process id refers to a running process. It is a
// best-effort check: a recycled pid looks alive and a hung process is
// indistinguishable from a healthy one.
type Prober interface {
	IsAlive(pid int) bool
}

// Probe kinds accepted by NewProber.
const (
	ProbeSignal = "signal"
	ProbeTable  = "table"
)

// NewProber returns the prober for kind. An empty kind selects the signal
// probe.
func NewProber(kind string) (Prober, error) {
	switch kind {
	case "", ProbeSignal:
		return SignalProber{}, nil
	case ProbeTable:
		return TableProber{}, nil
	default:
		return nil, fmt.Errorf("unknown liveness probe %q", kind)
	}
}
