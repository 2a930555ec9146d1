// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"

	ps "github.com/mitchellh/go-ps"
	"golang.org/x/sys/unix"
)

// SignalProber checks liveness by sending signal 0, which has no effect on
// the target.
type SignalProber struct{}

// IsAlive reports whether pid exists. A permission error means the process
// exists but belongs to someone else.
func (SignalProber) IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// TableProber checks liveness by looking the pid up in the process table.
type TableProber struct{}

// IsAlive reports whether pid appears in the process table.
func (TableProber) IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := ps.FindProcess(pid)
	return err == nil && p != nil
}
