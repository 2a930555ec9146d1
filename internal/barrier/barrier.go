// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package barrier provides a one-shot gate that releases every waiter when
// opened. A barrier never closes again; callers that need a closed gate
// replace it with a new instance.
package barrier

import (
	"context"
	"sync"
)

// Barrier is a gate that is closed until Open is called.
type Barrier struct {
	once sync.Once
	ch   chan struct{}
}

// New returns a closed barrier.
func New() *Barrier {
	return &Barrier{ch: make(chan struct{})}
}

// Open releases all current and future waiters. Calling Open more than once
// has no effect.
func (b *Barrier) Open() {
	b.once.Do(func() { close(b.ch) })
}

// IsOpen reports whether the barrier has been opened.
func (b *Barrier) IsOpen() bool {
	select {
	case <-b.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed when the barrier opens.
func (b *Barrier) Done() <-chan struct{} {
	return b.ch
}

// Wait blocks until the barrier opens or ctx is done.
func (b *Barrier) Wait(ctx context.Context) error {
	select {
	case <-b.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
