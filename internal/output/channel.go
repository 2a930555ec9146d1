// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package output implements the supervisor output channel: a bounded,
// subscribable buffer of log lines from both the client and the server.
package output

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultCapacity = 5000

// Line is a single line with its sequence number.
type Line struct {
	Text     string `json:"text"`
	Sequence int64  `json:"sequence"`
}

// Channel is a thread-safe ring buffer of output lines. Every appended line
// is also forwarded to the structured logger.
type Channel struct {
	mu       sync.RWMutex
	lines    []string
	capacity int
	size     int
	head     int // next write position
	sequence int64

	subMu       sync.RWMutex
	subscribers map[chan Line]struct{}

	logger *zap.Logger
	now    func() time.Time
}

// New creates a channel holding at most capacity lines.
func New(capacity int, logger *zap.Logger) *Channel {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Channel{
		lines:       make([]string, capacity),
		capacity:    capacity,
		subscribers: make(map[chan Line]struct{}),
		logger:      logger,
		now:         time.Now,
	}
}

// AppendLine adds a line verbatim and notifies subscribers. Embedded
// newlines split the text into several lines.
func (c *Channel) AppendLine(text string) {
	text = strings.TrimSuffix(text, "\n")
	for _, line := range strings.Split(text, "\n") {
		c.append(line)
	}
}

// Logf appends a client message in the form "HH:MM:SS [Client] message",
// with the time in UTC.
func (c *Channel) Logf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.AppendLine(fmt.Sprintf("%s [Client] %s", c.now().UTC().Format("15:04:05"), msg))
}

func (c *Channel) append(line string) {
	c.mu.Lock()
	c.lines[c.head] = line
	c.head = (c.head + 1) % c.capacity
	if c.size < c.capacity {
		c.size++
	}
	c.sequence++
	seq := c.sequence
	c.mu.Unlock()

	c.logger.Info(line)

	// Notify subscribers (non-blocking)
	c.subMu.RLock()
	for ch := range c.subscribers {
		select {
		case ch <- Line{Text: line, Sequence: seq}:
		default:
			// Subscriber too slow
		}
	}
	c.subMu.RUnlock()
}

// Subscribe returns a channel that receives new lines. The channel has a
// buffer of 100 lines; lines are dropped for subscribers that fall behind.
func (c *Channel) Subscribe() chan Line {
	ch := make(chan Line, 100)
	c.subMu.Lock()
	c.subscribers[ch] = struct{}{}
	c.subMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (c *Channel) Unsubscribe(ch chan Line) {
	c.subMu.Lock()
	if _, ok := c.subscribers[ch]; ok {
		delete(c.subscribers, ch)
		close(ch)
	}
	c.subMu.Unlock()
}

// Lines returns the last n lines, oldest first.
func (c *Channel) Lines(n int) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if n <= 0 || c.size == 0 {
		return []string{}
	}
	if n > c.size {
		n = c.size
	}

	result := make([]string, n)
	start := (c.head - n + c.capacity) % c.capacity
	for i := 0; i < n; i++ {
		result[i] = c.lines[(start+i)%c.capacity]
	}
	return result
}

// All returns every buffered line.
func (c *Channel) All() []string {
	return c.Lines(c.Size())
}

// Clear drops all buffered lines. Sequence numbers keep increasing.
func (c *Channel) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.size = 0
	c.head = 0
	for i := range c.lines {
		c.lines[i] = ""
	}
}

// Size returns the number of buffered lines.
func (c *Channel) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.size
}

// Sequence returns the sequence number of the last appended line.
func (c *Channel) Sequence() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sequence
}
