// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"sync"
	"time"
)

// history keeps the most recent events, bounded by count and age.
type history struct {
	mu        sync.RWMutex
	events    []Event
	maxEvents int
	maxAge    time.Duration
}

func newHistory(maxEvents int, maxAge time.Duration) *history {
	if maxEvents <= 0 {
		maxEvents = 1000
	}
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &history{maxEvents: maxEvents, maxAge: maxAge}
}

func (h *history) add(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, e)
	if len(h.events) > h.maxEvents {
		h.events = append([]Event(nil), h.events[len(h.events)-h.maxEvents:]...)
	}
}

// query returns matching events, oldest first. Events are appended in
// publish order so no sort is needed.
func (h *history) query(f Filter) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Event, 0)
	for _, e := range h.events {
		if !f.Since.IsZero() && !e.Timestamp.After(f.Since) {
			continue
		}
		if len(f.Types) > 0 && !matchAny(e.Type, f.Types) {
			continue
		}
		out = append(out, e)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

func (h *history) prune(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cutoff := now.Add(-h.maxAge)
	i := 0
	for i < len(h.events) && h.events[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		h.events = append([]Event(nil), h.events[i:]...)
	}
}

func matchAny(eventType string, patterns []string) bool {
	for _, p := range patterns {
		if Match(eventType, p) {
			return true
		}
	}
	return false
}
