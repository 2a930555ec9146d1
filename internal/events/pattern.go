// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"errors"
	"strings"
)

// Match reports whether an event type matches a pattern.
// Patterns support a single wildcard segment at either end:
//   - "session.*" matches "session.created", "session.exited", ...
//   - "*.started" matches "supervisor.started"
//   - "*" matches everything
func Match(eventType, pattern string) bool {
	if pattern == "" || eventType == "" {
		return false
	}
	switch {
	case pattern == "*", pattern == eventType:
		return true
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(eventType, strings.TrimSuffix(pattern, "*"))
	case strings.HasPrefix(pattern, "*."):
		return strings.HasSuffix(eventType, strings.TrimPrefix(pattern, "*"))
	}
	return false
}

func validPattern(pattern string) error {
	if pattern == "" {
		return errors.New("empty pattern")
	}
	if strings.Count(pattern, "*") > 1 {
		return errors.New("pattern may contain at most one wildcard: " + pattern)
	}
	if i := strings.Index(pattern, "*"); i >= 0 && pattern != "*" &&
		!strings.HasSuffix(pattern, ".*") && !strings.HasPrefix(pattern, "*.") {
		return errors.New("wildcard must be a whole leading or trailing segment: " + pattern)
	}
	return nil
}
