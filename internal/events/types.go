// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package events provides the in-process event bus that carries supervisor,
// session and notice events to observers.
package events

import (
	"context"
	"time"
)

// Event is an immutable event record.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Workspace string                 `json:"workspace,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// Handler processes received events.
type Handler func(ctx context.Context, event Event)

// SubscriptionID identifies a subscription.
type SubscriptionID string

// Filter selects events from history.
type Filter struct {
	Types []string  // patterns, see Match
	Since time.Time // events after this time
	Limit int       // most recent N
}

// Bus is the pub/sub interface used by the rest of the module.
type Bus interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(pattern string, handler Handler) (SubscriptionID, error)
	SubscribeAsync(pattern string, handler Handler, bufferSize int) (SubscriptionID, error)
	Unsubscribe(id SubscriptionID) error
	History(filter Filter) []Event
	Close() error
}

// Event types.
const (
	SupervisorStarting    = "supervisor.starting"
	SupervisorStarted     = "supervisor.started"
	SupervisorReconnected = "supervisor.reconnected"
	SupervisorStartFailed = "supervisor.start_failed"
	SupervisorExited      = "supervisor.exited"
	SupervisorRestarted   = "supervisor.restarted"
	SupervisorVersion     = "supervisor.version_mismatch"

	SessionCreated      = "session.created"
	SessionRestored     = "session.restored"
	SessionDisconnected = "session.disconnected"
	SessionReconnected  = "session.reconnected"
	SessionOffline      = "session.offline"
	SessionExited       = "session.exited"

	NoticeInfo  = "notice.info"
	NoticeWarn  = "notice.warn"
	NoticeError = "notice.error"
	NoticeModal = "notice.modal"
	NoticeAck   = "notice.ack"

	ConfigReloaded = "config.reloaded"
)
