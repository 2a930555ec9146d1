// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package notify delivers user-facing notices over the event bus.
package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wingedpig/kernelsup/internal/events"
)

// Notifier shows messages to the user.
type Notifier interface {
	Info(msg string)
	Warn(msg string)
	Error(msg string)
	// Modal shows a blocking message and returns once the user dismisses it
	// or ctx is done.
	Modal(ctx context.Context, title, msg, button string) error
}

// ErrUnknownNotice is returned when acknowledging a notice that is not open.
var ErrUnknownNotice = errors.New("no open notice with that id")

// Notice is an open modal awaiting acknowledgement.
type Notice struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Text   string `json:"message"`
	Button string `json:"button"`
}

// BusNotifier publishes notices as notice.* events.
type BusNotifier struct {
	bus    events.Bus
	logger *zap.Logger

	mu   sync.Mutex
	open map[string]chan struct{}
	info map[string]Notice
}

// NewBusNotifier creates a notifier publishing to bus.
func NewBusNotifier(bus events.Bus, logger *zap.Logger) *BusNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BusNotifier{
		bus:    bus,
		logger: logger.Named("notify"),
		open:   make(map[string]chan struct{}),
		info:   make(map[string]Notice),
	}
}

func (n *BusNotifier) publish(typ string, payload map[string]interface{}) {
	if err := n.bus.Publish(context.Background(), events.Event{Type: typ, Payload: payload}); err != nil {
		n.logger.Debug("notice not published", zap.String("type", typ), zap.Error(err))
	}
}

// Info shows an informational message.
func (n *BusNotifier) Info(msg string) {
	n.logger.Info(msg)
	n.publish(events.NoticeInfo, map[string]interface{}{"message": msg})
}

// Warn shows a warning.
func (n *BusNotifier) Warn(msg string) {
	n.logger.Warn(msg)
	n.publish(events.NoticeWarn, map[string]interface{}{"message": msg})
}

// Error shows an error.
func (n *BusNotifier) Error(msg string) {
	n.logger.Error(msg)
	n.publish(events.NoticeError, map[string]interface{}{"message": msg})
}

// Modal publishes a modal notice and waits for Acknowledge.
func (n *BusNotifier) Modal(ctx context.Context, title, msg, button string) error {
	notice := Notice{ID: uuid.NewString(), Title: title, Text: msg, Button: button}
	done := make(chan struct{})

	n.mu.Lock()
	n.open[notice.ID] = done
	n.info[notice.ID] = notice
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		delete(n.open, notice.ID)
		delete(n.info, notice.ID)
		n.mu.Unlock()
	}()

	n.logger.Warn(msg, zap.String("title", title), zap.String("notice", notice.ID))
	n.publish(events.NoticeModal, map[string]interface{}{
		"id":      notice.ID,
		"title":   title,
		"message": msg,
		"button":  button,
	})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Acknowledge dismisses an open modal.
func (n *BusNotifier) Acknowledge(id string) error {
	n.mu.Lock()
	done, ok := n.open[id]
	if ok {
		delete(n.open, id)
	}
	n.mu.Unlock()
	if !ok {
		return ErrUnknownNotice
	}
	close(done)
	n.publish(events.NoticeAck, map[string]interface{}{"id": id})
	return nil
}

// Open lists modals awaiting acknowledgement.
func (n *BusNotifier) Open() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Notice, 0, len(n.info))
	for id, notice := range n.info {
		if _, pending := n.open[id]; pending {
			out = append(out, notice)
		}
	}
	return out
}
