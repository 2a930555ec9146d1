// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrBusClosed is returned when operating on a closed bus.
var ErrBusClosed = errors.New("event bus is closed")

// ErrSubscriptionNotFound is returned when unsubscribing an unknown ID.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// Config configures a MemoryBus.
type Config struct {
	Workspace        string
	HistoryMaxEvents int
	HistoryMaxAge    time.Duration
	Logger           *zap.Logger
}

// MemoryBus is an in-memory Bus.
type MemoryBus struct {
	workspace string
	logger    *zap.Logger
	history   *history

	mu     sync.RWMutex
	subs   map[SubscriptionID]*subscription
	closed atomic.Bool
	wg     sync.WaitGroup
	stop   chan struct{}
}

type subscription struct {
	pattern string
	handler Handler
	ch      chan Event // nil for synchronous subscribers
	stop    chan struct{}
}

// NewMemoryBus creates a bus and starts its history pruner.
func NewMemoryBus(cfg Config) *MemoryBus {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	bus := &MemoryBus{
		workspace: cfg.Workspace,
		logger:    logger.Named("events"),
		history:   newHistory(cfg.HistoryMaxEvents, cfg.HistoryMaxAge),
		subs:      make(map[SubscriptionID]*subscription),
		stop:      make(chan struct{}),
	}

	interval := bus.history.maxAge / 10
	if interval < time.Minute {
		interval = time.Minute
	}
	bus.wg.Add(1)
	go func() {
		defer bus.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-bus.stop:
				return
			case now := <-ticker.C:
				bus.history.prune(now)
			}
		}
	}()
	return bus
}

// Publish records the event and delivers it to matching subscribers.
// Synchronous handlers run on the caller's goroutine; async subscribers
// whose buffer is full miss the event.
func (bus *MemoryBus) Publish(ctx context.Context, event Event) error {
	if bus.closed.Load() {
		return ErrBusClosed
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Workspace == "" {
		event.Workspace = bus.workspace
	}
	bus.history.add(event)

	bus.mu.RLock()
	subs := make([]*subscription, 0, len(bus.subs))
	for _, s := range bus.subs {
		if Match(event.Type, s.pattern) {
			subs = append(subs, s)
		}
	}
	bus.mu.RUnlock()

	for _, s := range subs {
		if s.ch != nil {
			select {
			case s.ch <- event:
			default:
				bus.logger.Warn("dropped event, subscriber buffer full", zap.String("type", event.Type))
			}
			continue
		}
		bus.invoke(ctx, s.handler, event)
	}
	return nil
}

func (bus *MemoryBus) invoke(ctx context.Context, h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			bus.logger.Error("event handler panic", zap.String("type", event.Type), zap.Any("panic", r))
		}
	}()
	h(ctx, event)
}

// Subscribe registers a synchronous handler.
func (bus *MemoryBus) Subscribe(pattern string, handler Handler) (SubscriptionID, error) {
	return bus.add(pattern, &subscription{pattern: pattern, handler: handler})
}

// SubscribeAsync registers a handler that runs on its own goroutine behind a
// buffer of bufferSize events (100 if unset).
func (bus *MemoryBus) SubscribeAsync(pattern string, handler Handler, bufferSize int) (SubscriptionID, error) {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	s := &subscription{
		pattern: pattern,
		handler: handler,
		ch:      make(chan Event, bufferSize),
		stop:    make(chan struct{}),
	}
	id, err := bus.add(pattern, s)
	if err != nil {
		return "", err
	}

	bus.wg.Add(1)
	go func() {
		defer bus.wg.Done()
		for {
			select {
			case <-s.stop:
				return
			case e := <-s.ch:
				bus.invoke(context.Background(), handler, e)
			}
		}
	}()
	return id, nil
}

func (bus *MemoryBus) add(pattern string, s *subscription) (SubscriptionID, error) {
	if bus.closed.Load() {
		return "", ErrBusClosed
	}
	if err := validPattern(pattern); err != nil {
		return "", fmt.Errorf("subscribe: %w", err)
	}
	id := SubscriptionID(uuid.NewString())
	bus.mu.Lock()
	bus.subs[id] = s
	bus.mu.Unlock()
	return id, nil
}

// Unsubscribe removes a subscription.
func (bus *MemoryBus) Unsubscribe(id SubscriptionID) error {
	bus.mu.Lock()
	s, ok := bus.subs[id]
	delete(bus.subs, id)
	bus.mu.Unlock()
	if !ok {
		return ErrSubscriptionNotFound
	}
	if s.stop != nil {
		close(s.stop)
	}
	return nil
}

// History returns recorded events matching filter.
func (bus *MemoryBus) History(filter Filter) []Event {
	return bus.history.query(filter)
}

// Close stops all subscribers. Closing twice is a no-op.
func (bus *MemoryBus) Close() error {
	if bus.closed.Swap(true) {
		return nil
	}
	close(bus.stop)
	bus.mu.Lock()
	for _, s := range bus.subs {
		if s.stop != nil {
			close(s.stop)
		}
	}
	bus.subs = make(map[SubscriptionID]*subscription)
	bus.mu.Unlock()
	bus.wg.Wait()
	return nil
}
