// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBus(t *testing.T) *MemoryBus {
	t.Helper()
	bus := NewMemoryBus(Config{Workspace: "ws", HistoryMaxEvents: 5})
	t.Cleanup(func() { bus.Close() })
	return bus
}

func TestMatch(t *testing.T) {
	tests := []struct {
		eventType, pattern string
		want               bool
	}{
		{"session.created", "session.*", true},
		{"session.created", "session.created", true},
		{"session.created", "supervisor.*", false},
		{"supervisor.started", "*.started", true},
		{"supervisor.start_failed", "*.started", false},
		{"anything", "*", true},
		{"sessionx.created", "session.*", false},
		{"", "*", false},
		{"a.b", "", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Match(tt.eventType, tt.pattern), "%s ~ %s", tt.eventType, tt.pattern)
	}
}

func TestSubscribeInvalidPattern(t *testing.T) {
	bus := newBus(t)
	for _, p := range []string{"", "a.*.*", "ses*ion", "*.*"} {
		_, err := bus.Subscribe(p, func(context.Context, Event) {})
		assert.Error(t, err, p)
	}
}

func TestPublishSync(t *testing.T) {
	bus := newBus(t)
	var got []Event
	_, err := bus.Subscribe("session.*", func(_ context.Context, e Event) { got = append(got, e) })
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), Event{Type: SessionCreated}))
	require.NoError(t, bus.Publish(context.Background(), Event{Type: SupervisorStarted}))

	require.Len(t, got, 1)
	assert.Equal(t, SessionCreated, got[0].Type)
	assert.NotEmpty(t, got[0].ID)
	assert.Equal(t, "ws", got[0].Workspace)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestPublishAsync(t *testing.T) {
	bus := newBus(t)
	var n atomic.Int32
	_, err := bus.SubscribeAsync("*", func(context.Context, Event) { n.Add(1) }, 10)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, bus.Publish(context.Background(), Event{Type: NoticeInfo}))
	}
	assert.Eventually(t, func() bool { return n.Load() == 3 }, time.Second, 5*time.Millisecond)
}

func TestHandlerPanicRecovered(t *testing.T) {
	bus := newBus(t)
	var called bool
	_, _ = bus.Subscribe("*", func(context.Context, Event) { panic("boom") })
	_, _ = bus.Subscribe("*", func(context.Context, Event) { called = true })

	require.NoError(t, bus.Publish(context.Background(), Event{Type: NoticeError}))
	assert.True(t, called)
}

func TestUnsubscribe(t *testing.T) {
	bus := newBus(t)
	var mu sync.Mutex
	count := 0
	id, err := bus.Subscribe("*", func(context.Context, Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	require.NoError(t, err)

	_ = bus.Publish(context.Background(), Event{Type: NoticeInfo})
	require.NoError(t, bus.Unsubscribe(id))
	_ = bus.Publish(context.Background(), Event{Type: NoticeInfo})

	assert.Equal(t, 1, count)
	assert.ErrorIs(t, bus.Unsubscribe(id), ErrSubscriptionNotFound)
}

func TestHistory(t *testing.T) {
	bus := newBus(t)
	for i := 0; i < 7; i++ {
		typ := SessionCreated
		if i%2 == 1 {
			typ = SupervisorStarted
		}
		_ = bus.Publish(context.Background(), Event{Type: typ, Payload: map[string]interface{}{"i": i}})
	}

	all := bus.History(Filter{})
	require.Len(t, all, 5)
	assert.Equal(t, 2, all[0].Payload["i"])

	sessions := bus.History(Filter{Types: []string{"session.*"}})
	assert.Len(t, sessions, 3)

	last := bus.History(Filter{Limit: 2})
	require.Len(t, last, 2)
	assert.Equal(t, 6, last[1].Payload["i"])

	since := bus.History(Filter{Since: all[3].Timestamp})
	assert.LessOrEqual(t, len(since), 1)
}

func TestHistoryPrune(t *testing.T) {
	h := newHistory(10, time.Minute)
	now := time.Now()
	h.add(Event{Type: "a", Timestamp: now.Add(-2 * time.Minute)})
	h.add(Event{Type: "b", Timestamp: now})

	h.prune(now)

	got := h.query(Filter{})
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].Type)
}

func TestClosedBus(t *testing.T) {
	bus := NewMemoryBus(Config{})
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(context.Background(), Event{Type: NoticeInfo}), ErrBusClosed)
	_, err := bus.Subscribe("*", func(context.Context, Event) {})
	assert.ErrorIs(t, err, ErrBusClosed)
}
