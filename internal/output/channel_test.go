// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package output

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestChannel_AppendLine(t *testing.T) {
	ch := New(10, nil)

	ch.AppendLine("line 1")
	ch.AppendLine("line 2\nline 3\n")

	lines := ch.Lines(10)
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"line 1", "line 2", "line 3"}, lines)
	assert.Equal(t, int64(3), ch.Sequence())
}

func TestChannel_RingBehavior(t *testing.T) {
	ch := New(3, nil)
	for _, l := range []string{"a", "b", "c", "d", "e"} {
		ch.AppendLine(l)
	}

	assert.Equal(t, []string{"c", "d", "e"}, ch.All())
	assert.Equal(t, []string{"d", "e"}, ch.Lines(2))
	assert.Empty(t, ch.Lines(0))
}

func TestChannel_Clear(t *testing.T) {
	ch := New(10, nil)
	ch.AppendLine("stale")
	ch.Clear()

	assert.Equal(t, 0, ch.Size())
	assert.Empty(t, ch.All())

	ch.AppendLine("fresh")
	assert.Equal(t, []string{"fresh"}, ch.All())
	assert.Equal(t, int64(2), ch.Sequence())
}

func TestChannel_Logf(t *testing.T) {
	ch := New(10, nil)
	ch.now = func() time.Time {
		return time.Date(2026, 3, 1, 14, 5, 9, 0, time.FixedZone("X", 3600))
	}

	ch.Logf("Starting server %s", "kcserver")
	assert.Equal(t, []string{"13:05:09 [Client] Starting server kcserver"}, ch.All())
}

func TestChannel_ForwardsToLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ch := New(10, zap.New(core))

	ch.AppendLine("hello")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "hello", logs.All()[0].Message)
}

func TestChannel_Subscribe(t *testing.T) {
	ch := New(10, nil)
	sub := ch.Subscribe()

	ch.AppendLine("one")
	select {
	case l := <-sub:
		assert.Equal(t, "one", l.Text)
		assert.Equal(t, int64(1), l.Sequence)
	case <-time.After(time.Second):
		t.Fatal("no line delivered")
	}

	ch.Unsubscribe(sub)
	_, open := <-sub
	assert.False(t, open)

	// Unsubscribing twice is harmless.
	ch.Unsubscribe(sub)
}

func TestChannel_ConcurrentAppend(t *testing.T) {
	ch := New(1000, nil)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				ch.AppendLine("x")
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 500, ch.Size())
}
