// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.StartAttempts.WithLabelValues("started").Inc()
	m.Heartbeats.WithLabelValues("ok").Add(2)
	m.ServerUp.Set(1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StartAttempts.WithLabelValues("started")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Heartbeats.WithLabelValues("ok")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["kernelsup_server_up"])
	assert.True(t, names["kernelsup_start_attempts_total"])
}

func TestNilRegistry(t *testing.T) {
	// Two private registries must not collide.
	New(nil)
	New(nil)
}

func TestResult(t *testing.T) {
	assert.Equal(t, "ok", Result(nil))
	assert.Equal(t, "failed", Result(errors.New("x")))
}
