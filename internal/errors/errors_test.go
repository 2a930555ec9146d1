// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type statusErr struct{ code int }

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", e.code) }
func (e statusErr) Summary() string { return fmt.Sprintf("HTTP %d: not found", e.code) }

func TestCodedError_Error(t *testing.T) {
	err := New(CodeStartTimeout, "server did not start")
	assert.Equal(t, "supervisor.start_timeout: server did not start", err.Error())

	wrapped := Wrap(CodeStatusFailed, "status failed", errors.New("boom"))
	assert.Equal(t, "supervisor.status_failed: status failed (boom)", wrapped.Error())
	assert.Equal(t, "boom", errors.Unwrap(wrapped).Error())
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, "", GetCode(nil))
	assert.Equal(t, CodeUnknown, GetCode(errors.New("plain")))

	err := fmt.Errorf("outer: %w", New(CodeSessionNotRunning, "gone"))
	assert.Equal(t, CodeSessionNotRunning, GetCode(err))
	assert.True(t, IsCode(err, CodeSessionNotRunning))
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "", Summarize(nil))
	assert.Equal(t, "plain", Summarize(errors.New("plain")))

	joined := errors.Join(errors.New("first"), New(CodeSessionCreateFailed, "second"))
	assert.Equal(t, "first; second", Summarize(joined))

	coded := Wrap(CodeSessionRestoreFailed, "restore failed", statusErr{code: 404})
	assert.Equal(t, "restore failed: HTTP 404: not found", Summarize(coded))

	wrapped := fmt.Errorf("context: %w", statusErr{code: 500})
	assert.Equal(t, "HTTP 500: not found", Summarize(wrapped))
}
