// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package errors provides coded errors for the supervisor client.
//
// Codes follow the format {domain}.{error}. They are stable and are returned
// to API callers alongside a human-readable message.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes by domain.
const (
	// Supervisor domain - launching and reaching the server
	CodeBinaryNotFound        = "supervisor.binary_not_found"
	CodeConnectionFileTimeout = "supervisor.connection_file_timeout"
	CodeProcessExited         = "supervisor.process_exited"
	CodeStartTimeout          = "supervisor.start_timeout"
	CodeStatusFailed          = "supervisor.status_failed"
	CodeSpawnFailed           = "supervisor.spawn_failed"
	CodeNotStarted            = "supervisor.not_started"

	// Session domain
	CodeSessionNotRunning    = "session.not_running"
	CodeSessionNotFound      = "session.not_found"
	CodeSessionCreateFailed  = "session.create_failed"
	CodeSessionRestoreFailed = "session.restore_failed"
	CodeSessionConnectFailed = "session.connect_failed"

	// State and config
	CodeStateCorrupt  = "state.corrupt"
	CodeStateFailed   = "state.failed"
	CodeConfigInvalid = "config.invalid"

	CodeUnknown = "error.unknown"
)

// CodedError wraps an error with a stable error code.
type CodedError struct {
	Code    string // Stable error code (e.g., "supervisor.start_timeout")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{Code: code, Message: message}
}

// Newf creates a new CodedError with a formatted message.
func Newf(code, format string, args ...any) *CodedError {
	return &CodedError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{Code: code, Message: message, Cause: cause}
}

// GetCode extracts the error code from an error, falling back to
// CodeUnknown for errors that carry none.
func GetCode(err error) string {
	if err == nil {
		return ""
	}
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeUnknown
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// Summarizer is implemented by errors that know how to describe themselves
// in one line, such as HTTP status errors.
type Summarizer interface {
	Summary() string
}

// Summarize flattens err into a single readable line. Joined errors are
// listed with "; ", coded errors contribute their message rather than their
// code, and errors implementing Summarizer contribute their summary.
func Summarize(err error) string {
	if err == nil {
		return ""
	}
	if s, ok := err.(Summarizer); ok {
		return s.Summary()
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var parts []string
		for _, e := range joined.Unwrap() {
			if msg := Summarize(e); msg != "" {
				parts = append(parts, msg)
			}
		}
		return strings.Join(parts, "; ")
	}
	if coded, ok := err.(*CodedError); ok {
		if coded.Cause == nil {
			return coded.Message
		}
		return coded.Message + ": " + Summarize(coded.Cause)
	}
	var s Summarizer
	if errors.As(err, &s) {
		return s.Summary()
	}
	return err.Error()
}
