// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"

	"github.com/go-resty/resty/v2"
)

// errorBody is the error payload returned by the server.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// HTTPError is returned when the server answers with a non-2xx status.
type HTTPError struct {
	StatusCode int
	Method     string
	URL        string
	Code       string
	Message    string
	Details    string
}

func newHTTPError(resp *resty.Response) *HTTPError {
	e := &HTTPError{
		StatusCode: resp.StatusCode(),
		Method:     resp.Request.Method,
		URL:        resp.Request.URL,
	}
	if body, ok := resp.Error().(*errorBody); ok && body != nil {
		e.Code = body.Code
		e.Message = body.Message
		e.Details = body.Details
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(resp.String())
	}
	if e.Message == "" {
		e.Message = http.StatusText(e.StatusCode)
	}
	return e
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.URL, e.StatusCode, e.Message)
}

// Summary returns a one-line description without the request URL.
func (e *HTTPError) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP %d", e.StatusCode)
	if e.Code != "" {
		fmt.Fprintf(&b, " (%s)", e.Code)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Details != "" {
		b.WriteString(" - ")
		b.WriteString(e.Details)
	}
	return b.String()
}

// IsConnectionRefused reports whether err was caused by the server refusing
// the connection, which usually means nothing is listening yet (or anymore).
func IsConnectionRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

// IsTimeout reports whether err is a request timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// StatusCode extracts the HTTP status from an *HTTPError.
func StatusCode(err error) (int, bool) {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode, true
	}
	return 0, false
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	code, ok := StatusCode(err)
	return ok && code == http.StatusNotFound
}
