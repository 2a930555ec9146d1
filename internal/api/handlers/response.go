// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	kserrors "github.com/wingedpig/kernelsup/internal/errors"
	"github.com/wingedpig/kernelsup/internal/supervisor"
)

// Response is the standard API response wrapper.
type Response struct {
	Data  interface{} `json:"data,omitempty"`
	Error *ErrorInfo  `json:"error,omitempty"`
	Meta  *MetaInfo   `json:"meta,omitempty"`
}

// ErrorInfo contains error details.
type ErrorInfo struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// MetaInfo contains response metadata.
type MetaInfo struct {
	Timestamp time.Time `json:"timestamp"`
}

// Common error codes
const (
	ErrNotFound      = "NOT_FOUND"
	ErrBadRequest    = "BAD_REQUEST"
	ErrInternalError = "INTERNAL_ERROR"
	ErrUnavailable   = "UNAVAILABLE"
	ErrMethod        = "METHOD_NOT_ALLOWED"
)

// MethodNotAllowed answers a request whose path matched a route registered
// for other methods.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	WriteError(w, http.StatusMethodNotAllowed, ErrMethod,
		fmt.Sprintf("method %s not allowed on %s", r.Method, r.URL.Path))
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	resp := Response{
		Data: data,
		Meta: &MetaInfo{Timestamp: time.Now()},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// WriteError writes an error response.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteErrorWithDetails(w, status, code, message, nil)
}

// WriteErrorWithDetails writes an error response with details.
func WriteErrorWithDetails(w http.ResponseWriter, status int, code, message string, details map[string]interface{}) {
	resp := Response{
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
			Details: details,
		},
		Meta: &MetaInfo{Timestamp: time.Now()},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// WriteCodedError writes err using its stable code and summarized message.
func WriteCodedError(w http.ResponseWriter, err error) {
	if errors.Is(err, supervisor.ErrClosed) {
		WriteError(w, http.StatusServiceUnavailable, ErrUnavailable, err.Error())
		return
	}
	code := kserrors.GetCode(err)
	WriteError(w, statusForCode(code), code, kserrors.Summarize(err))
}

func statusForCode(code string) int {
	switch code {
	case kserrors.CodeSessionNotFound:
		return http.StatusNotFound
	case kserrors.CodeSessionNotRunning:
		return http.StatusConflict
	case kserrors.CodeConfigInvalid:
		return http.StatusBadRequest
	case kserrors.CodeBinaryNotFound, kserrors.CodeConnectionFileTimeout,
		kserrors.CodeProcessExited, kserrors.CodeStartTimeout,
		kserrors.CodeStatusFailed, kserrors.CodeSpawnFailed, kserrors.CodeNotStarted:
		return http.StatusServiceUnavailable
	case kserrors.CodeSessionCreateFailed, kserrors.CodeSessionRestoreFailed,
		kserrors.CodeSessionConnectFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
