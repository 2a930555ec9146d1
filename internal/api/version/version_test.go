// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMiddleware(t *testing.T) {
	var seen string
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
	}))

	req := httptest.NewRequest("GET", "/api/v1/sessions", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, LatestVersion, seen)
	assert.Equal(t, LatestVersion, rec.Header().Get(Header))

	req = httptest.NewRequest("GET", "/api/v1/sessions", nil)
	req.Header.Set(Header, "1999-01-01")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "UNSUPPORTED_VERSION")
}

func TestFromContext_Default(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	assert.Equal(t, LatestVersion, FromContext(req.Context()))
}
