// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package version implements date-based versioning for the kernelsup API.
//
// Clients pin a version with the Kernelsup-Version header. When no header
// is provided, the latest version is used. A new dated version is added
// only for breaking changes to response shapes.
package version

import "context"

// Version constants. Add new versions here when making breaking changes.
const (
	// Version20261019 is the initial API version.
	Version20261019 = "2026-10-19"
)

// LatestVersion is the current default API version.
var LatestVersion = Version20261019

// Supported lists the versions the server answers to.
var Supported = []string{Version20261019}

// Header is the HTTP header used to specify the API version.
const Header = "Kernelsup-Version"

type contextKey string

const versionKey contextKey = "api-version"

// FromContext returns the API version from the context.
// Returns LatestVersion if not set.
func FromContext(ctx context.Context) string {
	v, ok := ctx.Value(versionKey).(string)
	if !ok || v == "" {
		return LatestVersion
	}
	return v
}

// WithContext returns a new context with the API version set.
func WithContext(ctx context.Context, version string) context.Context {
	return context.WithValue(ctx, versionKey, version)
}

// IsSupported reports whether v is a known version.
func IsSupported(v string) bool {
	for _, s := range Supported {
		if s == v {
			return true
		}
	}
	return false
}
