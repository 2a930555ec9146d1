// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"os"
	"path/filepath"
	"runtime"

	kserrors "github.com/wingedpig/kernelsup/internal/errors"
)

// BinaryName returns name with the platform's executable suffix.
func BinaryName(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}

// LocateBinary finds the server binary. Developer builds under each dev root
// (target/debug and target/release) win over the bundled copy; among them
// the most recently modified is chosen. The second result reports whether a
// developer build was picked.
func LocateBinary(devRoots []string, bundled, name string) (string, bool, error) {
	bin := BinaryName(name)

	var newest string
	var newestMod int64
	for _, root := range devRoots {
		for _, flavor := range []string{"debug", "release"} {
			candidate := filepath.Join(root, "target", flavor, bin)
			info, err := os.Stat(candidate)
			if err != nil || info.IsDir() {
				continue
			}
			if mod := info.ModTime().UnixNano(); newest == "" || mod > newestMod {
				newest, newestMod = candidate, mod
			}
		}
	}
	if newest != "" {
		return newest, true, nil
	}

	if bundled != "" {
		if info, err := os.Stat(bundled); err == nil && !info.IsDir() {
			return bundled, false, nil
		}
	}
	return "", false, kserrors.Newf(kserrors.CodeBinaryNotFound,
		"server binary %s not found (expected at %s)", bin, bundled)
}
