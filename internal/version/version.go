/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version holds build information.
package version

import (
	"fmt"
	"runtime"
)

// Version is set at build time via ldflags:
//
//	-X github.com/friendsincode/grimnir_jukebox/internal/version.Version=X.Y.Z
var Version = "0.3.0"

// Commit is the git revision, set the same way.
var Commit = "dev"

// String returns a one-line description of the build.
func String() string {
	return fmt.Sprintf("grimnir-jukebox %s (%s, %s)", Version, Commit, runtime.Version())
}
