// Package version carries build metadata injected with -ldflags.
package version

import (
	"fmt"
	"runtime/debug"
)

var (
	// Version is set by the release build; development builds fall back to module info.
	Version = "dev"

	// Commit is the git short hash of the build.
	Commit = "unknown"

	// Date is the build timestamp.
	Date = "unknown"
)

// Current returns Version, or the main module version from build info for
// `go install` builds that skipped ldflags.
func Current() string {
	if Version != "dev" {
		return Version
	}
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		return bi.Main.Version
	}
	return Version
}

// String is the one-line form printed by --version.
func String() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", Current(), Commit, Date)
}
