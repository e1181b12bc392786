// Package version holds build metadata injected with -ldflags, e.g.
//
//	-X github.com/MeKo-Tech/overlay-ocr/internal/version.Version=v0.3.0
package version

import (
	"fmt"
	"runtime"
)

// Build-time variables set by ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info returns version information
func Info() (string, string, string) {
	return Version, GitCommit, BuildDate
}

// String formats the build metadata for --version and the version command.
func String() string {
	return fmt.Sprintf("overlay-ocr %s (commit: %s, built: %s, %s/%s)",
		Version, GitCommit, BuildDate, runtime.GOOS, runtime.GOARCH)
}
