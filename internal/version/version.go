package version

import (
	"fmt"
	"runtime"

	"github.com/oshokin/appkg/internal/codec"
)

var (
	// Version is the semantic version of the build. It can be overridden via ldflags.
	Version = "0.1.0"
	// Commit is the short git SHA embedded at build time (or "none").
	Commit = "none"
	// BuildTime is the UTC build timestamp embedded at build time.
	BuildTime = "unknown"
)

// Short returns only the semantic version string.
func Short() string {
	return Version
}

// Full returns a human-readable version string with build metadata,
// the container format this build writes and the Go runtime it was built with.
func Full() string {
	return fmt.Sprintf("appkg %s (commit: %s, built at: %s, format: %s, %s %s/%s)",
		Version, Commit, BuildTime, codec.FormatV1, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
