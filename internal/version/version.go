package version

import (
	"fmt"
	"runtime"
)

// Build-time variables injected via ldflags
var (
	// Version is the semantic version, injected at build time
	Version = "dev"

	// GitCommit is the git commit hash, injected at build time
	GitCommit = "unknown"

	// BuildDate is the build date, injected at build time
	BuildDate = "unknown"

	// GoVersion is the Go version used to build
	GoVersion = runtime.Version()
)

// Info returns the short version string.
func Info() string {
	return Version
}

// Full returns the version with the commit hash when one is known.
func Full() string {
	if GitCommit != "" && GitCommit != "unknown" && len(GitCommit) >= 7 {
		return fmt.Sprintf("%s (%s)", Version, GitCommit[:7])
	}
	return Version
}
