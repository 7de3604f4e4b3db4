// Package version exposes build information injected at link time.
package version

import "fmt"

var (
	// Version is the release tag, set via -ldflags.
	Version = "dev"
	// Commit is the short git revision, set via -ldflags.
	Commit = "unknown"
)

// GetInfo returns a human-readable build string.
func GetInfo() string {
	if Commit == "unknown" {
		return Version
	}
	return fmt.Sprintf("%s (%s)", Version, Commit)
}
