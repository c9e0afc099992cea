// Package version carries build metadata, stamped at link time via
// -ldflags "-X ...".
package version

import (
	"fmt"
	"runtime"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// GetVersionInfo renders the full version line for the CLI.
func GetVersionInfo() string {
	return fmt.Sprintf("voiceloop version %s (commit: %s, built: %s, go: %s)",
		Version, GitCommit, BuildTime, runtime.Version())
}

// Short returns just the semantic version.
func Short() string {
	return Version
}
