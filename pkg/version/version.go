// Package version carries build metadata set with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/chriscow/rtvad/pkg/version.Version=v0.3.0"
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

// GetVersionInfo returns a one-line description of the build.
func GetVersionInfo() string {
	return fmt.Sprintf("rtvad version %s (commit: %s, built: %s, go: %s)",
		Version, GitCommit, BuildTime, runtime.Version())
}
