// Package version carries build metadata for the newtdeploy binary.
package version

import (
	"fmt"
	"runtime"
)

// Version, GitCommit, and BuildDate are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/newtron-network/newtdeploy/pkg/version.Version=v1.0.0 \
//	  -X github.com/newtron-network/newtdeploy/pkg/version.GitCommit=abc1234 \
//	  -X github.com/newtron-network/newtdeploy/pkg/version.BuildDate=2026-01-01T00:00:00Z"
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info returns a formatted version string for display.
func Info() string {
	return fmt.Sprintf("newtdeploy %s (%s) built %s, %s", Version, GitCommit, BuildDate, runtime.Version())
}

// Dev reports whether the binary was built without release ldflags.
func Dev() bool { return Version == "dev" }
