// Package version reports the shaderx build.
package version

import (
	"fmt"
	"runtime/debug"
)

// Build information, set at link time:
//
//	go build -ldflags "-X github.com/alister-chowdhury/shader-explorer/pkg/version.Version=v0.3.0" ./cmd/shaderx
//
//nolint:gochecknoglobals // These must be package-level vars for ldflags injection.
var (
	// Version is the semantic version, or "dev" for local builds.
	Version = "dev"

	// Commit is the VCS revision of the build.
	Commit = "none"

	// Date is the build date in ISO format.
	Date = "unknown"
)

// String renders the build as "dev (none, unknown)". For local builds the
// revision recorded by the go tool is used when Commit was not injected.
func String() string {
	commit := Commit
	if commit == "none" {
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, s := range info.Settings {
				if s.Key == "vcs.revision" && s.Value != "" {
					commit = s.Value
					break
				}
			}
		}
	}
	return fmt.Sprintf("%s (%s, %s)", Version, commit, Date)
}
