// Package version holds the build-time version string, overridden via
// -ldflags "-X .../internal/version.Version=..." by release builds.
package version

// Version is "dev" unless set at link time.
var Version = "dev"
