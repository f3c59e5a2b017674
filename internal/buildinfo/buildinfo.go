// Package buildinfo holds build-time metadata injected via -ldflags.
package buildinfo

var (
	// Version is the semantic version of the build.
	Version = "dev"
	// Commit is the git commit hash of the build.
	Commit = "none"
	// BuildDate is the timestamp of the build.
	BuildDate = "unknown"
)
