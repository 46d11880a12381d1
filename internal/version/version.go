// Package version carries the build identity stamped in via -ldflags:
//
//	go build -ldflags "-X github.com/keisium/ccrelay/internal/version.Version=v1.2.0"
package version

var (
	// Version is the release tag, "dev" for local builds.
	Version = "dev"

	// Commit is the short git revision.
	Commit = "none"

	// BuildTime is when the binary was produced.
	BuildTime = "unknown"
)
