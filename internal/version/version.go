// Package version holds build identification stamped in at release time:
//
//	go build -ldflags "-X github.com/rzbill/engram/internal/version.Version=v0.2.0 \
//	  -X github.com/rzbill/engram/internal/version.Commit=$(git rev-parse --short HEAD)"
package version

var (
	// Version is the release tag, or a dev placeholder for local builds.
	Version = "v0.1.0-dev"
	// Commit is the short git hash of the build.
	Commit = "unknown"
)
