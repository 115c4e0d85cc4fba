// Package version holds the build metadata printed by capture -version. The
// values are set at link time, e.g.
//
//	go build -ldflags "-X github.com/banshee-data/fusion.capture/internal/version.Version=v0.3.0" ./cmd/capture
package version

var (
	// Version is the release tag, "dev" for local builds.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is when the binary was linked.
	BuildTime = "unknown"
)
