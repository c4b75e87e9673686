// Package buildconfig carries the version stamp linked into the binary.
package buildconfig

// Overridden at release time via
// -ldflags "-X .../internal/buildconfig.version=v1.2.3 -X .../internal/buildconfig.commit=abc1234".
var (
	version = "dev"
	commit  = "unknown"
)

// Version is the release tag baked into this binary, "dev" for local builds.
func Version() string { return version }

// Commit is the source revision baked into this binary.
func Commit() string { return commit }
