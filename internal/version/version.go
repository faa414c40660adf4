// Package version exposes the build identity, settable via ldflags:
//
//	-X github.com/firewatch/firewatch/internal/version.Version=v0.3.0
package version

import "fmt"

var (
	// Version is the release tag, or "dev" for local builds.
	Version = "dev"
	// Commit is the short git SHA of the build.
	Commit = "unknown"
	// Date is the build timestamp.
	Date = "unknown"
)

// String renders the full build identity.
func String() string {
	return fmt.Sprintf("firewatch %s (%s, %s)", Version, Commit, Date)
}
