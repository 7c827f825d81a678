// Package version carries build identification stamped in via ldflags.
package version

import (
	"fmt"
	"runtime"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GoVersion = runtime.Version()
)

// Short is a one-line identifier suitable for logs and startup banners.
func Short() string {
	return fmt.Sprintf("%s (%s)", Version, GitCommit)
}
