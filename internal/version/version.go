// Package version holds build information injected at link time.
package version

import "fmt"

var (
	Version   = "0.1.0-dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GoVersion = "unknown"
)

// SetInfo overrides the build information; empty values are ignored.
func SetInfo(v, bt, gc, gv string) {
	if v != "" {
		Version = v
	}
	if bt != "" {
		BuildTime = bt
	}
	if gc != "" {
		GitCommit = gc
	}
	if gv != "" {
		GoVersion = gv
	}
}

// Summary returns a one-line description of the build.
func Summary() string {
	return fmt.Sprintf("simcron %s (commit %s, built %s, %s)", Version, GitCommit, BuildTime, GoVersion)
}

// Details returns the multi-line output of the version command.
func Details() string {
	return fmt.Sprintf("simcron - simulation job dispatcher and transfer recovery\nVersion: %s\nBuild Time: %s\nGit Commit: %s\nGo Version: %s",
		Version, BuildTime, GitCommit, GoVersion)
}
