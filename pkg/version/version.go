// Package version reports what build of verdict is running.
//
// The commit hash comes from the VCS metadata the Go toolchain stamps into
// every binary built inside a git checkout, so nothing has to be threaded
// through -ldflags. Binaries built outside a checkout (and test binaries)
// report "dev".
package version

import "runtime/debug"

// AppName prefixes version strings and user agents.
const AppName = "verdict"

// commitHashLen truncates the revision for display.
const commitHashLen = 8

// GitCommit is the abbreviated commit hash of this build, or "dev" when no
// VCS metadata is available.
var GitCommit = resolveCommit()

func resolveCommit() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && setting.Value != "" {
			if len(setting.Value) > commitHashLen {
				return setting.Value[:commitHashLen]
			}
			return setting.Value
		}
	}
	return "dev"
}

// Full returns the "verdict/<commit>" form used in logs and user agents.
func Full() string {
	return AppName + "/" + GitCommit
}
