package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"time"
)

var version = "" // Injected with a linker flag

// Version encapsulates all available information about the source code and
// the build.
type Version struct {
	// Version is a human-friendly version string.
	Version string
	// GitCommit is the ID (sha) of the last commit to the application's
	// source code that is included in this build.
	GitCommit string
	// GitTreeDirty is true if the application's source code contained
	// uncommitted changes at the time it was built.
	GitTreeDirty bool
	// GitCommitDate is the date of that last commit.
	GitCommitDate time.Time
	// GoVersion is the version of Go that was used to build the application.
	GoVersion string
	// Platform indicates the OS and CPU architecture for which the
	// application was built.
	Platform string
}

var ver Version

func init() {
	ver = Version{
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}

	if buildInfo, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range buildInfo.Settings {
			switch setting.Key {
			case "vcs.modified":
				ver.GitTreeDirty = setting.Value == "true"
			case "vcs.revision":
				ver.GitCommit = setting.Value
			case "vcs.time":
				if t, err := time.Parse(time.RFC3339, setting.Value); err == nil {
					ver.GitCommitDate = t
				}
			}
		}
	}

	// If we're missing the version string or commit info, or if the tree is
	// dirty, dynamically formulate a version string from available info...
	if version == "" || ver.GitCommit == "" || ver.GitTreeDirty {
		version = "devel"
		if len(ver.GitCommit) >= 7 {
			version = fmt.Sprintf("%s+%s", version, ver.GitCommit[0:7])
		} else {
			version = fmt.Sprintf("%s+unknown", version)
		}
		if ver.GitTreeDirty {
			version = fmt.Sprintf("%s.dirty", version)
		}
	}

	ver.Version = version
}

func GetVersion() Version {
	return ver
}
