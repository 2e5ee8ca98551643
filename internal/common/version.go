package common

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Build metadata, set at link time:
//
//	go build -ldflags "-X github.com/ternarybob/steamanim/internal/common.Version=v1.2.0 \
//	    -X github.com/ternarybob/steamanim/internal/common.GitCommit=$(git rev-parse --short HEAD) \
//	    -X github.com/ternarybob/steamanim/internal/common.BuildDate=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
//
// Values left empty are filled from the VCS stamp the toolchain embeds.
var (
	Version   = "dev"
	GitCommit = ""
	BuildDate = ""
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string
	GitCommit string
	BuildDate string
	Modified  bool // built from a tree with uncommitted changes
	GoVersion string
	Platform  string
}

// GetBuildInfo merges the link-time values with debug.ReadBuildInfo.
func GetBuildInfo() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.GitCommit == "" {
					info.GitCommit = shortRevision(s.Value)
				}
			case "vcs.time":
				if info.BuildDate == "" {
					info.BuildDate = s.Value
				}
			case "vcs.modified":
				info.Modified = s.Value == "true"
			}
		}
	}

	if info.GitCommit == "" {
		info.GitCommit = "unknown"
	}
	if info.BuildDate == "" {
		info.BuildDate = "unknown"
	}
	return info
}

// Commit returns the revision, marked when the tree was dirty.
func (b BuildInfo) Commit() string {
	if b.Modified {
		return b.GitCommit + "-dirty"
	}
	return b.GitCommit
}

func (b BuildInfo) String() string {
	return fmt.Sprintf("%s (commit %s, built %s, %s %s)", b.Version, b.Commit(), b.BuildDate, b.GoVersion, b.Platform)
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

// GetVersion returns the current version string
func GetVersion() string {
	return GetBuildInfo().Version
}

// GetFullVersion returns version with build info
func GetFullVersion() string {
	return GetBuildInfo().String()
}
