package common

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetBuildInfo_LinkTimeValuesWin(t *testing.T) {
	defer func(v, c, d string) { Version, GitCommit, BuildDate = v, c, d }(Version, GitCommit, BuildDate)
	Version, GitCommit, BuildDate = "v1.2.0", "abc1234", "2026-10-18T00:00:00Z"

	info := GetBuildInfo()
	assert.Equal(t, "v1.2.0", info.Version)
	assert.Equal(t, "abc1234", info.GitCommit)
	assert.Equal(t, "2026-10-18T00:00:00Z", info.BuildDate)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)

	assert.Equal(t, "v1.2.0", GetVersion())
	assert.Contains(t, GetFullVersion(), "commit abc1234")
	assert.Contains(t, GetFullVersion(), runtime.Version())
}

func TestGetBuildInfo_Unstamped(t *testing.T) {
	defer func(c, d string) { GitCommit, BuildDate = c, d }(GitCommit, BuildDate)
	GitCommit, BuildDate = "", ""

	info := GetBuildInfo()
	assert.NotEmpty(t, info.GitCommit, "falls back to the VCS stamp or unknown")
	assert.NotEmpty(t, info.BuildDate)
}

func TestBuildInfo_Commit(t *testing.T) {
	assert.Equal(t, "abc", BuildInfo{GitCommit: "abc"}.Commit())
	assert.Equal(t, "abc-dirty", BuildInfo{GitCommit: "abc", Modified: true}.Commit())
	assert.Equal(t, "0123456789ab", shortRevision("0123456789abcdef0123"))
}
