package common

import (
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner with the build metadata.
func PrintBanner(info BuildInfo) {
	b := banner.New().SetStyle(banner.StyleRound).SetWidth(64)

	b.PrintTopLine()
	b.PrintCenteredText("steamanim")
	b.PrintCenteredText("Steam profile animator")
	b.PrintSeparatorLine()
	b.PrintKeyValue("Version", info.Version, 9)
	b.PrintKeyValue("Commit", info.Commit(), 9)
	b.PrintKeyValue("Built", info.BuildDate, 9)
	b.PrintKeyValue("Runtime", info.GoVersion+" "+info.Platform, 9)
	b.PrintBottomLine()
}
