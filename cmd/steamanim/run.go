package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ternarybob/steamanim/internal/app"
	"github.com/ternarybob/steamanim/internal/common"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Sign in and animate the profile (default)",
	Long: `Signs in, captures the current profile form once and then resubmits it on
every tick with the configured field replaced by the next frame. An expired web
session is re-acquired automatically. Stops on SIGINT or SIGTERM.`,
	RunE: runAnimate,
}

func runAnimate(cmd *cobra.Command, args []string) error {
	build := common.GetBuildInfo()
	common.PrintBanner(build)

	ctx, stop := signalContext()
	defer stop()

	application, err := app.New(config, logger)
	if err != nil {
		return err
	}
	defer application.Close()

	logger.Info().
		Str("version", build.Version).
		Str("commit", build.Commit()).
		Str("built", build.BuildDate).
		Msg("Starting animation - press Ctrl+C to stop")

	return application.Run(ctx)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
