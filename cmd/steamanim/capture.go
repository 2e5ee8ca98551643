package main

import (
	"github.com/spf13/cobra"

	"github.com/ternarybob/steamanim/internal/app"
)

var captureCmd = &cobra.Command{
	Use:   "capture-token",
	Short: "Sign in once and store the Steam Guard trust token",
	Long: `Signs in, answers the Steam Guard challenge (generated from the shared secret
or typed at the prompt) and writes the issued trust token to the configured
store. Later runs reuse the token and skip the challenge. With
steam.login_method = "qr" a QR code is drawn instead; scan it with the
Steam mobile app to approve the login.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		application, err := app.New(config, logger)
		if err != nil {
			return err
		}
		defer application.Close()

		return application.CaptureToken(ctx)
	},
}
