package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ternarybob/steamanim/internal/models"
	"github.com/ternarybob/steamanim/internal/totp"
)

var codeCmd = &cobra.Command{
	Use:   "code",
	Short: "Print the current second-factor code",
	Long:  `Derives the code for the current window from steam.shared_secret and prints it with the seconds left in the window.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := config.Steam.SharedSecret
		if secret == "" {
			return models.NewError(models.KindConfiguration, "steam.shared_secret is not set", nil)
		}

		format, err := totp.ParseFormat(config.Steam.CodeFormat)
		if err != nil {
			return models.NewError(models.KindConfiguration, "invalid steam.code_format", err)
		}

		now := time.Now()
		code, err := totp.Generator{Format: format}.Code(secret, now)
		if err != nil {
			return models.NewError(models.KindInvalidSecret, "failed to generate code", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s (valid for %ds)\n", code, int(totp.TimeRemaining(now).Seconds()))
		return nil
	},
}
