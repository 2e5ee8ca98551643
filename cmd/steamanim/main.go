package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/steamanim/internal/common"
	"github.com/ternarybob/steamanim/internal/models"
)

var (
	// Command-line flags
	configFiles []string // Multiple -c flags supported, later files win
	interval    string
	logLevel    string

	// Global state
	config *common.Config
	logger arbor.ILogger
)

var rootCmd = &cobra.Command{
	Use:   "steamanim",
	Short: "Animate a Steam profile summary",
	Long: `steamanim signs in to a Steam account, keeps the Steam Guard trust token
on disk and rotates the profile summary through a list of frames.

Run without a subcommand to start the animation.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
	RunE:              runAnimate,
}

func init() {
	rootCmd.PersistentFlags().StringArrayVarP(&configFiles, "config", "c", nil, "Configuration file path (repeatable, later files override earlier ones)")
	rootCmd.PersistentFlags().StringVar(&interval, "interval", "", "Animation interval, e.g. 30s (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(codeCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig runs before every subcommand.
// Order: defaults -> file1 -> file2 -> ... -> env -> flags, then the logger.
func loadConfig(cmd *cobra.Command, args []string) error {
	if cmd == versionCmd {
		return nil
	}

	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("steamanim.toml"); err == nil {
			configFiles = append(configFiles, "steamanim.toml")
		} else if _, err := os.Stat("deployments/local/steamanim.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/steamanim.toml")
		}
	}

	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		return models.NewError(models.KindConfiguration, "failed to load configuration", err)
	}

	common.ApplyFlagOverrides(config, interval, logLevel)

	logger = common.InitLogger(config)

	logger.Debug().
		Strs("config_files", configFiles).
		Str("storage_type", config.Storage.Type).
		Str("log_level", config.Logging.Level).
		Strs("log_output", config.Logging.Output).
		Msg("Resolved configuration (sanitized)")

	return nil
}

func main() {
	common.InstallCrashHandler("")
	defer common.RecoverWithCrashFile()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode reports the error and maps it to the process exit status.
func exitCode(err error) int {
	l := logger
	if l == nil {
		l = common.GetLogger()
	}

	kind := models.KindOf(err)
	l.Error().Err(err).Str("kind", kind.String()).Msg("steamanim stopped")

	if kind == models.KindConfiguration {
		fmt.Fprintln(os.Stderr, "Check steam.account_name, steam.password and steam.shared_secret in the config file or the STEAM_* environment variables.")
	}
	return 1
}
