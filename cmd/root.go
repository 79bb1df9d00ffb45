// Package cmd contains the nestbot CLI commands.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"nestbot/internal/config"
	"nestbot/internal/logging"
)

var (
	envFile string
	holder  *config.Holder
)

var rootCmd = &cobra.Command{
	Use:   "nestbot",
	Short: "OWASP Slack assistant",
	Long: `nestbot answers OWASP questions in Slack and serves the /projects,
/chapters, /contribute and related slash commands.

Example usage:
  nestbot serve                          # Run the bot
  nestbot ask "What is OWASP ZAP?"       # Answer one question from the terminal
  nestbot sync-messages                  # Index channel history once`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
}

func initConfig() error {
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		slog.Warn("Could not load env file", "file", envFile, "error", err)
	}

	logging.SetupLogger()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	holder = config.NewHolder(cfg)
	return nil
}
