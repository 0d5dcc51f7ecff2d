package main

import (
	"os"
	_ "time/tzdata"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var logLevel string

// rootCmd runs the bot when invoked without a subcommand.
var rootCmd = &cobra.Command{
	Use:          "adbot",
	Short:        "Telegram bot for Active Directory administration",
	SilenceUsage: true,
	RunE:         runBot,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides LOG_LEVEL)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(adminsCmd)
	rootCmd.AddCommand(jobsCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("adbot failed")
		os.Exit(1)
	}
}
