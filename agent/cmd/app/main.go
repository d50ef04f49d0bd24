package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:          "curve-watch",
		Short:        "Bonding curve monitor and Telegram alert bot",
		SilenceUsage: true,
		RunE:         runAgent,
	}
	root.PersistentFlags().String("config", "agent/config.yaml", "config file path (optional)")
	root.PersistentFlags().String("env-file", ".env", "dotenv file loaded before configuration")
	root.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the Telegram bot, pollers and HTTP API",
		RunE:  runAgent,
	}
	root.AddCommand(runCmd)

	statusCmd := &cobra.Command{
		Use:   "status <token_address>",
		Short: "Fetch one token's metrics and print them as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatus,
	}
	root.AddCommand(statusCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
