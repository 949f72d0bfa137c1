package main

import (
	"os"

	"github.com/fleetops/netagent/internal/env"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "netagent",
	Short: "Batch command orchestrator for a fleet of network devices",
	Long: `netagent dispatches read-only commands across a device fleet, with
connection reuse, retry on transient failures, and per-device result
aggregation. The assist subcommand exposes the same batch tool to a
language model.`,
}

var rootInventory string

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	rootCmd.PersistentFlags().StringVar(&rootInventory, "inventory", "", "Device inventory JSON file (overrides NETAGENT_INVENTORY)")
	rootCmd.AddCommand(
		newRunCmd(),
		newDispatchCmd(),
		newCheckCmd(),
		newAssistCmd(),
	)
	_ = env.Ensure()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("netagent command failed")
	}
}
