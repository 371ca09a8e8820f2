package main

import (
	"os"

	"github.com/matheusmosca/order-saga-orchestrator/internal/config"
	"github.com/matheusmosca/order-saga-orchestrator/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	cfg    config.Config
	logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	rootCmd = &cobra.Command{
		Use:           "orders-saga",
		Short:         "Order saga orchestrator with event sourcing and circuit breakers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load()
			if err != nil {
				return err
			}
			cfg = loaded
			logger = logging.New(cfg.ServiceName, cfg.LogLevel)
			return nil
		},
	}
)

func init() {
	rootCmd.AddCommand(serveCmd, replayCmd, statsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error().Err(err).Msg("❌ command failed")
		os.Exit(1)
	}
}
