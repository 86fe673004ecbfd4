package main

import (
	"fmt"
	"os"

	"LendingPool/internal/config"
	"LendingPool/internal/observability"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	root := &cobra.Command{
		Use:           "lendingpool",
		Short:         "Event-sourced collateralized lending pool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./lendingpool.yaml or configs/lendingpool.yaml)")
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(serveCmd(), validateConfigCmd())

	if err := root.Execute(); err != nil {
		lg := observability.NewLogger("main")
		lg.Error().Err(err).Msg("exiting")
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the core, ingestion, workers and the gRPC/HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func validateConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "Load the service config and pool file and report problems",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			poolCfg, err := config.LoadPoolConfig(cfg.PoolFile)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: pool %q with %d reserves, %d emission targets\n",
				poolCfg.Name, len(poolCfg.Reserves), len(poolCfg.Emissions))
			return nil
		},
	}
}
