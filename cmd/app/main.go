// Command app serves forecasts over HTTP and runs the job queue workers.
package main

import (
	"fmt"
	"os"

	"GridCast/internal/di"
	"GridCast/pkg/config"

	"github.com/spf13/cobra"
)

func main() {
	if err := newServeCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	configPath := "config/config.yaml"
	if v := os.Getenv("GRIDCAST_CONFIG"); v != "" {
		configPath = v
	}

	cmd := &cobra.Command{
		Use:           "app",
		Short:         "GridCast forecast API and job workers",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadWithEnv(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			app, cleanup, err := di.InitializeApp(cfg)
			if err != nil {
				return fmt.Errorf("initialize app: %w", err)
			}
			defer cleanup()
			// Run blocks until SIGINT or SIGTERM.
			return app.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&configPath, "config", configPath, "config file path (GRIDCAST_CONFIG)")
	return cmd
}
