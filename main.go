// Package main is the entry point for the Watchtower SIEM server.
package main

import (
	"context"
	"fmt"
	"os"

	"watchtower/bootstrap"
	"watchtower/cmd"
	_ "watchtower/docs"

	"github.com/spf13/cobra"
)

// @title Watchtower SIEM API
// @version 1.0
// @description Security event ingestion, correlation, alert triage and incident management.
// @BasePath /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

// run initializes and starts the Watchtower server.
func run(configFile string) error {
	ctx := context.Background()

	app, err := bootstrap.NewApp(ctx, bootstrap.Options{ConfigFile: configFile})
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	if err := app.Start(ctx); err != nil {
		app.Shutdown()
		return fmt.Errorf("failed to start application: %w", err)
	}

	app.WaitForShutdown()
	app.Shutdown()
	return nil
}

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:   "watchtower",
		Short: "Watchtower SIEM server",
		Long: `Watchtower ingests security events, correlates them into alerts and
tracks incidents. Without a subcommand it runs the server.`,
		SilenceUsage: true,
		RunE: func(c *cobra.Command, args []string) error {
			return run(configFile)
		},
	}
	root.Flags().StringVar(&configFile, "config", "", "Config file path (default: ./config.yaml)")
	root.AddCommand(cmd.NewRulesCmd())
	return root
}

// main is the entry point.
func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
