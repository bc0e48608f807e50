// Package cmd defines the CLI commands for the newslens executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/newslens/newslens/internal/app"
)

var cfgFile string

// appKeyType is the key for storing the App in the command context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. It is a variable so tests can replace
// it with a mock factory.
var newApp = func(ctx context.Context) (*app.App, error) {
	return app.NewApp(ctx, cfgFile)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "newslens",
		Short: "Asynchronous news-article bias analysis service.",
		Long: `newslens accepts article URLs, extracts their content through an
archive-aware extraction chain, and runs an LLM bias and claims analysis,
streaming job progress to subscribers in real time.`,

		// Runs after flags are parsed but before the subcommand's RunE;
		// builds the service container and injects it into the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			instance, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, instance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if instance, ok := cmd.Context().Value(appKey).(*app.App); ok && instance != nil {
				instance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional; env vars used otherwise)")
	cmd.AddCommand(newServeCmd())
	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	instance, ok := ctx.Value(appKey).(*app.App)
	if !ok || instance == nil {
		return nil, fmt.Errorf("application services not initialized")
	}
	return instance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
