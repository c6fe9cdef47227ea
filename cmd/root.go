// Package cmd defines the CLI commands for the briefd executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/seo-brief/internal/config"
	"github.com/JakeFAU/seo-brief/internal/server"
)

// Runner is the part of the application the commands drive.
type Runner interface {
	Run(ctx context.Context) error
}

// newApp is the application factory. Tests swap it for a fake.
var newApp = func(ctx context.Context, cfg *config.Config) (Runner, error) {
	return server.Build(ctx, cfg)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "briefd",
		Short: "Background service that turns a topic into an SEO content brief.",
		Long: `briefd accepts a topic over HTTP, searches for the top ranking pages,
reads each competitor, asks a language model for a content brief and
streams progress to the browser until the HTML report is ready.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	cmd.AddCommand(newServeCmd(&cfgFile))
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
