// Package cmd defines the CLI commands for the contestboard executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/contestboard/internal/config"
	"github.com/JakeFAU/contestboard/internal/contest"
	"github.com/JakeFAU/contestboard/internal/server"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the application surface the commands use. Tests inject a fake.
type App interface {
	Run(ctx context.Context) error
	RunOnce(ctx context.Context) (*contest.Snapshot, contest.Meta, error)
	Close(ctx context.Context) error
	Logger() *zap.Logger
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, path string) (App, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return server.Build(ctx, cfg)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contestboard",
		Short: "Scrapes the contest listing and serves it as a small JSON API.",
		Long: `contestboard periodically fetches the public contest listing, turns each
contest banner into a palettized bitmap for low-memory displays, and serves the
current contest list and build metadata over HTTP.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				return appInstance.Close(cmd.Context())
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newRefreshCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "contestboard: %v\n", err)
		os.Exit(1)
	}
}
