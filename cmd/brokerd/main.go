// Brokerd is the lead routing daemon for insurance broker networks.
//
// It scores brokers on specialty match, historical performance, live
// capacity, geographic proximity, and experiment participation, then
// assigns each incoming lead to the best available broker over an HTTP
// API.
//
// Configuration is loaded from environment variables, optionally overlaid
// on a YAML file. See internal/config for details.
//
// Usage:
//
//	# Start the daemon with defaults (in-memory stores)
//	brokerd serve
//
//	# Run against PostgreSQL and NATS
//	DATABASE_URL=postgres://... NATS_URL=nats://localhost:4222 brokerd serve
//
//	# Apply the database schema
//	DATABASE_URL=postgres://... brokerd migrate
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/brokerd/internal/config"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "brokerd",
	Short: "Lead routing daemon for insurance broker networks",
	Long: `brokerd scores and assigns insurance leads to brokers using weighted
multi-factor scoring, live capacity tracking, and A/B experiments over
routing strategies.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the brokerd HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadWithFile(configPath)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return run(ctx, cfg)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the brokerd database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadWithFile(configPath)
		if err != nil {
			return err
		}
		if cfg.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for migrate")
		}
		return migrate(cmd.Context(), cfg.Database.URL)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("brokerd by Fyrsmith Labs\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
