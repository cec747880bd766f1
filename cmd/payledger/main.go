// Command payledger runs the payment ledger as an HTTP service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xraph/payledger"
	audithook "github.com/xraph/payledger/audit_hook"
	"github.com/xraph/payledger/extension"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "payledger",
		Short:         "payledger - transactional payment ledger",
		Long:          `payledger records charges, refunds, subscriptions and invoices exactly once, and applies signed provider webhooks idempotently.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to a YAML config file (PAYLEDGER_* environment variables override it)")

	root.AddCommand(
		newServeCmd(&configPath),
		newMigrateCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	var noAudit bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := payledger.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			opts := []extension.Option{extension.WithLogger(logger)}
			if !noAudit {
				opts = append(opts, extension.WithPlugin(
					audithook.New(audithook.LogRecorder(logger.With("component", "audit")),
						audithook.WithLogger(logger)),
				))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ext := extension.New(cfg, opts...)
			if err := ext.Init(ctx); err != nil {
				return err
			}
			if err := ext.Start(ctx); err != nil {
				_ = ext.Stop(context.Background())
				return err
			}

			serveErr := ext.Serve(ctx)
			logger.Info("shutting down")
			if err := ext.Stop(context.Background()); err != nil {
				logger.Error("shutdown failed", "error", err)
			}
			return serveErr
		},
	}
	cmd.Flags().BoolVar(&noAudit, "no-audit", false, "do not write audit events to the log")
	return cmd
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the store schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := payledger.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			s, err := extension.OpenStore(cmd.Context(), cfg.Store)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Migrate(cmd.Context()); err != nil {
				return err
			}
			logger.Info("store migrated", "driver", cfg.Store.Driver)
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %s store\n", cfg.Store.Driver)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "payledger %s\n", Version)
			if BuildTime != "unknown" {
				fmt.Fprintf(out, "Built: %s\n", BuildTime)
			}
			if GitCommit != "unknown" {
				fmt.Fprintf(out, "Commit: %s\n", GitCommit)
			}
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
