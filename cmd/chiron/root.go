package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/chiron/internal/adapter/factory"
	"github.com/smallbiznis/chiron/internal/chiron"
	"github.com/smallbiznis/chiron/internal/clock"
	"github.com/smallbiznis/chiron/internal/config"
	"github.com/smallbiznis/chiron/internal/events"
	"github.com/smallbiznis/chiron/internal/observability"
	"github.com/smallbiznis/chiron/internal/ratelimit"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type rootOptions struct {
	configPath string
	migrate    bool
	timeout    time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "chiron",
		Short: "chiron - self-hosted subscription and entitlement core",
		Long: `chiron keeps customers and their payment provider subscriptions in your
own database and answers which access levels a customer holds.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML config file (overrides CHIRON_CONFIG)")
	root.PersistentFlags().BoolVar(&opts.migrate, "migrate", false, "apply schema changes before running the command")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "startup and shutdown timeout")

	root.AddCommand(
		newMigrateCmd(opts),
		newSyncCmd(opts),
		newAccessLevelsCmd(opts),
		newCustomerCmd(opts),
		newStripeEventCmd(opts),
	)
	return root
}

// modules is the application graph shared by every command.
func modules(opts *rootOptions) fx.Option {
	return fx.Options(
		config.Module,
		fx.Decorate(func(cfg config.Config) config.Config {
			if opts.configPath != "" {
				cfg.ConfigPath = opts.configPath
			}
			if opts.migrate {
				cfg.DBMigrate = true
			}
			return cfg
		}),
		observability.Module,
		clock.Module,
		events.Module,
		factory.Module,
		ratelimit.Module,
		chiron.Module,
	)
}

// withChiron boots the graph, runs fn, then stops the graph.
func withChiron(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, c *chiron.Chiron) error) error {
	var (
		c   *chiron.Chiron
		log *zap.Logger
	)
	app := fx.New(
		modules(opts),
		fx.NopLogger,
		fx.Populate(&c, &log),
	)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), opts.timeout)
		defer cancel()
		if err := app.Stop(stopCtx); err != nil {
			log.Warn("shutdown failed", zap.Error(err))
		}
	}()

	correlationID := uuid.NewString()
	started := time.Now()
	log = log.With(zap.String("command", cmd.CommandPath()), zap.String("correlation_id", correlationID))
	log.Info("command start")
	err := fn(cmd.Context(), c)
	log.Info("command end", zap.Int64("duration_ms", time.Since(started).Milliseconds()), zap.Error(err))
	return err
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
