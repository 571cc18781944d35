// cmd/flipperd/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AskeFunder/flipper-pro-sub000/internal/app"
	"github.com/AskeFunder/flipper-pro-sub000/internal/backfill"
	"github.com/AskeFunder/flipper-pro-sub000/internal/config"
	"github.com/AskeFunder/flipper-pro-sub000/internal/interval"
	"github.com/AskeFunder/flipper-pro-sub000/internal/joblock"
	"github.com/AskeFunder/flipper-pro-sub000/internal/metrics"
	"github.com/AskeFunder/flipper-pro-sub000/internal/poller"
	"github.com/AskeFunder/flipper-pro-sub000/internal/storage/postgres"
	"github.com/AskeFunder/flipper-pro-sub000/pkg/logger"
)

var cfgFile string

// bootstrap загружает конфиг, логгер и метрики — общий пролог всех
// команд. Метрики регистрируются здесь, а не только в app.Run: joblock
// инкрементирует счётчик контеншена и в однократных командах.
func bootstrap() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	metrics.Register(nil)
	return cfg, log, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	root := &cobra.Command{
		Use:   "flipperd",
		Short: "Item price aggregation service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer log.Sync()
			cfg.Print()

			ctx, stop := signalContext()
			defer stop()

			return app.Run(ctx, cfg, log)
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "config/config.yaml", "path to config file")

	root.AddCommand(backfillCmd())
	root.AddCommand(locksCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "flipperd: %v\n", err)
		os.Exit(1)
	}
}

// -----------------------------------------------------------------------------
// backfill
// -----------------------------------------------------------------------------

func backfillCmd() *cobra.Command {
	var (
		granularity string
		fromStr     string
		toStr       string
	)

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Load historical candles for one granularity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer log.Sync()

			g, err := interval.Parse(granularity)
			if err != nil {
				return err
			}
			from, err := time.Parse(time.RFC3339, fromStr)
			if err != nil {
				return fmt.Errorf("parse --from: %w", err)
			}
			to := time.Now().UTC()
			if toStr != "" {
				if to, err = time.Parse(time.RFC3339, toStr); err != nil {
					return fmt.Errorf("parse --to: %w", err)
				}
			}

			ctx, stop := signalContext()
			defer stop()

			store, err := postgres.New(ctx, cfg.Postgres, log)
			if err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			defer store.Close()

			locks, err := joblock.NewManager(cfg.Locks.Dir, log)
			if err != nil {
				return fmt.Errorf("joblock: %w", err)
			}
			defer locks.ReleaseAll()

			client, err := poller.NewClient(cfg.Upstream, log)
			if err != nil {
				return fmt.Errorf("upstream client: %w", err)
			}

			return backfill.New(client, store, locks, cfg.Backfill, log).Run(ctx, g, from, to)
		},
	}

	cmd.Flags().StringVar(&granularity, "granularity", "24h", "granularity to backfill (5m|1h|6h|24h)")
	cmd.Flags().StringVar(&fromStr, "from", "", "start of the range, RFC3339")
	cmd.Flags().StringVar(&toStr, "to", "", "end of the range, RFC3339 (default: now)")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

// -----------------------------------------------------------------------------
// locks
// -----------------------------------------------------------------------------

func locksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locks",
		Short: "Inspect and clear job locks",
	}

	inspect := &cobra.Command{
		Use:   "inspect <name>",
		Short: "Show lock owner and age",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer log.Sync()

			locks, err := joblock.NewManager(cfg.Locks.Dir, log)
			if err != nil {
				return err
			}
			info, err := locks.Inspect(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("lock %q: owner=%s age=%s\n", args[0], info.Owner, info.Age().Round(time.Second))
			return nil
		},
	}

	release := &cobra.Command{
		Use:   "release <name>",
		Short: "Force-remove a stale lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer log.Sync()

			locks, err := joblock.NewManager(cfg.Locks.Dir, log)
			if err != nil {
				return err
			}
			if err := locks.ForceRelease(args[0]); err != nil {
				return err
			}
			fmt.Printf("lock %q removed\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(inspect, release)
	return cmd
}
