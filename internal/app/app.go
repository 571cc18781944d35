// internal/app/app.go
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/AskeFunder/flipper-pro-sub000/internal/aggregate"
	"github.com/AskeFunder/flipper-pro-sub000/internal/config"
	"github.com/AskeFunder/flipper-pro-sub000/internal/httpapi"
	"github.com/AskeFunder/flipper-pro-sub000/internal/joblock"
	"github.com/AskeFunder/flipper-pro-sub000/internal/metrics"
	"github.com/AskeFunder/flipper-pro-sub000/internal/poller"
	"github.com/AskeFunder/flipper-pro-sub000/internal/scheduler"
	"github.com/AskeFunder/flipper-pro-sub000/internal/storage/postgres"
	"github.com/AskeFunder/flipper-pro-sub000/internal/storage/redis"
	"github.com/AskeFunder/flipper-pro-sub000/internal/trend"
	"github.com/AskeFunder/flipper-pro-sub000/pkg/httpserver"
	"github.com/AskeFunder/flipper-pro-sub000/pkg/logger"
	"github.com/AskeFunder/flipper-pro-sub000/pkg/telemetry"
)

// Run wires up and runs the flipper service.
func Run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	// -------------------------------------------------------------------------
	// 1) Prometheus-метрики
	// -------------------------------------------------------------------------
	metrics.Register(nil)

	// -------------------------------------------------------------------------
	// 2) OpenTelemetry
	// -------------------------------------------------------------------------
	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.Config{
		Endpoint:       cfg.Telemetry.OTLPEndpoint,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		Insecure:       cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		return fmt.Errorf("telemetry init: %w", err)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	// -------------------------------------------------------------------------
	// 3) Postgres + миграции
	// -------------------------------------------------------------------------
	store, err := postgres.New(ctx, cfg.Postgres, log)
	if err != nil {
		return fmt.Errorf("postgres init: %w", err)
	}
	defer store.Close()

	if cfg.Postgres.MigrationsDir != "" {
		if err := store.Migrate(ctx, cfg.Postgres.MigrationsDir); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	// -------------------------------------------------------------------------
	// 4) Redis-журнал мгновенных цен (опционально)
	// -------------------------------------------------------------------------
	var history poller.History
	if cfg.Redis.Enabled {
		hl, err := redis.New(ctx, cfg.Redis.History, log)
		if err != nil {
			return fmt.Errorf("redis init: %w", err)
		}
		defer func() { _ = hl.Close() }()
		history = hl
	}

	// -------------------------------------------------------------------------
	// 5) Joblock-менеджер
	// -------------------------------------------------------------------------
	locks, err := joblock.NewManager(cfg.Locks.Dir, log)
	if err != nil {
		return fmt.Errorf("joblock init: %w", err)
	}
	defer locks.ReleaseAll()

	// -------------------------------------------------------------------------
	// 6) Опрос, агрегация, планировщик
	// -------------------------------------------------------------------------
	client, err := poller.NewClient(cfg.Upstream, log)
	if err != nil {
		return fmt.Errorf("upstream client init: %w", err)
	}
	poll := poller.New(client, store, history, locks, log)

	eval := trend.New(log, cfg.Trend.VerboseAudit)
	batcher := aggregate.NewBatcher(store, eval, log)
	processor := aggregate.NewProcessor(batcher, store, store, locks, log)

	sched := scheduler.New(poll, processor, store, cfg.Scheduler, log)

	// -------------------------------------------------------------------------
	// 7) HTTP-server: метрики, health и read-API на одном порту
	// -------------------------------------------------------------------------
	readiness := func() error { return store.Ping(context.Background()) }
	api := httpapi.New(store, log)

	httpSrv, err := httpserver.New(cfg.HTTP, readiness, api.Routes(), log)
	if err != nil {
		return fmt.Errorf("http server init: %w", err)
	}

	// -------------------------------------------------------------------------
	// 8) Первичная синхронизация каталога
	// -------------------------------------------------------------------------
	if err := poll.SyncCatalog(ctx); err != nil {
		// Не фатально: каталог мог быть загружен прошлым запуском.
		log.Error("catalog sync failed, continuing with stored catalog", zap.Error(err))
	}

	log.Info("flipperd: components initialized, entering run-loop")

	// -------------------------------------------------------------------------
	// 9) Concurrent loops
	// -------------------------------------------------------------------------
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return httpSrv.Start(ctx) })
	g.Go(func() error { return sched.RunLatestLoop(ctx) })
	g.Go(func() error { return sched.RunChainLoop(ctx) })

	// -------------------------------------------------------------------------
	// 10) Wait & graceful shutdown
	// -------------------------------------------------------------------------
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.WithContext(ctx).Error("runtime error", zap.Error(err))
		return err
	}

	log.Info("flipperd shutdown complete")
	return nil
}
