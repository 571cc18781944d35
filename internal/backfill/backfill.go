// internal/backfill/backfill.go
package backfill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AskeFunder/flipper-pro-sub000/internal/interval"
	"github.com/AskeFunder/flipper-pro-sub000/internal/joblock"
	"github.com/AskeFunder/flipper-pro-sub000/internal/poller"
	"github.com/AskeFunder/flipper-pro-sub000/pkg/logger"
)

// Config управляет темпом исторической загрузки.
type Config struct {
	// RequestDelay — пауза между запросами периодов, чтобы не душить источник.
	RequestDelay time.Duration `mapstructure:"request_delay"`
}

// ApplyDefaults устанавливает значения по умолчанию.
func (c *Config) ApplyDefaults() {
	if c.RequestDelay <= 0 {
		c.RequestDelay = 2 * time.Second
	}
}

// Runner постранично загружает историю свечей одной гранулярности.
// Пока он работает, обычный опрос этой гранулярности пропускается
// (см. Poller.PollGranularity); вставка идемпотентна, поэтому нахлёст
// с уже собранными периодами безопасен.
type Runner struct {
	client *poller.Client
	store  poller.Store
	locks  *joblock.Manager
	cfg    Config
	log    *logger.Logger
}

// New создаёт Runner.
func New(client *poller.Client, store poller.Store, locks *joblock.Manager, cfg Config, log *logger.Logger) *Runner {
	cfg.ApplyDefaults()
	return &Runner{
		client: client,
		store:  store,
		locks:  locks,
		cfg:    cfg,
		log:    log.Named("backfill"),
	}
}

// Run загружает все периоды g из [from, to]. Границы выравниваются к
// сетке гранулярности. Возвращает ошибку, если бэкфилл уже идёт.
func (b *Runner) Run(ctx context.Context, g interval.Granularity, from, to time.Time) error {
	lock, err := b.locks.Acquire(poller.BackfillLockName(g))
	if err != nil {
		if errors.Is(err, joblock.ErrHeld) {
			return fmt.Errorf("backfill %s: already running: %w", g, err)
		}
		return fmt.Errorf("backfill %s: acquire lock: %w", g, err)
	}
	defer lock.Release()

	start := g.Align(from.Unix())
	end := g.Align(to.Unix())
	if end > g.Align(time.Now().Unix()) {
		end = g.Align(time.Now().Unix())
	}
	if start > end {
		return fmt.Errorf("backfill %s: empty range after alignment", g)
	}

	total := 0
	periods := (end-start)/g.Seconds() + 1
	b.log.Info(fmt.Sprintf("backfill %s: %d periods, %d..%d", g, periods, start, end))

	for ts := start; ts <= end; ts += g.Seconds() {
		if err := ctx.Err(); err != nil {
			return err
		}

		candles, _, err := b.client.Candles(ctx, g, ts)
		if err != nil {
			return fmt.Errorf("backfill %s: period %d: %w", g, ts, err)
		}
		if err := b.store.InsertCandles(ctx, g, candles); err != nil {
			return fmt.Errorf("backfill %s: insert period %d: %w", g, ts, err)
		}
		total += len(candles)

		if ts+g.Seconds() <= end {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.cfg.RequestDelay):
			}
		}
	}

	b.log.Info(fmt.Sprintf("backfill %s: done, %d candles stored", g, total))
	return nil
}
