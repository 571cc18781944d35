// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/AskeFunder/flipper-pro-sub000/internal/interval"
	"github.com/AskeFunder/flipper-pro-sub000/internal/metrics"
	"github.com/AskeFunder/flipper-pro-sub000/pkg/logger"
)

// Config управляет обоими циклами планировщика.
type Config struct {
	// LatestInterval — пауза после завершения прохода latest-цикла.
	LatestInterval time.Duration `mapstructure:"latest_interval"`
	// LatestRetries — немедленные повторы при «нулевом» ответе источника.
	LatestRetries int `mapstructure:"latest_retries"`
	// ChainWaitPoll — шаг ожидания, пока latest-цикл держит приоритет.
	ChainWaitPoll time.Duration `mapstructure:"chain_wait_poll"`
	// Retention — горизонт хранения свечей по гранулярностям; 0 = вечно.
	Retention map[string]time.Duration `mapstructure:"retention"`
}

// ApplyDefaults устанавливает значения по умолчанию.
func (c *Config) ApplyDefaults() {
	if c.LatestInterval <= 0 {
		c.LatestInterval = 60 * time.Second
	}
	if c.LatestRetries <= 0 {
		c.LatestRetries = 3
	}
	if c.ChainWaitPoll <= 0 {
		c.ChainWaitPoll = time.Second
	}
	if c.Retention == nil {
		c.Retention = map[string]time.Duration{
			string(interval.G5m): 90 * 24 * time.Hour,
			string(interval.G1h): 365 * 24 * time.Hour,
			string(interval.G6h): 2 * 365 * 24 * time.Hour,
		}
	}
}

// Validate проверяет корректность конфигурации.
func (c *Config) Validate() error {
	for key := range c.Retention {
		if _, err := interval.Parse(key); err != nil {
			return fmt.Errorf("scheduler: retention: %w", err)
		}
	}
	return nil
}

// LatestPoller — latest-сторона опроса.
type LatestPoller interface {
	PollLatest(ctx context.Context) (int, error)
	PollGranularity(ctx context.Context, g interval.Granularity) error
}

// Aggregator запускает пересчёт сводных строк.
type Aggregator interface {
	Run(ctx context.Context, now time.Time) error
}

// RetentionStore удаляет свечи старше cutoff.
type RetentionStore interface {
	DeleteCandlesBefore(ctx context.Context, g interval.Granularity, cutoff time.Time) (int64, error)
}

// Scheduler гонит два независимых цикла: latest (каждые ~60 секунд
// после собственного успеха) и цепочку гранулярностей по 5-минутным
// границам настенных часов. Latest имеет приоритет: цепочка ждёт его
// завершения; агрегацию запускает тот цикл, который успел первым.
type Scheduler struct {
	poller LatestPoller
	agg    Aggregator
	store  RetentionStore
	cfg    Config
	log    *logger.Logger

	latestActive atomic.Bool
	chainActive  atomic.Bool

	now func() time.Time
}

// New создаёт Scheduler.
func New(p LatestPoller, agg Aggregator, store RetentionStore, cfg Config, log *logger.Logger) *Scheduler {
	cfg.ApplyDefaults()
	return &Scheduler{
		poller: p,
		agg:    agg,
		store:  store,
		cfg:    cfg,
		log:    log.Named("scheduler"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// -----------------------------------------------------------------------------
// Latest-цикл
// -----------------------------------------------------------------------------

// RunLatestLoop работает до отмены контекста. Следующий тик отсчитывается
// от завершения предыдущего, не от его начала.
func (s *Scheduler) RunLatestLoop(ctx context.Context) error {
	for {
		metrics.SchedulerTicks.WithLabelValues("latest").Inc()

		s.latestActive.Store(true)
		changed, err := s.pollLatestOnce(ctx)
		s.latestActive.Store(false)

		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Error(fmt.Sprintf("scheduler: latest poll failed: %v", err))
		case changed == 0:
			// Источник застыл: не ошибка, но и агрегировать нечего.
			s.log.Debug("scheduler: latest unchanged after retries")
		case s.chainActive.Load():
			// Цепочка сама агрегирует по завершении.
			s.log.Debug("scheduler: chain active, skipping aggregation")
		default:
			if err := s.agg.Run(ctx, s.now()); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.log.Error(fmt.Sprintf("scheduler: aggregation after latest failed: %v", err))
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.LatestInterval):
		}
	}
}

// pollLatestOnce выполняет один проход latest с мгновенными повторами
// при нулевом числе изменений: застой источника — штатное явление.
func (s *Scheduler) pollLatestOnce(ctx context.Context) (int, error) {
	attempts := 1 + s.cfg.LatestRetries
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		changed, err := s.poller.PollLatest(ctx)
		if err != nil {
			return 0, err
		}
		if changed > 0 {
			return changed, nil
		}
	}
	return 0, nil
}

// -----------------------------------------------------------------------------
// Цепочка гранулярностей
// -----------------------------------------------------------------------------

// RunChainLoop просыпается на каждой 5-минутной границе настенных часов
// и прогоняет положенные этой границе гранулярности, затем агрегацию и
// очистку устаревших свечей.
func (s *Scheduler) RunChainLoop(ctx context.Context) error {
	for {
		boundary := nextBoundary(s.now(), 5*time.Minute)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(boundary.Sub(s.now())):
		}

		metrics.SchedulerTicks.WithLabelValues("chain").Inc()

		// Latest-цикл в приоритете: ждём, пока он отпустит ход.
		for s.latestActive.Load() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.ChainWaitPoll):
			}
		}

		s.chainActive.Store(true)
		s.runChain(ctx, boundary)
		s.chainActive.Store(false)

		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (s *Scheduler) runChain(ctx context.Context, boundary time.Time) {
	for _, g := range granularitiesDue(boundary) {
		if err := s.poller.PollGranularity(ctx, g); err != nil {
			if ctx.Err() != nil {
				return
			}
			// Пропуск одного периода не фатален: его доберёт backfill.
			s.log.Error(fmt.Sprintf("scheduler: %s poll failed: %v", g, err))
		}
	}

	if err := s.agg.Run(ctx, s.now()); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.Error(fmt.Sprintf("scheduler: chain aggregation failed: %v", err))
	}

	s.cleanup(ctx)
}

// cleanup удаляет свечи за пределами горизонта хранения.
func (s *Scheduler) cleanup(ctx context.Context) {
	for key, keep := range s.cfg.Retention {
		if keep <= 0 {
			continue
		}
		g, err := interval.Parse(key)
		if err != nil {
			continue
		}
		deleted, err := s.store.DeleteCandlesBefore(ctx, g, s.now().Add(-keep))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Error(fmt.Sprintf("scheduler: cleanup %s failed: %v", g, err))
			continue
		}
		if deleted > 0 {
			metrics.CleanupDeleted.Add(float64(deleted))
			s.log.Info(fmt.Sprintf("scheduler: cleanup %s removed %d candles", g, deleted))
		}
	}
}

// -----------------------------------------------------------------------------
// Календарь
// -----------------------------------------------------------------------------

// nextBoundary — ближайшая строго будущая граница шага step (UTC).
func nextBoundary(t time.Time, step time.Duration) time.Time {
	return t.Truncate(step).Add(step)
}

// granularitiesDue перечисляет гранулярности, чей период закрылся на
// границе t: 5m всегда, 1h на начале часа, 6h каждые шесть часов,
// 24h в полночь UTC.
func granularitiesDue(t time.Time) []interval.Granularity {
	t = t.UTC()
	due := []interval.Granularity{interval.G5m}
	if t.Minute() == 0 {
		due = append(due, interval.G1h)
		if t.Hour()%6 == 0 {
			due = append(due, interval.G6h)
		}
		if t.Hour() == 0 {
			due = append(due, interval.G24h)
		}
	}
	return due
}
