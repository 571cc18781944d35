// internal/aggregate/dirty.go
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/AskeFunder/flipper-pro-sub000/internal/joblock"
	"github.com/AskeFunder/flipper-pro-sub000/internal/metrics"
	"github.com/AskeFunder/flipper-pro-sub000/pkg/logger"
)

// LockName — имя лока агрегационного прохода.
const LockName = "aggregate"

// fullRefreshFraction: если dirty-набор превышает эту долю каталога,
// per-batch накладные расходы дороже полного пересчёта.
const fullRefreshFraction = 0.8

// Processor превращает очередь dirty-предметов в materialized-строки:
// выбор набора, адаптивные батчи, транзакция на батч, dequeue после
// коммита.
type Processor struct {
	batcher *Batcher
	dirty   DirtyStore
	tx      TxRunner
	locks   *joblock.Manager
	log     *logger.Logger
}

// NewProcessor создаёт Processor.
func NewProcessor(batcher *Batcher, dirty DirtyStore, tx TxRunner, locks *joblock.Manager, log *logger.Logger) *Processor {
	return &Processor{
		batcher: batcher,
		dirty:   dirty,
		tx:      tx,
		locks:   locks,
		log:     log.Named("dirty-processor"),
	}
}

// Run выполняет один полный проход очереди. Сбой одного батча не
// останавливает следующие: каждый батч — своя транзакция, его предметы
// остаются dirty и будут повторены на следующем проходе.
func (p *Processor) Run(ctx context.Context, now time.Time) error {
	lock, err := p.locks.Acquire(LockName)
	if errors.Is(err, joblock.ErrHeld) {
		// Конкурентный проход уже идёт; пропуск — не ошибка.
		p.log.Debug("aggregation pass already running, skipping")
		return nil
	}
	if err != nil {
		return err
	}
	defer lock.Release()

	ids, full, err := p.selectItems(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	size := batchSizeFor(len(ids))
	p.log.Info("aggregation pass started",
		zap.Int("items", len(ids)),
		zap.Int("batch_size", size),
		zap.Bool("full_refresh", full),
	)

	var errs []error
	for start := 0; start < len(ids); start += size {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		if err := p.runBatch(ctx, ids[start:end], now); err != nil {
			metrics.AggBatchFails.Inc()
			p.log.Error("batch failed, items stay dirty",
				zap.Int("from", start), zap.Int("to", end), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// selectItems читает dirty-набор; при большом отставании выбирает весь
// каталог вместо очереди.
func (p *Processor) selectItems(ctx context.Context) ([]int64, bool, error) {
	ids, err := p.dirty.DirtyItemIDs(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("select dirty: %w", err)
	}
	metrics.DirtyDepth.Set(float64(len(ids)))
	if len(ids) == 0 {
		return nil, false, nil
	}

	catalog, err := p.dirty.AllItemIDs(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("select catalog: %w", err)
	}
	if len(catalog) > 0 && float64(len(ids)) > fullRefreshFraction*float64(len(catalog)) {
		return catalog, true, nil
	}
	return ids, false, nil
}

// runBatch считает и коммитит один батч, затем снимает его dirty-отметки.
func (p *Processor) runBatch(ctx context.Context, items []int64, now time.Time) error {
	started := time.Now()

	rows, err := p.batcher.ComputeSummaries(ctx, items, now)
	if err != nil {
		return err
	}

	err = p.tx.WithinTx(ctx, func(ctx context.Context, w SummaryWriter) error {
		return w.UpsertSummaries(ctx, rows)
	})
	if err != nil {
		return err
	}

	// Dequeue строго после коммита: при сбое выше предметы остаются
	// в очереди и будут пересчитаны.
	if err := p.dirty.ClearDirty(ctx, items); err != nil {
		return fmt.Errorf("clear dirty: %w", err)
	}

	metrics.AggBatches.Inc()
	metrics.AggItems.Add(float64(len(rows)))
	metrics.AggLatency.Observe(time.Since(started).Seconds())
	return nil
}

// batchSizeFor — адаптивный размер батча от размера выбранного набора.
func batchSizeFor(n int) int {
	switch {
	case n <= 50:
		return 25
	case n <= 300:
		return 50
	case n <= 1200:
		return 100
	default:
		return 200
	}
}
