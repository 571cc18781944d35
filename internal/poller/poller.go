// internal/poller/poller.go
package poller

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/AskeFunder/flipper-pro-sub000/internal/interval"
	"github.com/AskeFunder/flipper-pro-sub000/internal/joblock"
	"github.com/AskeFunder/flipper-pro-sub000/internal/metrics"
	"github.com/AskeFunder/flipper-pro-sub000/internal/model"
	"github.com/AskeFunder/flipper-pro-sub000/pkg/logger"
)

// BackfillLockName — имя joblock бэкфилла гранулярности g. Опрос и
// бэкфилл одной таблицы взаимно исключаются через этот lock.
func BackfillLockName(g interval.Granularity) string {
	return "backfill_" + string(g)
}

// Store — срез хранилища, нужный циклам опроса.
type Store interface {
	AllInstants(ctx context.Context) (map[int64]model.ItemInstant, error)
	ApplyLatest(ctx context.Context, changed []model.PriceInstant, dirty []int64) error
	InsertCandles(ctx context.Context, g interval.Granularity, candles []model.Candle) error
	UpsertItems(ctx context.Context, items []model.Item) error
}

// History — опциональный скользящий журнал мгновенных цен.
type History interface {
	Append(ctx context.Context, changed []model.PriceInstant)
}

// Poller опрашивает upstream и применяет изменения к хранилищу.
// Обнаружение изменений идёт по observed_at: повторная запись той же
// метки не считается изменением и не трогает dirty-очередь.
type Poller struct {
	client  *Client
	store   Store
	history History
	locks   *joblock.Manager
	log     *logger.Logger
}

// New создаёт Poller. history может быть nil.
func New(client *Client, store Store, history History, locks *joblock.Manager, log *logger.Logger) *Poller {
	return &Poller{
		client:  client,
		store:   store,
		history: history,
		locks:   locks,
		log:     log.Named("poller"),
	}
}

// SyncCatalog обновляет каталог предметов из /mapping.
func (p *Poller) SyncCatalog(ctx context.Context) error {
	items, err := p.client.Mapping(ctx)
	if err != nil {
		return fmt.Errorf("poller: mapping: %w", err)
	}
	if err := p.store.UpsertItems(ctx, items); err != nil {
		return fmt.Errorf("poller: upsert items: %w", err)
	}
	p.log.Info(fmt.Sprintf("poller: catalog synced, %d items", len(items)))
	return nil
}

// PollLatest забирает /latest, сравнивает с текущим состоянием и
// применяет только реально изменившиеся стороны. Возвращает число
// изменившихся строк price_instants.
func (p *Poller) PollLatest(ctx context.Context) (int, error) {
	upstream, err := p.client.Latest(ctx)
	if err != nil {
		metrics.PollRuns.WithLabelValues("latest", "error").Inc()
		return 0, fmt.Errorf("poller: latest: %w", err)
	}

	current, err := p.store.AllInstants(ctx)
	if err != nil {
		metrics.PollRuns.WithLabelValues("latest", "error").Inc()
		return 0, fmt.Errorf("poller: load instants: %w", err)
	}

	changed, dirty := diffInstants(current, upstream, time.Now().UTC())
	if len(changed) == 0 {
		metrics.PollRuns.WithLabelValues("latest", "unchanged").Inc()
		return 0, nil
	}

	if err := p.store.ApplyLatest(ctx, changed, dirty); err != nil {
		metrics.PollRuns.WithLabelValues("latest", "error").Inc()
		return 0, fmt.Errorf("poller: apply latest: %w", err)
	}
	if p.history != nil {
		p.history.Append(ctx, changed)
	}

	metrics.PollRuns.WithLabelValues("latest", "ok").Inc()
	metrics.PollChanged.Add(float64(len(changed)))
	p.log.Debug(fmt.Sprintf("poller: latest applied, %d sides changed, %d items dirty", len(changed), len(dirty)))
	return len(changed), nil
}

// PollGranularity забирает последний завершённый период гранулярности g.
// Пока идёт backfill по той же таблице, опрос вежливо пропускается:
// бэкфилл сам дойдёт до текущего периода.
func (p *Poller) PollGranularity(ctx context.Context, g interval.Granularity) error {
	if p.locks.IsHeld(BackfillLockName(g)) {
		metrics.PollRuns.WithLabelValues(string(g), "skipped").Inc()
		p.log.Info(fmt.Sprintf("poller: %s poll skipped, backfill in progress", g))
		return nil
	}

	candles, ts, err := p.client.Candles(ctx, g, 0)
	if err != nil {
		metrics.PollRuns.WithLabelValues(string(g), "error").Inc()
		return fmt.Errorf("poller: %s candles: %w", g, err)
	}
	if err := p.store.InsertCandles(ctx, g, candles); err != nil {
		metrics.PollRuns.WithLabelValues(string(g), "error").Inc()
		return fmt.Errorf("poller: insert %s candles: %w", g, err)
	}

	metrics.PollRuns.WithLabelValues(string(g), "ok").Inc()
	p.log.Debug(fmt.Sprintf("poller: %s candles stored, ts=%d rows=%d", g, ts, len(candles)))
	return nil
}

// diffInstants сравнивает снимок источника с текущим состоянием.
// Сторона изменилась, если её observed_at сдвинулся вперёд; предмет
// попадает в dirty, если изменилась хотя бы одна сторона.
func diffInstants(current, upstream map[int64]model.ItemInstant, now time.Time) ([]model.PriceInstant, []int64) {
	var changed []model.PriceInstant
	dirtySet := make(map[int64]struct{})

	for id, up := range upstream {
		cur := current[id]

		if up.High != nil && up.HighTime > cur.HighTime {
			changed = append(changed, model.PriceInstant{
				ItemID: id, Side: model.SideHigh,
				Price: *up.High, ObservedAt: up.HighTime, UpdatedAt: now,
			})
			dirtySet[id] = struct{}{}
		}
		if up.Low != nil && up.LowTime > cur.LowTime {
			changed = append(changed, model.PriceInstant{
				ItemID: id, Side: model.SideLow,
				Price: *up.Low, ObservedAt: up.LowTime, UpdatedAt: now,
			})
			dirtySet[id] = struct{}{}
		}
	}

	dirty := make([]int64, 0, len(dirtySet))
	for id := range dirtySet {
		dirty = append(dirty, id)
	}
	sort.Slice(dirty, func(i, j int) bool { return dirty[i] < dirty[j] })
	return changed, dirty
}
