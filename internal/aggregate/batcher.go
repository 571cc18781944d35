// internal/aggregate/batcher.go
package aggregate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AskeFunder/flipper-pro-sub000/internal/interval"
	"github.com/AskeFunder/flipper-pro-sub000/internal/metrics"
	"github.com/AskeFunder/flipper-pro-sub000/internal/model"
	"github.com/AskeFunder/flipper-pro-sub000/internal/trend"
	"github.com/AskeFunder/flipper-pro-sub000/pkg/logger"
)

var tracer = otel.Tracer("aggregate")

// Batcher считает полный набор полей Summary для одного батча предметов.
// Читает только закоммиченные данные; запись выполняет вызывающая
// сторона в своей транзакции.
type Batcher struct {
	store Store
	eval  *trend.Evaluator
	log   *logger.Logger
}

// NewBatcher создаёт Batcher.
func NewBatcher(store Store, eval *trend.Evaluator, log *logger.Logger) *Batcher {
	return &Batcher{store: store, eval: eval, log: log.Named("batcher")}
}

// fetchResult — результаты конкурентного fan-out по источникам.
// Каждая горутина пишет только в свой слот; слияние строго
// последовательное и детерминированное.
type fetchResult struct {
	candles5m map[int64][]model.Candle
	candles1h map[int64][]model.Candle
	calendar  map[interval.Horizon]map[int64]float64
	instants  map[int64]model.ItemInstant
	volumes   map[interval.Horizon]map[int64]model.VolumeAgg
	items     map[int64]model.Item

	mu sync.Mutex // защищает calendar и volumes при записи слотов
}

// ComputeSummaries возвращает materialized-строки батча на момент now.
func (b *Batcher) ComputeSummaries(ctx context.Context, items []int64, now time.Time) ([]model.Summary, error) {
	ctx, span := tracer.Start(ctx, "Batcher.ComputeSummaries",
		trace.WithAttributes(attribute.Int("batch_size", len(items))))
	defer span.End()

	if len(items) == 0 {
		return nil, nil
	}
	nowTS := now.Unix()

	res, err := b.fetch(ctx, items, nowTS)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	rows := make([]model.Summary, 0, len(items))
	for _, id := range items {
		rows = append(rows, b.assemble(id, now, res))
	}
	return rows, nil
}

// fetch выполняет все bulk-чтения батча конкурентно.
func (b *Batcher) fetch(ctx context.Context, items []int64, nowTS int64) (*fetchResult, error) {
	res := &fetchResult{
		calendar: make(map[interval.Horizon]map[int64]float64, len(interval.CalendarHorizons)),
		volumes:  make(map[interval.Horizon]map[int64]model.VolumeAgg, len(interval.Horizons)),
	}
	resolver := NewWindowResolver(b.store, b.log)

	g, ctx := errgroup.WithContext(ctx)

	// Свечи для коротких горизонтов: окно покрывает самый длинный
	// период (24h) плюс его допуск.
	p24, _ := interval.ShortPlanFor(interval.H24h)
	shortFrom := nowTS - int64((p24.Period+p24.Tolerance)/time.Second) - interval.G5m.Seconds()
	g.Go(func() error {
		m, err := b.store.RecentCandles(ctx, interval.G5m, items, shortFrom, nowTS)
		if err != nil {
			return fmt.Errorf("recent 5m candles: %w", err)
		}
		res.candles5m = m
		return nil
	})
	g.Go(func() error {
		m, err := b.store.RecentCandles(ctx, interval.G1h, items, shortFrom, nowTS)
		if err != nil {
			return fmt.Errorf("recent 1h candles: %w", err)
		}
		res.candles1h = m
		return nil
	})

	// Календарные горизонты.
	for _, h := range interval.CalendarHorizons {
		h := h
		g.Go(func() error {
			m, err := resolver.Resolve(ctx, items, h, nowTS)
			if err != nil {
				return err
			}
			res.mu.Lock()
			res.calendar[h] = m
			res.mu.Unlock()
			return nil
		})
	}

	// Объёмные агрегаты из назначенных таблиц.
	for _, h := range interval.Horizons {
		h := h
		g.Go(func() error {
			src := interval.AggSourceFor(h)
			m, err := b.store.HorizonAggregates(ctx, src, items, nowTS-h.Seconds(), nowTS)
			if err != nil {
				return fmt.Errorf("aggregates %s: %w", h, err)
			}
			res.mu.Lock()
			res.volumes[h] = m
			res.mu.Unlock()
			return nil
		})
	}

	g.Go(func() error {
		m, err := b.store.Instants(ctx, items)
		if err != nil {
			return fmt.Errorf("instants: %w", err)
		}
		res.instants = m
		return nil
	})
	g.Go(func() error {
		m, err := b.store.Items(ctx, items)
		if err != nil {
			return fmt.Errorf("catalog: %w", err)
		}
		res.items = m
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

// assemble сливает результаты выборок в одну строку Summary.
func (b *Batcher) assemble(id int64, now time.Time, res *fetchResult) model.Summary {
	s := model.Summary{
		ItemID:    id,
		Stats:     make(map[interval.Horizon]model.HorizonStats, len(interval.Horizons)),
		Trends:    make(map[interval.Horizon]model.TrendValue, len(interval.Horizons)),
		UpdatedAt: now.UTC(),
	}

	if it, ok := res.items[id]; ok {
		s.Name = it.Name
		s.Icon = it.Icon
		s.Members = it.Members
		s.BuyLimit = it.BuyLimit
	}
	if inst, ok := res.instants[id]; ok {
		s.High = inst.High
		s.HighTime = inst.HighTime
		s.Low = inst.Low
		s.LowTime = inst.LowTime
	}
	deriveFinancials(&s)

	// Короткие горизонты: якорь — последняя собственная 5m-свеча, чтобы
	// 5m/1h/6h/24h были согласованы между собой и с графиком по тем же
	// свечам.
	for _, h := range interval.ShortHorizons {
		plan, _ := interval.ShortPlanFor(h)
		ref := trend.Ref{ItemID: id, Horizon: h}
		r := b.eval.Evaluate(res.candles5m[id], plan.Period, plan.Tolerance, ref)
		if r.Status == model.TrendUnavailable && plan.Fallback != "" {
			// Восстановление по более грубой таблице помечается stale:
			// потребитель должен отличать прямое наблюдение от
			// реконструкции.
			fb := b.eval.Evaluate(res.candles1h[id], plan.Period, plan.Tolerance, ref)
			if fb.Status == model.TrendValid {
				fb.Status = model.TrendStale
				r = fb
			}
		}
		s.Trends[h] = model.TrendValue{Value: r.Value, Status: r.Status}
		metrics.TrendOutcomes.WithLabelValues(string(h), string(r.Status)).Inc()
	}

	// Календарные горизонты: valid либо unavailable, fallback нет.
	for _, h := range interval.CalendarHorizons {
		tv := model.TrendValue{Status: model.TrendUnavailable}
		if v, ok := res.calendar[h][id]; ok {
			v := v
			tv = model.TrendValue{Value: &v, Status: model.TrendValid}
		}
		s.Trends[h] = tv
		metrics.TrendOutcomes.WithLabelValues(string(h), string(tv.Status)).Inc()
	}

	for _, h := range interval.Horizons {
		agg, ok := res.volumes[h][id]
		if !ok {
			s.Stats[h] = model.HorizonStats{}
			continue
		}
		st := model.HorizonStats{
			Volume:    agg.HighVolume + agg.LowVolume,
			Turnover:  agg.Turnover,
			HighPrice: agg.HighPrice,
			LowPrice:  agg.LowPrice,
		}
		if agg.LowVolume != 0 {
			ratio := float64(agg.HighVolume) / float64(agg.LowVolume)
			st.BuySellRatio = &ratio
		}
		s.Stats[h] = st
	}

	return s
}
