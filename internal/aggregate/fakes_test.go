// internal/aggregate/fakes_test.go
package aggregate_test

import (
	"context"
	"testing"

	"github.com/AskeFunder/flipper-pro-sub000/internal/aggregate"
	"github.com/AskeFunder/flipper-pro-sub000/internal/interval"
	"github.com/AskeFunder/flipper-pro-sub000/internal/metrics"
	"github.com/AskeFunder/flipper-pro-sub000/internal/model"
	"github.com/AskeFunder/flipper-pro-sub000/pkg/logger"
)

func init() { metrics.Register(nil) }

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", DevMode: true})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

// fakeStore — in-memory реализация read-store. Пустые поля означают
// "данных нет": батчер обязан переживать это штатно.
type fakeStore struct {
	candles  map[interval.Granularity]map[int64][]model.Candle
	instants map[int64]model.ItemInstant
	volumes  map[interval.Granularity]map[int64]model.VolumeAgg
	items    map[int64]model.Item

	// boundary подменяет BoundaryPrices; nil — всегда пусто.
	boundary func(q aggregate.BoundaryQuery) map[int64]model.BoundaryPrice

	boundaryCalls []aggregate.BoundaryQuery
}

func (f *fakeStore) RecentCandles(_ context.Context, g interval.Granularity, items []int64, from, to int64) (map[int64][]model.Candle, error) {
	out := make(map[int64][]model.Candle)
	for _, id := range items {
		for _, c := range f.candles[g][id] {
			if c.Timestamp >= from && c.Timestamp <= to {
				out[id] = append(out[id], c)
			}
		}
	}
	return out, nil
}

func (f *fakeStore) BoundaryPrices(_ context.Context, q aggregate.BoundaryQuery) (map[int64]model.BoundaryPrice, error) {
	f.boundaryCalls = append(f.boundaryCalls, q)
	if f.boundary == nil {
		return map[int64]model.BoundaryPrice{}, nil
	}
	return f.boundary(q), nil
}

func (f *fakeStore) Instants(_ context.Context, items []int64) (map[int64]model.ItemInstant, error) {
	out := make(map[int64]model.ItemInstant)
	for _, id := range items {
		if v, ok := f.instants[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (f *fakeStore) HorizonAggregates(_ context.Context, g interval.Granularity, items []int64, _, _ int64) (map[int64]model.VolumeAgg, error) {
	out := make(map[int64]model.VolumeAgg)
	for _, id := range items {
		if v, ok := f.volumes[g][id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (f *fakeStore) Items(_ context.Context, items []int64) (map[int64]model.Item, error) {
	out := make(map[int64]model.Item)
	for _, id := range items {
		if v, ok := f.items[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

var _ aggregate.Store = (*fakeStore)(nil)
