// internal/poller/poller_test.go
package poller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AskeFunder/flipper-pro-sub000/internal/interval"
	"github.com/AskeFunder/flipper-pro-sub000/internal/joblock"
	"github.com/AskeFunder/flipper-pro-sub000/internal/metrics"
	"github.com/AskeFunder/flipper-pro-sub000/internal/model"
	"github.com/AskeFunder/flipper-pro-sub000/pkg/backoff"
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

func i64(v int64) *int64 { return &v }

// -----------------------------------------------------------------------------
// diffInstants
// -----------------------------------------------------------------------------

func TestDiffInstants_NewObservation(t *testing.T) {
	current := map[int64]model.ItemInstant{
		1: {High: i64(100), HighTime: 1000, Low: i64(90), LowTime: 1000},
	}
	upstream := map[int64]model.ItemInstant{
		1: {High: i64(105), HighTime: 1100, Low: i64(90), LowTime: 1000},
	}

	changed, dirty := diffInstants(current, upstream, time.Unix(2000, 0))
	if len(changed) != 1 {
		t.Fatalf("changed = %d; want 1 (high side only)", len(changed))
	}
	c := changed[0]
	if c.Side != model.SideHigh || c.Price != 105 || c.ObservedAt != 1100 {
		t.Errorf("changed = %+v", c)
	}
	if len(dirty) != 1 || dirty[0] != 1 {
		t.Errorf("dirty = %v; want [1]", dirty)
	}
}

func TestDiffInstants_NoopRewriteIgnored(t *testing.T) {
	current := map[int64]model.ItemInstant{
		1: {High: i64(100), HighTime: 1000, Low: i64(90), LowTime: 900},
	}
	// Та же метка наблюдения: не изменение, даже при другой цене в кэше.
	upstream := map[int64]model.ItemInstant{
		1: {High: i64(100), HighTime: 1000, Low: i64(90), LowTime: 900},
	}

	changed, dirty := diffInstants(current, upstream, time.Unix(2000, 0))
	if len(changed) != 0 || len(dirty) != 0 {
		t.Errorf("no-op rewrite produced changed=%v dirty=%v", changed, dirty)
	}
}

func TestDiffInstants_UnknownItem(t *testing.T) {
	upstream := map[int64]model.ItemInstant{
		7: {High: i64(50), HighTime: 500, Low: i64(40), LowTime: 400},
	}
	changed, dirty := diffInstants(map[int64]model.ItemInstant{}, upstream, time.Unix(2000, 0))
	if len(changed) != 2 {
		t.Errorf("changed = %d; want both sides of the new item", len(changed))
	}
	if len(dirty) != 1 || dirty[0] != 7 {
		t.Errorf("dirty = %v; want [7]", dirty)
	}
}

func TestDiffInstants_NilSideSkipped(t *testing.T) {
	upstream := map[int64]model.ItemInstant{
		7: {High: nil, HighTime: 500, Low: i64(40), LowTime: 400},
	}
	changed, _ := diffInstants(map[int64]model.ItemInstant{}, upstream, time.Unix(2000, 0))
	if len(changed) != 1 || changed[0].Side != model.SideLow {
		t.Errorf("changed = %+v; want low side only", changed)
	}
}

// -----------------------------------------------------------------------------
// Client + PollGranularity
// -----------------------------------------------------------------------------

// fakePollStore записывает применённое.
type fakePollStore struct {
	instants map[int64]model.ItemInstant
	applied  []model.PriceInstant
	dirty    []int64
	inserted map[interval.Granularity][]model.Candle
	items    []model.Item
}

func (f *fakePollStore) AllInstants(context.Context) (map[int64]model.ItemInstant, error) {
	return f.instants, nil
}
func (f *fakePollStore) ApplyLatest(_ context.Context, changed []model.PriceInstant, dirty []int64) error {
	f.applied = append(f.applied, changed...)
	f.dirty = append(f.dirty, dirty...)
	return nil
}
func (f *fakePollStore) InsertCandles(_ context.Context, g interval.Granularity, candles []model.Candle) error {
	if f.inserted == nil {
		f.inserted = make(map[interval.Granularity][]model.Candle)
	}
	f.inserted[g] = append(f.inserted[g], candles...)
	return nil
}
func (f *fakePollStore) UpsertItems(_ context.Context, items []model.Item) error {
	f.items = append(f.items, items...)
	return nil
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(ClientConfig{
		BaseURL:   srv.URL,
		UserAgent: "flipperd-test",
		Timeout:   2 * time.Second,
		Backoff:   backoff.Config{MaxElapsedTime: time.Second},
	}, testLogger(t))
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return c
}

func TestPollLatest_AppliesOnlyChangedSides(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/latest", func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != "flipperd-test" {
			t.Errorf("user agent = %q", ua)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"1": map[string]any{"high": 105, "highTime": 1100, "low": 90, "lowTime": 1000},
				"2": map[string]any{"high": 50, "highTime": 500, "low": 40, "lowTime": 400},
			},
		})
	})

	store := &fakePollStore{
		instants: map[int64]model.ItemInstant{
			1: {High: i64(100), HighTime: 1000, Low: i64(90), LowTime: 1000},
			2: {High: i64(50), HighTime: 500, Low: i64(40), LowTime: 400},
		},
	}
	log := testLogger(t)
	locks, err := joblock.NewManager(t.TempDir(), log)
	if err != nil {
		t.Fatalf("joblock: %v", err)
	}
	p := New(newTestClient(t, mux), store, nil, locks, log)

	changed, err := p.PollLatest(context.Background())
	if err != nil {
		t.Fatalf("poll latest: %v", err)
	}
	// Изменилась только high-сторона предмета 1; предмет 2 застыл.
	if changed != 1 || len(store.applied) != 1 {
		t.Errorf("changed = %d applied = %d; want 1/1", changed, len(store.applied))
	}
	if len(store.dirty) != 1 || store.dirty[0] != 1 {
		t.Errorf("dirty = %v; want [1]", store.dirty)
	}
}

func TestPollGranularity_StoresCandles(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/1h", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"timestamp": 1_700_000_000,
			"data": map[string]any{
				"1": map[string]any{"avgHighPrice": 100, "avgLowPrice": 95, "highPriceVolume": 3, "lowPriceVolume": 4},
			},
		})
	})

	store := &fakePollStore{}
	log := testLogger(t)
	locks, err := joblock.NewManager(t.TempDir(), log)
	if err != nil {
		t.Fatalf("joblock: %v", err)
	}
	p := New(newTestClient(t, mux), store, nil, locks, log)

	if err := p.PollGranularity(context.Background(), interval.G1h); err != nil {
		t.Fatalf("poll 1h: %v", err)
	}
	got := store.inserted[interval.G1h]
	if len(got) != 1 {
		t.Fatalf("inserted = %d; want 1", len(got))
	}
	c := got[0]
	if c.ItemID != 1 || c.Timestamp != 1_700_000_000 || *c.AvgHigh != 100 || c.LowVolume != 4 {
		t.Errorf("candle = %+v", c)
	}
}

func TestPollGranularity_SkipsDuringBackfill(t *testing.T) {
	store := &fakePollStore{}
	log := testLogger(t)
	locks, err := joblock.NewManager(t.TempDir(), log)
	if err != nil {
		t.Fatalf("joblock: %v", err)
	}
	lock, err := locks.Acquire(BackfillLockName(interval.G24h))
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer lock.Release()

	// Никакого HTTP-сервера: при held-локе запрос не должен уйти вовсе.
	client, err := NewClient(ClientConfig{BaseURL: "http://127.0.0.1:0", UserAgent: "t"}, log)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	p := New(client, store, nil, locks, log)

	if err := p.PollGranularity(context.Background(), interval.G24h); err != nil {
		t.Fatalf("poll during backfill must skip politely, got %v", err)
	}
	if len(store.inserted) != 0 {
		t.Error("nothing may be inserted while backfill holds the lock")
	}
}

func TestClient_PermanentOn404(t *testing.T) {
	mux := http.NewServeMux() // /mapping не зарегистрирован → 404
	c := newTestClient(t, mux)
	if _, err := c.Mapping(context.Background()); err == nil {
		t.Error("404 must surface as an error")
	}
}
