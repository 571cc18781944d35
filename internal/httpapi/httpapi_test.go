// internal/httpapi/httpapi_test.go
package httpapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AskeFunder/flipper-pro-sub000/internal/httpapi"
	"github.com/AskeFunder/flipper-pro-sub000/internal/interval"
	"github.com/AskeFunder/flipper-pro-sub000/internal/model"
	"github.com/AskeFunder/flipper-pro-sub000/internal/storage/postgres"
	"github.com/AskeFunder/flipper-pro-sub000/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", DevMode: true})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

type fakeReader struct {
	rows map[int64]model.Summary
	err  error
}

func (f *fakeReader) SummaryByItem(_ context.Context, itemID int64) (model.Summary, error) {
	if f.err != nil {
		return model.Summary{}, f.err
	}
	row, ok := f.rows[itemID]
	if !ok {
		return model.Summary{}, postgres.ErrSummaryNotFound
	}
	return row, nil
}

func (f *fakeReader) AllSummaries(context.Context) ([]model.Summary, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]model.Summary, 0, len(f.rows))
	for _, row := range f.rows {
		out = append(out, row)
	}
	return out, nil
}

func i64(v int64) *int64     { return &v }
func f64(v float64) *float64 { return &v }

func sampleSummary() model.Summary {
	return model.Summary{
		ItemID:   4151,
		Name:     "Abyssal whip",
		Members:  true,
		BuyLimit: 70,
		High:     i64(1_500_000),
		HighTime: 1_700_000_000,
		Low:      i64(1_450_000),
		LowTime:  1_699_999_940,
		Margin:   i64(35_000),
		Stats: map[interval.Horizon]model.HorizonStats{
			interval.H5m: {Volume: 120, Turnover: 1.77e8, BuySellRatio: f64(2.0)},
		},
		Trends: map[interval.Horizon]model.TrendValue{
			interval.H5m: {Value: f64(1.25), Status: model.TrendValid},
		},
		UpdatedAt: time.Unix(1_700_000_100, 0).UTC(),
	}
}

func newServer(t *testing.T, reader *fakeReader) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for path, handler := range httpapi.New(reader, testLogger(t)).Routes() {
		mux.Handle(path, handler)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// -----------------------------------------------------------------------------
// Тесты
// -----------------------------------------------------------------------------

func TestByItem_ReturnsSummary(t *testing.T) {
	srv := newServer(t, &fakeReader{rows: map[int64]model.Summary{4151: sampleSummary()}})

	resp, err := http.Get(srv.URL + "/api/summary/4151")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q", ct)
	}

	var body struct {
		ItemID   int64  `json:"item_id"`
		Name     string `json:"name"`
		Margin   *int64 `json:"margin"`
		Horizons map[string]struct {
			Volume      int64    `json:"volume"`
			Trend       *float64 `json:"trend"`
			TrendStatus string   `json:"trend_status"`
		} `json:"horizons"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.ItemID != 4151 || body.Name != "Abyssal whip" {
		t.Fatalf("identity = %d/%q", body.ItemID, body.Name)
	}
	if body.Margin == nil || *body.Margin != 35_000 {
		t.Fatalf("margin = %v", body.Margin)
	}

	// Все восемь горизонтов присутствуют всегда; незаполненные — unavailable.
	if len(body.Horizons) != len(interval.Horizons) {
		t.Fatalf("horizons = %d, want %d", len(body.Horizons), len(interval.Horizons))
	}
	h5m := body.Horizons["5m"]
	if h5m.Volume != 120 || h5m.Trend == nil || *h5m.Trend != 1.25 || h5m.TrendStatus != "valid" {
		t.Fatalf("5m horizon = %+v", h5m)
	}
	if got := body.Horizons["1y"].TrendStatus; got != "unavailable" {
		t.Fatalf("1y status = %q", got)
	}
}

func TestByItem_UnknownItemIs404(t *testing.T) {
	srv := newServer(t, &fakeReader{rows: map[int64]model.Summary{}})

	resp, err := http.Get(srv.URL + "/api/summary/999")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestByItem_BadIDIs400(t *testing.T) {
	srv := newServer(t, &fakeReader{})
	for _, raw := range []string{"abc", "-1", "0", "4151x"} {
		resp, err := http.Get(srv.URL + "/api/summary/" + raw)
		if err != nil {
			t.Fatalf("GET %q: %v", raw, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status(%q) = %d, want 400", raw, resp.StatusCode)
		}
	}
}

func TestByItem_StoreErrorIs500(t *testing.T) {
	srv := newServer(t, &fakeReader{err: errors.New("pool closed")})

	resp, err := http.Get(srv.URL + "/api/summary/4151")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
}

func TestList_ReturnsAllRows(t *testing.T) {
	srv := newServer(t, &fakeReader{rows: map[int64]model.Summary{
		4151: sampleSummary(),
		2:    {ItemID: 2, Name: "Cannonball"},
	}})

	resp, err := http.Get(srv.URL + "/api/summary")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var rows []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
}

func TestList_EmptyIsJSONArray(t *testing.T) {
	srv := newServer(t, &fakeReader{})

	resp, err := http.Get(srv.URL + "/api/summary")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var rows []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rows == nil || len(rows) != 0 {
		t.Fatalf("rows = %v, want empty array", rows)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newServer(t, &fakeReader{})

	resp, err := http.Post(srv.URL+"/api/summary", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}
