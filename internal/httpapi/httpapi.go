// internal/httpapi/httpapi.go

// Package httpapi отдаёт сводные строки предметов поверх общего
// HTTP-сервера сервиса (см. pkg/httpserver).
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/AskeFunder/flipper-pro-sub000/internal/interval"
	"github.com/AskeFunder/flipper-pro-sub000/internal/model"
	"github.com/AskeFunder/flipper-pro-sub000/internal/storage/postgres"
	"github.com/AskeFunder/flipper-pro-sub000/pkg/logger"
	"go.uber.org/zap"
)

// SummaryReader — читающая сторона сводных строк.
type SummaryReader interface {
	SummaryByItem(ctx context.Context, itemID int64) (model.Summary, error)
	AllSummaries(ctx context.Context) ([]model.Summary, error)
}

// Handler обслуживает GET /api/summary и GET /api/summary/{id}.
type Handler struct {
	store SummaryReader
	log   *logger.Logger
}

// New создаёт Handler.
func New(store SummaryReader, log *logger.Logger) *Handler {
	return &Handler{store: store, log: log.Named("httpapi")}
}

// Routes возвращает маршруты для монтирования в общий mux.
func (h *Handler) Routes() map[string]http.Handler {
	return map[string]http.Handler{
		"/api/summary":  http.HandlerFunc(h.list),
		"/api/summary/": http.HandlerFunc(h.byItem),
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rows, err := h.store.AllSummaries(r.Context())
	if err != nil {
		h.log.Error("httpapi: list summaries", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	out := make([]summaryJSON, 0, len(rows))
	for i := range rows {
		out = append(out, toJSON(&rows[i]))
	}
	writeJSON(w, out)
}

func (h *Handler) byItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw := strings.TrimPrefix(r.URL.Path, "/api/summary/")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid item id", http.StatusBadRequest)
		return
	}

	row, err := h.store.SummaryByItem(r.Context(), id)
	switch {
	case errors.Is(err, postgres.ErrSummaryNotFound):
		http.Error(w, "item not found", http.StatusNotFound)
		return
	case err != nil:
		h.log.Error("httpapi: summary by item", zap.Int64("item_id", id), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, toJSON(&row))
}

// -----------------------------------------------------------------------------
// JSON-представление
// -----------------------------------------------------------------------------

type horizonJSON struct {
	Volume       int64    `json:"volume"`
	Turnover     float64  `json:"turnover"`
	BuySellRatio *float64 `json:"buy_sell_ratio"`
	HighPrice    *int64   `json:"high_price"`
	LowPrice     *int64   `json:"low_price"`
	Trend        *float64 `json:"trend"`
	TrendStatus  string   `json:"trend_status"`
}

type summaryJSON struct {
	ItemID   int64  `json:"item_id"`
	Name     string `json:"name"`
	Icon     string `json:"icon,omitempty"`
	Members  bool   `json:"members"`
	BuyLimit int64  `json:"buy_limit"`

	High     *int64 `json:"high"`
	HighTime int64  `json:"high_time"`
	Low      *int64 `json:"low"`
	LowTime  int64  `json:"low_time"`

	Margin        *int64   `json:"margin"`
	ROI           *float64 `json:"roi"`
	Spread        *float64 `json:"spread"`
	MaxProfit     *int64   `json:"max_profit"`
	MaxInvestment *int64   `json:"max_investment"`

	Horizons map[string]horizonJSON `json:"horizons"`

	UpdatedAt int64 `json:"updated_at"`
}

func toJSON(s *model.Summary) summaryJSON {
	out := summaryJSON{
		ItemID:        s.ItemID,
		Name:          s.Name,
		Icon:          s.Icon,
		Members:       s.Members,
		BuyLimit:      s.BuyLimit,
		High:          s.High,
		HighTime:      s.HighTime,
		Low:           s.Low,
		LowTime:       s.LowTime,
		Margin:        s.Margin,
		ROI:           s.ROI,
		Spread:        s.Spread,
		MaxProfit:     s.MaxProfit,
		MaxInvestment: s.MaxInvestment,
		Horizons:      make(map[string]horizonJSON, len(interval.Horizons)),
		UpdatedAt:     s.UpdatedAt.Unix(),
	}
	for _, h := range interval.Horizons {
		hj := horizonJSON{TrendStatus: string(model.TrendUnavailable)}
		if st, ok := s.Stats[h]; ok {
			hj.Volume = st.Volume
			hj.Turnover = st.Turnover
			hj.BuySellRatio = st.BuySellRatio
			hj.HighPrice = st.HighPrice
			hj.LowPrice = st.LowPrice
		}
		if tr, ok := s.Trends[h]; ok {
			hj.Trend = tr.Value
			hj.TrendStatus = string(tr.Status)
		}
		out.Horizons[string(h)] = hj
	}
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
