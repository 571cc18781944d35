// internal/storage/postgres/summary.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/AskeFunder/flipper-pro-sub000/internal/interval"
	"github.com/AskeFunder/flipper-pro-sub000/internal/model"
)

// Колоночный план item_summary строится один раз на старте из
// перечисления горизонтов; порядок колонок и аргументов общий для
// upsert и чтения.

var (
	summaryColumns   = buildSummaryColumns()
	upsertSummarySQL = buildUpsertSummarySQL()
	selectSummarySQL = "SELECT " + strings.Join(summaryColumns, ", ") + " FROM item_summary"
)

func buildSummaryColumns() []string {
	cols := []string{
		"item_id", "name", "icon", "members", "buy_limit",
		"price_high", "price_high_time", "price_low", "price_low_time",
		"margin", "roi", "spread", "max_profit", "max_investment",
	}
	for _, h := range interval.Horizons {
		suf := string(h)
		cols = append(cols,
			"volume_"+suf, "turnover_"+suf, "buy_sell_ratio_"+suf,
			"high_"+suf, "low_"+suf, "trend_"+suf, "trend_status_"+suf,
		)
	}
	return append(cols, "updated_at")
}

func buildUpsertSummarySQL() string {
	placeholders := make([]string, len(summaryColumns))
	updates := make([]string, 0, len(summaryColumns)-1)
	for i, col := range summaryColumns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if col != "item_id" {
			updates = append(updates, col+" = EXCLUDED."+col)
		}
	}
	return fmt.Sprintf(
		"INSERT INTO item_summary (%s) VALUES (%s) ON CONFLICT (item_id) DO UPDATE SET %s",
		strings.Join(summaryColumns, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(updates, ", "),
	)
}

func summaryArgs(s model.Summary) []any {
	args := []any{
		s.ItemID, s.Name, s.Icon, s.Members, s.BuyLimit,
		s.High, s.HighTime, s.Low, s.LowTime,
		s.Margin, s.ROI, s.Spread, s.MaxProfit, s.MaxInvestment,
	}
	for _, h := range interval.Horizons {
		st := s.Stats[h]
		tv := s.Trends[h]
		status := tv.Status
		if status == "" {
			status = model.TrendUnavailable
		}
		args = append(args, st.Volume, st.Turnover, st.BuySellRatio, st.HighPrice, st.LowPrice, tv.Value, string(status))
	}
	return append(args, s.UpdatedAt)
}

// batchSender покрывает и пул, и транзакцию.
type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

func upsertSummaries(ctx context.Context, db batchSender, rows []model.Summary) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, s := range rows {
		batch.Queue(upsertSummarySQL, summaryArgs(s)...)
	}
	br := db.SendBatch(ctx, batch)
	defer br.Close()

	for range rows {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert summary: %w", err)
		}
	}
	return nil
}

// UpsertSummaries — bulk-upsert вне транзакции (используется тестами и
// разовыми пересчётами; конвейер пишет через WithinTx).
func (s *Store) UpsertSummaries(ctx context.Context, rows []model.Summary) error {
	return upsertSummaries(ctx, s.db, rows)
}

// -----------------------------------------------------------------------------
// Чтение для query-API
// -----------------------------------------------------------------------------

// horizonScan — адресуемый буфер колонок одного горизонта.
type horizonScan struct {
	Volume   int64
	Turnover float64
	Ratio    *float64
	High     *int64
	Low      *int64
	Trend    *float64
	Status   string
}

func scanSummary(rows pgx.Rows) (model.Summary, error) {
	var (
		s   model.Summary
		tmp = make([]horizonScan, len(interval.Horizons))
		ts  time.Time
	)
	targets := []any{
		&s.ItemID, &s.Name, &s.Icon, &s.Members, &s.BuyLimit,
		&s.High, &s.HighTime, &s.Low, &s.LowTime,
		&s.Margin, &s.ROI, &s.Spread, &s.MaxProfit, &s.MaxInvestment,
	}
	for i := range tmp {
		targets = append(targets,
			&tmp[i].Volume, &tmp[i].Turnover, &tmp[i].Ratio,
			&tmp[i].High, &tmp[i].Low, &tmp[i].Trend, &tmp[i].Status,
		)
	}
	targets = append(targets, &ts)

	if err := rows.Scan(targets...); err != nil {
		return s, fmt.Errorf("postgres: scan summary: %w", err)
	}

	s.UpdatedAt = ts
	s.Stats = make(map[interval.Horizon]model.HorizonStats, len(interval.Horizons))
	s.Trends = make(map[interval.Horizon]model.TrendValue, len(interval.Horizons))
	for i, h := range interval.Horizons {
		s.Stats[h] = model.HorizonStats{
			Volume:       tmp[i].Volume,
			Turnover:     tmp[i].Turnover,
			BuySellRatio: tmp[i].Ratio,
			HighPrice:    tmp[i].High,
			LowPrice:     tmp[i].Low,
		}
		s.Trends[h] = model.TrendValue{Value: tmp[i].Trend, Status: model.TrendStatus(tmp[i].Status)}
	}
	return s, nil
}

// ErrSummaryNotFound — предмет ни разу не агрегировался.
var ErrSummaryNotFound = errors.New("postgres: summary not found")

// SummaryByItem возвращает одну materialized-строку.
func (s *Store) SummaryByItem(ctx context.Context, itemID int64) (model.Summary, error) {
	rows, err := s.db.Query(ctx, selectSummarySQL+" WHERE item_id = $1", itemID)
	if err != nil {
		return model.Summary{}, fmt.Errorf("postgres: summary by item: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return model.Summary{}, err
		}
		return model.Summary{}, ErrSummaryNotFound
	}
	return scanSummary(rows)
}

// AllSummaries возвращает все строки каталога.
func (s *Store) AllSummaries(ctx context.Context) ([]model.Summary, error) {
	rows, err := s.db.Query(ctx, selectSummarySQL+" ORDER BY item_id")
	if err != nil {
		return nil, fmt.Errorf("postgres: all summaries: %w", err)
	}
	defer rows.Close()

	var out []model.Summary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}
