// internal/storage/postgres/candles.go
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/AskeFunder/flipper-pro-sub000/internal/aggregate"
	"github.com/AskeFunder/flipper-pro-sub000/internal/interval"
	"github.com/AskeFunder/flipper-pro-sub000/internal/model"
)

// RecentCandles возвращает свечи гранулярности g в окне [from, to] по
// каждому предмету, по возрастанию метки.
func (s *Store) RecentCandles(ctx context.Context, g interval.Granularity, items []int64, from, to int64) (map[int64][]model.Candle, error) {
	query := fmt.Sprintf(`
		SELECT item_id, timestamp, avg_high, avg_low, high_volume, low_volume
		FROM %s
		WHERE item_id = ANY($1) AND timestamp BETWEEN $2 AND $3
		ORDER BY item_id, timestamp`, candleTable(g))

	rows, err := s.db.Query(ctx, query, items, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent candles %s: %w", g, err)
	}
	defer rows.Close()

	out := make(map[int64][]model.Candle, len(items))
	for rows.Next() {
		var c model.Candle
		if err := rows.Scan(&c.ItemID, &c.Timestamp, &c.AvgHigh, &c.AvgLow, &c.HighVolume, &c.LowVolume); err != nil {
			return nil, fmt.Errorf("postgres: scan candle: %w", err)
		}
		out[c.ItemID] = append(out[c.ItemID], c)
	}
	return out, rows.Err()
}

// BoundaryPrices — по одной цене на предмет около границы окна.
// DISTINCT ON с многоступенчатой сортировкой реализует предпочтение
// полноты строки (обе стороны > только high > только low), затем
// ближайшую к границе метку, затем более позднюю.
func (s *Store) BoundaryPrices(ctx context.Context, q aggregate.BoundaryQuery) (map[int64]model.BoundaryPrice, error) {
	ctx, span := tracer.Start(ctx, "BoundaryPrices",
		trace.WithAttributes(
			attribute.String("granularity", string(q.Granularity)),
			attribute.Int("items", len(q.Items)),
		))
	defer span.End()

	lo := q.Boundary - q.Tolerance
	hi := q.Boundary + q.Tolerance
	if q.Bounded {
		if lo < q.WindowLo {
			lo = q.WindowLo
		}
		if hi > q.WindowHi {
			hi = q.WindowHi
		}
	}
	if lo > hi {
		return map[int64]model.BoundaryPrice{}, nil
	}

	rows, err := s.db.Query(ctx, boundaryPricesSQL(candleTable(q.Granularity)), q.Items, lo, hi, q.Boundary)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("postgres: boundary prices %s: %w", q.Granularity, err)
	}
	defer rows.Close()

	out := make(map[int64]model.BoundaryPrice)
	for rows.Next() {
		var c model.Candle
		if err := rows.Scan(&c.ItemID, &c.Timestamp, &c.AvgHigh, &c.AvgLow); err != nil {
			return nil, fmt.Errorf("postgres: scan boundary price: %w", err)
		}
		if mid, ok := c.Mid(); ok {
			out[c.ItemID] = model.BoundaryPrice{Price: mid, Timestamp: c.Timestamp}
		}
	}
	return out, rows.Err()
}

// boundaryPricesSQL строит выборку кандидата границы. Порядок ключей
// сортировки — это контракт: обе стороны > только high > только low,
// затем |timestamp − граница|, затем более поздняя метка.
func boundaryPricesSQL(table string) string {
	return fmt.Sprintf(`
		SELECT DISTINCT ON (item_id) item_id, timestamp, avg_high, avg_low
		FROM %s
		WHERE item_id = ANY($1)
		  AND timestamp BETWEEN $2 AND $3
		  AND (avg_high IS NOT NULL OR avg_low IS NOT NULL)
		ORDER BY item_id,
		  (avg_high IS NOT NULL AND avg_low IS NOT NULL) DESC,
		  (avg_high IS NOT NULL) DESC,
		  ABS(timestamp - $4) ASC,
		  timestamp DESC`, table)
}

// HorizonAggregates — суммы объёмов, оборот и последние цены сторон
// одним запросом на таблицу-источник.
func (s *Store) HorizonAggregates(ctx context.Context, g interval.Granularity, items []int64, from, to int64) (map[int64]model.VolumeAgg, error) {
	table := candleTable(g)
	query := fmt.Sprintf(`
		WITH sums AS (
			SELECT item_id,
			       COALESCE(SUM(high_volume), 0) AS high_volume,
			       COALESCE(SUM(low_volume), 0)  AS low_volume,
			       COALESCE(SUM(COALESCE((avg_high + avg_low) / 2.0, avg_high, avg_low) * (high_volume + low_volume)), 0) AS turnover
			FROM %[1]s
			WHERE item_id = ANY($1) AND timestamp BETWEEN $2 AND $3
			GROUP BY item_id
		), latest_high AS (
			SELECT DISTINCT ON (item_id) item_id, avg_high
			FROM %[1]s
			WHERE item_id = ANY($1) AND timestamp BETWEEN $2 AND $3 AND avg_high IS NOT NULL
			ORDER BY item_id, timestamp DESC
		), latest_low AS (
			SELECT DISTINCT ON (item_id) item_id, avg_low
			FROM %[1]s
			WHERE item_id = ANY($1) AND timestamp BETWEEN $2 AND $3 AND avg_low IS NOT NULL
			ORDER BY item_id, timestamp DESC
		)
		SELECT s.item_id, s.high_volume, s.low_volume, s.turnover, lh.avg_high, ll.avg_low
		FROM sums s
		LEFT JOIN latest_high lh USING (item_id)
		LEFT JOIN latest_low  ll USING (item_id)`, table)

	rows, err := s.db.Query(ctx, query, items, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: horizon aggregates %s: %w", g, err)
	}
	defer rows.Close()

	out := make(map[int64]model.VolumeAgg, len(items))
	for rows.Next() {
		var id int64
		var agg model.VolumeAgg
		if err := rows.Scan(&id, &agg.HighVolume, &agg.LowVolume, &agg.Turnover, &agg.HighPrice, &agg.LowPrice); err != nil {
			return nil, fmt.Errorf("postgres: scan aggregate: %w", err)
		}
		out[id] = agg
	}
	return out, rows.Err()
}

// InsertCandles вставляет свечи идемпотентно: дубликат по
// (item, timestamp) молча пропускается, повторный бэкофилл безопасен.
func (s *Store) InsertCandles(ctx context.Context, g interval.Granularity, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	ctx, span := tracer.Start(ctx, "InsertCandles",
		trace.WithAttributes(
			attribute.String("granularity", string(g)),
			attribute.Int("count", len(candles)),
		))
	defer span.End()

	query := fmt.Sprintf(`
		INSERT INTO %s (item_id, timestamp, avg_high, avg_low, high_volume, low_volume)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (item_id, timestamp) DO NOTHING`, candleTable(g))

	batch := &pgx.Batch{}
	for _, c := range candles {
		batch.Queue(query, c.ItemID, c.Timestamp, c.AvgHigh, c.AvgLow, c.HighVolume, c.LowVolume)
	}
	br := s.db.SendBatch(ctx, batch)
	defer br.Close()

	for range candles {
		if _, err := br.Exec(); err != nil {
			span.RecordError(err)
			return fmt.Errorf("postgres: insert candles %s: %w", g, err)
		}
	}
	return nil
}

// DeleteCandlesBefore удаляет свечи старше cutoff; возвращает число
// удалённых строк.
func (s *Store) DeleteCandlesBefore(ctx context.Context, g interval.Granularity, cutoff time.Time) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE timestamp < $1`, candleTable(g))
	tag, err := s.db.Exec(ctx, query, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("postgres: cleanup %s: %w", g, err)
	}
	if tag.RowsAffected() > 0 {
		s.log.Info("retention cleanup",
			zap.String("granularity", string(g)),
			zap.Int64("deleted", tag.RowsAffected()),
		)
	}
	return tag.RowsAffected(), nil
}
