// internal/storage/postgres/instants.go
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/AskeFunder/flipper-pro-sub000/internal/model"
)

// Instants возвращает обе стороны мгновенной цены для набора предметов.
func (s *Store) Instants(ctx context.Context, items []int64) (map[int64]model.ItemInstant, error) {
	const query = `
		SELECT item_id, side, price, observed_at
		FROM price_instants
		WHERE item_id = ANY($1)`

	rows, err := s.db.Query(ctx, query, items)
	if err != nil {
		return nil, fmt.Errorf("postgres: instants: %w", err)
	}
	defer rows.Close()

	return scanInstants(rows)
}

// AllInstants возвращает мгновенные цены всего каталога: поллер
// сравнивает их с ответом источника для детекции реальных изменений.
func (s *Store) AllInstants(ctx context.Context) (map[int64]model.ItemInstant, error) {
	const query = `SELECT item_id, side, price, observed_at FROM price_instants`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: all instants: %w", err)
	}
	defer rows.Close()

	return scanInstants(rows)
}

func scanInstants(rows pgx.Rows) (map[int64]model.ItemInstant, error) {
	out := make(map[int64]model.ItemInstant)
	for rows.Next() {
		var (
			id         int64
			side       string
			price      int64
			observedAt int64
		)
		if err := rows.Scan(&id, &side, &price, &observedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan instant: %w", err)
		}
		inst := out[id]
		p := price
		switch model.InstantSide(side) {
		case model.SideHigh:
			inst.High = &p
			inst.HighTime = observedAt
		case model.SideLow:
			inst.Low = &p
			inst.LowTime = observedAt
		}
		out[id] = inst
	}
	return out, rows.Err()
}

// ApplyLatest атомарно перезаписывает изменившиеся мгновенные цены и
// ставит dirty-отметки тем же предметам. Одна транзакция: предмет не
// может получить новую цену без отметки о пересчёте.
func (s *Store) ApplyLatest(ctx context.Context, changed []model.PriceInstant, dirty []int64) error {
	if len(changed) == 0 {
		return nil
	}
	ctx, span := tracer.Start(ctx, "ApplyLatest")
	defer span.End()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	const upsert = `
		INSERT INTO price_instants (item_id, side, price, observed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (item_id, side) DO UPDATE SET
			price = EXCLUDED.price,
			observed_at = EXCLUDED.observed_at,
			updated_at = EXCLUDED.updated_at`
	now := time.Now().UTC()
	for _, in := range changed {
		batch.Queue(upsert, in.ItemID, string(in.Side), in.Price, in.ObservedAt, now)
	}
	const mark = `
		INSERT INTO dirty_items (item_id, touched_at)
		VALUES ($1, $2)
		ON CONFLICT (item_id) DO UPDATE SET touched_at = EXCLUDED.touched_at`
	for _, id := range dirty {
		batch.Queue(mark, id, now)
	}

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < len(changed)+len(dirty); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			span.RecordError(err)
			return fmt.Errorf("postgres: apply latest: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("postgres: apply latest close: %w", err)
	}
	return tx.Commit(ctx)
}
