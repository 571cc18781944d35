// internal/storage/postgres/dirty.go
package postgres

import (
	"context"
	"fmt"
	"time"
)

// DirtyItemIDs возвращает очередь предметов, ожидающих пересчёта,
// в порядке давности отметки.
func (s *Store) DirtyItemIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.Query(ctx, `SELECT item_id FROM dirty_items ORDER BY touched_at, item_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: dirty items: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan dirty item: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// MarkDirty ставит dirty-отметки набору предметов.
func (s *Store) MarkDirty(ctx context.Context, items []int64) error {
	if len(items) == 0 {
		return nil
	}
	const query = `
		INSERT INTO dirty_items (item_id, touched_at)
		SELECT unnest($1::bigint[]), $2
		ON CONFLICT (item_id) DO UPDATE SET touched_at = EXCLUDED.touched_at`
	if _, err := s.db.Exec(ctx, query, items, time.Now().UTC()); err != nil {
		return fmt.Errorf("postgres: mark dirty: %w", err)
	}
	return nil
}

// ClearDirty снимает отметки после успешного коммита батча.
func (s *Store) ClearDirty(ctx context.Context, items []int64) error {
	if len(items) == 0 {
		return nil
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM dirty_items WHERE item_id = ANY($1)`, items); err != nil {
		return fmt.Errorf("postgres: clear dirty: %w", err)
	}
	return nil
}
