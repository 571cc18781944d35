// internal/storage/postgres/items.go
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/AskeFunder/flipper-pro-sub000/internal/model"
)

// Items возвращает записи каталога по идентификаторам.
func (s *Store) Items(ctx context.Context, items []int64) (map[int64]model.Item, error) {
	const query = `
		SELECT id, name, icon, members, buy_limit
		FROM items
		WHERE id = ANY($1)`

	rows, err := s.db.Query(ctx, query, items)
	if err != nil {
		return nil, fmt.Errorf("postgres: items: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]model.Item, len(items))
	for rows.Next() {
		var it model.Item
		if err := rows.Scan(&it.ID, &it.Name, &it.Icon, &it.Members, &it.BuyLimit); err != nil {
			return nil, fmt.Errorf("postgres: scan item: %w", err)
		}
		out[it.ID] = it
	}
	return out, rows.Err()
}

// AllItemIDs возвращает весь каталог (для full-refresh fallback).
func (s *Store) AllItemIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM items ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: all item ids: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan item id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// UpsertItems обновляет каталог из upstream-маппинга.
func (s *Store) UpsertItems(ctx context.Context, items []model.Item) error {
	if len(items) == 0 {
		return nil
	}

	const query = `
		INSERT INTO items (id, name, icon, members, buy_limit)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			icon = EXCLUDED.icon,
			members = EXCLUDED.members,
			buy_limit = EXCLUDED.buy_limit`

	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(query, it.ID, it.Name, it.Icon, it.Members, it.BuyLimit)
	}
	br := s.db.SendBatch(ctx, batch)
	defer br.Close()

	for range items {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert items: %w", err)
		}
	}
	return nil
}
