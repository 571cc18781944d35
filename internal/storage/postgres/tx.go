// internal/storage/postgres/tx.go
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/AskeFunder/flipper-pro-sub000/internal/aggregate"
	"github.com/AskeFunder/flipper-pro-sub000/internal/model"
)

// txWriter — SummaryWriter, привязанный к открытой транзакции.
type txWriter struct {
	tx pgx.Tx
}

func (w *txWriter) UpsertSummaries(ctx context.Context, rows []model.Summary) error {
	return upsertSummaries(ctx, w.tx, rows)
}

// WithinTx исполняет fn в одной транзакции: ошибка — откат, иначе коммит.
// Записи одного батча не видны читателям частично.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, w aggregate.SummaryWriter) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &txWriter{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}
