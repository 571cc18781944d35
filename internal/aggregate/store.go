// internal/aggregate/store.go
package aggregate

import (
	"context"

	"github.com/AskeFunder/flipper-pro-sub000/internal/interval"
	"github.com/AskeFunder/flipper-pro-sub000/internal/model"
)

// BoundaryQuery — один bulk-запрос "цена у границы окна" по набору
// предметов. Предпочтение отдаётся строкам с обеими сторонами цены
// (both > high-only > low-only), затем ближайшей метке, затем более
// поздней.
type BoundaryQuery struct {
	Granularity interval.Granularity
	Items       []int64
	Boundary    int64 // граница окна, epoch-секунды
	Tolerance   int64 // допуск по |timestamp − boundary|, секунды
	// Bounded ограничивает кандидатов пределами [WindowLo, WindowHi].
	// Включается для строгих горизонтов и для расширенного поиска.
	Bounded  bool
	WindowLo int64
	WindowHi int64
}

// Store — read-сторона агрегационного конвейера. Читает только
// закоммиченные свечные данные, поэтому безопасна для конкурентного
// fan-out по горизонтам.
type Store interface {
	// RecentCandles возвращает свечи гранулярности g по каждому предмету
	// в окне [from, to], отсортированные по возрастанию метки.
	RecentCandles(ctx context.Context, g interval.Granularity, items []int64, from, to int64) (map[int64][]model.Candle, error)

	// BoundaryPrices разрешает по одной цене на предмет у границы окна.
	// Предметы без кандидатов в карте отсутствуют.
	BoundaryPrices(ctx context.Context, q BoundaryQuery) (map[int64]model.BoundaryPrice, error)

	// Instants возвращает текущие мгновенные цены предметов.
	Instants(ctx context.Context, items []int64) (map[int64]model.ItemInstant, error)

	// HorizonAggregates возвращает объём/оборот/последние цены сторон
	// по окну [from, to] из таблицы гранулярности g.
	HorizonAggregates(ctx context.Context, g interval.Granularity, items []int64, from, to int64) (map[int64]model.VolumeAgg, error)

	// Items возвращает записи каталога.
	Items(ctx context.Context, items []int64) (map[int64]model.Item, error)
}

// SummaryWriter — write-сторона: один bulk-upsert, строка заменяется
// целиком.
type SummaryWriter interface {
	UpsertSummaries(ctx context.Context, rows []model.Summary) error
}

// DirtyStore — очередь предметов, ожидающих пересчёта.
type DirtyStore interface {
	DirtyItemIDs(ctx context.Context) ([]int64, error)
	AllItemIDs(ctx context.Context) ([]int64, error)
	// ClearDirty снимает отметки; вызывается только после успешного
	// коммита батча.
	ClearDirty(ctx context.Context, items []int64) error
}

// TxRunner исполняет fn в одной транзакции; writer привязан к ней.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, w SummaryWriter) error) error
}
