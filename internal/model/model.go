// internal/model/model.go
package model

import (
	"time"

	"github.com/AskeFunder/flipper-pro-sub000/internal/interval"
)

// -----------------------------------------------------------------------------
// Candle
// -----------------------------------------------------------------------------

// Candle — одна агрегированная цена/объём предмета за период гранулярности.
// Метка времени — epoch-секунды, выровненные по границе периода.
// AvgHigh/AvgLow могут отсутствовать по отдельности, но хотя бы одна
// сторона обычно присутствует.
type Candle struct {
	ItemID     int64
	Timestamp  int64
	AvgHigh    *int64 // средняя цена стороны покупки (insta-buy), gp
	AvgLow     *int64 // средняя цена стороны продажи (insta-sell), gp
	HighVolume int64
	LowVolume  int64
}

// Mid возвращает среднюю цену свечи: среднее обеих сторон, либо
// присутствующую сторону. ok=false, если нет ни одной.
func (c Candle) Mid() (float64, bool) {
	switch {
	case c.AvgHigh != nil && c.AvgLow != nil:
		return float64(*c.AvgHigh+*c.AvgLow) / 2, true
	case c.AvgHigh != nil:
		return float64(*c.AvgHigh), true
	case c.AvgLow != nil:
		return float64(*c.AvgLow), true
	default:
		return 0, false
	}
}

// BothSides — обе стороны свечи заполнены.
func (c Candle) BothSides() bool { return c.AvgHigh != nil && c.AvgLow != nil }

// -----------------------------------------------------------------------------
// PriceInstant
// -----------------------------------------------------------------------------

// InstantSide — сторона мгновенной цены.
type InstantSide string

const (
	SideHigh InstantSide = "high"
	SideLow  InstantSide = "low"
)

// PriceInstant — последняя наблюдённая цена одной стороны предмета.
// Ровно одна строка на (item, side); перезаписывается на месте.
type PriceInstant struct {
	ItemID     int64
	Side       InstantSide
	Price      int64
	ObservedAt int64 // epoch-секунды наблюдения в источнике
	UpdatedAt  time.Time
}

// ItemInstant — обе стороны мгновенной цены одного предмета.
type ItemInstant struct {
	High     *int64
	HighTime int64
	Low      *int64
	LowTime  int64
}

// -----------------------------------------------------------------------------
// Item
// -----------------------------------------------------------------------------

// Item — запись каталога торгуемых предметов.
type Item struct {
	ID       int64
	Name     string
	Icon     string
	Members  bool
	BuyLimit int64
}

// -----------------------------------------------------------------------------
// TrendResult
// -----------------------------------------------------------------------------

// TrendStatus — исход вычисления тренда.
type TrendStatus string

const (
	// TrendValid — тренд посчитан напрямую по основному источнику.
	TrendValid TrendStatus = "valid"
	// TrendStale — тренд восстановлен по более грубой таблице (fallback).
	TrendStale TrendStatus = "stale"
	// TrendUnavailable — подходящих данных нет; штатный исход, не ошибка.
	TrendUnavailable TrendStatus = "unavailable"
)

// TrendResult — транзиентный результат одного горизонта.
// Метки времени сохраняются для аудита; ноль — отсутствие значения.
type TrendResult struct {
	Value   *float64
	Status  TrendStatus
	NowTS   int64 // метка последней свечи (не системные часы)
	Target  int64 // NowTS − period
	Matched int64 // метка подобранной исторической свечи
}

// Unavailable — готовый результат "данных нет".
func Unavailable() TrendResult {
	return TrendResult{Status: TrendUnavailable}
}

// -----------------------------------------------------------------------------
// Summary
// -----------------------------------------------------------------------------

// HorizonStats — объёмные агрегаты одного горизонта.
type HorizonStats struct {
	Volume       int64    // суммарный объём обеих сторон
	Turnover     float64  // сумма mid × volume
	BuySellRatio *float64 // Σ high-volume / Σ low-volume; nil при нулевом делителе
	HighPrice    *int64   // последняя цена high-стороны в горизонте
	LowPrice     *int64   // последняя цена low-стороны в горизонте
}

// Summary — materialized-строка предмета. Перезаписывается целиком при
// каждом пересчёте; отсутствие строки означает, что предмет ни разу не
// агрегировался.
type Summary struct {
	ItemID   int64
	Name     string
	Icon     string
	Members  bool
	BuyLimit int64

	High     *int64
	HighTime int64
	Low      *int64
	LowTime  int64

	Margin        *int64
	ROI           *float64 // %
	Spread        *float64 // %
	MaxProfit     *int64
	MaxInvestment *int64

	Stats  map[interval.Horizon]HorizonStats
	Trends map[interval.Horizon]TrendValue

	UpdatedAt time.Time
}

// TrendValue — персистируемая пара значение+статус одного горизонта.
type TrendValue struct {
	Value  *float64
	Status TrendStatus
}

// -----------------------------------------------------------------------------
// Вспомогательные значения запросов
// -----------------------------------------------------------------------------

// BoundaryPrice — цена, разрешённая у границы календарного окна.
type BoundaryPrice struct {
	Price     float64
	Timestamp int64
}

// VolumeAgg — сырой агрегат одного горизонта из таблицы-источника.
type VolumeAgg struct {
	HighVolume int64
	LowVolume  int64
	Turnover   float64
	HighPrice  *int64
	LowPrice   *int64
}

// DirtyMarker — отметка "предмет требует пересчёта".
type DirtyMarker struct {
	ItemID    int64
	TouchedAt time.Time
}
