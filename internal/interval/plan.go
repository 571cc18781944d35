// internal/interval/plan.go
package interval

import "time"

// Карта горизонтов строится один раз на старте вместо динамической сборки
// SQL-текста: конечное перечисление {горизонт → источник, допуск,
// строгость, fallback}.

// -----------------------------------------------------------------------------
// Короткие горизонты (свечной алгоритм)
// -----------------------------------------------------------------------------

// ShortPlan описывает свечной проход одного короткого горизонта.
type ShortPlan struct {
	Horizon   Horizon
	Period    time.Duration // смещение target-point от now-point
	Tolerance time.Duration // допуск при поиске исторической свечи
	Source    Granularity   // основная таблица (всегда 5m)
	Fallback  Granularity   // "" — нет fallback; иначе повтор по этой таблице со статусом stale
}

var shortPlans = map[Horizon]ShortPlan{
	H5m:  {Horizon: H5m, Period: 5 * time.Minute, Tolerance: 2 * time.Minute, Source: G5m},
	H1h:  {Horizon: H1h, Period: time.Hour, Tolerance: 10 * time.Minute, Source: G5m},
	H6h:  {Horizon: H6h, Period: 6 * time.Hour, Tolerance: time.Hour, Source: G5m},
	H24h: {Horizon: H24h, Period: 24 * time.Hour, Tolerance: 2 * time.Hour, Source: G5m, Fallback: G1h},
}

// ShortPlanFor возвращает план короткого горизонта.
func ShortPlanFor(h Horizon) (ShortPlan, bool) {
	p, ok := shortPlans[h]
	return p, ok
}

// -----------------------------------------------------------------------------
// Календарные горизонты (оконный алгоритм)
// -----------------------------------------------------------------------------

// WindowPlan описывает разрешение цен на границах календарного окна.
type WindowPlan struct {
	Horizon Horizon
	Length  time.Duration
	// Sources — цепочка таблиц-источников, мелкая первой.
	Sources []WindowSource
	// Strict запрещает точки вне [now-Length, now] даже при расширенном
	// поиске. Только 1y.
	Strict bool
	// EISFraction — допуск расширенного поиска как доля длины горизонта.
	EISFraction float64
}

// WindowSource — одна таблица в цепочке с её допуском.
type WindowSource struct {
	Granularity Granularity
	Tolerance   time.Duration
}

var windowPlans = map[Horizon]WindowPlan{
	H1w: {
		Horizon: H1w, Length: H1w.Length(),
		Sources: []WindowSource{
			{G1h, 2 * time.Hour},
			{G6h, 12 * time.Hour},
		},
		EISFraction: 0.2,
	},
	H1mo: {
		Horizon: H1mo, Length: H1mo.Length(),
		Sources: []WindowSource{
			{G6h, 12 * time.Hour},
			{G24h, 48 * time.Hour},
		},
		EISFraction: 0.2,
	},
	H3mo: {
		Horizon: H3mo, Length: H3mo.Length(),
		Sources: []WindowSource{
			{G24h, 48 * time.Hour},
		},
		EISFraction: 0.2,
	},
	H1y: {
		Horizon: H1y, Length: H1y.Length(),
		Sources: []WindowSource{
			{G24h, 48 * time.Hour},
		},
		Strict:      true,
		EISFraction: 0.2,
	},
}

// WindowPlanFor возвращает план календарного горизонта.
func WindowPlanFor(h Horizon) (WindowPlan, bool) {
	p, ok := windowPlans[h]
	return p, ok
}

// -----------------------------------------------------------------------------
// Источники объёмных агрегатов
// -----------------------------------------------------------------------------

// AggSource — назначенная таблица для volume/turnover/ratio горизонта.
// 5m/1h/6h/24h ← 5m; 1w ← 1h; 1mo ← 6h; 3mo и 1y ← 24h.
var aggSources = map[Horizon]Granularity{
	H5m:  G5m,
	H1h:  G5m,
	H6h:  G5m,
	H24h: G5m,
	H1w:  G1h,
	H1mo: G6h,
	H3mo: G24h,
	H1y:  G24h,
}

// AggSourceFor возвращает таблицу-источник агрегатов горизонта.
func AggSourceFor(h Horizon) Granularity { return aggSources[h] }
