// internal/interval/interval.go
package interval

import (
	"fmt"
	"time"
)

// -----------------------------------------------------------------------------
// Granularity
// -----------------------------------------------------------------------------

// Granularity — шаг свечной таблицы-источника.
type Granularity string

const (
	G5m  Granularity = "5m"
	G1h  Granularity = "1h"
	G6h  Granularity = "6h"
	G24h Granularity = "24h"
)

// Granularities перечислены от мелкой к крупной.
var Granularities = []Granularity{G5m, G1h, G6h, G24h}

// Duration возвращает период гранулярности.
func (g Granularity) Duration() (time.Duration, error) {
	switch g {
	case G5m:
		return 5 * time.Minute, nil
	case G1h:
		return time.Hour, nil
	case G6h:
		return 6 * time.Hour, nil
	case G24h:
		return 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("interval: unknown granularity %q", g)
	}
}

// Seconds — период гранулярности в секундах. Паникует на неизвестном
// значении: все вызовы идут через проверенные конфигом константы.
func (g Granularity) Seconds() int64 {
	d, err := g.Duration()
	if err != nil {
		panic(err)
	}
	return int64(d / time.Second)
}

// Align выравнивает epoch-метку вниз до границы периода.
func (g Granularity) Align(ts int64) int64 {
	p := g.Seconds()
	return ts - ts%p
}

// Parse валидирует строку из конфига.
func Parse(s string) (Granularity, error) {
	g := Granularity(s)
	if _, err := g.Duration(); err != nil {
		return "", err
	}
	return g, nil
}

// -----------------------------------------------------------------------------
// Horizon
// -----------------------------------------------------------------------------

// Horizon — горизонт тренда/агрегатов в materialized-строке.
type Horizon string

const (
	H5m  Horizon = "5m"
	H1h  Horizon = "1h"
	H6h  Horizon = "6h"
	H24h Horizon = "24h"
	H1w  Horizon = "1w"
	H1mo Horizon = "1mo"
	H3mo Horizon = "3mo"
	H1y  Horizon = "1y"
)

// Horizons — все восемь горизонтов в порядке возрастания длины.
var Horizons = []Horizon{H5m, H1h, H6h, H24h, H1w, H1mo, H3mo, H1y}

// ShortHorizons считаются по свечному алгоритму с якорем на последней
// собственной 5-минутной свече. CalendarHorizons — по календарному окну.
// Два разных алгоритма — намеренное разделение, не унифицировать.
var (
	ShortHorizons    = []Horizon{H5m, H1h, H6h, H24h}
	CalendarHorizons = []Horizon{H1w, H1mo, H3mo, H1y}
)

// Length возвращает длину горизонта.
func (h Horizon) Length() time.Duration {
	switch h {
	case H5m:
		return 5 * time.Minute
	case H1h:
		return time.Hour
	case H6h:
		return 6 * time.Hour
	case H24h:
		return 24 * time.Hour
	case H1w:
		return 7 * 24 * time.Hour
	case H1mo:
		return 30 * 24 * time.Hour
	case H3mo:
		return 90 * 24 * time.Hour
	case H1y:
		return 365 * 24 * time.Hour
	}
	return 0
}

// Seconds — длина горизонта в секундах.
func (h Horizon) Seconds() int64 { return int64(h.Length() / time.Second) }
