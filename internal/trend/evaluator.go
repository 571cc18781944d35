// internal/trend/evaluator.go
package trend

import (
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/AskeFunder/flipper-pro-sub000/internal/interval"
	"github.com/AskeFunder/flipper-pro-sub000/internal/model"
	"github.com/AskeFunder/flipper-pro-sub000/pkg/logger"
)

const (
	// MinPriceFloor — нижний порог исторической цены (gp). Деление на
	// почти нулевую базу усиливает шум до бессмысленных процентов.
	MinPriceFloor = 10

	// TrendCap — предел модуля тренда в процентах.
	TrendCap = 100000
)

// Ref — контекст аудита одного вычисления. На управление не влияет.
type Ref struct {
	ItemID  int64
	Horizon interval.Horizon
}

// Evaluator считает тренд по набору свечей одного предмета.
// Детерминирован, без I/O; системные часы участвуют только в guard
// "target in future".
type Evaluator struct {
	log     *logger.Logger
	verbose bool
	now     func() time.Time
}

// New создаёт Evaluator. verbose включает диагностические записи аудита.
func New(log *logger.Logger, verbose bool) *Evaluator {
	return &Evaluator{
		log:     log.Named("trend"),
		verbose: verbose,
		now:     time.Now,
	}
}

// WithClock подменяет источник времени (для тестов).
func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	e.now = now
	return e
}

// Evaluate возвращает результат одного горизонта.
//
// Now-point — метка последней свечи, не системные часы; target-point =
// now − period. Исторической берётся свеча с минимальным расстоянием до
// target в пределах tolerance, при равенстве — более поздняя.
func (e *Evaluator) Evaluate(candles []model.Candle, period, tolerance time.Duration, ref Ref) model.TrendResult {
	if len(candles) == 0 {
		return model.Unavailable()
	}

	sorted := make([]model.Candle, len(candles))
	copy(sorted, candles)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp > sorted[j].Timestamp })

	nowCandle := sorted[0]
	nowTS := nowCandle.Timestamp
	target := nowTS - int64(period/time.Second)
	tol := int64(tolerance / time.Second)

	res := model.TrendResult{Status: model.TrendUnavailable, NowTS: nowTS, Target: target}

	// Свечи со сдвинутыми в будущее часами дали бы target позже
	// текущего момента.
	if target > e.now().Unix() {
		e.audit(ref, "target in future", res)
		return res
	}

	matched, ok := nearestInTolerance(sorted, target, tol)
	if !ok {
		e.audit(ref, "no candle in tolerance", res)
		return res
	}
	res.Matched = matched.Timestamp

	// Повторная проверка инвариантов подбора.
	if matched.Timestamp > nowTS || abs64(matched.Timestamp-target) > tol {
		e.audit(ref, "matched point out of bounds", res)
		return res
	}

	nowPrice, nowOK := nowCandle.Mid()
	matchedPrice, matchedOK := matched.Mid()
	if !nowOK || !matchedOK || matchedPrice == 0 {
		e.audit(ref, "price missing", res)
		return res
	}

	if matchedPrice < MinPriceFloor {
		e.audit(ref, "price-too-low", res)
		return res
	}

	raw := (nowPrice - matchedPrice) / matchedPrice * 100
	value := raw
	if value > TrendCap {
		value = TrendCap
	} else if value < -TrendCap {
		value = -TrendCap
	}
	if value != raw && e.verbose {
		// Информационная запись, не аномалия.
		e.log.Debug("trend capped",
			zap.Int64("item", ref.ItemID),
			zap.String("horizon", string(ref.Horizon)),
			zap.Float64("raw", raw),
			zap.Float64("capped", value),
		)
	}

	res.Status = model.TrendValid
	res.Value = &value
	return res
}

// nearestInTolerance ищет среди свечей ближайшую к target в пределах tol.
// Свечи отсортированы по убыванию метки: при равном расстоянии строгое
// сравнение оставляет более позднюю.
func nearestInTolerance(sorted []model.Candle, target, tol int64) (model.Candle, bool) {
	var (
		best     model.Candle
		bestDist = int64(math.MaxInt64)
		found    bool
	)
	for _, c := range sorted {
		d := abs64(c.Timestamp - target)
		if d > tol {
			continue
		}
		if d < bestDist {
			best = c
			bestDist = d
			found = true
		}
	}
	return best, found
}

func (e *Evaluator) audit(ref Ref, reason string, res model.TrendResult) {
	if !e.verbose {
		return
	}
	e.log.Debug("trend audit",
		zap.Int64("item", ref.ItemID),
		zap.String("horizon", string(ref.Horizon)),
		zap.String("reason", reason),
		zap.Int64("now_ts", res.NowTS),
		zap.Int64("target_ts", res.Target),
		zap.Int64("matched_ts", res.Matched),
	)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
