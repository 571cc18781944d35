// internal/trend/evaluator_test.go
package trend_test

import (
	"math"
	"testing"
	"time"

	"github.com/AskeFunder/flipper-pro-sub000/internal/interval"
	"github.com/AskeFunder/flipper-pro-sub000/internal/model"
	"github.com/AskeFunder/flipper-pro-sub000/internal/trend"
	"github.com/AskeFunder/flipper-pro-sub000/pkg/logger"
)

func newEvaluator(t *testing.T) *trend.Evaluator {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "debug", DevMode: true})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	// Фиксированные часы: все тестовые свечи остаются в прошлом.
	return trend.New(log, true).WithClock(func() time.Time { return time.Unix(2000, 0) })
}

func i64(v int64) *int64 { return &v }

func candle(ts int64, high, low *int64) model.Candle {
	return model.Candle{ItemID: 1, Timestamp: ts, AvgHigh: high, AvgLow: low}
}

func ref() trend.Ref { return trend.Ref{ItemID: 1, Horizon: interval.H5m} }

func TestEvaluate_BasicTwoCandles(t *testing.T) {
	e := newEvaluator(t)
	candles := []model.Candle{
		candle(1000, i64(110), i64(90)),
		candle(700, i64(100), i64(80)),
	}

	res := e.Evaluate(candles, 300*time.Second, 120*time.Second, ref())

	if res.Status != model.TrendValid {
		t.Fatalf("status = %v; want valid", res.Status)
	}
	if res.NowTS != 1000 || res.Target != 700 || res.Matched != 700 {
		t.Errorf("timestamps = now %d target %d matched %d; want 1000/700/700",
			res.NowTS, res.Target, res.Matched)
	}
	// (100−90)/90×100
	want := 10.0 / 90.0 * 100.0
	if res.Value == nil || math.Abs(*res.Value-want) > 1e-9 {
		t.Errorf("value = %v; want %.4f", res.Value, want)
	}
}

func TestEvaluate_EmptyInput(t *testing.T) {
	e := newEvaluator(t)
	res := e.Evaluate(nil, 300*time.Second, 120*time.Second, ref())
	if res.Status != model.TrendUnavailable || res.Value != nil {
		t.Errorf("empty input: status=%v value=%v; want unavailable/nil", res.Status, res.Value)
	}
	if res.NowTS != 0 || res.Target != 0 || res.Matched != 0 {
		t.Errorf("empty input: timestamps must be absent, got %+v", res)
	}
}

func TestEvaluate_PriceTooLow(t *testing.T) {
	e := newEvaluator(t)
	candles := []model.Candle{
		candle(1000, i64(110), i64(90)),
		candle(700, i64(5), i64(5)), // matched mid = 5 < порога
	}
	res := e.Evaluate(candles, 300*time.Second, 120*time.Second, ref())
	if res.Status != model.TrendUnavailable {
		t.Errorf("status = %v; want unavailable", res.Status)
	}
	if res.Value != nil {
		t.Errorf("value = %v; want nil", *res.Value)
	}
}

func TestEvaluate_CapPositive(t *testing.T) {
	e := newEvaluator(t)
	candles := []model.Candle{
		candle(1000, i64(1_000_000), i64(1_000_000)),
		candle(700, i64(10), i64(10)), // raw = 9999900%
	}
	res := e.Evaluate(candles, 300*time.Second, 120*time.Second, ref())
	if res.Status != model.TrendValid {
		t.Fatalf("status = %v; want valid", res.Status)
	}
	if res.Value == nil || *res.Value != trend.TrendCap {
		t.Errorf("value = %v; want capped %d", res.Value, trend.TrendCap)
	}
}

func TestEvaluate_CapNegative(t *testing.T) {
	e := newEvaluator(t)
	candles := []model.Candle{
		candle(1000, i64(1), i64(1)),
		candle(700, i64(2_000_000), i64(2_000_000)),
	}
	res := e.Evaluate(candles, 300*time.Second, 120*time.Second, ref())
	if res.Status != model.TrendValid {
		t.Fatalf("status = %v; want valid", res.Status)
	}
	// raw ≈ −99.99995%: клэмп не задевает, знак сохраняется.
	if res.Value == nil || *res.Value >= 0 || *res.Value < -trend.TrendCap {
		t.Errorf("value = %v; want negative within cap", res.Value)
	}
}

func TestEvaluate_TargetInFuture(t *testing.T) {
	log, _ := logger.New(logger.Config{Level: "error", DevMode: true})
	// Часы позади единственной свечи: target = 5000−300 > now=1000.
	e := trend.New(log, false).WithClock(func() time.Time { return time.Unix(1000, 0) })

	res := e.Evaluate([]model.Candle{candle(5000, i64(100), i64(100))}, 300*time.Second, 120*time.Second, ref())
	if res.Status != model.TrendUnavailable {
		t.Errorf("status = %v; want unavailable on clock skew", res.Status)
	}
}

func TestEvaluate_NoCandleInTolerance(t *testing.T) {
	e := newEvaluator(t)
	candles := []model.Candle{
		candle(1000, i64(110), i64(90)),
		candle(100, i64(100), i64(80)), // |100−700| = 600 > 120
	}
	res := e.Evaluate(candles, 300*time.Second, 120*time.Second, ref())
	if res.Status != model.TrendUnavailable {
		t.Errorf("status = %v; want unavailable", res.Status)
	}
}

func TestEvaluate_TieBreakPrefersLaterTimestamp(t *testing.T) {
	e := newEvaluator(t)
	// Две свечи на равном расстоянии от target=700: t=650 и t=750.
	candles := []model.Candle{
		candle(1000, i64(110), i64(90)),
		candle(650, i64(200), i64(200)),
		candle(750, i64(50), i64(50)),
	}
	res := e.Evaluate(candles, 300*time.Second, 120*time.Second, ref())
	if res.Status != model.TrendValid {
		t.Fatalf("status = %v; want valid", res.Status)
	}
	if res.Matched != 750 {
		t.Errorf("matched = %d; want later candle 750", res.Matched)
	}
}

func TestEvaluate_MidPriceOneSided(t *testing.T) {
	e := newEvaluator(t)
	// У обеих свечей присутствует только одна сторона.
	candles := []model.Candle{
		candle(1000, i64(120), nil),
		candle(700, nil, i64(100)),
	}
	res := e.Evaluate(candles, 300*time.Second, 120*time.Second, ref())
	if res.Status != model.TrendValid {
		t.Fatalf("status = %v; want valid", res.Status)
	}
	want := 20.0 // (120−100)/100×100
	if res.Value == nil || math.Abs(*res.Value-want) > 1e-9 {
		t.Errorf("value = %v; want %.1f", res.Value, want)
	}
}

func TestEvaluate_BothSidesMissing(t *testing.T) {
	e := newEvaluator(t)
	candles := []model.Candle{
		candle(1000, nil, nil),
		candle(700, i64(100), i64(100)),
	}
	res := e.Evaluate(candles, 300*time.Second, 120*time.Second, ref())
	if res.Status != model.TrendUnavailable {
		t.Errorf("status = %v; want unavailable when now-price absent", res.Status)
	}
}

// Инвариант подбора: для любого valid-результата matched ≤ now и
// |matched − target| ≤ tolerance.
func TestEvaluate_MatchInvariants(t *testing.T) {
	e := newEvaluator(t)
	candles := []model.Candle{
		candle(1000, i64(100), i64(100)),
		candle(930, i64(90), i64(90)),
		candle(760, i64(80), i64(80)),
		candle(640, i64(70), i64(70)),
		candle(400, i64(60), i64(60)),
	}
	for _, period := range []time.Duration{60 * time.Second, 300 * time.Second, 600 * time.Second} {
		res := e.Evaluate(candles, period, 120*time.Second, ref())
		if res.Status != model.TrendValid {
			continue
		}
		if res.Matched > res.NowTS {
			t.Errorf("period %v: matched %d > now %d", period, res.Matched, res.NowTS)
		}
		dist := res.Matched - res.Target
		if dist < 0 {
			dist = -dist
		}
		if dist > 120 {
			t.Errorf("period %v: |matched−target| = %d > tolerance", period, dist)
		}
	}
}
