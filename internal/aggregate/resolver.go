// internal/aggregate/resolver.go
package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/AskeFunder/flipper-pro-sub000/internal/interval"
	"github.com/AskeFunder/flipper-pro-sub000/internal/model"
	"github.com/AskeFunder/flipper-pro-sub000/pkg/logger"
)

// WindowResolver разрешает цены на границах календарных горизонтов
// (1w/1mo/3mo/1y). Короткие горизонты идут свечным алгоритмом и сюда
// не попадают.
type WindowResolver struct {
	store Store
	log   *logger.Logger
}

// NewWindowResolver создаёт резолвер поверх read-store.
func NewWindowResolver(store Store, log *logger.Logger) *WindowResolver {
	return &WindowResolver{store: store, log: log.Named("resolver")}
}

// Resolve считает тренды горизонта h для набора предметов на момент now
// (epoch-секунды). Предметы без разрешённой пары цен в карте отсутствуют.
//
// Окно — [now−length, now]. Start — самая ранняя пригодная точка окна,
// end — самая поздняя. Разрешение идёт по цепочке гранулярностей, мелкая
// первой; нерешённые предметы добирает расширенный поиск (EIS) c
// допуском 20% длины горизонта, ограниченным окном. Строгий горизонт
// (1y) не выходит за окно даже вне EIS.
func (r *WindowResolver) Resolve(ctx context.Context, items []int64, h interval.Horizon, now int64) (map[int64]float64, error) {
	plan, ok := interval.WindowPlanFor(h)
	if !ok {
		return nil, fmt.Errorf("resolver: horizon %q has no window plan", h)
	}

	lo := now - int64(plan.Length/time.Second)
	hi := now

	starts, err := r.resolveBoundary(ctx, items, plan, lo, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("resolver: %s start: %w", h, err)
	}
	ends, err := r.resolveBoundary(ctx, items, plan, hi, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("resolver: %s end: %w", h, err)
	}

	// Капы и порог минимальной цены тут намеренно не применяются:
	// это свойства свечного пути.
	trends := make(map[int64]float64, len(items))
	for _, id := range items {
		start, okS := starts[id]
		end, okE := ends[id]
		if !okS || !okE || start.Price == 0 {
			continue
		}
		trends[id] = (end.Price - start.Price) / start.Price * 100
	}
	return trends, nil
}

// resolveBoundary разрешает одну границу окна для всех предметов.
func (r *WindowResolver) resolveBoundary(ctx context.Context, items []int64, plan interval.WindowPlan, boundary, lo, hi int64) (map[int64]model.BoundaryPrice, error) {
	resolved := make(map[int64]model.BoundaryPrice, len(items))
	pending := append([]int64(nil), items...)

	// Проход по цепочке источников с номинальным допуском.
	for _, src := range plan.Sources {
		if len(pending) == 0 {
			break
		}
		found, err := r.store.BoundaryPrices(ctx, BoundaryQuery{
			Granularity: src.Granularity,
			Items:       pending,
			Boundary:    boundary,
			Tolerance:   int64(src.Tolerance / time.Second),
			Bounded:     plan.Strict,
			WindowLo:    lo,
			WindowHi:    hi,
		})
		if err != nil {
			return nil, err
		}
		pending = merge(resolved, pending, found)
	}

	// Расширенный поиск: допуск 20% длины горизонта, всегда в пределах окна.
	eisTol := int64(float64(plan.Length/time.Second) * plan.EISFraction)
	for _, src := range plan.Sources {
		if len(pending) == 0 {
			break
		}
		found, err := r.store.BoundaryPrices(ctx, BoundaryQuery{
			Granularity: src.Granularity,
			Items:       pending,
			Boundary:    boundary,
			Tolerance:   eisTol,
			Bounded:     true,
			WindowLo:    lo,
			WindowHi:    hi,
		})
		if err != nil {
			return nil, err
		}
		pending = merge(resolved, pending, found)
	}

	return resolved, nil
}

// merge переносит найденные цены в resolved и возвращает оставшихся.
func merge(resolved map[int64]model.BoundaryPrice, pending []int64, found map[int64]model.BoundaryPrice) []int64 {
	rest := pending[:0]
	for _, id := range pending {
		if p, ok := found[id]; ok {
			resolved[id] = p
		} else {
			rest = append(rest, id)
		}
	}
	return rest
}
