// internal/interval/interval_test.go
package interval_test

import (
	"testing"
	"time"

	"github.com/AskeFunder/flipper-pro-sub000/internal/interval"
)

func TestGranularityAlign(t *testing.T) {
	cases := []struct {
		g    interval.Granularity
		ts   int64
		want int64
	}{
		{interval.G5m, 0, 0},
		{interval.G5m, 299, 0},
		{interval.G5m, 300, 300},
		{interval.G5m, 301, 300},
		{interval.G1h, 7199, 3600},
		{interval.G6h, 21600, 21600},
		{interval.G24h, 100000, 86400},
	}
	for _, c := range cases {
		if got := c.g.Align(c.ts); got != c.want {
			t.Errorf("%s.Align(%d) = %d; want %d", c.g, c.ts, got, c.want)
		}
	}
}

func TestParse(t *testing.T) {
	for _, s := range []string{"5m", "1h", "6h", "24h"} {
		if _, err := interval.Parse(s); err != nil {
			t.Errorf("Parse(%q) unexpected error: %v", s, err)
		}
	}
	for _, s := range []string{"", "10m", "1d", "5M"} {
		if _, err := interval.Parse(s); err == nil {
			t.Errorf("Parse(%q): expected error", s)
		}
	}
}

func TestShortPlans(t *testing.T) {
	for _, h := range interval.ShortHorizons {
		p, ok := interval.ShortPlanFor(h)
		if !ok {
			t.Fatalf("no short plan for %s", h)
		}
		if p.Source != interval.G5m {
			t.Errorf("%s: source = %s; want 5m", h, p.Source)
		}
		if p.Period != h.Length() {
			t.Errorf("%s: period = %v; want %v", h, p.Period, h.Length())
		}
		if p.Tolerance <= 0 || p.Tolerance >= p.Period {
			t.Errorf("%s: tolerance %v out of (0, period)", h, p.Tolerance)
		}
	}

	// Fallback есть только у 24h.
	for _, h := range interval.ShortHorizons {
		p, _ := interval.ShortPlanFor(h)
		if h == interval.H24h {
			if p.Fallback != interval.G1h {
				t.Errorf("24h fallback = %q; want 1h", p.Fallback)
			}
		} else if p.Fallback != "" {
			t.Errorf("%s: unexpected fallback %q", h, p.Fallback)
		}
	}
}

func TestWindowPlans(t *testing.T) {
	for _, h := range interval.CalendarHorizons {
		p, ok := interval.WindowPlanFor(h)
		if !ok {
			t.Fatalf("no window plan for %s", h)
		}
		if len(p.Sources) == 0 {
			t.Errorf("%s: empty source chain", h)
		}
		if p.Length != h.Length() {
			t.Errorf("%s: length = %v; want %v", h, p.Length, h.Length())
		}
		if p.EISFraction != 0.2 {
			t.Errorf("%s: EIS fraction = %v; want 0.2", h, p.EISFraction)
		}
		if p.Strict != (h == interval.H1y) {
			t.Errorf("%s: strict = %v", h, p.Strict)
		}
	}

	// Цепочка упорядочена от мелкой гранулярности к крупной.
	p, _ := interval.WindowPlanFor(interval.H1w)
	if p.Sources[0].Granularity != interval.G1h || p.Sources[1].Granularity != interval.G6h {
		t.Errorf("1w source chain = %+v; want 1h then 6h", p.Sources)
	}
}

func TestAggSources(t *testing.T) {
	want := map[interval.Horizon]interval.Granularity{
		interval.H5m:  interval.G5m,
		interval.H1h:  interval.G5m,
		interval.H6h:  interval.G5m,
		interval.H24h: interval.G5m,
		interval.H1w:  interval.G1h,
		interval.H1mo: interval.G6h,
		interval.H3mo: interval.G24h,
		interval.H1y:  interval.G24h,
	}
	for h, g := range want {
		if got := interval.AggSourceFor(h); got != g {
			t.Errorf("AggSourceFor(%s) = %s; want %s", h, got, g)
		}
	}
}

func TestHorizonLengths(t *testing.T) {
	if got := interval.H1w.Length(); got != 7*24*time.Hour {
		t.Errorf("1w length = %v", got)
	}
	if got := interval.H1y.Length(); got != 365*24*time.Hour {
		t.Errorf("1y length = %v", got)
	}
}
