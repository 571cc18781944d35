// internal/aggregate/financial_test.go
package aggregate

import (
	"testing"

	"github.com/AskeFunder/flipper-pro-sub000/internal/model"
)

func ptr(v int64) *int64 { return &v }

func TestPostTax(t *testing.T) {
	// 2% с округлением вниз.
	if got := postTax(4151, 1000); got != 980 {
		t.Errorf("postTax(1000) = %d; want 980", got)
	}
	if got := postTax(4151, 99); got != 97 {
		t.Errorf("postTax(99) = %d; want 97", got)
	}
	// Бонды и инструменты освобождены от налога.
	if got := postTax(13190, 1000); got != 1000 {
		t.Errorf("exempt postTax(1000) = %d; want 1000", got)
	}
}

func TestDeriveFinancials(t *testing.T) {
	s := model.Summary{ItemID: 4151, High: ptr(1000), Low: ptr(900), BuyLimit: 8}
	deriveFinancials(&s)

	if s.Margin == nil || *s.Margin != 80 {
		t.Fatalf("margin = %v; want 80", s.Margin)
	}
	if s.ROI == nil || *s.ROI != 80.0*100/900 {
		t.Errorf("roi = %v", s.ROI)
	}
	if s.Spread == nil || *s.Spread != 10 {
		t.Errorf("spread = %v; want 10", s.Spread)
	}
	if s.MaxProfit == nil || *s.MaxProfit != 640 {
		t.Errorf("max profit = %v; want 640", s.MaxProfit)
	}
	if s.MaxInvestment == nil || *s.MaxInvestment != 7200 {
		t.Errorf("max investment = %v; want 7200", s.MaxInvestment)
	}
}

func TestDeriveFinancials_MissingSide(t *testing.T) {
	s := model.Summary{ItemID: 1, High: ptr(100)}
	deriveFinancials(&s)
	if s.Margin != nil || s.ROI != nil || s.Spread != nil {
		t.Error("one-sided prices must not produce financials")
	}
}

func TestDeriveFinancials_NegativeMargin(t *testing.T) {
	// Плотный рынок: налог съедает спред.
	s := model.Summary{ItemID: 4151, High: ptr(100), Low: ptr(99)}
	deriveFinancials(&s)
	if s.Margin == nil || *s.Margin != -1 {
		t.Errorf("margin = %v; want -1 (98 − 99)", s.Margin)
	}
}
