// internal/aggregate/financial.go
package aggregate

import (
	"math"

	"github.com/AskeFunder/flipper-pro-sub000/internal/model"
)

// Налог биржи: 2% с цены продажи, округление вниз. Предметы из
// taxExemptItems продаются без налога.
const exchangeTaxRate = 0.02

// taxExemptItems — фиксированный набор предметов без биржевого налога.
var taxExemptItems = map[int64]struct{}{
	13190: {}, // old school bond
	1755:  {}, // chisel
	5325:  {}, // gardening trowel
	1785:  {}, // glassblowing pipe
	2347:  {}, // hammer
	1733:  {}, // needle
	233:   {}, // pestle and mortar
	952:   {}, // spade
	5341:  {}, // rake
	8794:  {}, // saw
	5329:  {}, // secateurs
	5343:  {}, // seed dibber
	1735:  {}, // shears
	955:   {}, // bucket
	1931:  {}, // pot
	590:   {}, // tinderbox
	1751:  {}, // chisel (crush weapon variant)
}

// deriveFinancials заполняет производные поля строки: margin, ROI,
// spread, max-profit и max-investment. Считается только при наличии
// обеих текущих цен.
func deriveFinancials(s *model.Summary) {
	if s.High == nil || s.Low == nil {
		return
	}
	high := *s.High
	low := *s.Low

	margin := postTax(s.ItemID, high) - low
	s.Margin = &margin

	if low != 0 {
		roi := float64(margin) * 100 / float64(low)
		s.ROI = &roi
	}
	if high != 0 {
		spread := float64(high-low) * 100 / float64(high)
		s.Spread = &spread
	}
	if s.BuyLimit > 0 {
		profit := margin * s.BuyLimit
		invest := low * s.BuyLimit
		s.MaxProfit = &profit
		s.MaxInvestment = &invest
	}
}

// postTax возвращает выручку от продажи по цене price с учётом налога.
func postTax(itemID, price int64) int64 {
	if _, exempt := taxExemptItems[itemID]; exempt {
		return price
	}
	return int64(math.Floor(float64(price) * (1 - exchangeTaxRate)))
}
