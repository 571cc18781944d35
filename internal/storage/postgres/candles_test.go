// internal/storage/postgres/candles_test.go
package postgres

import (
	"strings"
	"testing"
)

// Порядок ключей ORDER BY — контракт выбора кандидата границы окна:
// строка с обеими сторонами бьёт одностороннюю, high-only бьёт
// low-only, и только затем сравнивается близость к границе.
func TestBoundaryPricesSQL_PreferenceOrder(t *testing.T) {
	query := boundaryPricesSQL("candles_1h")

	keys := []string{
		"DISTINCT ON (item_id)",
		"(avg_high IS NOT NULL AND avg_low IS NOT NULL) DESC",
		"(avg_high IS NOT NULL) DESC",
		"ABS(timestamp - $4) ASC",
		"timestamp DESC",
	}
	pos := -1
	for _, key := range keys {
		idx := strings.Index(query, key)
		if idx < 0 {
			t.Fatalf("query misses sort key %q:\n%s", key, query)
		}
		if idx < pos {
			t.Fatalf("sort key %q out of order:\n%s", key, query)
		}
		pos = idx
	}

	if !strings.Contains(query, "FROM candles_1h") {
		t.Fatalf("table name not substituted:\n%s", query)
	}
}
