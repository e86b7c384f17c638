package testutil

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/roach88/shelfcast/internal/ir"
)

// Products builds minimal products with the given barcodes. Names and
// prices are derived from the position so fixtures stay distinguishable.
func Products(barcodes ...string) []ir.Product {
	out := make([]ir.Product, len(barcodes))
	for i, b := range barcodes {
		out[i] = ir.Product{
			Barcode: b,
			Name:    "Product " + b,
			Price:   decimal.NewFromInt(int64(i + 1)),
		}
	}
	return out
}

// MustJSON marshals v or fails the test.
func MustJSON(t testing.TB, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %T: %v", v, err)
	}
	return data
}
