package store

import (
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/roach88/shelfcast/internal/ir"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestProduct creates a product with minimal required fields.
func createTestProduct(barcode, name string, price int64) ir.Product {
	return ir.Product{
		Barcode: barcode,
		Name:    name,
		Price:   decimal.NewFromInt(price),
	}
}
