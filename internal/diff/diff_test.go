package diff

import (
	"strconv"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/roach88/shelfcast/internal/ir"
)

func products(barcodes ...string) []ir.Product {
	out := make([]ir.Product, len(barcodes))
	for i, b := range barcodes {
		out[i] = ir.Product{Barcode: b, Name: "item " + b}
	}
	return out
}

func TestRealograms(t *testing.T) {
	tests := []struct {
		name      string
		old       []string
		next      []string
		added     []string
		removed   []string
		unchanged int
	}{
		{"both empty", nil, nil, []string{}, []string{}, 0},
		{"from empty", nil, []string{"A", "B"}, []string{"A", "B"}, []string{}, 0},
		{"to empty", []string{"A", "B"}, nil, []string{}, []string{"A", "B"}, 0},
		{"disjoint", []string{"A"}, []string{"B"}, []string{"B"}, []string{"A"}, 0},
		{"overlapping", []string{"A", "B", "C"}, []string{"D", "B", "E", "A"}, []string{"D", "E"}, []string{"C"}, 2},
		{"identical", []string{"A", "B"}, []string{"B", "A"}, []string{}, []string{}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Realograms(products(tt.old...), products(tt.next...))
			assert.Equal(t, tt.added, ir.Barcodes(res.Added))
			assert.Equal(t, tt.removed, ir.Barcodes(res.Removed))
			assert.Equal(t, tt.unchanged, res.Unchanged)
			// |added| + |old ∩ new| = |new|
			assert.Equal(t, len(tt.next), len(res.Added)+res.Unchanged)
		})
	}
}

func TestRealogramsAttributeBlind(t *testing.T) {
	old := []ir.Product{{Barcode: "123", Price: decimal.NewFromInt(10)}}
	next := []ir.Product{{Barcode: "123", Price: decimal.NewFromInt(20), Name: "renamed"}}

	res := Realograms(old, next)
	assert.Empty(t, res.Added)
	assert.Empty(t, res.Removed)
	assert.True(t, res.Empty())
	assert.Equal(t, 1, res.Unchanged)
}

func TestRealogramsDuplicatesLastWriteWins(t *testing.T) {
	next := []ir.Product{
		{Barcode: "B", Name: "first"},
		{Barcode: "C", Name: "only"},
		{Barcode: "B", Name: "second"},
	}

	res := Realograms(nil, next)
	if assert.Len(t, res.Added, 2) {
		assert.Equal(t, "only", res.Added[0].Name)
		assert.Equal(t, "second", res.Added[1].Name)
	}

	res = Realograms(next, products("B"))
	assert.Equal(t, []string{"C"}, ir.Barcodes(res.Removed))
	assert.Equal(t, 1, res.Unchanged)
}

func TestRealogramsIgnoresEmptyBarcode(t *testing.T) {
	res := Realograms(products("", "A"), products("", "B"))
	assert.Equal(t, []string{"B"}, ir.Barcodes(res.Added))
	assert.Equal(t, []string{"A"}, ir.Barcodes(res.Removed))
	assert.Zero(t, res.Unchanged)
}

func TestRealogramsDoesNotMutateInputs(t *testing.T) {
	old := products("A", "B")
	next := products("B", "C")

	res := Realograms(old, next)
	res.Added[0].Name = "mutated"

	assert.Equal(t, []string{"A", "B"}, ir.Barcodes(old))
	assert.Equal(t, []string{"B", "C"}, ir.Barcodes(next))
	assert.Equal(t, "item C", next[1].Name)
}

func TestRealogramsReplayIsNoop(t *testing.T) {
	catalog := products("A")
	update := products("A", "B")

	first := Realograms(catalog, update)
	catalog = append(catalog, first.Added...)

	second := Realograms(catalog, update)
	assert.Empty(t, second.Added)
	assert.Equal(t, []string{"A", "B"}, ir.Barcodes(catalog))
}

func BenchmarkRealograms(b *testing.B) {
	const n = 10000
	old := make([]ir.Product, n)
	next := make([]ir.Product, n)
	for i := 0; i < n; i++ {
		old[i] = ir.Product{Barcode: strconv.Itoa(i)}
		next[i] = ir.Product{Barcode: strconv.Itoa(i + n/2)}
	}

	b.ResetTimer()
	for j := 0; j < b.N; j++ {
		Realograms(old, next)
	}
}
