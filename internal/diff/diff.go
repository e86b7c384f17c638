// Package diff computes barcode-keyed set differences between two catalog
// snapshots ("realograms").
//
// Only existence is compared. A product whose barcode appears on both sides
// is unchanged even when its price, name or image differ.
package diff

import "github.com/roach88/shelfcast/internal/ir"

// Result is the outcome of comparing an old and a new snapshot.
type Result struct {
	// Added holds products of the new snapshot whose barcode is absent
	// from the old one, in new-snapshot order.
	Added []ir.Product
	// Removed holds products of the old snapshot whose barcode is absent
	// from the new one, in old-snapshot order.
	Removed []ir.Product
	// Unchanged counts barcodes present on both sides.
	Unchanged int
}

// Empty reports whether the snapshots have the same barcode set.
func (r Result) Empty() bool {
	return len(r.Added) == 0 && len(r.Removed) == 0
}

// Realograms compares the prev and next snapshots by barcode in O(n+m).
//
// Duplicate barcodes within one snapshot are last-write-wins: only the last
// occurrence is kept, at its own position. Products with an empty barcode
// cannot be keyed and are ignored. Neither input is modified.
func Realograms(prev, next []ir.Product) Result {
	oldIdx := index(prev)
	newIdx := index(next)

	res := Result{
		Added:   []ir.Product{},
		Removed: []ir.Product{},
	}
	for i, p := range next {
		if j, ok := newIdx[p.Barcode]; !ok || j != i {
			continue
		}
		if _, ok := oldIdx[p.Barcode]; ok {
			res.Unchanged++
			continue
		}
		res.Added = append(res.Added, p)
	}
	for i, p := range prev {
		if j, ok := oldIdx[p.Barcode]; !ok || j != i {
			continue
		}
		if _, ok := newIdx[p.Barcode]; !ok {
			res.Removed = append(res.Removed, p)
		}
	}
	return res
}

// index maps each non-empty barcode to the position of its last occurrence.
func index(products []ir.Product) map[string]int {
	idx := make(map[string]int, len(products))
	for i, p := range products {
		if p.Barcode == "" {
			continue
		}
		idx[p.Barcode] = i
	}
	return idx
}
