package ir

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogDigestDeterminism(t *testing.T) {
	products := []Product{
		{Barcode: "A", Name: "Apple", Price: decimal.NewFromInt(1)},
		{Barcode: "B", Name: "Banana", Price: decimal.NewFromInt(2)},
	}

	d1, err := CatalogDigest(products)
	require.NoError(t, err)
	d2, err := CatalogDigest(products)
	require.NoError(t, err)

	assert.Equal(t, d1, d2, "CatalogDigest must be deterministic")
	assert.Len(t, d1, 64, "SHA-256 hex is 64 characters")
}

func TestCatalogDigestOrderIndependent(t *testing.T) {
	a := Product{Barcode: "A", Name: "Apple"}
	b := Product{Barcode: "B", Name: "Banana"}

	assert.Equal(t, MustCatalogDigest([]Product{a, b}), MustCatalogDigest([]Product{b, a}))
}

func TestCatalogDigestChangesWithContent(t *testing.T) {
	base := []Product{{Barcode: "A", Price: decimal.NewFromInt(10)}}
	repriced := []Product{{Barcode: "A", Price: decimal.NewFromInt(20)}}
	extended := []Product{{Barcode: "A", Price: decimal.NewFromInt(10)}, {Barcode: "B"}}

	assert.NotEqual(t, MustCatalogDigest(base), MustCatalogDigest(repriced))
	assert.NotEqual(t, MustCatalogDigest(base), MustCatalogDigest(extended))
}

func TestCatalogDigestDecimalScale(t *testing.T) {
	// 10 and 10.00 are the same price.
	a := []Product{{Barcode: "A", Price: decimal.RequireFromString("10")}}
	b := []Product{{Barcode: "A", Price: decimal.RequireFromString("10.00")}}

	assert.Equal(t, MustCatalogDigest(a), MustCatalogDigest(b))
}

func TestCatalogDigestEmpty(t *testing.T) {
	d, err := CatalogDigest(nil)
	require.NoError(t, err)
	assert.Equal(t, hashWithDomain(DomainCatalog, []byte("[]")), d)
	assert.Equal(t, d, MustCatalogDigest([]Product{}))
}

func TestCatalogDigestDoesNotMutateInput(t *testing.T) {
	products := []Product{{Barcode: "B"}, {Barcode: "A"}}
	MustCatalogDigest(products)
	assert.Equal(t, []string{"B", "A"}, Barcodes(products))
}

func TestDomainSeparationPreventsCrossTypeCollision(t *testing.T) {
	data := []byte(`[]`)
	assert.NotEqual(t, hashWithDomain(DomainCatalog, data), hashWithDomain(DomainImage, data))
}

func TestHashWithDomainNullSeparator(t *testing.T) {
	// "ab" + 0x00 + "c" must differ from "a" + 0x00 + "bc"
	assert.NotEqual(t, hashWithDomain("ab", []byte("c")), hashWithDomain("a", []byte("bc")))
}

func TestImageKey(t *testing.T) {
	k1 := ImageKey("https://cdn.example.com/a.png")
	k2 := ImageKey("https://cdn.example.com/a.png")
	k3 := ImageKey("https://cdn.example.com/b.png")

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.Regexp(t, `^[0-9a-f]{64}$`, k1)
}

func TestDomainConstants(t *testing.T) {
	assert.Equal(t, "shelfcast/catalog/v1", DomainCatalog)
	assert.Equal(t, "shelfcast/image/v1", DomainImage)
}
