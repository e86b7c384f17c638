package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainCatalog = "shelfcast/catalog/v1"
	DomainImage   = "shelfcast/image/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// CatalogDigest computes a content address for a catalog snapshot.
//
// The digest is independent of input order: products are sorted by barcode
// before hashing. Two catalogs with the same products in different order
// produce the same digest.
func CatalogDigest(products []Product) (string, error) {
	sorted := CloneProducts(products)
	slices.SortStableFunc(sorted, func(a, b Product) int {
		return strings.Compare(a.Barcode, b.Barcode)
	})

	arr := make([]any, len(sorted))
	for i, p := range sorted {
		arr[i] = canonicalProduct(p)
	}

	canonical, err := MarshalCanonical(arr)
	if err != nil {
		return "", fmt.Errorf("CatalogDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainCatalog, canonical), nil
}

// MustCatalogDigest is like CatalogDigest but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustCatalogDigest(products []Product) string {
	d, err := CatalogDigest(products)
	if err != nil {
		panic(err)
	}
	return d
}

// ImageKey computes the content-addressed cache key for an image reference.
func ImageKey(ref string) string {
	return hashWithDomain(DomainImage, []byte(norm.NFC.String(ref)))
}

// canonicalProduct builds the hashable view of a product. Empty optional
// fields are omitted so that adding a new optional field does not change
// existing digests.
func canonicalProduct(p Product) map[string]any {
	obj := map[string]any{
		"barcode":       p.Barcode,
		"name":          p.Name,
		"price":         p.Price,
		"discountPrice": p.DiscountPrice,
		"memberPrice":   p.MemberPrice,
		"description":   p.Description,
	}
	optional := map[string]string{
		"_id":           p.ID,
		"label":         p.Label,
		"image":         p.Image,
		"imageFileName": p.ImageFileName,
		"imageFileId":   p.ImageFileID,
		"imageBase64":   p.ImageBase64,
	}
	for k, v := range optional {
		if v != "" {
			obj[k] = v
		}
	}
	return obj
}
