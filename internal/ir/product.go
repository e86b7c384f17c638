package ir

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// Product is a single catalog entry as delivered by the backend.
//
// Barcode is the natural key used for reconciliation and lookup. ID is the
// backend's opaque identifier and is carried only for display and logging.
type Product struct {
	ID            string          `json:"_id,omitempty"`
	Barcode       string          `json:"barcode"`
	Name          string          `json:"name"`
	Label         string          `json:"label,omitempty"`
	Price         decimal.Decimal `json:"price"`
	DiscountPrice decimal.Decimal `json:"discountPrice"`
	MemberPrice   decimal.Decimal `json:"memberPrice"`
	Description   string          `json:"description"`

	// Image references. At most one is normally set: a direct URL, a
	// storage-service file reference, or an inline base64 payload.
	Image         string `json:"image,omitempty"`
	ImageFileName string `json:"imageFileName,omitempty"`
	ImageFileID   string `json:"imageFileId,omitempty"`
	ImageBase64   string `json:"imageBase64,omitempty"`
}

// productJSON is the wire shape accepted on input. Older backends send a
// numeric "id" instead of "_id".
type productJSON struct {
	ID            string          `json:"_id"`
	LegacyID      json.RawMessage `json:"id"`
	Barcode       string          `json:"barcode"`
	Name          string          `json:"name"`
	Label         string          `json:"label"`
	Price         decimal.Decimal `json:"price"`
	DiscountPrice decimal.Decimal `json:"discountPrice"`
	MemberPrice   decimal.Decimal `json:"memberPrice"`
	Description   string          `json:"description"`
	Image         string          `json:"image"`
	ImageFileName string          `json:"imageFileName"`
	ImageFileID   string          `json:"imageFileId"`
	ImageBase64   string          `json:"imageBase64"`
}

// UnmarshalJSON decodes a product and normalizes its barcode.
//
// When the barcode is missing but a "{barcode}_{internalId}" label is
// present, the barcode is taken from the label.
func (p *Product) UnmarshalJSON(data []byte) error {
	var raw productJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*p = Product{
		ID:            raw.ID,
		Barcode:       NormalizeBarcode(raw.Barcode),
		Name:          norm.NFC.String(raw.Name),
		Label:         raw.Label,
		Price:         raw.Price,
		DiscountPrice: raw.DiscountPrice,
		MemberPrice:   raw.MemberPrice,
		Description:   norm.NFC.String(raw.Description),
		Image:         raw.Image,
		ImageFileName: raw.ImageFileName,
		ImageFileID:   raw.ImageFileID,
		ImageBase64:   raw.ImageBase64,
	}
	if p.ID == "" && len(raw.LegacyID) > 0 {
		p.ID = legacyID(raw.LegacyID)
	}
	if p.Barcode == "" && p.Label != "" {
		if l, err := ParseLabel(p.Label); err == nil {
			p.Barcode = l.Barcode
		}
	}
	return nil
}

// legacyID renders a numeric or string "id" as a string.
func legacyID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if string(raw) == "null" {
		return ""
	}
	return string(raw)
}

// NormalizeBarcode trims surrounding whitespace and applies Unicode NFC so
// that barcodes typed, scanned and served by the backend compare equal.
func NormalizeBarcode(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// CloneProducts returns a shallow copy of the slice. Product has no
// reference fields that callers mutate, so a slice copy is sufficient.
func CloneProducts(products []Product) []Product {
	if products == nil {
		return []Product{}
	}
	out := make([]Product, len(products))
	copy(out, products)
	return out
}

// Barcodes returns the barcodes of products in order.
func Barcodes(products []Product) []string {
	out := make([]string, len(products))
	for i, p := range products {
		out[i] = p.Barcode
	}
	return out
}
