package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/shelfcast/internal/ir"
)

// marshalProducts converts a product list to JSON TEXT for storage.
// HTML escaping is disabled so stored names and descriptions stay readable
// when inspected with the sqlite3 shell.
func marshalProducts(products []ir.Product) (string, error) {
	if products == nil {
		products = []ir.Product{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(products); err != nil {
		return "", fmt.Errorf("marshal products: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// unmarshalProducts parses JSON TEXT to a product list.
// Returns an empty slice (not nil) for an empty value.
func unmarshalProducts(data string) ([]ir.Product, error) {
	if data == "" || data == "[]" {
		return []ir.Product{}, nil
	}
	var products []ir.Product
	if err := json.Unmarshal([]byte(data), &products); err != nil {
		return nil, fmt.Errorf("unmarshal products: %w", err)
	}
	if products == nil {
		products = []ir.Product{}
	}
	return products, nil
}

func catalogKey(field string) string {
	return "catalog/" + field
}

const fieldIDKey = "identity/field"
