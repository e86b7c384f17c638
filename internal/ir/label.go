package ir

import (
	"errors"
	"fmt"
	"strings"
)

// LabelSeparator joins the barcode and the internal reference in an
// identification label.
const LabelSeparator = "_"

// ErrMalformedLabel is returned when an identification label cannot be
// split into a barcode and an internal reference.
var ErrMalformedLabel = errors.New("malformed product label")

// Label is a parsed identification label of the form "{barcode}_{internalId}".
type Label struct {
	Raw        string
	Barcode    string
	InternalID string
}

// ParseLabel splits raw at the first separator. The barcode is everything
// before it; the internal reference is everything after it and may itself
// contain separators.
func ParseLabel(raw string) (Label, error) {
	barcode, internalID, ok := strings.Cut(raw, LabelSeparator)
	if !ok {
		return Label{}, fmt.Errorf("%w: no %q separator in %q", ErrMalformedLabel, LabelSeparator, raw)
	}

	barcode = NormalizeBarcode(barcode)
	if barcode == "" {
		return Label{}, fmt.Errorf("%w: empty barcode in %q", ErrMalformedLabel, raw)
	}

	return Label{Raw: raw, Barcode: barcode, InternalID: internalID}, nil
}
