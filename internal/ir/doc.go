// Package ir provides the catalog types shared by every shelfcast package.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import ir; ir imports nothing internal. This keeps the
// product model the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Products are identified by barcode, never by the opaque ID field
//   - Barcodes are NFC-normalized and trimmed at the JSON boundary
//   - Prices are decimals, never floats
//   - Content-addressed keys use RFC 8785 canonical JSON and SHA-256
//     with domain separation
package ir
