package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/shelfcast/internal/ir"
)

// CatalogSnapshot is a stored Local Catalog with its bookkeeping.
type CatalogSnapshot struct {
	Products []ir.Product
	Digest   string
	Revision int64
}

// LoadCatalog returns the stored catalog of field.
//
// A field with no stored catalog yields an empty snapshot with revision 0,
// not an error: a fresh kiosk simply has nothing cached yet.
func (s *Store) LoadCatalog(ctx context.Context, field string) (CatalogSnapshot, error) {
	var (
		value string
		snap  CatalogSnapshot
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT value, digest, revision FROM kv WHERE key = ?
	`, catalogKey(field)).Scan(&value, &snap.Digest, &snap.Revision)
	if errors.Is(err, sql.ErrNoRows) {
		return CatalogSnapshot{Products: []ir.Product{}}, nil
	}
	if err != nil {
		return CatalogSnapshot{}, fmt.Errorf("load catalog: %w", err)
	}

	snap.Products, err = unmarshalProducts(value)
	if err != nil {
		return CatalogSnapshot{}, fmt.Errorf("load catalog %q: %w", field, err)
	}
	return snap, nil
}

// CatalogRevision returns the revision of the stored catalog of field, or 0
// when none is stored.
func (s *Store) CatalogRevision(ctx context.Context, field string) (int64, error) {
	var revision int64
	err := s.db.QueryRowContext(ctx, `
		SELECT revision FROM kv WHERE key = ?
	`, catalogKey(field)).Scan(&revision)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("catalog revision: %w", err)
	}
	return revision, nil
}

// LoadFieldID returns the cached field identifier.
// Returns ErrNotFound if none is cached.
func (s *Store) LoadFieldID(ctx context.Context) (string, error) {
	var field string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM kv WHERE key = ?
	`, fieldIDKey).Scan(&field)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load field id: %w", err)
	}
	return field, nil
}
