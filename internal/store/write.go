package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/shelfcast/internal/ir"
)

// SaveCatalog replaces the stored Local Catalog of field with products.
//
// The whole list is written by one UPSERT, together with its digest, and
// the key's revision is bumped. Returns the new revision.
func (s *Store) SaveCatalog(ctx context.Context, field string, products []ir.Product) (int64, error) {
	if field == "" {
		return 0, errors.New("save catalog: empty field id")
	}

	value, err := marshalProducts(products)
	if err != nil {
		return 0, fmt.Errorf("save catalog: %w", err)
	}
	digest, err := ir.CatalogDigest(products)
	if err != nil {
		return 0, fmt.Errorf("save catalog: %w", err)
	}

	return s.put(ctx, catalogKey(field), value, digest)
}

// DeleteCatalog removes the stored catalog of field. Deleting an absent
// catalog is not an error.
func (s *Store) DeleteCatalog(ctx context.Context, field string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, catalogKey(field)); err != nil {
		return fmt.Errorf("delete catalog: %w", err)
	}
	return nil
}

// SaveFieldID persists the resolved field identifier.
func (s *Store) SaveFieldID(ctx context.Context, field string) error {
	if field == "" {
		return errors.New("save field id: empty field id")
	}
	if _, err := s.put(ctx, fieldIDKey, field, ""); err != nil {
		return fmt.Errorf("save field id: %w", err)
	}
	return nil
}

// ClearFieldID forgets the cached field identifier.
func (s *Store) ClearFieldID(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, fieldIDKey); err != nil {
		return fmt.Errorf("clear field id: %w", err)
	}
	return nil
}

// put upserts a whole value and returns the resulting revision.
func (s *Store) put(ctx context.Context, key, value, digest string) (int64, error) {
	var revision int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO kv (key, value, digest, revision)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			digest = excluded.digest,
			revision = kv.revision + 1
		RETURNING revision
	`, key, value, digest).Scan(&revision)
	if err != nil {
		return 0, fmt.Errorf("put %q: %w", key, err)
	}
	return revision, nil
}
