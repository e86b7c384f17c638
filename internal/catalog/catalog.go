// Package catalog holds the Local Catalog of the current field.
//
// The Store is the only mutable state shared by the bootstrapper and the
// event reconciler. It only ever grows: entries are added by Hydrate and
// Merge and are never removed on the store's own initiative.
//
// Reads never wait on disk I/O. Merges are serialized with each other and
// each one persists the full resulting set with a single whole-value write.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/shelfcast/internal/ir"
)

// ErrNotPersisted wraps a persistence failure after an in-memory merge
// succeeded. The merged entries remain visible; the durable copy is stale
// until the next successful merge.
var ErrNotPersisted = errors.New("catalog: merge not persisted")

// Persister writes a whole catalog for a field. *store.Store satisfies it.
type Persister interface {
	SaveCatalog(ctx context.Context, field string, products []ir.Product) (int64, error)
}

// MergeResult describes one Merge call.
type MergeResult struct {
	// Added holds the entries that were not yet present, in merge order.
	Added []ir.Product
	// Size is the catalog size after the merge.
	Size int
	// Revision is the durable revision written, or 0 if nothing was written.
	Revision int64
}

// Store holds the Local Catalog for one field.
type Store struct {
	persister Persister

	// writeMu serializes Merge and Rekey (read-modify-write-persist).
	writeMu sync.Mutex

	mu       sync.RWMutex
	field    string
	products []ir.Product
	index    map[string]int
	digest   string
	revision int64
}

// New creates an empty catalog for field. persister may be nil, in which
// case merges stay in memory.
func New(field string, persister Persister) *Store {
	return &Store{
		persister: persister,
		field:     field,
		products:  []ir.Product{},
		index:     map[string]int{},
		digest:    ir.MustCatalogDigest(nil),
	}
}

// Field returns the field identifier the catalog belongs to.
func (s *Store) Field() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.field
}

// Get returns a copy of the current catalog in insertion order.
func (s *Store) Get() []ir.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ir.CloneProducts(s.products)
}

// Lookup returns the entry with the given barcode. It always reads the
// latest merged state.
func (s *Store) Lookup(barcode string) (ir.Product, bool) {
	barcode = ir.NormalizeBarcode(barcode)

	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[barcode]
	if !ok {
		return ir.Product{}, false
	}
	return s.products[i], true
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.products)
}

// Digest returns the content digest of the current catalog.
func (s *Store) Digest() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.digest
}

// Revision returns the last durable revision written or loaded.
func (s *Store) Revision() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// Hydrate seeds the catalog from a durable snapshot without writing it
// back. Entries whose barcode is already present are skipped. Returns the
// number of entries added.
func (s *Store) Hydrate(initial []ir.Product, revision int64) int {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	added := s.appendLocked(initial)
	if revision > s.revision {
		s.revision = revision
	}
	return len(added)
}

// Merge appends the additions whose barcode is not yet present and
// persists the resulting full set.
//
// Merging the same additions twice is a no-op the second time. When the
// persister fails the in-memory merge is kept and the returned error wraps
// ErrNotPersisted.
func (s *Store) Merge(ctx context.Context, additions []ir.Product) (MergeResult, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	added := s.appendLocked(additions)
	field := s.field
	snapshot := ir.CloneProducts(s.products)
	s.mu.Unlock()

	res := MergeResult{Added: added, Size: len(snapshot)}
	if len(added) == 0 || s.persister == nil {
		return res, nil
	}

	rev, err := s.persister.SaveCatalog(ctx, field, snapshot)
	if err != nil {
		slog.Warn("catalog merge not persisted",
			"field", field,
			"added", len(added),
			"error", err,
		)
		return res, fmt.Errorf("%w: %w", ErrNotPersisted, err)
	}

	s.mu.Lock()
	s.revision = rev
	s.mu.Unlock()
	res.Revision = rev
	return res, nil
}

// Rekey moves the catalog under a new field identifier and persists it
// there. Used when the backend reassigns the device's field.
func (s *Store) Rekey(ctx context.Context, field string) error {
	if field == "" {
		return errors.New("catalog: rekey to empty field")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.field = field
	snapshot := ir.CloneProducts(s.products)
	s.mu.Unlock()

	if s.persister == nil {
		return nil
	}
	rev, err := s.persister.SaveCatalog(ctx, field, snapshot)
	if err != nil {
		return fmt.Errorf("%w: rekey %q: %w", ErrNotPersisted, field, err)
	}

	s.mu.Lock()
	s.revision = rev
	s.mu.Unlock()
	return nil
}

// appendLocked adds entries with unseen, non-empty barcodes. A barcode
// repeated within entries is last-write-wins. Caller holds s.mu.
func (s *Store) appendLocked(entries []ir.Product) []ir.Product {
	pending := make(map[string]int, len(entries))
	added := []ir.Product{}
	for _, p := range entries {
		if p.Barcode == "" {
			continue
		}
		if _, ok := s.index[p.Barcode]; ok {
			continue
		}
		if j, ok := pending[p.Barcode]; ok {
			added[j] = p
			continue
		}
		pending[p.Barcode] = len(added)
		added = append(added, p)
	}
	if len(added) == 0 {
		return added
	}

	for _, p := range added {
		s.index[p.Barcode] = len(s.products)
		s.products = append(s.products, p)
	}
	s.digest = ir.MustCatalogDigest(s.products)
	return added
}
