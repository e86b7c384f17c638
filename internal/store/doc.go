// Package store provides SQLite-backed durable storage for the kiosk.
//
// Two tables back the collaborators of the reconciliation core:
//   - kv: whole-value records. The Local Catalog of each field is stored
//     as one JSON product list under "catalog/{field}", and the resolved
//     field identifier under "identity/field".
//   - images: the content-addressed image cache, keyed by ir.ImageKey.
//
// # Write Semantics
//
// Every write is a single UPSERT statement that replaces the whole value
// and bumps its revision. There are no incremental patches, so a crash can
// leave either the old or the new catalog on disk, never a mix.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
