// Package engine implements the event stream reconciler.
//
// The engine receives push messages for the kiosk's field channel and
// reconciles them against the Local Catalog:
//   - catalog updates are diffed against the live catalog and only the
//     additions are merged (removals are reported, never applied)
//   - identification labels are resolved to the active product, which is
//     cleared after a dwell time unless another hit comes first
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// Push messages, dwell expiries and connection transitions are all events
// in one FIFO queue, consumed by Engine.Run in a single goroutine. This
// ensures:
// - Merges never interleave (read-modify-write-persist runs to completion)
// - A new hit cancels the old dwell timer in the same step that sets it
// - An expiry for an old hit can never clear a newer one (generation check)
//
// Timers never touch state directly: a firing dwell timer only enqueues an
// expiry event. After teardown the queue is closed, so a late timer is a
// no-op.
//
// CRITICAL PATTERNS:
//
// Live Accessor:
// Handlers read the catalog through the Catalog interface on every event.
// They never hold a copy across events.
//
// Logical Clock:
// Every active product and update report is stamped with a monotonic seq
// from Clock.Next().
package engine
