// Package bootstrap seeds a field's Local Catalog from durable storage and
// reconciles it against the backend's authoritative catalog.
//
// The Bootstrapper is a three-state machine, Idle → Loading → Ready. Only
// additions are ever applied: products missing from the remote catalog
// stay, and an empty remote catalog leaves the cached one untouched.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/shelfcast/internal/catalog"
	"github.com/roach88/shelfcast/internal/diff"
	"github.com/roach88/shelfcast/internal/ir"
	"github.com/roach88/shelfcast/internal/remote"
	"github.com/roach88/shelfcast/internal/store"
)

// ErrSuperseded is returned by a Run whose result was discarded because a
// later Run or Reset started before it finished.
var ErrSuperseded = errors.New("bootstrap: superseded by a newer run")

// State is the bootstrap state.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText renders the state name in JSON status output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Source names what the Ready catalog was reconciled from.
type Source string

const (
	// SourceRemote means the remote catalog was fetched and diffed.
	SourceRemote Source = "remote"
	// SourceCache means the remote fetch failed or was empty and the
	// hydrated durable snapshot was kept as-is.
	SourceCache Source = "cache"
)

// Loader reads the durable snapshot. *store.Store satisfies it.
type Loader interface {
	LoadCatalog(ctx context.Context, field string) (store.CatalogSnapshot, error)
}

// Fetcher fetches the remote catalog. *remote.Client satisfies it.
type Fetcher interface {
	FetchCatalog(ctx context.Context, field string) (remote.CatalogResponse, error)
}

// Outcome describes one Run.
type Outcome struct {
	Field  string `json:"field"`
	State  State  `json:"state"`
	Source Source `json:"source,omitempty"`
	// Hydrated is the number of entries seeded from durable storage.
	Hydrated int `json:"hydrated"`
	// Fetched is the size of the remote catalog.
	Fetched int          `json:"fetched"`
	Added   []ir.Product `json:"added"`
	// Removed is reported only; removals are never applied.
	Removed []ir.Product `json:"removed"`
	// AdoptedField is set when the backend reassigned the device.
	AdoptedField string `json:"adoptedField,omitempty"`
	// FetchErr is a non-fatal fetch or persistence failure that was
	// degraded to the cached catalog.
	FetchErr error `json:"-"`
}

// Bootstrapper runs the bootstrap state machine. Only one Run may be in
// flight: starting a new Run cancels the previous one and discards its
// result.
type Bootstrapper struct {
	loader     Loader
	fetcher    Fetcher
	onHydrated func(field string, count int)

	mu     sync.Mutex
	state  State
	field  string
	gen    uint64
	cancel context.CancelFunc
}

// Option configures a Bootstrapper.
type Option func(*Bootstrapper)

// WithHydratedHook registers f to run after the durable snapshot has been
// hydrated and before the remote fetch starts. Sessions use it to hold
// back the event loop until the catalog is seeded.
func WithHydratedHook(f func(field string, count int)) Option {
	return func(b *Bootstrapper) {
		b.onHydrated = f
	}
}

// New creates an idle Bootstrapper.
func New(loader Loader, fetcher Fetcher, opts ...Option) *Bootstrapper {
	b := &Bootstrapper{loader: loader, fetcher: fetcher}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State returns the current state and the field it applies to.
func (b *Bootstrapper) State() (State, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.field
}

// Reset cancels any in-flight Run and returns the machine to Idle.
func (b *Bootstrapper) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gen++
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	b.state = StateIdle
	b.field = ""
}

// Run bootstraps cat for field.
//
// Returned errors: ErrSuperseded when a newer Run or Reset took over, an
// error wrapping remote.ErrIdentityRejected when the backend does not know
// field (the machine goes back to Idle and cat is left as hydrated), or
// the context error. Any other fetch failure is logged and degrades to
// Ready with the hydrated catalog.
func (b *Bootstrapper) Run(ctx context.Context, field string, cat *catalog.Store) (Outcome, error) {
	runCtx, gen := b.begin(ctx, field)
	out := Outcome{Field: field, State: StateLoading, Added: []ir.Product{}, Removed: []ir.Product{}}

	snap, err := b.loader.LoadCatalog(runCtx, field)
	if err != nil {
		slog.Warn("durable catalog unreadable, starting empty", "field", field, "error", err)
		snap = store.CatalogSnapshot{Products: []ir.Product{}}
	}
	out.Hydrated = cat.Hydrate(snap.Products, snap.Revision)
	slog.Debug("catalog hydrated", "field", field, "count", out.Hydrated, "revision", snap.Revision)
	if b.onHydrated != nil {
		b.onHydrated(field, out.Hydrated)
	}

	resp, fetchErr := b.fetcher.FetchCatalog(runCtx, field)

	if !b.current(gen) {
		return out, ErrSuperseded
	}
	if ctx.Err() != nil {
		b.finish(gen, StateIdle)
		out.State = StateIdle
		return out, ctx.Err()
	}

	if fetchErr != nil {
		if errors.Is(fetchErr, remote.ErrIdentityRejected) {
			b.finish(gen, StateIdle)
			out.State = StateIdle
			return out, fmt.Errorf("bootstrap %q: %w", field, fetchErr)
		}
		slog.Warn("catalog fetch failed, using cached catalog",
			"field", field,
			"cached", cat.Len(),
			"error", fetchErr,
		)
		out.FetchErr = fetchErr
		out.Source = SourceCache
		out.State = b.finish(gen, StateReady)
		return out, nil
	}

	out.Fetched = len(resp.Products)
	if resp.FieldName != "" && resp.FieldName != field {
		out.AdoptedField = resp.FieldName
	}

	if len(resp.Products) == 0 {
		slog.Info("remote catalog empty, keeping cached catalog", "field", field, "cached", cat.Len())
		out.Source = SourceCache
		out.State = b.finish(gen, StateReady)
		return out, nil
	}

	d := diff.Realograms(snap.Products, resp.Products)
	out.Removed = d.Removed
	out.Source = SourceRemote
	if len(d.Added) > 0 {
		res, err := cat.Merge(runCtx, d.Added)
		out.Added = res.Added
		if err != nil {
			out.FetchErr = err
		}
	}

	slog.Info("catalog bootstrapped",
		"field", field,
		"hydrated", out.Hydrated,
		"fetched", out.Fetched,
		"added", len(out.Added),
		"removed_ignored", len(out.Removed),
		"size", cat.Len(),
	)
	out.State = b.finish(gen, StateReady)
	return out, nil
}

// begin starts a new generation, cancelling the previous Run.
func (b *Bootstrapper) begin(ctx context.Context, field string) (context.Context, uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
	}
	b.gen++
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.state = StateLoading
	b.field = field
	return runCtx, b.gen
}

func (b *Bootstrapper) current(gen uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gen == gen
}

// finish moves to state if gen is still current and releases the run
// context. Returns the state actually in effect.
func (b *Bootstrapper) finish(gen uint64, state State) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gen != gen {
		return b.state
	}
	b.state = state
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	return state
}
