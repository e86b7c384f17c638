package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/roach88/shelfcast/internal/engine"
	"github.com/roach88/shelfcast/internal/identity"
)

// Identities is the identity collaborator. *identity.Resolver satisfies it.
type Identities interface {
	Resolve(ctx context.Context) (identity.Identity, error)
	Reset(ctx context.Context) error
	Adopt(ctx context.Context, field string) (identity.Identity, error)
}

// Manager runs one session at a time and restarts it when the identity
// changes.
//
// On identity rejection the old field's durable catalog is deleted, the
// cached identifier is cleared and a new one is resolved. On reassignment
// the catalog is moved to the new field and the new identifier adopted.
type Manager struct {
	store      Store
	remote     Remote
	identities Identities
	cfg        Config
	tokens     TokenGenerator

	mu       sync.RWMutex
	current  *Session
	restarts int
}

// NewManager creates a manager. tokens may be nil. Without cfg.Clock the
// sessions share a fresh clock.
func NewManager(st Store, rc Remote, ids Identities, cfg Config, tokens TokenGenerator) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = engine.NewClock()
	}
	return &Manager{store: st, remote: rc, identities: ids, cfg: cfg, tokens: tokens}
}

// Current returns the latest session, or nil before the first one starts.
func (m *Manager) Current() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Restarts returns how many times a session was replaced.
func (m *Manager) Restarts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restarts
}

func (m *Manager) setCurrent(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.restarts++
	}
	m.current = s
}

// Run resolves an identity and runs sessions until ctx ends. It returns
// ctx.Err() on shutdown, or the error that made a new identity
// unobtainable.
func (m *Manager) Run(ctx context.Context) error {
	for {
		id, err := m.identities.Resolve(ctx)
		if err != nil {
			return err
		}
		slog.Info("identity resolved", "field", id.Field, "source", id.Source)

		sess := New(id.Field, m.store, m.remote, m.cfg, m.tokens)
		m.setCurrent(sess)

		err = sess.Run(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var reassigned *FieldReassignedError
		switch {
		case errors.Is(err, ErrIdentityRejected):
			if err := m.reset(ctx, sess); err != nil {
				return err
			}
		case errors.As(err, &reassigned):
			if err := m.adopt(ctx, sess, reassigned.To); err != nil {
				return err
			}
		default:
			return err
		}
	}
}

func (m *Manager) reset(ctx context.Context, sess *Session) error {
	// The field's stored catalog is kept for a later re-entry.
	slog.Warn("field rejected by backend, resetting identity", "field", sess.Field, "session", sess.Token)
	return m.identities.Reset(ctx)
}

func (m *Manager) adopt(ctx context.Context, sess *Session, field string) error {
	slog.Info("adopting reassigned field", "from", sess.Field, "to", field, "session", sess.Token)
	if _, err := m.identities.Adopt(ctx, field); err != nil {
		return err
	}
	if err := sess.Catalog.Rekey(ctx, field); err != nil {
		slog.Warn("catalog not moved to reassigned field", "from", sess.Field, "to", field, "error", err)
	}
	return nil
}
