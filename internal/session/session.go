// Package session ties one field's components together.
//
// A Session exists from identity acquisition until the identity is
// rejected, reassigned or the process stops. It owns the Local Catalog,
// the bootstrapper, the event engine, the push transport and the image
// cache of that field; none of them outlive it. The Manager restarts
// sessions as the identity changes.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/shelfcast/internal/bootstrap"
	"github.com/roach88/shelfcast/internal/catalog"
	"github.com/roach88/shelfcast/internal/engine"
	"github.com/roach88/shelfcast/internal/imagecache"
	"github.com/roach88/shelfcast/internal/push"
	"github.com/roach88/shelfcast/internal/remote"
)

// ErrIdentityRejected is returned by Run when the backend does not know
// the session's field.
var ErrIdentityRejected = remote.ErrIdentityRejected

// FieldReassignedError is returned by Run when the backend answered the
// catalog fetch under a different field identifier.
type FieldReassignedError struct {
	From string
	To   string
}

func (e *FieldReassignedError) Error() string {
	return fmt.Sprintf("field reassigned by backend: %q -> %q", e.From, e.To)
}

// Store is the durable storage a session needs. *store.Store satisfies it.
type Store interface {
	bootstrap.Loader
	catalog.Persister
	imagecache.Blobs
}

// Remote is the backend. *remote.Client satisfies it.
type Remote interface {
	bootstrap.Fetcher
	imagecache.Fetcher
}

// Config holds the per-session tunables.
type Config struct {
	// SocketURL is the push endpoint. Empty disables the push transport.
	SocketURL          string
	ImageBaseURL       string
	Dwell              time.Duration
	PreloadConcurrency int
	ReconnectMin       time.Duration
	ReconnectMax       time.Duration
	// Timers replaces wall time for dwell expiry. Nil means real timers.
	Timers engine.Timers
	// Clock numbers engine events. Nil gives each session its own clock.
	Clock *engine.Clock
}

// Session is the explicit context of one field.
type Session struct {
	Token     string
	Field     string
	Catalog   *catalog.Store
	Bootstrap *bootstrap.Bootstrapper
	Engine    *engine.Engine
	Images    *imagecache.Cache

	remote   Remote
	push     *push.Client
	hydrated chan struct{}
	once     sync.Once

	mu      sync.RWMutex
	outcome *bootstrap.Outcome
	preload *imagecache.PreloadReport
}

// New builds the components of field's session. Nothing runs until Run.
func New(field string, st Store, rc Remote, cfg Config, tokens TokenGenerator) *Session {
	if tokens == nil {
		tokens = UUIDv7Generator{}
	}
	s := &Session{
		Token:    tokens.Generate(),
		Field:    field,
		Catalog:  catalog.New(field, st),
		Images:   imagecache.New(st, cfg.ImageBaseURL, cfg.PreloadConcurrency),
		remote:   rc,
		hydrated: make(chan struct{}),
	}
	s.Bootstrap = bootstrap.New(st, rc, bootstrap.WithHydratedHook(func(string, int) {
		s.markHydrated()
	}))

	opts := []engine.EngineOption{
		engine.WithDwell(cfg.Dwell),
		engine.WithImages(s.Images),
	}
	if cfg.Timers != nil {
		opts = append(opts, engine.WithTimers(cfg.Timers))
	}
	if cfg.Clock != nil {
		opts = append(opts, engine.WithClock(cfg.Clock))
	}
	s.Engine = engine.New(s.Catalog, opts...)

	if cfg.SocketURL != "" {
		s.push = push.NewClient(cfg.SocketURL, field, s.Engine,
			push.WithBackoff(cfg.ReconnectMin, cfg.ReconnectMax))
	}
	return s
}

func (s *Session) markHydrated() {
	s.once.Do(func() { close(s.hydrated) })
}

// Run drives the session until ctx ends or the identity changes.
//
// The durable snapshot is hydrated first; the event loop starts once the
// catalog is seeded, while the remote fetch is still in flight. Push
// events received before that are queued, not lost. Images are preloaded
// after the bootstrap reaches Ready.
//
// Returns ctx.Err() on shutdown, an error wrapping ErrIdentityRejected,
// or a *FieldReassignedError. When Run returns, the dwell timer is
// stopped and the push connection is closed.
func (s *Session) Run(ctx context.Context) error {
	log := slog.With("session", s.Token, "field", s.Field)
	log.Info("session starting", "push", s.push != nil)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case <-s.hydrated:
		case <-gctx.Done():
			// Run still tears the engine down.
		}
		if err := s.Engine.Run(gctx); err != nil && gctx.Err() == nil {
			return fmt.Errorf("engine: %w", err)
		}
		return nil
	})

	if s.push != nil {
		g.Go(func() error {
			if err := s.push.Run(gctx); err != nil && gctx.Err() == nil {
				return fmt.Errorf("push: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer s.markHydrated()
		return s.bootstrap(gctx, log)
	})

	err := g.Wait()
	if ctx.Err() != nil {
		log.Info("session stopped")
		return ctx.Err()
	}
	log.Info("session ended", "reason", err)
	return err
}

func (s *Session) bootstrap(ctx context.Context, log *slog.Logger) error {
	out, err := s.Bootstrap.Run(ctx, s.Field, s.Catalog)
	s.mu.Lock()
	s.outcome = &out
	s.mu.Unlock()

	switch {
	case errors.Is(err, ErrIdentityRejected):
		return err
	case err != nil:
		// Superseded or cancelled; the group is already shutting down.
		if ctx.Err() == nil {
			log.Warn("bootstrap ended early", "error", err)
		}
		return nil
	case out.AdoptedField != "":
		return &FieldReassignedError{From: s.Field, To: out.AdoptedField}
	}

	report, err := s.Images.Preload(ctx, s.Catalog.Get(), s.remote)
	if err != nil {
		return nil
	}
	s.mu.Lock()
	s.preload = &report
	s.mu.Unlock()
	return nil
}

// Outcome returns the bootstrap outcome once the bootstrap has finished.
func (s *Session) Outcome() (bootstrap.Outcome, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.outcome == nil {
		return bootstrap.Outcome{}, false
	}
	return *s.outcome, true
}

// Preload returns the image preload report once preloading has finished.
func (s *Session) Preload() (imagecache.PreloadReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.preload == nil {
		return imagecache.PreloadReport{}, false
	}
	return *s.preload, true
}
