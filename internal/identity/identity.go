// Package identity resolves the field identifier that scopes this kiosk's
// catalog and push channel.
//
// Resolution order is: configured override, then the identifier cached in
// durable storage, then the operator prompt. A prompted identifier is
// cached for the next start.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/roach88/shelfcast/internal/store"
)

const (
	// PromptMessage asks the operator for a field identifier.
	PromptMessage = "Enter field name"
	// RetryMessage is shown when the backend rejected the previous identifier.
	RetryMessage = "Field name does not exist. Please try again"
)

// ErrNoIdentity is returned when no identifier could be obtained.
var ErrNoIdentity = errors.New("identity: no field identifier")

// Source records where an identifier came from.
type Source string

const (
	SourceOverride Source = "override"
	SourceCache    Source = "cache"
	SourcePrompt   Source = "prompt"
	SourceBackend  Source = "backend"
)

// Identity is a resolved field identifier.
type Identity struct {
	Field  string `json:"field"`
	Source Source `json:"source"`
}

// Storage caches the identifier. *store.Store satisfies it.
type Storage interface {
	LoadFieldID(ctx context.Context) (string, error)
	SaveFieldID(ctx context.Context, field string) error
	ClearFieldID(ctx context.Context) error
}

// Prompter asks the operator for an identifier.
type Prompter interface {
	Prompt(ctx context.Context, message string) (string, error)
}

// Resolver implements the resolution order.
type Resolver struct {
	storage  Storage
	prompter Prompter

	mu       sync.Mutex
	override string
	message  string
}

// NewResolver creates a resolver. override may be empty; prompter may be
// nil for non-interactive use, in which case a missing identifier is
// ErrNoIdentity.
func NewResolver(storage Storage, prompter Prompter, override string) *Resolver {
	return &Resolver{
		storage:  storage,
		prompter: prompter,
		override: strings.TrimSpace(override),
		message:  PromptMessage,
	}
}

// Resolve returns the current identifier.
func (r *Resolver) Resolve(ctx context.Context) (Identity, error) {
	r.mu.Lock()
	override, message := r.override, r.message
	r.mu.Unlock()

	if override != "" {
		return Identity{Field: override, Source: SourceOverride}, nil
	}

	field, err := r.storage.LoadFieldID(ctx)
	switch {
	case err == nil && strings.TrimSpace(field) != "":
		return Identity{Field: strings.TrimSpace(field), Source: SourceCache}, nil
	case err != nil && !errors.Is(err, store.ErrNotFound):
		// Degrade to prompting rather than refusing to start.
		slog.Warn("cached field id unreadable", "error", err)
	}

	if r.prompter == nil {
		return Identity{}, ErrNoIdentity
	}
	field, err = r.prompter.Prompt(ctx, message)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrNoIdentity, err)
	}
	field = strings.TrimSpace(field)
	if field == "" {
		return Identity{}, ErrNoIdentity
	}

	if err := r.storage.SaveFieldID(ctx, field); err != nil {
		slog.Warn("field id not cached", "field", field, "error", err)
	}
	r.mu.Lock()
	r.message = PromptMessage
	r.mu.Unlock()
	return Identity{Field: field, Source: SourcePrompt}, nil
}

// Reset forgets the current identifier after the backend rejected it. The
// next Resolve prompts with RetryMessage. A configured override is dropped
// for the rest of the process, since the backend has just rejected it.
func (r *Resolver) Reset(ctx context.Context) error {
	r.mu.Lock()
	if r.override != "" {
		slog.Warn("configured field id rejected by backend", "field", r.override)
		r.override = ""
	}
	r.message = RetryMessage
	r.mu.Unlock()

	if err := r.storage.ClearFieldID(ctx); err != nil {
		return fmt.Errorf("identity reset: %w", err)
	}
	return nil
}

// Adopt persists an identifier assigned by the backend. It replaces any
// override for the rest of the process.
func (r *Resolver) Adopt(ctx context.Context, field string) (Identity, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return Identity{}, ErrNoIdentity
	}

	r.mu.Lock()
	if r.override != "" {
		r.override = field
	}
	r.mu.Unlock()

	if err := r.storage.SaveFieldID(ctx, field); err != nil {
		return Identity{}, fmt.Errorf("identity adopt: %w", err)
	}
	return Identity{Field: field, Source: SourceBackend}, nil
}
