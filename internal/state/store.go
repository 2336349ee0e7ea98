// Package state persists per-identity coaching records. A record is
// the full snapshot for one identity (profile plus usage window) and
// every mutation is load, modify, persist of that snapshot. Backends
// do not lock records internally; the actor layer serializes writers
// per identity.
package state

import (
	"context"
	"errors"

	"github.com/pacerhq/pacer/internal/coach"
)

// ErrNotFound reports a missing gateway binding.
var ErrNotFound = errors.New("not found")

// Store is the persistence contract shared by all backends.
type Store interface {
	// GetProfile returns the stored profile, or nil when the identity
	// has no record. Never creates.
	GetProfile(ctx context.Context, identity string) (*coach.Profile, error)

	// UpsertProfile loads the record (or starts a fresh one), applies
	// mutate to the profile, stamps UpdatedAt, persists the full
	// record, and returns the persisted profile.
	UpsertProfile(ctx context.Context, identity string, mutate func(*coach.Profile)) (*coach.Profile, error)

	// EnsureActive marks the identity as the active one and guarantees
	// a record exists for it, creating an empty profile if needed.
	// Existing records keep all their fields.
	EnsureActive(ctx context.Context, identity string) error

	// ActiveIdentity returns the last identity passed to EnsureActive,
	// or "" when none has been.
	ActiveIdentity(ctx context.Context) (string, error)

	// GetUsage returns the identity's usage window, or nil when no
	// window has been started.
	GetUsage(ctx context.Context, identity string) (*coach.UsageWindow, error)

	// PutUsage persists the usage window inside the identity's record.
	PutUsage(ctx context.Context, identity string, w coach.UsageWindow) error

	// BindIdentity links a platform user to an identity.
	BindIdentity(ctx context.Context, platform, userID, identity string) error

	// ResolveBinding returns the identity a platform user is linked
	// to, or ErrNotFound.
	ResolveBinding(ctx context.Context, platform, userID string) (string, error)

	// Unbind removes a platform user's link. Removing a missing link
	// is not an error.
	Unbind(ctx context.Context, platform, userID string) error

	Close() error
}
