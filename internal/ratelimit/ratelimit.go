// Package ratelimit enforces the per-identity request budget over a
// sliding-reset window.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pacerhq/pacer/internal/coach"
	"github.com/pacerhq/pacer/internal/state"
)

const (
	// DefaultCeiling is the number of requests one identity may spend
	// per window.
	DefaultCeiling = 10000

	// DefaultWindow is how long a window lasts once started.
	DefaultWindow = 24 * time.Hour
)

// ErrLimited reports an identity at its ceiling. Rejected requests
// are never charged against the window.
var ErrLimited = errors.New("request budget exhausted")

// Limiter admits or rejects requests against stored usage windows.
// It does no locking of its own; callers serialize per identity.
type Limiter struct {
	store   state.Store
	ceiling int
	window  time.Duration

	now func() time.Time
}

// New returns a limiter over the given store. Non-positive ceiling or
// window fall back to the defaults.
func New(store state.Store, ceiling int, window time.Duration) *Limiter {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{store: store, ceiling: ceiling, window: window, now: time.Now}
}

// expired reports whether a window started strictly before the cutoff.
// A window starting exactly one full window ago still applies.
func (l *Limiter) expired(w coach.UsageWindow, now time.Time) bool {
	return w.WindowStart.Before(now.Add(-l.window))
}

// Admit charges one request for the identity. A missing or expired
// window restarts at the current instant. At the ceiling it returns
// ErrLimited and writes nothing.
func (l *Limiter) Admit(ctx context.Context, identity string) error {
	now := l.now()
	w, err := l.store.GetUsage(ctx, identity)
	if err != nil {
		return fmt.Errorf("load usage: %w", err)
	}
	if w == nil || l.expired(*w, now) {
		w = &coach.UsageWindow{WindowStart: now}
	}
	if w.Count >= l.ceiling {
		return ErrLimited
	}
	w.Count++
	if err := l.store.PutUsage(ctx, identity, *w); err != nil {
		return fmt.Errorf("persist usage: %w", err)
	}
	return nil
}

// Status returns the identity's current window and the requests left
// in it. A missing or expired window reads as fresh and unspent.
func (l *Limiter) Status(ctx context.Context, identity string) (coach.UsageWindow, int, error) {
	now := l.now()
	w, err := l.store.GetUsage(ctx, identity)
	if err != nil {
		return coach.UsageWindow{}, 0, fmt.Errorf("load usage: %w", err)
	}
	if w == nil || l.expired(*w, now) {
		return coach.UsageWindow{WindowStart: now}, l.ceiling, nil
	}
	remaining := l.ceiling - w.Count
	if remaining < 0 {
		remaining = 0
	}
	return *w, remaining, nil
}
