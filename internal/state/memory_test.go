package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pacerhq/pacer/internal/coach"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestMemory() *Memory {
	m := NewMemory()
	m.now = func() time.Time { return testNow }
	return m
}

func TestGetProfileNeverCreates(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()

	p, err := m.GetProfile(ctx, "a@b.co")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != nil {
		t.Fatalf("got profile %+v, want nil for missing identity", p)
	}

	// A read must not have materialized a record.
	if p, _ := m.GetProfile(ctx, "a@b.co"); p != nil {
		t.Fatal("read created a record")
	}
}

func TestUpsertCreatesAndStamps(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()

	p, err := m.UpsertProfile(ctx, "a@b.co", func(p *coach.Profile) {
		p.Name = "Alex"
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Identity != "a@b.co" || p.Name != "Alex" {
		t.Errorf("got %+v, want identity and name set", p)
	}
	if !p.CreatedAt.Equal(testNow) || !p.UpdatedAt.Equal(testNow) {
		t.Errorf("got stamps %v / %v, want %v", p.CreatedAt, p.UpdatedAt, testNow)
	}
}

func TestUpsertPreservesExistingFields(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()

	m.UpsertProfile(ctx, "a@b.co", func(p *coach.Profile) { p.Name = "Alex" })
	p, err := m.UpsertProfile(ctx, "a@b.co", func(p *coach.Profile) { p.Goal = "marathon" })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name != "Alex" || p.Goal != "marathon" {
		t.Errorf("got %+v, want both fields", p)
	}
}

func TestEnsureActive(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()

	if err := m.EnsureActive(ctx, "a@b.co"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, _ := m.GetProfile(ctx, "a@b.co")
	if p == nil {
		t.Fatal("ensure did not create a record")
	}

	active, err := m.ActiveIdentity(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if active != "a@b.co" {
		t.Errorf("got active %q, want a@b.co", active)
	}
}

func TestEnsureActiveKeepsExistingProfile(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()

	m.UpsertProfile(ctx, "a@b.co", func(p *coach.Profile) { p.Name = "Alex" })
	if err := m.EnsureActive(ctx, "a@b.co"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, _ := m.GetProfile(ctx, "a@b.co")
	if p.Name != "Alex" {
		t.Errorf("got name %q, want preserved Alex", p.Name)
	}
}

func TestActivityEvictionKeepsNewest(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()

	total := coach.MaxActivities + 5
	for i := 0; i < total; i++ {
		id := fmt.Sprintf("run-%03d", i)
		m.UpsertProfile(ctx, "a@b.co", func(p *coach.Profile) {
			p.AppendActivity(coach.ActivityEntry{ID: id})
		})
	}

	p, _ := m.GetProfile(ctx, "a@b.co")
	if len(p.Activities) != coach.MaxActivities {
		t.Fatalf("got %d activities, want %d", len(p.Activities), coach.MaxActivities)
	}
	if got, want := p.Activities[0].ID, "run-005"; got != want {
		t.Errorf("got oldest %q, want %q (five oldest evicted)", got, want)
	}
	if got, want := p.Activities[len(p.Activities)-1].ID, fmt.Sprintf("run-%03d", total-1); got != want {
		t.Errorf("got newest %q, want %q", got, want)
	}
}

func TestReturnedProfilesAreCopies(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()

	m.UpsertProfile(ctx, "a@b.co", func(p *coach.Profile) {
		p.AppendActivity(coach.ActivityEntry{ID: "r1"})
	})

	p, _ := m.GetProfile(ctx, "a@b.co")
	p.Name = "tampered"
	p.Activities[0].ID = "tampered"

	fresh, _ := m.GetProfile(ctx, "a@b.co")
	if fresh.Name == "tampered" || fresh.Activities[0].ID == "tampered" {
		t.Error("store shares memory with returned profiles")
	}
}

func TestUsageRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()

	w, err := m.GetUsage(ctx, "a@b.co")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w != nil {
		t.Fatalf("got %+v, want nil before any window", w)
	}

	put := coach.UsageWindow{Count: 7, WindowStart: testNow}
	if err := m.PutUsage(ctx, "a@b.co", put); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := m.GetUsage(ctx, "a@b.co")
	if got == nil || got.Count != 7 || !got.WindowStart.Equal(testNow) {
		t.Errorf("got %+v, want %+v", got, put)
	}

	// PutUsage on a bare identity must have created its record.
	if p, _ := m.GetProfile(ctx, "a@b.co"); p == nil {
		t.Error("usage write did not create the record")
	}
}

func TestBindings(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()

	if _, err := m.ResolveBinding(ctx, "slack", "U1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}

	m.BindIdentity(ctx, "slack", "U1", "a@b.co")
	identity, err := m.ResolveBinding(ctx, "slack", "U1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if identity != "a@b.co" {
		t.Errorf("got %q, want a@b.co", identity)
	}

	// Same user id on another platform is a distinct binding.
	if _, err := m.ResolveBinding(ctx, "discord", "U1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound for other platform", err)
	}

	// Rebinding overwrites.
	m.BindIdentity(ctx, "slack", "U1", "b@c.de")
	identity, _ = m.ResolveBinding(ctx, "slack", "U1")
	if identity != "b@c.de" {
		t.Errorf("got %q, want b@c.de", identity)
	}

	if err := m.Unbind(ctx, "slack", "U1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.ResolveBinding(ctx, "slack", "U1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound after unbind", err)
	}

	// Unbinding a missing link is a no-op.
	if err := m.Unbind(ctx, "slack", "U9"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

// Two mutators that interleave load and persist overwrite each other.
// The store leaves serialization to its callers, so this test pins the
// failure mode rather than the fix.
func TestUnserializedMutatorsLoseUpdates(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()

	var bothLoaded sync.WaitGroup
	bothLoaded.Add(2)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		id := fmt.Sprintf("run-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.UpsertProfile(ctx, "a@b.co", func(p *coach.Profile) {
				p.AppendActivity(coach.ActivityEntry{ID: id})
				// Hold both mutators between load and persist so each
				// works from a snapshot missing the other's write.
				bothLoaded.Done()
				bothLoaded.Wait()
			})
		}()
	}
	wg.Wait()

	p, _ := m.GetProfile(ctx, "a@b.co")
	if len(p.Activities) != 1 {
		t.Fatalf("got %d activities, want 1 surviving write", len(p.Activities))
	}
}
