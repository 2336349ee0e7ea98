package state

import (
	"context"
	"sync"
	"time"

	"github.com/pacerhq/pacer/internal/coach"
)

// Memory is the in-process backend used by tests and local runs. The
// map itself is guarded, but load and persist inside a mutation are
// separate critical sections, same as the remote backends: concurrent
// mutators for one identity can lose updates unless the caller
// serializes them.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*coach.Record
	links   map[string]string
	active  string

	now func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]*coach.Record),
		links:   make(map[string]string),
		now:     time.Now,
	}
}

func (m *Memory) load(identity string) *coach.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.records[identity].Clone()
}

func (m *Memory) persist(identity string, rec *coach.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[identity] = rec
}

func (m *Memory) GetProfile(_ context.Context, identity string) (*coach.Profile, error) {
	rec := m.load(identity)
	if rec == nil {
		return nil, nil
	}
	return &rec.Profile, nil
}

func (m *Memory) UpsertProfile(_ context.Context, identity string, mutate func(*coach.Profile)) (*coach.Profile, error) {
	now := m.now()
	rec := m.load(identity)
	if rec == nil {
		rec = &coach.Record{Profile: *coach.NewProfile(identity, now)}
	}
	if mutate != nil {
		mutate(&rec.Profile)
	}
	rec.Profile.UpdatedAt = now
	m.persist(identity, rec)
	return rec.Profile.Clone(), nil
}

func (m *Memory) EnsureActive(_ context.Context, identity string) error {
	now := m.now()
	rec := m.load(identity)
	if rec == nil {
		m.persist(identity, &coach.Record{Profile: *coach.NewProfile(identity, now)})
	}
	m.mu.Lock()
	m.active = identity
	m.mu.Unlock()
	return nil
}

func (m *Memory) ActiveIdentity(_ context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active, nil
}

func (m *Memory) GetUsage(_ context.Context, identity string) (*coach.UsageWindow, error) {
	rec := m.load(identity)
	if rec == nil || rec.Usage == nil {
		return nil, nil
	}
	return rec.Usage, nil
}

func (m *Memory) PutUsage(_ context.Context, identity string, w coach.UsageWindow) error {
	rec := m.load(identity)
	if rec == nil {
		rec = &coach.Record{Profile: *coach.NewProfile(identity, m.now())}
	}
	rec.Usage = &w
	m.persist(identity, rec)
	return nil
}

func (m *Memory) BindIdentity(_ context.Context, platform, userID, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[platform+":"+userID] = identity
	return nil
}

func (m *Memory) ResolveBinding(_ context.Context, platform, userID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	identity, ok := m.links[platform+":"+userID]
	if !ok {
		return "", ErrNotFound
	}
	return identity, nil
}

func (m *Memory) Unbind(_ context.Context, platform, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.links, platform+":"+userID)
	return nil
}

func (m *Memory) Close() error { return nil }
