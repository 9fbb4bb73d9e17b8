package core

import (
	"sync"
	"sync/atomic"
	"time"
)

// StateStore holds the current RuntimeSnapshot behind an atomic pointer.
// All mutations are serialized through one mutex and applied copy-on-write:
// the snapshot is cloned, the mutation function runs against the clone, the
// version is bumped and the pointer is swapped. Readers therefore always see
// a version together with its fully consistent data and never a torn write.
type StateStore struct {
	mu    sync.Mutex
	snap  atomic.Pointer[RuntimeSnapshot]
	clock func() time.Time
}

// NewStateStore creates a store seeded with an empty snapshot at version 0.
func NewStateStore() *StateStore {
	s := &StateStore{clock: time.Now}
	s.snap.Store(&RuntimeSnapshot{})
	return s
}

// SetClock overrides the time source. Intended for tests.
func (s *StateStore) SetClock(clock func() time.Time) { s.clock = clock }

// Now returns the store's current time.
func (s *StateStore) Now() time.Time { return s.clock() }

// Version returns the current state version without copying the snapshot.
func (s *StateStore) Version() int64 { return s.snap.Load().Version }

// Snapshot returns a deep copy of the current state. Events older than the
// retention window are pruned from the returned view.
func (s *StateStore) Snapshot() *RuntimeSnapshot {
	c := s.snap.Load().Clone()
	cutoff := s.clock().Add(-EventRetention)
	kept := c.Events[:0]
	for _, ev := range c.Events {
		if ev.Timestamp.After(cutoff) {
			kept = append(kept, ev)
		}
	}
	c.Events = kept
	return c
}

// Mutate applies fn to a clone of the current snapshot, bumps the version and
// publishes the result atomically. Returns the new version.
func (s *StateStore) Mutate(fn func(snap *RuntimeSnapshot)) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.snap.Load().Clone()
	fn(c)
	c.Version++
	s.snap.Store(c)
	return c.Version
}

// RecordEvent appends a runtime event as its own mutation. Most callers fold
// event appends into a larger Mutate so one logical change is one version
// bump; this helper covers standalone notifications.
func (s *StateStore) RecordEvent(level EventLevel, source EventSource, typ, message string, data map[string]any) int64 {
	return s.Mutate(func(snap *RuntimeSnapshot) {
		snap.PushEvent(RuntimeEvent{
			ID:        NewID(),
			Level:     level,
			Source:    source,
			Type:      typ,
			Message:   message,
			Timestamp: s.clock(),
			Data:      data,
		})
	})
}

// NewEvent builds a runtime event stamped with the store clock, for use
// inside Mutate callbacks.
func (s *StateStore) NewEvent(level EventLevel, source EventSource, typ, message string, data map[string]any) RuntimeEvent {
	return RuntimeEvent{
		ID:        NewID(),
		Level:     level,
		Source:    source,
		Type:      typ,
		Message:   message,
		Timestamp: s.clock(),
		Data:      data,
	}
}
