package cache

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"
)

// Entry is one cached snapshot and the time it was taken.
type Entry struct {
	Value     any
	Timestamp time.Time
}

// Store is a TTL-bounded snapshot cache. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]Entry
	now     func() time.Time
}

// New creates a store whose snapshots expire after ttl.
func New(ttl time.Duration) *Store {
	return &Store{
		ttl:     ttl,
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

// Get returns the snapshot under key when it is younger than the TTL.
func (s *Store) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if s.now().Sub(entry.Timestamp) > s.ttl {
		delete(s.entries, key)
		return nil, false
	}
	return entry.Value, true
}

// Put stores value under key, replacing any previous snapshot.
func (s *Store) Put(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = Entry{Value: value, Timestamp: s.now()}
}

// Invalidate drops the snapshot under key.
func (s *Store) Invalidate(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Clear drops every snapshot.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]Entry)
}

// Key derives a stable cache key from its parts.
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
