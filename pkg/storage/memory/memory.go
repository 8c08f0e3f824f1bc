package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nicktill/tinyfocus/pkg/clock"
	"github.com/nicktill/tinyfocus/pkg/storage"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Store keeps snapshots in memory. Data is lost on restart.
// Useful for testing and development.
type Store struct {
	clock   clock.Clock
	entries map[string]entry
	mu      sync.RWMutex
}

// New creates an in-memory store on the system clock
func New() *Store {
	return NewWithClock(clock.Real{})
}

// NewWithClock creates an in-memory store whose TTLs follow clk
func NewWithClock(clk clock.Clock) *Store {
	return &Store{
		clock:   clk,
		entries: make(map[string]entry),
	}
}

// Put stores a copy of value
func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = s.clock.Now().Add(ttl)
	}
	s.entries[key] = e
	return nil
}

// Get returns a copy of the stored value
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok || s.expired(e) {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

// Delete removes key
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// Keys lists live keys with prefix in sorted order
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for k, e := range s.entries {
		if strings.HasPrefix(k, prefix) && !s.expired(e) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// RunGC drops expired entries
func (s *Store) RunGC(float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, e := range s.entries {
		if s.expired(e) {
			delete(s.entries, k)
		}
	}
	return nil
}

// Len returns the number of entries held, expired or not
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close is a no-op for memory storage
func (s *Store) Close() error {
	return nil
}

func (s *Store) expired(e entry) bool {
	return !e.expiresAt.IsZero() && !s.clock.Now().Before(e.expiresAt)
}
