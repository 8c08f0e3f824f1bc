// Package sequencer numbers chunks per session and remembers which chunks
// have already been dispatched.
package sequencer

import (
	"fmt"
	"sync"
	"time"

	"github.com/nicktill/tinyfocus/pkg/event"
)

// Chunk is one numbered batch of optimized events
type Chunk struct {
	SessionID     string                 `json:"session_id"`
	UserID        string                 `json:"user_id,omitempty"`
	Number        int                    `json:"chunk_number"`
	Events        []event.OptimizedEvent `json:"events"`
	RawEventCount int                    `json:"raw_event_count"`
	CreatedAt     time.Time              `json:"created_at"`
}

// Key returns the dedup key "{sessionId}_{chunkNumber}"
func Key(sessionID string, number int) string {
	return fmt.Sprintf("%s_%d", sessionID, number)
}

// Sequencer hands out 1, 2, 3... per session and tracks claimed chunks.
// Claims are grouped by session so ids that share a prefix never collide.
type Sequencer struct {
	mu       sync.Mutex
	counters map[string]int
	claimed  map[string]map[int]struct{}
}

// New creates an empty sequencer
func New() *Sequencer {
	return &Sequencer{
		counters: make(map[string]int),
		claimed:  make(map[string]map[int]struct{}),
	}
}

// Reset zeroes the counter of a session and forgets its claimed keys
func (s *Sequencer) Reset(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.counters, sessionID)
	delete(s.claimed, sessionID)
}

func (s *Sequencer) claims(sessionID string) map[int]struct{} {
	c, ok := s.claimed[sessionID]
	if !ok {
		c = make(map[int]struct{})
		s.claimed[sessionID] = c
	}
	return c
}

// Next increments the counter and returns the new chunk number
func (s *Sequencer) Next(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[sessionID]++
	return s.counters[sessionID]
}

// Current returns the last number handed out, 0 if none
func (s *Sequencer) Current(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[sessionID]
}

// Restore sets the counter after recovery; chunks 1..n count as dispatched
func (s *Sequencer) Restore(sessionID string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 0 {
		n = 0
	}
	s.counters[sessionID] = n
	c := s.claims(sessionID)
	for i := 1; i <= n; i++ {
		c[i] = struct{}{}
	}
}

// IsDuplicate reports whether the chunk has been claimed
func (s *Sequencer) IsDuplicate(sessionID string, n int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.claimed[sessionID][n]
	return ok
}

// Claim marks the chunk as dispatched. It returns false if it already was.
func (s *Sequencer) Claim(sessionID string, n int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.claims(sessionID)
	if _, ok := c[n]; ok {
		return false
	}
	c[n] = struct{}{}
	return true
}

// Release forgets a claim so the chunk can be retried
func (s *Sequencer) Release(sessionID string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claimed[sessionID], n)
}
