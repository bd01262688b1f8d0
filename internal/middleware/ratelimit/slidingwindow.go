package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Store is the access log behind a limiter.
type Store interface {
	// Record reads the current time from clock, drops every access at or
	// before that time minus window, appends it, and returns how many
	// accesses remain.
	Record(ctx context.Context, clock func() time.Time, window time.Duration) (int, error)
}

// MemoryStore keeps the access log in process. The clock is read under the
// lock, so accesses are appended in non-decreasing order and expiry only
// ever pops from the front.
type MemoryStore struct {
	mu       sync.Mutex
	accesses []time.Time
}

// NewMemoryStore creates a store sized for capacity accesses.
func NewMemoryStore(capacity int) *MemoryStore {
	return &MemoryStore{accesses: make([]time.Time, 0, capacity+1)}
}

// Record implements Store.
func (s *MemoryStore) Record(_ context.Context, clock func() time.Time, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := clock()
	threshold := now.Add(-window)

	i := 0
	for i < len(s.accesses) && !s.accesses[i].After(threshold) {
		i++
	}
	if i > 0 {
		s.accesses = append(s.accesses[:0], s.accesses[i:]...)
	}
	s.accesses = append(s.accesses, now)

	return len(s.accesses), nil
}

// Len returns the number of accesses currently held.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accesses)
}
