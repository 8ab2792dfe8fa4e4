package auth

import (
	"context"
	"sync"
	"time"
)

// RevocationStore is an in-memory set of revoked token keys. Entries live only until the
// token they describe would have expired anyway, so memory is bounded by the number of
// revoked tokens that are still otherwise valid. State is process-local and lost on restart.
type RevocationStore struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewRevocationStore creates an empty store. now defaults to time.Now.
func NewRevocationStore(now func() time.Time) *RevocationStore {
	if now == nil {
		now = time.Now
	}
	return &RevocationStore{
		entries: make(map[string]time.Time),
		now:     now,
	}
}

// Revoke marks key as revoked until expiresAt. Keys that are already past expiresAt are
// ignored since the codec rejects them on its own. Revoking twice is harmless.
func (s *RevocationStore) Revoke(key string, expiresAt time.Time) bool {
	if key == "" || !s.now().Before(expiresAt) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.entries[key]; ok && !expiresAt.After(current) {
		return true
	}
	s.entries[key] = expiresAt
	return true
}

// IsRevoked reports whether key is revoked. Expired entries are dropped on the way.
func (s *RevocationStore) IsRevoked(key string) bool {
	s.mu.RLock()
	expiresAt, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	if s.now().Before(expiresAt) {
		return true
	}

	s.mu.Lock()
	// re-check under the write lock; a concurrent Revoke may have extended the entry
	if current, ok := s.entries[key]; ok && !s.now().Before(current) {
		delete(s.entries, key)
	}
	s.mu.Unlock()
	return false
}

// Sweep removes every expired entry and returns how many were dropped.
func (s *RevocationStore) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, expiresAt := range s.entries {
		if !now.Before(expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries currently held, expired or not.
func (s *RevocationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Run sweeps every interval until ctx is done. onSweep, if set, receives the number of
// entries removed and the size left after each pass.
func (s *RevocationStore) Run(ctx context.Context, interval time.Duration, onSweep func(removed, remaining int)) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := s.Sweep()
			if onSweep != nil {
				onSweep(removed, s.Len())
			}
		}
	}
}
