// Package memory is an in-process cache backend with lazy and swept expiry.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JakeFAU/instafix/internal/cache"
	"github.com/JakeFAU/instafix/internal/clock/system"
)

// ErrInvalidTTL is returned by Set for non-positive TTLs.
var ErrInvalidTTL = errors.New("ttl must be positive")

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Store keeps entries in a mutex-guarded map. Values are copied on the way
// in and out so callers never share backing arrays with the cache.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
	clock   cache.Clock
}

var (
	_ cache.Store   = (*Store)(nil)
	_ cache.Sweeper = (*Store)(nil)
)

// New creates an empty store. A nil clock uses the wall clock.
func New(clock cache.Clock) *Store {
	if clock == nil {
		clock = system.New()
	}
	return &Store{
		entries: make(map[string]entry),
		clock:   clock,
	}
}

// Get returns a copy of the live value for key.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	now := s.clock.Now()
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !now.Before(e.expiresAt) {
		s.mu.Lock()
		// Re-check: a concurrent Set may have refreshed the entry.
		if cur, still := s.entries[key]; still && !now.Before(cur.expiresAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

// Set stores a copy of value until now+ttl.
func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	e := entry{
		value:     append([]byte(nil), value...),
		expiresAt: s.clock.Now().Add(ttl),
	}
	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
	return nil
}

// Delete removes key if present.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Sweep evicts every expired entry and reports how many were removed.
func (s *Store) Sweep(_ context.Context) (int, error) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of stored entries, expired or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close drops every entry.
func (s *Store) Close() error {
	s.mu.Lock()
	s.entries = make(map[string]entry)
	s.mu.Unlock()
	return nil
}
