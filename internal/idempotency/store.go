// Package idempotency replays the stored response of a POST that is retried
// with the same Idempotency-Key, so a client retrying after a timeout does
// not issue a second account or card.
package idempotency

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Record is a captured response. A record without a status is a
// reservation held by a request still in flight. Fingerprint is the hash of
// the request body that produced the response.
type Record struct {
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// Pending reports whether the owning request has not finished yet.
func (r *Record) Pending() bool {
	return r.Status == 0
}

// Store persists reservations and completed responses.
type Store interface {
	// Reserve claims key for ttl. When the key is already held it returns the
	// existing record and reserved=false.
	Reserve(ctx context.Context, key string, ttl time.Duration) (existing *Record, reserved bool, err error)
	// Complete replaces the reservation with the final response.
	Complete(ctx context.Context, key string, rec Record, ttl time.Duration) error
	// Release drops a reservation so the request can be retried.
	Release(ctx context.Context, key string) error
}

// ErrInvalidTTL is returned for non-positive TTLs.
var ErrInvalidTTL = errors.New("idempotency: ttl must be positive")

type memoryEntry struct {
	rec       Record
	expiresAt time.Time
}

// MemoryStore is an in-process Store for single-instance deployments.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type MemoryOption func(*MemoryStore)

// WithMemoryClock sets the clock used for expiry.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Reserve(_ context.Context, key string, ttl time.Duration) (*Record, bool, error) {
	if ttl <= 0 {
		return nil, false, ErrInvalidTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if entry, ok := s.entries[key]; ok && now.Before(entry.expiresAt) {
		rec := entry.rec
		return &rec, false, nil
	}
	s.entries[key] = memoryEntry{expiresAt: now.Add(ttl)}
	return nil, true, nil
}

func (s *MemoryStore) Complete(_ context.Context, key string, rec Record, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{rec: rec, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Sweep removes expired entries. Run it periodically; Reserve already
// ignores them.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for key, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx is cancelled.
func (s *MemoryStore) StartSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
