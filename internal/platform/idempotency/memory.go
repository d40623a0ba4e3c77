package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process. It backs tests and single-instance local runs.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Reserve implements Store.
func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := documentID(key)
	var existing *Record
	if record, ok := s.records[id]; ok {
		existing = &record
	}
	reservation, write, err := reserveDecision(existing, key, fingerprint, now.UTC(), ttl)
	if err != nil {
		return Reservation{}, err
	}
	if write {
		s.records[id] = reservation.Record
	}
	return reservation, nil
}

// SaveResponse implements Store.
func (s *MemoryStore) SaveResponse(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := documentID(key)
	record, ok := s.records[id]
	if ok && record.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	if !ok {
		record = Record{Key: key, Fingerprint: fingerprint}
	}
	s.records[id] = completeRecord(record, resp, now.UTC(), ttl)
	return nil
}

// Release implements Store.
func (s *MemoryStore) Release(_ context.Context, key, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := documentID(key)
	if record, ok := s.records[id]; ok && record.Fingerprint == fingerprint {
		delete(s.records, id)
	}
	return nil
}

// CleanupExpired implements Store.
func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now = now.UTC()
	removed := 0
	for id, record := range s.records {
		if limit > 0 && removed >= limit {
			break
		}
		if record.ExpiresAt.IsZero() || !record.expired(now) {
			continue
		}
		delete(s.records, id)
		removed++
	}
	return removed, nil
}
