// Package locks provides short-lived mutual exclusion keyed by string, used to serialise
// side effects (such as a carrier shipment purchase) across API replicas.
package locks

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"
)

// ErrLocked is returned when another owner holds the key.
var ErrLocked = errors.New("locks: key is held by another owner")

// Locker acquires exclusive leases.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Lease is a held lock. Release is safe to call after expiry: it never deletes another owner's lease.
type Lease interface {
	Release(ctx context.Context) error
}

func newToken() string {
	var buf [16]byte
	_, _ = rand.Read(buf[:])
	return hex.EncodeToString(buf[:])
}

// MemoryLocker is a process-local Locker for single-instance deployments and tests.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]memoryEntry
	clock func() time.Time
}

type memoryEntry struct {
	token     string
	expiresAt time.Time
}

// NewMemoryLocker builds an empty MemoryLocker. clock may be nil.
func NewMemoryLocker(clock func() time.Time) *MemoryLocker {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryLocker{held: make(map[string]memoryEntry), clock: clock}
}

// Acquire implements Locker.
func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if entry, ok := l.held[key]; ok && now.Before(entry.expiresAt) {
		return nil, ErrLocked
	}
	token := newToken()
	l.held[key] = memoryEntry{token: token, expiresAt: now.Add(ttl)}
	return &memoryLease{locker: l, key: key, token: token}, nil
}

type memoryLease struct {
	locker *MemoryLocker
	key    string
	token  string
}

func (m *memoryLease) Release(context.Context) error {
	m.locker.mu.Lock()
	defer m.locker.mu.Unlock()
	if entry, ok := m.locker.held[m.key]; ok && entry.token == m.token {
		delete(m.locker.held, m.key)
	}
	return nil
}
