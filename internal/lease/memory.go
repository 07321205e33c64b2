package lease

import (
	"context"
	"sync"
	"time"
)

// MemoryLease is the single-process Lease used when Redis is unavailable.
type MemoryLease struct {
	mu       sync.Mutex
	held     map[string]memoryEntry
	now      func() time.Time
	newToken func() string
}

type memoryEntry struct {
	token     string
	expiresAt time.Time
}

func NewMemoryLease() *MemoryLease {
	return &MemoryLease{
		held:     make(map[string]memoryEntry),
		now:      time.Now,
		newToken: newToken,
	}
}

func (l *MemoryLease) Acquire(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.held[key]; ok && now.Before(e.expiresAt) {
		return "", false, nil
	}

	token := l.newToken()
	l.held[key] = memoryEntry{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

func (l *MemoryLease) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.held[key]
	if !ok || e.token != token || !l.now().Before(e.expiresAt) {
		return ErrNotHeld
	}
	delete(l.held, key)
	return nil
}
