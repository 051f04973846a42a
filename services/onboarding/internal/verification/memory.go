package verification

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	hash      string
	expiresAt time.Time
	attempts  int
}

type MemoryStore struct {
	mu          sync.Mutex
	entries     map[string]*memoryEntry
	maxAttempts int
}

func NewMemoryStore(maxAttempts int) *MemoryStore {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &MemoryStore{entries: map[string]*memoryEntry{}, maxAttempts: maxAttempts}
}

func (s *MemoryStore) Save(_ context.Context, ch Challenge, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key(ch.AccountNumber, ch.BankName)] = &memoryEntry{hash: ch.CodeHash, expiresAt: ch.ExpiresAt}
	return nil
}

func (s *MemoryStore) Consume(_ context.Context, accountNumber, bankName, codeHash string, now time.Time) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(accountNumber, bankName)
	e, ok := s.entries[k]
	if !ok {
		return 0, ErrNotFound
	}
	if !now.Before(e.expiresAt) {
		delete(s.entries, k)
		return 0, ErrNotFound
	}
	if hashesEqual(e.hash, codeHash) {
		delete(s.entries, k)
		return e.expiresAt.Sub(now), nil
	}
	e.attempts++
	if e.attempts >= s.maxAttempts {
		delete(s.entries, k)
		return 0, ErrTooManyAttempts
	}
	return 0, ErrCodeMismatch
}

func (s *MemoryStore) Restore(_ context.Context, ch Challenge, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(ch.AccountNumber, ch.BankName)
	if _, ok := s.entries[k]; ok {
		return nil
	}
	s.entries[k] = &memoryEntry{hash: ch.CodeHash, expiresAt: ch.ExpiresAt}
	return nil
}

// Len reports the number of outstanding challenges, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
