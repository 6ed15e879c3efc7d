// Package caching provides application-wide caching and related utilities.
package caching

import "sync"

// WarmingLock prevents "thundering herd" loads by letting only one warming
// task run per key at a time. Keys are usually "store/model".
type WarmingLock struct {
	mu    sync.Mutex
	locks map[string]struct{}
}

// NewWarmingLock creates a new instance of a WarmingLock.
func NewWarmingLock() *WarmingLock {
	return &WarmingLock{
		locks: make(map[string]struct{}),
	}
}

// TryLock acquires the lock for key without blocking and reports whether it
// was acquired.
func (l *WarmingLock) TryLock(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.locks[key]; exists {
		return false
	}
	l.locks[key] = struct{}{}
	return true
}

// Unlock releases the lock for key.
func (l *WarmingLock) Unlock(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.locks, key)
}

// Held reports whether key is currently locked.
func (l *WarmingLock) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, exists := l.locks[key]
	return exists
}
