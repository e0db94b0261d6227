// Package keylock provides in-process mutexes keyed by an arbitrary id.
package keylock

import (
	"sync"
	"time"
)

type entry struct {
	mu       sync.Mutex
	holders  int
	lastUsed time.Time
}

// Map hands out one mutex per key. Entries live until Sweep removes them
// after they have been idle for longer than a TTL.
type Map[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*entry
	now     func() time.Time
}

func New[K comparable]() *Map[K] {
	return &Map[K]{
		entries: make(map[K]*entry),
		now:     time.Now,
	}
}

// Lock blocks until the mutex for key is held and returns the function that
// releases it.
func (m *Map[K]) Lock(key K) (unlock func()) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	e.holders++
	e.lastUsed = m.now()
	m.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()

			m.mu.Lock()
			e.holders--
			e.lastUsed = m.now()
			m.mu.Unlock()
		})
	}
}

// Sweep drops entries nobody holds or waits on that were last used more than
// ttl ago. It returns the number of removed entries.
func (m *Map[K]) Sweep(ttl time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-ttl)
	removed := 0
	for key, e := range m.entries {
		if e.holders == 0 && e.lastUsed.Before(cutoff) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (m *Map[K]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
