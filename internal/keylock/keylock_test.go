package keylock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLockSerializesSameKey(t *testing.T) {
	m := New[int64]()

	var (
		wg      sync.WaitGroup
		inside  int
		maxSeen int
		mu      sync.Mutex
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock(7)
			defer unlock()

			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Equal(t, 1, maxSeen)
}

func TestLockDifferentKeysDoNotBlock(t *testing.T) {
	m := New[string]()

	unlockA := m.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := m.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on another key blocked")
	}
}

func TestUnlockIsIdempotent(t *testing.T) {
	m := New[int]()

	unlock := m.Lock(1)
	unlock()
	unlock()

	// would deadlock if the second unlock had released twice and broken the count
	unlock = m.Lock(1)
	unlock()
}

func TestSweep(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	m := New[int]()
	m.now = func() time.Time { return now }

	m.Lock(1)()
	m.Lock(2)()
	held := m.Lock(3)
	require.Equal(t, 3, m.Len())

	// nothing idle long enough yet
	require.Equal(t, 0, m.Sweep(time.Hour))

	now = now.Add(2 * time.Hour)
	require.Equal(t, 2, m.Sweep(time.Hour))
	require.Equal(t, 1, m.Len())

	held()
	now = now.Add(2 * time.Hour)
	require.Equal(t, 1, m.Sweep(time.Hour))
	require.Equal(t, 0, m.Len())
}
