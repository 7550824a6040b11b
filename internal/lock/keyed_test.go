package lock

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func size(k *KeyedMutex) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

func TestKeyedMutex_LockUnlock(t *testing.T) {
	k := NewKeyedMutex()

	k.Lock("task-1")
	k.Unlock("task-1")

	// Should be able to lock again
	k.Lock("task-1")
	k.Unlock("task-1")

	assert.Equal(t, 0, size(k))
}

func TestKeyedMutex_DifferentKeys(t *testing.T) {
	k := NewKeyedMutex()
	done := make(chan struct{})

	k.Lock("task-1")
	go func() {
		// task-2 must not wait on task-1
		k.Lock("task-2")
		k.Unlock("task-2")
		close(done)
	}()

	<-done
	k.Unlock("task-1")
}

func TestKeyedMutex_Concurrent(t *testing.T) {
	k := NewKeyedMutex()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k.Lock("shared")
			counter++
			k.Unlock("shared")
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
	assert.Equal(t, 0, size(k))
}

func TestKeyedMutex_WithPropagatesError(t *testing.T) {
	k := NewKeyedMutex()
	boom := errors.New("boom")

	err := k.With("task-1", func() error { return boom })
	require.ErrorIs(t, err, boom)

	// lock must have been released
	require.NoError(t, k.With("task-1", func() error { return nil }))
}

func TestKeyedMutex_UnlockUnknownPanics(t *testing.T) {
	k := NewKeyedMutex()
	assert.Panics(t, func() { k.Unlock("missing") })
}
