package lock

import "sync"

// KeyedMutex serializes callers per key. Different keys never contend.
// Entries are dropped once no caller holds or waits on them.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{
		entries: make(map[string]*entry),
	}
}

func (k *KeyedMutex) Lock(key string) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
}

func (k *KeyedMutex) Unlock(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, ok := k.entries[key]
	if !ok {
		panic("lock: unlock of unlocked key " + key)
	}
	e.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
}

// With runs fn while holding the lock for key.
func (k *KeyedMutex) With(key string, fn func() error) error {
	k.Lock(key)
	defer k.Unlock(key)
	return fn()
}
