package takes

import "sync"

// keyedMutex serializes re-votes on the same (profile, prop) pair within this
// process, so two concurrent casts cannot both believe they are the latest.
// Entries are never reclaimed; the set is bounded by voter-prop pairs seen by
// one process lifetime.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
