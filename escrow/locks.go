package escrow

import "sync"

// keyedMutex serializes operations per job id. A lock is held for the whole
// operation, across ledger awaits, so invariants read before an external call
// still hold when the local mutation commits. Entries are reference counted
// and removed once the last holder releases, so the map does not grow with
// every job ever touched.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[uint64]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[uint64]*lockEntry)}
}

func (k *keyedMutex) lock(key uint64) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &lockEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// held reports how many job ids currently have a lock entry.
func (k *keyedMutex) held() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
