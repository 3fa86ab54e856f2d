package indexer

import (
	"sync"
	"sync/atomic"
)

// repoLock provides non-blocking lock semantics for one repository.
// A second update of the same repository is refused rather than queued.
type repoLock struct {
	held atomic.Bool
}

// tryAcquire attempts to take the lock without blocking
func (l *repoLock) tryAcquire() bool {
	return l.held.CompareAndSwap(false, true)
}

// release must only be called by the holder
func (l *repoLock) release() {
	l.held.Store(false)
}

// lockTable hands out one repoLock per repository slug
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*repoLock
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*repoLock)}
}

// tryAcquire locks slug and returns its release function, or false when
// another update holds it
func (t *lockTable) tryAcquire(slug string) (func(), bool) {
	t.mu.Lock()
	l, ok := t.locks[slug]
	if !ok {
		l = &repoLock{}
		t.locks[slug] = l
	}
	t.mu.Unlock()

	if !l.tryAcquire() {
		return nil, false
	}
	return l.release, true
}
