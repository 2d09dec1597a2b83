package app

import "sync"

// keyedMutex serialises work per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// lockDocument takes the shared structural lock and then the per-document
// lock. It fails fast while a rebuild or clear holds the structural lock.
func (s *AdminService) lockDocument(folder, filename string) (func(), error) {
	if !s.structural.TryRLock() {
		return nil, newOpError(ErrOperationInProgress, "a rebuild or clear is in progress", nil)
	}
	unlock := s.docLocks.Lock(folder + "/" + filename)
	return func() {
		unlock()
		s.structural.RUnlock()
	}, nil
}
