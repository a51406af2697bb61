package registry

import (
	"sync"

	"github.com/shinji-kodama/docker-port-forward/internal/model"
)

// keyLock hands out one mutex per container ID. Mutexes are reference
// counted and dropped once nobody holds or waits for them, so the map only
// grows with the number of containers being worked on at the same time.
type keyLock struct {
	mu    sync.Mutex
	locks map[model.ContainerID]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyLock() *keyLock {
	return &keyLock{locks: make(map[model.ContainerID]*refMutex)}
}

// lock blocks until id is free and returns the matching unlock function.
func (k *keyLock) lock(id model.ContainerID) func() {
	k.mu.Lock()
	m, ok := k.locks[id]
	if !ok {
		m = &refMutex{}
		k.locks[id] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()

	return func() {
		m.Unlock()

		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}

// held returns the number of IDs currently locked or waited for.
func (k *keyLock) held() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
