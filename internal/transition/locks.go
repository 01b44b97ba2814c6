package transition

import (
	"sync"

	"github.com/ppiankov/trustgate/internal/model"
)

// keyedMutex hands out one mutex per identity and forgets it once no
// goroutine holds or waits for it.
type keyedMutex struct {
	mu sync.Mutex
	m  map[model.ClientIdentity]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{m: make(map[model.ClientIdentity]*keyedEntry)}
}

// Lock blocks until id's mutex is held and returns its release function.
func (k *keyedMutex) Lock(id model.ClientIdentity) func() {
	k.mu.Lock()
	e, ok := k.m[id]
	if !ok {
		e = &keyedEntry{}
		k.m[id] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.m, id)
		}
		k.mu.Unlock()
	}
}
