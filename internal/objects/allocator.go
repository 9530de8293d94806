package objects

import (
	"sync"
	"sync/atomic"
)

// Allocator is the single global allocator lock. It guards every
// directory's free chain and any list the caller keeps alongside a class
// table (for example the task zombie list). It is not reentrant.
type Allocator struct {
	mu    sync.Mutex
	epoch atomic.Uint64
	held  atomic.Bool
}

// Guard is proof that the allocator lock is held. Mutating directory methods
// take a *Guard so the "caller holds the lock" contract shows up in every
// signature.
type Guard struct {
	a        *Allocator
	epoch    uint64
	released bool
}

func NewAllocator() *Allocator { return &Allocator{} }

func (a *Allocator) Lock() *Guard {
	a.mu.Lock()
	a.held.Store(true)
	return &Guard{a: a, epoch: a.epoch.Add(1)}
}

// TryLock acquires the lock only if it is free.
func (a *Allocator) TryLock() (*Guard, bool) {
	if !a.mu.TryLock() {
		return nil, false
	}
	a.held.Store(true)
	return &Guard{a: a, epoch: a.epoch.Add(1)}, true
}

// Held reports whether some guard on a is live. It does not tell which
// goroutine owns it.
func (a *Allocator) Held() bool { return a.held.Load() }

// Unlock releases the lock. A guard can be released once.
func (g *Guard) Unlock() {
	if g == nil || g.released {
		panic("objects: unlock of released guard")
	}
	g.released = true
	g.a.held.Store(false)
	g.a.mu.Unlock()
}

// holds reports whether g is the live guard of a.
func (g *Guard) holds(a *Allocator) bool {
	return g != nil && !g.released && g.a == a && a.epoch.Load() == g.epoch
}
