// Package peepsync provides instrumented drop-in wrappers around the
// concurrency primitives Peeps observes: mutexes, channels, semaphores,
// once-cells and futures. Each wrapper except Future registers immediately on
// construction (Future registers on its first Poll or Await), updates its own body state under its own lock (never the registry's), then
// emits an event -- the construct/operate/drop shape specified for every
// primitive kind.
package peepsync

import (
	"runtime"
	"sync"

	"github.com/ocx/peeps/internal/registry"
)

// Mutex is an instrumented drop-in for sync.Mutex. Lock/Unlock record
// Needs/Holds edges via the underlying lock body and bracket a
// LockAcquired/LockReleased event pair.
type Mutex struct {
	mu     sync.Mutex
	handle *registry.Handle
}

func NewMutex(facade registry.Facade, name string) *Mutex {
	_, file, line, _ := runtime.Caller(1)
	h := facade.RegisterLock(name, registry.Source{File: file, Line: line})
	return &Mutex{handle: h}
}

// Lock acquires the mutex. waiterID identifies the calling future/task: it is
// recorded as a waiter (the source of a Needs edge to this lock) while
// blocked, then replaced by the holder (the source of a Holds edge) once
// acquired.
func (m *Mutex) Lock(facade registry.Facade, waiterID registry.ResourceID) {
	m.addWaiter(waiterID)
	m.mu.Lock()
	m.acquire(facade, waiterID)
}

func (m *Mutex) TryLock(facade registry.Facade, waiterID registry.ResourceID) bool {
	if !m.mu.TryLock() {
		return false
	}
	m.acquire(facade, waiterID)
	return true
}

func (m *Mutex) Unlock(facade registry.Facade) {
	var id registry.ResourceID
	m.handle.WithLock(func(e *registry.Entity) {
		body := e.Body.(registry.LockBody)
		id = e.ID
		body.HolderID = ""
		e.Body = body
	})
	m.mu.Unlock()
	facade.EmitEvent(registry.Event{Kind: registry.EventLockReleased, Entity: id})
}

func (m *Mutex) addWaiter(waiterID registry.ResourceID) {
	m.handle.WithLock(func(e *registry.Entity) {
		body := e.Body.(registry.LockBody)
		body.Waiters = append(body.Waiters, waiterID)
		body.WaiterCount = len(body.Waiters)
		e.Body = body
	})
}

func (m *Mutex) acquire(facade registry.Facade, waiterID registry.ResourceID) {
	var id registry.ResourceID
	m.handle.WithLock(func(e *registry.Entity) {
		body := e.Body.(registry.LockBody)
		body.Waiters = removeWaiter(body.Waiters, waiterID)
		body.WaiterCount = len(body.Waiters)
		body.HolderID = waiterID
		e.Body = body
		id = e.ID
	})
	facade.EmitEvent(registry.Event{Kind: registry.EventLockAcquired, Entity: id, Peer: waiterID})
}

func removeWaiter(waiters []registry.ResourceID, id registry.ResourceID) []registry.ResourceID {
	out := waiters[:0]
	for _, w := range waiters {
		if w != id {
			out = append(out, w)
		}
	}
	return out
}

// Close releases the wrapper's strong handle. The registry's weak reference
// dies and the next EmitGraph drops the entity.
func (m *Mutex) Close() {
	m.handle = nil
}
