package peepsync

import (
	"runtime"
	"sync"

	"github.com/ocx/peeps/internal/registry"
)

// RWMutex is an instrumented drop-in for sync.RWMutex. Multiple readers
// appear as ReadHolders; a writer appears as HolderID with WriteHeld set.
type RWMutex struct {
	mu       sync.RWMutex
	readerMu sync.Mutex
	handle   *registry.Handle
}

func NewRWMutex(facade registry.Facade, name string) *RWMutex {
	_, file, line, _ := runtime.Caller(1)
	h := facade.RegisterRWLock(name, registry.Source{File: file, Line: line})
	return &RWMutex{handle: h}
}

func (m *RWMutex) RLock(facade registry.Facade, waiterID registry.ResourceID) {
	m.addWaiter(waiterID)
	m.mu.RLock()

	var id registry.ResourceID
	m.readerMu.Lock()
	m.handle.WithLock(func(e *registry.Entity) {
		body := e.Body.(registry.LockBody)
		body.Waiters = removeWaiter(body.Waiters, waiterID)
		body.WaiterCount = len(body.Waiters)
		body.ReadHolders = append(body.ReadHolders, waiterID)
		e.Body = body
		id = e.ID
	})
	m.readerMu.Unlock()
	facade.EmitEvent(registry.Event{Kind: registry.EventLockAcquired, Entity: id, Peer: waiterID})
}

func (m *RWMutex) RUnlock(facade registry.Facade, waiterID registry.ResourceID) {
	var id registry.ResourceID
	m.readerMu.Lock()
	m.handle.WithLock(func(e *registry.Entity) {
		body := e.Body.(registry.LockBody)
		body.ReadHolders = removeWaiter(body.ReadHolders, waiterID)
		e.Body = body
		id = e.ID
	})
	m.readerMu.Unlock()
	m.mu.RUnlock()
	facade.EmitEvent(registry.Event{Kind: registry.EventLockReleased, Entity: id, Peer: waiterID})
}

func (m *RWMutex) Lock(facade registry.Facade, waiterID registry.ResourceID) {
	m.addWaiter(waiterID)
	m.mu.Lock()

	var id registry.ResourceID
	m.handle.WithLock(func(e *registry.Entity) {
		body := e.Body.(registry.LockBody)
		body.Waiters = removeWaiter(body.Waiters, waiterID)
		body.WaiterCount = len(body.Waiters)
		body.HolderID = waiterID
		body.WriteHeld = true
		e.Body = body
		id = e.ID
	})
	facade.EmitEvent(registry.Event{Kind: registry.EventLockAcquired, Entity: id, Peer: waiterID})
}

func (m *RWMutex) Unlock(facade registry.Facade) {
	var id registry.ResourceID
	m.handle.WithLock(func(e *registry.Entity) {
		body := e.Body.(registry.LockBody)
		body.HolderID = ""
		body.WriteHeld = false
		e.Body = body
		id = e.ID
	})
	m.mu.Unlock()
	facade.EmitEvent(registry.Event{Kind: registry.EventLockReleased, Entity: id})
}

func (m *RWMutex) addWaiter(waiterID registry.ResourceID) {
	m.handle.WithLock(func(e *registry.Entity) {
		body := e.Body.(registry.LockBody)
		body.Waiters = append(body.Waiters, waiterID)
		body.WaiterCount = len(body.Waiters)
		e.Body = body
	})
}

func (m *RWMutex) Close() {
	m.handle = nil
}
