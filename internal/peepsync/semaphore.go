package peepsync

import (
	"context"
	"runtime"
	"sync"

	"github.com/ocx/peeps/internal/registry"
)

// Semaphore is a counting semaphore with FIFO wakeups: a mutex-protected
// count plus a queue of per-waiter wake channels.
type Semaphore struct {
	mu      sync.Mutex
	avail   int
	waiters []chan struct{}
	handle  *registry.Handle
}

func NewSemaphore(facade registry.Facade, name string, permits int) *Semaphore {
	_, file, line, _ := runtime.Caller(1)
	h := facade.RegisterSemaphore(name, permits, registry.Source{File: file, Line: line})
	return &Semaphore{avail: permits, handle: h}
}

// Acquire blocks until a permit is available or ctx is done. waiterID
// identifies the calling future/task for the Needs edge recorded while
// blocked.
func (s *Semaphore) Acquire(ctx context.Context, facade registry.Facade, waiterID registry.ResourceID) error {
	s.mu.Lock()
	if s.avail > 0 {
		s.avail--
		s.mu.Unlock()
		s.updateBody()
		facade.EmitEvent(registry.Event{Kind: registry.EventSemaphoreAcquired, Entity: s.handle.Entity.ID, Peer: waiterID})
		return nil
	}

	wake := make(chan struct{})
	s.waiters = append(s.waiters, wake)
	s.addWaiter(waiterID)
	s.mu.Unlock()

	facade.EmitEvent(registry.Event{Kind: registry.EventChannelWaitStarted, Entity: s.handle.Entity.ID, Peer: waiterID})
	defer facade.EmitEvent(registry.Event{Kind: registry.EventChannelWaitEnded, Entity: s.handle.Entity.ID, Peer: waiterID})

	select {
	case <-wake:
		s.removeWaiterID(waiterID)
		facade.EmitEvent(registry.Event{Kind: registry.EventSemaphoreAcquired, Entity: s.handle.Entity.ID, Peer: waiterID})
		return nil
	case <-ctx.Done():
		s.dropWaiter(wake, waiterID)
		return ctx.Err()
	}
}

func (s *Semaphore) TryAcquire(facade registry.Facade, waiterID registry.ResourceID) bool {
	s.mu.Lock()
	if s.avail == 0 {
		s.mu.Unlock()
		return false
	}
	s.avail--
	s.mu.Unlock()
	s.updateBody()
	facade.EmitEvent(registry.Event{Kind: registry.EventSemaphoreAcquired, Entity: s.handle.Entity.ID, Peer: waiterID})
	return true
}

func (s *Semaphore) Release(facade registry.Facade) {
	s.mu.Lock()
	if len(s.waiters) > 0 {
		wake := s.waiters[0]
		s.waiters = s.waiters[1:]
		s.mu.Unlock()
		close(wake)
		facade.EmitEvent(registry.Event{Kind: registry.EventSemaphoreReleased, Entity: s.handle.Entity.ID})
		return
	}
	s.avail++
	s.mu.Unlock()
	s.updateBody()
	facade.EmitEvent(registry.Event{Kind: registry.EventSemaphoreReleased, Entity: s.handle.Entity.ID})
}

func (s *Semaphore) updateBody() {
	s.mu.Lock()
	avail := s.avail
	n := len(s.waiters)
	s.mu.Unlock()
	s.handle.WithLock(func(e *registry.Entity) {
		b := e.Body.(registry.SemaphoreBody)
		b.Available = avail
		b.WaiterCount = n
		e.Body = b
	})
}

func (s *Semaphore) addWaiter(id registry.ResourceID) {
	s.handle.WithLock(func(e *registry.Entity) {
		b := e.Body.(registry.SemaphoreBody)
		b.Waiters = append(b.Waiters, id)
		b.WaiterCount = len(b.Waiters)
		e.Body = b
	})
}

func (s *Semaphore) removeWaiterID(id registry.ResourceID) {
	s.handle.WithLock(func(e *registry.Entity) {
		b := e.Body.(registry.SemaphoreBody)
		b.Waiters = removeWaiter(b.Waiters, id)
		b.WaiterCount = len(b.Waiters)
		e.Body = b
	})
}

func (s *Semaphore) dropWaiter(wake chan struct{}, id registry.ResourceID) {
	s.mu.Lock()
	for i, w := range s.waiters {
		if w == wake {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	s.removeWaiterID(id)
}

func (s *Semaphore) Close() {
	s.handle = nil
}
