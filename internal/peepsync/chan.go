package peepsync

import (
	"context"
	"runtime"
	"sync"

	"github.com/google/uuid"

	"github.com/ocx/peeps/internal/registry"
)

// Tx and Rx wrap the two ends of one logical channel. They share a
// channel_id: whichever side's entities are live at emission time, the
// emitter pairs them into a ChannelLink edge.
type Tx[T any] struct {
	ch        *chanCore[T]
	handle    *registry.Handle
	channelID string
}

type Rx[T any] struct {
	ch        *chanCore[T]
	handle    *registry.Handle
	channelID string
}

// chanCore is the shared transport: a buffered native channel for bounded
// kinds, or an unbounded queue guarded by a sync.Cond for ChannelUnbounded.
// It also holds both endpoints' handles so occupancy -- a property of the
// channel, not of either endpoint alone -- can be kept in sync on both
// entities from whichever side moves an item.
type chanCore[T any] struct {
	bounded chan T
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []T
	unbound bool
	closed  bool

	txHandle *registry.Handle
	rxHandle *registry.Handle
}

func newChanCore[T any](kind registry.ChannelKind, capacity int) *chanCore[T] {
	c := &chanCore[T]{}
	if kind == registry.ChannelUnbounded {
		c.unbound = true
		c.cond = sync.NewCond(&c.mu)
		return c
	}
	c.bounded = make(chan T, capacity)
	return c
}

// setOccupancy writes n into both the tx and rx entity bodies, keeping the
// two sides' view of in-flight item count identical regardless of which end
// last moved an item.
func (c *chanCore[T]) setOccupancy(n int) {
	setChannelOccupancy(c.txHandle, n)
	setChannelOccupancy(c.rxHandle, n)
}

func setChannelOccupancy(h *registry.Handle, n int) {
	h.WithLock(func(e *registry.Entity) {
		b := e.Body.(registry.ChannelBody)
		b.Occupancy = n
		e.Body = b
	})
}

// addWaiter/removeWaiter record that waiterID is blocked sending or
// receiving on this endpoint, so the emitter can derive a Needs edge from
// the waiter to the endpoint the same way it does for locks and semaphores.
func addWaiter(h *registry.Handle, waiterID registry.ResourceID) {
	h.WithLock(func(e *registry.Entity) {
		b := e.Body.(registry.ChannelBody)
		b.Waiters = append(b.Waiters, waiterID)
		e.Body = b
	})
}

func removeWaiter(h *registry.Handle, waiterID registry.ResourceID) {
	h.WithLock(func(e *registry.Entity) {
		b := e.Body.(registry.ChannelBody)
		b.Waiters = removeResourceID(b.Waiters, waiterID)
		e.Body = b
	})
}

func removeResourceID(ids []registry.ResourceID, target registry.ResourceID) []registry.ResourceID {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// NewChan builds a Tx/Rx pair sharing a freshly minted channel_id.
func NewChan[T any](facade registry.Facade, name string, capacity int, kind registry.ChannelKind) (*Tx[T], *Rx[T]) {
	channelID := uuid.NewString()
	_, file, line, _ := runtime.Caller(1)
	src := registry.Source{File: file, Line: line}

	txHandle := facade.RegisterChannelTx(name, channelID, kind, capacity, src)
	rxHandle := facade.RegisterChannelRx(name, channelID, kind, capacity, src)

	core := newChanCore[T](kind, capacity)
	core.txHandle = txHandle
	core.rxHandle = rxHandle

	return &Tx[T]{ch: core, handle: txHandle, channelID: channelID},
		&Rx[T]{ch: core, handle: rxHandle, channelID: channelID}
}

// NewOneshot is a Chan with capacity 1 and kind ChannelOneshot.
func NewOneshot[T any](facade registry.Facade, name string) (*Tx[T], *Rx[T]) {
	channelID := uuid.NewString()
	_, file, line, _ := runtime.Caller(1)
	src := registry.Source{File: file, Line: line}

	txHandle := facade.RegisterChannelTx(name, channelID, registry.ChannelOneshot, 1, src)
	rxHandle := facade.RegisterChannelRx(name, channelID, registry.ChannelOneshot, 1, src)

	core := newChanCore[T](registry.ChannelOneshot, 1)
	core.txHandle = txHandle
	core.rxHandle = rxHandle

	return &Tx[T]{ch: core, handle: txHandle, channelID: channelID},
		&Rx[T]{ch: core, handle: rxHandle, channelID: channelID}
}

func (t *Tx[T]) Send(ctx context.Context, facade registry.Facade, waiterID registry.ResourceID) func(T) error {
	return func(v T) error {
		facade.EmitEvent(registry.Event{Kind: registry.EventChannelWaitStarted, Entity: t.handle.Entity.ID, Peer: waiterID})
		defer facade.EmitEvent(registry.Event{Kind: registry.EventChannelWaitEnded, Entity: t.handle.Entity.ID, Peer: waiterID})

		if t.ch.unbound {
			t.ch.mu.Lock()
			if t.ch.closed {
				t.ch.mu.Unlock()
				return errClosed
			}
			t.ch.queue = append(t.ch.queue, v)
			n := len(t.ch.queue)
			t.ch.cond.Signal()
			t.ch.mu.Unlock()
			t.ch.setOccupancy(n)
			facade.EmitEvent(registry.Event{Kind: registry.EventChannelSent, Entity: t.handle.Entity.ID})
			return nil
		}

		// Only the bounded path can genuinely block, so only it tracks a
		// waiter edge; an unbounded send always succeeds immediately.
		addWaiter(t.handle, waiterID)
		defer removeWaiter(t.handle, waiterID)

		select {
		case t.ch.bounded <- v:
			t.ch.setOccupancy(len(t.ch.bounded))
			facade.EmitEvent(registry.Event{Kind: registry.EventChannelSent, Entity: t.handle.Entity.ID})
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (t *Tx[T]) TrySend(facade registry.Facade, v T) bool {
	if t.ch.unbound {
		t.ch.mu.Lock()
		if t.ch.closed {
			t.ch.mu.Unlock()
			return false
		}
		t.ch.queue = append(t.ch.queue, v)
		n := len(t.ch.queue)
		t.ch.cond.Signal()
		t.ch.mu.Unlock()
		t.ch.setOccupancy(n)
		facade.EmitEvent(registry.Event{Kind: registry.EventChannelSent, Entity: t.handle.Entity.ID})
		return true
	}
	select {
	case t.ch.bounded <- v:
		t.ch.setOccupancy(len(t.ch.bounded))
		facade.EmitEvent(registry.Event{Kind: registry.EventChannelSent, Entity: t.handle.Entity.ID})
		return true
	default:
		return false
	}
}

// Close closes the underlying transport and marks the channel's lifecycle
// closed, recording this side's id as closed_by.
func (t *Tx[T]) Close(facade registry.Facade) {
	t.handle.WithLock(func(e *registry.Entity) {
		b := e.Body.(registry.ChannelBody)
		b.Lifecycle = registry.LifecycleClosed
		b.ClosedBy = e.ID
		e.Body = b
	})
	if t.ch.unbound {
		t.ch.mu.Lock()
		t.ch.closed = true
		t.ch.cond.Broadcast()
		t.ch.mu.Unlock()
	} else {
		close(t.ch.bounded)
	}
	facade.EmitEvent(registry.Event{Kind: registry.EventChannelClosed, Entity: t.handle.Entity.ID})
	t.handle = nil
}

var errClosed = context.Canceled

func (r *Rx[T]) Receive(ctx context.Context, facade registry.Facade, waiterID registry.ResourceID) (T, bool, error) {
	var zero T
	facade.EmitEvent(registry.Event{Kind: registry.EventChannelWaitStarted, Entity: r.handle.Entity.ID, Peer: waiterID})
	defer facade.EmitEvent(registry.Event{Kind: registry.EventChannelWaitEnded, Entity: r.handle.Entity.ID, Peer: waiterID})

	addWaiter(r.handle, waiterID)
	defer removeWaiter(r.handle, waiterID)

	if r.ch.unbound {
		r.ch.mu.Lock()
		for len(r.ch.queue) == 0 && !r.ch.closed {
			r.ch.cond.Wait()
		}
		if len(r.ch.queue) == 0 && r.ch.closed {
			r.ch.mu.Unlock()
			r.promoteClosed(facade)
			return zero, false, nil
		}
		v := r.ch.queue[0]
		r.ch.queue = r.ch.queue[1:]
		n := len(r.ch.queue)
		r.ch.mu.Unlock()
		r.ch.setOccupancy(n)
		facade.EmitEvent(registry.Event{Kind: registry.EventChannelReceived, Entity: r.handle.Entity.ID})
		return v, true, nil
	}

	select {
	case v, ok := <-r.ch.bounded:
		if !ok {
			r.promoteClosed(facade)
			return zero, false, nil
		}
		r.ch.setOccupancy(len(r.ch.bounded))
		facade.EmitEvent(registry.Event{Kind: registry.EventChannelReceived, Entity: r.handle.Entity.ID})
		return v, true, nil
	case <-ctx.Done():
		return zero, false, ctx.Err()
	}
}

func (r *Rx[T]) TryReceive(facade registry.Facade) (T, bool) {
	var zero T
	if r.ch.unbound {
		r.ch.mu.Lock()
		if len(r.ch.queue) == 0 {
			r.ch.mu.Unlock()
			return zero, false
		}
		v := r.ch.queue[0]
		r.ch.queue = r.ch.queue[1:]
		n := len(r.ch.queue)
		r.ch.mu.Unlock()
		r.ch.setOccupancy(n)
		facade.EmitEvent(registry.Event{Kind: registry.EventChannelReceived, Entity: r.handle.Entity.ID})
		return v, true
	}
	select {
	case v, ok := <-r.ch.bounded:
		if !ok {
			return zero, false
		}
		r.ch.setOccupancy(len(r.ch.bounded))
		facade.EmitEvent(registry.Event{Kind: registry.EventChannelReceived, Entity: r.handle.Entity.ID})
		return v, true
	default:
		return zero, false
	}
}

// promoteClosed lazily mirrors the tx side's closed lifecycle onto the rx
// entity the next time the rx side observes an event.
func (r *Rx[T]) promoteClosed(facade registry.Facade) {
	r.handle.WithLock(func(e *registry.Entity) {
		b := e.Body.(registry.ChannelBody)
		b.Lifecycle = registry.LifecycleClosed
		e.Body = b
	})
}

// Release drops the rx side's strong handle without affecting the transport;
// the tx side's Close is what actually closes the underlying channel.
func (r *Rx[T]) Release() { r.handle = nil }
