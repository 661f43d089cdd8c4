package peepsync

import (
	"context"
	"runtime"
	"sync"

	"github.com/google/uuid"

	"github.com/ocx/peeps/internal/registry"
)

// WatchTx/WatchRx wrap a single latest-value cell broadcast to any number of
// observers, the same shape as sync's watch-channel idiom: Send replaces the
// current value and wakes every waiter; Receive blocks until the value
// changes from what the caller last observed. Value changes themselves are
// not emitted as events -- only close and a blocking Receive's wait
// start/end are -- since diffing
// an arbitrary T would require serializing it, which a zero-cost
// instrumentation layer must not do on the hot path.
type watchCore[T any] struct {
	mu      sync.Mutex
	value   T
	version uint64
	closed  bool
	waiters []chan struct{}
}

type WatchTx[T any] struct {
	core      *watchCore[T]
	handle    *registry.Handle
	channelID string
}

type WatchRx[T any] struct {
	core      *watchCore[T]
	handle    *registry.Handle
	channelID string
	seen      uint64
}

// NewWatch builds a WatchTx/WatchRx pair sharing a freshly minted channel_id,
// initialized to initial.
func NewWatch[T any](facade registry.Facade, name string, initial T) (*WatchTx[T], *WatchRx[T]) {
	channelID := uuid.NewString()
	_, file, line, _ := runtime.Caller(1)
	src := registry.Source{File: file, Line: line}

	txHandle := facade.RegisterChannelTx(name, channelID, registry.ChannelWatch, 1, src)
	rxHandle := facade.RegisterChannelRx(name, channelID, registry.ChannelWatch, 1, src)

	core := &watchCore[T]{value: initial, version: 1}

	return &WatchTx[T]{core: core, handle: txHandle, channelID: channelID},
		&WatchRx[T]{core: core, handle: rxHandle, channelID: channelID, seen: 1}
}

// Send replaces the current value and wakes every blocked Receive. It emits
// no per-update event (see package doc) and does not touch the entities'
// Occupancy, which stays 0 for a watch channel.
func (t *WatchTx[T]) Send(v T) {
	t.core.mu.Lock()
	t.core.value = v
	t.core.version++
	waiters := t.core.waiters
	t.core.waiters = nil
	t.core.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}

// Close marks the channel closed and wakes every blocked Receive so they can
// observe it; the watch cell's last value remains readable.
func (t *WatchTx[T]) Close(facade registry.Facade) {
	t.handle.WithLock(func(e *registry.Entity) {
		b := e.Body.(registry.ChannelBody)
		b.Lifecycle = registry.LifecycleClosed
		b.ClosedBy = e.ID
		e.Body = b
	})

	t.core.mu.Lock()
	t.core.closed = true
	waiters := t.core.waiters
	t.core.waiters = nil
	t.core.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}

	facade.EmitEvent(registry.Event{Kind: registry.EventChannelClosed, Entity: t.handle.Entity.ID})
	t.handle = nil
}

// Latest returns the current value without blocking.
func (r *WatchRx[T]) Latest() T {
	r.core.mu.Lock()
	defer r.core.mu.Unlock()
	return r.core.value
}

// Receive blocks until the value changes from what this Rx last observed,
// or ctx is cancelled, or the channel closes with no newer value. Wait
// brackets are emitted the same as any other channel wrapper's wait.
func (r *WatchRx[T]) Receive(ctx context.Context, facade registry.Facade, waiterID registry.ResourceID) (T, bool, error) {
	r.core.mu.Lock()
	if r.core.version != r.seen || r.core.closed {
		v := r.core.value
		closed := r.core.closed && r.core.version == r.seen
		r.seen = r.core.version
		r.core.mu.Unlock()
		if closed {
			r.promoteClosed(facade)
			var zero T
			return zero, false, nil
		}
		return v, true, nil
	}
	wake := make(chan struct{})
	r.core.waiters = append(r.core.waiters, wake)
	r.core.mu.Unlock()

	facade.EmitEvent(registry.Event{Kind: registry.EventChannelWaitStarted, Entity: r.handle.Entity.ID, Peer: waiterID})
	defer facade.EmitEvent(registry.Event{Kind: registry.EventChannelWaitEnded, Entity: r.handle.Entity.ID, Peer: waiterID})

	select {
	case <-wake:
		r.core.mu.Lock()
		v := r.core.value
		closed := r.core.closed && r.core.version == r.seen
		r.seen = r.core.version
		r.core.mu.Unlock()
		if closed {
			r.promoteClosed(facade)
			var zero T
			return zero, false, nil
		}
		return v, true, nil
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	}
}

func (r *WatchRx[T]) promoteClosed(facade registry.Facade) {
	r.handle.WithLock(func(e *registry.Entity) {
		b := e.Body.(registry.ChannelBody)
		b.Lifecycle = registry.LifecycleClosed
		e.Body = b
	})
}

// Release drops the rx side's strong handle.
func (r *WatchRx[T]) Release() { r.handle = nil }
