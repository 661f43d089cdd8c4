package peepsync

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/ocx/peeps/internal/registry"
)

// Future wraps an async computation dispatched onto its own goroutine. It
// registers on first Poll/Await, not at construction, and tracks poll
// count and wait reason in its body.
type Future[T any] struct {
	fn     func(context.Context) (T, error)
	facade registry.Facade
	name   string

	once   sync.Once
	handle *registry.Handle
	polls  atomic.Uint64

	done chan struct{}
	val  T
	err  error
}

func WrapFuture[T any](facade registry.Facade, name string, fn func(context.Context) (T, error)) *Future[T] {
	return &Future[T]{facade: facade, name: name, fn: fn, done: make(chan struct{})}
}

func (f *Future[T]) register() {
	f.once.Do(func() {
		_, file, line, _ := runtime.Caller(2)
		f.handle = f.facade.RegisterFuture(f.name, registry.Source{File: file, Line: line})
		go func() {
			f.val, f.err = f.fn(context.Background())
			close(f.done)
		}()
	})
}

// Poll checks whether the future has completed without blocking, recording a
// FuturePolled event and bumping the poll count each call.
func (f *Future[T]) Poll() (T, error, bool) {
	f.register()
	n := f.polls.Add(1)
	f.handle.WithLock(func(e *registry.Entity) {
		b := e.Body.(registry.FutureBody)
		b.PollCount = n
		e.Body = b
	})
	f.facade.EmitEvent(registry.Event{Kind: registry.EventFuturePolled, Entity: f.handle.Entity.ID})

	select {
	case <-f.done:
		return f.val, f.err, true
	default:
		var zero T
		return zero, nil, false
	}
}

// Await blocks until the future resolves or ctx is cancelled, recording
// waitReason in the body's WaitReason while suspended and bracketing
// ChannelWaitStarted/Ended on this entity. WaitReason is a free-form string:
// the graph emitter derives no Needs edge from it.
func (f *Future[T]) Await(ctx context.Context, waitReason string) (T, error) {
	f.register()
	f.handle.WithLock(func(e *registry.Entity) {
		b := e.Body.(registry.FutureBody)
		b.WaitReason = waitReason
		e.Body = b
	})
	f.facade.EmitEvent(registry.Event{Kind: registry.EventChannelWaitStarted, Entity: f.handle.Entity.ID})
	defer f.facade.EmitEvent(registry.Event{Kind: registry.EventChannelWaitEnded, Entity: f.handle.Entity.ID})

	select {
	case <-f.done:
		f.handle.WithLock(func(e *registry.Entity) {
			b := e.Body.(registry.FutureBody)
			b.WaitReason = ""
			e.Body = b
		})
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (f *Future[T]) Close() {
	f.handle = nil
}
