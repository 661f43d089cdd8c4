package peepsync

import (
	"runtime"
	"sync"

	"github.com/ocx/peeps/internal/registry"
)

// OnceCell is a lazily-initialized value wrapping sync.Once, with a state
// enum mirrored into its entity body. Steady-state reads (already-ready
// gets) emit no event.
type OnceCell[T any] struct {
	once   sync.Once
	value  T
	err    error
	handle *registry.Handle
}

func NewOnceCell[T any](facade registry.Facade, name string) *OnceCell[T] {
	_, file, line, _ := runtime.Caller(1)
	h := facade.RegisterOnceCell(name, registry.Source{File: file, Line: line})
	h.WithLock(func(e *registry.Entity) {
		e.Body = registry.OnceCellBody{State: registry.OnceCellUninitialized}
	})
	return &OnceCell[T]{handle: h}
}

// GetOrInit runs fn exactly once across all callers and returns its result on
// every call thereafter.
func (c *OnceCell[T]) GetOrInit(fn func() (T, error)) (T, error) {
	c.once.Do(func() {
		c.handle.WithLock(func(e *registry.Entity) {
			e.Body = registry.OnceCellBody{State: registry.OnceCellInitializing}
		})
		c.value, c.err = fn()
		c.handle.WithLock(func(e *registry.Entity) {
			e.Body = registry.OnceCellBody{State: registry.OnceCellReady}
		})
	})
	return c.value, c.err
}

func (c *OnceCell[T]) Close() {
	c.handle = nil
}
