package registry

import (
	"sync"
	"weak"
)

// Handle is the strong reference a wrapper owns for the lifetime of the
// primitive it instruments. The registry's kind-maps hold only a weak.Pointer
// to the Handle (stdlib weak references, Go 1.24+) so that registering a
// resource never keeps it alive past the user's own ownership of the wrapper:
// when the wrapper is garbage collected (or explicitly Closed and released),
// the weak pointer resolves to the zero value and the next EmitGraph drops it.
//
// Mutating Entity.Body happens through the wrapper, guarded by the wrapper's
// own lock (mu here) -- never the registry's kind-map lock. This keeps the
// registry's critical sections (insert/lookup/iterate) independent of however
// long a wrapper holds its own lock while updating body state.
type Handle struct {
	mu     sync.Mutex
	Entity Entity
}

// WithLock runs fn with the handle's body lock held, for wrapper code updating
// Entity.Body fields.
func (h *Handle) WithLock(fn func(*Entity)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(&h.Entity)
}

// Snapshot copies the entity under the handle's lock, for the emitter.
func (h *Handle) Snapshot() Entity {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Entity
}

// weakSlot is what a kind-map stores: a weak pointer to the strong Handle the
// wrapper owns, plus the id for quick access without upgrading the pointer.
type weakSlot struct {
	id   ResourceID
	weak weak.Pointer[Handle]
}

func weakPointerOf(h *Handle) weak.Pointer[Handle] {
	return weak.Make(h)
}
