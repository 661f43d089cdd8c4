package registry

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	r := New("test-proc", 1)
	r.ring = newEventRing(8)
	return r
}

func TestRegisterFutureAppearsInSnapshot(t *testing.T) {
	r := newTestRegistry()
	h := r.RegisterFuture("fetch-user", Source{File: "handler.go", Line: 42})
	require.NotNil(t, h)

	snap := r.Snapshot()
	require.Len(t, snap.Entities, 1)
	assert.Equal(t, "fetch-user", snap.Entities[0].Name)
	assert.Equal(t, KindFuture, snap.Entities[0].Kind)

	runtime.KeepAlive(h)
}

func TestResourceIDsAreUniquePerKind(t *testing.T) {
	r := newTestRegistry()
	a := r.RegisterLock("mu", Source{File: "x.go", Line: 1})
	b := r.RegisterLock("mu", Source{File: "x.go", Line: 1})
	assert.NotEqual(t, a.Entity.ID, b.Entity.ID)
	runtime.KeepAlive(a)
	runtime.KeepAlive(b)
}

func TestWeakHandleDropsFromSnapshotOnceUnreferenced(t *testing.T) {
	r := newTestRegistry()
	func() {
		h := r.RegisterSemaphore("pool", 4, Source{File: "y.go", Line: 7})
		runtime.KeepAlive(h)
	}()

	runtime.GC()
	runtime.GC()

	snap := r.Snapshot()
	assert.Empty(t, snap.Entities)
}

func TestEmitEventRingDropsOldestWhenFull(t *testing.T) {
	r := newTestRegistry()
	for i := 0; i < 12; i++ {
		r.EmitEvent(Event{Kind: EventLockAcquired, Entity: ResourceID("x")})
	}
	events, dropped := r.ring.drain()
	assert.Len(t, events, 8)
	assert.Equal(t, uint64(4), dropped)
}

func TestEmitEventRingDrainDoesNotRepeatEvents(t *testing.T) {
	r := newTestRegistry()
	for i := 0; i < 3; i++ {
		r.EmitEvent(Event{Kind: EventLockAcquired, Entity: ResourceID("x")})
	}

	first, dropped := r.ring.drain()
	assert.Len(t, first, 3)
	assert.Zero(t, dropped)

	second, dropped := r.ring.drain()
	assert.Empty(t, second)
	assert.Zero(t, dropped)

	r.EmitEvent(Event{Kind: EventLockReleased, Entity: ResourceID("x")})
	third, _ := r.ring.drain()
	require.Len(t, third, 1)
	assert.Equal(t, EventLockReleased, third[0].Kind)
}

func TestParkUnresolvedEdgeGroupsByCorrelationKey(t *testing.T) {
	r := newTestRegistry()
	r.ParkUnresolvedEdge("span-1", PendingEdge{Kind: "RequestParent", FromID: "a"})
	r.ParkUnresolvedEdge("span-1", PendingEdge{Kind: "RequestParent", ToID: "b"})
	r.ParkUnresolvedEdge("span-2", PendingEdge{Kind: "ChannelLink", FromID: "c"})

	snap := r.Snapshot()
	require.Len(t, snap.UnresolvedEdges["span-1"], 2)
	require.Len(t, snap.UnresolvedEdges["span-2"], 1)
}

func TestRegisterPanicsOnEmptyName(t *testing.T) {
	r := newTestRegistry()
	assert.Panics(t, func() {
		r.RegisterLock("", Source{File: "z.go", Line: 1})
	})
}

func TestRegisterPanicsOnZeroSource(t *testing.T) {
	r := newTestRegistry()
	assert.Panics(t, func() {
		r.RegisterLock("mu", Source{})
	})
}

func TestNoopFacadeNeverPopulatesSnapshot(t *testing.T) {
	var f Facade = noopFacade{}
	h := f.RegisterFuture("f", Source{File: "a.go", Line: 1})
	require.NotNil(t, h)
	assert.Equal(t, Snapshot{}, f.Snapshot())
}
