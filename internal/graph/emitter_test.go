package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/peeps/internal/registry"
)

func src(line int) registry.Source {
	return registry.Source{File: "emitter_test.go", Line: line}
}

func TestChannelFullStallScenario(t *testing.T) {
	r := registry.New("worker", 100)

	tx := r.RegisterChannelTx("work", "chan-work-1", registry.ChannelMPSC, 16, src(1))
	rx := r.RegisterChannelRx("work", "chan-work-1", registry.ChannelMPSC, 16, src(2))
	tx.WithLock(func(e *registry.Entity) {
		b := e.Body.(registry.ChannelBody)
		b.Occupancy = 16
		e.Body = b
	})

	fut := r.RegisterFuture("sender", src(3))
	fut.WithLock(func(e *registry.Entity) {
		e.Body = registry.FutureBody{WaitReason: "channel send"}
	})
	tx.WithLock(func(e *registry.Entity) {
		b := e.Body.(registry.ChannelBody)
		b.Waiters = append(b.Waiters, fut.Entity.ID)
		e.Body = b
	})
	r.EmitEvent(registry.Event{Kind: registry.EventChannelWaitStarted, Entity: fut.Entity.ID, Peer: tx.Entity.ID})

	e := NewEmitter(r)
	g, err := e.EmitGraph()
	require.NoError(t, err)

	require.Len(t, g.Nodes, 3)
	require.Len(t, g.Edges, 2)

	var sawLink, sawNeeds bool
	for _, edge := range g.Edges {
		switch edge.Kind {
		case EdgeChannelLink:
			sawLink = true
			assert.Equal(t, tx.Entity.ID, edge.From)
			assert.Equal(t, rx.Entity.ID, edge.To)
		case EdgeNeeds:
			sawNeeds = true
			assert.Equal(t, fut.Entity.ID, edge.From)
			assert.Equal(t, tx.Entity.ID, edge.To)
		}
	}
	assert.True(t, sawLink, "expected a ChannelLink edge between tx and rx")
	assert.True(t, sawNeeds, "expected a Needs edge from the blocked sender future to the full channel_tx")

	require.Len(t, g.Events, 1)
	assert.Equal(t, registry.EventChannelWaitStarted, g.Events[0].Kind)
}

func TestLockOrderInversionScenario(t *testing.T) {
	r := registry.New("svc", 200)

	lockL := r.RegisterLock("L", src(10))
	lockR := r.RegisterLock("R", src(11))
	taskA := r.RegisterFuture("task-A", src(12))
	taskB := r.RegisterFuture("task-B", src(13))

	lockL.WithLock(func(e *registry.Entity) {
		e.Body = registry.LockBody{HolderID: taskA.Entity.ID, Waiters: []registry.ResourceID{taskB.Entity.ID}}
	})
	lockR.WithLock(func(e *registry.Entity) {
		e.Body = registry.LockBody{HolderID: taskB.Entity.ID, Waiters: []registry.ResourceID{taskA.Entity.ID}}
	})

	g, err := NewEmitter(r).EmitGraph()
	require.NoError(t, err)

	var holdsAL, holdsBR, needsAR, needsBL bool
	for _, edge := range g.Edges {
		switch {
		case edge.Kind == EdgeHolds && edge.From == taskA.Entity.ID && edge.To == lockL.Entity.ID:
			holdsAL = true
		case edge.Kind == EdgeHolds && edge.From == taskB.Entity.ID && edge.To == lockR.Entity.ID:
			holdsBR = true
		case edge.Kind == EdgeNeeds && edge.From == taskA.Entity.ID && edge.To == lockR.Entity.ID:
			needsAR = true
		case edge.Kind == EdgeNeeds && edge.From == taskB.Entity.ID && edge.To == lockL.Entity.ID:
			needsBL = true
		}
		assert.NotEqual(t, edge.From, edge.To, "no self-edges permitted")
	}
	assert.True(t, holdsAL && holdsBR && needsAR && needsBL)
}

func TestSemaphoreStarvationScenario(t *testing.T) {
	r := registry.New("svc", 300)

	sem := r.RegisterSemaphore("s", 1, src(20))
	waiter := r.RegisterFuture("waiter", src(21))
	sem.WithLock(func(e *registry.Entity) {
		e.Body = registry.SemaphoreBody{MaxPermits: 1, Available: 0, WaiterCount: 1, Waiters: []registry.ResourceID{waiter.Entity.ID}}
	})

	g, err := NewEmitter(r).EmitGraph()
	require.NoError(t, err)

	require.Len(t, g.Edges, 1)
	assert.Equal(t, EdgeNeeds, g.Edges[0].Kind)
	assert.Equal(t, waiter.Entity.ID, g.Edges[0].From)
	assert.Equal(t, sem.Entity.ID, g.Edges[0].To)

	body := sem.Snapshot().Body.(registry.SemaphoreBody)
	assert.Equal(t, 0, body.Available)
	assert.Equal(t, 1, body.WaiterCount)
}

func TestCrossProcessRequestParentParksUnresolved(t *testing.T) {
	r := registry.New("p2", 400)

	req := r.RegisterRequest("Handle", src(30))
	req.WithLock(func(e *registry.Entity) {
		e.Body = registry.RequestBody{
			Method:       "Handle",
			SpanID:       registry.SpanID("p2:1:7"),
			ParentSpanID: registry.SpanID("p1:1:7"),
		}
	})

	g, err := NewEmitter(r).EmitGraph()
	require.NoError(t, err)

	require.Len(t, g.Edges, 1)
	assert.Equal(t, EdgeRequestParent, g.Edges[0].Kind)
	assert.Equal(t, "p1:1:7", g.Edges[0].PeerKey)
	assert.Empty(t, g.Edges[0].From, "peer proc_key is never fabricated")

	require.Contains(t, g.UnresolvedEdges, "p1:1:7")
}

func TestRequestParentResolvesWithinProcess(t *testing.T) {
	r := registry.New("svc", 500)

	parent := r.RegisterRequest("Outer", src(40))
	parent.WithLock(func(e *registry.Entity) {
		e.Body = registry.RequestBody{SpanID: registry.SpanID("svc:1:1")}
	})
	child := r.RegisterRequest("Inner", src(41))
	child.WithLock(func(e *registry.Entity) {
		e.Body = registry.RequestBody{SpanID: registry.SpanID("svc:1:2"), ParentSpanID: registry.SpanID("svc:1:1")}
	})

	g, err := NewEmitter(r).EmitGraph()
	require.NoError(t, err)

	require.Len(t, g.Edges, 1)
	assert.Equal(t, parent.Entity.ID, g.Edges[0].From)
	assert.Equal(t, child.Entity.ID, g.Edges[0].To)
	assert.Empty(t, g.Edges[0].PeerKey)
}

func TestResponseLinksToRequestWithinProcess(t *testing.T) {
	r := registry.New("svc", 550)

	req := r.RegisterRequest("Handle", src(45))
	req.WithLock(func(e *registry.Entity) {
		e.Body = registry.RequestBody{Method: "Handle", SpanID: registry.SpanID("svc:1:9")}
	})
	resp := r.RegisterResponse("Handle", src(46))
	resp.WithLock(func(e *registry.Entity) {
		e.Body = registry.ResponseBody{Status: registry.ResponseOK, Method: "Handle", SpanID: registry.SpanID("svc:1:9")}
	})

	g, err := NewEmitter(r).EmitGraph()
	require.NoError(t, err)

	require.Len(t, g.Edges, 1)
	assert.Equal(t, EdgeAnswers, g.Edges[0].Kind)
	assert.Equal(t, resp.Entity.ID, g.Edges[0].From)
	assert.Equal(t, req.Entity.ID, g.Edges[0].To)
	assert.Empty(t, g.Edges[0].PeerKey)
}

func TestResponseLinksAcrossProcessParksUnresolved(t *testing.T) {
	r := registry.New("p2", 560)

	resp := r.RegisterResponse("Handle", src(47))
	resp.WithLock(func(e *registry.Entity) {
		e.Body = registry.ResponseBody{Status: registry.ResponseOK, Method: "Handle", SpanID: registry.SpanID("p1:1:7")}
	})

	g, err := NewEmitter(r).EmitGraph()
	require.NoError(t, err)

	require.Len(t, g.Edges, 1)
	assert.Equal(t, EdgeAnswers, g.Edges[0].Kind)
	assert.Equal(t, "p1:1:7", g.Edges[0].PeerKey)
	assert.Equal(t, resp.Entity.ID, g.Edges[0].From)
	assert.Empty(t, g.Edges[0].To, "peer proc_key is never fabricated")

	require.Contains(t, g.UnresolvedEdges, "p1:1:7")
}

func TestIdempotentEmissionModuloCutSeq(t *testing.T) {
	r := registry.New("svc", 600)
	r.RegisterLock("mu", src(50))

	e := NewEmitter(r)
	g1, err := e.EmitGraph()
	require.NoError(t, err)
	g2, err := e.EmitGraph()
	require.NoError(t, err)

	assert.Equal(t, len(g1.Nodes), len(g2.Nodes))
	assert.Equal(t, len(g1.Edges), len(g2.Edges))
	assert.NotEqual(t, g1.CutSeq, g2.CutSeq)
}

func TestEveryEntityCarriesRequiredIdentityFields(t *testing.T) {
	r := registry.New("svc", 700)
	r.RegisterOnceCell("init", src(60))

	g, err := NewEmitter(r).EmitGraph()
	require.NoError(t, err)
	require.Len(t, g.Nodes, 1)

	n := g.Nodes[0]
	assert.NotEmpty(t, n.ID)
	assert.False(t, n.Source.IsZero())
	assert.NotZero(t, n.Birth)
	assert.NotEmpty(t, n.ProcKey)
}
