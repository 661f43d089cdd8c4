package graph

import (
	"fmt"
	"sort"

	"github.com/ocx/peeps/internal/registry"
)

// Emitter walks a registry.Facade's snapshot and derives a Graph from it. It
// holds no state of its own between calls beyond the facade reference: every
// emission starts from a fresh Snapshot.
type Emitter struct {
	facade       registry.Facade
	droppedSnaps uint64
}

func NewEmitter(f registry.Facade) *Emitter {
	return &Emitter{facade: f}
}

// IncDroppedSnapshot records a push-client snapshot drop so the next
// GraphReply can surface it.
func (e *Emitter) IncDroppedSnapshot() {
	e.droppedSnaps++
}

// DroppedSnapshots reports the running total of dropped snapshots, for
// introspection surfaces (peepsmetrics, debugsrv) that want it without
// waiting for the next GraphReply.
func (e *Emitter) DroppedSnapshots() uint64 {
	return e.droppedSnaps
}

// EmitGraph implements the 5-step algorithm: snapshot identity, collect live
// entities, derive edges, resolve cross-process peers, drain the events
// window. Entities are sorted by id and step 3's sub-steps run in a fixed
// order, so two emissions with no intervening events produce identical node
// and edge slices.
func (e *Emitter) EmitGraph() (Graph, error) {
	snap := e.facade.Snapshot()
	sort.Slice(snap.Entities, func(i, j int) bool { return snap.Entities[i].ID < snap.Entities[j].ID })

	byID := make(map[registry.ResourceID]registry.Entity, len(snap.Entities))
	for _, ent := range snap.Entities {
		byID[ent.ID] = ent
	}

	var edges []Edge

	edges = append(edges, deriveChannelLinks(snap.Entities)...)
	edges = append(edges, deriveHoldsAndNeeds(snap.Entities)...)
	edges = append(edges, deriveHandles(snap.Entities)...)

	reqParentEdges, parkedParents := deriveRequestParents(snap.Entities)
	edges = append(edges, reqParentEdges...)

	respEdges, parkedResponses := deriveResponseLinks(snap.Entities)
	edges = append(edges, respEdges...)

	// The snapshot copied the unresolved table before this emission parked
	// anything, so this emission's own parked edges are added to the copy.
	unresolved := snap.UnresolvedEdges
	if unresolved == nil {
		unresolved = make(map[string][]registry.PendingEdge)
	}
	for key, pend := range parkedParents {
		e.facade.ParkUnresolvedEdge(key, pend)
		unresolved[key] = append(unresolved[key], pend)
	}
	for key, pend := range parkedResponses {
		e.facade.ParkUnresolvedEdge(key, pend)
		unresolved[key] = append(unresolved[key], pend)
	}

	for _, edge := range edges {
		if edge.PeerKey == "" {
			if edge.From != "" {
				if _, ok := byID[edge.From]; !ok {
					return Graph{}, fmt.Errorf("peeps: unresolved intra-process edge %s from %q", edge.Kind, edge.From)
				}
			}
			if edge.To != "" {
				if _, ok := byID[edge.To]; !ok {
					return Graph{}, fmt.Errorf("peeps: unresolved intra-process edge %s to %q", edge.Kind, edge.To)
				}
			}
		}
		if edge.From == edge.To && edge.From != "" {
			return Graph{}, fmt.Errorf("peeps: self-edge %s(%s,%s) is forbidden", edge.Kind, edge.From, edge.To)
		}
	}

	return Graph{
		ProcKey:         snap.ProcKey,
		CutSeq:          snap.CutSeq,
		Nodes:           snap.Entities,
		Edges:           edges,
		Events:          snap.Events,
		DroppedEvents:   snap.DroppedEvents,
		DroppedSnaps:    e.droppedSnaps,
		UnresolvedEdges: unresolved,
	}, nil
}

// deriveChannelLinks pairs channel_tx/channel_rx entities sharing a
// channel_id: exactly one ChannelLink edge per pair that is live in
// this process. An endpoint with no live local peer produces no edge and
// nothing is parked for it; channel links are never resolved across
// processes.
func deriveChannelLinks(entities []registry.Entity) []Edge {
	var txs, rxs []registry.Entity
	for _, ent := range entities {
		switch ent.Kind {
		case registry.KindChannelTx:
			txs = append(txs, ent)
		case registry.KindChannelRx:
			rxs = append(rxs, ent)
		}
	}

	var edges []Edge
	for _, tx := range txs {
		txBody, ok := tx.Body.(registry.ChannelBody)
		if !ok {
			continue
		}
		for _, rx := range rxs {
			rxBody, ok := rx.Body.(registry.ChannelBody)
			if !ok || rxBody.ChannelID != txBody.ChannelID {
				continue
			}
			edges = append(edges, Edge{
				From:       tx.ID,
				To:         rx.ID,
				Kind:       EdgeChannelLink,
				Confidence: ConfidenceExplicit,
				LastSeen:   tx.Birth,
			})
			if txBody.Lifecycle == registry.LifecycleClosed {
				edges = append(edges, Edge{
					From:       rx.ID,
					To:         txBody.ClosedBy,
					Kind:       EdgeClosedBy,
					Confidence: ConfidenceDerived,
					LastSeen:   tx.Birth,
				})
			}
		}
	}
	return edges
}

// deriveHoldsAndNeeds reads lock, rwlock, semaphore and channel endpoint body
// state directly: a lock/rwlock holder produces Holds, and any recorded
// waiter -- blocked acquiring a lock or semaphore permit, or blocked sending
// or receiving on a channel endpoint -- produces Needs. Channel endpoints
// never produce Holds: a full or empty channel has no single holder, only
// waiters.
func deriveHoldsAndNeeds(entities []registry.Entity) []Edge {
	var edges []Edge
	for _, ent := range entities {
		switch body := ent.Body.(type) {
		case registry.LockBody:
			if body.HolderID != "" {
				edges = append(edges, Edge{From: body.HolderID, To: ent.ID, Kind: EdgeHolds, Confidence: ConfidenceExplicit, LastSeen: ent.Birth})
			}
			for _, holder := range body.ReadHolders {
				edges = append(edges, Edge{From: holder, To: ent.ID, Kind: EdgeHolds, Confidence: ConfidenceExplicit, LastSeen: ent.Birth})
			}
			for _, waiter := range body.Waiters {
				edges = append(edges, Edge{From: waiter, To: ent.ID, Kind: EdgeNeeds, Confidence: ConfidenceExplicit, LastSeen: ent.Birth})
			}
		case registry.SemaphoreBody:
			for _, waiter := range body.Waiters {
				edges = append(edges, Edge{From: waiter, To: ent.ID, Kind: EdgeNeeds, Confidence: ConfidenceExplicit, LastSeen: ent.Birth})
			}
		case registry.ChannelBody:
			for _, waiter := range body.Waiters {
				edges = append(edges, Edge{From: waiter, To: ent.ID, Kind: EdgeNeeds, Confidence: ConfidenceExplicit, LastSeen: ent.Birth})
			}
		}
	}
	return edges
}

// deriveHandles emits Handles(server_task, request) from each request's
// ServerTaskID, once it has been bound by the RPC server interceptor.
func deriveHandles(entities []registry.Entity) []Edge {
	var edges []Edge
	for _, ent := range entities {
		body, ok := ent.Body.(registry.RequestBody)
		if !ok || body.ServerTaskID == "" {
			continue
		}
		edges = append(edges, Edge{
			From:       body.ServerTaskID,
			To:         ent.ID,
			Kind:       EdgeHandles,
			Confidence: ConfidenceDerived,
			LastSeen:   ent.Birth,
		})
	}
	return edges
}

// deriveRequestParents resolves each request's parent_span_id to a request
// entity sharing that span_id within this process. Unresolved parents are
// parked by correlation key (parent_span_id) rather than dropped.
func deriveRequestParents(entities []registry.Entity) ([]Edge, map[string]registry.PendingEdge) {
	bySpan := make(map[registry.SpanID]registry.ResourceID, len(entities))
	for _, ent := range entities {
		if body, ok := ent.Body.(registry.RequestBody); ok && body.SpanID != "" {
			bySpan[body.SpanID] = ent.ID
		}
	}

	var edges []Edge
	parked := make(map[string]registry.PendingEdge)

	for _, ent := range entities {
		body, ok := ent.Body.(registry.RequestBody)
		if !ok || body.ParentSpanID == "" {
			continue
		}
		if parentID, found := bySpan[body.ParentSpanID]; found {
			edges = append(edges, Edge{
				From:       parentID,
				To:         ent.ID,
				Kind:       EdgeRequestParent,
				Confidence: ConfidenceDerived,
				LastSeen:   ent.Birth,
			})
			continue
		}
		key := string(body.ParentSpanID)
		parked[key] = registry.PendingEdge{
			Kind:        EdgeRequestParent.String(),
			ToID:        ent.ID,
			Correlation: key,
			ParkedAt:    ent.Birth,
		}
		edges = append(edges, Edge{
			To:         ent.ID,
			Kind:       EdgeRequestParent,
			Confidence: ConfidenceDerived,
			LastSeen:   ent.Birth,
			PeerKey:    key,
		})
	}

	return edges, parked
}

// deriveResponseLinks resolves each response's span_id to the request entity
// sharing that span_id within this process: exactly one Answers edge per
// resolvable pair. A response whose request lives in another process is
// parked by correlation key (span_id) rather than dropped, the same
// treatment deriveRequestParents gives an unresolved parent.
func deriveResponseLinks(entities []registry.Entity) ([]Edge, map[string]registry.PendingEdge) {
	bySpan := make(map[registry.SpanID]registry.ResourceID, len(entities))
	for _, ent := range entities {
		if body, ok := ent.Body.(registry.RequestBody); ok && body.SpanID != "" {
			bySpan[body.SpanID] = ent.ID
		}
	}

	var edges []Edge
	parked := make(map[string]registry.PendingEdge)

	for _, ent := range entities {
		body, ok := ent.Body.(registry.ResponseBody)
		if !ok || body.SpanID == "" {
			continue
		}
		if reqID, found := bySpan[body.SpanID]; found {
			edges = append(edges, Edge{
				From:       ent.ID,
				To:         reqID,
				Kind:       EdgeAnswers,
				Confidence: ConfidenceExplicit,
				LastSeen:   ent.Birth,
			})
			continue
		}
		key := string(body.SpanID)
		parked[key] = registry.PendingEdge{
			Kind:        EdgeAnswers.String(),
			FromID:      ent.ID,
			Correlation: key,
			ParkedAt:    ent.Birth,
		}
		edges = append(edges, Edge{
			From:       ent.ID,
			Kind:       EdgeAnswers,
			Confidence: ConfidenceDerived,
			LastSeen:   ent.Birth,
			PeerKey:    key,
		})
	}

	return edges, parked
}
