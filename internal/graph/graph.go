// Package graph turns a registry snapshot into the canonical runtime graph:
// nodes, derived edges, and the events window since the last emission.
package graph

import "github.com/ocx/peeps/internal/registry"

// EdgeKind enumerates the directed relationships an emission can derive.
type EdgeKind uint8

const (
	EdgeNeeds EdgeKind = iota
	EdgeChannelLink
	EdgeClosedBy
	EdgeHolds
	EdgeHandles
	EdgeSpawnedBy
	EdgeWakesUp
	EdgeRequestParent
	EdgeAnswers
)

func (k EdgeKind) String() string {
	switch k {
	case EdgeNeeds:
		return "Needs"
	case EdgeChannelLink:
		return "ChannelLink"
	case EdgeClosedBy:
		return "ClosedBy"
	case EdgeHolds:
		return "Holds"
	case EdgeHandles:
		return "Handles"
	case EdgeSpawnedBy:
		return "SpawnedBy"
	case EdgeWakesUp:
		return "WakesUp"
	case EdgeRequestParent:
		return "RequestParent"
	case EdgeAnswers:
		return "Answers"
	default:
		return "unknown"
	}
}

// Confidence grades how an edge was derived.
type Confidence uint8

const (
	ConfidenceExplicit Confidence = iota
	ConfidenceDerived
	ConfidenceHeuristic
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceExplicit:
		return "explicit"
	case ConfidenceDerived:
		return "derived"
	case ConfidenceHeuristic:
		return "heuristic"
	default:
		return "unknown"
	}
}

// Edge is a directed, typed relationship between two entities. PeerKey is set
// instead of To/From resolving locally when the peer lives in another
// process: it carries the edge's span_id or channel_id verbatim, never a
// fabricated remote proc_key.
type Edge struct {
	From       registry.ResourceID
	To         registry.ResourceID
	Kind       EdgeKind
	Confidence Confidence
	LastSeen   registry.PTime
	PeerKey    string
}

// Graph is one point-in-time cut produced by EmitGraph.
type Graph struct {
	ProcKey         registry.ProcKey
	CutSeq          uint64
	Nodes           []registry.Entity
	Edges           []Edge
	Events          []registry.Event
	DroppedEvents   uint64
	DroppedSnaps    uint64
	UnresolvedEdges map[string][]registry.PendingEdge
}
