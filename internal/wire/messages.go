package wire

import (
	"encoding/json"

	"github.com/ocx/peeps/internal/graph"
)

// Hello is sent by the instrumented process on connect.
type Hello struct {
	Version     uint16 `json:"version"`
	ProcessName string `json:"process_name"`
	ProcKey     string `json:"proc_key"`
	PID         uint64 `json:"pid"`
	StartTime   int64  `json:"start_time"`
}

// HelloAck is the collector's handshake response.
type HelloAck struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// Node is the wire shape of a registry.Entity: Body is carried as raw JSON
// since its Go type is a sealed interface the decoding side cannot
// reconstruct without knowing Kind first.
type Node struct {
	ID      string          `json:"id"`
	Kind    string          `json:"kind"`
	ProcKey string          `json:"proc_key"`
	Name    string          `json:"name"`
	Source  string          `json:"source"`
	Birth   int64           `json:"birth"`
	Body    json.RawMessage `json:"body"`
}

// Edge is the wire shape of a graph.Edge.
type Edge struct {
	From       string `json:"from,omitempty"`
	To         string `json:"to,omitempty"`
	Kind       string `json:"kind"`
	Confidence string `json:"confidence"`
	LastSeen   int64  `json:"last_seen"`
	PeerKey    string `json:"peer_key,omitempty"`
}

// Event is the wire shape of a registry.Event.
type Event struct {
	At     int64  `json:"at"`
	Kind   string `json:"kind"`
	Entity string `json:"entity"`
	Peer   string `json:"peer,omitempty"`
}

// GraphReply is one periodic emission, the dump file's top-level shape, and
// the debug server's /graph response body -- all three consume the same
// wire.GraphReply so they never drift apart.
type GraphReply struct {
	CutSeq          uint64              `json:"cut_seq"`
	ProcKey         string              `json:"proc_key"`
	Nodes           []Node              `json:"nodes"`
	Edges           []Edge              `json:"edges"`
	Events          []Event             `json:"events"`
	DroppedEvents   uint64              `json:"dropped_events"`
	DroppedSnaps    uint64              `json:"dropped_snapshots"`
	UnresolvedEdges map[string][]string `json:"unresolved_edges,omitempty"`
	ContentDigest   string              `json:"content_digest,omitempty"`
}

// FromGraph converts a graph.Graph into its wire representation.
func FromGraph(g graph.Graph) (GraphReply, error) {
	gr := GraphReply{
		CutSeq:        g.CutSeq,
		ProcKey:       string(g.ProcKey),
		DroppedEvents: g.DroppedEvents,
		DroppedSnaps:  g.DroppedSnaps,
	}

	for _, n := range g.Nodes {
		body, err := json.Marshal(n.Body)
		if err != nil {
			return GraphReply{}, err
		}
		gr.Nodes = append(gr.Nodes, Node{
			ID:      string(n.ID),
			Kind:    n.Kind.String(),
			ProcKey: string(n.ProcKey),
			Name:    n.Name,
			Source:  n.Source.String(),
			Birth:   int64(n.Birth),
			Body:    body,
		})
	}

	for _, e := range g.Edges {
		gr.Edges = append(gr.Edges, Edge{
			From:       string(e.From),
			To:         string(e.To),
			Kind:       e.Kind.String(),
			Confidence: e.Confidence.String(),
			LastSeen:   int64(e.LastSeen),
			PeerKey:    e.PeerKey,
		})
	}

	for _, ev := range g.Events {
		gr.Events = append(gr.Events, Event{
			At:     int64(ev.At),
			Kind:   ev.Kind.String(),
			Entity: string(ev.Entity),
			Peer:   string(ev.Peer),
		})
	}

	if len(g.UnresolvedEdges) > 0 {
		gr.UnresolvedEdges = make(map[string][]string, len(g.UnresolvedEdges))
		for key, pending := range g.UnresolvedEdges {
			kinds := make([]string, 0, len(pending))
			for _, p := range pending {
				kinds = append(kinds, p.Kind)
			}
			gr.UnresolvedEdges[key] = kinds
		}
	}

	return gr, nil
}
