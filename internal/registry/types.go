// Package registry is the process-wide diagnostics store: the single source of
// truth for every live instrumented resource, its wait/wake/lifecycle events,
// and the process identity the rest of Peeps hangs off of.
package registry

import (
	"fmt"
	"strings"
)

// PTime is a process-monotonic logical timestamp. It is never derived from wall
// clock time; only relative ordering within a process is meaningful.
type PTime int64

// ProcKey identifies a process for the lifetime of that process. It is
// established once by Init and never recomputed.
type ProcKey string

// ResourceID is the opaque, string-equal identity of a tracked entity:
// "<kind>:<proc_key>:<name>#<seq>".
type ResourceID string

// Kind discriminates the tagged union of entity bodies.
type Kind uint8

const (
	KindFuture Kind = iota
	KindLock
	KindRWLock
	KindChannelTx
	KindChannelRx
	KindSemaphore
	KindOnceCell
	KindRequest
	KindResponse
	KindConnection
)

func (k Kind) String() string {
	switch k {
	case KindFuture:
		return "future"
	case KindLock:
		return "lock"
	case KindRWLock:
		return "rwlock"
	case KindChannelTx:
		return "channel_tx"
	case KindChannelRx:
		return "channel_rx"
	case KindSemaphore:
		return "semaphore"
	case KindOnceCell:
		return "oncecell"
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindConnection:
		return "connection"
	default:
		return "unknown"
	}
}

// BuildResourceID composes the canonical id string for a kind-scoped name and
// sequence number within a process. Ids are opaque: callers must never parse
// them back apart, only compare for equality.
func BuildResourceID(kind Kind, proc ProcKey, name string, seq uint64) ResourceID {
	return ResourceID(fmt.Sprintf("%s:%s:%s#%d", kind, proc, name, seq))
}

// SpanID is the sole cross-process correlation key for request/response pairs:
// "pid:connection_id:request_id".
type SpanID string

// BuildSpanID composes a span id from its three components, verbatim as carried
// across RPC metadata.
func BuildSpanID(pid, connectionID, requestID string) SpanID {
	return SpanID(pid + ":" + connectionID + ":" + requestID)
}

// Source identifies where in user code an entity was constructed.
type Source struct {
	File string
	Line int
}

func (s Source) String() string {
	return fmt.Sprintf("%s:%d", s.File, s.Line)
}

func (s Source) IsZero() bool {
	return s.File == "" && s.Line == 0
}

// SanitizeProcessName strips characters that would break the "<name>-<pid>"
// proc_key contract (the separator and anything that could collide with the id
// grammar's own ':' and '#' delimiters).
func SanitizeProcessName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == ':' || r == '#' || r == '-':
			b.WriteRune('_')
		case r <= ' ':
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
