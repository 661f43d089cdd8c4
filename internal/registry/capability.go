package registry

// Facade is the capability boundary between user code and the registry: every
// instrumentation wrapper holds exactly one Facade, obtained once at
// construction from Init/Current, and calls through it for the lifetime of the
// wrapper. There are exactly two implementations -- *Registry (active) and
// noopFacade (disabled) -- selected once at Init; nothing on the hot path
// branches on a flag, the only indirection is the interface call itself, and
// the disabled arm is a zero-field struct whose methods never allocate.
type Facade interface {
	ProcKey() ProcKey
	Now() PTime

	RegisterFuture(name string, src Source) *Handle
	RegisterLock(name string, src Source) *Handle
	RegisterRWLock(name string, src Source) *Handle
	RegisterChannelTx(name, channelID string, kind ChannelKind, capacity int, src Source) *Handle
	RegisterChannelRx(name, channelID string, kind ChannelKind, capacity int, src Source) *Handle
	RegisterSemaphore(name string, maxPermits int, src Source) *Handle
	RegisterOnceCell(name string, src Source) *Handle
	RegisterRequest(name string, src Source) *Handle
	RegisterResponse(name string, src Source) *Handle
	RegisterConnection(name string, src Source) *Handle

	EmitEvent(Event)

	// Snapshot produces a consistent-enough view of the registry for the
	// graph emitter to turn into a Graph. The disabled facade returns the
	// zero Snapshot.
	Snapshot() Snapshot

	// ParkUnresolvedEdge records an edge the caller (the graph emitter) could
	// not resolve locally, keyed by its correlation id (span_id or channel_id).
	ParkUnresolvedEdge(correlationKey string, edge PendingEdge)
}

// PendingEdge is an edge the emitter could not resolve to a live local entity
// at emission time. It is parked, never dropped, under its correlation key so
// a later emission (or an external joiner) can resolve it.
type PendingEdge struct {
	Kind        string
	FromID      ResourceID // empty if the unresolved side is From
	ToID        ResourceID // empty if the unresolved side is To
	Correlation string
	ParkedAt    PTime
}

// Snapshot is the read-only view the graph emitter walks to build a Graph. It
// already excludes dead weak references: Registry.Snapshot upgrades every
// weak.Pointer and skips the ones that resolved to nil.
type Snapshot struct {
	ProcKey         ProcKey
	CutSeq          uint64
	Entities        []Entity
	Events          []Event
	DroppedEvents   uint64
	UnresolvedEdges map[string][]PendingEdge
}
