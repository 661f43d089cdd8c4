package registry

import (
	"os"
	"strconv"
	"sync"
	"sync/atomic"
)

// lifecycle states of the process-wide singleton.
const (
	stateUninitialized int32 = iota
	stateRunning
	stateTornDown
)

// Registry is the process-wide singleton store of weak handles, grouped one
// map per kind so that contention on, say, channel registration never blocks a
// lock acquisition on an unrelated kind ("each kind-map is guarded
// independently").
type Registry struct {
	procKey     ProcKey
	processName string
	pid         int

	clock atomic.Int64 // PTime source; incremented on every EmitEvent/Register

	kinds [10]kindMap // indexed by Kind

	ring *eventRing

	unresolvedMu sync.Mutex
	unresolved   map[string][]PendingEdge

	cutSeq atomic.Uint64

	state atomic.Int32
}

// kindMap is one per-Kind mapping from id to weak handle, plus its own
// sequence counter and its own lock -- never shared with another kind.
type kindMap struct {
	mu   sync.RWMutex
	seq  atomic.Uint64
	live map[ResourceID]weakSlot
}

func newKindMap() kindMap {
	return kindMap{live: make(map[ResourceID]weakSlot)}
}

// New constructs a standalone *Registry, independent of the process-wide
// singleton. Tests and packages that need a private registry (rather than the
// one behind Init/Current) use this directly.
func New(processName string, pid int) *Registry {
	r := &Registry{
		processName: processName,
		pid:         pid,
		procKey:     ProcKey(SanitizeProcessName(processName) + "-" + strconv.Itoa(pid)),
		ring:        newEventRing(4096),
		unresolved:  make(map[string][]PendingEdge),
	}
	for i := range r.kinds {
		r.kinds[i] = newKindMap()
	}
	r.state.Store(stateRunning)
	return r
}

var (
	initOnce sync.Once
	current  Facade
	initErr  error
	initArgs struct {
		processName string
		pid         int
	}
)

// Init establishes process identity exactly once. Re-initializing with the
// same process name is idempotent; re-initializing with a different one is an
// invariant violation (id stability depends on proc_key never changing
// mid-process) and panics. PEEPS_DISABLE=1 selects the no-op Facade, giving
// every register_*/emit_event call on the hot path a single interface
// indirection with zero allocation, never a branch on a global flag.
func Init(processName string) (Facade, error) {
	pid := os.Getpid()
	disabled, _ := strconv.ParseBool(os.Getenv("PEEPS_DISABLE"))

	initOnce.Do(func() {
		initArgs.processName = processName
		initArgs.pid = pid

		if disabled {
			current = noopFacade{}
			return
		}

		current = New(processName, pid)
	})

	if initArgs.processName != processName || initArgs.pid != pid {
		panic(invariant("reinit-mismatch", "", "Init called with processName=%q pid=%d after prior Init(%q) pid=%d",
			processName, pid, initArgs.processName, initArgs.pid))
	}

	return current, initErr
}

// Current returns the facade selected by the first call to Init. It panics if
// Init has not run -- every wrapper constructor requires registration to have
// somewhere to register against.
func Current() Facade {
	if current == nil {
		panic(invariant("uninitialized", "", "registry.Current called before Init"))
	}
	return current
}

func (r *Registry) ProcKey() ProcKey { return r.procKey }

func (r *Registry) Now() PTime {
	return PTime(r.clock.Add(1))
}

func (r *Registry) register(kind Kind, name string, src Source, body EntityBody) *Handle {
	if name == "" {
		panic(invariant("missing-identity", "", "%s registered with empty name", kind))
	}
	if src.IsZero() {
		panic(invariant("missing-identity", "", "%s %q registered with empty source", kind, name))
	}

	km := &r.kinds[kind]
	seq := km.seq.Add(1)
	id := BuildResourceID(kind, r.procKey, name, seq)

	h := &Handle{Entity: Entity{
		ID:      id,
		Kind:    kind,
		ProcKey: r.procKey,
		Name:    name,
		Source:  src,
		Birth:   r.Now(),
		Body:    body,
	}}

	km.mu.Lock()
	km.live[id] = weakSlot{id: id, weak: weakPointerOf(h)}
	km.mu.Unlock()

	return h
}

func (r *Registry) RegisterFuture(name string, src Source) *Handle {
	return r.register(KindFuture, name, src, FutureBody{})
}

func (r *Registry) RegisterLock(name string, src Source) *Handle {
	return r.register(KindLock, name, src, LockBody{})
}

func (r *Registry) RegisterRWLock(name string, src Source) *Handle {
	return r.register(KindRWLock, name, src, LockBody{})
}

func (r *Registry) RegisterChannelTx(name, channelID string, kind ChannelKind, capacity int, src Source) *Handle {
	return r.register(KindChannelTx, name, src, ChannelBody{ChannelID: channelID, Kind: kind, Capacity: capacity})
}

func (r *Registry) RegisterChannelRx(name, channelID string, kind ChannelKind, capacity int, src Source) *Handle {
	return r.register(KindChannelRx, name, src, ChannelBody{ChannelID: channelID, Kind: kind, Capacity: capacity})
}

func (r *Registry) RegisterSemaphore(name string, maxPermits int, src Source) *Handle {
	return r.register(KindSemaphore, name, src, SemaphoreBody{MaxPermits: maxPermits, Available: maxPermits})
}

func (r *Registry) RegisterOnceCell(name string, src Source) *Handle {
	return r.register(KindOnceCell, name, src, OnceCellBody{})
}

func (r *Registry) RegisterRequest(name string, src Source) *Handle {
	return r.register(KindRequest, name, src, RequestBody{})
}

func (r *Registry) RegisterResponse(name string, src Source) *Handle {
	return r.register(KindResponse, name, src, ResponseBody{})
}

func (r *Registry) RegisterConnection(name string, src Source) *Handle {
	return r.register(KindConnection, name, src, ConnectionBody{})
}

// EmitEvent appends to the ring in O(1) under a short-held lock; it never
// blocks on anything but that lock.
func (r *Registry) EmitEvent(e Event) {
	if e.At == 0 {
		e.At = r.Now()
	}
	r.ring.append(e)
}

func (r *Registry) ParkUnresolvedEdge(correlationKey string, edge PendingEdge) {
	r.unresolvedMu.Lock()
	defer r.unresolvedMu.Unlock()
	r.unresolved[correlationKey] = append(r.unresolved[correlationKey], edge)
}

// Snapshot acquires each kind-map briefly in a fixed order (kind index order),
// upgrading weak pointers and dropping dead ones. Entities created between two
// kind-map reads simply appear in the next snapshot -- this is the
// "consistent-enough" view, not a global stop-the-world cut.
func (r *Registry) Snapshot() Snapshot {
	var entities []Entity
	for k := range r.kinds {
		km := &r.kinds[k]
		km.mu.RLock()
		for id, slot := range km.live {
			if h := slot.weak.Value(); h != nil {
				entities = append(entities, h.Snapshot())
			} else {
				// Dead weak reference: the wrapper was released. Lazily pruned
				// on the next write-locked pass (see pruneDead below) rather than
				// here, since Snapshot only holds a read lock.
				_ = id
			}
		}
		km.mu.RUnlock()
	}
	go r.pruneDead()

	events, dropped := r.ring.drain()

	r.unresolvedMu.Lock()
	unresolved := make(map[string][]PendingEdge, len(r.unresolved))
	for k, v := range r.unresolved {
		cp := make([]PendingEdge, len(v))
		copy(cp, v)
		unresolved[k] = cp
	}
	r.unresolvedMu.Unlock()

	return Snapshot{
		ProcKey:         r.procKey,
		CutSeq:          r.cutSeq.Add(1),
		Entities:        entities,
		Events:          events,
		DroppedEvents:   dropped,
		UnresolvedEdges: unresolved,
	}
}

// pruneDead removes map entries whose weak pointer has resolved to nil. It
// runs off the snapshot's critical path (fire-and-forget from Snapshot) so
// read-heavy EmitGraph calls never pay write-lock cost themselves.
func (r *Registry) pruneDead() {
	for k := range r.kinds {
		km := &r.kinds[k]
		km.mu.Lock()
		for id, slot := range km.live {
			if slot.weak.Value() == nil {
				delete(km.live, id)
			}
		}
		km.mu.Unlock()
	}
}
