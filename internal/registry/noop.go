package registry

// noopFacade is the Facade selected when PEEPS_DISABLE=1. Every method is a
// zero-allocation no-op: Register* returns one of a handful of package-level
// sentinel Handles (one per kind, so a wrapper's Body.(KindBody) type
// assertion never panics) rather than boxing a fresh *Handle/EntityBody on
// every call. Wrapper code never needs a nil check on the hot path; the
// sentinel is simply never inserted into any registry map and never
// reachable from a Snapshot.
type noopFacade struct{}

func (noopFacade) ProcKey() ProcKey { return "" }
func (noopFacade) Now() PTime       { return 0 }

var (
	noopFutureHandle     = &Handle{Entity: Entity{Kind: KindFuture, Body: FutureBody{}}}
	noopLockHandle       = &Handle{Entity: Entity{Kind: KindLock, Body: LockBody{}}}
	noopRWLockHandle     = &Handle{Entity: Entity{Kind: KindRWLock, Body: LockBody{}}}
	noopChannelTxHandle  = &Handle{Entity: Entity{Kind: KindChannelTx, Body: ChannelBody{}}}
	noopChannelRxHandle  = &Handle{Entity: Entity{Kind: KindChannelRx, Body: ChannelBody{}}}
	noopSemaphoreHandle  = &Handle{Entity: Entity{Kind: KindSemaphore, Body: SemaphoreBody{}}}
	noopOnceCellHandle   = &Handle{Entity: Entity{Kind: KindOnceCell, Body: OnceCellBody{}}}
	noopRequestHandle    = &Handle{Entity: Entity{Kind: KindRequest, Body: RequestBody{}}}
	noopResponseHandle   = &Handle{Entity: Entity{Kind: KindResponse, Body: ResponseBody{}}}
	noopConnectionHandle = &Handle{Entity: Entity{Kind: KindConnection, Body: ConnectionBody{}}}
)

func (noopFacade) RegisterFuture(name string, src Source) *Handle {
	return noopFutureHandle
}

func (noopFacade) RegisterLock(name string, src Source) *Handle {
	return noopLockHandle
}

func (noopFacade) RegisterRWLock(name string, src Source) *Handle {
	return noopRWLockHandle
}

func (noopFacade) RegisterChannelTx(name, channelID string, kind ChannelKind, capacity int, src Source) *Handle {
	return noopChannelTxHandle
}

func (noopFacade) RegisterChannelRx(name, channelID string, kind ChannelKind, capacity int, src Source) *Handle {
	return noopChannelRxHandle
}

func (noopFacade) RegisterSemaphore(name string, maxPermits int, src Source) *Handle {
	return noopSemaphoreHandle
}

func (noopFacade) RegisterOnceCell(name string, src Source) *Handle {
	return noopOnceCellHandle
}

func (noopFacade) RegisterRequest(name string, src Source) *Handle {
	return noopRequestHandle
}

func (noopFacade) RegisterResponse(name string, src Source) *Handle {
	return noopResponseHandle
}

func (noopFacade) RegisterConnection(name string, src Source) *Handle {
	return noopConnectionHandle
}

func (noopFacade) EmitEvent(Event) {}

func (noopFacade) Snapshot() Snapshot { return Snapshot{} }

func (noopFacade) ParkUnresolvedEdge(string, PendingEdge) {}
