// Package peeps is the code drop Peeps users import directly: construct
// once (Init), then call typed wrapper constructors for the primitives
// you want observed.
//
// Quick start:
//
//	func main() {
//	    if err := peeps.Init("order-service"); err != nil {
//	        log.Fatal(err)
//	    }
//	    peeps.InstallSignalDump("order-service")
//
//	    mu := peeps.NewMutex("inventory-lock")
//	    tx, rx := peeps.Channel[Order]("orders", 64)
//	    ...
//	}
package peeps

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/ocx/peeps/internal/debugsrv"
	"github.com/ocx/peeps/internal/dump"
	"github.com/ocx/peeps/internal/graph"
	"github.com/ocx/peeps/internal/peepsconfig"
	"github.com/ocx/peeps/internal/peepsmetrics"
	"github.com/ocx/peeps/internal/peepsync"
	"github.com/ocx/peeps/internal/pushclient"
	"github.com/ocx/peeps/internal/registry"
)

var (
	initOnce sync.Once

	mu        sync.RWMutex
	facade    registry.Facade
	emitter   *graph.Emitter
	push      *pushclient.Client
	dumpMaint *dump.Writer
	cancelBG  context.CancelFunc
)

// Init establishes process identity and, if PEEPS_DASHBOARD is set, starts
// the background push client. It is safe to call more than once with the
// same processName (idempotent); a different processName on a later call is
// an invariant violation and panics, per registry.Init's re-init contract.
func Init(processName string) error {
	var err error
	initOnce.Do(func() {
		err = doInit(processName)
	})
	if err != nil {
		return err
	}
	// Later calls skip doInit; registry.Init still compares processName
	// against the first call and panics on a mismatch.
	_, err = registry.Init(processName)
	return err
}

// InitNamed is an alias for Init: Peeps only ever has one process identity
// per process, so there is no distinct "named" variant in this Go binding
// beyond the argument Init already takes. It exists to match the
// language-neutral programmatic surface Peeps exposes across bindings.
func InitNamed(processName string) error {
	return Init(processName)
}

func doInit(processName string) error {
	cfg := peepsconfig.Get()

	f, err := registry.Init(processName)
	if err != nil {
		return fmt.Errorf("peeps: init: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	mu.Lock()
	facade = f
	emitter = graph.NewEmitter(f)
	cancelBG = cancel
	mu.Unlock()

	metrics := peepsmetrics.NewMetrics()
	go maintain(ctx, f, metrics)

	if cfg.DashboardAddr != "" {
		opts := []pushclient.Option{pushclient.WithPushInterval(cfg.PushInterval)}
		if cfg.SpiffeSocket != "" {
			opts = append(opts, pushclient.WithSpiffeSocket(cfg.SpiffeSocket))
		}
		client := pushclient.New(f, processName, cfg.DashboardAddr, opts...)
		mu.Lock()
		push = client
		mu.Unlock()
		go client.Run(ctx)
	}

	if cfg.DebugHTTPAddr != "" {
		srv := debugsrv.NewServer(cfg.DebugHTTPAddr, graph.NewEmitter(f), currentPushState)
		go func() {
			if err := srv.Run(ctx); err != nil {
				slog.Default().Error("peeps: debugsrv exited", "err", err)
			}
		}()
	}

	return nil
}

// currentPushState reports the push client's reconnect state, or
// StateIdle when no dashboard is configured.
func currentPushState() pushclient.State {
	mu.RLock()
	defer mu.RUnlock()
	if push == nil {
		return pushclient.StateIdle
	}
	return push.State()
}

// maintain is the one dedicated background goroutine Init always starts: it
// periodically observes the registry for peepsmetrics, and polls the dump
// writer's pending-dump flag so SIGUSR1 works even with no dashboard
// configured: the actual write happens on this goroutine rather than the
// signal handler itself, keeping the handler async-signal-safe, and this
// goroutine plays that role even when no push client is running.
func maintain(ctx context.Context, f registry.Facade, metrics *peepsmetrics.Metrics) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := f.Snapshot()
			metrics.Observe(snap)
			metrics.ObservePushState(currentPushState())

			mu.RLock()
			client := push
			mu.RUnlock()
			if client != nil {
				metrics.ObserveDroppedSnapshot(client.DroppedSnapshots())
			}

			mu.RLock()
			w := dumpMaint
			mu.RUnlock()
			if w != nil && w.Poll() {
				g, err := emitterSnapshot().EmitGraph()
				if err != nil {
					slog.Default().Error("peeps: dump emit_graph failed", "err", err)
					continue
				}
				if err := dump.WriteGraph(os.Getpid(), g); err != nil {
					slog.Default().Error("peeps: dump write failed", "err", err)
				}
			}
		}
	}
}

func emitterSnapshot() *graph.Emitter {
	mu.RLock()
	defer mu.RUnlock()
	return emitter
}

// InstallSignalDump arms the SIGUSR1 handler: on receipt, the next tick of
// Init's background goroutine writes the latest graph to
// /tmp/peeps-dumps/{pid}.json. processName is accepted to match the
// language-neutral programmatic surface; Peeps's process identity is
// already fixed by Init.
func InstallSignalDump(processName string) {
	_ = processName
	w := dump.NewWriter(os.Getpid())
	w.Install()
	mu.Lock()
	dumpMaint = w
	mu.Unlock()
}

func currentFacade() registry.Facade {
	mu.RLock()
	defer mu.RUnlock()
	if facade == nil {
		panic("peeps: wrapper constructor called before peeps.Init")
	}
	return facade
}

// NewMutex returns an instrumented drop-in for sync.Mutex.
func NewMutex(name string) *peepsync.Mutex {
	return peepsync.NewMutex(currentFacade(), name)
}

// NewRWMutex returns an instrumented drop-in for sync.RWMutex.
func NewRWMutex(name string) *peepsync.RWMutex {
	return peepsync.NewRWMutex(currentFacade(), name)
}

// Channel returns an instrumented bounded (capacity > 0) or unbounded
// (capacity == 0) channel pair.
func Channel[T any](name string, capacity int) (*peepsync.Tx[T], *peepsync.Rx[T]) {
	kind := registry.ChannelMPSC
	if capacity <= 0 {
		kind = registry.ChannelUnbounded
	}
	return peepsync.NewChan[T](currentFacade(), name, capacity, kind)
}

// Oneshot returns an instrumented single-value channel pair.
func Oneshot[T any](name string) (*peepsync.Tx[T], *peepsync.Rx[T]) {
	return peepsync.NewOneshot[T](currentFacade(), name)
}

// Watch returns an instrumented latest-value broadcast cell, seeded with
// initial.
func Watch[T any](initial T, name string) (*peepsync.WatchTx[T], *peepsync.WatchRx[T]) {
	return peepsync.NewWatch[T](currentFacade(), name, initial)
}

// NewSemaphore returns an instrumented counting semaphore with the given
// permit count.
func NewSemaphore(permits int, name string) *peepsync.Semaphore {
	return peepsync.NewSemaphore(currentFacade(), name, permits)
}

// NewOnceCell returns an instrumented lazily-initialized cell.
func NewOnceCell[T any](name string) *peepsync.OnceCell[T] {
	return peepsync.NewOnceCell[T](currentFacade(), name)
}

// WrapFuture wraps fn as an instrumented future dispatched onto its own
// goroutine.
func WrapFuture[T any](name string, fn func(context.Context) (T, error)) *peepsync.Future[T] {
	return peepsync.WrapFuture[T](currentFacade(), name, fn)
}

// Shutdown cancels Peeps's background goroutines (push client, debug
// server, maintenance loop). It does not reset Init's once-guard: a process
// that calls Shutdown is expected to be exiting, not re-initializing.
func Shutdown() {
	mu.RLock()
	cancel := cancelBG
	mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}
