// Command peepsdemo instruments a small producer/consumer pipeline with
// Peeps: a bounded channel, a shared mutex-protected counter, and a
// semaphore limiting concurrent "work". Run it with PEEPS_DEBUG_HTTP=:9191
// set to inspect the live graph at http://localhost:9191/graph while it
// runs. It exists purely to exercise the instrumentation manually, not as
// a production binary.
package main

import (
	"context"
	"log"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ocx/peeps"
	"github.com/ocx/peeps/internal/peepsync"
	"github.com/ocx/peeps/internal/registry"
)

const (
	numProducers     = 3
	numConsumers     = 2
	itemsPerProducer = 7
	maxInFlight      = 4
)

type order struct {
	id       int
	producer int
}

func main() {
	if err := peeps.Init("peepsdemo"); err != nil {
		log.Fatalf("peeps init: %v", err)
	}
	peeps.InstallSignalDump("peepsdemo")
	defer peeps.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	facade := registry.Current()

	tx, rx := peeps.Channel[order]("orders", 8)
	mu := peeps.NewMutex("processed-count")
	sem := peeps.NewSemaphore(maxInFlight, "worker-slots")

	var processed int

	var producers sync.WaitGroup
	for p := 0; p < numProducers; p++ {
		producers.Add(1)
		go produce(ctx, &producers, facade, tx, p)
	}

	var consumers sync.WaitGroup
	for c := 0; c < numConsumers; c++ {
		consumers.Add(1)
		go consume(ctx, &consumers, facade, rx, sem, mu, &processed, c)
	}

	producers.Wait()
	tx.Close(facade)
	consumers.Wait()

	slog.Info("peepsdemo finished", "processed", processed)
}

func produce(ctx context.Context, wg *sync.WaitGroup, facade registry.Facade, tx *peepsync.Tx[order], id int) {
	defer wg.Done()
	send := tx.Send(ctx, facade, registry.ResourceID("producer-task"))
	for i := 0; i < itemsPerProducer; i++ {
		o := order{id: i, producer: id}
		if err := send(o); err != nil {
			slog.Warn("producer send stopped", "producer", id, "err", err)
			return
		}
		time.Sleep(time.Duration(rand.Intn(20)) * time.Millisecond)
	}
}

func consume(
	ctx context.Context,
	wg *sync.WaitGroup,
	facade registry.Facade,
	rx *peepsync.Rx[order],
	sem *peepsync.Semaphore,
	mu *peepsync.Mutex,
	processed *int,
	id int,
) {
	defer wg.Done()
	waiter := registry.ResourceID("consumer-task")

	for {
		o, ok, err := rx.Receive(ctx, facade, waiter)
		if err != nil || !ok {
			return
		}

		if err := sem.Acquire(ctx, facade, waiter); err != nil {
			return
		}
		time.Sleep(time.Duration(rand.Intn(30)) * time.Millisecond)
		sem.Release(facade)

		mu.Lock(facade, waiter)
		*processed++
		mu.Unlock(facade)

		slog.Debug("consumed order", "consumer", id, "order", o.id, "from_producer", o.producer)
	}
}
