package peepsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/peeps/internal/registry"
)

func TestMutexLockUnlockBracketsHoldsAndNeeds(t *testing.T) {
	r := registry.New("svc", 1)
	m := NewMutex(r, "mu")
	taskA := registry.ResourceID("task-a")
	taskB := registry.ResourceID("task-b")

	m.Lock(r, taskA)
	body := m.handle.Snapshot().Body.(registry.LockBody)
	assert.Equal(t, taskA, body.HolderID)
	assert.Empty(t, body.Waiters)

	done := make(chan struct{})
	go func() {
		m.Lock(r, taskB)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	body = m.handle.Snapshot().Body.(registry.LockBody)
	assert.Contains(t, body.Waiters, taskB)

	m.Unlock(r)
	<-done
	body = m.handle.Snapshot().Body.(registry.LockBody)
	assert.Equal(t, taskB, body.HolderID)
	m.Unlock(r)
}

func TestChanSendReceivePairsOnSameChannelID(t *testing.T) {
	r := registry.New("svc", 2)
	tx, rx := NewChan[int](r, "work", 4, registry.ChannelMPSC)
	assert.Equal(t, tx.channelID, rx.channelID)

	txBody := tx.handle.Snapshot().Body.(registry.ChannelBody)
	rxBody := rx.handle.Snapshot().Body.(registry.ChannelBody)
	assert.Equal(t, txBody.ChannelID, rxBody.ChannelID)

	ok := tx.TrySend(r, 7)
	require.True(t, ok)

	v, ok := rx.TryReceive(r)
	require.True(t, ok)
	assert.Equal(t, 7, v)
}

func TestChanCloseMarksClosedByTxAndPromotesRx(t *testing.T) {
	r := registry.New("svc", 3)
	tx, rx := NewChan[string](r, "pipe", 1, registry.ChannelMPSC)
	txHandle := tx.handle // Close drops tx.handle, so keep a reference to inspect it
	tx.Close(r)

	txBody := txHandle.Snapshot().Body.(registry.ChannelBody)
	assert.Equal(t, registry.LifecycleClosed, txBody.Lifecycle)
	assert.Equal(t, txHandle.Entity.ID, txBody.ClosedBy)

	body := rx.handle.Snapshot().Body.(registry.ChannelBody)
	assert.NotEqual(t, registry.LifecycleClosed, body.Lifecycle, "rx only promotes on its own next observed event")

	_, ok, err := rx.Receive(context.Background(), r, "waiter")
	require.NoError(t, err)
	require.False(t, ok)

	body = rx.handle.Snapshot().Body.(registry.ChannelBody)
	assert.Equal(t, registry.LifecycleClosed, body.Lifecycle)
}

func TestChanOccupancyTracksBothSendAndReceive(t *testing.T) {
	r := registry.New("svc", 20)
	tx, rx := NewChan[int](r, "work", 4, registry.ChannelMPSC)

	ok := tx.TrySend(r, 1)
	require.True(t, ok)
	ok = tx.TrySend(r, 2)
	require.True(t, ok)

	txBody := tx.handle.Snapshot().Body.(registry.ChannelBody)
	rxBody := rx.handle.Snapshot().Body.(registry.ChannelBody)
	assert.Equal(t, 2, txBody.Occupancy)
	assert.Equal(t, 2, rxBody.Occupancy, "rx entity must observe occupancy too, not stay at 0")

	_, ok = rx.TryReceive(r)
	require.True(t, ok)

	txBody = tx.handle.Snapshot().Body.(registry.ChannelBody)
	rxBody = rx.handle.Snapshot().Body.(registry.ChannelBody)
	assert.Equal(t, 1, txBody.Occupancy, "occupancy must decrement on receive")
	assert.Equal(t, 1, rxBody.Occupancy)
}

func TestChanSendBlocksOnFullBufferRecordsWaiter(t *testing.T) {
	r := registry.New("svc", 21)
	tx, rx := NewChan[int](r, "work", 1, registry.ChannelMPSC)
	sender := registry.ResourceID("sender-task")

	send := tx.Send(context.Background(), r, sender)
	require.NoError(t, send(1))

	done := make(chan struct{})
	go func() {
		require.NoError(t, send(2))
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	body := tx.handle.Snapshot().Body.(registry.ChannelBody)
	assert.Contains(t, body.Waiters, sender, "blocked sender must be recorded as a waiter on the full channel_tx")

	_, ok, err := rx.Receive(context.Background(), r, "receiver-task")
	require.NoError(t, err)
	require.True(t, ok)
	<-done

	body = tx.handle.Snapshot().Body.(registry.ChannelBody)
	assert.NotContains(t, body.Waiters, sender, "waiter is removed once it stops blocking")
}

func TestSemaphoreStarvesSecondWaiter(t *testing.T) {
	r := registry.New("svc", 4)
	s := NewSemaphore(r, "s", 1)
	waiter := registry.ResourceID("waiter")

	require.NoError(t, s.Acquire(context.Background(), r, "holder"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := s.Acquire(ctx, r, waiter)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	body := s.handle.Snapshot().Body.(registry.SemaphoreBody)
	assert.Equal(t, 0, body.Available)
}

func TestOnceCellRunsInitExactlyOnce(t *testing.T) {
	r := registry.New("svc", 5)
	c := NewOnceCell[int](r, "cfg")
	calls := 0

	for i := 0; i < 5; i++ {
		v, err := c.GetOrInit(func() (int, error) {
			calls++
			return 42, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42, v)
	}
	assert.Equal(t, 1, calls)

	body := c.handle.Snapshot().Body.(registry.OnceCellBody)
	assert.Equal(t, registry.OnceCellReady, body.State)
}

func TestFutureAwaitResolvesAndCountsPolls(t *testing.T) {
	r := registry.New("svc", 6)
	f := WrapFuture[string](r, "fetch", func(ctx context.Context) (string, error) {
		time.Sleep(10 * time.Millisecond)
		return "done", nil
	})

	_, _, ready := f.Poll()
	assert.False(t, ready)

	v, err := f.Await(context.Background(), "io")
	require.NoError(t, err)
	assert.Equal(t, "done", v)

	body := f.handle.Snapshot().Body.(registry.FutureBody)
	assert.GreaterOrEqual(t, body.PollCount, uint64(1))
}

func TestWatchReceiveBlocksUntilSendThenObservesLatest(t *testing.T) {
	r := registry.New("svc", 7)
	tx, rx := NewWatch[int](r, "cfg-version", 1)
	waiter := registry.ResourceID("task-watcher")

	assert.Equal(t, 1, rx.Latest())

	done := make(chan int, 1)
	go func() {
		v, ok, err := rx.Receive(context.Background(), r, waiter)
		require.NoError(t, err)
		require.True(t, ok)
		done <- v
	}()

	time.Sleep(5 * time.Millisecond)
	tx.Send(2)

	select {
	case v := <-done:
		assert.Equal(t, 2, v)
	case <-time.After(time.Second):
		t.Fatal("Receive never observed the update")
	}
}

func TestWatchCloseWakesBlockedReceiveWithoutNewValue(t *testing.T) {
	r := registry.New("svc", 8)
	tx, rx := NewWatch[string](r, "status", "ready")
	waiter := registry.ResourceID("task-watcher-2")

	done := make(chan bool, 1)
	go func() {
		_, ok, err := rx.Receive(context.Background(), r, waiter)
		require.NoError(t, err)
		done <- ok
	}()

	time.Sleep(5 * time.Millisecond)
	tx.Close(r)

	select {
	case ok := <-done:
		assert.False(t, ok, "Receive after close with no new value reports closed")
	case <-time.After(time.Second):
		t.Fatal("Receive never woke on close")
	}
}
