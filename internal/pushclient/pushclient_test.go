package pushclient

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/peeps/internal/registry"
	"github.com/ocx/peeps/internal/wire"
)

func TestHandshakeAcceptsValidHelloAck(t *testing.T) {
	r := registry.New("worker", 1)
	c := New(r, "worker", "")

	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	done := make(chan error, 1)
	go func() { done <- c.handshake(clientConn) }()

	helloFrame, err := wire.ReadFrame(serverConn)
	require.NoError(t, err)
	hello, err := wire.DecodeHello(helloFrame)
	require.NoError(t, err)
	assert.Equal(t, "worker", hello.ProcessName)

	ackFrame, err := wire.EncodeHelloAck(wire.HelloAck{Accepted: true})
	require.NoError(t, err)
	require.NoError(t, wire.WriteFrame(serverConn, ackFrame))

	require.NoError(t, <-done)
}

func TestHandshakeFailsOnRejectedAck(t *testing.T) {
	r := registry.New("worker", 2)
	c := New(r, "worker", "")

	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	done := make(chan error, 1)
	go func() { done <- c.handshake(clientConn) }()

	_, err := wire.ReadFrame(serverConn)
	require.NoError(t, err)

	ackFrame, err := wire.EncodeHelloAck(wire.HelloAck{Accepted: false, Reason: "version mismatch"})
	require.NoError(t, err)
	require.NoError(t, wire.WriteFrame(serverConn, ackFrame))

	err = <-done
	assert.Error(t, err)
}

func TestPushOnceWritesGraphReplyWithinDeadline(t *testing.T) {
	r := registry.New("worker", 3)
	r.RegisterLock("mu", registry.Source{File: "x.go", Line: 1})
	c := New(r, "worker", "")

	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	go c.pushOnce(clientConn)

	serverConn.SetReadDeadline(time.Now().Add(time.Second))
	f, err := wire.ReadFrame(serverConn)
	require.NoError(t, err)
	gr, err := wire.DecodeGraphReply(f)
	require.NoError(t, err)
	assert.Len(t, gr.Nodes, 1)
}

func TestStateMachineRejectsInvalidTransition(t *testing.T) {
	sm := newStateMachine()
	assert.Panics(t, func() { sm.transition(StateStreaming) })
}

func TestStateMachineRecordsHistory(t *testing.T) {
	sm := newStateMachine()
	sm.transition(StateConnecting)
	sm.transition(StateHandshaking)
	sm.transition(StateStreaming)

	hist := sm.History()
	require.Len(t, hist, 3)
	assert.Equal(t, StateStreaming, sm.Current())
}

func TestBackoffStaysWithinBounds(t *testing.T) {
	b := newBackoff()
	for i := 0; i < 10; i++ {
		d := b.next()
		assert.GreaterOrEqual(t, d, 200*time.Millisecond)
		assert.LessOrEqual(t, d, 12*time.Second)
	}
}
