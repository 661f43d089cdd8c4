package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/peeps/internal/graph"
	"github.com/ocx/peeps/internal/registry"
)

func TestHelloRoundTripsThroughFrame(t *testing.T) {
	h := Hello{Version: ProtocolVersion, ProcessName: "worker", ProcKey: "worker-123", PID: 123, StartTime: 99}
	f, err := EncodeHello(h)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, f))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, TypeHello, got.Type)

	decoded, err := DecodeHello(got)
	require.NoError(t, err)
	assert.Equal(t, h, decoded)
}

func TestHelloAckRejectedRoundTrip(t *testing.T) {
	a := HelloAck{Accepted: false, Reason: "version mismatch"}
	f, err := EncodeHelloAck(a)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, f))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	decoded, err := DecodeHelloAck(got)
	require.NoError(t, err)
	assert.Equal(t, a, decoded)
}

func TestGraphReplyRoundTripPreservesNodesAndEdges(t *testing.T) {
	r := registry.New("svc", 1)
	r.RegisterLock("mu", registry.Source{File: "x.go", Line: 1})

	g, err := graph.NewEmitter(r).EmitGraph()
	require.NoError(t, err)

	gr, err := FromGraph(g)
	require.NoError(t, err)

	f, err := EncodeGraphReply(gr)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, f))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	decoded, err := DecodeGraphReply(got)
	require.NoError(t, err)

	assert.Equal(t, gr.CutSeq, decoded.CutSeq)
	require.Len(t, decoded.Nodes, 1)
	assert.Equal(t, "lock", decoded.Nodes[0].Kind)
}

func TestReadFrameRejectsZeroLength(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0, 0, 0, 0})
	_, err := ReadFrame(buf)
	assert.Error(t, err)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var lenBuf [4]byte
	lenBuf[0] = 0xFF
	lenBuf[1] = 0xFF
	lenBuf[2] = 0xFF
	lenBuf[3] = 0xFF
	buf := bytes.NewBuffer(lenBuf[:])
	_, err := ReadFrame(buf)
	assert.Error(t, err)
}
