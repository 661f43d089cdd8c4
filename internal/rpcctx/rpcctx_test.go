package rpcctx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInjectThenExtractRoundTrips(t *testing.T) {
	info := SpanInfo{
		SpanID:           "p1:1:7",
		ChainID:          "chain-1",
		ParentSpanID:     "p1:1:6",
		CallerProcess:    "worker",
		CallerConnection: "conn-1",
		CallerRequestID:  "7",
	}

	md := map[string]string{}
	Inject(md, info)

	got, ok := Extract(md)
	assert.True(t, ok)
	assert.Equal(t, info, got)
}

func TestExtractFailsWithoutSpanID(t *testing.T) {
	_, ok := Extract(map[string]string{KeyChainID: "chain-1"})
	assert.False(t, ok)
}

func TestInjectSkipsEmptyFields(t *testing.T) {
	md := map[string]string{}
	Inject(md, SpanInfo{SpanID: "p1:1:1"})
	assert.Len(t, md, 1)
	assert.Equal(t, "p1:1:1", md[KeySpanID])
}
