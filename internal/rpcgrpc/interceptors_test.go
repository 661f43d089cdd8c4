package rpcgrpc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/ocx/peeps/internal/registry"
	"github.com/ocx/peeps/internal/rpcctx"
)

func TestUnaryClientInterceptorInjectsSpanMetadata(t *testing.T) {
	src := func(ctx context.Context, method string) rpcctx.SpanInfo {
		return rpcctx.SpanInfo{SpanID: "p1:1:1", ChainID: "chain-1"}
	}
	interceptor := UnaryClientInterceptor(src)

	var seen metadata.MD
	invoker := func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		seen, _ = metadata.FromOutgoingContext(ctx)
		return nil
	}

	err := interceptor(context.Background(), "/svc/Method", nil, nil, nil, invoker)
	require.NoError(t, err)
	assert.Equal(t, "p1:1:1", seen.Get(rpcctx.KeySpanID)[0])
	assert.Equal(t, "chain-1", seen.Get(rpcctx.KeyChainID)[0])
}

func TestUnaryServerInterceptorRegistersRequestAndResponse(t *testing.T) {
	r := registry.New("p2", 1)
	interceptor := UnaryServerInterceptor(r)

	md := metadata.New(map[string]string{
		rpcctx.KeySpanID: "p1:1:7",
	})
	ctx := metadata.NewIncomingContext(context.Background(), md)

	handler := func(ctx context.Context, req any) (any, error) {
		return "ok", nil
	}

	resp, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/svc/Method"}, handler)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)

	snap := r.Snapshot()
	var sawRequest, sawResponse bool
	for _, ent := range snap.Entities {
		switch body := ent.Body.(type) {
		case registry.RequestBody:
			sawRequest = true
			assert.Equal(t, registry.SpanID("p1:1:7"), body.SpanID)
			assert.NotEmpty(t, body.ServerTaskID)
		case registry.ResponseBody:
			sawResponse = true
			assert.Equal(t, registry.ResponseOK, body.Status)
		}
	}
	assert.True(t, sawRequest)
	assert.True(t, sawResponse)
}
