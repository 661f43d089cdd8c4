// Package rpcgrpc wires internal/rpcctx's pure Inject/Extract functions
// against google.golang.org/grpc's interceptor hooks, using metadata.MD as
// the RPC-framework-specific transport for the peeps.* keys.
package rpcgrpc

import (
	"context"
	"runtime"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/ocx/peeps/internal/registry"
	"github.com/ocx/peeps/internal/rpcctx"
)

// SpanSource supplies the SpanInfo to attach to an outgoing call. Call sites
// typically close over a registry.Facade and a connection id.
type SpanSource func(ctx context.Context, method string) rpcctx.SpanInfo

// UnaryClientInterceptor injects span metadata into every outgoing unary
// call.
func UnaryClientInterceptor(src SpanSource) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = injectOutgoing(ctx, src(ctx, method))
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// StreamClientInterceptor injects span metadata before opening a streaming
// call.
func StreamClientInterceptor(src SpanSource) grpc.StreamClientInterceptor {
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		ctx = injectOutgoing(ctx, src(ctx, method))
		return streamer(ctx, desc, cc, method, opts...)
	}
}

func injectOutgoing(ctx context.Context, info rpcctx.SpanInfo) context.Context {
	md := map[string]string{}
	rpcctx.Inject(md, info)
	pairs := make([]string, 0, len(md)*2)
	for k, v := range md {
		pairs = append(pairs, k, v)
	}
	return metadata.AppendToOutgoingContext(ctx, pairs...)
}

// UnaryServerInterceptor registers a request entity from incoming span
// metadata, binds it to a freshly registered server-task future (emitting
// Handles(server_task, request) via the request body's ServerTaskID), and
// registers the paired response entity once the handler returns.
func UnaryServerInterceptor(facade registry.Facade) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		span, ok := extractIncoming(ctx)

		_, file, line, _ := runtime.Caller(0)
		src := registry.Source{File: file, Line: line}

		taskHandle := facade.RegisterFuture("rpc-handler:"+info.FullMethod, src)

		reqHandle := facade.RegisterRequest(info.FullMethod, src)
		reqHandle.WithLock(func(e *registry.Entity) {
			body := registry.RequestBody{Method: info.FullMethod, ServerTaskID: taskHandle.Entity.ID}
			if ok {
				body.SpanID = registry.SpanID(span.SpanID)
				body.ChainID = span.ChainID
				body.ParentSpanID = registry.SpanID(span.ParentSpanID)
				body.Connection = span.CallerConnection
				body.RequestID = span.CallerRequestID
			}
			e.Body = body
		})
		facade.EmitEvent(registry.Event{Kind: registry.EventRequestStarted, Entity: reqHandle.Entity.ID})

		resp, err := handler(ctx, req)

		respHandle := facade.RegisterResponse(info.FullMethod, src)
		status := registry.ResponseOK
		if err != nil {
			status = registry.ResponseError
		}
		respHandle.WithLock(func(e *registry.Entity) {
			e.Body = registry.ResponseBody{Status: status, Method: info.FullMethod, SpanID: registry.SpanID(span.SpanID)}
		})
		facade.EmitEvent(registry.Event{Kind: registry.EventResponseDelivered, Entity: respHandle.Entity.ID, Peer: reqHandle.Entity.ID})

		return resp, err
	}
}

func extractIncoming(ctx context.Context) (rpcctx.SpanInfo, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return rpcctx.SpanInfo{}, false
	}
	flat := make(map[string]string, md.Len())
	for k, vs := range md {
		if len(vs) > 0 {
			flat[k] = vs[0]
		}
	}
	return rpcctx.Extract(flat)
}
