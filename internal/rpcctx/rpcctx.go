// Package rpcctx defines the metadata keys Peeps propagates across an RPC
// boundary and pure Inject/Extract functions with no RPC-framework
// dependency. internal/rpcgrpc wires these against gRPC specifically.
package rpcctx

// Metadata key constants. The core never defines keys beyond these; cross-
// process correlation relies entirely on span_id.
const (
	KeySpanID           = "peeps.span_id"
	KeyChainID          = "peeps.chain_id"
	KeyParentSpanID     = "peeps.parent_span_id"
	KeyCallerProcess    = "peeps.caller_process"
	KeyCallerConnection = "peeps.caller_connection"
	KeyCallerRequestID  = "peeps.caller_request_id"
)

// SpanInfo is the set of correlation fields injected on an outgoing request
// and read back on the incoming side.
type SpanInfo struct {
	SpanID           string
	ChainID          string
	ParentSpanID     string
	CallerProcess    string
	CallerConnection string
	CallerRequestID  string
}

// Inject writes SpanInfo's non-empty fields into md under the peeps.* keys.
func Inject(md map[string]string, info SpanInfo) {
	setIfNonEmpty(md, KeySpanID, info.SpanID)
	setIfNonEmpty(md, KeyChainID, info.ChainID)
	setIfNonEmpty(md, KeyParentSpanID, info.ParentSpanID)
	setIfNonEmpty(md, KeyCallerProcess, info.CallerProcess)
	setIfNonEmpty(md, KeyCallerConnection, info.CallerConnection)
	setIfNonEmpty(md, KeyCallerRequestID, info.CallerRequestID)
}

func setIfNonEmpty(md map[string]string, key, value string) {
	if value != "" {
		md[key] = value
	}
}

// Extract reads SpanInfo back out of md. ok is false when span_id -- the
// sole required correlation key -- is absent.
func Extract(md map[string]string) (SpanInfo, bool) {
	spanID, ok := md[KeySpanID]
	if !ok || spanID == "" {
		return SpanInfo{}, false
	}
	return SpanInfo{
		SpanID:           spanID,
		ChainID:          md[KeyChainID],
		ParentSpanID:     md[KeyParentSpanID],
		CallerProcess:    md[KeyCallerProcess],
		CallerConnection: md[KeyCallerConnection],
		CallerRequestID:  md[KeyCallerRequestID],
	}, true
}
