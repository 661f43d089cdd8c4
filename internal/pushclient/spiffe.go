package pushclient

import (
	"context"
	"crypto/tls"

	"github.com/spiffe/go-spiffe/v2/spiffetls/tlsconfig"
	"github.com/spiffe/go-spiffe/v2/workloadapi"
)

// spiffeTLSConfig builds a *tls.Config authenticating any server identity
// (the dashboard collector's SVID is verified by the workload API's bundle,
// not a fixed hostname) from the local workload API socket.
func spiffeTLSConfig(ctx context.Context, socketPath string) (*tls.Config, error) {
	source, err := workloadapi.NewX509Source(ctx, workloadapi.WithClientOptions(workloadapi.WithAddr(socketPath)))
	if err != nil {
		return nil, err
	}
	return tlsconfig.MTLSClientConfig(source, source, tlsconfig.AuthorizeAny()), nil
}
