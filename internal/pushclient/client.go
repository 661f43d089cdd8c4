package pushclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/ocx/peeps/internal/graph"
	"github.com/ocx/peeps/internal/registry"
	"github.com/ocx/peeps/internal/wire"
)

const writeDeadline = 200 * time.Millisecond

// Client is the push client's dedicated background task: it never calls into
// user code, and user tasks never block on it.
type Client struct {
	addr         string
	processName  string
	pushInterval time.Duration
	spiffeSocket string

	facade  registry.Facade
	emitter *graph.Emitter
	sm      *stateMachine
	logger  *slog.Logger

	pushNow chan struct{}
}

// Option customizes Client construction.
type Option func(*Client)

func WithPushInterval(d time.Duration) Option {
	return func(c *Client) { c.pushInterval = d }
}

func WithSpiffeSocket(path string) Option {
	return func(c *Client) { c.spiffeSocket = path }
}

func New(facade registry.Facade, processName, addr string, opts ...Option) *Client {
	c := &Client{
		addr:         addr,
		processName:  processName,
		pushInterval: time.Second,
		facade:       facade,
		emitter:      graph.NewEmitter(facade),
		sm:           newStateMachine(),
		logger:       slog.Default().With("component", "pushclient"),
		pushNow:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the client's current reconnect state (read by debugsrv's
// /healthz without touching the connection loop).
func (c *Client) State() State { return c.sm.Current() }

// DroppedSnapshots reports the push client's running backpressure-drop
// total, for peepsmetrics to surface as a gauge alongside State.
func (c *Client) DroppedSnapshots() uint64 { return c.emitter.DroppedSnapshots() }

// Emitter returns the graph.Emitter this client pushes from.
func (c *Client) Emitter() *graph.Emitter { return c.emitter }

// PushNow requests an out-of-cadence emission for a high-signal event
// (channel-full stall, semaphore starvation). Non-blocking: if a push is
// already pending, the request is coalesced.
func (c *Client) PushNow() {
	select {
	case c.pushNow <- struct{}{}:
	default:
	}
}

// Run drives the reconnect loop until ctx is cancelled. It never returns an
// error to the caller: transport failures are logged and retried, matching
// the "never fatal for the process" contract.
func (c *Client) Run(ctx context.Context) {
	b := newBackoff()

	for {
		select {
		case <-ctx.Done():
			c.sm.transition(StateShutdown)
			return
		default:
		}

		c.sm.transition(StateConnecting)
		conn, err := c.dial(ctx)
		if err != nil {
			c.logger.Warn("dial failed", "addr", c.addr, "err", err)
			c.sm.transition(StateDisconnected)
			if !sleepOrDone(ctx, b.next()) {
				c.sm.transition(StateShutdown)
				return
			}
			continue
		}

		c.sm.transition(StateHandshaking)
		if err := c.handshake(conn); err != nil {
			c.logger.Warn("handshake failed", "err", err)
			conn.Close()
			c.sm.transition(StateDisconnected)
			if !sleepOrDone(ctx, b.next()) {
				c.sm.transition(StateShutdown)
				return
			}
			continue
		}
		b.reset()

		c.sm.transition(StateStreaming)
		c.stream(ctx, conn)
		conn.Close()

		select {
		case <-ctx.Done():
			c.sm.transition(StateShutdown)
			return
		default:
			c.sm.transition(StateDisconnected)
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	if c.spiffeSocket != "" {
		return c.dialSpiffe(ctx)
	}
	d := net.Dialer{}
	return d.DialContext(ctx, "tcp", c.addr)
}

// dialSpiffe wires github.com/spiffe/go-spiffe/v2's workloadapi + spiffetls:
// when PEEPS_SPIFFE_SOCKET is set the push client authenticates the
// dashboard collector via mTLS instead of plain TCP.
func (c *Client) dialSpiffe(ctx context.Context) (net.Conn, error) {
	tlsConfig, err := spiffeTLSConfig(ctx, c.spiffeSocket)
	if err != nil {
		return nil, fmt.Errorf("peeps/pushclient: spiffe tls config: %w", err)
	}
	d := tls.Dialer{Config: tlsConfig}
	return d.DialContext(ctx, "tcp", c.addr)
}

func (c *Client) handshake(conn net.Conn) error {
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	defer conn.SetDeadline(time.Time{})

	hello := wire.Hello{
		Version:     wire.ProtocolVersion,
		ProcessName: c.processName,
		ProcKey:     string(c.facade.ProcKey()),
		PID:         uint64(os.Getpid()),
		StartTime:   int64(c.facade.Now()),
	}
	f, err := wire.EncodeHello(hello)
	if err != nil {
		return err
	}
	if err := wire.WriteFrame(conn, f); err != nil {
		return err
	}

	ackFrame, err := wire.ReadFrame(conn)
	if err != nil {
		return err
	}
	ack, err := wire.DecodeHelloAck(ackFrame)
	if err != nil {
		return err
	}
	if !ack.Accepted {
		return fmt.Errorf("peeps/pushclient: handshake rejected: %s", ack.Reason)
	}
	return nil
}

func (c *Client) stream(ctx context.Context, conn net.Conn) {
	ticker := time.NewTicker(c.pushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.pushOnce(conn) {
				return
			}
		case <-c.pushNow:
			if !c.pushOnce(conn) {
				return
			}
		}
	}
}

// pushOnce emits one GraphReply and writes it within writeDeadline. A write
// that would exceed the deadline drops the snapshot and increments the
// dropped counter rather than buffering unboundedly.
func (c *Client) pushOnce(conn net.Conn) bool {
	g, err := c.emitter.EmitGraph()
	if err != nil {
		c.logger.Error("emit_graph failed", "err", err)
		return true
	}

	gr, err := wire.FromGraph(g)
	if err != nil {
		c.logger.Error("encode graph failed", "err", err)
		return true
	}

	f, err := wire.EncodeGraphReply(gr)
	if err != nil {
		c.logger.Error("encode frame failed", "err", err)
		return true
	}

	conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err := wire.WriteFrame(conn, f); err != nil {
		c.emitter.IncDroppedSnapshot()
		c.logger.Warn("dropped snapshot", "err", err)
		return false
	}
	return true
}
