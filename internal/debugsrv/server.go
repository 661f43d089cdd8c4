// Package debugsrv is the local, opt-in HTTP+WebSocket introspection
// surface Peeps exposes for ad-hoc graph inspection during development --
// never the dashboard collector's own ingest path (that is internal/wire +
// internal/pushclient). It pairs a gorilla/mux-routed REST surface with a
// register/unregister/broadcast websocket hub to stream live GraphReply
// frames to any connected browser tab.
package debugsrv

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/ocx/peeps/internal/graph"
	"github.com/ocx/peeps/internal/pushclient"
	"github.com/ocx/peeps/internal/wire"
)

// pollInterval is how often the server emits a fresh graph to broadcast to
// any connected websocket clients and cache for /graph. It is
// independent of the push client's own cadence: debugsrv is a second,
// unrelated consumer of the same facade.
const pollInterval = 2 * time.Second

// Server is the debug introspection HTTP server. One Server per process,
// started only when PEEPS_DEBUG_HTTP is set.
type Server struct {
	addr    string
	emitter *graph.Emitter
	stateFn func() pushclient.State
	logger  *slog.Logger

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*websocket.Conn]bool
	latest  wire.GraphReply

	broadcast  chan wire.GraphReply
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
}

// NewServer builds a debug server over emitter, reporting stateFn() for
// /healthz. It does not start listening until Run is called.
func NewServer(addr string, emitter *graph.Emitter, stateFn func() pushclient.State) *Server {
	return &Server{
		addr:    addr,
		emitter: emitter,
		stateFn: stateFn,
		logger:  slog.Default().With("component", "debugsrv"),
		upgrader: websocket.Upgrader{
			// Local dev tooling only; any origin may connect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan wire.GraphReply, 16),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// Run serves HTTP until ctx is cancelled. It never returns an error for a
// client-side failure; only a listener bind failure is returned.
func (s *Server) Run(ctx context.Context) error {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
	r.HandleFunc("/graph", s.handleGraph).Methods("GET")
	r.HandleFunc("/ws", s.handleWS).Methods("GET")

	srv := &http.Server{Addr: s.addr, Handler: r}

	go s.runHub(ctx)
	go s.pollAndBroadcast(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"push_state": s.stateFn().String(),
	})
}

func (s *Server) handleGraph(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	gr := s.latest
	hasLatest := gr.CutSeq != 0
	s.mu.RUnlock()

	if !hasLatest {
		g, err := s.emitter.EmitGraph()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		gr, err = wire.FromGraph(g)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(gr)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	s.register <- conn

	// Drain and discard any client-sent frames so the read side stays
	// healthy; this endpoint is publish-only.
	go func() {
		defer func() { s.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// runHub owns s.clients exclusively: one goroutine serializes
// register/unregister/broadcast so client map mutation never races with
// iteration.
func (s *Server) runHub(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			for c := range s.clients {
				c.Close()
			}
			s.mu.Unlock()
			return
		case conn := <-s.register:
			s.mu.Lock()
			s.clients[conn] = true
			s.mu.Unlock()
		case conn := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.clients[conn]; ok {
				delete(s.clients, conn)
				conn.Close()
			}
			s.mu.Unlock()
		case gr := <-s.broadcast:
			s.mu.RLock()
			for conn := range s.clients {
				if err := conn.WriteJSON(gr); err != nil {
					s.logger.Warn("websocket write failed, dropping client", "err", err)
					go func(c *websocket.Conn) { s.unregister <- c }(conn)
				}
			}
			s.mu.RUnlock()
		}
	}
}

func (s *Server) pollAndBroadcast(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g, err := s.emitter.EmitGraph()
			if err != nil {
				s.logger.Error("debugsrv emit_graph failed", "err", err)
				continue
			}
			gr, err := wire.FromGraph(g)
			if err != nil {
				s.logger.Error("debugsrv encode graph failed", "err", err)
				continue
			}
			s.mu.Lock()
			s.latest = gr
			s.mu.Unlock()
			select {
			case s.broadcast <- gr:
			default:
				s.logger.Warn("debugsrv broadcast channel full, dropping frame")
			}
		}
	}
}
