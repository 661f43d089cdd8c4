// Package dump implements the signal-triggered JSON dump writer: a SIGUSR1
// handler arms an async-signal-safe flag, and the peeps package's maintenance
// goroutine polls it each tick, writing the latest graph to
// /tmp/peeps-dumps/{pid}.json atomically (temp file + rename).
package dump

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"

	"golang.org/x/crypto/blake2b"

	"github.com/ocx/peeps/internal/graph"
	"github.com/ocx/peeps/internal/wire"
)

const dumpDir = "/tmp/peeps-dumps"

// Writer arms the signal handler and performs the actual file write when
// polled. The handler itself only sets requested; the goroutine that calls
// Poll (the peeps package's maintenance goroutine) does the real work,
// keeping the signal handler itself async-signal-safe.
type Writer struct {
	pid       int
	requested atomic.Bool
	sigCh     chan os.Signal
}

func NewWriter(pid int) *Writer {
	return &Writer{pid: pid, sigCh: make(chan os.Signal, 1)}
}

// Install arms signal.Notify(SIGUSR1). It names syscall.SIGUSR1 directly, so
// this package builds only on platforms whose syscall package defines it.
func (w *Writer) Install() {
	signal.Notify(w.sigCh, syscall.SIGUSR1)
	go func() {
		for range w.sigCh {
			w.requested.Store(true)
		}
	}()
}

// Poll checks and clears the pending-dump flag. The caller (the peeps
// package's maintenance goroutine) is expected to call this once per tick.
func (w *Writer) Poll() bool {
	return w.requested.CompareAndSwap(true, false)
}

// WriteGraph serializes g and writes it to /tmp/peeps-dumps/{pid}.json via a
// temp-file-then-rename, so a concurrent reader never observes a partial
// file. The written body additionally carries a blake2b-256 content_digest --
// tamper-evidence, not a security boundary.
func WriteGraph(pid int, g graph.Graph) error {
	gr, err := wire.FromGraph(g)
	if err != nil {
		return fmt.Errorf("peeps/dump: convert graph: %w", err)
	}

	body, err := json.Marshal(gr)
	if err != nil {
		return fmt.Errorf("peeps/dump: marshal body: %w", err)
	}
	digest := blake2b.Sum256(body)
	gr.ContentDigest = hex.EncodeToString(digest[:])

	final, err := json.MarshalIndent(gr, "", "  ")
	if err != nil {
		return fmt.Errorf("peeps/dump: marshal final: %w", err)
	}

	if err := os.MkdirAll(dumpDir, 0o755); err != nil {
		return fmt.Errorf("peeps/dump: mkdir: %w", err)
	}

	target := filepath.Join(dumpDir, fmt.Sprintf("%d.json", pid))
	tmp := target + "." + randomSuffix() + ".tmp"

	if err := os.WriteFile(tmp, final, 0o644); err != nil {
		return fmt.Errorf("peeps/dump: write temp file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("peeps/dump: rename: %w", err)
	}
	return nil
}

func randomSuffix() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "0"
	}
	return hex.EncodeToString(b[:])
}
