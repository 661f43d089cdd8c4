package dump

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/peeps/internal/graph"
	"github.com/ocx/peeps/internal/registry"
	"github.com/ocx/peeps/internal/wire"
)

func TestWriteGraphProducesValidJSONWithDigest(t *testing.T) {
	pid := -987654321 // improbable pid, avoids clobbering a real dump during test runs
	path := filepath.Join(dumpDir, fmt.Sprintf("%d.json", pid))
	defer os.Remove(path)

	r := registry.New("dumptest", 1)
	r.RegisterOnceCell("cfg", registry.Source{File: "x.go", Line: 1})

	g, err := graph.NewEmitter(r).EmitGraph()
	require.NoError(t, err)

	require.NoError(t, WriteGraph(pid, g))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var gr wire.GraphReply
	require.NoError(t, json.Unmarshal(raw, &gr))
	assert.NotEmpty(t, gr.ContentDigest)
	assert.Len(t, gr.Nodes, 1)
}

func TestPollClearsRequestedFlagOnce(t *testing.T) {
	w := NewWriter(1)
	w.requested.Store(true)
	assert.True(t, w.Poll())
	assert.False(t, w.Poll())
}
