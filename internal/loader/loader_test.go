package loader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/flowsql/internal/resolver"
	"github.com/leapstack-labs/flowsql/pkg/core"
)

func TestLoadFile_YAML(t *testing.T) {
	wf, err := LoadFile(filepath.Join("testdata", "orders.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "orders", wf.Name)
	require.Len(t, wf.Nodes, 4)
	assert.Equal(t, core.KindCSVReader, wf.Nodes[0].Kind)
	assert.Equal(t, "Orders", wf.Nodes[0].Name)
	assert.Equal(t, core.KindCSVReader, wf.Nodes[1].Kind)
	assert.Equal(t, core.KindJoiner, wf.Nodes[2].Kind)
	assert.Equal(t, "data/orders.csv", wf.Nodes[0].Settings.TextOr("path", ""))

	require.Len(t, wf.Connections, 3)
	assert.Equal(t, core.NodeID(2), wf.Connections[0].Source)
	require.NotNil(t, wf.Connections[0].DestPort)
	assert.Equal(t, 1, *wf.Connections[0].DestPort)
	assert.Nil(t, wf.Connections[0].SourcePort)
	assert.Nil(t, wf.Connections[2].DestPort)

	res, err := resolver.Resolve(context.Background(), wf, resolver.Options{})
	require.NoError(t, err)
	assert.Empty(t, res.Diagnostics)
	out, ok := res.Node(4)
	require.True(t, ok)
	assert.Equal(t, core.Schema{"order_id", "amount", "name"}, out.OutputSchema)
}

func TestLoadFile_JSON(t *testing.T) {
	wf, err := LoadFile(filepath.Join("testdata", "orders.json"))
	require.NoError(t, err)

	assert.Equal(t, "orders", wf.Name, "name defaults to the file name")
	require.Len(t, wf.Nodes, 2)
	assert.Equal(t, core.KindTableCreator, wf.Nodes[0].Kind)
	assert.Equal(t, core.KindUnsupported, wf.Nodes[1].Kind)
	assert.Equal(t, "org.example.UnknownNodeFactory", wf.Nodes[1].Factory)
	assert.Nil(t, wf.Nodes[1].Settings)
	require.Len(t, wf.Connections, 1)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		format  Format
		data    string
		wantMsg string
	}{
		{"negative id", FormatYAML, "nodes:\n  - {id: -1, kind: sorter}\n", "negative id -1"},
		{"missing id", FormatYAML, "nodes:\n  - {kind: sorter}\n", "missing id"},
		{"no kind", FormatJSON, `{"nodes": [{"id": 1}]}`, "neither kind nor factory"},
		{"unknown yaml field", FormatYAML, "nodes: []\nedges: []\n", "invalid YAML"},
		{"unknown json field", FormatJSON, `{"nodes": [], "edges": []}`, "invalid JSON"},
		{"yaml syntax", FormatYAML, "nodes: [\n", "invalid YAML"},
		{"json syntax", FormatJSON, `{"nodes": `, "invalid JSON"},
		{"connection without dest", FormatYAML, "connections:\n  - {source: 1}\n", "source and dest are required"},
		{"negative port", FormatJSON, `{"connections": [{"source": 1, "dest": 2, "dest_port": -1}]}`, "negative value -1"},
		{"bad settings", FormatYAML, "nodes:\n  - {id: 1, kind: sorter, settings: {key: model, entry: 3}}\n", "expected object or list"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data), tt.format)
			require.Error(t, err)
			var de *DecodeError
			assert.ErrorAs(t, err, &de)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestDecode_Empty(t *testing.T) {
	wf, err := Decode(nil, FormatYAML)
	require.NoError(t, err)
	assert.Empty(t, wf.Nodes)
	assert.Empty(t, wf.Connections)
}

func TestDecode_KindOverridesFactory(t *testing.T) {
	wf, err := Decode([]byte(`{"nodes": [{"id": 0, "kind": "sorter", "factory": "custom.Sorter"}]}`), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, core.KindSorter, wf.Nodes[0].Kind)
	assert.Equal(t, "custom.Sorter", wf.Nodes[0].Factory)
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile("workflow.txt")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("nodes:\n  - {id: -3, kind: sorter}\n"), 0o600))
	_, err = LoadFile(path)
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, path, de.File)
	assert.Contains(t, err.Error(), path+": ")

	_, err = Decode([]byte("{}"), Format("xml"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestFormatFromPath(t *testing.T) {
	tests := []struct {
		path string
		want Format
	}{
		{"a.yaml", FormatYAML},
		{"a.YML", FormatYAML},
		{"dir/a.json", FormatJSON},
	}
	for _, tt := range tests {
		got, err := FormatFromPath(tt.path)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
	_, err := FormatFromPath("a.knwf")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.yaml", "a.json", "notes.txt", "sub/c.yml", ".hidden/d.yaml"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))
	}
	single := filepath.Join(dir, "b.yaml")

	got, err := Discover(dir, single)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.json"),
		filepath.Join(dir, "b.yaml"),
		filepath.Join(dir, "sub", "c.yml"),
	}, got)

	_, err = Discover(filepath.Join(dir, "nope"))
	assert.Error(t, err)
}
