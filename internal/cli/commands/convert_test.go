package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/flowsql/internal/cli/output"
	clitestutil "github.com/leapstack-labs/flowsql/internal/cli/testutil"
	"github.com/leapstack-labs/flowsql/internal/config"
	"github.com/leapstack-labs/flowsql/internal/state"
)

func TestConvert_Markdown(t *testing.T) {
	tr, err := execute(t, NewConvertCommand(), nil, output.ModeMarkdown, ordersPath)
	require.NoError(t, err)

	out := tr.Output()
	assert.Contains(t, out, "## orders")
	assert.Contains(t, out, "- **Dialect**: ansi")
	assert.Contains(t, out, "```sql")
	assert.Contains(t, out, "CREATE VIEW node_4")
	clitestutil.AssertValidMarkdown(t, out)
	clitestutil.AssertNoANSI(t, out)
	assert.Empty(t, tr.ErrorOutput())
}

func TestConvert_JSON(t *testing.T) {
	cfg := config.Default()
	cfg.Mode = "cte"
	cfg.Dialect = "duckdb"

	tr, err := execute(t, NewConvertCommand(), cfg, output.ModeJSON, ordersPath, constantsPath)
	require.NoError(t, err)

	var out []conversionJSON
	decodeJSON(t, tr, &out)
	require.Len(t, out, 2)
	assert.Equal(t, "orders", out[0].Workflow)
	assert.Equal(t, "duckdb", out[0].Dialect)
	assert.Len(t, out[0].Statements, 1)
	assert.Empty(t, out[0].Unresolved)

	assert.Equal(t, "constants", out[1].Workflow)
	assert.Len(t, out[1].Unresolved, 1)
	assert.Contains(t, tr.ErrorOutput(), "warning:")
}

func TestConvert_Directory(t *testing.T) {
	dir := clitestutil.CopyTestdata(t, "orders.yaml", "constants.json")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip me"), 0o600))

	tr, err := execute(t, NewConvertCommand(), nil, output.ModeJSON, dir)
	require.NoError(t, err)

	var out []conversionJSON
	decodeJSON(t, tr, &out)
	assert.Len(t, out, 2)
}

func TestConvert_NoFiles(t *testing.T) {
	_, err := execute(t, NewConvertCommand(), nil, output.ModeMarkdown, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no workflow files")
}

func TestConvert_PartialFailure(t *testing.T) {
	dir := t.TempDir()
	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("nodes: [{id: -1, kind: sorter}]\n"), 0o600))

	tr, err := execute(t, NewConvertCommand(), nil, output.ModeMarkdown, ordersPath, broken)
	require.Error(t, err)
	assert.Contains(t, err.Error(), broken)
	assert.Contains(t, tr.Output(), "## orders", "good files are still emitted")
}

func TestConvert_OutDir(t *testing.T) {
	cfg := config.Default()
	cfg.OutDir = filepath.Join(t.TempDir(), "sql")

	tr, err := execute(t, NewConvertCommand(), cfg, output.ModeMarkdown, ordersPath)
	require.NoError(t, err)

	assert.Empty(t, tr.Output())
	assert.Contains(t, tr.ErrorOutput(), "wrote ")

	data, err := os.ReadFile(filepath.Join(cfg.OutDir, "orders.sql"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "CREATE VIEW node_1")
}

func TestConvert_Save(t *testing.T) {
	cfg := tempConfig(t)

	tr, err := execute(t, NewConvertCommand(), cfg, output.ModeJSON, "--save", ordersPath)
	require.NoError(t, err)

	var out []conversionJSON
	decodeJSON(t, tr, &out)
	require.Len(t, out, 1)
	require.NotEmpty(t, out[0].ID)
	assert.Contains(t, tr.ErrorOutput(), "recorded "+ordersPath)

	store := state.NewSQLiteStore()
	require.NoError(t, store.Open(cfg.StatePath))
	defer func() { _ = store.Close() }()
	list, err := store.ListConversions(t.Context(), 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, out[0].ID, list[0].ID)
}
