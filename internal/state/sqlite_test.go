package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/flowsql/pkg/core"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store := NewSQLiteStore()
	require.NoError(t, store.Open(":memory:"))
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// ordersConversion joins orders with customers, renames the amount and adds a
// computed column:
//
//	1 orders(id, customer, amount) ─┐
//	                                ├─ 3 joiner ── 4 rename amount→total ── 5 expression +tax
//	2 customers(customer, name) ────┘
func ordersConversion() *Conversion {
	return &Conversion{
		Workflow: "orders",
		Path:     "workflows/orders.yaml",
		Dialect:  "duckdb",
		Mode:     "view",
		SQL:      "CREATE VIEW node_5 AS SELECT 1;",
		Nodes: []NodeResult{
			{NodeID: 1, Kind: core.KindCSVReader, Name: "orders", Alias: "node_1", Order: 0,
				OutputSchema: core.Schema{"id", "customer", "amount"}, SQL: "SELECT 1"},
			{NodeID: 2, Kind: core.KindCSVReader, Name: "customers", Alias: "node_2", Order: 1,
				OutputSchema: core.Schema{"customer", "name"}, SQL: "SELECT 2"},
			{NodeID: 3, Kind: core.KindJoiner, Alias: "node_3", Order: 2,
				Predecessors: []core.NodeID{1, 2},
				InputSchema:  core.Schema{"id", "customer", "amount", "name"},
				OutputSchema: core.Schema{"id", "customer", "amount", "customer (#1)", "name"},
				Renamed:      map[string]string{"customer": "customer (#1)"}},
			{NodeID: 4, Kind: core.KindColumnRename, Alias: "node_4", Order: 3,
				Predecessors: []core.NodeID{3},
				InputSchema:  core.Schema{"id", "customer", "amount", "customer (#1)", "name"},
				OutputSchema: core.Schema{"id", "customer", "total", "customer (#1)", "name"},
				Renamed:      map[string]string{"amount": "total"}},
			{NodeID: 5, Kind: core.KindMathFormula, Alias: "node_5", Order: 4,
				Predecessors: []core.NodeID{4},
				InputSchema:  core.Schema{"id", "customer", "total", "customer (#1)", "name"},
				OutputSchema: core.Schema{"id", "customer", "total", "customer (#1)", "name", "tax"}},
			{NodeID: 6, Kind: core.KindUnsupported, Alias: "node_6", Order: -1,
				Unresolved: true, Reason: "unsupported factory", SQLError: "unresolved: unsupported factory"},
		},
		Diagnostics: []core.Diagnostic{
			core.Errorf(core.CodeUnsupportedKind, 6, "unsupported factory %q", "org.example.Foo"),
			core.Warnf(core.CodeCycle, core.NoNode, "nodes 6 are not ordered"),
		},
	}
}

func TestSQLiteStore_OpenClose(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{name: "in memory", path: func(*testing.T) string { return ":memory:" }},
		{name: "file in new directory", path: func(t *testing.T) string {
			return filepath.Join(t.TempDir(), "nested", "state.db")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := tt.path(t)
			store := NewSQLiteStore()
			require.NoError(t, store.Open(path))
			assert.Equal(t, path, store.Path())
			require.NoError(t, store.Migrate())

			version, err := store.GetMigrationVersion()
			require.NoError(t, err)
			assert.Equal(t, int64(1), version)

			require.NoError(t, store.Close())
			assert.NoError(t, store.Close(), "closing twice is a no-op")
		})
	}
}

func TestSQLiteStore_NotOpen(t *testing.T) {
	ctx := context.Background()
	store := NewSQLiteStore()

	assert.ErrorIs(t, store.Migrate(), ErrNotOpen)
	assert.ErrorIs(t, store.SaveConversion(ctx, &Conversion{}), ErrNotOpen)

	_, err := store.GetConversion(ctx, "x")
	assert.ErrorIs(t, err, ErrNotOpen)
	_, err = store.ListConversions(ctx, 0)
	assert.ErrorIs(t, err, ErrNotOpen)
	_, _, err = store.GetNodeColumns(ctx, "x", 1)
	assert.ErrorIs(t, err, ErrNotOpen)
	_, err = store.TraceColumn(ctx, "x", 1, "c")
	assert.ErrorIs(t, err, ErrNotOpen)
	_, err = store.GetMigrationVersion()
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestSQLiteStore_SaveAndGetConversion(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	c := ordersConversion()
	require.NoError(t, store.SaveConversion(ctx, c))
	require.NotEmpty(t, c.ID)
	require.False(t, c.CreatedAt.IsZero())

	got, err := store.GetConversion(ctx, c.ID)
	require.NoError(t, err)

	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, "orders", got.Workflow)
	assert.Equal(t, "workflows/orders.yaml", got.Path)
	assert.Equal(t, "duckdb", got.Dialect)
	assert.Equal(t, "view", got.Mode)
	assert.Equal(t, c.SQL, got.SQL)
	assert.True(t, c.CreatedAt.Equal(got.CreatedAt))

	require.Len(t, got.Nodes, 6)
	assert.Equal(t, c.Nodes, got.Nodes, "nodes round-trip in order")
	assert.Equal(t, c.Diagnostics, got.Diagnostics)
}

func TestSQLiteStore_GetConversionNotFound(t *testing.T) {
	store := setupTestStore(t)
	_, err := store.GetConversion(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_SaveKeepsGivenID(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c := &Conversion{ID: "fixed", Workflow: "w", CreatedAt: at}
	require.NoError(t, store.SaveConversion(ctx, c))
	assert.Equal(t, "fixed", c.ID)

	got, err := store.GetConversion(ctx, "fixed")
	require.NoError(t, err)
	assert.True(t, at.Equal(got.CreatedAt))
	assert.Empty(t, got.Nodes)
	assert.Empty(t, got.Diagnostics)

	assert.Error(t, store.SaveConversion(ctx, &Conversion{ID: "fixed"}), "duplicate id")
}

func TestSQLiteStore_ListConversions(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, name := range []string{"first", "second", "third"} {
		c := ordersConversion()
		c.Workflow = name
		c.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, store.SaveConversion(ctx, c))
	}

	tests := []struct {
		name  string
		limit int
		want  []string
	}{
		{name: "all", limit: 0, want: []string{"third", "second", "first"}},
		{name: "negative is all", limit: -5, want: []string{"third", "second", "first"}},
		{name: "limited", limit: 2, want: []string{"third", "second"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := store.ListConversions(ctx, tt.limit)
			require.NoError(t, err)
			var names []string
			for _, s := range list {
				names = append(names, s.Workflow)
			}
			assert.Equal(t, tt.want, names)
		})
	}

	list, err := store.ListConversions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	c := ordersConversion()
	want := c.Summary()
	assert.Equal(t, want.NodeCount, list[0].NodeCount)
	assert.Equal(t, 6, list[0].NodeCount)
	assert.Equal(t, 1, list[0].UnresolvedCount)
	assert.Equal(t, 1, list[0].ErrorCount)
	assert.Equal(t, 1, list[0].WarningCount)
}

func TestConversion_Summary(t *testing.T) {
	c := ordersConversion()
	c.Diagnostics = append(c.Diagnostics, core.Diagnostic{Severity: core.SeverityInfo, Message: "note"})
	s := c.Summary()
	assert.Equal(t, 6, s.NodeCount)
	assert.Equal(t, 1, s.UnresolvedCount)
	assert.Equal(t, 1, s.ErrorCount)
	assert.Equal(t, 1, s.WarningCount)
}

func TestSQLiteStore_GetNodeColumns(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	c := ordersConversion()
	require.NoError(t, store.SaveConversion(ctx, c))

	in, out, err := store.GetNodeColumns(ctx, c.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, core.Schema{"id", "customer", "amount", "customer (#1)", "name"}, in)
	assert.Equal(t, core.Schema{"id", "customer", "total", "customer (#1)", "name"}, out)

	in, out, err = store.GetNodeColumns(ctx, c.ID, 6)
	require.NoError(t, err)
	assert.Empty(t, in)
	assert.Empty(t, out)

	_, _, err = store.GetNodeColumns(ctx, c.ID, 42)
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = store.GetNodeColumns(ctx, "missing", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_TraceColumn(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	c := ordersConversion()
	require.NoError(t, store.SaveConversion(ctx, c))

	step := func(id int, kind core.Kind, name, column string, origin bool) TraceStep {
		return TraceStep{NodeID: core.NodeID(id), Kind: kind, Name: name, Column: column, Origin: origin}
	}

	tests := []struct {
		name   string
		node   core.NodeID
		column string
		want   []TraceStep
	}{
		{
			name: "computed column originates at its node", node: 5, column: "tax",
			want: []TraceStep{step(5, core.KindMathFormula, "", "tax", true)},
		},
		{
			name: "rename is followed under the old name", node: 5, column: "total",
			want: []TraceStep{
				step(5, core.KindMathFormula, "", "total", false),
				step(4, core.KindColumnRename, "", "total", false),
				step(3, core.KindJoiner, "", "amount", false),
				step(1, core.KindCSVReader, "orders", "amount", true),
			},
		},
		{
			name: "colliding join column keeps the left side", node: 4, column: "customer",
			want: []TraceStep{
				step(4, core.KindColumnRename, "", "customer", false),
				step(3, core.KindJoiner, "", "customer", false),
				step(1, core.KindCSVReader, "orders", "customer", true),
			},
		},
		{
			name: "suffixed join column comes from the right side", node: 4, column: "customer (#1)",
			want: []TraceStep{
				step(4, core.KindColumnRename, "", "customer (#1)", false),
				step(3, core.KindJoiner, "", "customer (#1)", false),
				step(2, core.KindCSVReader, "customers", "customer", true),
			},
		},
		{
			name: "right only join column", node: 3, column: "name",
			want: []TraceStep{
				step(3, core.KindJoiner, "", "name", false),
				step(2, core.KindCSVReader, "customers", "name", true),
			},
		},
		{
			name: "source column", node: 1, column: "id",
			want: []TraceStep{step(1, core.KindCSVReader, "orders", "id", true)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.TraceColumn(ctx, c.ID, tt.node, tt.column)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := store.TraceColumn(ctx, c.ID, 5, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.TraceColumn(ctx, c.ID, 99, "id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_DatabaseErrors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		setupMock func(mock sqlmock.Sqlmock)
		run       func(s *SQLiteStore) error
		errMsg    string
	}{
		{
			name: "begin fails",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin().WillReturnError(assert.AnError)
			},
			run:    func(s *SQLiteStore) error { return s.SaveConversion(ctx, &Conversion{Workflow: "w"}) },
			errMsg: "failed to begin transaction",
		},
		{
			name: "insert rolls back",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO conversions").WillReturnError(assert.AnError)
				mock.ExpectRollback()
			},
			run:    func(s *SQLiteStore) error { return s.SaveConversion(ctx, &Conversion{Workflow: "w"}) },
			errMsg: "failed to insert conversion",
		},
		{
			name: "node insert rolls back",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO conversions").WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectExec("INSERT INTO node_results").WillReturnError(assert.AnError)
				mock.ExpectRollback()
			},
			run: func(s *SQLiteStore) error {
				return s.SaveConversion(ctx, &Conversion{Workflow: "w", Nodes: []NodeResult{{NodeID: 1}}})
			},
			errMsg: "failed to insert node 1",
		},
		{
			name: "list query fails",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT c.id").WillReturnError(assert.AnError)
			},
			run: func(s *SQLiteStore) error {
				_, err := s.ListConversions(ctx, 10)
				return err
			},
			errMsg: "failed to list conversions",
		},
		{
			name: "get query fails",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT id, workflow").WillReturnError(assert.AnError)
			},
			run: func(s *SQLiteStore) error {
				_, err := s.GetConversion(ctx, "x")
				return err
			},
			errMsg: "failed to get conversion",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()
			tt.setupMock(mock)

			err = tt.run(NewSQLiteStoreWithDB(db))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
			assert.ErrorIs(t, err, assert.AnError)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
