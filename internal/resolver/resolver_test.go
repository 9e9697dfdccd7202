package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/flowsql/internal/dag"
	"github.com/leapstack-labs/flowsql/internal/kinds"
	"github.com/leapstack-labs/flowsql/internal/testutil"
	"github.com/leapstack-labs/flowsql/pkg/core"
	"github.com/leapstack-labs/flowsql/pkg/settings"
)

func resolve(t *testing.T, nodes []core.NodeDecl, conns ...core.Connection) *Result {
	t.Helper()
	res, err := Resolve(context.Background(), &core.Workflow{Name: t.Name(), Nodes: nodes, Connections: conns},
		Options{Logger: testutil.NewTestLogger(t)})
	require.NoError(t, err)
	return res
}

func get(t *testing.T, res *Result, id int) *core.ResolvedNode {
	t.Helper()
	n, ok := res.Node(core.NodeID(id))
	require.True(t, ok, "node %d not in result", id)
	return n
}

func TestResolve_FilterRemovesColumn(t *testing.T) {
	res := resolve(t, []core.NodeDecl{testutil.Source(1, "a", "b", "c"), testutil.ExcludeFilter(2, "b")}, testutil.Edge(1, 2))

	n := get(t, res, 2)
	assert.False(t, n.Unresolved, n.Reason)
	assert.Equal(t, core.Schema{"a", "b", "c"}, n.InputSchema)
	assert.Equal(t, core.Schema{"a", "c"}, n.OutputSchema)
	assert.Equal(t, []string{"b"}, n.Removed)
	assert.Empty(t, res.Diagnostics)
}

func TestResolve_RenameKeepsPosition(t *testing.T) {
	rename := testutil.Node(2, core.KindColumnRename, settings.New("model").Add(
		settings.New("all_columns").Add(
			settings.New("0").Set("old_column_name", "x").Set("new_column_name", "z"),
		),
	))
	res := resolve(t, []core.NodeDecl{testutil.Source(1, "x", "y"), rename}, testutil.Edge(1, 2))

	n := get(t, res, 2)
	assert.Equal(t, core.Schema{"z", "y"}, n.OutputSchema)
	assert.Equal(t, map[string]string{"x": "z"}, n.Renamed)
}

func TestResolve_RenameErrors(t *testing.T) {
	tests := []struct {
		name     string
		from, to string
	}{
		{"unknown column", "nope", "z"},
		{"collision", "x", "y"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rename := testutil.Node(2, core.KindColumnRename, settings.New("model").Add(
				settings.New("all_columns").Add(
					settings.New("0").Set("old_column_name", tt.from).Set("new_column_name", tt.to),
				),
			))
			res := resolve(t, []core.NodeDecl{testutil.Source(1, "x", "y"), rename}, testutil.Edge(1, 2))

			n := get(t, res, 2)
			assert.True(t, n.Unresolved)
			assert.Nil(t, n.OutputSchema)
			assert.Len(t, res.Diagnostics.WithCode(core.CodeSettings), 1)
		})
	}
}

func TestResolve_JoinMergesKeys(t *testing.T) {
	res := resolve(t,
		[]core.NodeDecl{testutil.Source(1, "id", "name"), testutil.Source(2, "id", "amount"), testutil.Joiner(3, "id", "id", true)},
		testutil.PortEdge(1, 3, 0), testutil.PortEdge(2, 3, 1))

	n := get(t, res, 3)
	require.False(t, n.Unresolved, n.Reason)
	assert.Equal(t, core.Schema{"id", "name", "amount"}, n.OutputSchema)
}

func TestResolve_JoinSuffixesDuplicates(t *testing.T) {
	res := resolve(t,
		[]core.NodeDecl{testutil.Source(1, "id", "name"), testutil.Source(2, "id", "name"), testutil.Joiner(3, "id", "id", false)},
		testutil.PortEdge(1, 3, 0), testutil.PortEdge(2, 3, 1))

	n := get(t, res, 3)
	assert.Equal(t, core.Schema{"id", "name", "id (#1)", "name (#1)"}, n.OutputSchema)
	assert.Equal(t, map[string]string{"id": "id (#1)", "name": "name (#1)"}, n.Renamed)
}

func TestResolve_JoinPortsDecideSides(t *testing.T) {
	nodes := []core.NodeDecl{testutil.Source(1, "a", "k"), testutil.Source(2, "b", "k"), testutil.Joiner(3, "k", "k", true)}

	// The right input is declared first; ports still decide.
	res := resolve(t, nodes, testutil.PortEdge(2, 3, 1), testutil.PortEdge(1, 3, 0))

	n := get(t, res, 3)
	left, ok := n.PredecessorByRole(core.RoleLeft)
	require.True(t, ok)
	right, ok := n.PredecessorByRole(core.RoleRight)
	require.True(t, ok)
	assert.Equal(t, core.NodeID(1), left.ID)
	assert.Equal(t, core.NodeID(2), right.ID)
	assert.Equal(t, "node_1", left.Alias)
	assert.Equal(t, []string{"node_1", "node_2"}, n.PredecessorAliases())
	assert.Equal(t, core.Schema{"a", "k", "b"}, n.OutputSchema)
}

func TestResolve_JoinPortProblems(t *testing.T) {
	nodes := []core.NodeDecl{testutil.Source(1, "k"), testutil.Source(2, "k"), testutil.Source(4, "k"), testutil.Joiner(3, "k", "k", true)}

	tests := []struct {
		name       string
		conns      []core.Connection
		codes      []core.Code
		unresolved bool
	}{
		{
			name:       "missing port leaves a side empty",
			conns:      []core.Connection{testutil.PortEdge(1, 3, 0), testutil.Edge(2, 3)},
			codes:      []core.Code{core.CodeMissingPort, core.CodeMissingSide},
			unresolved: true,
		},
		{
			name:       "invalid port is ignored",
			conns:      []core.Connection{testutil.PortEdge(1, 3, 0), testutil.PortEdge(2, 3, 1), testutil.PortEdge(4, 3, 7)},
			codes:      []core.Code{core.CodeInvalidPort},
			unresolved: false,
		},
		{
			name:       "second claim on a side loses",
			conns:      []core.Connection{testutil.PortEdge(1, 3, 0), testutil.PortEdge(4, 3, 0), testutil.PortEdge(2, 3, 1)},
			codes:      []core.Code{core.CodePortConflict},
			unresolved: false,
		},
		{
			name:       "no inputs at all",
			conns:      nil,
			codes:      []core.Code{core.CodeMissingSide},
			unresolved: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := resolve(t, nodes, tt.conns...)
			n := get(t, res, 3)
			assert.Equal(t, tt.unresolved, n.Unresolved, n.Reason)

			var codes []core.Code
			for _, d := range res.Diagnostics.ForNode(3) {
				codes = append(codes, d.Code)
			}
			assert.Equal(t, tt.codes, codes)
		})
	}

	res := resolve(t, nodes, testutil.PortEdge(1, 3, 0), testutil.PortEdge(4, 3, 0), testutil.PortEdge(2, 3, 1))
	left, _ := get(t, res, 3).PredecessorByRole(core.RoleLeft)
	assert.Equal(t, core.NodeID(1), left.ID, "first declared claim keeps the side")
}

func TestResolve_ConcatenateIntersection(t *testing.T) {
	concat := testutil.Node(4, core.KindConcatenate, settings.New("model").SetBool("intersection_of_columns", true))
	res := resolve(t,
		[]core.NodeDecl{testutil.Source(1, "a", "b"), testutil.Source(2, "a", "b", "c"), testutil.Source(3, "a", "b"), concat},
		testutil.Edge(1, 4), testutil.Edge(2, 4), testutil.Edge(3, 4))

	n := get(t, res, 4)
	assert.Equal(t, core.Schema{"a", "b"}, n.OutputSchema)
	assert.Len(t, n.Predecessors, 3)
	for _, p := range n.Predecessors {
		assert.Equal(t, core.RoleInput, p.Role)
	}
}

func TestResolve_ConcatenateUnionAndPassThrough(t *testing.T) {
	union := testutil.Node(3, core.KindConcatenate, nil)
	single := testutil.Node(4, core.KindConcatenate, nil)
	empty := testutil.Node(5, core.KindConcatenate, nil)
	res := resolve(t,
		[]core.NodeDecl{testutil.Source(1, "a", "b"), testutil.Source(2, "c", "a"), union, single, empty},
		testutil.Edge(1, 3), testutil.Edge(2, 3), testutil.Edge(2, 4))

	assert.Equal(t, core.Schema{"a", "b", "c"}, get(t, res, 3).OutputSchema)
	assert.Equal(t, core.Schema{"c", "a"}, get(t, res, 4).OutputSchema)

	n := get(t, res, 5)
	assert.True(t, n.Unresolved)
	assert.Len(t, res.Diagnostics.WithCode(core.CodeNoPredecessor), 1)
}

func TestResolve_TopologicalOrderHoldsForEveryEdge(t *testing.T) {
	nodes := []core.NodeDecl{
		testutil.ExcludeFilter(5, "z"),
		testutil.Source(1, "a", "z"),
		testutil.ExcludeFilter(3),
		testutil.ExcludeFilter(4),
		testutil.Source(2, "b"),
		testutil.Node(6, core.KindConcatenate, nil),
	}
	conns := []core.Connection{testutil.Edge(4, 5), testutil.Edge(1, 3), testutil.Edge(3, 4), testutil.Edge(5, 6), testutil.Edge(2, 6)}
	res := resolve(t, nodes, conns...)

	require.Len(t, res.Ordered, len(nodes))
	for _, c := range conns {
		src, dst := get(t, res, int(c.Source)), get(t, res, int(c.Dest))
		assert.Less(t, src.Order, dst.Order, "edge %s->%s", c.Source, c.Dest)
	}
	assert.Equal(t, core.Schema{"a", "b"}, get(t, res, 6).OutputSchema)

	// Results stay in declaration order.
	assert.Equal(t, core.NodeID(5), res.Nodes[0].ID)
}

func TestResolve_CycleTaintsEverythingDownstream(t *testing.T) {
	nodes := []core.NodeDecl{testutil.Source(1, "a"), testutil.ExcludeFilter(2), testutil.ExcludeFilter(3), testutil.ExcludeFilter(4), testutil.ExcludeFilter(5)}
	// 2 <-> 3 is a cycle; 4 hangs off it; 5 only depends on the source.
	res := resolve(t, nodes, testutil.Edge(1, 2), testutil.Edge(2, 3), testutil.Edge(3, 2), testutil.Edge(3, 4), testutil.Edge(1, 5))

	assert.Less(t, len(res.Ordered), len(nodes))
	for _, id := range []int{2, 3, 4} {
		n := get(t, res, id)
		assert.True(t, n.Unresolved, "node %d", id)
		assert.Equal(t, dag.Unordered, n.Order)
		assert.Nil(t, n.OutputSchema)
	}
	assert.False(t, get(t, res, 5).Unresolved)
	assert.Equal(t, core.Schema{"a"}, get(t, res, 5).OutputSchema)
	assert.Len(t, res.Diagnostics.WithCode(core.CodeCycle), 1)
	assert.Len(t, res.Diagnostics.WithCode(core.CodeUnordered), 3)
}

func TestResolve_DedupOnReAdd(t *testing.T) {
	constant := testutil.Node(2, core.KindConstantValueColumn, settings.New("model").Set("column-name", "a").Set("value", "1"))
	formula := testutil.Node(3, core.KindMathFormula, settings.New("model").Set("expression", "$b$ * 2").Set("new_column_name", "d"))
	res := resolve(t, []core.NodeDecl{testutil.Source(1, "a", "b", "c"), constant, formula}, testutil.Edge(1, 2), testutil.Edge(2, 3))

	assert.Equal(t, core.Schema{"a", "b", "c"}, get(t, res, 2).OutputSchema)
	assert.Equal(t, core.Schema{"a", "b", "c", "d"}, get(t, res, 3).OutputSchema)
}

func TestResolve_SourceIgnoresInput(t *testing.T) {
	res := resolve(t, []core.NodeDecl{testutil.Source(1, "x", "y"), testutil.Source(2, "a", "b")}, testutil.Edge(1, 2))

	n := get(t, res, 2)
	assert.False(t, n.Unresolved)
	assert.Equal(t, core.Schema{"a", "b"}, n.OutputSchema)
	assert.Empty(t, n.InputSchema)
	assert.Empty(t, n.Predecessors)

	diags := res.Diagnostics.WithCode(core.CodeSourceInput)
	require.Len(t, diags, 1)
	assert.Equal(t, core.SeverityWarning, diags[0].Severity)
	assert.Contains(t, diags[0].Message, "#1")
}

func TestResolve_SingleInputWithSeveralPredecessors(t *testing.T) {
	res := resolve(t,
		[]core.NodeDecl{testutil.Source(1, "a", "b"), testutil.Source(2, "b", "c"), testutil.ExcludeFilter(3, "b")},
		testutil.Edge(2, 3), testutil.Edge(1, 3))

	n := get(t, res, 3)
	require.False(t, n.Unresolved)
	assert.Equal(t, core.Schema{"b", "c", "a"}, n.InputSchema)
	assert.Equal(t, core.Schema{"c", "a"}, n.OutputSchema)

	primary, ok := n.PredecessorByRole(core.RolePrimary)
	require.True(t, ok)
	assert.Equal(t, core.NodeID(2), primary.ID, "first declared connection is the primary input")
	assert.Len(t, res.Diagnostics.WithCode(core.CodeExtraPredecessor), 1)

	extra, ok := n.PredecessorByRole(core.RoleExtra)
	require.True(t, ok)
	assert.Equal(t, core.NodeID(1), extra.ID)
	for _, p := range n.Predecessors {
		assert.Zero(t, p.Port, "undeclared ports default to 0 for %s", p.ID)
	}
}

func TestResolve_NoPredecessor(t *testing.T) {
	res := resolve(t, []core.NodeDecl{testutil.ExcludeFilter(1, "a"), testutil.ExcludeFilter(2)}, testutil.Edge(1, 2))

	assert.True(t, get(t, res, 1).Unresolved)
	assert.Equal(t, "no predecessor", get(t, res, 1).Reason)
	assert.True(t, get(t, res, 2).Unresolved)
	assert.Equal(t, "upstream node #1 is unresolved", get(t, res, 2).Reason)
}

func TestResolve_UnsupportedKindTaintsSuccessors(t *testing.T) {
	unknown := core.NodeDecl{ID: 2, Kind: core.KindUnsupported, Factory: "org.example.MagicNodeFactory"}
	res := resolve(t,
		[]core.NodeDecl{testutil.Source(1, "a"), unknown, testutil.ExcludeFilter(3), testutil.ExcludeFilter(4)},
		testutil.Edge(1, 2), testutil.Edge(2, 3), testutil.Edge(3, 4))

	assert.Contains(t, get(t, res, 2).Reason, "org.example.MagicNodeFactory")
	assert.True(t, get(t, res, 3).Unresolved)
	assert.True(t, get(t, res, 4).Unresolved)
	assert.Len(t, res.Diagnostics.WithCode(core.CodeUnsupportedKind), 1)
	assert.Len(t, res.Unresolved(), 3)
}

func TestResolve_DanglingEdgeTaintsTarget(t *testing.T) {
	res := resolve(t, []core.NodeDecl{testutil.Source(1, "a"), testutil.ExcludeFilter(2), testutil.ExcludeFilter(3)},
		testutil.Edge(1, 2), testutil.Edge(99, 2), testutil.Edge(2, 3))

	assert.True(t, get(t, res, 2).Unresolved)
	assert.Contains(t, get(t, res, 2).Reason, "#99")
	assert.True(t, get(t, res, 3).Unresolved)
	assert.True(t, res.Diagnostics.HasErrors())
}

func TestResolve_ColumnMergerUniquifies(t *testing.T) {
	merger := testutil.Node(2, core.KindColumnMerger, settings.New("model").
		Set("primaryColumn", "a").
		Set("secondaryColumn", "b").
		Set("outputPlacement", "Append as new column").
		Set("outputName", "a"))
	both := testutil.Node(3, core.KindColumnMerger, settings.New("model").
		Set("primaryColumn", "a").
		Set("secondaryColumn", "b").
		Set("outputPlacement", "Replace both"))
	res := resolve(t, []core.NodeDecl{testutil.Source(1, "a", "b"), merger, both}, testutil.Edge(1, 2), testutil.Edge(2, 3))

	assert.Equal(t, core.Schema{"a", "b", "a (#1)"}, get(t, res, 2).OutputSchema)
	assert.Equal(t, core.Schema{"a", "a (#1)"}, get(t, res, 3).OutputSchema)
}

func TestResolve_GroupBy(t *testing.T) {
	group := testutil.Node(2, core.KindGroupBy, settings.New("model").Add(
		settings.New("grouByColumns").Add(settings.NewArray("InclList", "region")),
		settings.New("aggregationColumn").Add(
			settings.NewArray("columnNames", "amount"),
			settings.NewArray("aggregationMethod", "Sum"),
		),
	))
	res := resolve(t, []core.NodeDecl{testutil.Source(1, "region", "amount", "id"), group}, testutil.Edge(1, 2))

	n := get(t, res, 2)
	assert.Equal(t, core.Schema{"region", "Sum(amount)"}, n.OutputSchema)
	assert.Equal(t, []string{"amount", "id"}, n.Removed)
	assert.Equal(t, []string{"Sum(amount)"}, n.Added)
}

func TestResolve_IsDeterministic(t *testing.T) {
	nodes := []core.NodeDecl{
		testutil.Source(1, "id", "name"), testutil.Source(2, "id", "amount"),
		testutil.Joiner(3, "id", "id", false), testutil.ExcludeFilter(4, "name"),
	}
	conns := []core.Connection{testutil.PortEdge(1, 3, 0), testutil.PortEdge(2, 3, 1), testutil.Edge(3, 4)}

	first := resolve(t, nodes, conns...)
	second := resolve(t, nodes, conns...)
	assert.Equal(t, first.Nodes, second.Nodes)
	assert.Equal(t, first.Ordered, second.Ordered)
	assert.Equal(t, first.Diagnostics, second.Diagnostics)
}

func TestResolve_DoesNotMutateInput(t *testing.T) {
	wf := &core.Workflow{
		Nodes:       []core.NodeDecl{testutil.Source(1, "a", "b"), testutil.ExcludeFilter(2, "b")},
		Connections: []core.Connection{testutil.Edge(1, 2)},
	}
	before := len(wf.Nodes[0].Settings.Children[0].Entries)

	_, err := Resolve(context.Background(), wf, Options{})
	require.NoError(t, err)
	assert.Len(t, wf.Nodes[0].Settings.Children[0].Entries, before)
	assert.Equal(t, core.KindColumnFilter, wf.Nodes[1].Kind)
}

func TestResolve_AliasPrefix(t *testing.T) {
	res, err := Resolve(context.Background(),
		&core.Workflow{Nodes: []core.NodeDecl{testutil.Source(7, "a")}},
		Options{AliasPrefix: "step_"})
	require.NoError(t, err)

	n, _ := res.Node(7)
	assert.Equal(t, "step_7", n.Alias)
}

func TestResolve_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Resolve(ctx, &core.Workflow{Nodes: []core.NodeDecl{testutil.Source(1, "a")}}, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestColumnRule_CoversEveryKind(t *testing.T) {
	two := PredecessorSet{Inputs: []core.Predecessor{{ID: 1}, {ID: 2}}}
	for _, k := range core.AllKinds {
		t.Run(k.String(), func(t *testing.T) {
			decl := &core.NodeDecl{ID: 1, Kind: k, Settings: settings.New("model")}
			_, err := columnRule(decl, core.Schema{"a"}, two)
			assert.False(t, errors.Is(err, ErrInvariant), "kind %s has no column rule", k)
		})
	}
}

func TestColumnRule_SettingsErrorsAreTyped(t *testing.T) {
	decl := &core.NodeDecl{ID: 1, Kind: core.KindColumnMerger, Settings: settings.New("model").
		Set("primaryColumn", "a").Set("secondaryColumn", "missing")}
	_, err := columnRule(decl, core.Schema{"a"}, PredecessorSet{})
	assert.ErrorIs(t, err, kinds.ErrInvalidSetting)
}
