package testutil

import (
	"github.com/leapstack-labs/flowsql/pkg/core"
	"github.com/leapstack-labs/flowsql/pkg/settings"
)

// Source returns a CSV reader node declaring cols.
func Source(id int, cols ...string) core.NodeDecl {
	return core.NodeDecl{
		ID:       core.NodeID(id),
		Kind:     core.KindCSVReader,
		Factory:  core.KindCSVReader.String(),
		Name:     "source",
		Settings: settings.New("model").Set("path", "in.csv").Add(settings.NewArray("columns", cols...)),
	}
}

// Node returns a node of kind with the given settings.
func Node(id int, kind core.Kind, cfg *settings.Config) core.NodeDecl {
	return core.NodeDecl{ID: core.NodeID(id), Kind: kind, Factory: kind.String(), Settings: cfg}
}

// ExcludeFilter returns a column filter removing cols.
func ExcludeFilter(id int, cols ...string) core.NodeDecl {
	return Node(id, core.KindColumnFilter, settings.New("model").Add(
		settings.New("column-filter").Add(settings.NewArray("excluded_names", cols...)),
	))
}

// Joiner returns an inner joiner on a single key pair.
func Joiner(id int, leftKey, rightKey string, merge bool) core.NodeDecl {
	return Node(id, core.KindJoiner, settings.New("model").
		SetBool("mergeJoinColumns", merge).
		Add(
			settings.NewArray("leftTableJoinPredicate", leftKey),
			settings.NewArray("rightTableJoinPredicate", rightKey),
		))
}

// Edge returns a connection without ports.
func Edge(src, dst int) core.Connection {
	return core.Connection{Source: core.NodeID(src), Dest: core.NodeID(dst)}
}

// PortEdge returns a connection into destination port p.
func PortEdge(src, dst, p int) core.Connection {
	return core.Connection{Source: core.NodeID(src), Dest: core.NodeID(dst), DestPort: core.Port(p)}
}
