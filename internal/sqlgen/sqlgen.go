// Package sqlgen turns a resolved workflow into SQL.
//
// Every ordered node gets a Fragment: a SELECT reading from the aliases of its
// predecessors. Fragments are then composed into a script of views or of one
// WITH query per leaf node. A node whose fragment cannot be generated taints
// all fragments downstream of it; the rest of the script is still produced.
package sqlgen

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/leapstack-labs/flowsql/internal/resolver"
	"github.com/leapstack-labs/flowsql/pkg/core"
	"github.com/leapstack-labs/flowsql/pkg/dialect"
)

// Mode selects how fragments are composed into statements.
type Mode string

const (
	// ModeView emits one CREATE VIEW per node.
	ModeView Mode = "view"
	// ModeCTE emits one WITH query per leaf node.
	ModeCTE Mode = "cte"
)

// ErrUnknownMode is returned by ParseMode.
var ErrUnknownMode = errors.New("unknown composition mode")

// ParseMode parses a mode name. The empty string selects ModeView.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeView:
		return ModeView, nil
	case ModeCTE:
		return ModeCTE, nil
	}
	return "", fmt.Errorf("%w: %q (want %s or %s)", ErrUnknownMode, s, ModeView, ModeCTE)
}

// Options configures generation.
type Options struct {
	// Dialect renders identifiers and functions (default dialect.Default()).
	Dialect *dialect.Dialect
	Mode    Mode
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

// Fragment is the SQL of one node.
type Fragment struct {
	NodeID core.NodeID `json:"id"`
	Alias  string      `json:"alias"`
	Kind   core.Kind   `json:"kind"`
	SQL    string      `json:"sql,omitempty"`
	// Err says why the node has no SQL.
	Err string `json:"error,omitempty"`
}

// OK reports whether the fragment has SQL.
func (f Fragment) OK() bool { return f.Err == "" }

// Statement is one composed, executable SQL statement.
type Statement struct {
	NodeID core.NodeID `json:"id"`
	Name   string      `json:"name"`
	SQL    string      `json:"sql"`
}

// Script is the generated SQL of a workflow.
type Script struct {
	Mode    Mode   `json:"mode"`
	Dialect string `json:"dialect"`
	// Fragments are in topological order followed by unordered nodes.
	Fragments  []Fragment  `json:"fragments"`
	Statements []Statement `json:"statements"`
}

// Fragment returns the fragment of node id.
func (s *Script) Fragment(id core.NodeID) (Fragment, bool) {
	for _, f := range s.Fragments {
		if f.NodeID == id {
			return f, true
		}
	}
	return Fragment{}, false
}

// Failed returns the fragments without SQL.
func (s *Script) Failed() []Fragment {
	var out []Fragment
	for _, f := range s.Fragments {
		if !f.OK() {
			out = append(out, f)
		}
	}
	return out
}

// String renders the statements separated by blank lines, followed by a
// comment for every node without SQL.
func (s *Script) String() string {
	parts := make([]string, 0, len(s.Statements)+1)
	for _, st := range s.Statements {
		parts = append(parts, st.SQL)
	}
	if failed := s.Failed(); len(failed) > 0 {
		lines := make([]string, len(failed))
		for i, f := range failed {
			lines[i] = fmt.Sprintf("-- %s (%s): %s", f.Alias, f.Kind, f.Err)
		}
		parts = append(parts, strings.Join(lines, "\n"))
	}
	return strings.Join(parts, "\n\n")
}

// Generate produces the fragments and statements of a resolved workflow.
func Generate(res *resolver.Result, opts Options) (*Script, error) {
	if res == nil {
		return nil, errors.New("sqlgen: nil resolution result")
	}
	d := opts.Dialect
	if d == nil {
		d = dialect.Default()
	}
	mode := opts.Mode
	if mode == "" {
		mode = ModeView
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	script := &Script{Mode: mode, Dialect: d.Name}
	done := make(map[core.NodeID]int, len(res.Nodes))

	for _, n := range res.InOrder() {
		f := Fragment{NodeID: n.ID, Alias: n.Alias, Kind: n.Kind}
		switch {
		case n.Unresolved:
			f.Err = "unresolved: " + n.Reason
		default:
			decl, ok := res.Decl(n.ID)
			if !ok || !allDone(n, done) {
				return nil, fmt.Errorf("sqlgen: node #%d reached before its inputs", int(n.ID))
			}
			if up, failed := failedPredecessor(n, script, done); failed {
				f.Err = fmt.Sprintf("upstream node #%d has no SQL", int(up))
				break
			}
			sql, err := GenerateNode(n, decl.Settings, d)
			if err != nil {
				f.Err = err.Error()
				logger.Warn("node has no SQL", "node", int(n.ID), "kind", n.Kind.String(), "error", err)
				break
			}
			f.SQL = sql
		}
		done[n.ID] = len(script.Fragments)
		script.Fragments = append(script.Fragments, f)
	}

	// Nodes outside the topological order never resolve.
	for i := range res.Nodes {
		n := &res.Nodes[i]
		if _, ok := done[n.ID]; ok {
			continue
		}
		done[n.ID] = len(script.Fragments)
		script.Fragments = append(script.Fragments, Fragment{
			NodeID: n.ID, Alias: n.Alias, Kind: n.Kind, Err: "unresolved: " + n.Reason,
		})
	}

	switch mode {
	case ModeView:
		script.Statements = composeViews(script, d)
	case ModeCTE:
		script.Statements = composeCTEs(script, res, d, done)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}

	logger.Debug("sql generated",
		"mode", string(mode),
		"dialect", d.Name,
		"fragments", len(script.Fragments),
		"failed", len(script.Failed()),
		"statements", len(script.Statements))
	return script, nil
}

// failedPredecessor returns the first predecessor of n whose fragment failed.
func failedPredecessor(n *core.ResolvedNode, s *Script, done map[core.NodeID]int) (core.NodeID, bool) {
	for _, p := range n.Predecessors {
		if i, ok := done[p.ID]; ok && !s.Fragments[i].OK() {
			return p.ID, true
		}
	}
	return core.NoNode, false
}

func allDone(n *core.ResolvedNode, done map[core.NodeID]int) bool {
	for _, p := range n.Predecessors {
		if _, ok := done[p.ID]; !ok {
			return false
		}
	}
	return true
}

func composeViews(s *Script, d *dialect.Dialect) []Statement {
	var out []Statement
	for _, f := range s.Fragments {
		if !f.OK() {
			continue
		}
		out = append(out, Statement{
			NodeID: f.NodeID,
			Name:   f.Alias,
			SQL:    d.CreateView(d.QuoteIdentifierIfNeeded(f.Alias)) + "\n" + f.SQL + ";",
		})
	}
	return out
}

// composeCTEs builds one query per leaf node. The query defines every node
// the leaf reads from, in topological order, and selects from the leaf.
// Leaves whose inputs include a failed fragment get no query.
func composeCTEs(s *Script, res *resolver.Result, d *dialect.Dialect, done map[core.NodeID]int) []Statement {
	var out []Statement
	for _, leaf := range res.Graph.GetLeaves() {
		i, ok := done[leaf]
		if !ok || !s.Fragments[i].OK() {
			continue
		}

		ids, ok := inputClosure(res, s, done, leaf)
		if !ok {
			continue
		}
		sort.SliceStable(ids, func(a, b int) bool { return done[ids[a]] < done[ids[b]] })

		ctes := make([]string, 0, len(ids))
		for _, id := range ids {
			f := s.Fragments[done[id]]
			ctes = append(ctes, fmt.Sprintf("%s AS (\n%s\n)", d.QuoteIdentifierIfNeeded(f.Alias), indent(f.SQL, "  ")))
		}
		leafFrag := s.Fragments[i]
		out = append(out, Statement{
			NodeID: leaf,
			Name:   leafFrag.Alias,
			SQL: "WITH " + strings.Join(ctes, ",\n") +
				"\nSELECT *\nFROM " + d.QuoteIdentifierIfNeeded(leafFrag.Alias) + ";",
		})
	}
	return out
}

// inputClosure returns leaf and every node it reads from through resolved
// predecessors. Graph edges the resolver ignored (invalid join ports, inputs
// of sources) are not followed. It reports false when a fragment in the
// closure has no SQL.
func inputClosure(res *resolver.Result, s *Script, done map[core.NodeID]int, leaf core.NodeID) ([]core.NodeID, bool) {
	seen := map[core.NodeID]bool{leaf: true}
	ids := []core.NodeID{leaf}
	for next := 0; next < len(ids); next++ {
		i, ok := done[ids[next]]
		if !ok || !s.Fragments[i].OK() {
			return nil, false
		}
		n, ok := res.Node(ids[next])
		if !ok {
			return nil, false
		}
		for _, p := range n.Predecessors {
			if !seen[p.ID] {
				seen[p.ID] = true
				ids = append(ids, p.ID)
			}
		}
	}
	return ids, true
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
