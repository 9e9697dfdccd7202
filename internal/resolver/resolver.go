// Package resolver computes the column flow of a workflow.
//
// Resolution is one pass over the nodes in topological order. Each node gets
// its inputs matched to ports, an input schema built from its predecessors and
// an output schema computed by the column rule of its kind. Problems with the
// workflow never fail the call: they become diagnostics and unresolved nodes,
// and an unresolved node taints everything downstream of it.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/flowsql/internal/dag"
	"github.com/leapstack-labs/flowsql/pkg/core"
)

// ErrInvariant reports a bug in the resolver itself, never a problem with the input.
var ErrInvariant = errors.New("resolver invariant violated")

// DefaultAliasPrefix is prepended to node ids to form SQL aliases.
const DefaultAliasPrefix = "node_"

// Options configures a resolution.
type Options struct {
	// AliasPrefix is prepended to node ids to form aliases (default "node_").
	AliasPrefix string
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

// Result is the resolved form of one workflow.
type Result struct {
	Workflow *core.Workflow
	Graph    *dag.Graph
	// Nodes are in declaration order.
	Nodes []core.ResolvedNode
	// Ordered lists the ids of ordered nodes in topological order.
	Ordered     []core.NodeID
	Diagnostics core.Diagnostics

	index map[core.NodeID]int
}

// Node returns the resolved node with the given id.
func (r *Result) Node(id core.NodeID) (*core.ResolvedNode, bool) {
	i, ok := r.index[id]
	if !ok {
		return nil, false
	}
	return &r.Nodes[i], true
}

// InOrder returns the ordered nodes in topological order.
func (r *Result) InOrder() []*core.ResolvedNode {
	out := make([]*core.ResolvedNode, 0, len(r.Ordered))
	for _, id := range r.Ordered {
		n, _ := r.Node(id)
		out = append(out, n)
	}
	return out
}

// Unresolved returns the unresolved nodes in declaration order.
func (r *Result) Unresolved() []*core.ResolvedNode {
	var out []*core.ResolvedNode
	for i := range r.Nodes {
		if r.Nodes[i].Unresolved {
			out = append(out, &r.Nodes[i])
		}
	}
	return out
}

// Decl returns the declaration a resolved node came from.
func (r *Result) Decl(id core.NodeID) (*core.NodeDecl, bool) {
	n, ok := r.Graph.GetNode(id)
	if !ok {
		return nil, false
	}
	return n.Decl, true
}

// Alias returns the SQL alias of node id under prefix.
func Alias(prefix string, id core.NodeID) string {
	return fmt.Sprintf("%s%d", prefix, int(id))
}

// Resolve builds the graph of wf and resolves every node.
//
// The returned error is non-nil only when ctx is done or an internal
// invariant is broken; everything wrong with the workflow itself is reported
// through Result.Diagnostics and per-node Unresolved flags. wf is not modified.
func Resolve(ctx context.Context, wf *core.Workflow, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	prefix := opts.AliasPrefix
	if prefix == "" {
		prefix = DefaultAliasPrefix
	}

	g := dag.Build(wf)
	res := &Result{
		Workflow:    wf,
		Graph:       g,
		Diagnostics: append(core.Diagnostics(nil), g.Diagnostics()...),
		index:       make(map[core.NodeID]int, g.NodeCount()),
	}

	declared := g.Declared()
	res.Nodes = make([]core.ResolvedNode, len(declared))
	for i, n := range declared {
		res.Nodes[i] = core.ResolvedNode{
			ID:      n.ID,
			Kind:    n.Kind,
			Name:    n.Decl.Name,
			Factory: n.Decl.Factory,
			Order:   n.Order,
			Alias:   Alias(prefix, n.ID),
		}
		res.index[n.ID] = i
	}

	done := make(map[core.NodeID]bool, g.OrderedCount())
	lookup := func(id core.NodeID) (*core.ResolvedNode, bool) {
		if !done[id] {
			return nil, false
		}
		return res.Node(id)
	}

	for _, n := range g.Ordered() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("resolve %q: %w", wf.Name, err)
		}
		if n.Order < 0 {
			return nil, fmt.Errorf("%w: ordered node %s has order %d", ErrInvariant, n.ID, n.Order)
		}
		rn, _ := res.Node(n.ID)
		if err := resolveNode(n, rn, g, lookup, res, logger); err != nil {
			return nil, err
		}
		done[n.ID] = true
		res.Ordered = append(res.Ordered, n.ID)
	}

	for _, id := range g.Unordered() {
		rn, _ := res.Node(id)
		markUnresolved(rn, "not ordered: part of a cycle or only reachable through one")
		res.Diagnostics = append(res.Diagnostics, core.Warnf(core.CodeUnordered, id, "%s", rn.Reason))
	}

	logger.Debug("workflow resolved",
		slog.String("workflow", wf.Name),
		slog.Int("nodes", len(res.Nodes)),
		slog.Int("ordered", len(res.Ordered)),
		slog.Int("unresolved", len(res.Unresolved())),
		slog.Int("diagnostics", len(res.Diagnostics)))
	return res, nil
}

func resolveNode(n *dag.Node, rn *core.ResolvedNode, g *dag.Graph, lookup Lookup, res *Result, logger *slog.Logger) error {
	if reason, tainted := g.Tainted(n.ID); tainted && !n.Kind.IsSource() {
		markUnresolved(rn, reason)
		return nil
	}
	if n.Kind == core.KindUnsupported {
		markUnresolved(rn, fmt.Sprintf("unsupported node factory %q", n.Decl.Factory))
		res.Diagnostics = append(res.Diagnostics, core.Errorf(core.CodeUnsupportedKind, n.ID, "%s", rn.Reason))
		return nil
	}

	preds, diags, err := ResolvePredecessors(n, lookup)
	if err != nil {
		return err
	}
	res.Diagnostics = append(res.Diagnostics, diags...)
	rn.Predecessors = preds.Inputs
	if preds.Blocked != "" {
		markUnresolved(rn, preds.Blocked)
		return nil
	}

	if !n.Kind.IsSource() {
		rn.InputSchema = core.Union(preds.Schemas()...)
		if rn.InputSchema == nil {
			rn.InputSchema = core.Schema{}
		}
	}

	d, err := columnRule(n.Decl, rn.InputSchema, preds)
	if errors.Is(err, ErrInvariant) {
		return err
	}
	if err != nil {
		markUnresolved(rn, err.Error())
		res.Diagnostics = append(res.Diagnostics, core.Errorf(core.CodeSettings, n.ID, "%v", err))
		return nil
	}
	if len(d.skipped) > 0 {
		logger.Warn("skipped malformed array entries",
			slog.String("node", n.ID.String()),
			slog.String("kind", n.Kind.String()),
			slog.Any("entries", d.skipped))
	}

	d.apply(rn)
	return nil
}

func markUnresolved(rn *core.ResolvedNode, reason string) {
	rn.Unresolved = true
	rn.Reason = reason
	rn.OutputSchema = nil
	rn.Added, rn.Removed, rn.Renamed = nil, nil, nil
}
