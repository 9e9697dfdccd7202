// Package dag builds the node graph of a workflow and orders it.
// It supports declaration-ordered topological sorting, cycle detection and
// upstream/downstream traversal.
package dag

import (
	"errors"
	"fmt"
	"sort"

	"github.com/leapstack-labs/flowsql/pkg/core"
)

// Unordered is the Order of a node the topological sort never reached.
const Unordered = -1

// Edge is a directed connection between two declared nodes.
type Edge struct {
	Source     core.NodeID
	Target     core.NodeID
	SourcePort *int
	TargetPort *int
	// Seq is the declaration index of the connection.
	Seq int
}

// SourcePortOr returns the source port, or def when it was not declared.
func (e Edge) SourcePortOr(def int) int {
	if e.SourcePort == nil {
		return def
	}
	return *e.SourcePort
}

// TargetPortOr returns the target port, or def when it was not declared.
func (e Edge) TargetPortOr(def int) int {
	if e.TargetPort == nil {
		return def
	}
	return *e.TargetPort
}

type edgeKey struct {
	source, target         core.NodeID
	sourcePort, targetPort int
	hasSource, hasTarget   bool
}

func (e Edge) key() edgeKey {
	k := edgeKey{source: e.Source, target: e.Target}
	if e.SourcePort != nil {
		k.sourcePort, k.hasSource = *e.SourcePort, true
	}
	if e.TargetPort != nil {
		k.targetPort, k.hasTarget = *e.TargetPort, true
	}
	return k
}

// Node represents a node in the graph.
type Node struct {
	ID   core.NodeID
	Kind core.Kind
	Decl *core.NodeDecl
	// Seq is the declaration index of the node.
	Seq int
	// Order is the topological position, or Unordered.
	Order    int
	Outgoing []Edge
	Incoming []Edge
}

// Graph is the node/edge graph of one workflow.
type Graph struct {
	nodes       map[core.NodeID]*Node
	declared    []core.NodeID // declaration order
	ordered     []core.NodeID // topological order
	edges       map[edgeKey]struct{}
	tainted     map[core.NodeID]string
	diagnostics core.Diagnostics
}

// NewGraph creates a new empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:   make(map[core.NodeID]*Node),
		edges:   make(map[edgeKey]struct{}),
		tainted: make(map[core.NodeID]string),
	}
}

// Build creates a graph from a workflow declaration and orders it.
// Structural problems are recorded as diagnostics; Build never fails.
func Build(wf *core.Workflow) *Graph {
	g := NewGraph()
	for i := range wf.Nodes {
		decl := &wf.Nodes[i]
		if err := g.AddNode(decl); err != nil {
			g.diagnostics = append(g.diagnostics, core.Errorf(core.CodeDuplicateNode, decl.ID, "%v", err))
		}
	}
	for i, c := range wf.Connections {
		g.addConnection(i, c)
	}
	g.Sort()
	return g
}

// AddNode adds a node to the graph. A second node with the same id is rejected.
func (g *Graph) AddNode(decl *core.NodeDecl) error {
	if _, exists := g.nodes[decl.ID]; exists {
		return fmt.Errorf("node %s declared more than once; later declaration ignored", decl.ID)
	}
	g.nodes[decl.ID] = &Node{ID: decl.ID, Kind: decl.Kind, Decl: decl, Seq: len(g.declared), Order: Unordered}
	g.declared = append(g.declared, decl.ID)
	return nil
}

// AddEdge adds a directed edge. Both ends must already be declared.
func (g *Graph) AddEdge(e Edge) error {
	src, ok := g.nodes[e.Source]
	if !ok {
		return fmt.Errorf("source node %s does not exist", e.Source)
	}
	dst, ok := g.nodes[e.Target]
	if !ok {
		return fmt.Errorf("target node %s does not exist", e.Target)
	}
	k := e.key()
	if _, exists := g.edges[k]; exists {
		return errDuplicateEdge
	}
	g.edges[k] = struct{}{}
	src.Outgoing = append(src.Outgoing, e)
	dst.Incoming = append(dst.Incoming, e)
	return nil
}

var errDuplicateEdge = errors.New("duplicate connection")

func (g *Graph) addConnection(seq int, c core.Connection) {
	e := Edge{Source: c.Source, Target: c.Dest, SourcePort: c.SourcePort, TargetPort: c.DestPort, Seq: seq}

	_, srcOK := g.nodes[c.Source]
	_, dstOK := g.nodes[c.Dest]
	switch {
	case !srcOK && !dstOK:
		g.diagnostics = append(g.diagnostics, core.Errorf(core.CodeDanglingEdge, core.NoNode,
			"connection %d references undeclared nodes %s and %s", seq, c.Source, c.Dest))
		return
	case !srcOK:
		g.diagnostics = append(g.diagnostics, core.Errorf(core.CodeDanglingEdge, c.Dest,
			"connection %d comes from undeclared node %s", seq, c.Source))
		g.Taint(c.Dest, fmt.Sprintf("dangling input from undeclared node %s", c.Source))
		return
	case !dstOK:
		g.diagnostics = append(g.diagnostics, core.Errorf(core.CodeDanglingEdge, c.Source,
			"connection %d goes to undeclared node %s", seq, c.Dest))
		return
	}

	if err := g.AddEdge(e); err != nil {
		g.diagnostics = append(g.diagnostics, core.Warnf(core.CodeDuplicateEdge, c.Dest,
			"connection %d repeats an earlier connection from %s; ignored", seq, c.Source))
	}
}

// Taint marks a node as unresolvable for a structural reason. The first reason wins.
func (g *Graph) Taint(id core.NodeID, reason string) {
	if _, ok := g.tainted[id]; !ok {
		g.tainted[id] = reason
	}
}

// Tainted returns the structural taint reason of a node, if any.
func (g *Graph) Tainted(id core.NodeID) (string, bool) {
	r, ok := g.tainted[id]
	return r, ok
}

// Sort orders the graph with Kahn's algorithm. Nodes with no inputs are queued
// in declaration order and successors are released in connection declaration
// order, so ties always break the same way. Nodes on a cycle, or only reachable
// through one, keep Order == Unordered and get a cycle diagnostic.
func (g *Graph) Sort() {
	g.ordered = g.ordered[:0]
	inDegree := make(map[core.NodeID]int, len(g.nodes))
	for _, id := range g.declared {
		n := g.nodes[id]
		n.Order = Unordered
		inDegree[id] = len(n.Incoming)
	}

	queue := make([]core.NodeID, 0, len(g.nodes))
	for _, id := range g.declared {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	for head := 0; head < len(queue); head++ {
		id := queue[head]
		n := g.nodes[id]
		n.Order = len(g.ordered)
		g.ordered = append(g.ordered, id)

		for _, e := range n.Outgoing {
			inDegree[e.Target]--
			if inDegree[e.Target] == 0 {
				queue = append(queue, e.Target)
			}
		}
	}

	if unordered := g.Unordered(); len(unordered) > 0 {
		g.diagnostics = append(g.diagnostics, core.Warnf(core.CodeCycle, core.NoNode,
			"%d of %d nodes could not be ordered (cycle or only reachable through one): %v",
			len(unordered), len(g.nodes), unordered))
	}
}

// Diagnostics returns the structural diagnostics found while building the graph.
func (g *Graph) Diagnostics() core.Diagnostics {
	return g.diagnostics
}

// GetNode returns a node by ID.
func (g *Graph) GetNode(id core.NodeID) (*Node, bool) {
	node, exists := g.nodes[id]
	return node, exists
}

// GetParents returns the distinct direct predecessors of a node in connection order.
func (g *Graph) GetParents(id core.NodeID) []core.NodeID {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	return distinct(n.Incoming, func(e Edge) core.NodeID { return e.Source })
}

// GetChildren returns the distinct direct successors of a node in connection order.
func (g *Graph) GetChildren(id core.NodeID) []core.NodeID {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	return distinct(n.Outgoing, func(e Edge) core.NodeID { return e.Target })
}

func distinct(edges []Edge, pick func(Edge) core.NodeID) []core.NodeID {
	out := make([]core.NodeID, 0, len(edges))
	seen := make(map[core.NodeID]struct{}, len(edges))
	for _, e := range edges {
		id := pick(e)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Declared returns all nodes in declaration order.
func (g *Graph) Declared() []*Node {
	out := make([]*Node, 0, len(g.declared))
	for _, id := range g.declared {
		out = append(out, g.nodes[id])
	}
	return out
}

// Ordered returns the ordered nodes in topological order.
func (g *Graph) Ordered() []*Node {
	out := make([]*Node, 0, len(g.ordered))
	for _, id := range g.ordered {
		out = append(out, g.nodes[id])
	}
	return out
}

// Unordered returns the ids of nodes the sort never reached, in declaration order.
func (g *Graph) Unordered() []core.NodeID {
	var out []core.NodeID
	for _, id := range g.declared {
		if g.nodes[id].Order == Unordered {
			out = append(out, id)
		}
	}
	return out
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// OrderedCount returns the number of nodes assigned an order.
func (g *Graph) OrderedCount() int {
	return len(g.ordered)
}

// EdgeCount returns the number of edges in the graph.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// GetExecutionLevels groups ordered nodes by depth. Level 0 holds nodes with no
// inputs; a node sits one level below its deepest parent. Unordered nodes are
// left out.
func (g *Graph) GetExecutionLevels() [][]core.NodeID {
	level := make(map[core.NodeID]int, len(g.ordered))
	maxLevel := -1
	for _, id := range g.ordered {
		l := 0
		for _, p := range g.GetParents(id) {
			if pl, ok := level[p]; ok && pl+1 > l {
				l = pl + 1
			}
		}
		level[id] = l
		if l > maxLevel {
			maxLevel = l
		}
	}

	levels := make([][]core.NodeID, maxLevel+1)
	for _, id := range g.ordered {
		levels[level[id]] = append(levels[level[id]], id)
	}
	return levels
}

// GetAffectedNodes returns the given nodes and everything downstream of them,
// sorted by declaration order.
func (g *Graph) GetAffectedNodes(changed []core.NodeID) []core.NodeID {
	affected := make(map[core.NodeID]bool)
	stack := make([]core.NodeID, 0, len(changed))
	for _, id := range changed {
		if _, ok := g.nodes[id]; ok && !affected[id] {
			affected[id] = true
			stack = append(stack, id)
		}
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, child := range g.GetChildren(id) {
			if !affected[child] {
				affected[child] = true
				stack = append(stack, child)
			}
		}
	}
	return g.sortBySeq(affected)
}

// GetUpstreamNodes returns every node upstream of id (not id itself), sorted by
// declaration order.
func (g *Graph) GetUpstreamNodes(id core.NodeID) []core.NodeID {
	upstream := make(map[core.NodeID]bool)
	stack := []core.NodeID{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, p := range g.GetParents(cur) {
			if !upstream[p] {
				upstream[p] = true
				stack = append(stack, p)
			}
		}
	}
	delete(upstream, id)
	return g.sortBySeq(upstream)
}

func (g *Graph) sortBySeq(set map[core.NodeID]bool) []core.NodeID {
	out := make([]core.NodeID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return g.nodes[out[i]].Seq < g.nodes[out[j]].Seq
	})
	return out
}

// GetRoots returns nodes with no inputs, in declaration order.
func (g *Graph) GetRoots() []core.NodeID {
	var roots []core.NodeID
	for _, id := range g.declared {
		if len(g.nodes[id].Incoming) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// GetLeaves returns nodes with no outputs, in declaration order.
func (g *Graph) GetLeaves() []core.NodeID {
	var leaves []core.NodeID
	for _, id := range g.declared {
		if len(g.nodes[id].Outgoing) == 0 {
			leaves = append(leaves, id)
		}
	}
	return leaves
}
