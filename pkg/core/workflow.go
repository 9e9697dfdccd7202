package core

import (
	"fmt"

	"github.com/leapstack-labs/flowsql/pkg/settings"
)

// NodeID identifies a node within one workflow.
type NodeID int

// NoNode marks diagnostics that concern the whole graph rather than one node.
const NoNode NodeID = -1

func (id NodeID) String() string {
	return fmt.Sprintf("#%d", int(id))
}

// NodeDecl is one node as declared in the workflow file.
type NodeDecl struct {
	ID NodeID
	// Kind is parsed from Factory; KindUnsupported if the factory is unknown.
	Kind Kind
	// Factory is the declared factory or kind name, kept for diagnostics.
	Factory string
	// Name is the user-facing label of the node.
	Name string
	// Settings is the node's settings tree (usually the "model" block).
	Settings *settings.Config
}

// Connection is a declared directed edge. Ports are nil when not declared.
type Connection struct {
	Source     NodeID
	Dest       NodeID
	SourcePort *int
	DestPort   *int
}

// Port returns a pointer to p, for building connections in code.
func Port(p int) *int {
	return &p
}

// Workflow is the declaration list handed to the resolver.
type Workflow struct {
	Name        string
	Nodes       []NodeDecl
	Connections []Connection
}

// Node returns the first declaration with the given id.
func (w *Workflow) Node(id NodeID) (*NodeDecl, bool) {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i], true
		}
	}
	return nil, false
}
