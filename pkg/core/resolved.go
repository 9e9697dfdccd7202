package core

// Role says how a predecessor feeds its successor.
type Role string

// Predecessor roles.
const (
	RolePrimary Role = "primary"
	RoleExtra   Role = "extra"
	RoleLeft    Role = "left"
	RoleRight   Role = "right"
	RoleInput   Role = "input"
)

// Predecessor is a resolved direct input of a node.
type Predecessor struct {
	ID     NodeID `json:"id"`
	Alias  string `json:"alias"`
	Port   int    `json:"port"`
	Role   Role   `json:"role"`
	Schema Schema `json:"schema"`
}

// ResolvedNode is a node after column-flow resolution.
type ResolvedNode struct {
	ID      NodeID `json:"id"`
	Kind    Kind   `json:"kind"`
	Name    string `json:"name,omitempty"`
	Factory string `json:"factory,omitempty"`
	// Order is the topological position, or -1 when the node was never ordered.
	Order int    `json:"order"`
	Alias string `json:"alias"`

	InputSchema  Schema        `json:"input_schema"`
	OutputSchema Schema        `json:"output_schema"`
	Predecessors []Predecessor `json:"predecessors"`

	// Column delta applied to the input schema.
	Added   []string          `json:"added,omitempty"`
	Removed []string          `json:"removed,omitempty"`
	Renamed map[string]string `json:"renamed,omitempty"`

	Unresolved bool   `json:"unresolved"`
	Reason     string `json:"reason,omitempty"`
}

// PredecessorAliases returns the aliases of the node's inputs in role order.
func (n *ResolvedNode) PredecessorAliases() []string {
	out := make([]string, 0, len(n.Predecessors))
	for _, p := range n.Predecessors {
		out = append(out, p.Alias)
	}
	return out
}

// PredecessorByRole returns the first predecessor with role r.
func (n *ResolvedNode) PredecessorByRole(r Role) (Predecessor, bool) {
	for _, p := range n.Predecessors {
		if p.Role == r {
			return p, true
		}
	}
	return Predecessor{}, false
}
