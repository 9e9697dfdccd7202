package resolver

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/flowsql/internal/dag"
	"github.com/leapstack-labs/flowsql/pkg/core"
)

// Join destination ports.
const (
	LeftPort  = 0
	RightPort = 1
)

// PredecessorSet is the outcome of matching a node's incoming edges to its inputs.
type PredecessorSet struct {
	// Inputs are the chosen predecessors, ordered by role: primary then extras,
	// left then right, or declaration order for multi-input kinds.
	Inputs []core.Predecessor
	// Blocked is non-empty when the node cannot be resolved from these inputs.
	Blocked string
}

// Schemas returns the output schemas of the chosen inputs, in input order.
func (s PredecessorSet) Schemas() []core.Schema {
	out := make([]core.Schema, 0, len(s.Inputs))
	for _, p := range s.Inputs {
		out = append(out, p.Schema)
	}
	return out
}

// Lookup returns a node that has already been resolved in this pass.
type Lookup func(id core.NodeID) (*core.ResolvedNode, bool)

// ResolvePredecessors picks the inputs of n according to its kind's arity.
// Every predecessor of an ordered node must already be resolved; finding one
// that is not is an invariant violation and the only error returned.
func ResolvePredecessors(n *dag.Node, resolved Lookup) (PredecessorSet, core.Diagnostics, error) {
	var (
		set   PredecessorSet
		diags core.Diagnostics
	)

	// defPort stands in for an undeclared destination port.
	pred := func(e dag.Edge, defPort int, role core.Role) (core.Predecessor, error) {
		rn, ok := resolved(e.Source)
		if !ok {
			return core.Predecessor{}, fmt.Errorf("%w: predecessor %s of %s not resolved before it", ErrInvariant, e.Source, n.ID)
		}
		return core.Predecessor{
			ID:     rn.ID,
			Alias:  rn.Alias,
			Port:   e.TargetPortOr(defPort),
			Role:   role,
			Schema: rn.OutputSchema.Clone(),
		}, nil
	}

	switch n.Kind.Arity() {
	case core.ArityNone:
		if len(n.Incoming) > 0 {
			ids := make([]string, len(n.Incoming))
			for i, e := range n.Incoming {
				ids[i] = e.Source.String()
			}
			diags = append(diags, core.Warnf(core.CodeSourceInput, n.ID,
				"%s ignores its input connection(s) from %s", n.Kind.Title(), strings.Join(ids, ", ")))
		}
		return set, diags, nil

	case core.ArityOne:
		seen := make(map[core.NodeID]bool)
		for _, e := range n.Incoming {
			if seen[e.Source] {
				continue
			}
			seen[e.Source] = true
			role := core.RolePrimary
			if len(set.Inputs) > 0 {
				role = core.RoleExtra
			}
			p, err := pred(e, 0, role)
			if err != nil {
				return set, diags, err
			}
			set.Inputs = append(set.Inputs, p)
		}
		switch {
		case len(set.Inputs) == 0:
			set.Blocked = "no predecessor"
			diags = append(diags, core.Errorf(core.CodeNoPredecessor, n.ID, "%s has no input", n.Kind.Title()))
		case len(set.Inputs) > 1:
			diags = append(diags, core.Warnf(core.CodeExtraPredecessor, n.ID,
				"%s expects one input but has %d; using %s as primary and the union of all input columns",
				n.Kind.Title(), len(set.Inputs), set.Inputs[0].ID))
		}

	case core.ArityTwo:
		var left, right *core.Predecessor
		for i, e := range n.Incoming {
			if e.TargetPort == nil {
				diags = append(diags, core.Errorf(core.CodeMissingPort, n.ID,
					"connection from %s has no destination port; cannot tell left from right", e.Source))
				continue
			}
			var slot **core.Predecessor
			var role core.Role
			switch *e.TargetPort {
			case LeftPort:
				slot, role = &left, core.RoleLeft
			case RightPort:
				slot, role = &right, core.RoleRight
			default:
				diags = append(diags, core.Warnf(core.CodeInvalidPort, n.ID,
					"connection from %s uses port %d; only %d (left) and %d (right) are valid",
					e.Source, *e.TargetPort, LeftPort, RightPort))
				continue
			}
			if *slot != nil {
				diags = append(diags, core.Warnf(core.CodePortConflict, n.ID,
					"connection from %s also targets the %s side; keeping %s", e.Source, role, (*slot).ID))
				continue
			}
			p, err := pred(e, i, role)
			if err != nil {
				return set, diags, err
			}
			*slot = &p
		}
		var absent []string
		if left == nil {
			absent = append(absent, string(core.RoleLeft))
		}
		if right == nil {
			absent = append(absent, string(core.RoleRight))
		}
		if len(absent) > 0 {
			set.Blocked = "no " + strings.Join(absent, " or ") + " input"
			diags = append(diags, core.Errorf(core.CodeMissingSide, n.ID, "%s has %s", n.Kind.Title(), set.Blocked))
			for _, p := range []*core.Predecessor{left, right} {
				if p != nil {
					set.Inputs = append(set.Inputs, *p)
				}
			}
			return set, diags, nil
		}
		set.Inputs = []core.Predecessor{*left, *right}

	case core.ArityMany:
		for i, e := range n.Incoming {
			p, err := pred(e, i, core.RoleInput)
			if err != nil {
				return set, diags, err
			}
			set.Inputs = append(set.Inputs, p)
		}
		if len(set.Inputs) == 0 {
			set.Blocked = "no predecessor"
			diags = append(diags, core.Errorf(core.CodeNoPredecessor, n.ID, "%s has no input", n.Kind.Title()))
		}
	}

	if set.Blocked == "" {
		for _, p := range set.Inputs {
			if rn, _ := resolved(p.ID); rn.Unresolved {
				set.Blocked = fmt.Sprintf("upstream node %s is unresolved", p.ID)
				diags = append(diags, core.Warnf(core.CodeUnresolvedUpstream, n.ID, "%s", set.Blocked))
				break
			}
		}
	}
	return set, diags, nil
}
