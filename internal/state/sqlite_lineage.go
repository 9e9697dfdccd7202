package state

import (
	"context"
	"fmt"

	"github.com/leapstack-labs/flowsql/pkg/core"
)

// GetNodeColumns returns the stored input and output schema of one node.
func (s *SQLiteStore) GetNodeColumns(ctx context.Context, conversionID string, node core.NodeID) (input, output core.Schema, err error) {
	if s.db == nil {
		return nil, nil, ErrNotOpen
	}

	var exists int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM node_results WHERE conversion_id = ? AND node_id = ?`, conversionID, int(node),
	).Scan(&exists)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to look up node: %w", err)
	}
	if exists == 0 {
		return nil, nil, fmt.Errorf("node %d of conversion %s: %w", node, conversionID, ErrNotFound)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT side, name FROM node_columns WHERE conversion_id = ? AND node_id = ? ORDER BY side, position`,
		conversionID, int(node))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get columns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var side, name string
		if err := rows.Scan(&side, &name); err != nil {
			return nil, nil, fmt.Errorf("failed to scan column: %w", err)
		}
		if side == "input" {
			input = append(input, name)
		} else {
			output = append(output, name)
		}
	}
	return input, output, rows.Err()
}

// TraceColumn follows column backwards from the output of node to the nodes
// that introduced it. Renames are followed under their old name. Steps are in
// breadth-first order starting at node.
func (s *SQLiteStore) TraceColumn(ctx context.Context, conversionID string, node core.NodeID, column string) ([]TraceStep, error) {
	if s.db == nil {
		return nil, ErrNotOpen
	}
	results, err := s.nodeResults(ctx, conversionID)
	if err != nil {
		return nil, err
	}
	byID := make(map[core.NodeID]*NodeResult, len(results))
	for i := range results {
		byID[results[i].NodeID] = &results[i]
	}

	start, ok := byID[node]
	if !ok {
		return nil, fmt.Errorf("node %d of conversion %s: %w", node, conversionID, ErrNotFound)
	}
	if !start.OutputSchema.Contains(column) {
		return nil, fmt.Errorf("column %q in output of node %d: %w", column, node, ErrNotFound)
	}

	type item struct {
		node   core.NodeID
		column string
	}
	queue := []item{{node, column}}
	seen := map[item]bool{{node, column}: true}
	var steps []TraceStep

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		n := byID[cur.node]

		step := TraceStep{NodeID: n.NodeID, Kind: n.Kind, Name: n.Name, Column: cur.column}
		from := inputName(n, cur.column)
		next := tracePredecessors(n, from, from != cur.column, byID)
		if len(next) == 0 {
			step.Origin = true
		}
		steps = append(steps, step)

		for _, p := range next {
			it := item{p, from}
			if !seen[it] {
				seen[it] = true
				queue = append(queue, it)
			}
		}
	}
	return steps, nil
}

// inputName returns the name column had in the node's input.
func inputName(n *NodeResult, column string) string {
	for old, renamed := range n.Renamed {
		if renamed == column {
			return old
		}
	}
	return column
}

// tracePredecessors returns the predecessors column flows in from. A column
// the node introduced has none. renamed is set when the node changed the
// column's name.
func tracePredecessors(n *NodeResult, column string, renamed bool, byID map[core.NodeID]*NodeResult) []core.NodeID {
	if !n.InputSchema.Contains(column) && n.Kind != core.KindJoiner {
		return nil
	}

	var carrying []core.NodeID
	for _, id := range n.Predecessors {
		if p, ok := byID[id]; ok && p.OutputSchema.Contains(column) {
			carrying = append(carrying, id)
		}
	}

	// A joiner keeps left columns under their own name and suffixes the right
	// ones that collide, so one side is always the source.
	if n.Kind == core.KindJoiner && len(n.Predecessors) == 2 {
		left, right := n.Predecessors[0], n.Predecessors[1]
		for _, id := range carrying {
			if renamed && id == right {
				return []core.NodeID{right}
			}
		}
		for _, id := range carrying {
			if !renamed && id == left {
				return []core.NodeID{left}
			}
		}
		for _, id := range carrying {
			if id == right {
				return []core.NodeID{right}
			}
		}
		return nil
	}
	return carrying
}
