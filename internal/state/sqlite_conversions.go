package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/leapstack-labs/flowsql/pkg/core"
)

// SaveConversion stores c with all its nodes, columns and diagnostics in one
// transaction. An empty ID is filled with a new UUID and a zero CreatedAt with
// the current time.
func (s *SQLiteStore) SaveConversion(ctx context.Context, c *Conversion) error {
	if s.db == nil {
		return ErrNotOpen
	}
	if c.ID == "" {
		c.ID = generateID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversions (id, workflow, path, dialect, mode, sql, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Workflow, c.Path, c.Dialect, c.Mode, c.SQL, formatTime(c.CreatedAt),
	); err != nil {
		return fmt.Errorf("failed to insert conversion: %w", err)
	}

	for _, n := range c.Nodes {
		preds, err := json.Marshal(nonNilIDs(n.Predecessors))
		if err != nil {
			return fmt.Errorf("failed to encode predecessors of node %d: %w", n.NodeID, err)
		}
		renamed, err := json.Marshal(nonNilMap(n.Renamed))
		if err != nil {
			return fmt.Errorf("failed to encode renames of node %d: %w", n.NodeID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO node_results (conversion_id, node_id, kind, name, alias, ord, predecessors, renamed, unresolved, reason, sql, sql_error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, int(n.NodeID), n.Kind.String(), n.Name, n.Alias, n.Order, string(preds), string(renamed),
			n.Unresolved, n.Reason, n.SQL, n.SQLError,
		); err != nil {
			return fmt.Errorf("failed to insert node %d: %w", n.NodeID, err)
		}
		if err := insertColumns(ctx, tx, c.ID, n.NodeID, "input", n.InputSchema); err != nil {
			return err
		}
		if err := insertColumns(ctx, tx, c.ID, n.NodeID, "output", n.OutputSchema); err != nil {
			return err
		}
	}

	for i, d := range c.Diagnostics {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO diagnostics (conversion_id, seq, severity, code, node_id, message) VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, i, d.Severity.String(), string(d.Code), int(d.Node), d.Message,
		); err != nil {
			return fmt.Errorf("failed to insert diagnostic: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit conversion: %w", err)
	}
	return nil
}

func insertColumns(ctx context.Context, tx *sql.Tx, conversionID string, node core.NodeID, side string, cols core.Schema) error {
	for i, col := range cols {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO node_columns (conversion_id, node_id, side, position, name) VALUES (?, ?, ?, ?, ?)`,
			conversionID, int(node), side, i, col,
		); err != nil {
			return fmt.Errorf("failed to insert %s column %s of node %d: %w", side, col, node, err)
		}
	}
	return nil
}

// GetConversion loads a conversion with its nodes and diagnostics.
func (s *SQLiteStore) GetConversion(ctx context.Context, id string) (*Conversion, error) {
	if s.db == nil {
		return nil, ErrNotOpen
	}

	c := &Conversion{}
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, workflow, path, dialect, mode, sql, created_at FROM conversions WHERE id = ?`, id,
	).Scan(&c.ID, &c.Workflow, &c.Path, &c.Dialect, &c.Mode, &c.SQL, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversion %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversion: %w", err)
	}
	if c.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}

	if c.Nodes, err = s.nodeResults(ctx, id); err != nil {
		return nil, err
	}
	if c.Diagnostics, err = s.diagnostics(ctx, id); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *SQLiteStore) nodeResults(ctx context.Context, conversionID string) ([]NodeResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT node_id, kind, name, alias, ord, predecessors, renamed, unresolved, reason, sql, sql_error
		 FROM node_results WHERE conversion_id = ? ORDER BY ord < 0, ord, node_id`, conversionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get nodes: %w", err)
	}
	defer rows.Close()

	var nodes []NodeResult
	index := make(map[core.NodeID]int)
	for rows.Next() {
		var n NodeResult
		var id int
		var kind, preds, renamed string
		if err := rows.Scan(&id, &kind, &n.Name, &n.Alias, &n.Order, &preds, &renamed,
			&n.Unresolved, &n.Reason, &n.SQL, &n.SQLError); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		n.NodeID = core.NodeID(id)
		n.Kind, _ = core.ParseKind(kind)
		if err := json.Unmarshal([]byte(preds), &n.Predecessors); err != nil {
			return nil, fmt.Errorf("failed to decode predecessors of node %d: %w", id, err)
		}
		if err := json.Unmarshal([]byte(renamed), &n.Renamed); err != nil {
			return nil, fmt.Errorf("failed to decode renames of node %d: %w", id, err)
		}
		if len(n.Renamed) == 0 {
			n.Renamed = nil
		}
		if len(n.Predecessors) == 0 {
			n.Predecessors = nil
		}
		index[n.NodeID] = len(nodes)
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read nodes: %w", err)
	}

	cols, err := s.db.QueryContext(ctx,
		`SELECT node_id, side, name FROM node_columns WHERE conversion_id = ? ORDER BY node_id, side, position`, conversionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	defer cols.Close()
	for cols.Next() {
		var id int
		var side, name string
		if err := cols.Scan(&id, &side, &name); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		i, ok := index[core.NodeID(id)]
		if !ok {
			continue
		}
		if side == "input" {
			nodes[i].InputSchema = append(nodes[i].InputSchema, name)
		} else {
			nodes[i].OutputSchema = append(nodes[i].OutputSchema, name)
		}
	}
	return nodes, cols.Err()
}

func (s *SQLiteStore) diagnostics(ctx context.Context, conversionID string) ([]core.Diagnostic, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT severity, code, node_id, message FROM diagnostics WHERE conversion_id = ? ORDER BY seq`, conversionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get diagnostics: %w", err)
	}
	defer rows.Close()

	var out []core.Diagnostic
	for rows.Next() {
		var d core.Diagnostic
		var severity, code string
		var node int
		if err := rows.Scan(&severity, &code, &node, &d.Message); err != nil {
			return nil, fmt.Errorf("failed to scan diagnostic: %w", err)
		}
		d.Severity, _ = core.ParseSeverity(severity)
		d.Code = core.Code(code)
		d.Node = core.NodeID(node)
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListConversions returns the most recent conversions, newest first. A limit
// of zero or less returns all of them.
func (s *SQLiteStore) ListConversions(ctx context.Context, limit int) ([]ConversionSummary, error) {
	if s.db == nil {
		return nil, ErrNotOpen
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.workflow, c.path, c.dialect, c.mode, c.created_at,
		       (SELECT COUNT(*) FROM node_results n WHERE n.conversion_id = c.id),
		       (SELECT COUNT(*) FROM node_results n WHERE n.conversion_id = c.id AND n.unresolved),
		       (SELECT COUNT(*) FROM diagnostics d WHERE d.conversion_id = c.id AND d.severity = 'error'),
		       (SELECT COUNT(*) FROM diagnostics d WHERE d.conversion_id = c.id AND d.severity = 'warning')
		FROM conversions c
		ORDER BY c.created_at DESC, c.id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversions: %w", err)
	}
	defer rows.Close()

	var out []ConversionSummary
	for rows.Next() {
		var cs ConversionSummary
		var created string
		if err := rows.Scan(&cs.ID, &cs.Workflow, &cs.Path, &cs.Dialect, &cs.Mode, &created,
			&cs.NodeCount, &cs.UnresolvedCount, &cs.ErrorCount, &cs.WarningCount); err != nil {
			return nil, fmt.Errorf("failed to scan conversion: %w", err)
		}
		if cs.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read conversions: %w", err)
	}
	return out, nil
}

// timeLayout has a fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

func nonNilIDs(ids []core.NodeID) []core.NodeID {
	if ids == nil {
		return []core.NodeID{}
	}
	return ids
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
