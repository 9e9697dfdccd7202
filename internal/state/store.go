// Package state records conversions in a SQLite database.
//
// Each conversion stores the resolved column flow of every node, the SQL
// generated for it and the diagnostics of the run, so that earlier results
// can be listed, compared and traced column by column.
package state

import (
	"context"
	"errors"
	"time"

	"github.com/leapstack-labs/flowsql/pkg/core"
)

var (
	// ErrNotOpen is returned when the store is used before Open.
	ErrNotOpen = errors.New("database not opened")
	// ErrNotFound is returned when a conversion or node does not exist.
	ErrNotFound = errors.New("not found")
)

// Store is the conversion history.
type Store interface {
	Open(path string) error
	Close() error
	Migrate() error

	SaveConversion(ctx context.Context, c *Conversion) error
	GetConversion(ctx context.Context, id string) (*Conversion, error)
	ListConversions(ctx context.Context, limit int) ([]ConversionSummary, error)
	GetNodeColumns(ctx context.Context, conversionID string, node core.NodeID) (input, output core.Schema, err error)
	TraceColumn(ctx context.Context, conversionID string, node core.NodeID, column string) ([]TraceStep, error)
}

// Conversion is one recorded conversion of a workflow file.
type Conversion struct {
	ID        string    `json:"id"`
	Workflow  string    `json:"workflow"`
	Path      string    `json:"path"`
	Dialect   string    `json:"dialect"`
	Mode      string    `json:"mode"`
	CreatedAt time.Time `json:"created_at"`
	// SQL is the composed script.
	SQL         string            `json:"sql"`
	Nodes       []NodeResult      `json:"nodes"`
	Diagnostics []core.Diagnostic `json:"diagnostics"`
}

// Summary returns the counts shown in conversion listings.
func (c *Conversion) Summary() ConversionSummary {
	s := ConversionSummary{
		ID:        c.ID,
		Workflow:  c.Workflow,
		Path:      c.Path,
		Dialect:   c.Dialect,
		Mode:      c.Mode,
		CreatedAt: c.CreatedAt,
		NodeCount: len(c.Nodes),
	}
	for _, n := range c.Nodes {
		if n.Unresolved {
			s.UnresolvedCount++
		}
	}
	for _, d := range c.Diagnostics {
		switch d.Severity {
		case core.SeverityError:
			s.ErrorCount++
		case core.SeverityWarning:
			s.WarningCount++
		}
	}
	return s
}

// ConversionSummary is a conversion without its node details.
type ConversionSummary struct {
	ID              string    `json:"id"`
	Workflow        string    `json:"workflow"`
	Path            string    `json:"path"`
	Dialect         string    `json:"dialect"`
	Mode            string    `json:"mode"`
	CreatedAt       time.Time `json:"created_at"`
	NodeCount       int       `json:"node_count"`
	UnresolvedCount int       `json:"unresolved_count"`
	ErrorCount      int       `json:"error_count"`
	WarningCount    int       `json:"warning_count"`
}

// NodeResult is the stored outcome of one node.
type NodeResult struct {
	NodeID       core.NodeID       `json:"id"`
	Kind         core.Kind         `json:"kind"`
	Name         string            `json:"name,omitempty"`
	Alias        string            `json:"alias"`
	Order        int               `json:"order"`
	Predecessors []core.NodeID     `json:"predecessors,omitempty"`
	InputSchema  core.Schema       `json:"input_schema"`
	OutputSchema core.Schema       `json:"output_schema"`
	Renamed      map[string]string `json:"renamed,omitempty"`
	Unresolved   bool              `json:"unresolved"`
	Reason       string            `json:"reason,omitempty"`
	SQL          string            `json:"sql,omitempty"`
	SQLError     string            `json:"sql_error,omitempty"`
}

// TraceStep is one node on the path of a column back to its origin.
type TraceStep struct {
	NodeID core.NodeID `json:"id"`
	Kind   core.Kind   `json:"kind"`
	Name   string      `json:"name,omitempty"`
	// Column is the column's name at this node's output.
	Column string `json:"column"`
	// Origin is set on the node that introduced the column.
	Origin bool `json:"origin"`
}
