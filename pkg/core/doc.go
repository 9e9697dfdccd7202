// Package core defines the shared language of the FlowSQL system.
//
// This package contains:
//   - Workflow input types (NodeDecl, Connection, Workflow)
//   - The closed node kind enumeration (Kind) and its input arity
//   - Column schemas (Schema) and their set operations
//   - Resolver output (ResolvedNode, Predecessor) and Diagnostics
//
// The Golden Rule: pkg/core imports ONLY pkg/settings and stdlib.
// All other packages depend on core, not the reverse.
package core
