package core

import "fmt"

// Code classifies a diagnostic.
type Code string

// Structural problems, found while building the graph.
const (
	CodeDuplicateNode Code = "duplicate-node"
	CodeDanglingEdge  Code = "dangling-edge"
	CodeDuplicateEdge Code = "duplicate-edge"
	CodeCycle         Code = "cycle"
)

// Resolution problems, found while resolving a node.
const (
	CodeNoPredecessor      Code = "no-predecessor"
	CodeExtraPredecessor   Code = "extra-predecessor"
	CodeMissingPort        Code = "missing-port"
	CodeInvalidPort        Code = "invalid-port"
	CodePortConflict       Code = "port-conflict"
	CodeMissingSide        Code = "missing-side"
	CodeUnresolvedUpstream Code = "unresolved-upstream"
	CodeUnsupportedKind    Code = "unsupported-kind"
	CodeSettings           Code = "settings"
	CodeSourceInput        Code = "source-input"
	CodeUnordered          Code = "unordered"
)

// Diagnostic is a problem found while building or resolving a workflow.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Code     Code     `json:"code"`
	Node     NodeID   `json:"node"`
	Message  string   `json:"message"`
}

func (d Diagnostic) String() string {
	if d.Node == NoNode {
		return fmt.Sprintf("%s [%s] %s", d.Severity, d.Code, d.Message)
	}
	return fmt.Sprintf("%s [%s] node %s: %s", d.Severity, d.Code, d.Node, d.Message)
}

// Errorf builds an error diagnostic.
func Errorf(code Code, node NodeID, format string, args ...any) Diagnostic {
	return Diagnostic{Severity: SeverityError, Code: code, Node: node, Message: fmt.Sprintf(format, args...)}
}

// Warnf builds a warning diagnostic.
func Warnf(code Code, node NodeID, format string, args ...any) Diagnostic {
	return Diagnostic{Severity: SeverityWarning, Code: code, Node: node, Message: fmt.Sprintf(format, args...)}
}

// Diagnostics is a list of diagnostics.
type Diagnostics []Diagnostic

// HasErrors reports whether any diagnostic is an error.
func (ds Diagnostics) HasErrors() bool {
	for _, d := range ds {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ForNode returns the diagnostics attached to id.
func (ds Diagnostics) ForNode(id NodeID) Diagnostics {
	var out Diagnostics
	for _, d := range ds {
		if d.Node == id {
			out = append(out, d)
		}
	}
	return out
}

// WithCode returns the diagnostics carrying code.
func (ds Diagnostics) WithCode(code Code) Diagnostics {
	var out Diagnostics
	for _, d := range ds {
		if d.Code == code {
			out = append(out, d)
		}
	}
	return out
}
