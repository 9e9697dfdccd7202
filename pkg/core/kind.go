package core

import (
	"fmt"
	"strings"
)

// Kind selects a node's transformation semantics. The set is closed: every
// Kind has one column rule in the resolver and one SQL generator, and both are
// chosen by switching on the Kind.
type Kind int

// Node kinds. KindUnsupported is the zero value and stands for any factory the
// system does not know how to translate.
const (
	KindUnsupported Kind = iota
	KindCSVReader
	KindExcelReader
	KindTableCreator
	KindColumnFilter
	KindColumnRename
	KindRowFilter
	KindSorter
	KindRowSampler
	KindDuplicateRowFilter
	KindMathFormula
	KindStringManipulation
	KindRuleEngine
	KindColumnMerger
	KindConstantValueColumn
	KindGroupBy
	KindJoiner
	KindConcatenate
)

// AllKinds lists every kind, KindUnsupported included.
var AllKinds = []Kind{
	KindUnsupported,
	KindCSVReader,
	KindExcelReader,
	KindTableCreator,
	KindColumnFilter,
	KindColumnRename,
	KindRowFilter,
	KindSorter,
	KindRowSampler,
	KindDuplicateRowFilter,
	KindMathFormula,
	KindStringManipulation,
	KindRuleEngine,
	KindColumnMerger,
	KindConstantValueColumn,
	KindGroupBy,
	KindJoiner,
	KindConcatenate,
}

// Arity describes how many inputs a kind consumes and how they are told apart.
type Arity int

const (
	// ArityNone is for sources; they define their columns intrinsically.
	ArityNone Arity = iota
	// ArityOne is for single-input transforms.
	ArityOne
	// ArityTwo is for left/right inputs selected by destination port.
	ArityTwo
	// ArityMany is for any number of unordered inputs.
	ArityMany
)

func (a Arity) String() string {
	switch a {
	case ArityNone:
		return "none"
	case ArityOne:
		return "one"
	case ArityTwo:
		return "two"
	case ArityMany:
		return "many"
	default:
		return "unknown"
	}
}

type kindInfo struct {
	name      string
	title     string
	arity     Arity
	factories []string
}

var kindTable = map[Kind]kindInfo{
	KindUnsupported: {name: "unsupported", title: "unsupported node", arity: ArityOne},
	KindCSVReader: {name: "csv_reader", title: "CSV reader", arity: ArityNone, factories: []string{
		"org.knime.base.node.io.filehandling.csv.reader.CSVTableReaderNodeFactory",
		"org.knime.base.node.io.filereader.FileReaderNodeFactory",
	}},
	KindExcelReader: {name: "excel_reader", title: "Excel reader", arity: ArityNone, factories: []string{
		"org.knime.ext.poi3.node.io.filehandling.excel.reader.ExcelTableReaderNodeFactory",
	}},
	KindTableCreator: {name: "table_creator", title: "table creator", arity: ArityNone, factories: []string{
		"org.knime.base.node.io.tablecreator.TableCreator2NodeFactory",
	}},
	KindColumnFilter: {name: "column_filter", title: "column filter", arity: ArityOne, factories: []string{
		"org.knime.base.node.preproc.filter.column.DataColumnSpecFilterNodeFactory",
	}},
	KindColumnRename: {name: "column_rename", title: "column rename", arity: ArityOne, factories: []string{
		"org.knime.base.node.preproc.rename.RenameNodeFactory",
	}},
	KindRowFilter: {name: "row_filter", title: "row filter", arity: ArityOne, factories: []string{
		"org.knime.base.node.preproc.filter.row.RowFilterNodeFactory",
	}},
	KindSorter: {name: "sorter", title: "sorter", arity: ArityOne, factories: []string{
		"org.knime.base.node.preproc.sorter.SorterNodeFactory",
	}},
	KindRowSampler: {name: "row_sampler", title: "row sampler", arity: ArityOne, factories: []string{
		"org.knime.base.node.preproc.sample.SamplingNodeFactory",
	}},
	KindDuplicateRowFilter: {name: "duplicate_row_filter", title: "duplicate row filter", arity: ArityOne, factories: []string{
		"org.knime.base.node.preproc.duplicates.DuplicateRowFilterNodeFactory",
	}},
	KindMathFormula: {name: "math_formula", title: "math formula", arity: ArityOne, factories: []string{
		"org.knime.ext.jep.JEPNodeFactory",
	}},
	KindStringManipulation: {name: "string_manipulation", title: "string manipulation", arity: ArityOne, factories: []string{
		"org.knime.base.node.preproc.stringmanipulation.StringManipulationNodeFactory",
	}},
	KindRuleEngine: {name: "rule_engine", title: "rule engine", arity: ArityOne, factories: []string{
		"org.knime.base.node.rules.engine.RuleEngineNodeFactory",
	}},
	KindColumnMerger: {name: "column_merger", title: "column merger", arity: ArityOne, factories: []string{
		"org.knime.base.node.preproc.columnmerge.ColumnMergerNodeFactory",
	}},
	KindConstantValueColumn: {name: "constant_value_column", title: "constant value column", arity: ArityOne, factories: []string{
		"org.knime.base.node.preproc.constantvalue.ConstantValueColumnNodeFactory",
	}},
	KindGroupBy: {name: "group_by", title: "group by", arity: ArityOne, factories: []string{
		"org.knime.base.node.preproc.groupby.GroupByNodeFactory",
	}},
	KindJoiner: {name: "joiner", title: "joiner", arity: ArityTwo, factories: []string{
		"org.knime.base.node.preproc.joiner3.Joiner3NodeFactory",
		"org.knime.base.node.preproc.joiner.Joiner2NodeFactory",
	}},
	KindConcatenate: {name: "concatenate", title: "concatenate", arity: ArityMany, factories: []string{
		"org.knime.base.node.preproc.append.row.AppendedRowsNodeFactory",
	}},
}

// kindByName maps short names and factory class names to kinds.
var kindByName = func() map[string]Kind {
	m := make(map[string]Kind)
	for k, info := range kindTable {
		if k == KindUnsupported {
			continue
		}
		m[info.name] = k
		for _, f := range info.factories {
			m[f] = k
		}
	}
	return m
}()

// ParseKind resolves a factory class name or short kind name.
// Unknown names return KindUnsupported and false.
func ParseKind(factory string) (Kind, bool) {
	name := strings.TrimSpace(factory)
	if k, ok := kindByName[name]; ok {
		return k, true
	}
	if k, ok := kindByName[strings.ToLower(name)]; ok {
		return k, true
	}
	return KindUnsupported, false
}

// String returns the short name of the kind.
func (k Kind) String() string {
	if info, ok := kindTable[k]; ok {
		return info.name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Title returns a human-readable name for the kind.
func (k Kind) Title() string {
	if info, ok := kindTable[k]; ok {
		return info.title
	}
	return k.String()
}

// Arity returns how the kind consumes its inputs.
func (k Kind) Arity() Arity {
	if info, ok := kindTable[k]; ok {
		return info.arity
	}
	return ArityOne
}

// IsSource reports whether the kind defines its columns intrinsically.
func (k Kind) IsSource() bool {
	return k.Arity() == ArityNone
}

// Factories returns the factory class names that map to the kind.
func (k Kind) Factories() []string {
	info := kindTable[k]
	out := make([]string, len(info.factories))
	copy(out, info.factories)
	return out
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unknown names decode to
// KindUnsupported without error so the resolver can report them per node.
func (k *Kind) UnmarshalText(text []byte) error {
	*k, _ = ParseKind(string(text))
	return nil
}
