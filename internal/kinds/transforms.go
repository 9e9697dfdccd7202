package kinds

import (
	"strings"

	"github.com/leapstack-labs/flowsql/pkg/settings"
)

// FilterMode selects how a column filter reads its lists.
type FilterMode int

const (
	// FilterExclude removes the excluded names and keeps everything else.
	FilterExclude FilterMode = iota
	// FilterInclude keeps only the included names.
	FilterInclude
)

// ColumnFilter is the configuration of a column filter node.
type ColumnFilter struct {
	Mode     FilterMode
	Included []string
	Excluded []string
	Skipped  []string
}

// ParseColumnFilter decodes the "column-filter" block.
func ParseColumnFilter(cfg *settings.Config) (ColumnFilter, error) {
	block := Model(cfg).Child("column-filter")
	if block == nil {
		return ColumnFilter{}, missing("column-filter")
	}
	inc, incSkipped := optionalArray(block, "included_names")
	exc, excSkipped := optionalArray(block, "excluded_names")
	f := ColumnFilter{Included: inc, Excluded: exc, Skipped: append(incSkipped, excSkipped...)}

	switch opt := block.TextOr("enforce_option", "EnforceExclusion"); normalize(opt) {
	case "enforceexclusion":
		f.Mode = FilterExclude
	case "enforceinclusion":
		f.Mode = FilterInclude
	default:
		return ColumnFilter{}, invalid("enforce_option", "unknown value %q", opt)
	}
	return f, nil
}

// RenamePair renames one column.
type RenamePair struct {
	Old string
	New string
}

// ColumnRename is the configuration of a column rename node.
type ColumnRename struct {
	Pairs []RenamePair
}

// Map returns the renames as old -> new.
func (r ColumnRename) Map() map[string]string {
	m := make(map[string]string, len(r.Pairs))
	for _, p := range r.Pairs {
		m[p.Old] = p.New
	}
	return m
}

// ParseColumnRename decodes the "all_columns" block. Each child block names
// one column and its new name; a child whose new name equals the old one is
// dropped.
func ParseColumnRename(cfg *settings.Config) (ColumnRename, error) {
	block := Model(cfg).Child("all_columns")
	if block == nil {
		return ColumnRename{}, missing("all_columns")
	}
	var r ColumnRename
	seen := make(map[string]bool)
	for _, col := range block.Children {
		oldName, err := requireText(col, "old_column_name")
		if err != nil {
			return ColumnRename{}, missing("all_columns", col.Key, "old_column_name")
		}
		newName, err := requireText(col, "new_column_name")
		if err != nil {
			return ColumnRename{}, missing("all_columns", col.Key, "new_column_name")
		}
		if seen[oldName] {
			return ColumnRename{}, invalid("all_columns", "column %q renamed twice", oldName)
		}
		seen[oldName] = true
		if oldName != newName {
			r.Pairs = append(r.Pairs, RenamePair{Old: oldName, New: newName})
		}
	}
	return r, nil
}

// Row filter operators.
const (
	OpEqual        = "="
	OpNotEqual     = "!="
	OpLess         = "<"
	OpLessEqual    = "<="
	OpGreater      = ">"
	OpGreaterEqual = ">="
	OpBetween      = "between"
	OpLike         = "like"
	OpMissing      = "is_missing"
	OpNotMissing   = "is_not_missing"
)

var rowFilterOps = map[string]string{
	"=": OpEqual, "==": OpEqual, "eq": OpEqual,
	"!=": OpNotEqual, "<>": OpNotEqual, "ne": OpNotEqual,
	"<": OpLess, "lt": OpLess,
	"<=": OpLessEqual, "le": OpLessEqual,
	">": OpGreater, "gt": OpGreater,
	">=": OpGreaterEqual, "ge": OpGreaterEqual,
	"between": OpBetween, "range": OpBetween,
	"like": OpLike, "pattern": OpLike, "wildcard": OpLike,
	"ismissing": OpMissing, "missing": OpMissing,
	"isnotmissing": OpNotMissing, "notmissing": OpNotMissing,
}

// RowFilter is the configuration of a row filter node.
type RowFilter struct {
	Column   string
	Operator string
	// Value is used by every operator except the missing checks. An empty
	// value is a legitimate comparison against the empty string.
	Value  string
	Value2 string
	// Include keeps matching rows when true and drops them when false.
	Include bool
}

// ParseRowFilter decodes a row filter.
func ParseRowFilter(cfg *settings.Config) (RowFilter, error) {
	m := Model(cfg)
	col, err := requireText(m, "column")
	if err != nil {
		return RowFilter{}, err
	}
	rawOp := m.TextOr("operator", "=")
	op, ok := rowFilterOps[normalize(rawOp)]
	if !ok {
		op, ok = rowFilterOps[strings.TrimSpace(rawOp)]
	}
	if !ok {
		return RowFilter{}, invalid("operator", "unknown operator %q", rawOp)
	}
	f := RowFilter{Column: col, Operator: op, Include: m.BoolOr("include", true)}

	if op == OpMissing || op == OpNotMissing {
		return f, nil
	}
	v := m.Value("value")
	if !v.Present() || v.State == settings.Null {
		return RowFilter{}, missing("value")
	}
	f.Value = v.String()
	if op == OpBetween {
		v2 := m.Value("value2")
		if !v2.Present() || v2.State == settings.Null {
			return RowFilter{}, missing("value2")
		}
		f.Value2 = v2.String()
	}
	return f, nil
}

// SortKey is one ORDER BY column.
type SortKey struct {
	Column    string
	Ascending bool
}

// Sorter is the configuration of a sorter node.
type Sorter struct {
	Keys    []SortKey
	Skipped []string
}

// ParseSorter decodes the "incllist" and "sortOrder" arrays. A missing order
// flag defaults to ascending.
func ParseSorter(cfg *settings.Config) (Sorter, error) {
	m := Model(cfg)
	cols, skipped, err := requireArray(m, "incllist")
	if err != nil {
		return Sorter{}, err
	}
	if len(cols) == 0 {
		return Sorter{}, invalid("incllist", "no sort columns")
	}
	order, orderSkipped := settings.BoolArrayValues(m.Child("sortOrder"))
	if len(order) > len(cols) {
		return Sorter{}, invalid("sortOrder", "has %d entries for %d columns", len(order), len(cols))
	}
	s := Sorter{Skipped: append(skipped, prefixed("sortOrder", orderSkipped)...)}
	for i, c := range cols {
		asc := true
		if i < len(order) {
			asc = order[i]
		}
		s.Keys = append(s.Keys, SortKey{Column: c, Ascending: asc})
	}
	return s, nil
}

// RowSampler is the configuration of a row sampler node.
type RowSampler struct {
	Count int
}

// ParseRowSampler decodes the row count of a sampler.
func ParseRowSampler(cfg *settings.Config) (RowSampler, error) {
	m := Model(cfg)
	if !m.Value("count").Valid() {
		return RowSampler{}, missing("count")
	}
	n, ok := m.Int("count")
	if !ok || n < 0 {
		return RowSampler{}, invalid("count", "%q is not a row count", m.TextOr("count", ""))
	}
	return RowSampler{Count: n}, nil
}

// DuplicateRowFilter is the configuration of a duplicate row filter node.
type DuplicateRowFilter struct {
	// Columns compared for duplicates; empty means all columns.
	Columns []string
	Skipped []string
}

// ParseDuplicateRowFilter decodes the optional "columns" array.
func ParseDuplicateRowFilter(cfg *settings.Config) (DuplicateRowFilter, error) {
	cols, skipped := optionalArray(Model(cfg), "columns")
	return DuplicateRowFilter{Columns: cols, Skipped: skipped}, nil
}

// Expression is the configuration of math formula, string manipulation and
// rule engine nodes: an expression whose result is appended as a new column
// or replaces an existing one.
type Expression struct {
	// Expression is the formula text, or the rules joined by newlines.
	Expression string
	Rules      []string
	Append     bool
	// Column is the appended or replaced column.
	Column string
}

// ParseExpression decodes a math formula or string manipulation node.
func ParseExpression(cfg *settings.Config) (Expression, error) {
	m := Model(cfg)
	expr, err := requireText(m, "expression")
	if err != nil {
		return Expression{}, err
	}
	return targetColumn(m, Expression{Expression: expr}, "append_column", "new_column_name", "replaced_column")
}

// ParseRuleEngine decodes a rule engine node.
func ParseRuleEngine(cfg *settings.Config) (Expression, error) {
	m := Model(cfg)
	rules, _, err := requireArray(m, "rules")
	if err != nil {
		return Expression{}, err
	}
	var kept []string
	for _, r := range rules {
		r = strings.TrimSpace(r)
		if r == "" || strings.HasPrefix(r, "//") {
			continue
		}
		kept = append(kept, r)
	}
	if len(kept) == 0 {
		return Expression{}, invalid("rules", "no rules")
	}
	e := Expression{Expression: strings.Join(kept, "\n"), Rules: kept}
	return targetColumn(m, e, "append-column", "new-column-name", "replace-column-name")
}

func targetColumn(m *settings.Config, e Expression, appendKey, newKey, replaceKey string) (Expression, error) {
	e.Append = m.BoolOr(appendKey, true)
	key := replaceKey
	if e.Append {
		key = newKey
	}
	col, err := requireText(m, key)
	if err != nil {
		return Expression{}, err
	}
	e.Column = col
	return e, nil
}

// MergePlacement says where a column merger puts its result.
type MergePlacement int

const (
	PlaceReplaceBoth MergePlacement = iota
	PlaceReplacePrimary
	PlaceReplaceSecondary
	PlaceAppend
)

// ColumnMerger is the configuration of a column merger node.
type ColumnMerger struct {
	Primary   string
	Secondary string
	Placement MergePlacement
	// OutputName is the requested name of an appended column.
	OutputName string
}

// ParseColumnMerger decodes a column merger.
func ParseColumnMerger(cfg *settings.Config) (ColumnMerger, error) {
	m := Model(cfg)
	primary, err := requireText(m, "primaryColumn")
	if err != nil {
		return ColumnMerger{}, err
	}
	secondary, err := requireText(m, "secondaryColumn")
	if err != nil {
		return ColumnMerger{}, err
	}
	c := ColumnMerger{Primary: primary, Secondary: secondary}

	raw := m.TextOr("outputPlacement", "Replace both")
	switch p := normalize(raw); {
	case strings.HasPrefix(p, "replaceboth"):
		c.Placement = PlaceReplaceBoth
	case strings.HasPrefix(p, "replaceprimary"):
		c.Placement = PlaceReplacePrimary
	case strings.HasPrefix(p, "replacesecondary"):
		c.Placement = PlaceReplaceSecondary
	case strings.HasPrefix(p, "append"):
		c.Placement = PlaceAppend
		if c.OutputName, err = requireText(m, "outputName"); err != nil {
			return ColumnMerger{}, err
		}
	default:
		return ColumnMerger{}, invalid("outputPlacement", "unknown placement %q", raw)
	}
	return c, nil
}

// ConstantValueColumn is the configuration of a constant value column node.
type ConstantValueColumn struct {
	Column string
	// Value may be empty; an empty constant is a real value, not a missing one.
	Value   string
	Replace bool
}

// ParseConstantValueColumn decodes a constant value column.
func ParseConstantValueColumn(cfg *settings.Config) (ConstantValueColumn, error) {
	m := Model(cfg)
	col, err := requireText(m, "column-name")
	if err != nil {
		return ConstantValueColumn{}, err
	}
	v := m.Value("value")
	if !v.Present() || v.State == settings.Null {
		return ConstantValueColumn{}, missing("value")
	}
	return ConstantValueColumn{Column: col, Value: v.String(), Replace: m.BoolOr("replace", false)}, nil
}
