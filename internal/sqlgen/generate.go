package sqlgen

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/flowsql/internal/kinds"
	"github.com/leapstack-labs/flowsql/pkg/core"
	"github.com/leapstack-labs/flowsql/pkg/dialect"
	"github.com/leapstack-labs/flowsql/pkg/settings"
)

// ErrMissingSetting is returned when a required setting is absent.
var ErrMissingSetting = kinds.ErrMissingSetting

// GenerateNode returns the SELECT statement computing node n from its
// predecessors. It reads only the node's settings, its input schema and the
// aliases and schemas of its predecessors.
func GenerateNode(n *core.ResolvedNode, cfg *settings.Config, d *dialect.Dialect) (string, error) {
	g := generator{d: d, n: n}

	switch n.Kind {
	case core.KindUnsupported:
		return "", fmt.Errorf("%w: node factory %q has no SQL form", ErrUnsupported, n.Factory)
	case core.KindCSVReader:
		return g.fileReader(cfg, false)
	case core.KindExcelReader:
		return g.fileReader(cfg, true)
	case core.KindTableCreator:
		return g.tableCreator(cfg)
	case core.KindColumnFilter:
		return g.columnFilter(cfg)
	case core.KindColumnRename:
		return g.columnRename(cfg)
	case core.KindRowFilter:
		return g.rowFilter(cfg)
	case core.KindSorter:
		return g.sorter(cfg)
	case core.KindRowSampler:
		return g.rowSampler(cfg)
	case core.KindDuplicateRowFilter:
		return g.duplicateRowFilter(cfg)
	case core.KindMathFormula, core.KindStringManipulation:
		return g.expression(cfg)
	case core.KindRuleEngine:
		return g.ruleEngine(cfg)
	case core.KindColumnMerger:
		return g.columnMerger(cfg)
	case core.KindConstantValueColumn:
		return g.constantValueColumn(cfg)
	case core.KindGroupBy:
		return g.groupBy(cfg)
	case core.KindJoiner:
		return g.joiner(cfg)
	case core.KindConcatenate:
		return g.concatenate(cfg)
	}
	return "", fmt.Errorf("%w: no SQL rule for kind %s", ErrUnsupported, n.Kind)
}

type generator struct {
	d *dialect.Dialect
	n *core.ResolvedNode
}

func (g generator) id(name string) string {
	return g.d.QuoteIdentifier(name)
}

func (g generator) ids(names []string) string {
	quoted := make([]string, len(names))
	for i, c := range names {
		quoted[i] = g.id(c)
	}
	return strings.Join(quoted, ", ")
}

func (g generator) table(alias string) string {
	return g.d.QuoteIdentifierIfNeeded(alias)
}

// input returns the predecessor a single-input node reads from. When several
// predecessors feed the node, the first one must carry every input column.
func (g generator) input() (core.Predecessor, error) {
	p, ok := g.n.PredecessorByRole(core.RolePrimary)
	if !ok {
		return core.Predecessor{}, fmt.Errorf("node has no input")
	}
	for _, c := range g.n.InputSchema {
		if !p.Schema.Contains(c) {
			return core.Predecessor{}, fmt.Errorf("column %q only comes from an extra input", c)
		}
	}
	return p, nil
}

func (g generator) requireColumns(role string, cols ...string) error {
	for _, c := range cols {
		if !g.n.InputSchema.Contains(c) {
			return fmt.Errorf("%w: %s column %q is not in the input", kinds.ErrInvalidSetting, role, c)
		}
	}
	return nil
}

// selectFrom renders "SELECT items FROM the primary input" followed by tail.
func (g generator) selectFrom(items string, tail ...string) (string, error) {
	p, err := g.input()
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(items)
	b.WriteString("\nFROM ")
	b.WriteString(g.table(p.Alias))
	for _, t := range tail {
		b.WriteByte('\n')
		b.WriteString(t)
	}
	return b.String(), nil
}

// withColumn projects the input with column name computed by expr. An existing
// column keeps its position; a new one goes last.
func (g generator) withColumn(name, expr string) (string, error) {
	items := make([]string, 0, len(g.n.InputSchema)+1)
	found := false
	for _, c := range g.n.InputSchema {
		if c == name {
			items = append(items, expr+" AS "+g.id(c))
			found = true
			continue
		}
		items = append(items, g.id(c))
	}
	if !found {
		items = append(items, expr+" AS "+g.id(name))
	}
	return g.selectFrom(strings.Join(items, ", "))
}

func (g generator) fileReader(cfg *settings.Config, excel bool) (string, error) {
	src, err := kinds.ParseFileReader(cfg)
	if err != nil {
		return "", err
	}
	if len(src.Columns) == 0 {
		return "", fmt.Errorf("%w: reader declares no columns", kinds.ErrInvalidSetting)
	}
	from := g.d.ScanCSV(src.Path)
	if excel {
		from = g.d.ScanExcel(src.Path, src.Sheet)
	}
	return "SELECT " + g.ids(src.Columns) + "\nFROM " + from, nil
}

func (g generator) tableCreator(cfg *settings.Config) (string, error) {
	src, err := kinds.ParseTableCreator(cfg)
	if err != nil {
		return "", err
	}
	if len(src.Columns) == 0 {
		return "", fmt.Errorf("%w: table declares no columns", kinds.ErrInvalidSetting)
	}
	if len(src.Rows) == 0 {
		items := make([]string, len(src.Columns))
		for i, c := range src.Columns {
			items[i] = "NULL AS " + g.id(c)
		}
		return "SELECT " + strings.Join(items, ", ") + "\nWHERE 1 = 0", nil
	}

	rows := make([]string, len(src.Rows))
	for i, row := range src.Rows {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = g.d.QuoteString(v)
		}
		rows[i] = "  (" + strings.Join(cells, ", ") + ")"
	}
	return fmt.Sprintf("SELECT %s\nFROM (VALUES\n%s\n) AS t(%s)",
		g.ids(src.Columns), strings.Join(rows, ",\n"), g.ids(src.Columns)), nil
}

func (g generator) columnFilter(cfg *settings.Config) (string, error) {
	f, err := kinds.ParseColumnFilter(cfg)
	if err != nil {
		return "", err
	}
	var out core.Schema
	switch f.Mode {
	case kinds.FilterInclude:
		out = g.n.InputSchema.Without(g.n.InputSchema.Without(f.Included...)...)
	default:
		out = g.n.InputSchema.Without(f.Excluded...)
	}
	if len(out) == 0 {
		return "", fmt.Errorf("%w: filter removes every column", kinds.ErrInvalidSetting)
	}
	return g.selectFrom(g.ids(out))
}

func (g generator) columnRename(cfg *settings.Config) (string, error) {
	r, err := kinds.ParseColumnRename(cfg)
	if err != nil {
		return "", err
	}
	m := r.Map()
	for old := range m {
		if err := g.requireColumns("renamed", old); err != nil {
			return "", err
		}
	}
	items := make([]string, len(g.n.InputSchema))
	for i, c := range g.n.InputSchema {
		items[i] = g.id(c)
		if to, ok := m[c]; ok {
			items[i] += " AS " + g.id(to)
		}
	}
	return g.selectFrom(strings.Join(items, ", "))
}

var comparisons = map[string]string{
	kinds.OpEqual:        "=",
	kinds.OpNotEqual:     "<>",
	kinds.OpLess:         "<",
	kinds.OpLessEqual:    "<=",
	kinds.OpGreater:      ">",
	kinds.OpGreaterEqual: ">=",
}

func (g generator) rowFilter(cfg *settings.Config) (string, error) {
	f, err := kinds.ParseRowFilter(cfg)
	if err != nil {
		return "", err
	}
	if err := g.requireColumns("filtered", f.Column); err != nil {
		return "", err
	}

	col := g.id(f.Column)
	var cond string
	nullable := true
	switch f.Operator {
	case kinds.OpBetween:
		cond = fmt.Sprintf("%s BETWEEN %s AND %s", col, g.d.QuoteString(f.Value), g.d.QuoteString(f.Value2))
	case kinds.OpLike:
		cond = fmt.Sprintf("%s LIKE %s", col, g.d.QuoteString(wildcardToLike(f.Value)))
	case kinds.OpMissing:
		cond, nullable = col+" IS NULL", false
	case kinds.OpNotMissing:
		cond, nullable = col+" IS NOT NULL", false
	default:
		op, ok := comparisons[f.Operator]
		if !ok {
			return "", fmt.Errorf("%w: operator %q", ErrUnsupported, f.Operator)
		}
		cond = fmt.Sprintf("%s %s %s", col, op, g.d.QuoteString(f.Value))
	}

	if !f.Include {
		// Rows where the comparison is unknown are not matches, so they stay.
		if nullable {
			cond = fmt.Sprintf("%s IS NULL OR NOT (%s)", col, cond)
		} else {
			cond = "NOT (" + cond + ")"
		}
	}
	return g.selectFrom("*", "WHERE "+cond)
}

func (g generator) sorter(cfg *settings.Config) (string, error) {
	s, err := kinds.ParseSorter(cfg)
	if err != nil {
		return "", err
	}
	keys := make([]string, len(s.Keys))
	for i, k := range s.Keys {
		if err := g.requireColumns("sort", k.Column); err != nil {
			return "", err
		}
		dir := "ASC"
		if !k.Ascending {
			dir = "DESC"
		}
		keys[i] = g.id(k.Column) + " " + dir
	}
	return g.selectFrom("*", "ORDER BY "+strings.Join(keys, ", "))
}

func (g generator) rowSampler(cfg *settings.Config) (string, error) {
	s, err := kinds.ParseRowSampler(cfg)
	if err != nil {
		return "", err
	}
	return g.selectFrom("*", g.d.Limit(s.Count))
}

func (g generator) duplicateRowFilter(cfg *settings.Config) (string, error) {
	f, err := kinds.ParseDuplicateRowFilter(cfg)
	if err != nil {
		return "", err
	}
	if err := g.requireColumns("compared", f.Columns...); err != nil {
		return "", err
	}
	keys := core.Schema(f.Columns).Dedup()
	if len(keys) == 0 || len(g.n.InputSchema.Without(keys...)) == 0 {
		return g.selectFrom("DISTINCT *")
	}

	p, err := g.input()
	if err != nil {
		return "", err
	}
	rn := g.id(kinds.UniqueName("row_number", g.n.InputSchema))
	return fmt.Sprintf("SELECT %s\nFROM (\n  SELECT *, ROW_NUMBER() OVER (PARTITION BY %s) AS %s\n  FROM %s\n) AS deduplicated\nWHERE %s = 1",
		g.ids(g.n.InputSchema), g.ids(keys), rn, g.table(p.Alias), rn), nil
}

func (g generator) expression(cfg *settings.Config) (string, error) {
	e, err := kinds.ParseExpression(cfg)
	if err != nil {
		return "", err
	}
	if !e.Append {
		if err := g.requireColumns("replaced", e.Column); err != nil {
			return "", err
		}
	}
	expr, err := translate(g.d, e.Expression, g.n.InputSchema)
	if err != nil {
		return "", err
	}
	return g.withColumn(e.Column, "("+expr+")")
}

func (g generator) ruleEngine(cfg *settings.Config) (string, error) {
	e, err := kinds.ParseRuleEngine(cfg)
	if err != nil {
		return "", err
	}
	if !e.Append {
		if err := g.requireColumns("replaced", e.Column); err != nil {
			return "", err
		}
	}
	rules, err := translateRules(g.d, e.Rules, g.n.InputSchema)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("CASE")
	for _, r := range rules {
		if r.when == "" {
			b.WriteString(" ELSE " + r.then)
			continue
		}
		b.WriteString(" WHEN " + r.when + " THEN " + r.then)
	}
	b.WriteString(" END")
	return g.withColumn(e.Column, b.String())
}

func (g generator) columnMerger(cfg *settings.Config) (string, error) {
	m, err := kinds.ParseColumnMerger(cfg)
	if err != nil {
		return "", err
	}
	if err := g.requireColumns("merged", m.Primary, m.Secondary); err != nil {
		return "", err
	}
	merged := fmt.Sprintf("COALESCE(%s, %s)", g.id(m.Primary), g.id(m.Secondary))

	switch m.Placement {
	case kinds.PlaceAppend:
		return g.withColumn(kinds.UniqueName(m.OutputName, g.n.InputSchema), merged)
	case kinds.PlaceReplaceSecondary:
		return g.withColumn(m.Secondary, merged)
	case kinds.PlaceReplacePrimary:
		return g.withColumn(m.Primary, merged)
	}

	items := make([]string, 0, len(g.n.InputSchema))
	for _, c := range g.n.InputSchema {
		switch {
		case c == m.Primary:
			items = append(items, merged+" AS "+g.id(c))
		case c == m.Secondary:
		default:
			items = append(items, g.id(c))
		}
	}
	return g.selectFrom(strings.Join(items, ", "))
}

func (g generator) constantValueColumn(cfg *settings.Config) (string, error) {
	c, err := kinds.ParseConstantValueColumn(cfg)
	if err != nil {
		return "", err
	}
	if c.Replace {
		if err := g.requireColumns("replaced", c.Column); err != nil {
			return "", err
		}
	}
	return g.withColumn(c.Column, g.d.QuoteString(c.Value))
}

func (g generator) groupBy(cfg *settings.Config) (string, error) {
	gb, err := kinds.ParseGroupBy(cfg)
	if err != nil {
		return "", err
	}
	if err := g.requireColumns("group", gb.Groups...); err != nil {
		return "", err
	}

	items := make([]string, 0, len(gb.Groups)+len(gb.Aggregations))
	for _, c := range gb.Groups {
		items = append(items, g.id(c))
	}
	for _, a := range gb.Aggregations {
		if err := g.requireColumns("aggregated", a.Column); err != nil {
			return "", err
		}
		expr, ok := g.d.Aggregate(a.Method, g.id(a.Column))
		if !ok {
			return "", fmt.Errorf("%w: aggregation %q in dialect %s", ErrUnsupported, a.Method, g.d.Name)
		}
		items = append(items, expr+" AS "+g.id(a.OutputName()))
	}

	var tail []string
	if len(gb.Groups) > 0 {
		tail = append(tail, "GROUP BY "+g.ids(gb.Groups))
	}
	return g.selectFrom(strings.Join(items, ", "), tail...)
}

func (g generator) joiner(cfg *settings.Config) (string, error) {
	j, err := kinds.ParseJoiner(cfg)
	if err != nil {
		return "", err
	}
	left, okLeft := g.n.PredecessorByRole(core.RoleLeft)
	right, okRight := g.n.PredecessorByRole(core.RoleRight)
	if !okLeft || !okRight {
		return "", fmt.Errorf("joiner needs a left and a right input")
	}

	on := make([]string, len(j.LeftKeys))
	mergedKey := make(map[string]string, len(j.LeftKeys))
	for i := range j.LeftKeys {
		lk, rk := j.LeftKeys[i], j.RightKeys[i]
		if !left.Schema.Contains(lk) {
			return "", fmt.Errorf("%w: left join column %q is not in the input", kinds.ErrInvalidSetting, lk)
		}
		if !right.Schema.Contains(rk) {
			return "", fmt.Errorf("%w: right join column %q is not in the input", kinds.ErrInvalidSetting, rk)
		}
		on[i] = fmt.Sprintf("l.%s = r.%s", g.id(lk), g.id(rk))
		if _, seen := mergedKey[lk]; !seen {
			mergedKey[lk] = rk
		}
	}

	// Merged keys come from the right side for rows only the right side has.
	coalesce := j.MergeKeys && (j.Mode == kinds.JoinRight || j.Mode == kinds.JoinFull)

	cols := j.Columns(left.Schema, right.Schema)
	items := make([]string, len(cols))
	for i, c := range cols {
		switch {
		case c.Right:
			items[i] = "r." + g.id(c.Source)
			if c.Name != c.Source {
				items[i] += " AS " + g.id(c.Name)
			}
		case coalesce && mergedKey[c.Source] != "":
			items[i] = fmt.Sprintf("COALESCE(l.%s, r.%s) AS %s", g.id(c.Source), g.id(mergedKey[c.Source]), g.id(c.Name))
		default:
			items[i] = "l." + g.id(c.Source)
		}
	}

	return fmt.Sprintf("SELECT %s\nFROM %s AS l\n%s %s AS r ON %s",
		strings.Join(items, ", "),
		g.table(left.Alias),
		j.Mode, g.table(right.Alias),
		strings.Join(on, " AND ")), nil
}

func (g generator) concatenate(cfg *settings.Config) (string, error) {
	c, err := kinds.ParseConcatenate(cfg)
	if err != nil {
		return "", err
	}
	if len(g.n.Predecessors) == 0 {
		return "", fmt.Errorf("concatenate has no inputs")
	}
	schemas := make([]core.Schema, len(g.n.Predecessors))
	for i, p := range g.n.Predecessors {
		schemas[i] = p.Schema
	}
	out := core.Union(schemas...)
	if c.Intersection {
		out = core.Intersect(schemas...)
	}
	if len(out) == 0 {
		return "", fmt.Errorf("%w: inputs share no columns", kinds.ErrInvalidSetting)
	}

	parts := make([]string, len(g.n.Predecessors))
	for i, p := range g.n.Predecessors {
		items := make([]string, len(out))
		for k, col := range out {
			if p.Schema.Contains(col) {
				items[k] = g.id(col)
			} else {
				items[k] = "NULL AS " + g.id(col)
			}
		}
		parts[i] = "SELECT " + strings.Join(items, ", ") + "\nFROM " + g.table(p.Alias)
	}
	return strings.Join(parts, "\nUNION ALL\n"), nil
}
