package sqlgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/flowsql/internal/kinds"
	"github.com/leapstack-labs/flowsql/pkg/core"
	"github.com/leapstack-labs/flowsql/pkg/dialect"
	"github.com/leapstack-labs/flowsql/pkg/settings"
)

// single returns a resolved node reading id, name and amount from node_1.
func single(kind core.Kind) *core.ResolvedNode {
	schema := core.Schema{"id", "name", "amount"}
	return &core.ResolvedNode{
		ID:          2,
		Kind:        kind,
		Alias:       "node_2",
		InputSchema: schema,
		Predecessors: []core.Predecessor{
			{ID: 1, Alias: "node_1", Role: core.RolePrimary, Schema: schema},
		},
	}
}

func model() *settings.Config { return settings.New("model") }

func TestGenerateNode(t *testing.T) {
	tests := []struct {
		name string
		kind core.Kind
		cfg  *settings.Config
		want string
	}{
		{
			name: "csv reader",
			kind: core.KindCSVReader,
			cfg:  model().Set("path", "data/in.csv").Add(settings.NewArray("columns", "id", "name")),
			want: "SELECT \"id\", \"name\"\nFROM \"in\"",
		},
		{
			name: "excel reader",
			kind: core.KindExcelReader,
			cfg:  model().Set("path", "in/budget.xlsx").Set("sheet", "Q1").Add(settings.NewArray("columns", "id")),
			want: "SELECT \"id\"\nFROM \"budget_q1\"",
		},
		{
			name: "table creator",
			kind: core.KindTableCreator,
			cfg: model().Add(
				settings.NewArray("columns", "k", "v"),
				settings.New("rows").Add(settings.NewArray("0", "a", "1"), settings.NewArray("1", "b", "")),
			),
			want: "SELECT \"k\", \"v\"\nFROM (VALUES\n  ('a', '1'),\n  ('b', '')\n) AS t(\"k\", \"v\")",
		},
		{
			name: "empty table creator",
			kind: core.KindTableCreator,
			cfg:  model().Add(settings.NewArray("columns", "k")),
			want: "SELECT NULL AS \"k\"\nWHERE 1 = 0",
		},
		{
			name: "include filter keeps input order",
			kind: core.KindColumnFilter,
			cfg: model().Add(settings.New("column-filter").
				Set("enforce_option", "EnforceInclusion").
				Add(settings.NewArray("included_names", "amount", "id"))),
			want: "SELECT \"id\", \"amount\"\nFROM node_1",
		},
		{
			name: "rename",
			kind: core.KindColumnRename,
			cfg: model().Add(settings.New("all_columns").Add(
				settings.New("0").Set("old_column_name", "name").Set("new_column_name", "full name"),
			)),
			want: "SELECT \"id\", \"name\" AS \"full name\", \"amount\"\nFROM node_1",
		},
		{
			name: "row filter comparison",
			kind: core.KindRowFilter,
			cfg:  model().Set("column", "amount").Set("operator", ">=").Set("value", "10"),
			want: "SELECT *\nFROM node_1\nWHERE \"amount\" >= '10'",
		},
		{
			name: "row filter exclude pattern",
			kind: core.KindRowFilter,
			cfg:  model().Set("column", "name").Set("operator", "like").Set("value", "A*").SetBool("include", false),
			want: "SELECT *\nFROM node_1\nWHERE \"name\" IS NULL OR NOT (\"name\" LIKE 'A%')",
		},
		{
			name: "row filter missing",
			kind: core.KindRowFilter,
			cfg:  model().Set("column", "name").Set("operator", "is_missing"),
			want: "SELECT *\nFROM node_1\nWHERE \"name\" IS NULL",
		},
		{
			name: "row filter between",
			kind: core.KindRowFilter,
			cfg:  model().Set("column", "amount").Set("operator", "between").Set("value", "1").Set("value2", "5"),
			want: "SELECT *\nFROM node_1\nWHERE \"amount\" BETWEEN '1' AND '5'",
		},
		{
			name: "row filter empty value",
			kind: core.KindRowFilter,
			cfg:  model().Set("column", "name").Set("operator", "!=").Set("value", ""),
			want: "SELECT *\nFROM node_1\nWHERE \"name\" <> ''",
		},
		{
			name: "sorter",
			kind: core.KindSorter,
			cfg:  model().Add(settings.NewArray("incllist", "amount", "id"), settings.NewBoolArray("sortOrder", false)),
			want: "SELECT *\nFROM node_1\nORDER BY \"amount\" DESC, \"id\" ASC",
		},
		{
			name: "row sampler",
			kind: core.KindRowSampler,
			cfg:  model().SetInt("count", 5),
			want: "SELECT *\nFROM node_1\nFETCH FIRST 5 ROWS ONLY",
		},
		{
			name: "duplicate filter on all columns",
			kind: core.KindDuplicateRowFilter,
			cfg:  model(),
			want: "SELECT DISTINCT *\nFROM node_1",
		},
		{
			name: "duplicate filter on some columns",
			kind: core.KindDuplicateRowFilter,
			cfg:  model().Add(settings.NewArray("columns", "name")),
			want: "SELECT \"id\", \"name\", \"amount\"\nFROM (\n" +
				"  SELECT *, ROW_NUMBER() OVER (PARTITION BY \"name\") AS \"row_number\"\n" +
				"  FROM node_1\n) AS deduplicated\nWHERE \"row_number\" = 1",
		},
		{
			name: "math formula appends",
			kind: core.KindMathFormula,
			cfg:  model().Set("expression", "$amount$ * 2").Set("new_column_name", "double"),
			want: "SELECT \"id\", \"name\", \"amount\", (\"amount\" * 2) AS \"double\"\nFROM node_1",
		},
		{
			name: "string manipulation replaces in place",
			kind: core.KindStringManipulation,
			cfg:  model().Set("expression", "upperCase($name$)").SetBool("append_column", false).Set("replaced_column", "name"),
			want: "SELECT \"id\", (UPPER(\"name\")) AS \"name\", \"amount\"\nFROM node_1",
		},
		{
			name: "string join",
			kind: core.KindStringManipulation,
			cfg:  model().Set("expression", `join($name$, "-", $id$)`).Set("new_column_name", "label"),
			want: "SELECT \"id\", \"name\", \"amount\", (CONCAT(\"name\", '-', \"id\")) AS \"label\"\nFROM node_1",
		},
		{
			name: "rule engine",
			kind: core.KindRuleEngine,
			cfg: model().Set("new-column-name", "size").Add(settings.NewArray("rules",
				`$amount$ > 100 => "big"`,
				`// comment`,
				`$amount$ > 10 => "medium"`,
				`TRUE => "small"`,
			)),
			want: "SELECT \"id\", \"name\", \"amount\", CASE WHEN \"amount\" > 100 THEN 'big' " +
				"WHEN \"amount\" > 10 THEN 'medium' ELSE 'small' END AS \"size\"\nFROM node_1",
		},
		{
			name: "merger replaces both",
			kind: core.KindColumnMerger,
			cfg:  model().Set("primaryColumn", "name").Set("secondaryColumn", "id"),
			want: "SELECT COALESCE(\"name\", \"id\") AS \"name\", \"amount\"\nFROM node_1",
		},
		{
			name: "merger appends unique name",
			kind: core.KindColumnMerger,
			cfg: model().Set("primaryColumn", "name").Set("secondaryColumn", "id").
				Set("outputPlacement", "Append as new column").Set("outputName", "id"),
			want: "SELECT \"id\", \"name\", \"amount\", COALESCE(\"name\", \"id\") AS \"id (#1)\"\nFROM node_1",
		},
		{
			name: "empty constant",
			kind: core.KindConstantValueColumn,
			cfg:  model().Set("column-name", "country").Set("value", ""),
			want: "SELECT \"id\", \"name\", \"amount\", '' AS \"country\"\nFROM node_1",
		},
		{
			name: "group by",
			kind: core.KindGroupBy,
			cfg: model().Add(
				settings.New("grouByColumns").Add(settings.NewArray("InclList", "name")),
				settings.New("aggregationColumn").Add(
					settings.NewArray("columnNames", "amount", "id"),
					settings.NewArray("aggregationMethod", "Sum_V2.5.2", "Count"),
				),
			),
			want: "SELECT \"name\", SUM(\"amount\") AS \"Sum(amount)\", COUNT(\"id\") AS \"Count(id)\"\nFROM node_1\nGROUP BY \"name\"",
		},
		{
			name: "aggregation without groups",
			kind: core.KindGroupBy,
			cfg: model().Add(settings.New("aggregationColumn").Add(
				settings.NewArray("columnNames", "amount"),
				settings.NewArray("aggregationMethod", "Maximum"),
			)),
			want: "SELECT MAX(\"amount\") AS \"Maximum(amount)\"\nFROM node_1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := single(tt.kind)
			if tt.kind.IsSource() {
				n.InputSchema, n.Predecessors = nil, nil
			}
			got, err := GenerateNode(n, tt.cfg, dialect.ANSI)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGenerateNode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		kind    core.Kind
		cfg     *settings.Config
		wantErr error
	}{
		{"unsupported kind", core.KindUnsupported, model(), ErrUnsupported},
		{"missing expression", core.KindMathFormula, model().Set("new_column_name", "x"), ErrMissingSetting},
		{"flow variable", core.KindMathFormula, model().Set("expression", "$${Dfactor}$$ * 2").Set("new_column_name", "x"), ErrUnsupported},
		{"unknown column in expression", core.KindMathFormula, model().Set("expression", "$nope$ + 1").Set("new_column_name", "x"), ErrInvalidExpression},
		{"rule without arrow", core.KindRuleEngine, model().Set("new-column-name", "x").Add(settings.NewArray("rules", `$id$ > 1`)), ErrInvalidExpression},
		{"aggregation missing from dialect", core.KindGroupBy, model().Add(settings.New("aggregationColumn").Add(
			settings.NewArray("columnNames", "amount"),
			settings.NewArray("aggregationMethod", "Median"),
		)), ErrUnsupported},
		{"filter drops everything", core.KindColumnFilter, model().Add(settings.New("column-filter").
			Add(settings.NewArray("excluded_names", "id", "name", "amount"))), kinds.ErrInvalidSetting},
		{"sort on unknown column", core.KindSorter, model().Add(settings.NewArray("incllist", "nope")), kinds.ErrInvalidSetting},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := GenerateNode(single(tt.kind), tt.cfg, dialect.ANSI)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestGenerateNode_ExtraInputColumns(t *testing.T) {
	n := single(core.KindSorter)
	n.InputSchema = core.Schema{"id", "name", "amount", "extra"}
	n.Predecessors = append(n.Predecessors, core.Predecessor{
		ID: 3, Alias: "node_3", Role: core.RoleExtra, Schema: core.Schema{"extra"},
	})

	_, err := GenerateNode(n, model().Add(settings.NewArray("incllist", "id")), dialect.ANSI)
	assert.ErrorContains(t, err, `"extra" only comes from an extra input`)
}

func TestGenerateNode_CoversEveryKind(t *testing.T) {
	for _, k := range core.AllKinds {
		_, err := GenerateNode(single(k), model(), dialect.ANSI)
		if err != nil {
			assert.NotContains(t, err.Error(), "no SQL rule", "kind %s", k)
		}
	}
}

func TestGenerateNode_DuckDBSources(t *testing.T) {
	cfg := model().Set("path", "in/budget.xlsx").Add(settings.NewArray("columns", "id"))
	got, err := GenerateNode(&core.ResolvedNode{ID: 1, Kind: core.KindExcelReader}, cfg, dialect.DuckDB)
	require.NoError(t, err)
	assert.Equal(t, "SELECT \"id\"\nFROM read_xlsx('in/budget.xlsx')", got)
}
