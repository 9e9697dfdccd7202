package dialect

// standardAggregates are spelled the same by every built-in dialect.
var standardAggregates = map[string]string{
	"Sum":                "SUM(%s)",
	"Mean":               "AVG(%s)",
	"Average":            "AVG(%s)",
	"Count":              "COUNT(%s)",
	"Unique count":       "COUNT(DISTINCT %s)",
	"Minimum":            "MIN(%s)",
	"Min":                "MIN(%s)",
	"Maximum":            "MAX(%s)",
	"Max":                "MAX(%s)",
	"Standard deviation": "STDDEV_SAMP(%s)",
	"Variance":           "VAR_SAMP(%s)",
}

var standardReserved = []string{
	"all", "and", "as", "asc", "between", "by", "case", "cast", "check", "column",
	"create", "cross", "current_date", "default", "desc", "distinct", "else", "end",
	"except", "false", "fetch", "for", "from", "full", "grant", "group", "having",
	"in", "inner", "intersect", "into", "is", "join", "left", "like", "limit", "natural",
	"not", "null", "offset", "on", "or", "order", "outer", "right", "select", "table",
	"then", "to", "true", "union", "unique", "user", "using", "view", "when", "where", "with",
}

// ANSI writes portable SQL. Source files are expected to be loaded into
// tables named after them.
var ANSI = NewDialect("ansi").
	Identifiers(`"`, `"`, `""`).
	LimitStyle(LimitFetchFirst).
	Aggregates(standardAggregates).
	WithReservedWords(standardReserved...).
	Build()

// DuckDB scans source files directly with its table functions.
var DuckDB = NewDialect("duckdb").
	Identifiers(`"`, `"`, `""`).
	FileFunctions("read_csv_auto", "read_xlsx").
	ReplaceViews().
	Aggregates(standardAggregates).
	Aggregates(map[string]string{
		"Median":      "MEDIAN(%s)",
		"First":       "FIRST(%s)",
		"Last":        "LAST(%s)",
		"Mode":        "MODE(%s)",
		"Concatenate": "STRING_AGG(CAST(%s AS VARCHAR), ', ')",
		"List":        "LIST(%s)",
	}).
	WithReservedWords(standardReserved...).
	Build()

// Postgres reads sources from tables, by default in the public schema.
var Postgres = NewDialect("postgres").
	Identifiers(`"`, `"`, `""`).
	DefaultSchema("public").
	ReplaceViews().
	Aggregates(standardAggregates).
	Aggregates(map[string]string{
		"Median":      "PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY %s)",
		"Mode":        "MODE() WITHIN GROUP (ORDER BY %s)",
		"Concatenate": "STRING_AGG(CAST(%s AS TEXT), ', ')",
		"List":        "ARRAY_AGG(%s)",
	}).
	WithReservedWords(standardReserved...).
	WithReservedWords("analyse", "analyze", "array", "asymmetric", "leading", "only", "placing", "returning", "trailing", "variadic").
	Build()

func init() {
	Register(ANSI)
	Register(DuckDB)
	Register(Postgres)
	SetDefault(ANSI)
}
