// Package dialect describes the SQL dialects generated code can target.
//
// A dialect owns everything that differs between engines in the SQL we emit:
// identifier and string quoting, how a source file is scanned, view creation,
// row limits and aggregate function spelling. Built-in dialects are registered
// from builtin.go.
package dialect

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

// Params are user overrides applied on top of a registered dialect.
type Params struct {
	// CSVFunction replaces the table function used to scan CSV files.
	CSVFunction string `mapstructure:"csv_function" json:"csv_function,omitempty"`
	// ExcelFunction replaces the table function used to scan Excel files.
	ExcelFunction string `mapstructure:"excel_function" json:"excel_function,omitempty"`
	// Schema qualifies tables that stand in for source files.
	Schema string `mapstructure:"schema" json:"schema,omitempty"`
}

// LimitStyle selects how a row limit is written.
type LimitStyle int

const (
	// LimitClause writes "LIMIT n".
	LimitClause LimitStyle = iota
	// LimitFetchFirst writes "FETCH FIRST n ROWS ONLY".
	LimitFetchFirst
)

// Dialect represents a SQL dialect configuration.
type Dialect struct {
	Name string

	// Identifier quoting
	Quote    string
	QuoteEnd string
	Escape   string

	// DefaultSchema qualifies file stand-in tables when set.
	DefaultSchema string

	// Table functions for scanning files; empty means the file is expected
	// to be loaded into a table named after it.
	csvFunction   string
	excelFunction string

	replaceViews  bool
	limitStyle    LimitStyle
	aggregates    map[string]string // normalized method -> format with one %s
	reservedWords map[string]struct{}
}

// QuoteIdentifier quotes an identifier using the dialect's quote characters.
func (d *Dialect) QuoteIdentifier(name string) string {
	// Escape any existing quote end characters in the name (e.g., " -> "")
	escaped := strings.ReplaceAll(name, d.QuoteEnd, d.Escape)
	return d.Quote + escaped + d.QuoteEnd
}

// IsReservedWord returns true if the word needs quoting when used as an identifier.
func (d *Dialect) IsReservedWord(word string) bool {
	_, ok := d.reservedWords[strings.ToLower(word)]
	return ok
}

// QuoteIdentifierIfNeeded quotes an identifier only if it is reserved or is
// not a plain lowercase identifier.
func (d *Dialect) QuoteIdentifierIfNeeded(name string) string {
	if d.IsReservedWord(name) || !isPlainIdentifier(name) {
		return d.QuoteIdentifier(name)
	}
	return name
}

func isPlainIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// QuoteString writes s as a single-quoted SQL string literal.
func (d *Dialect) QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// CreateView returns the statement prefix that defines a view named name.
func (d *Dialect) CreateView(name string) string {
	if d.replaceViews {
		return "CREATE OR REPLACE VIEW " + name + " AS"
	}
	return "CREATE VIEW " + name + " AS"
}

// Limit returns the clause restricting a query to n rows.
func (d *Dialect) Limit(n int) string {
	if d.limitStyle == LimitFetchFirst {
		return fmt.Sprintf("FETCH FIRST %d ROWS ONLY", n)
	}
	return fmt.Sprintf("LIMIT %d", n)
}

// ScanCSV returns a FROM item reading a CSV file.
func (d *Dialect) ScanCSV(path string) string {
	if d.csvFunction != "" {
		return fmt.Sprintf("%s(%s)", d.csvFunction, d.QuoteString(path))
	}
	return d.fileTable(path, "")
}

// ScanExcel returns a FROM item reading one sheet of an Excel file.
func (d *Dialect) ScanExcel(path, sheet string) string {
	if d.excelFunction != "" {
		if sheet == "" {
			return fmt.Sprintf("%s(%s)", d.excelFunction, d.QuoteString(path))
		}
		return fmt.Sprintf("%s(%s, sheet = %s)", d.excelFunction, d.QuoteString(path), d.QuoteString(sheet))
	}
	return d.fileTable(path, sheet)
}

// fileTable names the table that stands in for a file: its base name without
// extension, plus the sheet when there is one.
func (d *Dialect) fileTable(path, sheet string) string {
	base := filepath.Base(filepath.ToSlash(path))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if sheet != "" {
		base += "_" + sheet
	}
	name := d.QuoteIdentifier(TableName(base))
	if d.DefaultSchema != "" {
		return d.QuoteIdentifier(d.DefaultSchema) + "." + name
	}
	return name
}

// TableName turns an arbitrary file name into a lowercase identifier.
func TableName(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore && b.Len() > 0 {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	out := strings.TrimSuffix(b.String(), "_")
	if out == "" {
		return "source"
	}
	return out
}

// Aggregate renders aggregation method applied to expr, e.g. "Sum" -> SUM(expr).
func (d *Dialect) Aggregate(method, expr string) (string, bool) {
	format, ok := d.aggregates[normalizeMethod(method)]
	if !ok {
		return "", false
	}
	return fmt.Sprintf(format, expr), true
}

// Aggregates returns the aggregation methods the dialect supports.
func (d *Dialect) Aggregates() []string {
	out := make([]string, 0, len(d.aggregates))
	for m := range d.aggregates {
		out = append(out, m)
	}
	return out
}

func normalizeMethod(s string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '_' || r == '-' {
			return -1
		}
		return unicode.ToLower(r)
	}, s)
}

// WithParams returns a copy of d with p applied.
func (d *Dialect) WithParams(p Params) *Dialect {
	c := *d
	if p.CSVFunction != "" {
		c.csvFunction = p.CSVFunction
	}
	if p.ExcelFunction != "" {
		c.excelFunction = p.ExcelFunction
	}
	if p.Schema != "" {
		c.DefaultSchema = p.Schema
	}
	return &c
}

// Builder provides a fluent API for constructing dialects.
type Builder struct {
	dialect *Dialect
}

// NewDialect creates a new dialect builder with the given name.
func NewDialect(name string) *Builder {
	return &Builder{
		dialect: &Dialect{
			Name:          name,
			Quote:         `"`,
			QuoteEnd:      `"`,
			Escape:        `""`,
			aggregates:    make(map[string]string),
			reservedWords: make(map[string]struct{}),
		},
	}
}

// Identifiers configures identifier quoting.
func (b *Builder) Identifiers(quote, quoteEnd, escape string) *Builder {
	b.dialect.Quote = quote
	b.dialect.QuoteEnd = quoteEnd
	b.dialect.Escape = escape
	return b
}

// DefaultSchema sets the schema file stand-in tables live in.
func (b *Builder) DefaultSchema(schema string) *Builder {
	b.dialect.DefaultSchema = schema
	return b
}

// FileFunctions sets the table functions used to scan CSV and Excel files.
func (b *Builder) FileFunctions(csv, excel string) *Builder {
	b.dialect.csvFunction = csv
	b.dialect.excelFunction = excel
	return b
}

// ReplaceViews makes CreateView emit CREATE OR REPLACE.
func (b *Builder) ReplaceViews() *Builder {
	b.dialect.replaceViews = true
	return b
}

// LimitStyle sets how row limits are written.
func (b *Builder) LimitStyle(s LimitStyle) *Builder {
	b.dialect.limitStyle = s
	return b
}

// Aggregates registers aggregation methods as method -> format string with
// one %s for the aggregated expression.
func (b *Builder) Aggregates(formats map[string]string) *Builder {
	for m, f := range formats {
		b.dialect.aggregates[normalizeMethod(m)] = f
	}
	return b
}

// WithReservedWords registers words that need quoting when used as identifiers.
func (b *Builder) WithReservedWords(words ...string) *Builder {
	for _, w := range words {
		b.dialect.reservedWords[strings.ToLower(w)] = struct{}{}
	}
	return b
}

// Build returns the constructed dialect.
func (b *Builder) Build() *Dialect {
	return b.dialect
}
