package kinds

import (
	"github.com/leapstack-labs/flowsql/pkg/settings"
)

// Source is the configuration shared by reader and table creator nodes.
type Source struct {
	// Path is the file read by CSV and Excel readers.
	Path string
	// Sheet is the Excel sheet name, empty for the first sheet.
	Sheet   string
	Columns []string
	// Rows holds the literal cell values of a table creator, one slice per row.
	Rows [][]string
	// Skipped lists array entries that were ignored while decoding.
	Skipped []string
}

// ParseFileReader decodes a CSV or Excel reader. The path is required.
func ParseFileReader(cfg *settings.Config) (Source, error) {
	m := Model(cfg)
	path, err := requireText(m, "path")
	if err != nil {
		return Source{}, err
	}
	cols, skipped, err := requireArray(m, "columns")
	if err != nil {
		return Source{}, err
	}
	return Source{
		Path:    path,
		Sheet:   m.TextOr("sheet", ""),
		Columns: cols,
		Skipped: skipped,
	}, nil
}

// ParseTableCreator decodes a table creator. Each child of the "rows" block is
// an array of cell values in column order.
func ParseTableCreator(cfg *settings.Config) (Source, error) {
	m := Model(cfg)
	cols, skipped, err := requireArray(m, "columns")
	if err != nil {
		return Source{}, err
	}
	src := Source{Columns: cols, Skipped: skipped}
	if rows := m.Child("rows"); rows != nil {
		for _, row := range rows.Children {
			cells, rowSkipped := settings.ArrayValues(row)
			if len(cells) != len(cols) {
				return Source{}, invalid("rows/"+row.Key, "has %d cells, want %d", len(cells), len(cols))
			}
			src.Rows = append(src.Rows, cells)
			src.Skipped = append(src.Skipped, prefixed("rows/"+row.Key, rowSkipped)...)
		}
	}
	return src, nil
}
