package kinds

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/flowsql/pkg/settings"
)

// Aggregation is one aggregated column of a group by.
type Aggregation struct {
	Column string
	// Method is the aggregation name with any version suffix removed, e.g. "Sum".
	Method string
}

// OutputName is the column name the aggregation produces, e.g. "Sum(amount)".
func (a Aggregation) OutputName() string {
	return a.Method + "(" + a.Column + ")"
}

// GroupBy is the configuration of a group by node.
type GroupBy struct {
	Groups       []string
	Aggregations []Aggregation
	Skipped      []string
}

// ParseGroupBy decodes the "grouByColumns" and "aggregationColumn" blocks.
// The first key is spelled the way workflow files spell it.
func ParseGroupBy(cfg *settings.Config) (GroupBy, error) {
	m := Model(cfg)
	var g GroupBy

	if groups := m.Child("grouByColumns"); groups != nil {
		g.Groups, g.Skipped = optionalArray(groups, "InclList")
	}

	if agg := m.Child("aggregationColumn"); agg != nil {
		cols, colSkipped := optionalArray(agg, "columnNames")
		methods, methodSkipped := optionalArray(agg, "aggregationMethod")
		g.Skipped = append(g.Skipped, append(colSkipped, methodSkipped...)...)
		if len(cols) != len(methods) {
			return GroupBy{}, invalid("aggregationColumn", "%d columns but %d methods", len(cols), len(methods))
		}
		for i, c := range cols {
			method := methodName(methods[i])
			if method == "" {
				return GroupBy{}, missing("aggregationColumn", "aggregationMethod", c)
			}
			g.Aggregations = append(g.Aggregations, Aggregation{Column: c, Method: method})
		}
	}

	if len(g.Groups) == 0 && len(g.Aggregations) == 0 {
		return GroupBy{}, invalid("grouByColumns", "no group or aggregation columns")
	}
	return g, nil
}

// methodName strips version suffixes such as "Sum_V2.5.2".
func methodName(raw string) string {
	raw = strings.TrimSpace(raw)
	if i := strings.Index(raw, "_V"); i > 0 {
		raw = raw[:i]
	}
	return raw
}

// JoinMode is the kind of SQL join.
type JoinMode int

const (
	JoinInner JoinMode = iota
	JoinLeft
	JoinRight
	JoinFull
)

func (m JoinMode) String() string {
	switch m {
	case JoinLeft:
		return "LEFT JOIN"
	case JoinRight:
		return "RIGHT JOIN"
	case JoinFull:
		return "FULL OUTER JOIN"
	default:
		return "INNER JOIN"
	}
}

// DefaultJoinSuffix is appended to right columns that collide with left ones.
const DefaultJoinSuffix = " (#1)"

// Joiner is the configuration of a joiner node.
type Joiner struct {
	LeftKeys  []string
	RightKeys []string
	Mode      JoinMode
	// MergeKeys drops the right join columns from the output.
	MergeKeys bool
	Suffix    string
	Skipped   []string
}

// ParseJoiner decodes a joiner.
func ParseJoiner(cfg *settings.Config) (Joiner, error) {
	m := Model(cfg)
	left, leftSkipped, err := requireArray(m, "leftTableJoinPredicate")
	if err != nil {
		return Joiner{}, err
	}
	right, rightSkipped, err := requireArray(m, "rightTableJoinPredicate")
	if err != nil {
		return Joiner{}, err
	}
	if len(left) == 0 || len(left) != len(right) {
		return Joiner{}, invalid("joinPredicate", "%d left keys and %d right keys", len(left), len(right))
	}

	j := Joiner{
		LeftKeys:  left,
		RightKeys: right,
		MergeKeys: m.BoolOr("mergeJoinColumns", false),
		Suffix:    DefaultJoinSuffix,
		Skipped:   append(leftSkipped, rightSkipped...),
	}
	// An explicitly empty suffix is kept; only an absent one takes the default.
	if v := m.Value("suffix"); v.Present() && v.State != settings.Null {
		j.Suffix = v.String()
	}
	if j.Suffix == "" {
		return Joiner{}, invalid("suffix", "empty suffix cannot disambiguate duplicate columns")
	}

	switch raw := m.TextOr("joinMode", "InnerJoin"); normalize(raw) {
	case "innerjoin", "inner":
		j.Mode = JoinInner
	case "leftouterjoin", "leftjoin", "left":
		j.Mode = JoinLeft
	case "rightouterjoin", "rightjoin", "right":
		j.Mode = JoinRight
	case "fullouterjoin", "fulljoin", "full", "outer":
		j.Mode = JoinFull
	default:
		return Joiner{}, invalid("joinMode", "unknown mode %q", raw)
	}
	return j, nil
}

// Concatenate is the configuration of a concatenate node.
type Concatenate struct {
	// Intersection keeps only columns every input has; otherwise the union is used.
	Intersection bool
}

// ParseConcatenate decodes a concatenate node. Every setting is optional.
func ParseConcatenate(cfg *settings.Config) (Concatenate, error) {
	return Concatenate{Intersection: Model(cfg).BoolOr("intersection_of_columns", false)}, nil
}

// JoinColumn is one output column of a join.
type JoinColumn struct {
	// Right is set for columns taken from the right input.
	Right bool
	// Source is the column name in its input.
	Source string
	// Name is the column name in the join output.
	Name string
}

// Columns lays out the join output: every left column, then the right
// columns. Right join keys are dropped when MergeKeys is set, and a right
// column whose name is already taken gets Suffix appended until it is unique.
func (j Joiner) Columns(left, right []string) []JoinColumn {
	rightKey := make(map[string]bool, len(j.RightKeys))
	for _, k := range j.RightKeys {
		rightKey[k] = true
	}

	taken := make(map[string]bool, len(left)+len(right))
	out := make([]JoinColumn, 0, len(left)+len(right))
	for _, c := range left {
		if taken[c] {
			continue
		}
		taken[c] = true
		out = append(out, JoinColumn{Source: c, Name: c})
	}
	for _, c := range right {
		if j.MergeKeys && rightKey[c] {
			continue
		}
		name := c
		for taken[name] {
			name += j.Suffix
		}
		taken[name] = true
		out = append(out, JoinColumn{Right: true, Source: c, Name: name})
	}
	return out
}

// UniqueName returns name, or name with " (#n)" appended for the smallest n
// that does not collide with existing.
func UniqueName(name string, existing []string) string {
	taken := make(map[string]bool, len(existing))
	for _, e := range existing {
		taken[e] = true
	}
	if !taken[name] {
		return name
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s (#%d)", name, i)
		if !taken[candidate] {
			return candidate
		}
	}
}
