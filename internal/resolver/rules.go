package resolver

import (
	"fmt"

	"github.com/leapstack-labs/flowsql/internal/kinds"
	"github.com/leapstack-labs/flowsql/pkg/core"
)

// delta is the column change a node applies to its input schema.
type delta struct {
	// fixed marks kinds that compute their whole output; output is used as is.
	fixed   bool
	output  core.Schema
	removed []string
	renamed map[string]string
	added   []string
	// skipped lists malformed settings entries ignored while decoding.
	skipped []string
}

// apply writes the output schema and delta onto rn. Removals happen first,
// renames in place second, additions last with existing names keeping their
// position.
func (d delta) apply(rn *core.ResolvedNode) {
	if d.fixed {
		out := d.output.Dedup()
		rn.OutputSchema = out
		rn.Removed = nonEmpty(rn.InputSchema.Without(out...))
		rn.Added = nonEmpty(out.Without(rn.InputSchema...))
		if len(d.renamed) > 0 {
			rn.Renamed = d.renamed
		}
		return
	}
	rn.OutputSchema = rn.InputSchema.Without(d.removed...).Rename(d.renamed).Append(d.added...)
	rn.Removed = nonEmpty(d.removed)
	rn.Added = nonEmpty(d.added)
	if len(d.renamed) > 0 {
		rn.Renamed = d.renamed
	}
}

func nonEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}

func unknownColumn(role, col string) error {
	return fmt.Errorf("%w: %s column %q is not in the input", kinds.ErrInvalidSetting, role, col)
}

// columnRule computes the delta of one node. Every kind has exactly one case.
func columnRule(decl *core.NodeDecl, input core.Schema, preds PredecessorSet) (delta, error) {
	cfg := decl.Settings

	switch decl.Kind {
	case core.KindUnsupported:
		return delta{}, fmt.Errorf("unsupported node factory %q", decl.Factory)

	case core.KindCSVReader, core.KindExcelReader:
		src, err := kinds.ParseFileReader(cfg)
		if err != nil {
			return delta{}, err
		}
		return delta{fixed: true, output: src.Columns, skipped: src.Skipped}, nil

	case core.KindTableCreator:
		src, err := kinds.ParseTableCreator(cfg)
		if err != nil {
			return delta{}, err
		}
		return delta{fixed: true, output: src.Columns, skipped: src.Skipped}, nil

	case core.KindColumnFilter:
		f, err := kinds.ParseColumnFilter(cfg)
		if err != nil {
			return delta{}, err
		}
		d := delta{skipped: f.Skipped}
		switch f.Mode {
		case kinds.FilterInclude:
			d.removed = input.Without(f.Included...)
		default:
			d.removed = input.Without(input.Without(f.Excluded...)...)
		}
		return d, nil

	case core.KindColumnRename:
		r, err := kinds.ParseColumnRename(cfg)
		if err != nil {
			return delta{}, err
		}
		m := r.Map()
		for _, p := range r.Pairs {
			if !input.Contains(p.Old) {
				return delta{}, unknownColumn("renamed", p.Old)
			}
		}
		if out := input.Rename(m); len(out) != len(input.Dedup()) {
			return delta{}, fmt.Errorf("%w: renaming makes two columns share a name", kinds.ErrInvalidSetting)
		}
		return delta{renamed: m}, nil

	case core.KindRowFilter, core.KindSorter, core.KindRowSampler, core.KindDuplicateRowFilter:
		// Row-level operations keep the column list unchanged.
		return delta{}, nil

	case core.KindMathFormula, core.KindStringManipulation, core.KindRuleEngine:
		parse := kinds.ParseExpression
		if decl.Kind == core.KindRuleEngine {
			parse = kinds.ParseRuleEngine
		}
		e, err := parse(cfg)
		if err != nil {
			return delta{}, err
		}
		if e.Append {
			return delta{added: []string{e.Column}}, nil
		}
		if !input.Contains(e.Column) {
			return delta{}, unknownColumn("replaced", e.Column)
		}
		return delta{}, nil

	case core.KindColumnMerger:
		m, err := kinds.ParseColumnMerger(cfg)
		if err != nil {
			return delta{}, err
		}
		if !input.Contains(m.Primary) {
			return delta{}, unknownColumn("primary", m.Primary)
		}
		if !input.Contains(m.Secondary) {
			return delta{}, unknownColumn("secondary", m.Secondary)
		}
		switch m.Placement {
		case kinds.PlaceReplaceBoth:
			if m.Secondary != m.Primary {
				return delta{removed: []string{m.Secondary}}, nil
			}
			return delta{}, nil
		case kinds.PlaceAppend:
			return delta{added: []string{kinds.UniqueName(m.OutputName, input)}}, nil
		default:
			return delta{}, nil
		}

	case core.KindConstantValueColumn:
		c, err := kinds.ParseConstantValueColumn(cfg)
		if err != nil {
			return delta{}, err
		}
		if c.Replace {
			if !input.Contains(c.Column) {
				return delta{}, unknownColumn("replaced", c.Column)
			}
			return delta{}, nil
		}
		return delta{added: []string{c.Column}}, nil

	case core.KindGroupBy:
		g, err := kinds.ParseGroupBy(cfg)
		if err != nil {
			return delta{}, err
		}
		out := make(core.Schema, 0, len(g.Groups)+len(g.Aggregations))
		for _, c := range g.Groups {
			if !input.Contains(c) {
				return delta{}, unknownColumn("group", c)
			}
			out = append(out, c)
		}
		for _, a := range g.Aggregations {
			if !input.Contains(a.Column) {
				return delta{}, unknownColumn("aggregated", a.Column)
			}
			out = append(out, a.OutputName())
		}
		return delta{fixed: true, output: out, skipped: g.Skipped}, nil

	case core.KindJoiner:
		j, err := kinds.ParseJoiner(cfg)
		if err != nil {
			return delta{}, err
		}
		if len(preds.Inputs) != 2 {
			return delta{}, fmt.Errorf("%w: joiner resolved with %d inputs", ErrInvariant, len(preds.Inputs))
		}
		left, right := preds.Inputs[0].Schema, preds.Inputs[1].Schema
		for i := range j.LeftKeys {
			if !left.Contains(j.LeftKeys[i]) {
				return delta{}, unknownColumn("left join", j.LeftKeys[i])
			}
			if !right.Contains(j.RightKeys[i]) {
				return delta{}, unknownColumn("right join", j.RightKeys[i])
			}
		}
		cols := j.Columns(left, right)
		d := delta{fixed: true, output: make(core.Schema, 0, len(cols)), skipped: j.Skipped}
		for _, c := range cols {
			d.output = append(d.output, c.Name)
			if c.Right && c.Name != c.Source {
				if d.renamed == nil {
					d.renamed = make(map[string]string)
				}
				d.renamed[c.Source] = c.Name
			}
		}
		return d, nil

	case core.KindConcatenate:
		c, err := kinds.ParseConcatenate(cfg)
		if err != nil {
			return delta{}, err
		}
		if c.Intersection {
			return delta{fixed: true, output: core.Intersect(preds.Schemas()...)}, nil
		}
		return delta{fixed: true, output: core.Union(preds.Schemas()...)}, nil
	}

	return delta{}, fmt.Errorf("%w: no column rule for kind %s", ErrInvariant, decl.Kind)
}
