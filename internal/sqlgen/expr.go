package sqlgen

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/leapstack-labs/flowsql/pkg/core"
	"github.com/leapstack-labs/flowsql/pkg/dialect"
)

// ErrUnsupported is returned for settings that have no SQL equivalent.
var ErrUnsupported = errors.New("unsupported")

type tokenKind int

const (
	tokSpace tokenKind = iota
	tokColumn
	tokVariable
	tokString
	tokNumber
	tokIdent
	tokArrow
	tokOther
)

type token struct {
	kind tokenKind
	text string
}

// lex splits a workflow expression into tokens. Column references are written
// $name$, flow variables $${Sname}$$ and strings in single or double quotes.
func lex(expr string) ([]token, error) {
	var toks []token
	rs := []rune(expr)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			j := i
			for j < len(rs) && unicode.IsSpace(rs[j]) {
				j++
			}
			toks = append(toks, token{tokSpace, " "})
			i = j

		case r == '$' && i+1 < len(rs) && rs[i+1] == '$':
			rest := string(rs[i+2:])
			end := strings.Index(rest, "$$")
			if end < 0 {
				return nil, fmt.Errorf("unterminated variable at offset %d", i)
			}
			name := rest[:end]
			toks = append(toks, token{tokVariable, name})
			i += 4 + utf8.RuneCountInString(name)

		case r == '$':
			j := i + 1
			for j < len(rs) && rs[j] != '$' {
				j++
			}
			if j >= len(rs) {
				return nil, fmt.Errorf("unterminated column reference at offset %d", i)
			}
			toks = append(toks, token{tokColumn, string(rs[i+1 : j])})
			i = j + 1

		case r == '"' || r == '\'':
			var b strings.Builder
			j := i + 1
			closed := false
			for j < len(rs) {
				if rs[j] == '\\' && j+1 < len(rs) {
					b.WriteRune(rs[j+1])
					j += 2
					continue
				}
				if rs[j] == r {
					closed = true
					j++
					break
				}
				b.WriteRune(rs[j])
				j++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated string at offset %d", i)
			}
			toks = append(toks, token{tokString, b.String()})
			i = j

		case unicode.IsDigit(r) || (r == '.' && i+1 < len(rs) && unicode.IsDigit(rs[i+1])):
			j := i
			for j < len(rs) && (unicode.IsDigit(rs[j]) || rs[j] == '.' || rs[j] == 'e' || rs[j] == 'E') {
				j++
			}
			toks = append(toks, token{tokNumber, string(rs[i:j])})
			i = j

		case unicode.IsLetter(r) || r == '_':
			j := i
			for j < len(rs) && (unicode.IsLetter(rs[j]) || unicode.IsDigit(rs[j]) || rs[j] == '_') {
				j++
			}
			toks = append(toks, token{tokIdent, string(rs[i:j])})
			i = j

		case r == '=' && i+1 < len(rs) && rs[i+1] == '>':
			toks = append(toks, token{tokArrow, "=>"})
			i += 2

		default:
			// Two-character operators stay together.
			if i+1 < len(rs) {
				two := string(rs[i : i+2])
				switch two {
				case "<=", ">=", "!=", "<>", "==", "&&", "||":
					toks = append(toks, token{tokOther, two})
					i += 2
					continue
				}
			}
			toks = append(toks, token{tokOther, string(r)})
			i++
		}
	}
	return toks, nil
}

// functions maps expression function names to SQL.
var functions = map[string]string{
	"abs": "ABS", "sqrt": "SQRT", "round": "ROUND", "floor": "FLOOR", "ceil": "CEIL",
	"pow": "POWER", "ln": "LN", "log": "LN", "log10": "LOG10", "exp": "EXP",
	"min": "LEAST", "max": "GREATEST", "mod": "MOD", "sign": "SIGN",
	"join": "CONCAT", "uppercase": "UPPER", "lowercase": "LOWER",
	"strip": "TRIM", "stripstart": "LTRIM", "stripend": "RTRIM",
	"replace": "REPLACE", "substr": "SUBSTRING", "length": "LENGTH",
	"capitalize": "INITCAP", "reverse": "REVERSE",
	"tostring": "CAST_VARCHAR", "toint": "CAST_INTEGER", "todouble": "CAST_DOUBLE",
}

var keywords = map[string]string{
	"and": "AND", "or": "OR", "not": "NOT", "xor": "<>",
	"true": "TRUE", "false": "FALSE", "like": "LIKE", "in": "IN",
}

// translate rewrites a workflow expression into a SQL expression over input.
// Every referenced column must exist in input.
func translate(d *dialect.Dialect, expr string, input core.Schema) (string, error) {
	toks, err := lex(expr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}
	return render(d, toks, input)
}

// ErrInvalidExpression is returned when an expression cannot be parsed.
var ErrInvalidExpression = errors.New("invalid expression")

func render(d *dialect.Dialect, toks []token, input core.Schema) (string, error) {
	var b strings.Builder
	prevWord := ""
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		switch t.kind {
		case tokSpace:
			b.WriteByte(' ')
			continue
		case tokColumn:
			if !input.Contains(t.text) {
				return "", fmt.Errorf("%w: column %q is not in the input", ErrInvalidExpression, t.text)
			}
			b.WriteString(d.QuoteIdentifier(t.text))
		case tokVariable:
			return "", fmt.Errorf("%w: flow variable or row reference $$%s$$", ErrUnsupported, t.text)
		case tokString:
			s := t.text
			if prevWord == "LIKE" {
				s = wildcardToLike(s)
			}
			b.WriteString(d.QuoteString(s))
		case tokNumber:
			b.WriteString(t.text)
		case tokIdent:
			lower := strings.ToLower(t.text)
			if lower == "missing" {
				// MISSING $col$ -> "col" IS NULL
				k := i + 1
				for k < len(toks) && toks[k].kind == tokSpace {
					k++
				}
				if k >= len(toks) || toks[k].kind != tokColumn {
					return "", fmt.Errorf("%w: MISSING must be followed by a column", ErrInvalidExpression)
				}
				if !input.Contains(toks[k].text) {
					return "", fmt.Errorf("%w: column %q is not in the input", ErrInvalidExpression, toks[k].text)
				}
				b.WriteString(d.QuoteIdentifier(toks[k].text) + " IS NULL")
				i = k
				break
			}
			if next := nextSignificant(toks, i); next != nil && next.text == "(" {
				fn, ok := functions[lower]
				if !ok {
					fn = strings.ToUpper(t.text)
				}
				if strings.HasPrefix(fn, "CAST_") {
					// toInt(x) -> CAST(x AS INTEGER)
					inner, consumed, err := castCall(d, toks, i, input)
					if err != nil {
						return "", err
					}
					fmt.Fprintf(&b, "CAST(%s AS %s)", inner, strings.TrimPrefix(fn, "CAST_"))
					i = consumed
					prevWord = ""
					continue
				}
				b.WriteString(fn)
			} else if kw, ok := keywords[lower]; ok {
				b.WriteString(kw)
				prevWord = kw
				continue
			} else {
				b.WriteString(strings.ToUpper(t.text))
			}
		case tokArrow:
			return "", fmt.Errorf("%w: unexpected =>", ErrInvalidExpression)
		default:
			switch t.text {
			case "==":
				b.WriteString("=")
			case "!=":
				b.WriteString("<>")
			case "&&":
				b.WriteString("AND")
			case "||":
				b.WriteString("OR")
			default:
				b.WriteString(t.text)
			}
		}
		prevWord = ""
	}
	return strings.TrimSpace(b.String()), nil
}

func nextSignificant(toks []token, i int) *token {
	for j := i + 1; j < len(toks); j++ {
		if toks[j].kind != tokSpace {
			return &toks[j]
		}
	}
	return nil
}

// castCall renders the single argument of a conversion function starting at
// toks[i] and returns the index of its closing parenthesis.
func castCall(d *dialect.Dialect, toks []token, i int, input core.Schema) (string, int, error) {
	j := i + 1
	for j < len(toks) && toks[j].kind == tokSpace {
		j++
	}
	depth := 0
	start := j + 1
	for ; j < len(toks); j++ {
		if toks[j].kind != tokOther {
			continue
		}
		switch toks[j].text {
		case "(":
			depth++
		case ")":
			depth--
			if depth == 0 {
				inner, err := render(d, toks[start:j], input)
				return inner, j, err
			}
		}
	}
	return "", 0, fmt.Errorf("%w: unbalanced parentheses", ErrInvalidExpression)
}

// wildcardToLike turns a * and ? wildcard pattern into a LIKE pattern.
func wildcardToLike(p string) string {
	var b strings.Builder
	for _, r := range p {
		switch r {
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// rule is one "condition => outcome" line of a rule engine.
type rule struct {
	when string // empty for the catch-all
	then string
}

// translateRules turns rule lines into the arms of a CASE expression. The
// first rule whose condition holds wins; a TRUE condition ends the list.
func translateRules(d *dialect.Dialect, lines []string, input core.Schema) ([]rule, error) {
	var rules []rule
	for n, line := range lines {
		toks, err := lex(line)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %d: %v", ErrInvalidExpression, n+1, err)
		}
		arrow := -1
		for i, t := range toks {
			if t.kind == tokArrow {
				arrow = i
				break
			}
		}
		if arrow < 0 {
			return nil, fmt.Errorf("%w: rule %d has no =>", ErrInvalidExpression, n+1)
		}
		cond, err := render(d, toks[:arrow], input)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", n+1, err)
		}
		out, err := render(d, toks[arrow+1:], input)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", n+1, err)
		}
		if cond == "" || out == "" {
			return nil, fmt.Errorf("%w: rule %d is incomplete", ErrInvalidExpression, n+1)
		}
		if cond == "TRUE" {
			rules = append(rules, rule{then: out})
			break
		}
		rules = append(rules, rule{when: cond, then: out})
	}
	return rules, nil
}
