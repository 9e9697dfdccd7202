// Package settings provides read access to a node's hierarchical settings tree.
//
// A tree is made of named blocks (Config) holding typed key-value entries and
// nested blocks. Workflow files encode a block's entries and children either as
// a single object or as a list; that difference is erased when the tree is
// decoded, so code outside this package always sees ordered slices.
//
// Every accessor is total: a nil tree, a missing block or a missing key yields
// an Absent value or an empty result, never an error. Whether a missing value
// is fatal is up to the caller.
package settings

import (
	"sort"
	"strconv"
	"strings"
)

// Type tags used on entries.
const (
	TypeString  = "xstring"
	TypeBoolean = "xboolean"
	TypeInt     = "xint"
	TypeLong    = "xlong"
	TypeDouble  = "xdouble"
	TypeChar    = "xchar"
	TypeNull    = "xnull"
)

// ArraySizeKey is the entry holding the length of an array-encoded block.
const ArraySizeKey = "array-size"

// Entry is a single typed key-value pair.
type Entry struct {
	Key    string `yaml:"key" json:"key"`
	Type   string `yaml:"type,omitempty" json:"type,omitempty"`
	Value  string `yaml:"value" json:"value"`
	IsNull bool   `yaml:"isnull,omitempty" json:"isnull,omitempty"`
}

// Config is a named block of entries and nested blocks.
type Config struct {
	Key      string
	Entries  []Entry
	Children []*Config
}

// State distinguishes the ways a lookup can come back.
type State int

const (
	// Absent means the tree, the block or the key does not exist.
	Absent State = iota
	// Null means the entry exists and is explicitly null.
	Null
	// Empty means the entry exists and holds an empty string.
	Empty
	// Text means the entry holds a non-empty string.
	Text
	// Boolean means the entry is tagged as a boolean.
	Boolean
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Null:
		return "null"
	case Empty:
		return "empty"
	case Text:
		return "text"
	case Boolean:
		return "boolean"
	default:
		return "unknown"
	}
}

// Value is the result of GetValue.
type Value struct {
	State State
	Str   string
	Bool  bool
}

// Valid reports whether the value counts as set under the historical rule,
// where absent, null and empty-string entries all mean "no value".
func (v Value) Valid() bool {
	return v.State == Text || v.State == Boolean
}

// Present reports whether the key exists at all, including null and empty entries.
func (v Value) Present() bool {
	return v.State != Absent
}

// String returns the textual form of the value, or "" when it has none.
func (v Value) String() string {
	switch v.State {
	case Text:
		return v.Str
	case Boolean:
		return strconv.FormatBool(v.Bool)
	default:
		return ""
	}
}

// GetValue looks up key among the entries of cfg.
func GetValue(cfg *Config, key string) Value {
	if cfg == nil || len(cfg.Entries) == 0 {
		return Value{State: Absent}
	}
	for i := range cfg.Entries {
		e := &cfg.Entries[i]
		if e.Key != key {
			continue
		}
		return entryValue(e)
	}
	return Value{State: Absent}
}

func entryValue(e *Entry) Value {
	switch {
	case e.IsNull || e.Type == TypeNull:
		return Value{State: Null}
	case e.Type == TypeBoolean:
		return Value{State: Boolean, Bool: e.Value == "true"}
	case e.Value == "":
		return Value{State: Empty}
	default:
		return Value{State: Text, Str: e.Value}
	}
}

// FindChild returns the block named key among siblings, or nil.
func FindChild(children []*Config, key string) *Config {
	for _, c := range children {
		if c != nil && c.Key == key {
			return c
		}
	}
	return nil
}

// Child returns the nested block named key, or nil.
func (c *Config) Child(key string) *Config {
	if c == nil {
		return nil
	}
	return FindChild(c.Children, key)
}

// Path walks nested blocks by key and returns the last one, or nil if any step is missing.
func (c *Config) Path(keys ...string) *Config {
	cur := c
	for _, k := range keys {
		cur = cur.Child(k)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Value is shorthand for GetValue(c, key).
func (c *Config) Value(key string) Value {
	return GetValue(c, key)
}

// Text returns the string stored under key and whether it was set.
// Empty strings are reported as not set.
func (c *Config) Text(key string) (string, bool) {
	v := GetValue(c, key)
	if !v.Valid() {
		return "", false
	}
	return v.String(), true
}

// TextOr returns the string under key, or def when it is not set.
func (c *Config) TextOr(key, def string) string {
	if s, ok := c.Text(key); ok {
		return s
	}
	return def
}

// Bool returns the boolean stored under key and whether it was set.
// Untagged "true"/"false" strings are accepted too.
func (c *Config) Bool(key string) (bool, bool) {
	v := GetValue(c, key)
	switch v.State {
	case Boolean:
		return v.Bool, true
	case Text:
		b, err := strconv.ParseBool(strings.TrimSpace(v.Str))
		if err != nil {
			return false, false
		}
		return b, true
	default:
		return false, false
	}
}

// BoolOr returns the boolean under key, or def when it is not set.
func (c *Config) BoolOr(key string, def bool) bool {
	if b, ok := c.Bool(key); ok {
		return b
	}
	return def
}

// Int returns the integer stored under key and whether it parsed.
func (c *Config) Int(key string) (int, bool) {
	s, ok := c.Text(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return n, true
}

// GetArrayValues reconstructs the ordered list encoded in cfg as an
// "array-size" entry plus positional "0", "1", ... string entries.
// Entries that do not fit that shape are dropped; use ArrayValues to see them.
func GetArrayValues(cfg *Config) []string {
	values, _ := ArrayValues(cfg)
	return values
}

// ArrayValues is GetArrayValues that also returns the keys it skipped.
func ArrayValues(cfg *Config) (values []string, skipped []string) {
	entries, skipped := arrayEntries(cfg, func(e *Entry) bool { return isStringType(e.Type) })
	values = make([]string, 0, len(entries))
	for _, e := range entries {
		values = append(values, entryValue(e).String())
	}
	return values, skipped
}

// BoolArrayValues reads an array-encoded block of booleans. Entries may be
// tagged xboolean or be untyped "true"/"false" strings.
func BoolArrayValues(cfg *Config) (values []bool, skipped []string) {
	entries, skipped := arrayEntries(cfg, func(e *Entry) bool {
		return e.Type == TypeBoolean || (isStringType(e.Type) && isBoolText(e.Value))
	})
	values = make([]bool, 0, len(entries))
	for _, e := range entries {
		values = append(values, strings.EqualFold(strings.TrimSpace(e.Value), "true"))
	}
	return values, skipped
}

func isBoolText(s string) bool {
	s = strings.TrimSpace(s)
	return strings.EqualFold(s, "true") || strings.EqualFold(s, "false")
}

// arrayEntries returns the positional entries of cfg in index order.
func arrayEntries(cfg *Config, accept func(*Entry) bool) (entries []*Entry, skipped []string) {
	if cfg == nil {
		return nil, nil
	}

	size := -1
	if n, ok := cfg.Int(ArraySizeKey); ok && n >= 0 {
		size = n
	}

	byIndex := make(map[int]*Entry)
	for i := range cfg.Entries {
		e := &cfg.Entries[i]
		if e.Key == ArraySizeKey {
			continue
		}
		idx, err := strconv.Atoi(e.Key)
		if err != nil || idx < 0 || (size >= 0 && idx >= size) || !accept(e) {
			skipped = append(skipped, e.Key)
			continue
		}
		if _, dup := byIndex[idx]; dup {
			skipped = append(skipped, e.Key)
			continue
		}
		byIndex[idx] = e
	}

	// array-size only bounds the indexes; the entries present drive the walk.
	indexes := make([]int, 0, len(byIndex))
	for idx := range byIndex {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	entries = make([]*Entry, 0, len(indexes))
	for _, idx := range indexes {
		entries = append(entries, byIndex[idx])
	}
	return entries, skipped
}

func isStringType(t string) bool {
	return t == "" || t == TypeString || t == TypeChar
}

// NewBoolArray builds a block encoding values the way BoolArrayValues reads them.
func NewBoolArray(key string, values ...bool) *Config {
	c := &Config{Key: key}
	c.Entries = append(c.Entries, Entry{Key: ArraySizeKey, Type: TypeInt, Value: strconv.Itoa(len(values))})
	for i, v := range values {
		c.Entries = append(c.Entries, Entry{Key: strconv.Itoa(i), Type: TypeBoolean, Value: strconv.FormatBool(v)})
	}
	return c
}

// NewArray builds a block encoding values the way ArrayValues reads them.
func NewArray(key string, values ...string) *Config {
	c := &Config{Key: key}
	c.Entries = append(c.Entries, Entry{Key: ArraySizeKey, Type: TypeInt, Value: strconv.Itoa(len(values))})
	for i, v := range values {
		c.Entries = append(c.Entries, Entry{Key: strconv.Itoa(i), Type: TypeString, Value: v})
	}
	return c
}
