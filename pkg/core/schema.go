package core

// Schema is the ordered list of column names flowing out of a node.
type Schema []string

// Clone returns a copy of s that shares no memory with it.
func (s Schema) Clone() Schema {
	if s == nil {
		return nil
	}
	out := make(Schema, len(s))
	copy(out, s)
	return out
}

// Index returns the position of name in s, or -1.
func (s Schema) Index(name string) int {
	for i, c := range s {
		if c == name {
			return i
		}
	}
	return -1
}

// Contains reports whether name is in s.
func (s Schema) Contains(name string) bool {
	return s.Index(name) >= 0
}

// Dedup returns s without repeated names, keeping the first occurrence.
func (s Schema) Dedup() Schema {
	seen := make(map[string]struct{}, len(s))
	out := make(Schema, 0, len(s))
	for _, c := range s {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Without returns s minus every name in removed, order preserved.
func (s Schema) Without(removed ...string) Schema {
	if len(removed) == 0 {
		return s.Clone()
	}
	drop := make(map[string]struct{}, len(removed))
	for _, r := range removed {
		drop[r] = struct{}{}
	}
	out := make(Schema, 0, len(s))
	for _, c := range s {
		if _, ok := drop[c]; !ok {
			out = append(out, c)
		}
	}
	return out
}

// Append adds names not already present at the end of s and returns the
// result. Names already present keep their position.
func (s Schema) Append(added ...string) Schema {
	out := s.Dedup()
	seen := make(map[string]struct{}, len(out)+len(added))
	for _, c := range out {
		seen[c] = struct{}{}
	}
	for _, a := range added {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}

// Rename replaces names in place according to renames (old -> new).
// A rename onto a name that is already present collapses to its first position.
func (s Schema) Rename(renames map[string]string) Schema {
	if len(renames) == 0 {
		return s.Clone()
	}
	out := make(Schema, len(s))
	for i, c := range s {
		if n, ok := renames[c]; ok {
			out[i] = n
		} else {
			out[i] = c
		}
	}
	return out.Dedup()
}

// Union merges schemas, keeping names in first-seen order.
func Union(schemas ...Schema) Schema {
	var out Schema
	seen := make(map[string]struct{})
	for _, s := range schemas {
		for _, c := range s {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// Intersect keeps the names of the first schema that appear in every other
// schema, in the first schema's order.
func Intersect(schemas ...Schema) Schema {
	if len(schemas) == 0 {
		return nil
	}
	out := Schema{}
	for _, c := range schemas[0].Dedup() {
		inAll := true
		for _, other := range schemas[1:] {
			if !other.Contains(c) {
				inAll = false
				break
			}
		}
		if inAll {
			out = append(out, c)
		}
	}
	return out
}
