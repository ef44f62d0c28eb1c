// Package header implements an ordered, case-insensitive multimap for
// HTTP headers.
package header

import (
	"regexp"
	"strings"
)

// entry is one name/value pair in insertion order.
type entry struct {
	name  string
	value string
}

// Map is an ordered multimap from header name to a list of values.
// Lookup is case-insensitive; the name as first inserted is preserved
// on output.
type Map struct {
	entries []entry
}

// New returns an empty Map.
func New() *Map {
	return &Map{}
}

func eqFold(a, b string) bool {
	return strings.EqualFold(a, b)
}

// Add appends a new name/value pair without removing existing ones.
func (m *Map) Add(name, value string) {
	m.entries = append(m.entries, entry{name: name, value: value})
}

// Set removes all existing values for name and inserts a single value
// at the position of the first existing occurrence, or at the end if
// name was not present.
func (m *Map) Set(name, value string) {
	for i := range m.entries {
		if eqFold(m.entries[i].name, name) {
			m.entries[i] = entry{name: name, value: value}
			m.deleteAllBut(name, i)
			return
		}
	}
	m.entries = append(m.entries, entry{name: name, value: value})
}

func (m *Map) deleteAllBut(name string, keep int) {
	out := m.entries[:0:0]
	for i, e := range m.entries {
		if i == keep || !eqFold(e.name, name) {
			out = append(out, e)
		}
	}
	m.entries = out
}

// Get returns all values for name in insertion order, or an empty
// slice (never nil) if name is absent.
func (m *Map) Get(name string) []string {
	vals := []string{}
	for _, e := range m.entries {
		if eqFold(e.name, name) {
			vals = append(vals, e.value)
		}
	}
	return vals
}

// GetFirst returns the first value for name, or "" with ok=false if
// name is absent.
func (m *Map) GetFirst(name string) (string, bool) {
	for _, e := range m.entries {
		if eqFold(e.name, name) {
			return e.value, true
		}
	}
	return "", false
}

// Delete removes every value for name.
func (m *Map) Delete(name string) {
	out := m.entries[:0:0]
	for _, e := range m.entries {
		if !eqFold(e.name, name) {
			out = append(out, e)
		}
	}
	m.entries = out
}

// InAny reports whether any value of name contains substr.
func (m *Map) InAny(name, substr string, caseInsensitive bool) bool {
	if caseInsensitive {
		substr = strings.ToLower(substr)
	}
	for _, e := range m.entries {
		if !eqFold(e.name, name) {
			continue
		}
		v := e.value
		if caseInsensitive {
			v = strings.ToLower(v)
		}
		if strings.Contains(v, substr) {
			return true
		}
	}
	return false
}

// Replace rewrites every occurrence of pat (compiled by the caller)
// across both names and values with repl, returning the number of
// substitutions performed.
func (m *Map) Replace(pat *regexp.Regexp, repl string) int {
	count := 0
	for i, e := range m.entries {
		newName := pat.ReplaceAllStringFunc(e.name, func(s string) string {
			count++
			return pat.ReplaceAllString(s, repl)
		})
		newValue := pat.ReplaceAllStringFunc(e.value, func(s string) string {
			count++
			return pat.ReplaceAllString(s, repl)
		})
		m.entries[i] = entry{name: newName, value: newValue}
	}
	return count
}

// Names returns the distinct header names in first-occurrence order.
func (m *Map) Names() []string {
	seen := make(map[string]bool)
	var names []string
	for _, e := range m.entries {
		key := strings.ToLower(e.name)
		if seen[key] {
			continue
		}
		seen[key] = true
		names = append(names, e.name)
	}
	return names
}

// Len returns the total number of name/value pairs.
func (m *Map) Len() int {
	return len(m.entries)
}

// Clone returns an independent copy of m.
func (m *Map) Clone() *Map {
	out := &Map{entries: make([]entry, len(m.entries))}
	copy(out.entries, m.entries)
	return out
}

// Each calls fn for every name/value pair in insertion order.
func (m *Map) Each(fn func(name, value string)) {
	for _, e := range m.entries {
		fn(e.name, e.value)
	}
}

// String renders the headers as "Name: value\r\n" lines in insertion
// order, one line per value. The blank line that ends a header block
// is not included.
func (m *Map) String() string {
	var b strings.Builder
	for _, e := range m.entries {
		b.WriteString(e.name)
		b.WriteString(": ")
		b.WriteString(e.value)
		b.WriteString("\r\n")
	}
	return b.String()
}
