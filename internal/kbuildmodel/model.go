// SPDX-License-Identifier: MIT

package kbuildmodel

// ValueKind tags a Model entry's dynamic type, replacing the source's
// dynamically typed solver-model iterator (spec.md §9).
type ValueKind int

const (
	ValueBool ValueKind = iota
	ValueString
)

// Value is one assignment in a solver model.
type Value struct {
	Kind ValueKind
	Bool bool
	Str  string
}

// BoolValue constructs a Boolean-valued Value.
func BoolValue(b bool) Value { return Value{Kind: ValueBool, Bool: b} }

// StringValue constructs a string/number/hex-valued Value (incidental
// non-Boolean symbols such as BITS=64 surface here).
func StringValue(s string) Value { return Value{Kind: ValueString, Str: s} }

// Model is a satisfying assignment: symbol name to its value. Entry order
// matches the order the solver driver received model entries in, since the
// emitter (spec.md §4.7) must preserve that iteration order verbatim.
type Model struct {
	order  []string
	values map[string]Value
}

// NewModel returns an empty Model ready for Set calls in iteration order.
func NewModel() *Model {
	return &Model{values: make(map[string]Value)}
}

// Set assigns name := v, appending name to the iteration order on first
// assignment and leaving the order unchanged on overwrite.
func (m *Model) Set(name string, v Value) {
	if _, exists := m.values[name]; !exists {
		m.order = append(m.order, name)
	}
	m.values[name] = v
}

// Get returns the value assigned to name and whether it was assigned.
func (m *Model) Get(name string) (Value, bool) {
	v, ok := m.values[name]
	return v, ok
}

// Names returns every assigned symbol in insertion order.
func (m *Model) Names() []string {
	return m.order
}

// BoolTrue reports whether name is assigned true; false if unassigned or
// not a Boolean entry.
func (m *Model) BoolTrue(name string) bool {
	v, ok := m.values[name]
	return ok && v.Kind == ValueBool && v.Bool
}
