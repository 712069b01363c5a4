package param

import (
	"sort"

	"github.com/pkg/errors"
)

// Set is the immutable result of resolving every declared parameter.
type Set struct {
	values map[string]Value
	decls  []Decl
}

// NewSet builds a set from already resolved values.
func NewSet(values ...Value) *Set {
	s := &Set{values: make(map[string]Value, len(values))}
	for _, v := range values {
		s.values[v.Name] = v
	}

	return s
}

// Get returns the value of name and whether it is set.
func (s *Set) Get(name string) (Value, bool) {
	if s == nil {
		return Value{}, false
	}
	v, ok := s.values[name]

	return v, ok
}

// Lookup is like Get but returns ErrNotSet for unset parameters.
func (s *Set) Lookup(name string) (Value, error) {
	v, ok := s.Get(name)
	if !ok {
		return Value{}, errors.Wrap(ErrNotSet, name)
	}

	return v, nil
}

// String returns the textual value of name, or "" when unset.
func (s *Set) String(name string) string {
	v, _ := s.Get(name)
	return v.String()
}

// Float returns the numeric value of name, or 0 when unset.
func (s *Set) Float(name string) float64 {
	v, _ := s.Get(name)
	return v.Float()
}

// Int returns the numeric value of name truncated to an int, or 0 when unset.
func (s *Set) Int(name string) int {
	v, _ := s.Get(name)
	return v.Int()
}

// Bool returns the boolean value of name, or false when unset.
func (s *Set) Bool(name string) bool {
	v, _ := s.Get(name)
	return v.Bool()
}

// Names returns the names of all set parameters, sorted.
func (s *Set) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.values))
	for name := range s.values {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Decls returns the declarations the set was resolved from.
func (s *Set) Decls() []Decl {
	if s == nil {
		return nil
	}
	out := make([]Decl, len(s.decls))
	copy(out, s.decls)

	return out
}

// Len returns the number of set parameters.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}

	return len(s.values)
}
