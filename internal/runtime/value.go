// Package runtime defines the closed value model and scope chain shared by
// the stack VM and the structured-lowering output: the render-time contract
// that both lower onto.
package runtime

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Value is the closed set of render-time values. Unlike the teacher's bare
// `type Value interface{}`, every concrete type here carries a marker
// method so a non-Value can never satisfy the interface by accident.
type Value interface {
	liquidValue()
}

// Nil is the liquid nil value.
type Nil struct{}

func (Nil) liquidValue() {}

// Bool wraps a boolean.
type Bool bool

func (Bool) liquidValue() {}

// Int wraps a 64-bit integer.
type Int int64

func (Int) liquidValue() {}

// Float wraps a 64-bit float.
type Float float64

func (Float) liquidValue() {}

// String wraps a Go string.
type String string

func (String) liquidValue() {}

// Range is an inclusive integer range, as produced by NEW_RANGE / `(a..b)`.
type Range struct {
	Start int64
	End   int64
}

func (Range) liquidValue() {}

// Empty is the distinct "empty" unit value (distinct from Nil and Blank).
type Empty struct{}

func (Empty) liquidValue() {}

// Blank is the distinct "blank" unit value.
type Blank struct{}

func (Blank) liquidValue() {}

// Array is an ordered value list.
type Array []Value

func (Array) liquidValue() {}

// Hash is an ordered key/value map, preserving insertion order for
// deterministic iteration and output (map iteration in Go is randomized,
// so order is tracked explicitly via keys).
type Hash struct {
	keys   []string
	values map[string]Value
}

func (Hash) liquidValue() {}

// NewHash builds a Hash from ordered key/value pairs.
func NewHash(keys []string, values map[string]Value) Hash {
	return Hash{keys: append([]string(nil), keys...), values: values}
}

// Get returns the value for key and whether it was present.
func (h Hash) Get(key string) (Value, bool) {
	v, ok := h.values[key]
	return v, ok
}

// Keys returns the hash's keys in insertion order.
func (h Hash) Keys() []string {
	return h.keys
}

// Len returns the number of entries.
func (h Hash) Len() int { return len(h.keys) }

// Drop is implemented by external runtime objects that expose named
// properties without being one of the closed Value types (e.g. a host
// struct bridged into the template scope).
type Drop interface {
	LiquidPropertyNames() []string
	LiquidProperty(name string) (Value, bool)
}

// Truthy implements Liquid's truthiness rule: nil and false are falsy,
// Empty and Blank are falsy, everything else (including 0, "", empty
// arrays) is truthy.
func Truthy(v Value) bool {
	switch t := v.(type) {
	case nil:
		return false
	case Nil:
		return false
	case Bool:
		return bool(t)
	case Empty:
		return false
	case Blank:
		return false
	default:
		return true
	}
}

// Format renders a value the way WRITE_VALUE does, and is also what
// fold_const_writes uses to precompute a WRITE_RAW payload at compile time.
func Format(v Value) string {
	switch t := v.(type) {
	case nil, Nil:
		return ""
	case Bool:
		if t {
			return "true"
		}
		return "false"
	case Int:
		return strconv.FormatInt(int64(t), 10)
	case Float:
		return formatFloat(float64(t))
	case String:
		return string(t)
	case Empty, Blank:
		return ""
	case Range:
		return fmt.Sprintf("%d..%d", t.Start, t.End)
	case Array:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = Format(e)
		}
		return strings.Join(parts, "")
	case Hash:
		return fmt.Sprintf("%v", t.keys)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// Equal implements Liquid's `==` for the closed value set, used by COMPARE
// at both fold time and run time. Int and Float compare numerically with
// each other; any other pair of different types is unequal, and Nil, Empty
// and Blank each equal only themselves.
func Equal(a, b Value) (bool, error) {
	switch x := a.(type) {
	case Nil:
		_, ok := b.(Nil)
		return ok, nil
	case Bool:
		y, ok := b.(Bool)
		return ok && x == y, nil
	case Int:
		switch y := b.(type) {
		case Int:
			return x == y, nil
		case Float:
			return float64(x) == float64(y), nil
		}
		return false, nil
	case Float:
		switch y := b.(type) {
		case Int:
			return float64(x) == float64(y), nil
		case Float:
			return x == y, nil
		}
		return false, nil
	case String:
		y, ok := b.(String)
		return ok && x == y, nil
	case Empty:
		_, ok := b.(Empty)
		return ok, nil
	case Blank:
		_, ok := b.(Blank)
		return ok, nil
	default:
		return false, fmt.Errorf("runtime: equal not supported for %T", a)
	}
}

// SortedKeys returns m's keys in ascending order, a deterministic key
// order for building a Hash from a Go map.
func SortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
