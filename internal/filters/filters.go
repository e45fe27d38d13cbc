// Package filters implements the filter registry: the pure, foldable
// filters the constant folder can run at compile time, plus the handful of
// non-foldable filters that exist so the VM and lowered renderer have a
// realistic filter surface to call.
package filters

import (
	"fmt"
	"strings"

	"liquidil/internal/runtime"
)

// Func is one filter implementation. args are already-evaluated values in
// call order; scope is a live render scope (a fresh minimal scope when
// invoked from the constant folder).
type Func func(input runtime.Value, args []runtime.Value, scope *runtime.Scope) (runtime.Value, error)

// Registry maps filter names to implementations and records which names
// are safe to fold at compile time.
type Registry struct {
	funcs    map[string]Func
	foldable map[string]bool
}

// NewRegistry builds a registry pre-populated with the whitelist filters
// (spec.md §6) and the supplemental non-foldable filters.
func NewRegistry() *Registry {
	r := &Registry{funcs: make(map[string]Func), foldable: make(map[string]bool)}
	r.registerFoldable()
	r.registerNonFoldable()
	return r
}

func (r *Registry) register(name string, foldable bool, fn Func) {
	r.funcs[name] = fn
	r.foldable[name] = foldable
}

// Apply invokes the named filter, matching spec.md §6's external interface
// `apply(name, input, args, scope) -> value`.
func (r *Registry) Apply(name string, input runtime.Value, args []runtime.Value, scope *runtime.Scope) (runtime.Value, error) {
	fn, ok := r.funcs[name]
	if !ok {
		return nil, fmt.Errorf("filters: unknown filter %q", name)
	}
	return fn(input, args, scope)
}

// Foldable reports whether name is in the safe-fold whitelist — callable
// from the optimizer's fold_const_filters pass with a throwaway scope.
func (r *Registry) Foldable(name string) bool {
	return r.foldable[name]
}

func asString(v runtime.Value) string {
	return runtime.Format(v)
}

func asInt(v runtime.Value) (int64, bool) {
	switch t := v.(type) {
	case runtime.Int:
		return int64(t), true
	case runtime.Float:
		return int64(t), true
	default:
		return 0, false
	}
}

func asFloat(v runtime.Value) (float64, bool) {
	switch t := v.(type) {
	case runtime.Int:
		return float64(t), true
	case runtime.Float:
		return float64(t), true
	default:
		return 0, false
	}
}

func arg(args []runtime.Value, i int) runtime.Value {
	if i < len(args) {
		return args[i]
	}
	return runtime.Nil{}
}

var errBadArgs = fmt.Errorf("filters: bad argument types")
