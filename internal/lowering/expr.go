// Package lowering reconstructs structured host-language control flow
// (native Go conditionals, loops and expressions) from the linear,
// already-linked IL, or reports that the stack VM fallback must be used.
// "Host-language emission" here means compiling to a tree of Go closures
// that directly execute the template — Go functions are the host
// language; there is no textual codegen step or secondary compiler
// invocation at render time.
package lowering

import (
	"fmt"

	"liquidil/internal/filters"
	"liquidil/internal/il"
	"liquidil/internal/runtime"
)

// Expr is one node of the reconstructed expression tree (spec.md §4.7's
// "internal to lowering" tree types).
type Expr interface {
	Eval(ctx *execContext) (runtime.Value, error)
}

type execContext struct {
	scope    *runtime.Scope
	filters  *filters.Registry
	temps    map[int64]runtime.Value
	source   string
	spans    []il.Span
}

type literalExpr struct{ v runtime.Value }

func (e literalExpr) Eval(*execContext) (runtime.Value, error) { return e.v, nil }

type varExpr struct{ name string }

func (e varExpr) Eval(ctx *execContext) (runtime.Value, error) {
	if v, ok := ctx.scope.Find(e.name); ok {
		return v, nil
	}
	return runtime.Nil{}, nil
}

type varPathExpr struct {
	name string
	path []string
}

func (e varPathExpr) Eval(ctx *execContext) (runtime.Value, error) {
	if v, ok := ctx.scope.FindPath(e.name, e.path); ok {
		return v, nil
	}
	return runtime.Nil{}, nil
}

type dynamicVarExpr struct{ name Expr }

func (e dynamicVarExpr) Eval(ctx *execContext) (runtime.Value, error) {
	nameVal, err := e.name.Eval(ctx)
	if err != nil {
		return nil, err
	}
	if v, ok := ctx.scope.Find(runtime.Format(nameVal)); ok {
		return v, nil
	}
	return runtime.Nil{}, nil
}

type rangeExpr struct{ lo, hi Expr }

func (e rangeExpr) Eval(ctx *execContext) (runtime.Value, error) {
	lo, err := e.lo.Eval(ctx)
	if err != nil {
		return nil, err
	}
	hi, err := e.hi.Eval(ctx)
	if err != nil {
		return nil, err
	}
	loI, ok1 := asInt(lo)
	hiI, ok2 := asInt(hi)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("lowering: range bounds must be numeric")
	}
	return runtime.Range{Start: loI, End: hiI}, nil
}

type lookupExpr struct {
	obj Expr
	key Expr // nil when keys is non-nil
	keys []string
}

func (e lookupExpr) Eval(ctx *execContext) (runtime.Value, error) {
	obj, err := e.obj.Eval(ctx)
	if err != nil {
		return nil, err
	}
	if e.keys != nil {
		cur := obj
		for _, k := range e.keys {
			cur = stepInto(cur, k)
		}
		return cur, nil
	}
	keyVal, err := e.key.Eval(ctx)
	if err != nil {
		return nil, err
	}
	return stepInto(obj, runtime.Format(keyVal)), nil
}

func stepInto(v runtime.Value, key string) runtime.Value {
	switch t := v.(type) {
	case runtime.Hash:
		if r, ok := t.Get(key); ok {
			return r
		}
	case runtime.Array:
		if idx, ok := asIntString(key); ok && idx >= 0 && idx < len(t) {
			return t[idx]
		}
	case runtime.Drop:
		if r, ok := t.LiquidProperty(key); ok {
			return r
		}
	}
	return runtime.Nil{}
}

func asIntString(s string) (int, bool) {
	n := 0
	if s == "" {
		return 0, false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

type commandExpr struct {
	cmd il.LookupCommand
	obj Expr
}

func (e commandExpr) Eval(ctx *execContext) (runtime.Value, error) {
	obj, err := e.obj.Eval(ctx)
	if err != nil {
		return nil, err
	}
	arr, isArr := obj.(runtime.Array)
	switch e.cmd {
	case il.CmdSize:
		if isArr {
			return runtime.Int(len(arr)), nil
		}
		return runtime.Int(len([]rune(runtime.Format(obj)))), nil
	case il.CmdLength:
		if isArr {
			return runtime.Int(len(arr)), nil
		}
		return runtime.Int(0), nil
	case il.CmdFirst:
		if isArr && len(arr) > 0 {
			return arr[0], nil
		}
		return runtime.Nil{}, nil
	case il.CmdLast:
		if isArr && len(arr) > 0 {
			return arr[len(arr)-1], nil
		}
		return runtime.Nil{}, nil
	default:
		return runtime.Nil{}, nil
	}
}

type compareExpr struct {
	op   il.CompareOp
	l, r Expr
}

func (e compareExpr) Eval(ctx *execContext) (runtime.Value, error) {
	l, err := e.l.Eval(ctx)
	if err != nil {
		return nil, err
	}
	r, err := e.r.Eval(ctx)
	if err != nil {
		return nil, err
	}
	return evalCompare(e.op, l, r)
}

type caseCompareExpr struct{ l, r Expr }

func (e caseCompareExpr) Eval(ctx *execContext) (runtime.Value, error) {
	l, err := e.l.Eval(ctx)
	if err != nil {
		return nil, err
	}
	r, err := e.r.Eval(ctx)
	if err != nil {
		return nil, err
	}
	eq, err := runtime.Equal(l, r)
	if err != nil {
		return runtime.Bool(false), nil
	}
	return runtime.Bool(eq), nil
}

type containsExpr struct{ l, r Expr }

func (e containsExpr) Eval(ctx *execContext) (runtime.Value, error) {
	l, err := e.l.Eval(ctx)
	if err != nil {
		return nil, err
	}
	r, err := e.r.Eval(ctx)
	if err != nil {
		return nil, err
	}
	return evalContains(l, r), nil
}

type notExpr struct{ e Expr }

func (e notExpr) Eval(ctx *execContext) (runtime.Value, error) {
	v, err := e.e.Eval(ctx)
	if err != nil {
		return nil, err
	}
	return runtime.Bool(!runtime.Truthy(v)), nil
}

type isTruthyExpr struct{ e Expr }

func (e isTruthyExpr) Eval(ctx *execContext) (runtime.Value, error) {
	v, err := e.e.Eval(ctx)
	if err != nil {
		return nil, err
	}
	return runtime.Bool(runtime.Truthy(v)), nil
}

type andExpr struct{ l, r Expr }

func (e andExpr) Eval(ctx *execContext) (runtime.Value, error) {
	l, err := e.l.Eval(ctx)
	if err != nil {
		return nil, err
	}
	if !runtime.Truthy(l) {
		return runtime.Bool(false), nil
	}
	r, err := e.r.Eval(ctx)
	if err != nil {
		return nil, err
	}
	return runtime.Bool(runtime.Truthy(r)), nil
}

type orExpr struct{ l, r Expr }

func (e orExpr) Eval(ctx *execContext) (runtime.Value, error) {
	l, err := e.l.Eval(ctx)
	if err != nil {
		return nil, err
	}
	if runtime.Truthy(l) {
		return runtime.Bool(true), nil
	}
	r, err := e.r.Eval(ctx)
	if err != nil {
		return nil, err
	}
	return runtime.Bool(runtime.Truthy(r)), nil
}

type filterExpr struct {
	name string
	args []Expr
}

func (e filterExpr) Eval(ctx *execContext) (runtime.Value, error) {
	vals := make([]runtime.Value, len(e.args))
	for i, a := range e.args {
		v, err := a.Eval(ctx)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return ctx.filters.Apply(e.name, vals[0], vals[1:], ctx.scope)
}

// incDecExpr implements INCREMENT/DECREMENT as a stack-producer expression
// so a following WRITE_VALUE terminator picks it up like any other value —
// the INCREMENT/DECREMENT opcode itself never writes output directly.
type incDecExpr struct {
	name string
	inc  bool
}

func (e incDecExpr) Eval(ctx *execContext) (runtime.Value, error) {
	if e.inc {
		return runtime.Int(ctx.scope.Increment(e.name)), nil
	}
	return runtime.Int(ctx.scope.Decrement(e.name)), nil
}

type tempExpr struct{ slot int64 }

func (e tempExpr) Eval(ctx *execContext) (runtime.Value, error) {
	return ctx.temps[e.slot], nil
}

type buildHashExpr struct {
	keys []Expr
	vals []Expr
}

func (e buildHashExpr) Eval(ctx *execContext) (runtime.Value, error) {
	keys := make([]string, len(e.keys))
	values := make(map[string]runtime.Value, len(e.keys))
	for i := range e.keys {
		k, err := e.keys[i].Eval(ctx)
		if err != nil {
			return nil, err
		}
		v, err := e.vals[i].Eval(ctx)
		if err != nil {
			return nil, err
		}
		key := runtime.Format(k)
		keys[i] = key
		values[key] = v
	}
	return runtime.NewHash(keys, values), nil
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

func evalCompare(op il.CompareOp, a, b runtime.Value) (runtime.Value, error) {
	if op == il.CmpEq || op == il.CmpNe {
		eq, err := runtime.Equal(a, b)
		if err != nil {
			eq = false
		}
		if op == il.CmpNe {
			eq = !eq
		}
		return runtime.Bool(eq), nil
	}
	af, ok1 := asFloat(a)
	bf, ok2 := asFloat(b)
	if !ok1 || !ok2 {
		return runtime.Bool(false), nil
	}
	switch op {
	case il.CmpLt:
		return runtime.Bool(af < bf), nil
	case il.CmpLe:
		return runtime.Bool(af <= bf), nil
	case il.CmpGt:
		return runtime.Bool(af > bf), nil
	case il.CmpGe:
		return runtime.Bool(af >= bf), nil
	default:
		return runtime.Bool(false), nil
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

func evalContains(a, b runtime.Value) runtime.Value {
	switch t := a.(type) {
	case runtime.String:
		bs, ok := b.(runtime.String)
		if !ok {
			return runtime.Bool(false)
		}
		return runtime.Bool(containsSubstring(string(t), string(bs)))
	case runtime.Array:
		for _, e := range t {
			if eq, err := runtime.Equal(e, b); err == nil && eq {
				return runtime.Bool(true)
			}
		}
	}
	return runtime.Bool(false)
}

func containsSubstring(s, sub string) bool {
	return len(sub) == 0 || indexOf(s, sub) >= 0
}

func indexOf(s, sub string) int {
	n, m := len(s), len(sub)
	if m > n {
		return -1
	}
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == sub {
			return i
		}
	}
	return -1
}
