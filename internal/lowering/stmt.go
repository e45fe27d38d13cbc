package lowering

import (
	"strings"

	"liquidil/internal/runtime"
)

// Stmt is one reconstructed native statement.
type Stmt interface {
	Exec(ctx *execContext, out *strings.Builder) error
}

type block []Stmt

func (b block) Exec(ctx *execContext, out *strings.Builder) error {
	for _, s := range b {
		if err := s.Exec(ctx, out); err != nil {
			return err
		}
		if ctx.scope.PeekInterrupt() != runtime.InterruptNone {
			return nil
		}
	}
	return nil
}

type writeRawStmt struct{ text string }

func (s writeRawStmt) Exec(ctx *execContext, out *strings.Builder) error {
	emit(ctx, out, s.text)
	return nil
}

type writeExprStmt struct{ e Expr }

func (s writeExprStmt) Exec(ctx *execContext, out *strings.Builder) error {
	v, err := s.e.Eval(ctx)
	if err != nil {
		return err
	}
	emit(ctx, out, runtime.Format(v))
	return nil
}

func emit(ctx *execContext, out *strings.Builder, text string) {
	if !ctx.scope.Write(text) {
		out.WriteString(text)
	}
}

type assignStmt struct {
	name  string
	local bool
	e     Expr
}

func (s assignStmt) Exec(ctx *execContext, _ *strings.Builder) error {
	v, err := s.e.Eval(ctx)
	if err != nil {
		return err
	}
	if s.local {
		ctx.scope.AssignLocal(s.name, v)
	} else {
		ctx.scope.Assign(s.name, v)
	}
	return nil
}

type storeTempStmt struct {
	slot int64
	e    Expr
}

func (s storeTempStmt) Exec(ctx *execContext, _ *strings.Builder) error {
	v, err := s.e.Eval(ctx)
	if err != nil {
		return err
	}
	ctx.temps[s.slot] = v
	return nil
}

type pushScopeStmt struct{}

func (pushScopeStmt) Exec(ctx *execContext, _ *strings.Builder) error { ctx.scope.PushScope(); return nil }

type popScopeStmt struct{}

func (popScopeStmt) Exec(ctx *execContext, _ *strings.Builder) error { ctx.scope.PopScope(); return nil }

// captureStmt reduces a PUSH_CAPTURE/body/POP_CAPTURE/ASSIGN[_LOCAL]
// quadruple (spec.md §4.4) into one statement: run body into a fresh
// capture buffer, then assign the buffered text to name.
type captureStmt struct {
	body  block
	name  string
	local bool
}

func (s captureStmt) Exec(ctx *execContext, out *strings.Builder) error {
	ctx.scope.PushCapture()
	if err := s.body.Exec(ctx, out); err != nil {
		ctx.scope.PopCapture()
		return err
	}
	text := ctx.scope.PopCapture()
	v := runtime.Value(runtime.String(text))
	if s.local {
		ctx.scope.AssignLocal(s.name, v)
	} else {
		ctx.scope.Assign(s.name, v)
	}
	return nil
}

type ifStmt struct {
	cond Expr
	then block
	els  block
}

func (s ifStmt) Exec(ctx *execContext, out *strings.Builder) error {
	v, err := s.cond.Eval(ctx)
	if err != nil {
		return err
	}
	if runtime.Truthy(v) {
		return s.then.Exec(ctx, out)
	}
	if s.els != nil {
		return s.els.Exec(ctx, out)
	}
	return nil
}

type forStmt struct {
	varName  string
	coll     Expr
	reversed bool
	body     block
}

func (s forStmt) Exec(ctx *execContext, out *strings.Builder) error {
	v, err := s.coll.Eval(ctx)
	if err != nil {
		return err
	}
	items := toIterable(v)
	if s.reversed {
		items = reverseValues(items)
	}
	n := len(items)
	ctx.scope.PushScope()
	defer ctx.scope.PopScope()
	for i, item := range items {
		ctx.scope.AssignLocal(s.varName, item)
		ctx.scope.PushForloop(runtime.Forloop{
			Index: int64(i + 1), Index0: int64(i), Length: int64(n),
			First: i == 0, Last: i == n-1,
			Rindex: int64(n - i), Rindex0: int64(n - i - 1),
		})
		ctx.scope.PushInterrupt(runtime.InterruptNone)
		if err := s.body.Exec(ctx, out); err != nil {
			ctx.scope.PopInterrupt()
			ctx.scope.PopForloop()
			return err
		}
		sig := ctx.scope.PopInterrupt()
		ctx.scope.PopForloop()
		if sig == runtime.InterruptBreak {
			break
		}
	}
	return nil
}

func toIterable(v runtime.Value) []runtime.Value {
	switch t := v.(type) {
	case runtime.Array:
		return append([]runtime.Value(nil), t...)
	case runtime.Range:
		out := make([]runtime.Value, 0, t.End-t.Start+1)
		for i := t.Start; i <= t.End; i++ {
			out = append(out, runtime.Int(i))
		}
		return out
	default:
		return nil
	}
}

func reverseValues(vs []runtime.Value) []runtime.Value {
	out := make([]runtime.Value, len(vs))
	for i, v := range vs {
		out[len(vs)-1-i] = v
	}
	return out
}

type cycleStepStmt struct {
	identity string
	values   []Expr
}

func (s cycleStepStmt) Exec(ctx *execContext, out *strings.Builder) error {
	idx := ctx.scope.Increment("__cycle__" + s.identity)
	i := int(idx) % len(s.values)
	v, err := s.values[i].Eval(ctx)
	if err != nil {
		return err
	}
	emit(ctx, out, runtime.Format(v))
	return nil
}

// dynamicCycleStepStmt is CYCLE_STEP_VAR: the cycle's identity is the
// formatted value of a variable rather than a literal string.
type dynamicCycleStepStmt struct {
	identityVar string
	values      []Expr
}

func (s dynamicCycleStepStmt) Exec(ctx *execContext, out *strings.Builder) error {
	idVal, _ := ctx.scope.Find(s.identityVar)
	key := runtime.Format(idVal)
	idx := ctx.scope.Increment("__cycle__" + key)
	i := int(idx) % len(s.values)
	v, err := s.values[i].Eval(ctx)
	if err != nil {
		return err
	}
	emit(ctx, out, runtime.Format(v))
	return nil
}

type noopStmt struct{}

func (noopStmt) Exec(*execContext, *strings.Builder) error { return nil }
