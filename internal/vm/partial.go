package vm

import (
	"github.com/pkg/errors"

	"liquidil/internal/il"
	"liquidil/internal/runtime"
)

// execPartial implements RENDER_PARTIAL/INCLUDE_PARTIAL. include shares the
// caller's scope (a new frame layered on top, so partial-local assigns
// don't leak out); render isolates the partial to its own scope populated
// only from the explicit args list. Neither distinction is specified by
// spec.md; it follows Liquid's own render/include convention (DESIGN.md).
func (v *VM) execPartial(ins il.Instruction, include bool) error {
	prog, args := v.resolvePartial(ins)
	if prog == nil {
		return errors.Errorf("partial %q could not be resolved", ins.A.Str)
	}

	var childScope *runtime.Scope
	if include {
		childScope = v.scope
		childScope.PushScope()
		defer childScope.PopScope()
		for k, val := range args {
			childScope.AssignLocal(k, val)
		}
	} else {
		childScope = runtime.NewScope(nil)
		for k, val := range args {
			childScope.AssignLocal(k, val)
		}
	}

	child, err := New(prog, childScope, v.filters, v.partials)
	if err != nil {
		return errors.Wrapf(err, "partial %q", ins.A.Str)
	}
	text, err := child.Run()
	if err != nil {
		return errors.Wrapf(err, "rendering partial %q", ins.A.Str)
	}
	v.emit(text)
	return nil
}

func (v *VM) resolvePartial(ins il.Instruction) (*il.Program, map[string]runtime.Value) {
	args := make(map[string]runtime.Value, len(ins.B.Args))
	var compiled *il.Program
	for _, a := range ins.B.Args {
		if a.Key == il.CompiledTemplateKey {
			compiled = a.Value.Program
			continue
		}
		args[a.Key] = evalArgOperand(v, a.Value)
	}
	if compiled != nil {
		return compiled, args
	}
	if v.partials == nil {
		return nil, args
	}
	prog, err := v.partials.Resolve(ins.A.Str)
	if err != nil {
		return nil, args
	}
	return prog, args
}

// evalArgOperand resolves one render/include argument. A KindSymbol operand
// names a variable to read from the calling scope; anything else is a
// literal constant.
func evalArgOperand(v *VM, o il.Operand) runtime.Value {
	if o.Kind == il.KindSymbol {
		if val, ok := v.scope.Find(o.Str); ok {
			return val
		}
		return runtime.Nil{}
	}
	return operandLiteral(o)
}
