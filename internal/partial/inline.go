package partial

import "liquidil/internal/il"

// Options configures partial lowering/inlining for one compile call.
type Options struct {
	InlinePartials bool
	Loader         Loader
	Cache          *InlineCache
	Stack          *Stack
	Compile        CompileFunc
}

// LowerConstPartials implements spec.md §4.4: every CONST_RENDER /
// CONST_INCLUDE is rewritten to its runtime counterpart (RENDER_PARTIAL /
// INCLUDE_PARTIAL), and — when inlining is enabled, a loader is available,
// and the partial is not already being compiled somewhere up the current
// call chain — the args map gains a __compiled_template__ entry carrying
// the partial's own compiled IL bundle.
func LowerConstPartials(p *il.Program, opts Options) {
	for i := range p.Instructions {
		ins := &p.Instructions[i]
		switch ins.Op {
		case il.OpConstRender:
			ins.Op = il.OpRenderPartial
		case il.OpConstInclude:
			ins.Op = il.OpIncludePartial
		default:
			continue
		}
		if !opts.InlinePartials || opts.Loader == nil || opts.Cache == nil {
			continue
		}
		name := ins.A.Str
		if opts.Stack != nil && opts.Stack.Contains(name) {
			continue // recursion guard: defer to runtime resolution
		}
		if opts.Stack != nil {
			opts.Stack.Push(name)
		}
		bundle, err := opts.Cache.CompileOnce(name, opts.Loader, opts.Compile)
		if opts.Stack != nil {
			opts.Stack.Pop()
		}
		if err != nil {
			continue // loader failure or compile failure: swallow, defer to runtime
		}
		ins.B = il.Args(append(append([]il.Arg(nil), ins.B.Args...), il.Arg{
			Key:   il.CompiledTemplateKey,
			Value: il.CompiledProgram(bundle),
		}))
	}
}
