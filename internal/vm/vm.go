// Package vm is the stack interpreter that executes linked IL directly,
// the fallback (and initial-tier) execution path for every compiled
// template: unlike internal/lowering it never refuses a program — every
// opcode in il.OpCode has a case here, including the ones (break/continue,
// tablerow, partial rendering) that gate lowering out entirely.
package vm

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	tmplerrors "liquidil/internal/errors"
	"liquidil/internal/filters"
	"liquidil/internal/il"
	"liquidil/internal/runtime"
)

// DebugHook observes instruction execution, grounded on the teacher's
// EnhancedVM debug hook used for step tracing and breakpoints.
type DebugHook interface {
	BeforeInstruction(ip int, ins il.Instruction)
}

// Partials resolves a RENDER_PARTIAL/INCLUDE_PARTIAL whose args did not
// already carry a __compiled_template__ bundle (the inliner skipped it, or
// inlining was disabled). A nil Partials makes any such instruction an
// error — callers that want runtime partial resolution must supply one.
type Partials interface {
	Resolve(name string) (*il.Program, error)
}

// MaxSteps bounds a single Run call's instruction count as a guard against
// runaway programs (e.g. a miscompiled loop); it is generous enough that no
// realistic template trips it.
const MaxSteps = 50_000_000

// VM executes one linked *il.Program against a live Scope.
type VM struct {
	prog     *il.Program
	scope    *runtime.Scope
	filters  *filters.Registry
	partials Partials
	debug    DebugHook

	stack []runtime.Value
	temps map[int64]runtime.Value

	forTable      map[int]int // FOR_INIT index -> FOR_END index
	tablerowTable map[int]int // TABLEROW_INIT index -> TABLEROW_END index
	forFrames     []*forFrame
	tableFrames   []*tableFrame

	ifchanged map[int]string

	out   *strings.Builder
	steps int
}

// New builds a VM ready to run p against scope, using reg for CALL_FILTER
// and (optionally) partials for runtime-resolved RENDER_PARTIAL /
// INCLUDE_PARTIAL instructions that weren't pre-inlined.
func New(p *il.Program, scope *runtime.Scope, reg *filters.Registry, partials Partials) (*VM, error) {
	if !p.Linked {
		return nil, errors.New("vm: program is not linked")
	}
	v := &VM{
		prog:      p,
		scope:     scope,
		filters:   reg,
		partials:  partials,
		temps:     make(map[int64]runtime.Value),
		ifchanged: make(map[int]string),
		out:       &strings.Builder{},
	}
	forTable, tableTable, err := buildLoopTables(p.Instructions)
	if err != nil {
		return nil, errors.Wrap(err, "vm: building loop jump tables")
	}
	v.forTable = forTable
	v.tablerowTable = tableTable
	return v, nil
}

// SetDebugHook installs a DebugHook observed before every instruction.
func (v *VM) SetDebugHook(h DebugHook) { v.debug = h }

func (v *VM) push(val runtime.Value) { v.stack = append(v.stack, val) }

func (v *VM) pop() runtime.Value {
	n := len(v.stack)
	if n == 0 {
		return runtime.Nil{}
	}
	val := v.stack[n-1]
	v.stack = v.stack[:n-1]
	return val
}

func (v *VM) peek() runtime.Value {
	if n := len(v.stack); n > 0 {
		return v.stack[n-1]
	}
	return runtime.Nil{}
}

func (v *VM) emit(text string) {
	if !v.scope.Write(text) {
		v.out.WriteString(text)
	}
}

// Run executes the program from instruction 0 until HALT or the stream is
// exhausted, returning the accumulated output. On a RuntimeError, the
// returned string is not discarded: it carries whatever had already been
// written plus the `Liquid error (...): message` tail spec.md §7 mandates,
// so a caller that renders Run's string result regardless of the error
// still shows the reader everything that rendered before the failure.
func (v *VM) Run() (string, error) {
	ip := 0
	n := len(v.prog.Instructions)
	for ip < n {
		v.steps++
		if v.steps > MaxSteps {
			return v.failOutput("vm: exceeded maximum step count")
		}
		ins := v.prog.Instructions[ip]
		if v.debug != nil {
			v.debug.BeforeInstruction(ip, ins)
		}
		next, halt, err := v.step(ip, ins)
		if err != nil {
			wrapped := errors.Wrapf(err, "vm: at instruction %d (%s)", ip, ins.Op)
			return v.failOutput(wrapped.Error())
		}
		if halt {
			break
		}
		ip = next
	}
	return v.out.String(), nil
}

func (v *VM) failOutput(message string) (string, error) {
	tmplErr := tmplerrors.NewRuntimeError(message, v.out.String())
	tail := fmt.Sprintf("Liquid error (%s): %s", tmplErr.Kind, tmplErr.Message)
	return tmplErr.PartialOutput + tail, tmplErr
}

func (v *VM) step(ip int, ins il.Instruction) (next int, halt bool, err error) {
	switch ins.Op {
	case il.OpNoop, il.OpLabel:
		// positional markers only

	case il.OpConstNil:
		v.push(runtime.Nil{})
	case il.OpConstTrue:
		v.push(runtime.Bool(true))
	case il.OpConstFalse:
		v.push(runtime.Bool(false))
	case il.OpConstInt:
		v.push(runtime.Int(ins.A.Int))
	case il.OpConstFloat:
		v.push(runtime.Float(ins.A.Float))
	case il.OpConstString:
		v.push(runtime.String(ins.A.Str))
	case il.OpConstRange:
		v.push(runtime.Range{Start: ins.A.Int, End: ins.B.Int})
	case il.OpConstEmpty:
		v.push(runtime.Empty{})
	case il.OpConstBlank:
		v.push(runtime.Blank{})

	case il.OpFindVar:
		val, ok := v.scope.Find(ins.A.Str)
		if !ok {
			val = runtime.Nil{}
		}
		v.push(val)
	case il.OpFindVarPath:
		val, ok := v.scope.FindPath(ins.A.Str, ins.B.Path)
		if !ok {
			val = runtime.Nil{}
		}
		v.push(val)
	case il.OpFindVarDynamic:
		name := runtime.Format(v.pop())
		val, ok := v.scope.Find(name)
		if !ok {
			val = runtime.Nil{}
		}
		v.push(val)
	case il.OpLookupKey:
		key := runtime.Format(v.pop())
		obj := v.pop()
		v.push(stepInto(obj, key))
	case il.OpLookupConstKey:
		obj := v.pop()
		v.push(stepInto(obj, ins.A.Str))
	case il.OpLookupConstPath:
		obj := v.pop()
		for _, key := range ins.A.Path {
			obj = stepInto(obj, key)
		}
		v.push(obj)
	case il.OpLookupCommand:
		obj := v.pop()
		v.push(runLookupCommand(ins.A.Command, obj))

	case il.OpWriteRaw:
		v.emit(ins.A.Str)
	case il.OpWriteValue:
		v.emit(runtime.Format(v.pop()))
	case il.OpWriteVar:
		val, _ := v.scope.Find(ins.A.Str)
		v.emit(runtime.Format(val))
	case il.OpWriteVarPath:
		val, _ := v.scope.FindPath(ins.A.Str, ins.B.Path)
		v.emit(runtime.Format(val))

	case il.OpCompare:
		r := v.pop()
		l := v.pop()
		res, cerr := evalCompare(ins.A.Compare, l, r)
		if cerr != nil {
			return 0, false, cerr
		}
		v.push(res)
	case il.OpCaseCompare:
		r := v.pop()
		l := v.pop()
		eq, _ := runtime.Equal(l, r)
		v.push(runtime.Bool(eq))
	case il.OpContains:
		r := v.pop()
		l := v.pop()
		v.push(evalContains(l, r))
	case il.OpBoolNot:
		v.push(runtime.Bool(!runtime.Truthy(v.pop())))
	case il.OpIsTruthy:
		v.push(runtime.Bool(runtime.Truthy(v.pop())))
	case il.OpNewRange:
		hi := v.pop()
		lo := v.pop()
		loI, ok1 := asInt(lo)
		hiI, ok2 := asInt(hi)
		if !ok1 || !ok2 {
			return 0, false, errors.New("range bounds must be numeric")
		}
		v.push(runtime.Range{Start: loI, End: hiI})

	case il.OpCallFilter:
		argc := int(ins.B.Int)
		vals := make([]runtime.Value, argc+1)
		for i := argc; i >= 0; i-- {
			vals[i] = v.pop()
		}
		res, ferr := v.filters.Apply(ins.A.Str, vals[0], vals[1:], v.scope)
		if ferr != nil {
			return 0, false, errors.Wrapf(ferr, "filter %q", ins.A.Str)
		}
		v.push(res)

	case il.OpJump:
		return int(ins.A.Int), false, nil
	case il.OpJumpIfFalse:
		val := v.pop()
		if !runtime.Truthy(val) {
			return int(ins.A.Int), false, nil
		}
	case il.OpJumpIfTrue:
		val := v.pop()
		if runtime.Truthy(val) {
			return int(ins.A.Int), false, nil
		}
	case il.OpJumpIfEmpty:
		val := v.pop()
		if isEmptyValue(val) {
			return int(ins.A.Int), false, nil
		}
		v.push(val)
	case il.OpJumpIfInterrupt:
		if v.scope.PeekInterrupt() != runtime.InterruptNone {
			return int(ins.A.Int), false, nil
		}
	case il.OpHalt:
		return 0, true, nil

	case il.OpPushScope:
		v.scope.PushScope()
	case il.OpPopScope:
		v.scope.PopScope()
	case il.OpAssign:
		v.scope.Assign(ins.A.Str, v.pop())
	case il.OpAssignLocal:
		v.scope.AssignLocal(ins.A.Str, v.pop())
	case il.OpIncrement:
		v.push(runtime.Int(v.scope.Increment(ins.A.Str)))
	case il.OpDecrement:
		v.push(runtime.Int(v.scope.Decrement(ins.A.Str)))
	case il.OpPushCapture:
		v.scope.PushCapture()
	case il.OpPopCapture:
		v.push(runtime.String(v.scope.PopCapture()))
	case il.OpPushInterrupt:
		v.scope.SetInterrupt(toSignal(ins.A.Interrupt))
	case il.OpPopInterrupt:
		v.scope.PopInterrupt()
	case il.OpStoreTemp:
		v.temps[ins.A.Int] = v.pop()
	case il.OpLoadTemp:
		v.push(v.temps[ins.A.Int])
	case il.OpDup:
		v.push(v.peek())
	case il.OpPop:
		v.pop()
	case il.OpBuildHash:
		v.push(v.buildHash(int(ins.A.Int)))
	case il.OpIfchangedCheck:
		val := runtime.Format(v.pop())
		if last, ok := v.ifchanged[ip]; ok && last == val {
			return int(ins.A.Int), false, nil
		}
		v.ifchanged[ip] = val

	case il.OpForInit:
		return v.execForInit(ip, ins)
	case il.OpPushForloop:
		return v.execPushForloop(ip)
	case il.OpForNext:
		return v.execForNext(ip)
	case il.OpPopForloop:
		v.scope.PopForloop()
	case il.OpForEnd:
		// reached only if jumped to directly; no state to clean up

	case il.OpTablerowInit:
		return v.execTablerowInit(ip, ins)
	case il.OpTablerowNext:
		return v.execTablerowNext(ip)
	case il.OpTablerowEnd:
		// see OpForEnd

	case il.OpCycleStep:
		v.execCycleStep(ins, ins.A.Str)
	case il.OpCycleStepVar:
		idVal, _ := v.scope.Find(ins.A.Str)
		v.execCycleStep(ins, runtime.Format(idVal))

	case il.OpRenderPartial:
		if rerr := v.execPartial(ins, false); rerr != nil {
			return 0, false, rerr
		}
	case il.OpIncludePartial:
		if rerr := v.execPartial(ins, true); rerr != nil {
			return 0, false, rerr
		}

	case il.OpConstRender, il.OpConstInclude:
		return 0, false, errors.Errorf("unresolved %s reached the VM; partial lowering must run first", ins.Op)

	default:
		return 0, false, errors.Errorf("unhandled opcode %s", ins.Op)
	}
	return ip + 1, false, nil
}

func (v *VM) buildHash(n int) runtime.Value {
	type pair struct{ k, val runtime.Value }
	pairs := make([]pair, n)
	for i := n - 1; i >= 0; i-- {
		val := v.pop()
		key := v.pop()
		pairs[i] = pair{key, val}
	}
	keys := make([]string, n)
	values := make(map[string]runtime.Value, n)
	for i, p := range pairs {
		k := runtime.Format(p.k)
		keys[i] = k
		values[k] = p.val
	}
	return runtime.NewHash(keys, values)
}

func (v *VM) execCycleStep(ins il.Instruction, identity string) {
	idx := v.scope.Increment("__cycle__" + identity)
	vals := ins.B.Cycle
	if len(vals) == 0 {
		return
	}
	i := int(idx) % len(vals)
	cv := vals[i]
	var val runtime.Value
	if cv.IsVar {
		val, _ = v.scope.Find(cv.Name)
	} else {
		val = operandLiteral(cv.Lit)
	}
	v.emit(runtime.Format(val))
}

func toSignal(k il.InterruptKind) runtime.InterruptSignal {
	if k == il.InterruptContinue {
		return runtime.InterruptContinue
	}
	return runtime.InterruptBreak
}

func stepInto(val runtime.Value, key string) runtime.Value {
	switch t := val.(type) {
	case runtime.Hash:
		if r, ok := t.Get(key); ok {
			return r
		}
	case runtime.Array:
		if idx, ok := parseIndex(key); ok && idx >= 0 && idx < len(t) {
			return t[idx]
		}
	case runtime.Drop:
		if r, ok := t.LiquidProperty(key); ok {
			return r
		}
	case runtime.Forloop:
		if r, ok := t.Property(key); ok {
			return r
		}
	}
	return runtime.Nil{}
}

func parseIndex(s string) (int, bool) {
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

func runLookupCommand(cmd il.LookupCommand, obj runtime.Value) runtime.Value {
	arr, isArr := obj.(runtime.Array)
	switch cmd {
	case il.CmdSize:
		if isArr {
			return runtime.Int(len(arr))
		}
		return runtime.Int(len([]rune(runtime.Format(obj))))
	case il.CmdLength:
		if isArr {
			return runtime.Int(len(arr))
		}
		return runtime.Int(0)
	case il.CmdFirst:
		if isArr && len(arr) > 0 {
			return arr[0]
		}
		return runtime.Nil{}
	case il.CmdLast:
		if isArr && len(arr) > 0 {
			return arr[len(arr)-1]
		}
		return runtime.Nil{}
	default:
		return runtime.Nil{}
	}
}

func asInt(val runtime.Value) (int64, bool) {
	switch t := val.(type) {
	case runtime.Int:
		return int64(t), true
	case runtime.Float:
		return int64(t), true
	default:
		return 0, false
	}
}

func asFloat(val runtime.Value) (float64, bool) {
	switch t := val.(type) {
	case runtime.Int:
		return float64(t), true
	case runtime.Float:
		return float64(t), true
	default:
		return 0, false
	}
}

func evalCompare(op il.CompareOp, a, b runtime.Value) (runtime.Value, error) {
	if op == il.CmpEq || op == il.CmpNe {
		eq, _ := runtime.Equal(a, b)
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

func evalContains(a, b runtime.Value) runtime.Value {
	switch t := a.(type) {
	case runtime.String:
		bs, ok := b.(runtime.String)
		if !ok {
			return runtime.Bool(false)
		}
		return runtime.Bool(strings.Contains(string(t), string(bs)))
	case runtime.Array:
		for _, e := range t {
			if eq, err := runtime.Equal(e, b); err == nil && eq {
				return runtime.Bool(true)
			}
		}
	}
	return runtime.Bool(false)
}

func isEmptyValue(val runtime.Value) bool {
	switch t := val.(type) {
	case runtime.Nil, runtime.Empty, runtime.Blank:
		return true
	case runtime.Array:
		return len(t) == 0
	case runtime.String:
		return len(t) == 0
	case runtime.Range:
		return t.Start > t.End
	case runtime.Hash:
		return t.Len() == 0
	default:
		return false
	}
}

func operandLiteral(o il.Operand) runtime.Value {
	switch o.Kind {
	case il.KindInt:
		return runtime.Int(o.Int)
	case il.KindFloat:
		return runtime.Float(o.Float)
	case il.KindString, il.KindSymbol:
		return runtime.String(o.Str)
	default:
		return runtime.Nil{}
	}
}
