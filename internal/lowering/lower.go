package lowering

import (
	"errors"
	"fmt"
	"strings"

	"liquidil/internal/filters"
	"liquidil/internal/il"
	"liquidil/internal/runtime"
)

// ErrGated is returned by Lower when the program contains an opcode the
// reducer refuses to handle; callers fall back to the stack VM.
var ErrGated = errors.New("lowering: gated opcode present, falls back to stack vm")

// gated reports the opcodes that force a VM fallback for the whole program:
// RENDER_PARTIAL/INCLUDE_PARTIAL need a nested interpreter loop to honor
// recursion limits at render time, TABLEROW_* has no native-loop analogue
// modeled here, and PUSH_INTERRUPT means the template uses break/continue,
// which the reducer does not attempt to reconstruct as native control flow.
func gated(op il.OpCode) bool {
	switch op {
	case il.OpRenderPartial, il.OpIncludePartial,
		il.OpTablerowInit, il.OpTablerowNext, il.OpTablerowEnd,
		il.OpPushInterrupt:
		return true
	default:
		return false
	}
}

// CanLower reports whether instrs is free of every gated opcode.
func CanLower(instrs []il.Instruction) bool {
	for _, ins := range instrs {
		if gated(ins.Op) {
			return false
		}
	}
	return true
}

// Compiled is a program that has been successfully reduced to a tree of Go
// closures; Render walks the tree directly instead of reinterpreting IL.
type Compiled struct {
	stmts block
}

// Lower attempts to reduce a linked program's instructions into Compiled.
// It returns ErrGated itself (unwrapped) when the program cannot be represented this
// way; the caller should fall back to the stack VM in that case, matching
// spec.md §4.7's "any refused pattern ... sets uses_vm = true".
func Lower(p *il.Program) (*Compiled, error) {
	if !p.Linked {
		return nil, fmt.Errorf("lowering: program must be linked before lowering")
	}
	if !CanLower(p.Instructions) {
		return nil, ErrGated
	}
	stmts, err := generateBlock(p.Instructions, 0, len(p.Instructions))
	if err != nil {
		return nil, fmt.Errorf("lowering: %w", err)
	}
	return &Compiled{stmts: stmts}, nil
}

// Render executes the reduced tree against scope, producing the rendered
// output. filters supplies CALL_FILTER's lookups; spans/source let future
// error reporting recover original template text (unused by Eval/Exec
// today, carried for parity with the VM's execution context).
func (c *Compiled) Render(scope *runtime.Scope, registry *filters.Registry, spans []il.Span, source string) (string, error) {
	ctx := &execContext{
		scope:   scope,
		filters: registry,
		temps:   make(map[int64]runtime.Value),
		source:  source,
		spans:   spans,
	}
	var out strings.Builder
	if err := c.stmts.Exec(ctx, &out); err != nil {
		return "", err
	}
	return out.String(), nil
}

// generateBlock reduces instrs[start:end] to a sequence of statements.
func generateBlock(instrs []il.Instruction, start, end int) (block, error) {
	var stmts block
	pc := start
	for pc < end {
		stmt, next, err := generateStatement(instrs, pc, end)
		if err != nil {
			return nil, err
		}
		if next <= pc {
			return nil, fmt.Errorf("lowering: reducer made no progress at %d (%s)", pc, instrs[pc].Op)
		}
		stmts = append(stmts, stmt)
		pc = next
	}
	return stmts, nil
}

// generateStatement reduces exactly one statement starting at pc, returning
// the index just past it. Direct-statement opcodes (spec.md §4.7's first
// bucket) are handled immediately; anything else is assumed to start a
// stack-producer expression and is reduced via buildExpression, then
// dispatched on whatever terminator follows it.
func generateStatement(instrs []il.Instruction, pc, end int) (Stmt, int, error) {
	ins := instrs[pc]
	switch ins.Op {
	case il.OpWriteRaw:
		return writeRawStmt{ins.A.Str}, pc + 1, nil
	case il.OpWriteVar:
		return writeExprStmt{varExpr{ins.A.Str}}, pc + 1, nil
	case il.OpWriteVarPath:
		return writeExprStmt{varPathExpr{ins.A.Str, ins.B.Path}}, pc + 1, nil
	case il.OpPushScope:
		return pushScopeStmt{}, pc + 1, nil
	case il.OpPopScope:
		return popScopeStmt{}, pc + 1, nil
	case il.OpCycleStep:
		return buildCycleStep(ins, false), pc + 1, nil
	case il.OpCycleStepVar:
		return buildCycleStep(ins, true), pc + 1, nil
	case il.OpLabel, il.OpNoop, il.OpForNext, il.OpPushForloop, il.OpPopForloop:
		return noopStmt{}, pc + 1, nil
	case il.OpHalt:
		return noopStmt{}, end, nil
	case il.OpPushCapture:
		return generateCapture(instrs, pc, end)
	}

	expr, tpc, err := buildExpression(instrs, pc, end)
	if err != nil {
		return nil, 0, err
	}
	return dispatchTerminator(instrs, expr, tpc, end)
}

// dispatchTerminator decides what to do with an already-built expression
// based on the opcode immediately following it.
func dispatchTerminator(instrs []il.Instruction, expr Expr, tpc, end int) (Stmt, int, error) {
	if tpc >= end {
		return nil, 0, fmt.Errorf("lowering: expression has no terminator before block end (stopped at %d)", tpc)
	}
	term := instrs[tpc]
	switch term.Op {
	case il.OpWriteValue:
		return writeExprStmt{expr}, tpc + 1, nil
	case il.OpAssign:
		return assignStmt{name: term.A.Str, local: false, e: expr}, tpc + 1, nil
	case il.OpAssignLocal:
		return assignStmt{name: term.A.Str, local: true, e: expr}, tpc + 1, nil
	case il.OpStoreTemp:
		return storeTempStmt{slot: term.A.Int, e: expr}, tpc + 1, nil
	case il.OpPop:
		return noopStmt{}, tpc + 1, nil
	case il.OpJumpIfFalse, il.OpJumpIfTrue:
		return generateConditional(instrs, expr, tpc, end)
	case il.OpForInit:
		return generateForLoop(instrs, expr, tpc, end)
	default:
		return nil, 0, fmt.Errorf("lowering: unsupported terminator %s at %d", term.Op, tpc)
	}
}

// generateConditional handles JUMP_IF_FALSE/JUMP_IF_TRUE. Per spec.md §4.7
// a conditional jump either closes a short-circuit `and`/`or` (when its
// target is a CONST_FALSE/CONST_TRUE sentinel not itself consumed by a
// STORE_TEMP/WRITE_* — i.e. it only exists to fix up the boolean result)
// or introduces a genuine structured if/unless.
func generateConditional(instrs []il.Instruction, left Expr, pc, end int) (Stmt, int, error) {
	ins := instrs[pc]
	target := int(ins.A.Int)

	if sentinelIdx, ok := shortCircuitSentinel(instrs, ins.Op, target, end); ok {
		contPC := sentinelIdx + 1
		right, rpc, err := buildExpression(instrs, pc+1, target)
		if err != nil {
			return nil, 0, err
		}
		// The right operand either falls straight through to the sentinel
		// label (rpc == target), or evaluates normally and then jumps
		// past the sentinel constant to the same continuation point a
		// short-circuited left operand would have landed on.
		if rpc != target {
			if rpc >= len(instrs) || instrs[rpc].Op != il.OpJump || int(instrs[rpc].A.Int) != contPC {
				return nil, 0, fmt.Errorf("lowering: short-circuit right operand at %d did not resolve to the sentinel's continuation point", pc)
			}
		}
		var combined Expr
		if ins.Op == il.OpJumpIfFalse {
			combined = andExpr{left, right}
		} else {
			combined = orExpr{left, right}
		}
		finalExpr, fpc, err := buildExpressionFrom(instrs, combined, contPC, end)
		if err != nil {
			return nil, 0, err
		}
		return dispatchTerminator(instrs, finalExpr, fpc, end)
	}

	cond := left
	if ins.Op == il.OpJumpIfTrue {
		cond = notExpr{left}
	}

	thenEnd := target
	if thenEnd > pc+1 {
		last := instrs[thenEnd-1]
		if last.Op == il.OpJump && int(last.A.Int) > thenEnd-1 {
			elseTarget := int(last.A.Int)
			thenBlock, err := generateBlock(instrs, pc+1, thenEnd-1)
			if err != nil {
				return nil, 0, err
			}
			elseBlock, err := generateBlock(instrs, thenEnd, elseTarget)
			if err != nil {
				return nil, 0, err
			}
			return ifStmt{cond: cond, then: thenBlock, els: elseBlock}, elseTarget, nil
		}
	}

	thenBlock, err := generateBlock(instrs, pc+1, thenEnd)
	if err != nil {
		return nil, 0, err
	}
	return ifStmt{cond: cond, then: thenBlock}, thenEnd, nil
}

// shortCircuitSentinel reports whether the jump at target lands on a bare
// boolean sentinel that exists only to normalize the stack (skipping over
// any LABEL marker the jump resolved to), rather than on the start of a
// genuine then-branch, returning the sentinel's own index when it is.
func shortCircuitSentinel(instrs []il.Instruction, op il.OpCode, target, end int) (int, bool) {
	idx := target
	for idx < end && idx < len(instrs) && instrs[idx].Op == il.OpLabel {
		idx++
	}
	if idx >= end || idx >= len(instrs) {
		return 0, false
	}
	switch op {
	case il.OpJumpIfFalse:
		if instrs[idx].Op != il.OpConstFalse {
			return 0, false
		}
	case il.OpJumpIfTrue:
		if instrs[idx].Op != il.OpConstTrue {
			return 0, false
		}
	default:
		return 0, false
	}
	if idx+1 >= len(instrs) {
		return idx, true
	}
	switch instrs[idx+1].Op {
	case il.OpStoreTemp, il.OpWriteValue, il.OpWriteRaw, il.OpWriteVar, il.OpWriteVarPath:
		return 0, false
	default:
		return idx, true
	}
}

// generateForLoop reduces a FOR_INIT ... FOR_END bracket into a forStmt.
// FOR_NEXT/PUSH_FORLOOP/POP_FORLOOP inside the body are no-ops to the
// reducer: forStmt.Exec drives iteration, the forloop object and the
// per-iteration scope itself natively.
func generateForLoop(instrs []il.Instruction, coll Expr, pc, end int) (Stmt, int, error) {
	ins := instrs[pc]
	varName := ins.A.Str
	reversed := ins.C.Int != 0
	forEnd, ok := matchForEnd(instrs, pc, end)
	if !ok {
		return nil, 0, fmt.Errorf("lowering: unbalanced FOR_INIT at %d", pc)
	}
	body, err := generateBlock(instrs, pc+1, forEnd)
	if err != nil {
		return nil, 0, err
	}
	return forStmt{varName: varName, coll: coll, reversed: reversed, body: body}, forEnd + 1, nil
}

func matchForEnd(instrs []il.Instruction, start, end int) (int, bool) {
	depth := 1
	for j := start + 1; j < end; j++ {
		switch instrs[j].Op {
		case il.OpForInit:
			depth++
		case il.OpForEnd:
			depth--
			if depth == 0 {
				return j, true
			}
		}
	}
	return 0, false
}

// generateCapture reduces a PUSH_CAPTURE ... POP_CAPTURE ASSIGN[_LOCAL]
// triple into one captureStmt.
func generateCapture(instrs []il.Instruction, pc, end int) (Stmt, int, error) {
	popIdx, ok := matchCapture(instrs, pc, end)
	if !ok {
		return nil, 0, fmt.Errorf("lowering: unbalanced PUSH_CAPTURE at %d", pc)
	}
	body, err := generateBlock(instrs, pc+1, popIdx)
	if err != nil {
		return nil, 0, err
	}
	if popIdx+1 >= end {
		return nil, 0, fmt.Errorf("lowering: capture at %d not followed by an assign", pc)
	}
	assign := instrs[popIdx+1]
	if assign.Op != il.OpAssign && assign.Op != il.OpAssignLocal {
		return nil, 0, fmt.Errorf("lowering: capture at %d not followed by an assign", pc)
	}
	return captureStmt{
		body:  body,
		name:  assign.A.Str,
		local: assign.Op == il.OpAssignLocal,
	}, popIdx + 2, nil
}

func matchCapture(instrs []il.Instruction, start, end int) (int, bool) {
	depth := 1
	for j := start + 1; j < end; j++ {
		switch instrs[j].Op {
		case il.OpPushCapture:
			depth++
		case il.OpPopCapture:
			depth--
			if depth == 0 {
				return j, true
			}
		}
	}
	return 0, false
}

func buildCycleStep(ins il.Instruction, dynamicIdentity bool) Stmt {
	values := make([]Expr, len(ins.B.Cycle))
	for i, cv := range ins.B.Cycle {
		if cv.IsVar {
			values[i] = varExpr{cv.Name}
		} else {
			values[i] = literalExpr{operandToValue(cv.Lit)}
		}
	}
	if dynamicIdentity {
		return dynamicCycleStepStmt{identityVar: ins.A.Str, values: values}
	}
	return cycleStepStmt{identity: ins.A.Str, values: values}
}

func operandToValue(o il.Operand) runtime.Value {
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

// buildExpression reduces a maximal run of stack-producer opcodes starting
// at pc into a single Expr, stopping at (and not consuming) the first
// non-producer opcode, which the caller treats as the terminator.
func buildExpression(instrs []il.Instruction, pc, end int) (Expr, int, error) {
	return buildExpressionFrom(instrs, nil, pc, end)
}

// buildExpressionFrom is buildExpression seeded with an already-reduced
// expression (used to splice a short-circuit and/or back into the
// surrounding expression after its sentinel CONST_FALSE/CONST_TRUE).
func buildExpressionFrom(instrs []il.Instruction, seed Expr, pc, end int) (Expr, int, error) {
	var stack []Expr
	if seed != nil {
		stack = append(stack, seed)
	}
	for pc < end {
		ins := instrs[pc]
		switch ins.Op {
		case il.OpLabel, il.OpNoop:
			// positional markers only, no stack effect
		case il.OpConstNil:
			stack = append(stack, literalExpr{runtime.Nil{}})
		case il.OpConstTrue:
			stack = append(stack, literalExpr{runtime.Bool(true)})
		case il.OpConstFalse:
			stack = append(stack, literalExpr{runtime.Bool(false)})
		case il.OpConstInt:
			stack = append(stack, literalExpr{runtime.Int(ins.A.Int)})
		case il.OpConstFloat:
			stack = append(stack, literalExpr{runtime.Float(ins.A.Float)})
		case il.OpConstString:
			stack = append(stack, literalExpr{runtime.String(ins.A.Str)})
		case il.OpConstEmpty:
			stack = append(stack, literalExpr{runtime.Empty{}})
		case il.OpConstBlank:
			stack = append(stack, literalExpr{runtime.Blank{}})
		case il.OpConstRange:
			stack = append(stack, literalExpr{runtime.Range{Start: ins.A.Int, End: ins.B.Int}})
		case il.OpFindVar:
			stack = append(stack, varExpr{ins.A.Str})
		case il.OpFindVarPath:
			stack = append(stack, varPathExpr{ins.A.Str, ins.B.Path})
		case il.OpFindVarDynamic:
			name, ok := popExpr(&stack)
			if !ok {
				return nil, 0, fmt.Errorf("lowering: FIND_VAR_DYNAMIC at %d with empty stack", pc)
			}
			stack = append(stack, dynamicVarExpr{name})
		case il.OpLookupKey:
			key, ok1 := popExpr(&stack)
			obj, ok2 := popExpr(&stack)
			if !ok1 || !ok2 {
				return nil, 0, fmt.Errorf("lowering: LOOKUP_KEY at %d with insufficient stack", pc)
			}
			stack = append(stack, lookupExpr{obj: obj, key: key})
		case il.OpLookupConstKey:
			obj, ok := popExpr(&stack)
			if !ok {
				return nil, 0, fmt.Errorf("lowering: LOOKUP_CONST_KEY at %d with empty stack", pc)
			}
			stack = append(stack, lookupExpr{obj: obj, keys: []string{ins.A.Str}})
		case il.OpLookupConstPath:
			obj, ok := popExpr(&stack)
			if !ok {
				return nil, 0, fmt.Errorf("lowering: LOOKUP_CONST_PATH at %d with empty stack", pc)
			}
			stack = append(stack, lookupExpr{obj: obj, keys: ins.A.Path})
		case il.OpLookupCommand:
			obj, ok := popExpr(&stack)
			if !ok {
				return nil, 0, fmt.Errorf("lowering: LOOKUP_COMMAND at %d with empty stack", pc)
			}
			stack = append(stack, commandExpr{cmd: ins.A.Command, obj: obj})
		case il.OpCompare:
			r, ok1 := popExpr(&stack)
			l, ok2 := popExpr(&stack)
			if !ok1 || !ok2 {
				return nil, 0, fmt.Errorf("lowering: COMPARE at %d with insufficient stack", pc)
			}
			stack = append(stack, compareExpr{op: ins.A.Compare, l: l, r: r})
		case il.OpCaseCompare:
			r, ok1 := popExpr(&stack)
			l, ok2 := popExpr(&stack)
			if !ok1 || !ok2 {
				return nil, 0, fmt.Errorf("lowering: CASE_COMPARE at %d with insufficient stack", pc)
			}
			stack = append(stack, caseCompareExpr{l, r})
		case il.OpContains:
			r, ok1 := popExpr(&stack)
			l, ok2 := popExpr(&stack)
			if !ok1 || !ok2 {
				return nil, 0, fmt.Errorf("lowering: CONTAINS at %d with insufficient stack", pc)
			}
			stack = append(stack, containsExpr{l, r})
		case il.OpBoolNot:
			e, ok := popExpr(&stack)
			if !ok {
				return nil, 0, fmt.Errorf("lowering: BOOL_NOT at %d with empty stack", pc)
			}
			stack = append(stack, notExpr{e})
		case il.OpIsTruthy:
			e, ok := popExpr(&stack)
			if !ok {
				return nil, 0, fmt.Errorf("lowering: IS_TRUTHY at %d with empty stack", pc)
			}
			stack = append(stack, isTruthyExpr{e})
		case il.OpNewRange:
			hi, ok1 := popExpr(&stack)
			lo, ok2 := popExpr(&stack)
			if !ok1 || !ok2 {
				return nil, 0, fmt.Errorf("lowering: NEW_RANGE at %d with insufficient stack", pc)
			}
			stack = append(stack, rangeExpr{lo, hi})
		case il.OpCallFilter:
			argc := int(ins.B.Int)
			if len(stack) < argc+1 {
				return nil, 0, fmt.Errorf("lowering: CALL_FILTER at %d with insufficient stack", pc)
			}
			args := make([]Expr, argc+1)
			for k := argc; k >= 0; k-- {
				args[k], _ = popExpr(&stack)
			}
			stack = append(stack, filterExpr{name: ins.A.Str, args: args})
		case il.OpBuildHash:
			n := int(ins.A.Int)
			if len(stack) < 2*n {
				return nil, 0, fmt.Errorf("lowering: BUILD_HASH at %d with insufficient stack", pc)
			}
			keys := make([]Expr, n)
			vals := make([]Expr, n)
			for k := n - 1; k >= 0; k-- {
				vals[k], _ = popExpr(&stack)
				keys[k], _ = popExpr(&stack)
			}
			stack = append(stack, buildHashExpr{keys, vals})
		case il.OpDup:
			if len(stack) == 0 {
				return nil, 0, fmt.Errorf("lowering: DUP at %d with empty stack", pc)
			}
			stack = append(stack, stack[len(stack)-1])
		case il.OpLoadTemp:
			stack = append(stack, tempExpr{ins.A.Int})
		case il.OpIncrement:
			stack = append(stack, incDecExpr{ins.A.Str, true})
		case il.OpDecrement:
			stack = append(stack, incDecExpr{ins.A.Str, false})
		default:
			goto terminator
		}
		pc++
	}
terminator:
	if len(stack) == 0 {
		return nil, pc, fmt.Errorf("lowering: expected an expression, found terminator at %d with nothing built", pc)
	}
	return stack[len(stack)-1], pc, nil
}

func popExpr(stack *[]Expr) (Expr, bool) {
	s := *stack
	if len(s) == 0 {
		return nil, false
	}
	e := s[len(s)-1]
	*stack = s[:len(s)-1]
	return e, true
}
