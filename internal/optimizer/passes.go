package optimizer

import (
	"fmt"
	"strings"

	"liquidil/internal/effect"
	"liquidil/internal/filters"
	"liquidil/internal/il"
	"liquidil/internal/runtime"
)

// foldConstOps implements spec.md §4.3 step 1: CONST folded through a
// following IS_TRUTHY/BOOL_NOT/JUMP_IF_FALSE/JUMP_IF_TRUE, or CONST+CONST
// folded through a following COMPARE/CASE_COMPARE/CONTAINS. eff is
// recomputed after every mutation so a stale record is never consulted
// against shifted instruction indices.
func foldConstOps(p *il.Program, eff []effect.Record) bool {
	changed := false
	i := 0
	for i < p.Len() {
		v1, ok1 := constValue(p.Instructions[i])
		if !ok1 {
			i++
			continue
		}

		if i+1 < p.Len() {
			next := p.Instructions[i+1]
			switch next.Op {
			case il.OpIsTruthy:
				p.ReplaceRange(i, i+2, boolInstr(runtime.Truthy(v1)))
				changed = true
				eff = effect.Analyze(p.Instructions)
				continue
			case il.OpBoolNot:
				p.ReplaceRange(i, i+2, boolInstr(!runtime.Truthy(v1)))
				changed = true
				eff = effect.Analyze(p.Instructions)
				continue
			case il.OpJumpIfFalse:
				if runtime.Truthy(v1) {
					p.DeleteRange(i, i+2)
				} else {
					p.ReplaceRange(i, i+2, il.Instruction{Op: il.OpJump, A: next.A})
				}
				changed = true
				eff = effect.Analyze(p.Instructions)
				continue
			case il.OpJumpIfTrue:
				if runtime.Truthy(v1) {
					p.ReplaceRange(i, i+2, il.Instruction{Op: il.OpJump, A: next.A})
				} else {
					p.DeleteRange(i, i+2)
				}
				changed = true
				eff = effect.Analyze(p.Instructions)
				continue
			}
		}

		// A binary fold discards the operator instruction entirely, so it
		// must not be a barrier (e.g. a dynamic lookup the optimizer has
		// no business assuming is side-effect free just because its
		// operands happen to be constant).
		if i+2 < p.Len() && i+2 < len(eff) && !eff[i+2].Barrier {
			if v2, ok2 := constValue(p.Instructions[i+1]); ok2 {
				if result, ok := foldBinary(v1, v2, p.Instructions[i+2]); ok {
					p.ReplaceRange(i, i+3, constInstr(result))
					changed = true
					eff = effect.Analyze(p.Instructions)
					continue
				}
			}
		}
		i++
	}
	return changed
}

// foldConstFilters implements spec.md §4.3 step 2. eff[i].Barrier gates the
// fold attempt itself — registry.Foldable is a per-filter-name property,
// eff is the per-instruction one, and a future CALL_FILTER variant that
// sets Barrier (e.g. one gaining access to render-time state) stays
// un-folded even if its name were mistakenly left in the foldable set.
func foldConstFilters(p *il.Program, eff []effect.Record, registry *filters.Registry) bool {
	changed := false
	i := 0
	for i < p.Len() {
		ins := p.Instructions[i]
		if ins.Op != il.OpCallFilter || !registry.Foldable(ins.A.Str) || eff[i].Barrier {
			i++
			continue
		}
		argc := int(ins.B.Int)
		producers := argc + 1
		values := make([]runtime.Value, producers)
		cursor := i
		ok := true
		for k := producers - 1; k >= 0; k-- {
			v, newCursor, pok := matchProducer(p, cursor)
			if !pok {
				ok = false
				break
			}
			values[k] = v
			cursor = newCursor
		}
		if !ok {
			i++
			continue
		}
		result, err := safeApplyFilter(registry, ins.A.Str, values[0], values[1:])
		if err != nil {
			i++
			continue
		}
		p.ReplaceRange(cursor, i+1, constInstr(result))
		changed = true
		i = cursor + 1
		eff = effect.Analyze(p.Instructions)
	}
	return changed
}

func safeApplyFilter(registry *filters.Registry, name string, input runtime.Value, args []runtime.Value) (v runtime.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("optimizer: panic folding filter %s: %v", name, r)
		}
	}()
	return registry.Apply(name, input, args, runtime.NewScope(nil))
}

// foldConstWrites implements spec.md §4.3 step 3.
func foldConstWrites(p *il.Program, eff []effect.Record) bool {
	changed := false
	i := 0
	for i < p.Len()-1 {
		v, ok := constValue(p.Instructions[i])
		if ok && p.Instructions[i+1].Op == il.OpWriteValue {
			p.ReplaceRange(i, i+2, il.Instruction{Op: il.OpWriteRaw, A: il.Str(runtime.Format(v))})
			changed = true
			continue
		}
		i++
	}
	return changed
}

// collapseConstPaths implements spec.md §4.3 step 4.
func collapseConstPaths(p *il.Program, eff []effect.Record) bool {
	changed := false
	i := 0
	for i < p.Len() {
		if p.Instructions[i].Op != il.OpLookupConstKey {
			i++
			continue
		}
		j := i
		var keys []string
		for j < p.Len() && p.Instructions[j].Op == il.OpLookupConstKey {
			keys = append(keys, p.Instructions[j].A.Str)
			j++
		}
		if len(keys) >= 2 {
			p.ReplaceRange(i, j, il.Instruction{Op: il.OpLookupConstPath, A: il.Path(keys)})
			changed = true
			i++
			continue
		}
		i = j
	}
	return changed
}

// collapseFindVarPaths implements spec.md §4.3 step 5.
func collapseFindVarPaths(p *il.Program, eff []effect.Record) bool {
	changed := false
	i := 0
	for i < p.Len()-1 {
		a := p.Instructions[i]
		b := p.Instructions[i+1]
		if a.Op == il.OpFindVar && b.Op == il.OpLookupConstPath {
			p.ReplaceRange(i, i+2, il.Instruction{Op: il.OpFindVarPath, A: a.A, B: b.A})
			changed = true
			continue
		}
		i++
	}
	return changed
}

// removeRedundantIsTruthy implements spec.md §4.3 step 6.
func removeRedundantIsTruthy(p *il.Program, eff []effect.Record) bool {
	changed := false
	i := 0
	for i < p.Len() {
		if p.Instructions[i].Op == il.OpIsTruthy && i > 0 {
			switch p.Instructions[i-1].Op {
			case il.OpCompare, il.OpCaseCompare, il.OpContains, il.OpBoolNot:
				p.DeleteRange(i, i+1)
				changed = true
				continue
			}
		}
		i++
	}
	return changed
}

// removeNoops implements spec.md §4.3 step 7.
func removeNoops(p *il.Program, eff []effect.Record) bool {
	changed := false
	i := 0
	for i < p.Len() {
		if p.Instructions[i].Op == il.OpNoop {
			p.DeleteRange(i, i+1)
			changed = true
			continue
		}
		i++
	}
	return changed
}

// removeJumpToNextLabel implements spec.md §4.3 step 8.
func removeJumpToNextLabel(p *il.Program, eff []effect.Record) bool {
	changed := false
	i := 0
	for i < p.Len()-1 {
		a := p.Instructions[i]
		b := p.Instructions[i+1]
		if a.Op == il.OpJump && b.Op == il.OpLabel && a.A.Int == b.A.Int {
			p.DeleteRange(i, i+1)
			changed = true
			continue
		}
		i++
	}
	return changed
}

// mergeRawWrites implements spec.md §4.3 steps 9 and 11 (run twice by the
// driver).
func mergeRawWrites(p *il.Program, eff []effect.Record) bool {
	changed := false
	i := 0
	for i < p.Len()-1 {
		a := p.Instructions[i]
		b := p.Instructions[i+1]
		if a.Op == il.OpWriteRaw && b.Op == il.OpWriteRaw {
			p.ReplaceRange(i, i+2, il.Instruction{Op: il.OpWriteRaw, A: il.Str(a.A.Str + b.A.Str)})
			changed = true
			continue
		}
		i++
	}
	return changed
}

// removeUnreachable implements spec.md §4.3 step 10.
func removeUnreachable(p *il.Program, eff []effect.Record) bool {
	changed := false
	i := 0
	for i < p.Len() {
		op := p.Instructions[i].Op
		if op == il.OpJump || op == il.OpHalt {
			j := i + 1
			for j < p.Len() && p.Instructions[j].Op != il.OpLabel {
				j++
			}
			if j > i+1 {
				p.DeleteRange(i+1, j)
				changed = true
			}
		}
		i++
	}
	return changed
}

// foldConstCaptures implements spec.md §4.3 step 12.
func foldConstCaptures(p *il.Program, eff []effect.Record) bool {
	changed := false
	i := 0
	for i < p.Len() {
		if p.Instructions[i].Op != il.OpPushCapture {
			i++
			continue
		}
		end, ok := matchBalancedCapture(p, i)
		if !ok || end+1 >= p.Len() {
			i++
			continue
		}
		next := p.Instructions[end+1]
		if next.Op != il.OpAssign && next.Op != il.OpAssignLocal {
			i++
			continue
		}
		concat, ok := concatCaptureBody(p, eff, i+1, end)
		if !ok {
			i++
			continue
		}
		p.ReplaceRange(i, end+1, il.Instruction{Op: il.OpConstString, A: il.Str(concat)})
		changed = true
		i++
		eff = effect.Analyze(p.Instructions)
	}
	return changed
}

// matchBalancedCapture finds the index of the PUSH_CAPTURE at start's
// matching POP_CAPTURE, honoring nested PUSH_CAPTURE/POP_CAPTURE pairs.
func matchBalancedCapture(p *il.Program, start int) (int, bool) {
	depth := 1
	for j := start + 1; j < p.Len(); j++ {
		switch p.Instructions[j].Op {
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

// concatCaptureBody requires every instruction in (start,end) to be a
// top-level WRITE_RAW or LABEL, and defers to eff for the general safety
// gate: any instruction effect classifies as side-effecting other than the
// WRITE_RAW it expects aborts the fold, rather than trusting the opcode
// whitelist alone to stay exhaustive as new opcodes are added. A nested
// capture aborts the fold rather than attempting to inline its (possibly
// non-constant) result. The outer capture is visited before the nested
// one, so it stays unfolded even when the nested capture is folded later
// in the same pass.
func concatCaptureBody(p *il.Program, eff []effect.Record, start, end int) (string, bool) {
	var sb strings.Builder
	for j := start; j < end; j++ {
		ins := p.Instructions[j]
		switch ins.Op {
		case il.OpWriteRaw:
			sb.WriteString(ins.A.Str)
		case il.OpLabel:
		default:
			return "", false
		}
		if j < len(eff) && eff[j].HasSideEffects && ins.Op != il.OpWriteRaw {
			return "", false
		}
	}
	return sb.String(), true
}

// removeEmptyRawWrites implements spec.md §4.3 step 13.
func removeEmptyRawWrites(p *il.Program, eff []effect.Record) bool {
	changed := false
	i := 0
	for i < p.Len() {
		if p.Instructions[i].Op == il.OpWriteRaw && p.Instructions[i].A.Str == "" {
			p.DeleteRange(i, i+1)
			changed = true
			continue
		}
		i++
	}
	return changed
}
