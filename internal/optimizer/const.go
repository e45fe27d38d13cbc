package optimizer

import (
	"strings"

	"liquidil/internal/il"
	"liquidil/internal/runtime"
)

// constValue returns the runtime value a CONST_* instruction produces, or
// false if ins is not a constant-producing opcode.
func constValue(ins il.Instruction) (runtime.Value, bool) {
	switch ins.Op {
	case il.OpConstNil:
		return runtime.Nil{}, true
	case il.OpConstTrue:
		return runtime.Bool(true), true
	case il.OpConstFalse:
		return runtime.Bool(false), true
	case il.OpConstInt:
		return runtime.Int(ins.A.Int), true
	case il.OpConstFloat:
		return runtime.Float(ins.A.Float), true
	case il.OpConstString:
		return runtime.String(ins.A.Str), true
	case il.OpConstEmpty:
		return runtime.Empty{}, true
	case il.OpConstBlank:
		return runtime.Blank{}, true
	case il.OpConstRange:
		return runtime.Range{Start: ins.A.Int, End: ins.B.Int}, true
	default:
		return nil, false
	}
}

// constInstr is the inverse of constValue: builds the CONST_* instruction
// that produces v.
func constInstr(v runtime.Value) il.Instruction {
	switch t := v.(type) {
	case runtime.Nil:
		return il.Instruction{Op: il.OpConstNil}
	case runtime.Bool:
		return boolInstr(bool(t))
	case runtime.Int:
		return il.Instruction{Op: il.OpConstInt, A: il.Int(int64(t))}
	case runtime.Float:
		return il.Instruction{Op: il.OpConstFloat, A: il.Float(float64(t))}
	case runtime.String:
		return il.Instruction{Op: il.OpConstString, A: il.Str(string(t))}
	case runtime.Empty:
		return il.Instruction{Op: il.OpConstEmpty}
	case runtime.Blank:
		return il.Instruction{Op: il.OpConstBlank}
	case runtime.Range:
		return il.Instruction{Op: il.OpConstRange, A: il.Int(t.Start), B: il.Int(t.End)}
	default:
		panic("optimizer: unsupported fold result type")
	}
}

func boolInstr(v bool) il.Instruction {
	if v {
		return il.Instruction{Op: il.OpConstTrue}
	}
	return il.Instruction{Op: il.OpConstFalse}
}

// foldBinary evaluates a COMPARE/CASE_COMPARE/CONTAINS over two constant
// operands. Type mismatches return ok=false so the caller bails silently,
// per spec.md §4.3 step 1's "compare/contains failures bail out silently."
func foldBinary(a, b runtime.Value, op il.Instruction) (runtime.Value, bool) {
	switch op.Op {
	case il.OpCompare:
		return foldCompare(a, b, op.A.Compare)
	case il.OpCaseCompare:
		eq, err := runtime.Equal(a, b)
		if err != nil {
			return nil, false
		}
		return runtime.Bool(eq), true
	case il.OpContains:
		return foldContains(a, b)
	default:
		return nil, false
	}
}

func foldCompare(a, b runtime.Value, cmp il.CompareOp) (runtime.Value, bool) {
	if cmp == il.CmpEq || cmp == il.CmpNe {
		eq, err := runtime.Equal(a, b)
		if err != nil {
			return nil, false
		}
		if cmp == il.CmpNe {
			eq = !eq
		}
		return runtime.Bool(eq), true
	}
	af, ok1 := numeric(a)
	bf, ok2 := numeric(b)
	if !ok1 || !ok2 {
		return nil, false
	}
	switch cmp {
	case il.CmpLt:
		return runtime.Bool(af < bf), true
	case il.CmpLe:
		return runtime.Bool(af <= bf), true
	case il.CmpGt:
		return runtime.Bool(af > bf), true
	case il.CmpGe:
		return runtime.Bool(af >= bf), true
	default:
		return nil, false
	}
}

func numeric(v runtime.Value) (float64, bool) {
	switch t := v.(type) {
	case runtime.Int:
		return float64(t), true
	case runtime.Float:
		return float64(t), true
	default:
		return 0, false
	}
}

func foldContains(a, b runtime.Value) (runtime.Value, bool) {
	switch t := a.(type) {
	case runtime.String:
		bs, ok := b.(runtime.String)
		if !ok {
			return nil, false
		}
		return runtime.Bool(strings.Contains(string(t), string(bs))), true
	case runtime.Array:
		for _, e := range t {
			if eq, err := runtime.Equal(e, b); err == nil && eq {
				return runtime.Bool(true), true
			}
		}
		return runtime.Bool(false), true
	default:
		return nil, false
	}
}

// matchProducer consumes exactly one stack-producing unit ending at index
// end-1: either a single constant-producing instruction, or a BUILD_HASH n
// backed recursively by 2n constant producers. Returns the produced value
// and the index its unit starts at, or ok=false if end-1 is not a
// constant-foldable producer.
func matchProducer(p *il.Program, end int) (runtime.Value, int, bool) {
	if end <= 0 {
		return nil, 0, false
	}
	ins := p.Instructions[end-1]
	if v, ok := constValue(ins); ok {
		return v, end - 1, true
	}
	if ins.Op != il.OpBuildHash {
		return nil, 0, false
	}
	n := int(ins.A.Int)
	cursor := end - 1
	keys := make([]string, n)
	values := make(map[string]runtime.Value, n)
	type pair struct{ k, v runtime.Value }
	pairs := make([]pair, n)
	for j := n - 1; j >= 0; j-- {
		vVal, vStart, ok := matchProducer(p, cursor)
		if !ok {
			return nil, 0, false
		}
		cursor = vStart
		kVal, kStart, ok := matchProducer(p, cursor)
		if !ok {
			return nil, 0, false
		}
		cursor = kStart
		pairs[j] = pair{kVal, vVal}
	}
	for j := 0; j < n; j++ {
		k := runtime.Format(pairs[j].k)
		keys[j] = k
		values[k] = pairs[j].v
	}
	return runtime.NewHash(keys, values), cursor, true
}
