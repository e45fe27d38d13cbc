package vm

import (
	"strconv"

	"github.com/pkg/errors"

	"liquidil/internal/il"
	"liquidil/internal/runtime"
)

// forFrame tracks one active {% for %} loop's iteration state. The VM has
// no native host loop to lean on (that's lowering's job), so FOR_INIT,
// PUSH_FORLOOP and FOR_NEXT cooperate explicitly through this frame.
type forFrame struct {
	varName string
	items   []runtime.Value
	idx     int
}

// tableFrame is forFrame's analogue for {% tablerow %}; spec.md is silent
// on tablerow's exact wire shape, so the row/col HTML wrapper convention
// below is an original design decision (see DESIGN.md).
type tableFrame struct {
	varName string
	items   []runtime.Value
	cols    int
	idx     int
}

// buildLoopTables scans instrs once, matching every FOR_INIT/TABLEROW_INIT
// with its balanced FOR_END/TABLEROW_END by depth-counting nested loops of
// the same kind, mirroring lowering's matchForEnd scan.
func buildLoopTables(instrs []il.Instruction) (forTable, tableTable map[int]int, err error) {
	forTable = make(map[int]int)
	tableTable = make(map[int]int)
	var forStack, tableStack []int
	for i, ins := range instrs {
		switch ins.Op {
		case il.OpForInit:
			forStack = append(forStack, i)
		case il.OpForEnd:
			if len(forStack) == 0 {
				return nil, nil, errors.New("unmatched FOR_END")
			}
			start := forStack[len(forStack)-1]
			forStack = forStack[:len(forStack)-1]
			forTable[start] = i
		case il.OpTablerowInit:
			tableStack = append(tableStack, i)
		case il.OpTablerowEnd:
			if len(tableStack) == 0 {
				return nil, nil, errors.New("unmatched TABLEROW_END")
			}
			start := tableStack[len(tableStack)-1]
			tableStack = tableStack[:len(tableStack)-1]
			tableTable[start] = i
		}
	}
	if len(forStack) != 0 {
		return nil, nil, errors.New("unmatched FOR_INIT")
	}
	if len(tableStack) != 0 {
		return nil, nil, errors.New("unmatched TABLEROW_INIT")
	}
	return forTable, tableTable, nil
}

// execForInit implements FOR_INIT var name reversed: pop the collection,
// and either skip straight past the loop (empty collection) or set up a
// frame and fall through into PUSH_FORLOOP.
func (v *VM) execForInit(ip int, ins il.Instruction) (int, bool, error) {
	end, ok := v.forTable[ip]
	if !ok {
		return 0, false, errors.Errorf("FOR_INIT at %d has no matching FOR_END", ip)
	}
	coll := v.pop()
	items := toIterable(coll)
	if ins.C.Int != 0 {
		items = reverseValues(items)
	}
	if len(items) == 0 {
		return end + 1, false, nil
	}
	v.forFrames = append(v.forFrames, &forFrame{varName: ins.A.Str, items: items})
	v.scope.PushScope()
	v.scope.AssignLocal(ins.A.Str, items[0])
	return ip + 1, false, nil
}

// execPushForloop installs the `forloop` object for the current index and
// opens an interrupt slot for this iteration's break/continue signaling.
func (v *VM) execPushForloop(ip int) (int, bool, error) {
	f := v.currentForFrame()
	n := len(f.items)
	v.scope.PushForloop(runtime.Forloop{
		Index: int64(f.idx + 1), Index0: int64(f.idx), Length: int64(n),
		First: f.idx == 0, Last: f.idx == n-1,
		Rindex: int64(n - f.idx), Rindex0: int64(n - f.idx - 1),
	})
	v.scope.PushInterrupt(runtime.InterruptNone)
	return ip + 1, false, nil
}

// execForNext consumes the iteration's interrupt signal and either advances
// to the next item (jumping back to PUSH_FORLOOP) or exits the loop
// (jumping past FOR_END) on exhaustion or {% break %}.
func (v *VM) execForNext(ip int) (int, bool, error) {
	sig := v.scope.PopInterrupt()
	v.scope.PopForloop()
	f := v.currentForFrame()
	f.idx++
	if sig == runtime.InterruptBreak || f.idx >= len(f.items) {
		v.scope.PopScope()
		v.forFrames = v.forFrames[:len(v.forFrames)-1]
		end, ok := v.endForFrameTarget(ip)
		if !ok {
			return 0, false, errors.Errorf("FOR_NEXT at %d has no matching FOR_END", ip)
		}
		return end + 1, false, nil
	}
	v.scope.AssignLocal(f.varName, f.items[f.idx])
	start, ok := v.startForFrameTarget(ip)
	if !ok {
		return 0, false, errors.Errorf("FOR_NEXT at %d has no matching FOR_INIT", ip)
	}
	return start + 1, false, nil
}

func (v *VM) currentForFrame() *forFrame {
	return v.forFrames[len(v.forFrames)-1]
}

// endForFrameTarget and startForFrameTarget resolve FOR_NEXT's jump targets
// by scanning the precomputed table for the entry whose instruction range
// currently brackets ip — the frame itself only tracks iteration state, not
// instruction indices, so this keeps the lookup in one place.
func (v *VM) endForFrameTarget(ip int) (int, bool) {
	start, ok := v.nearestForStart(ip)
	if !ok {
		return 0, false
	}
	end, ok := v.forTable[start]
	return end, ok
}

func (v *VM) startForFrameTarget(ip int) (int, bool) {
	return v.nearestForStart(ip)
}

func (v *VM) nearestForStart(ip int) (int, bool) {
	best := -1
	for start, end := range v.forTable {
		if start < ip && ip <= end && start > best {
			best = start
		}
	}
	if best < 0 {
		return 0, false
	}
	return best, true
}

func toIterable(val runtime.Value) []runtime.Value {
	switch t := val.(type) {
	case runtime.Array:
		return append([]runtime.Value(nil), t...)
	case runtime.Range:
		if t.Start > t.End {
			return nil
		}
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
	for i, vv := range vs {
		out[len(vs)-1-i] = vv
	}
	return out
}

// execTablerowInit implements TABLEROW_INIT var name cols: A=Symbol(var),
// C=Int(cols). Row/col wrapper markup follows Liquid's conventional
// tablerow tag output (not specified in spec.md).
func (v *VM) execTablerowInit(ip int, ins il.Instruction) (int, bool, error) {
	end, ok := v.tablerowTable[ip]
	if !ok {
		return 0, false, errors.Errorf("TABLEROW_INIT at %d has no matching TABLEROW_END", ip)
	}
	coll := v.pop()
	items := toIterable(coll)
	cols := int(ins.C.Int)
	if cols <= 0 {
		cols = len(items)
	}
	if len(items) == 0 || cols == 0 {
		return end + 1, false, nil
	}
	v.tableFrames = append(v.tableFrames, &tableFrame{varName: ins.A.Str, items: items, cols: cols})
	v.scope.PushScope()
	v.scope.AssignLocal(ins.A.Str, items[0])
	v.emit(`<tr class="row1">`)
	v.emit(`<td class="col1">`)
	return ip + 1, false, nil
}

func (v *VM) execTablerowNext(ip int) (int, bool, error) {
	f := v.tableFrames[len(v.tableFrames)-1]
	v.emit(`</td>`)
	f.idx++
	if f.idx >= len(f.items) {
		v.emit(`</tr>`)
		v.scope.PopScope()
		v.tableFrames = v.tableFrames[:len(v.tableFrames)-1]
		start := v.nearestTableStart(ip)
		end := v.tablerowTable[start]
		return end + 1, false, nil
	}
	col := f.idx % f.cols
	if col == 0 {
		v.emit(`</tr>`)
		row := f.idx/f.cols + 1
		v.emit(`<tr class="row` + strconv.Itoa(row) + `">`)
	}
	v.emit(`<td class="col` + strconv.Itoa(col+1) + `">`)
	v.scope.AssignLocal(f.varName, f.items[f.idx])
	start := v.nearestTableStart(ip)
	return start + 1, false, nil
}

func (v *VM) nearestTableStart(ip int) int {
	best := -1
	for start, end := range v.tablerowTable {
		if start < ip && ip <= end && start > best {
			best = start
		}
	}
	return best
}

