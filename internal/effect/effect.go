// Package effect computes per-instruction read/write/side-effect/barrier
// facts used by the optimizer to decide which transforms are safe.
package effect

import "liquidil/internal/il"

// ControlFlow classifies an instruction's effect on the instruction
// pointer.
type ControlFlow uint8

const (
	FlowNone ControlFlow = iota
	FlowLabel
	FlowJump
	FlowCondJump
	FlowLoopInit
	FlowLoopNext
	FlowLoopEnd
	FlowHalt
)

// Record is the effect record for a single instruction, exactly matching
// spec.md §3's "Effect record" shape. Variable names are tracked as sets
// keyed by the literal operand string (dynamic accesses are conservatively
// treated as touching no statically-known name but still barrier).
type Record struct {
	ReadsVars       map[string]bool
	WritesVars      map[string]bool
	ReadsStack      int
	WritesStack     int
	ReadsScope      bool
	WritesScope     bool
	ProducesOutput  bool
	ControlFlow     ControlFlow
	HasSideEffects  bool
	Barrier         bool
}

// Pure reports the derived "pure" predicate: no side effects, no output,
// no variable writes, no scope writes, not a barrier.
func (r Record) Pure() bool {
	return !r.HasSideEffects && !r.ProducesOutput && len(r.WritesVars) == 0 && !r.WritesScope && !r.Barrier
}

// Hoistable reports the derived "hoistable" predicate: pure, does not read
// scope, and has no control-flow effect.
func (r Record) Hoistable() bool {
	return r.Pure() && !r.ReadsScope && r.ControlFlow == FlowNone
}

func set1(name string) map[string]bool {
	if name == "" {
		return nil
	}
	return map[string]bool{name: true}
}

// Analyze derives one effect record per instruction. It is stateless: each
// record depends only on the instruction at that index, never on its
// neighbors. Any opcode not explicitly classified below gets the
// conservative default (barrier=true, has_side_effects=true), per spec §4.2.
func Analyze(instrs []il.Instruction) []Record {
	out := make([]Record, len(instrs))
	for i, ins := range instrs {
		out[i] = classify(ins)
	}
	return out
}

func classify(ins il.Instruction) Record {
	switch ins.Op {

	// Constants: pure, push one.
	case il.OpConstNil, il.OpConstTrue, il.OpConstFalse, il.OpConstInt, il.OpConstFloat,
		il.OpConstString, il.OpConstRange, il.OpConstEmpty, il.OpConstBlank:
		return Record{WritesStack: 1}

	// Variable access
	case il.OpFindVar:
		return Record{ReadsScope: true, WritesStack: 1, ReadsVars: set1(ins.A.Str)}
	case il.OpFindVarPath:
		return Record{ReadsScope: true, WritesStack: 1, ReadsVars: set1(ins.A.Str)}
	case il.OpFindVarDynamic:
		return Record{ReadsScope: true, ReadsStack: 1, WritesStack: 1, Barrier: true, HasSideEffects: true}
	case il.OpLookupKey:
		return Record{ReadsStack: 2, WritesStack: 1}
	case il.OpLookupConstKey, il.OpLookupConstPath, il.OpLookupCommand:
		return Record{ReadsStack: 1, WritesStack: 1}

	// Output
	case il.OpWriteRaw:
		return Record{ProducesOutput: true, HasSideEffects: true}
	case il.OpWriteValue:
		return Record{ReadsStack: 1, ProducesOutput: true, HasSideEffects: true}
	case il.OpWriteVar:
		return Record{ReadsScope: true, ProducesOutput: true, HasSideEffects: true, ReadsVars: set1(ins.A.Str)}
	case il.OpWriteVarPath:
		return Record{ReadsScope: true, ProducesOutput: true, HasSideEffects: true, ReadsVars: set1(ins.A.Str)}

	// Arithmetic / logic on the stack: pure
	case il.OpCompare, il.OpCaseCompare, il.OpContains:
		return Record{ReadsStack: 2, WritesStack: 1}
	case il.OpBoolNot, il.OpIsTruthy:
		return Record{ReadsStack: 1, WritesStack: 1}
	case il.OpNewRange:
		return Record{ReadsStack: 2, WritesStack: 1}

	// Filters: side-effectful (may touch global/runtime state), stack
	// delta is -(argc).
	case il.OpCallFilter:
		argc := int(ins.B.Int)
		return Record{ReadsStack: argc + 1, WritesStack: 1, HasSideEffects: true}

	// Control flow
	case il.OpLabel:
		return Record{ControlFlow: FlowLabel}
	case il.OpJump:
		return Record{ControlFlow: FlowJump}
	case il.OpJumpIfFalse, il.OpJumpIfTrue:
		return Record{ReadsStack: 1, ControlFlow: FlowCondJump}
	case il.OpJumpIfEmpty:
		return Record{ReadsStack: 1, ControlFlow: FlowCondJump}
	case il.OpJumpIfInterrupt:
		return Record{ControlFlow: FlowCondJump, ReadsScope: true}
	case il.OpHalt:
		return Record{ControlFlow: FlowHalt, Barrier: true}

	// Scope / state
	case il.OpPushScope:
		return Record{WritesScope: true, Barrier: true}
	case il.OpPopScope:
		return Record{WritesScope: true, Barrier: true}
	case il.OpAssign:
		return Record{ReadsStack: 1, WritesScope: true, WritesVars: set1(ins.A.Str)}
	case il.OpAssignLocal:
		return Record{ReadsStack: 1, WritesScope: true, WritesVars: set1(ins.A.Str)}
	case il.OpIncrement, il.OpDecrement:
		return Record{WritesScope: true, WritesStack: 1, WritesVars: set1(ins.A.Str)}
	case il.OpPushCapture:
		return Record{WritesScope: true}
	case il.OpPopCapture:
		return Record{ReadsScope: true, WritesScope: true, WritesVars: set1(ins.A.Str)}
	case il.OpPushInterrupt, il.OpPopInterrupt:
		return Record{WritesScope: true}
	case il.OpStoreTemp:
		return Record{ReadsStack: 1}
	case il.OpLoadTemp:
		return Record{WritesStack: 1}
	case il.OpDup:
		return Record{ReadsStack: 1, WritesStack: 2}
	case il.OpPop:
		return Record{ReadsStack: 1}
	case il.OpBuildHash:
		n := int(ins.A.Int)
		return Record{ReadsStack: 2 * n, WritesStack: 1}
	case il.OpIfchangedCheck:
		// reads and writes scope-like state; explicitly non-barrier per spec.
		return Record{ReadsScope: true, WritesScope: true, ReadsStack: 1, ControlFlow: FlowCondJump}

	// Loops
	case il.OpForInit:
		return Record{ReadsStack: 2, WritesScope: true, ControlFlow: FlowLoopInit}
	case il.OpForNext:
		return Record{WritesScope: true, ControlFlow: FlowLoopNext}
	case il.OpForEnd:
		return Record{WritesScope: true, ControlFlow: FlowLoopEnd}
	case il.OpPushForloop, il.OpPopForloop:
		return Record{WritesScope: true}
	case il.OpTablerowInit:
		return Record{ReadsStack: 2, WritesScope: true, ProducesOutput: true, HasSideEffects: true, ControlFlow: FlowLoopInit}
	case il.OpTablerowNext:
		return Record{WritesScope: true, ProducesOutput: true, HasSideEffects: true, ControlFlow: FlowLoopNext}
	case il.OpTablerowEnd:
		return Record{WritesScope: true, ProducesOutput: true, HasSideEffects: true, ControlFlow: FlowLoopEnd}

	// Cycle
	case il.OpCycleStep, il.OpCycleStepVar:
		return Record{ReadsScope: true, WritesScope: true, ProducesOutput: true, HasSideEffects: true}

	// Partials: barrier
	case il.OpRenderPartial, il.OpIncludePartial, il.OpConstRender, il.OpConstInclude:
		return Record{ReadsScope: true, ProducesOutput: true, HasSideEffects: true, Barrier: true}

	case il.OpNoop:
		return Record{}

	default:
		// Conservative default for any unclassified opcode.
		return Record{HasSideEffects: true, Barrier: true}
	}
}

// WritesInRange reports whether any instruction index in [start,end]
// (inclusive) writes the given variable name.
func WritesInRange(recs []Record, start, end int, name string) bool {
	for i := start; i <= end && i < len(recs); i++ {
		if recs[i].WritesVars[name] {
			return true
		}
	}
	return false
}

// ReadsInRange reports whether any instruction index in [start,end]
// (inclusive) reads the given variable name.
func ReadsInRange(recs []Record, start, end int, name string) bool {
	for i := start; i <= end && i < len(recs); i++ {
		if recs[i].ReadsVars[name] {
			return true
		}
	}
	return false
}

// AnyBarrierInRange reports whether any instruction in [start,end]
// (inclusive) is a barrier.
func AnyBarrierInRange(recs []Record, start, end int) bool {
	for i := start; i <= end && i < len(recs); i++ {
		if recs[i].Barrier {
			return true
		}
	}
	return false
}

// AnySideEffectInRange reports whether any instruction in [start,end]
// (inclusive) has side effects.
func AnySideEffectInRange(recs []Record, start, end int) bool {
	for i := start; i <= end && i < len(recs); i++ {
		if recs[i].HasSideEffects {
			return true
		}
	}
	return false
}
