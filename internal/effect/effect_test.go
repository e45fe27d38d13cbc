package effect

import (
	"testing"

	"liquidil/internal/il"
)

func TestClassifyConstIsHoistable(t *testing.T) {
	recs := Analyze([]il.Instruction{{Op: il.OpConstInt, A: il.Int(1)}})
	if !recs[0].Hoistable() {
		t.Fatal("CONST_INT should be hoistable")
	}
}

func TestClassifyFindVarReadsScopeNotHoistable(t *testing.T) {
	recs := Analyze([]il.Instruction{{Op: il.OpFindVar, A: il.Symbol("x")}})
	if recs[0].Hoistable() {
		t.Fatal("FIND_VAR reads scope, must not be hoistable")
	}
	if !recs[0].ReadsVars["x"] {
		t.Fatal("expected FIND_VAR to record reads_vars[x]")
	}
}

func TestBarrierOpcodes(t *testing.T) {
	barrierOps := []il.OpCode{
		il.OpFindVarDynamic, il.OpRenderPartial, il.OpIncludePartial,
		il.OpConstRender, il.OpConstInclude, il.OpHalt, il.OpPushScope, il.OpPopScope,
	}
	for _, op := range barrierOps {
		recs := Analyze([]il.Instruction{{Op: op}})
		if !recs[0].Barrier {
			t.Fatalf("%s expected to be classified as a barrier", op)
		}
	}
}

func TestIfchangedCheckIsNonBarrier(t *testing.T) {
	recs := Analyze([]il.Instruction{{Op: il.OpIfchangedCheck}})
	if recs[0].Barrier {
		t.Fatal("IFCHANGED_CHECK must not be a barrier")
	}
	if !recs[0].ReadsScope || !recs[0].WritesScope {
		t.Fatal("IFCHANGED_CHECK must read and write scope-like state")
	}
}

func TestCallFilterHasSideEffectsAndStackDelta(t *testing.T) {
	recs := Analyze([]il.Instruction{{Op: il.OpCallFilter, A: il.Symbol("upcase"), B: il.Int(2)}})
	if !recs[0].HasSideEffects {
		t.Fatal("CALL_FILTER must be side-effectful")
	}
	if recs[0].ReadsStack != 3 || recs[0].WritesStack != 1 {
		t.Fatalf("expected reads_stack=3 writes_stack=1, got %+v", recs[0])
	}
}

func TestUnknownOpcodeDefaultsConservative(t *testing.T) {
	recs := Analyze([]il.Instruction{{Op: il.OpCode(250)}})
	if !recs[0].Barrier || !recs[0].HasSideEffects {
		t.Fatal("unclassified opcode must default to barrier+side-effects")
	}
}

func TestWritesInRangeAndReadsInRange(t *testing.T) {
	recs := Analyze([]il.Instruction{
		{Op: il.OpFindVar, A: il.Symbol("x")},
		{Op: il.OpAssign, A: il.Symbol("y")},
		{Op: il.OpAssign, A: il.Symbol("z")},
	})
	if !ReadsInRange(recs, 0, 2, "x") {
		t.Fatal("expected x to be read in range")
	}
	if !WritesInRange(recs, 0, 2, "y") {
		t.Fatal("expected y to be written in range")
	}
	if WritesInRange(recs, 0, 0, "y") {
		t.Fatal("y is not written at index 0")
	}
}

func TestAnyBarrierAndSideEffectInRange(t *testing.T) {
	recs := Analyze([]il.Instruction{
		{Op: il.OpConstInt, A: il.Int(1)},
		{Op: il.OpHalt},
		{Op: il.OpWriteRaw, A: il.Str("x")},
	})
	if !AnyBarrierInRange(recs, 0, 1) {
		t.Fatal("expected a barrier in range due to HALT")
	}
	if AnyBarrierInRange(recs, 0, 0) {
		t.Fatal("CONST_INT alone is not a barrier")
	}
	if !AnySideEffectInRange(recs, 0, 2) {
		t.Fatal("WRITE_RAW is side-effectful, expected true over full range")
	}
	if AnySideEffectInRange(recs, 0, 1) {
		t.Fatal("CONST_INT and HALT alone have no side effects")
	}
}
