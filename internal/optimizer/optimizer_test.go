package optimizer

import (
	"testing"

	"liquidil/internal/effect"
	"liquidil/internal/filters"
	"liquidil/internal/il"
)

func spans(n int) []il.Span {
	s := make([]il.Span, n)
	for i := range s {
		s[i] = il.Span{Start: i, End: i + 1}
	}
	return s
}

func newProgram(instrs ...il.Instruction) *il.Program {
	return &il.Program{Instructions: instrs, Spans: spans(len(instrs))}
}

func eff(p *il.Program) []effect.Record {
	return effect.Analyze(p.Instructions)
}

func TestFoldConstOpsIsTruthy(t *testing.T) {
	p := newProgram(
		il.Instruction{Op: il.OpConstInt, A: il.Int(5)},
		il.Instruction{Op: il.OpIsTruthy},
		il.Instruction{Op: il.OpHalt},
	)
	foldConstOps(p, eff(p))
	if p.Instructions[0].Op != il.OpConstTrue {
		t.Fatalf("expected CONST_TRUE, got %s", p.Instructions[0].Op)
	}
	if p.Len() != 2 {
		t.Fatalf("expected 2 instructions after fold, got %d", p.Len())
	}
}

func TestFoldConstOpsJumpIfFalseTruthy(t *testing.T) {
	p := newProgram(
		il.Instruction{Op: il.OpConstTrue},
		il.Instruction{Op: il.OpJumpIfFalse, A: il.Int(1)},
		il.Instruction{Op: il.OpHalt},
	)
	foldConstOps(p, eff(p))
	if p.Len() != 1 || p.Instructions[0].Op != il.OpHalt {
		t.Fatalf("expected both instructions dropped, leaving HALT, got %+v", p.Instructions)
	}
}

func TestFoldConstOpsJumpIfFalseFalsyBecomesJump(t *testing.T) {
	p := newProgram(
		il.Instruction{Op: il.OpConstFalse},
		il.Instruction{Op: il.OpJumpIfFalse, A: il.Int(7)},
		il.Instruction{Op: il.OpHalt},
	)
	foldConstOps(p, eff(p))
	if p.Instructions[0].Op != il.OpJump || p.Instructions[0].A.Int != 7 {
		t.Fatalf("expected unconditional JUMP 7, got %+v", p.Instructions[0])
	}
}

func TestFoldConstOpsCompare(t *testing.T) {
	p := newProgram(
		il.Instruction{Op: il.OpConstInt, A: il.Int(3)},
		il.Instruction{Op: il.OpConstInt, A: il.Int(5)},
		il.Instruction{Op: il.OpCompare, A: il.Cmp(il.CmpLt)},
	)
	foldConstOps(p, eff(p))
	if p.Len() != 1 || p.Instructions[0].Op != il.OpConstTrue {
		t.Fatalf("expected folded CONST_TRUE for 3<5, got %+v", p.Instructions)
	}
}

func TestFoldConstOpsCompareTypeMismatchBailsOut(t *testing.T) {
	p := newProgram(
		il.Instruction{Op: il.OpConstInt, A: il.Int(3)},
		il.Instruction{Op: il.OpConstString, A: il.Str("x")},
		il.Instruction{Op: il.OpCompare, A: il.Cmp(il.CmpLt)},
	)
	foldConstOps(p, eff(p))
	if p.Len() != 3 {
		t.Fatalf("expected no fold on type mismatch, got %+v", p.Instructions)
	}
}

func TestFoldConstWrites(t *testing.T) {
	p := newProgram(
		il.Instruction{Op: il.OpConstInt, A: il.Int(42)},
		il.Instruction{Op: il.OpWriteValue},
	)
	foldConstWrites(p, eff(p))
	if p.Len() != 1 || p.Instructions[0].Op != il.OpWriteRaw || p.Instructions[0].A.Str != "42" {
		t.Fatalf("expected WRITE_RAW \"42\", got %+v", p.Instructions)
	}
}

func TestCollapseConstPaths(t *testing.T) {
	p := newProgram(
		il.Instruction{Op: il.OpLookupConstKey, A: il.Str("a")},
		il.Instruction{Op: il.OpLookupConstKey, A: il.Str("b")},
		il.Instruction{Op: il.OpLookupConstKey, A: il.Str("c")},
	)
	collapseConstPaths(p, eff(p))
	if p.Len() != 1 || p.Instructions[0].Op != il.OpLookupConstPath {
		t.Fatalf("expected single LOOKUP_CONST_PATH, got %+v", p.Instructions)
	}
	if len(p.Instructions[0].A.Path) != 3 {
		t.Fatalf("expected path of length 3, got %v", p.Instructions[0].A.Path)
	}
}

func TestCollapseFindVarPaths(t *testing.T) {
	p := newProgram(
		il.Instruction{Op: il.OpFindVar, A: il.Symbol("user")},
		il.Instruction{Op: il.OpLookupConstPath, A: il.Path([]string{"name"})},
	)
	collapseFindVarPaths(p, eff(p))
	if p.Len() != 1 || p.Instructions[0].Op != il.OpFindVarPath {
		t.Fatalf("expected FIND_VAR_PATH, got %+v", p.Instructions)
	}
}

func TestRemoveRedundantIsTruthy(t *testing.T) {
	p := newProgram(
		il.Instruction{Op: il.OpConstInt, A: il.Int(1)},
		il.Instruction{Op: il.OpConstInt, A: il.Int(1)},
		il.Instruction{Op: il.OpCompare, A: il.Cmp(il.CmpEq)},
		il.Instruction{Op: il.OpIsTruthy},
	)
	removeRedundantIsTruthy(p, eff(p))
	if p.Len() != 3 {
		t.Fatalf("expected IS_TRUTHY removed after COMPARE, got %+v", p.Instructions)
	}
}

func TestRemoveNoops(t *testing.T) {
	p := newProgram(il.Instruction{Op: il.OpNoop}, il.Instruction{Op: il.OpHalt})
	removeNoops(p, eff(p))
	if p.Len() != 1 || p.Instructions[0].Op != il.OpHalt {
		t.Fatalf("expected NOOP removed, got %+v", p.Instructions)
	}
}

func TestRemoveJumpToNextLabel(t *testing.T) {
	p := newProgram(
		il.Instruction{Op: il.OpJump, A: il.Int(1)},
		il.Instruction{Op: il.OpLabel, A: il.Int(1)},
	)
	removeJumpToNextLabel(p, eff(p))
	if p.Len() != 1 || p.Instructions[0].Op != il.OpLabel {
		t.Fatalf("expected JUMP removed, got %+v", p.Instructions)
	}
}

func TestMergeRawWrites(t *testing.T) {
	p := newProgram(
		il.Instruction{Op: il.OpWriteRaw, A: il.Str("foo")},
		il.Instruction{Op: il.OpWriteRaw, A: il.Str("bar")},
	)
	mergeRawWrites(p, eff(p))
	if p.Len() != 1 || p.Instructions[0].A.Str != "foobar" {
		t.Fatalf("expected merged \"foobar\", got %+v", p.Instructions)
	}
}

func TestRemoveUnreachable(t *testing.T) {
	p := newProgram(
		il.Instruction{Op: il.OpJump, A: il.Int(1)},
		il.Instruction{Op: il.OpWriteRaw, A: il.Str("dead")},
		il.Instruction{Op: il.OpLabel, A: il.Int(1)},
		il.Instruction{Op: il.OpHalt},
	)
	removeUnreachable(p, eff(p))
	if p.Len() != 3 {
		t.Fatalf("expected dead WRITE_RAW removed, got %+v", p.Instructions)
	}
	if p.Instructions[1].Op != il.OpLabel {
		t.Fatalf("expected LABEL to survive, got %+v", p.Instructions)
	}
}

func TestFoldConstCaptures(t *testing.T) {
	p := newProgram(
		il.Instruction{Op: il.OpPushCapture},
		il.Instruction{Op: il.OpWriteRaw, A: il.Str("hello ")},
		il.Instruction{Op: il.OpWriteRaw, A: il.Str("world")},
		il.Instruction{Op: il.OpPopCapture},
		il.Instruction{Op: il.OpAssign, A: il.Symbol("greeting")},
	)
	foldConstCaptures(p, eff(p))
	if p.Instructions[0].Op != il.OpConstString || p.Instructions[0].A.Str != "hello world" {
		t.Fatalf("expected folded CONST_STRING, got %+v", p.Instructions)
	}
	if p.Instructions[1].Op != il.OpAssign {
		t.Fatalf("expected ASSIGN to remain after fold, got %+v", p.Instructions)
	}
}

func TestFoldConstCapturesBailsOnNonRawBody(t *testing.T) {
	p := newProgram(
		il.Instruction{Op: il.OpPushCapture},
		il.Instruction{Op: il.OpFindVar, A: il.Symbol("x")},
		il.Instruction{Op: il.OpWriteValue},
		il.Instruction{Op: il.OpPopCapture},
		il.Instruction{Op: il.OpAssign, A: il.Symbol("y")},
	)
	before := p.Len()
	foldConstCaptures(p, eff(p))
	if p.Len() != before {
		t.Fatalf("expected no fold when body reads a variable, got %+v", p.Instructions)
	}
}

func TestRemoveEmptyRawWrites(t *testing.T) {
	p := newProgram(
		il.Instruction{Op: il.OpWriteRaw, A: il.Str("")},
		il.Instruction{Op: il.OpHalt},
	)
	removeEmptyRawWrites(p, eff(p))
	if p.Len() != 1 || p.Instructions[0].Op != il.OpHalt {
		t.Fatalf("expected empty WRITE_RAW removed, got %+v", p.Instructions)
	}
}

func TestFoldConstFiltersUpcase(t *testing.T) {
	registry := filters.NewRegistry()
	p := newProgram(
		il.Instruction{Op: il.OpConstString, A: il.Str("abc")},
		il.Instruction{Op: il.OpCallFilter, A: il.Symbol("upcase"), B: il.Int(0)},
	)
	foldConstFilters(p, eff(p), registry)
	if p.Len() != 1 || p.Instructions[0].Op != il.OpConstString || p.Instructions[0].A.Str != "ABC" {
		t.Fatalf("expected folded CONST_STRING ABC, got %+v", p.Instructions)
	}
}

func TestFoldConstFiltersSkipsNonWhitelisted(t *testing.T) {
	registry := filters.NewRegistry()
	p := newProgram(
		il.Instruction{Op: il.OpConstString, A: il.Str("now")},
		il.Instruction{Op: il.OpCallFilter, A: il.Symbol("date"), B: il.Int(0)},
	)
	before := p.Len()
	foldConstFilters(p, eff(p), registry)
	if p.Len() != before {
		t.Fatalf("expected no fold for non-whitelisted filter date, got %+v", p.Instructions)
	}
}

func TestOptimizeFullPipelineLinksProgram(t *testing.T) {
	registry := filters.NewRegistry()
	p := newProgram(
		il.Instruction{Op: il.OpConstInt, A: il.Int(1)},
		il.Instruction{Op: il.OpWriteValue},
		il.Instruction{Op: il.OpWriteRaw, A: il.Str("")},
		il.Instruction{Op: il.OpHalt},
	)
	if err := Optimize(p, registry); err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}
	if !p.Linked {
		t.Fatal("expected program to be linked after Optimize")
	}
	if p.Len() != 2 {
		t.Fatalf("expected CONST+WRITE_VALUE folded to WRITE_RAW \"1\" and empty write removed, got %+v", p.Instructions)
	}
}
