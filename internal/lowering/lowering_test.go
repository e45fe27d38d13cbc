package lowering

import (
	"testing"

	"liquidil/internal/filters"
	"liquidil/internal/il"
	"liquidil/internal/runtime"
)

func spans(n int) []il.Span {
	s := make([]il.Span, n)
	return s
}

func linked(instrs []il.Instruction) *il.Program {
	p := &il.Program{Instructions: instrs, Spans: spans(len(instrs))}
	if err := il.Link(p); err != nil {
		panic(err)
	}
	return p
}

func render(t *testing.T, p *il.Program) string {
	t.Helper()
	c, err := Lower(p)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	scope := runtime.NewScope(nil)
	out, err := c.Render(scope, filters.NewRegistry(), p.Spans, "")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	return out
}

func TestCanLowerRejectsGatedOpcodes(t *testing.T) {
	if !CanLower([]il.Instruction{{Op: il.OpWriteRaw, A: il.Str("hi")}}) {
		t.Fatal("expected plain WRITE_RAW program to be lowerable")
	}
	if CanLower([]il.Instruction{{Op: il.OpRenderPartial, A: il.Symbol("x")}}) {
		t.Fatal("expected RENDER_PARTIAL to gate lowering")
	}
	if CanLower([]il.Instruction{{Op: il.OpPushInterrupt}}) {
		t.Fatal("expected PUSH_INTERRUPT to gate lowering")
	}
}

func TestLowerWriteRaw(t *testing.T) {
	p := linked([]il.Instruction{
		{Op: il.OpWriteRaw, A: il.Str("yes")},
		{Op: il.OpHalt},
	})
	if got := render(t, p); got != "yes" {
		t.Fatalf("got %q, want %q", got, "yes")
	}
}

func TestLowerIfElse(t *testing.T) {
	// {% if true %}yes{% else %}no{% endif %}
	raw := []il.Instruction{
		{Op: il.OpConstTrue},
		{Op: il.OpJumpIfFalse, A: il.Int(100)}, // label 100 = else branch
		{Op: il.OpWriteRaw, A: il.Str("yes")},
		{Op: il.OpJump, A: il.Int(101)}, // label 101 = end
		{Op: il.OpLabel, A: il.Int(100)},
		{Op: il.OpWriteRaw, A: il.Str("no")},
		{Op: il.OpLabel, A: il.Int(101)},
		{Op: il.OpHalt},
	}
	p := linked(raw)
	if got := render(t, p); got != "yes" {
		t.Fatalf("got %q, want %q", got, "yes")
	}
}

func TestLowerIfWithoutElse(t *testing.T) {
	raw := []il.Instruction{
		{Op: il.OpConstFalse},
		{Op: il.OpJumpIfFalse, A: il.Int(100)},
		{Op: il.OpWriteRaw, A: il.Str("shown")},
		{Op: il.OpLabel, A: il.Int(100)},
		{Op: il.OpWriteRaw, A: il.Str("after")},
		{Op: il.OpHalt},
	}
	p := linked(raw)
	if got := render(t, p); got != "after" {
		t.Fatalf("got %q, want %q", got, "after")
	}
}

func TestLowerForLoopOverRange(t *testing.T) {
	// {% for i in (1..3) %}{{ i }}{% endfor %}
	raw := []il.Instruction{
		{Op: il.OpConstInt, A: il.Int(1)},
		{Op: il.OpConstInt, A: il.Int(3)},
		{Op: il.OpNewRange},
		{Op: il.OpForInit, A: il.Symbol("i"), B: il.Str("i-range"), C: il.Int(0)},
		{Op: il.OpFindVar, A: il.Symbol("i")},
		{Op: il.OpWriteValue},
		{Op: il.OpForNext},
		{Op: il.OpForEnd},
		{Op: il.OpHalt},
	}
	p := linked(raw)
	if got := render(t, p); got != "123" {
		t.Fatalf("got %q, want %q", got, "123")
	}
}

func TestLowerForLoopReversed(t *testing.T) {
	raw := []il.Instruction{
		{Op: il.OpConstInt, A: il.Int(1)},
		{Op: il.OpConstInt, A: il.Int(3)},
		{Op: il.OpNewRange},
		{Op: il.OpForInit, A: il.Symbol("i"), B: il.Str("i-range"), C: il.Int(1)},
		{Op: il.OpFindVar, A: il.Symbol("i")},
		{Op: il.OpWriteValue},
		{Op: il.OpForNext},
		{Op: il.OpForEnd},
		{Op: il.OpHalt},
	}
	p := linked(raw)
	if got := render(t, p); got != "321" {
		t.Fatalf("got %q, want %q", got, "321")
	}
}

func TestLowerAssignAndLookup(t *testing.T) {
	raw := []il.Instruction{
		{Op: il.OpConstInt, A: il.Int(7)},
		{Op: il.OpAssign, A: il.Symbol("x")},
		{Op: il.OpFindVar, A: il.Symbol("x")},
		{Op: il.OpWriteValue},
		{Op: il.OpHalt},
	}
	p := linked(raw)
	if got := render(t, p); got != "7" {
		t.Fatalf("got %q, want %q", got, "7")
	}
}

func TestLowerCapture(t *testing.T) {
	raw := []il.Instruction{
		{Op: il.OpPushCapture},
		{Op: il.OpWriteRaw, A: il.Str("captured")},
		{Op: il.OpPopCapture},
		{Op: il.OpAssignLocal, A: il.Symbol("c")},
		{Op: il.OpFindVar, A: il.Symbol("c")},
		{Op: il.OpWriteValue},
		{Op: il.OpHalt},
	}
	p := linked(raw)
	if got := render(t, p); got != "captured" {
		t.Fatalf("got %q, want %q", got, "captured")
	}
}

func TestLowerCallFilter(t *testing.T) {
	raw := []il.Instruction{
		{Op: il.OpConstString, A: il.Str("ok")},
		{Op: il.OpCallFilter, A: il.Symbol("upcase"), B: il.Int(0)},
		{Op: il.OpWriteValue},
		{Op: il.OpHalt},
	}
	p := linked(raw)
	if got := render(t, p); got != "OK" {
		t.Fatalf("got %q, want %q", got, "OK")
	}
}

func TestLowerShortCircuitAnd(t *testing.T) {
	// (1 < 2) and (2 < 3), followed by a write.
	raw := []il.Instruction{
		{Op: il.OpConstInt, A: il.Int(1)},
		{Op: il.OpConstInt, A: il.Int(2)},
		{Op: il.OpCompare, A: il.Cmp(il.CmpLt)},
		{Op: il.OpJumpIfFalse, A: il.Int(100)}, // short-circuit sentinel
		{Op: il.OpConstInt, A: il.Int(2)},
		{Op: il.OpConstInt, A: il.Int(3)},
		{Op: il.OpCompare, A: il.Cmp(il.CmpLt)},
		{Op: il.OpJump, A: il.Int(101)},
		{Op: il.OpLabel, A: il.Int(100)},
		{Op: il.OpConstFalse},
		{Op: il.OpLabel, A: il.Int(101)},
		{Op: il.OpWriteValue},
		{Op: il.OpHalt},
	}
	p := linked(raw)
	if got := render(t, p); got != "true" {
		t.Fatalf("got %q, want %q", got, "true")
	}
}

func TestLowerGatedProgramReturnsErrGated(t *testing.T) {
	p := linked([]il.Instruction{
		{Op: il.OpRenderPartial, A: il.Symbol("header"), B: il.Args(nil)},
		{Op: il.OpHalt},
	})
	if _, err := Lower(p); err != ErrGated {
		t.Fatalf("expected ErrGated, got %v", err)
	}
}

func TestLowerRefusesUnlinkedProgram(t *testing.T) {
	p := &il.Program{
		Instructions: []il.Instruction{{Op: il.OpHalt}},
		Spans:        spans(1),
	}
	if _, err := Lower(p); err == nil {
		t.Fatal("expected error for unlinked program")
	}
}

func TestProfilerPromotesAfterThreshold(t *testing.T) {
	p := linked([]il.Instruction{
		{Op: il.OpWriteRaw, A: il.Str("hi")},
		{Op: il.OpHalt},
	})
	prof := NewProfiler(3)
	for i := 0; i < 2; i++ {
		if tier := prof.RecordCall(p); tier != TierInterpreted {
			t.Fatalf("call %d: expected TierInterpreted, got %v", i, tier)
		}
	}
	if tier := prof.RecordCall(p); tier != TierLowered {
		t.Fatalf("expected promotion to TierLowered on reaching threshold, got %v", tier)
	}
	if _, ok := prof.Compiled(p); !ok {
		t.Fatal("expected a cached Compiled result after promotion")
	}
	if tier := prof.RecordCall(p); tier != TierLowered {
		t.Fatalf("expected tier to stay lowered, got %v", tier)
	}
}

func TestProfilerSticksToVMOnlyWhenGated(t *testing.T) {
	p := linked([]il.Instruction{
		{Op: il.OpRenderPartial, A: il.Symbol("x"), B: il.Args(nil)},
		{Op: il.OpHalt},
	})
	prof := NewProfiler(1)
	if tier := prof.RecordCall(p); tier != TierVMOnly {
		t.Fatalf("expected TierVMOnly for gated program, got %v", tier)
	}
	if tier := prof.RecordCall(p); tier != TierVMOnly {
		t.Fatalf("expected tier to stay VMOnly, got %v", tier)
	}
}
