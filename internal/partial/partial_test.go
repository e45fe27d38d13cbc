package partial

import (
	"fmt"
	"testing"

	"liquidil/internal/il"
)

type mapLoader map[string]string

func (m mapLoader) Read(name string) (string, error) {
	src, ok := m[name]
	if !ok {
		return "", fmt.Errorf("no such partial %q", name)
	}
	return src, nil
}

func TestLowerConstPartialsRewritesOpcode(t *testing.T) {
	p := &il.Program{
		Instructions: []il.Instruction{{Op: il.OpConstRender, A: il.Symbol("header")}},
		Spans:        []il.Span{{}},
	}
	LowerConstPartials(p, Options{})
	if p.Instructions[0].Op != il.OpRenderPartial {
		t.Fatalf("expected CONST_RENDER lowered to RENDER_PARTIAL, got %s", p.Instructions[0].Op)
	}
}

func TestLowerConstPartialsAttachesCompiledBundleWhenEnabled(t *testing.T) {
	loader := mapLoader{"header": "Hi"}
	compileCalls := 0
	compile := func(source string) (*il.Program, error) {
		compileCalls++
		return &il.Program{Instructions: []il.Instruction{{Op: il.OpWriteRaw, A: il.Str(source)}}, Spans: []il.Span{{}}}, nil
	}
	p := &il.Program{
		Instructions: []il.Instruction{{Op: il.OpConstInclude, A: il.Symbol("header")}},
		Spans:        []il.Span{{}},
	}
	LowerConstPartials(p, Options{
		InlinePartials: true,
		Loader:         loader,
		Cache:          NewInlineCache(),
		Stack:          &Stack{},
		Compile:        compile,
	})
	if p.Instructions[0].Op != il.OpIncludePartial {
		t.Fatalf("expected lowered to INCLUDE_PARTIAL, got %s", p.Instructions[0].Op)
	}
	if !p.Instructions[0].B.HasCompiledTemplate() {
		t.Fatal("expected __compiled_template__ arg attached")
	}
	if compileCalls != 1 {
		t.Fatalf("expected compile called once, got %d", compileCalls)
	}
}

func TestLowerConstPartialsSwallowsLoaderFailure(t *testing.T) {
	p := &il.Program{
		Instructions: []il.Instruction{{Op: il.OpConstRender, A: il.Symbol("missing")}},
		Spans:        []il.Span{{}},
	}
	LowerConstPartials(p, Options{
		InlinePartials: true,
		Loader:         mapLoader{},
		Cache:          NewInlineCache(),
		Stack:          &Stack{},
		Compile: func(source string) (*il.Program, error) {
			return &il.Program{}, nil
		},
	})
	if p.Instructions[0].Op != il.OpRenderPartial {
		t.Fatal("expected opcode still lowered even on loader failure")
	}
	if p.Instructions[0].B.HasCompiledTemplate() {
		t.Fatal("expected no compiled bundle attached on loader failure")
	}
}

func TestLowerConstPartialsSkipsRecursiveName(t *testing.T) {
	stack := &Stack{}
	stack.Push("self")
	compileCalls := 0
	p := &il.Program{
		Instructions: []il.Instruction{{Op: il.OpConstRender, A: il.Symbol("self")}},
		Spans:        []il.Span{{}},
	}
	LowerConstPartials(p, Options{
		InlinePartials: true,
		Loader:         mapLoader{"self": "x"},
		Cache:          NewInlineCache(),
		Stack:          stack,
		Compile: func(source string) (*il.Program, error) {
			compileCalls++
			return &il.Program{}, nil
		},
	})
	if compileCalls != 0 {
		t.Fatal("expected recursive self-reference to skip compilation")
	}
	if p.Instructions[0].B.HasCompiledTemplate() {
		t.Fatal("expected no compiled bundle attached for recursive reference")
	}
}

func TestInlineCacheCompileOnceIsCalledOnceForRepeatedName(t *testing.T) {
	cache := NewInlineCache()
	calls := 0
	compile := func(source string) (*il.Program, error) {
		calls++
		return &il.Program{}, nil
	}
	loader := mapLoader{"x": "src"}
	if _, err := cache.CompileOnce("x", loader, compile); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.CompileOnce("x", loader, compile); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("expected compile invoked exactly once, got %d", calls)
	}
}

func TestStackContainsAndPushPop(t *testing.T) {
	s := &Stack{}
	if s.Contains("a") {
		t.Fatal("expected empty stack to not contain a")
	}
	s.Push("a")
	if !s.Contains("a") {
		t.Fatal("expected stack to contain a after push")
	}
	s.Pop()
	if s.Contains("a") {
		t.Fatal("expected stack empty after pop")
	}
}
