package compiler

import (
	"testing"

	"liquidil/internal/filters"
	"liquidil/internal/runtime"
	"liquidil/internal/vm"
)

func render(t *testing.T, source string, opts Options, scope *runtime.Scope) string {
	t.Helper()
	prog, err := Compile(source, opts)
	if err != nil {
		t.Fatalf("Compile(%q) returned error: %v", source, err)
	}
	if !prog.Linked {
		t.Fatalf("Compile(%q) returned an unlinked program", source)
	}
	machine, err := vm.New(prog, scope, opts.Filters, nil)
	if err != nil {
		t.Fatalf("vm.New returned error: %v", err)
	}
	out, err := machine.Run()
	if err != nil {
		t.Fatalf("Run(%q) returned error: %v", source, err)
	}
	return out
}

func TestCompileRendersPlainText(t *testing.T) {
	out := render(t, "hello world", Options{Optimize: true}, runtime.NewScope(nil))
	if out != "hello world" {
		t.Fatalf("got %q", out)
	}
}

func TestCompileRendersVariableOutput(t *testing.T) {
	scope := runtime.NewScope(nil)
	scope.Assign("name", runtime.String("Ada"))
	out := render(t, "hi {{ name }}!", Options{Optimize: true}, scope)
	if out != "hi Ada!" {
		t.Fatalf("got %q", out)
	}
}

func TestCompileRendersFilterChain(t *testing.T) {
	registry := filters.NewRegistry()
	scope := runtime.NewScope(nil)
	scope.Assign("name", runtime.String("ada"))
	out := render(t, "{{ name | upcase }}", Options{Optimize: true, Filters: registry}, scope)
	if out != "ADA" {
		t.Fatalf("got %q", out)
	}
}

func TestCompileRendersIfElse(t *testing.T) {
	scope := runtime.NewScope(nil)
	scope.Assign("flag", runtime.Bool(false))
	out := render(t, "{% if flag %}yes{% else %}no{% endif %}", Options{Optimize: true}, scope)
	if out != "no" {
		t.Fatalf("got %q", out)
	}
}

func TestCompileRendersForLoop(t *testing.T) {
	scope := runtime.NewScope(nil)
	scope.Assign("items", runtime.Array{runtime.Int(1), runtime.Int(2), runtime.Int(3)})
	out := render(t, "{% for i in items %}{{ i }},{% endfor %}", Options{Optimize: true}, scope)
	if out != "1,2,3," {
		t.Fatalf("got %q", out)
	}
}

func TestCompileWithoutOptimizeStillLinks(t *testing.T) {
	prog, err := Compile("{{ a.b }}", Options{Optimize: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !prog.Linked {
		t.Fatal("expected Compile to link even when Optimize is false")
	}
}

func TestCompileSyntaxErrorPropagates(t *testing.T) {
	_, err := Compile("{{ (1 }}", Options{Optimize: true})
	if err == nil {
		t.Fatal("expected a parse error for an unclosed group")
	}
}
