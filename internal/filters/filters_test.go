package filters

import (
	"testing"

	"liquidil/internal/runtime"
)

func TestFoldableWhitelistExactSet(t *testing.T) {
	want := []string{
		"append", "prepend", "capitalize", "downcase", "upcase", "size",
		"plus", "minus", "times", "divided_by", "modulo", "abs", "ceil",
		"floor", "round", "at_least", "at_most", "strip", "lstrip", "rstrip",
		"strip_newlines", "newline_to_br", "escape", "escape_once",
		"url_encode", "url_decode", "remove", "remove_first", "replace",
		"replace_first", "slice", "truncate", "truncatewords", "default",
		"json", "t", "base64_encode", "base64_decode",
		"base64_url_safe_encode", "base64_url_safe_decode", "bytes_to_human",
	}
	r := NewRegistry()
	for _, name := range want {
		if !r.Foldable(name) {
			t.Errorf("expected %q to be foldable", name)
		}
	}
	if len(want) != 39 {
		t.Fatalf("whitelist must have exactly 39 entries, got %d", len(want))
	}
}

func TestNonFoldableFiltersNotInWhitelist(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"date", "map", "where", "sort", "join", "first", "last", "uniq", "reverse", "concat", "compact"} {
		if r.Foldable(name) {
			t.Errorf("%q must not be foldable", name)
		}
	}
}

func TestUpcaseDowncase(t *testing.T) {
	r := NewRegistry()
	v, err := r.Apply("upcase", runtime.String("abc"), nil, nil)
	if err != nil || v != runtime.Value(runtime.String("ABC")) {
		t.Fatalf("unexpected %v %v", v, err)
	}
}

func TestPlusIntVsFloat(t *testing.T) {
	r := NewRegistry()
	v, _ := r.Apply("plus", runtime.Int(1), []runtime.Value{runtime.Int(2)}, nil)
	if v != runtime.Value(runtime.Int(3)) {
		t.Fatalf("expected Int(3), got %v", v)
	}
	v, _ = r.Apply("plus", runtime.Int(1), []runtime.Value{runtime.Float(2.5)}, nil)
	if v != runtime.Value(runtime.Float(3.5)) {
		t.Fatalf("expected Float(3.5), got %v", v)
	}
}

func TestSliceNegativeStart(t *testing.T) {
	r := NewRegistry()
	v, err := r.Apply("slice", runtime.String("hello"), []runtime.Value{runtime.Int(-3), runtime.Int(2)}, nil)
	if err != nil || v != runtime.Value(runtime.String("ll")) {
		t.Fatalf("unexpected %v %v", v, err)
	}
}

func TestDefaultFilter(t *testing.T) {
	r := NewRegistry()
	v, _ := r.Apply("default", runtime.Nil{}, []runtime.Value{runtime.String("fallback")}, nil)
	if v != runtime.Value(runtime.String("fallback")) {
		t.Fatalf("expected fallback, got %v", v)
	}
	v, _ = r.Apply("default", runtime.String("present"), []runtime.Value{runtime.String("fallback")}, nil)
	if v != runtime.Value(runtime.String("present")) {
		t.Fatalf("expected present, got %v", v)
	}
}

func TestJoinNonFoldable(t *testing.T) {
	r := NewRegistry()
	v, err := r.Apply("join", runtime.Array{runtime.String("a"), runtime.String("b")}, []runtime.Value{runtime.String("-")}, nil)
	if err != nil || v != runtime.Value(runtime.String("a-b")) {
		t.Fatalf("unexpected %v %v", v, err)
	}
}

func TestBytesToHuman(t *testing.T) {
	r := NewRegistry()
	v, err := r.Apply("bytes_to_human", runtime.Int(2_097_152), nil, nil)
	if err != nil || v != runtime.Value(runtime.String("2.1 MB")) {
		t.Fatalf("unexpected %v %v", v, err)
	}
}

func TestUnknownFilterErrors(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Apply("does_not_exist", runtime.Nil{}, nil, nil); err == nil {
		t.Fatal("expected error for unknown filter")
	}
}
