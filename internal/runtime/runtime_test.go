package runtime

import "testing"

func TestTruthy(t *testing.T) {
	cases := []struct {
		v    Value
		want bool
	}{
		{Nil{}, false},
		{Bool(false), false},
		{Bool(true), true},
		{Empty{}, false},
		{Blank{}, false},
		{Int(0), true},
		{String(""), true},
	}
	for _, c := range cases {
		if got := Truthy(c.v); got != c.want {
			t.Errorf("Truthy(%#v) = %v, want %v", c.v, got, c.want)
		}
	}
}

func TestFormat(t *testing.T) {
	if Format(Int(42)) != "42" {
		t.Fatal("expected 42")
	}
	if Format(Float(1.5)) != "1.5" {
		t.Fatal("expected 1.5")
	}
	if Format(Float(2.0)) != "2.0" {
		t.Fatal("expected 2.0 for whole float")
	}
	if Format(Nil{}) != "" {
		t.Fatal("expected empty string for nil")
	}
	if Format(Bool(true)) != "true" {
		t.Fatal("expected true")
	}
}

func TestEqual(t *testing.T) {
	eq, err := Equal(Int(1), Float(1.0))
	if err != nil || !eq {
		t.Fatalf("expected Int(1) == Float(1.0), got %v err=%v", eq, err)
	}
	eq, err = Equal(String("a"), String("b"))
	if err != nil || eq {
		t.Fatal("expected a != b")
	}
}

func TestScopeAssignUpdatesOuter(t *testing.T) {
	s := NewScope(nil)
	s.Assign("x", Int(1))
	s.PushScope()
	s.Assign("x", Int(2))
	v, ok := s.Find("x")
	if !ok || v != Value(Int(2)) {
		t.Fatalf("expected x=2 after inner-frame assign, got %v", v)
	}
	s.PopScope()
	v, ok = s.Find("x")
	if !ok || v != Value(Int(2)) {
		t.Fatalf("expected outer x updated to 2 (Assign walks outward), got %v", v)
	}
}

func TestScopeAssignLocalDoesNotLeak(t *testing.T) {
	s := NewScope(nil)
	s.Assign("x", Int(1))
	s.PushScope()
	s.AssignLocal("x", Int(99))
	s.PopScope()
	v, _ := s.Find("x")
	if v != Value(Int(1)) {
		t.Fatalf("expected outer x untouched by inner AssignLocal, got %v", v)
	}
}

func TestScopeCapture(t *testing.T) {
	s := NewScope(nil)
	s.PushCapture()
	s.Write("hello ")
	s.Write("world")
	got := s.PopCapture()
	if got != "hello world" {
		t.Fatalf("expected 'hello world', got %q", got)
	}
}

func TestScopeIncrementDecrement(t *testing.T) {
	s := NewScope(nil)
	if v := s.Increment("c"); v != 0 {
		t.Fatalf("expected first increment to return 0, got %d", v)
	}
	if v := s.Increment("c"); v != 1 {
		t.Fatalf("expected second increment to return 1, got %d", v)
	}
	if v := s.Decrement("d"); v != -1 {
		t.Fatalf("expected first decrement to return -1, got %d", v)
	}
}

func TestForloopProperties(t *testing.T) {
	s := NewScope(nil)
	s.PushForloop(Forloop{Index: 1, Index0: 0, Length: 3, First: true})
	v, ok := s.Find("forloop")
	if !ok {
		t.Fatal("expected forloop to resolve")
	}
	fl := v.(Forloop)
	if fl.Index != 1 || !fl.First {
		t.Fatalf("unexpected forloop value %+v", fl)
	}
}

func TestFindPathThroughHashAndArray(t *testing.T) {
	s := NewScope(nil)
	h := NewHash([]string{"items"}, map[string]Value{"items": Array{String("a"), String("b")}})
	s.Assign("x", h)
	v, ok := s.FindPath("x", []string{"items", "1"})
	if !ok || v != Value(String("b")) {
		t.Fatalf("expected x.items[1] == b, got %v ok=%v", v, ok)
	}
}
