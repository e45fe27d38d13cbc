package runtime

import (
	"strings"

	"github.com/dolthub/swiss"
)

// Forloop exposes the `forloop` object's properties inside a `{% for %}`
// body, per spec.md GLOSSARY "Forloop".
type Forloop struct {
	Index   int64
	Index0  int64
	Length  int64
	First   bool
	Last    bool
	Rindex  int64
	Rindex0 int64
}

func (Forloop) liquidValue() {}

// Property returns the forloop value for one of its named fields, or false
// if name is not one of them.
func (f Forloop) Property(name string) (Value, bool) {
	switch name {
	case "index":
		return Int(f.Index), true
	case "index0":
		return Int(f.Index0), true
	case "length":
		return Int(f.Length), true
	case "first":
		return Bool(f.First), true
	case "last":
		return Bool(f.Last), true
	case "rindex":
		return Int(f.Rindex), true
	case "rindex0":
		return Int(f.Rindex0), true
	default:
		return nil, false
	}
}

// frame is one link in the scope chain. Variables live in a swiss.Map for
// fast lookup/insert on the hot assign/find path; frames are pushed by
// PUSH_SCOPE and on loop or include entry, and popped by POP_SCOPE and on
// exit. PushForloop/PopForloop set and clear a frame's forloop field
// without pushing or popping a frame.
type frame struct {
	vars    *swiss.Map[string, Value]
	forloop *Forloop
}

func newFrame() *frame {
	return &frame{vars: swiss.NewMap[string, Value](8)}
}

// Scope is the chained variable environment a compiled template renders
// against: a stack of frames, a capture-buffer stack (PUSH_CAPTURE /
// POP_CAPTURE), and an interrupt stack (break/continue signaling).
type Scope struct {
	frames    []*frame
	captures  []*strings.Builder
	interrupt []InterruptSignal
	counters  map[string]int64
	drop      Drop
}

// InterruptSignal is recorded by PUSH_INTERRUPT, observed without being
// consumed by JUMP_IF_INTERRUPT, and consumed by FOR_NEXT at the end of
// each loop iteration.
type InterruptSignal int

const (
	InterruptNone InterruptSignal = iota
	InterruptBreak
	InterruptContinue
)

// NewScope constructs a fresh top-level scope, optionally backed by a Drop
// for external root properties (e.g. request context objects).
func NewScope(root Drop) *Scope {
	return &Scope{
		frames:   []*frame{newFrame()},
		counters: make(map[string]int64),
		drop:     root,
	}
}

// PushScope opens a new lexical frame (PUSH_SCOPE, loop bodies, included
// partials).
func (s *Scope) PushScope() {
	s.frames = append(s.frames, newFrame())
}

// PopScope closes the innermost lexical frame.
func (s *Scope) PopScope() {
	if len(s.frames) == 0 {
		panic("runtime: PopScope on empty scope stack")
	}
	s.frames = s.frames[:len(s.frames)-1]
}

// Assign sets a variable, walking outward to the frame that already
// declares it (shadowing-aware); if no frame declares it, it is created in
// the current (innermost) frame.
func (s *Scope) Assign(name string, v Value) {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if _, ok := s.frames[i].vars.Get(name); ok {
			s.frames[i].vars.Put(name, v)
			return
		}
	}
	s.frames[len(s.frames)-1].vars.Put(name, v)
}

// AssignLocal always assigns into the innermost frame, shadowing any outer
// binding of the same name (ASSIGN_LOCAL, loop variables, and partial
// arguments).
func (s *Scope) AssignLocal(name string, v Value) {
	s.frames[len(s.frames)-1].vars.Put(name, v)
}

// Find looks up a bare variable name, walking from the innermost frame
// outward, then falling back to the root Drop if present.
func (s *Scope) Find(name string) (Value, bool) {
	if name == "forloop" {
		if fl := s.currentForloop(); fl != nil {
			return *fl, true
		}
	}
	for i := len(s.frames) - 1; i >= 0; i-- {
		if v, ok := s.frames[i].vars.Get(name); ok {
			return v, true
		}
	}
	if s.drop != nil {
		return s.drop.LiquidProperty(name)
	}
	return nil, false
}

func (s *Scope) currentForloop() *Forloop {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if s.frames[i].forloop != nil {
			return s.frames[i].forloop
		}
	}
	return nil
}

// FindPath resolves a dotted/indexed path rooted at a variable, walking
// Array indices, Hash keys, and Drop properties at each step.
func (s *Scope) FindPath(root string, path []string) (Value, bool) {
	cur, ok := s.Find(root)
	if !ok {
		return nil, false
	}
	for _, key := range path {
		cur, ok = step(cur, key)
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func step(v Value, key string) (Value, bool) {
	switch t := v.(type) {
	case Hash:
		return t.Get(key)
	case Array:
		idx, ok := parseIndex(key)
		if !ok || idx < 0 || idx >= len(t) {
			return nil, false
		}
		return t[idx], true
	case Drop:
		return t.LiquidProperty(key)
	case Forloop:
		return t.Property(key)
	default:
		return nil, false
	}
}

func parseIndex(s string) (int, bool) {
	n := 0
	if s == "" {
		return 0, false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// PushForloop installs a Forloop object visible to the innermost frame for
// the duration of one `{% for %}` body.
func (s *Scope) PushForloop(fl Forloop) {
	s.frames[len(s.frames)-1].forloop = &fl
}

// PopForloop clears the innermost frame's Forloop object.
func (s *Scope) PopForloop() {
	s.frames[len(s.frames)-1].forloop = nil
}

// Increment implements the `{% increment %}` tag: a counter namespace
// distinct from ordinary variables, starting at 0 and returning the
// pre-increment value.
func (s *Scope) Increment(name string) int64 {
	v := s.counters[name]
	s.counters[name] = v + 1
	return v
}

// Decrement implements `{% decrement %}`: starts at -1 and moves downward,
// returning the post-decrement value.
func (s *Scope) Decrement(name string) int64 {
	s.counters[name] = s.counters[name] - 1
	return s.counters[name]
}

// PushCapture opens a new capture buffer for `{% capture %}`; WRITE_RAW and
// WRITE_VALUE route their output to the innermost open buffer instead of
// the render output when one is open.
func (s *Scope) PushCapture() {
	s.captures = append(s.captures, &strings.Builder{})
}

// PopCapture closes the innermost capture buffer and returns its contents.
func (s *Scope) PopCapture() string {
	n := len(s.captures)
	b := s.captures[n-1]
	s.captures = s.captures[:n-1]
	return b.String()
}

// Write appends to the innermost open capture buffer, or returns false if
// no capture is open (caller should write to the render output instead).
func (s *Scope) Write(text string) bool {
	if len(s.captures) == 0 {
		return false
	}
	s.captures[len(s.captures)-1].WriteString(text)
	return true
}

// PushInterrupt records a break/continue signal for JUMP_IF_INTERRUPT to
// observe at each loop-body boundary.
func (s *Scope) PushInterrupt(sig InterruptSignal) {
	s.interrupt = append(s.interrupt, sig)
}

// SetInterrupt replaces the innermost pending interrupt signal in place
// (pushing one if the stack is empty), so a {% break %}/{% continue %} tag
// firing mid-body can record its signal without leaving the loop driver's
// own InterruptNone entry stranded underneath a second pushed entry.
func (s *Scope) SetInterrupt(sig InterruptSignal) {
	if len(s.interrupt) == 0 {
		s.interrupt = append(s.interrupt, sig)
		return
	}
	s.interrupt[len(s.interrupt)-1] = sig
}

// PopInterrupt consumes the most recently pushed interrupt signal.
func (s *Scope) PopInterrupt() InterruptSignal {
	n := len(s.interrupt)
	if n == 0 {
		return InterruptNone
	}
	sig := s.interrupt[n-1]
	s.interrupt = s.interrupt[:n-1]
	return sig
}

// PeekInterrupt reports the current pending interrupt without consuming it.
func (s *Scope) PeekInterrupt() InterruptSignal {
	if len(s.interrupt) == 0 {
		return InterruptNone
	}
	return s.interrupt[len(s.interrupt)-1]
}
