package lowering

import (
	"sync"

	"liquidil/internal/il"
)

// Tier mirrors the teacher's CompilationTier: a template starts
// interpreted (stack VM) and gets promoted once it has run often enough to
// justify the one-time cost of attempting structured lowering.
type Tier int

const (
	TierInterpreted Tier = iota
	TierLowered
	TierVMOnly // lowering was attempted and refused; never retry
)

// DefaultPromotionThreshold is the call count at which a program becomes a
// promotion candidate, grounded on the teacher profiler's two-tier
// (100/1000 call) promotion scheme, scaled down for template rendering
// where programs are far smaller than compiled functions.
const DefaultPromotionThreshold = 8

// Profiler tracks render call counts per compiled program and decides when
// to attempt structured lowering, caching the result so the attempt is
// made at most once per program.
type Profiler struct {
	mu         sync.Mutex
	threshold  int
	callCounts map[*il.Program]int
	tiers      map[*il.Program]Tier
	compiled   map[*il.Program]*Compiled
}

// NewProfiler builds a profiler promoting programs after threshold calls.
// A threshold <= 0 uses DefaultPromotionThreshold.
func NewProfiler(threshold int) *Profiler {
	if threshold <= 0 {
		threshold = DefaultPromotionThreshold
	}
	return &Profiler{
		threshold:  threshold,
		callCounts: make(map[*il.Program]int),
		tiers:      make(map[*il.Program]Tier),
		compiled:   make(map[*il.Program]*Compiled),
	}
}

// RecordCall registers one render call against prog and returns the tier
// the caller should execute it at. Once a program reaches TierLowered or
// TierVMOnly it stays there; lowering is attempted exactly once.
func (p *Profiler) RecordCall(prog *il.Program) Tier {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.tiers[prog]; ok {
		return t
	}

	p.callCounts[prog]++
	if p.callCounts[prog] < p.threshold {
		return TierInterpreted
	}

	compiled, err := Lower(prog)
	if err != nil {
		p.tiers[prog] = TierVMOnly
		return TierVMOnly
	}
	p.compiled[prog] = compiled
	p.tiers[prog] = TierLowered
	return TierLowered
}

// Compiled returns the cached lowering result for prog, if one exists.
func (p *Profiler) Compiled(prog *il.Program) (*Compiled, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.compiled[prog]
	return c, ok
}
