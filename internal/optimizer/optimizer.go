// Package optimizer runs the ordered peephole/dataflow pass pipeline over
// an IL program before linking, mirroring the Pass-driven optimizer shape
// used throughout the example corpus (a named Pass, a driver that walks
// the list in order, each pass reporting whether it touched the program).
package optimizer

import (
	"liquidil/internal/effect"
	"liquidil/internal/filters"
	"liquidil/internal/il"
)

// Pass is one optimization step. Run mutates p in place and reports
// whether it made any change. eff holds the per-instruction effect
// classification of p.Instructions as of the start of this pass — a fold
// pass consults it to decide whether an instruction it's about to discard
// is safe to assume side-effect free (spec.md §4.3's "constant" folds only
// hold when the folded instructions are actually pure).
type Pass interface {
	Name() string
	Run(p *il.Program, eff []effect.Record) bool
}

type funcPass struct {
	name string
	fn   func(p *il.Program, eff []effect.Record) bool
}

func (f funcPass) Name() string { return f.name }
func (f funcPass) Run(p *il.Program, eff []effect.Record) bool { return f.fn(p, eff) }

// Passes builds the thirteen-step pipeline in the fixed order spec.md §4.3
// mandates, closing over registry for the one pass that needs it.
func Passes(registry *filters.Registry) []Pass {
	return []Pass{
		funcPass{"fold_const_ops", foldConstOps},
		funcPass{"fold_const_filters", func(p *il.Program, eff []effect.Record) bool { return foldConstFilters(p, eff, registry) }},
		funcPass{"fold_const_writes", foldConstWrites},
		funcPass{"collapse_const_paths", collapseConstPaths},
		funcPass{"collapse_find_var_paths", collapseFindVarPaths},
		funcPass{"remove_redundant_is_truthy", removeRedundantIsTruthy},
		funcPass{"remove_noops", removeNoops},
		funcPass{"remove_jump_to_next_label", removeJumpToNextLabel},
		funcPass{"merge_raw_writes", mergeRawWrites},
		funcPass{"remove_unreachable", removeUnreachable},
		funcPass{"merge_raw_writes_second_pass", mergeRawWrites},
		funcPass{"fold_const_captures", foldConstCaptures},
		funcPass{"remove_empty_raw_writes", removeEmptyRawWrites},
	}
}

// Optimize runs every pass once, in order, then links the program. eff is
// recomputed before each pass rather than once up front: a pass can change
// which instructions are reachable or which variables are read, and the
// next pass must reason about the program as it now stands, not as it
// stood thirteen passes ago. Each pass must preserve the
// instructions/spans length invariant; Optimize checks it after every
// pass rather than trusting each pass individually.
func Optimize(p *il.Program, registry *filters.Registry) error {
	for _, pass := range Passes(registry) {
		eff := effect.Analyze(p.Instructions)
		pass.Run(p, eff)
		p.CheckInvariant()
	}
	return il.Link(p)
}
