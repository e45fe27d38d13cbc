// Package compiler orchestrates the full pipeline: parse source into raw
// IL, resolve const-partials, run the optimizer (which links as its final
// step), then allocate temp registers. This replaces the teacher's
// AST-visitor bytecode compiler — a template source has no AST stage here
// (internal/parser emits IL directly), so there is nothing for this
// package to visit; it just sequences the stages spec.md §4 lays out.
package compiler

import (
	"github.com/pkg/errors"

	"liquidil/internal/filters"
	"liquidil/internal/il"
	"liquidil/internal/optimizer"
	"liquidil/internal/parser"
	"liquidil/internal/partial"
	"liquidil/internal/regalloc"
)

// Options configures one Compile call.
type Options struct {
	Optimize bool

	InlinePartials     bool
	Loader             partial.Loader
	InlinePartialCache *partial.InlineCache
	InlinePartialStack []string

	// Filters is the registry consulted by the constant-filter-folding
	// pass; a nil registry is replaced by filters.NewRegistry(), so the
	// pass still folds against the default filter set.
	Filters *filters.Registry
}

// Compile turns Liquid-family template source into a linked, register
// allocated *il.Program ready for internal/vm or internal/lowering.
func Compile(source string, opts Options) (*il.Program, error) {
	prog, err := parser.Parse(source)
	if err != nil {
		return nil, errors.Wrap(err, "compiler: parse")
	}

	stack := &partial.Stack{}
	for _, name := range opts.InlinePartialStack {
		stack.Push(name)
	}
	partialOpts := partial.Options{
		InlinePartials: opts.InlinePartials,
		Loader:         opts.Loader,
		Cache:          opts.InlinePartialCache,
		Stack:          stack,
		Compile: func(src string) (*il.Program, error) {
			return Compile(src, opts)
		},
	}
	partial.LowerConstPartials(prog, partialOpts)

	if opts.Optimize {
		registry := opts.Filters
		if registry == nil {
			registry = filters.NewRegistry()
		}
		if err := optimizer.Optimize(prog, registry); err != nil {
			return nil, errors.Wrap(err, "compiler: optimize")
		}
	} else if err := il.Link(prog); err != nil {
		return nil, errors.Wrap(err, "compiler: link")
	}

	live := regalloc.Analyze(prog.Instructions)
	regalloc.Allocate(prog.Instructions, live)

	return prog, nil
}
