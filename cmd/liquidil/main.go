// Command liquidil is the reference CLI: compile, render, disassemble, or
// interactively evaluate Liquid-family templates. Subcommand dispatch is
// hand-rolled over os.Args, matching the teacher's cmd/sentra style rather
// than reaching for a flag-parsing framework.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"liquidil/internal/compiler"
	"liquidil/internal/filters"
	"liquidil/internal/il"
	"liquidil/internal/lowering"
	"liquidil/internal/repl"
	"liquidil/internal/runtime"
	"liquidil/internal/vm"
)

// version is set via -ldflags "-X main.version=..." at release build time.
var version = "dev"

func main() {
	color.NoColor = !isatty.IsTerminal(os.Stdout.Fd())

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "render":
		err = runRender(os.Args[2:])
	case "compile":
		err = runCompile(os.Args[2:])
	case "disasm":
		err = runDisasm(os.Args[2:])
	case "repl":
		repl.Start()
	case "version":
		fmt.Println("liquidil " + version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "liquidil: unknown command %q\n", os.Args[1])
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:")+" "+err.Error())
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`liquidil - Liquid-family template compiler

Usage:
  liquidil render  <template.liquid> [--data data.json] [--no-optimize]
  liquidil compile <template.liquid> [--no-optimize]
  liquidil disasm  <template.liquid> [--no-optimize]
  liquidil repl
  liquidil version`)
}

func readTemplate(args []string) (string, []string, error) {
	if len(args) == 0 {
		return "", nil, fmt.Errorf("missing template path")
	}
	src, err := os.ReadFile(args[0])
	if err != nil {
		return "", nil, err
	}
	return string(src), args[1:], nil
}

func hasFlag(args []string, name string) bool {
	for _, a := range args {
		if a == name {
			return true
		}
	}
	return false
}

func flagValue(args []string, name string) (string, bool) {
	for i, a := range args {
		if a == name && i+1 < len(args) {
			return args[i+1], true
		}
	}
	return "", false
}

func compileOpts(args []string) compiler.Options {
	return compiler.Options{Optimize: !hasFlag(args, "--no-optimize"), Filters: filters.NewRegistry()}
}

func runCompile(args []string) error {
	source, rest, err := readTemplate(args)
	if err != nil {
		return err
	}
	prog, err := compiler.Compile(source, compileOpts(rest))
	if err != nil {
		return err
	}
	fmt.Printf("%d instructions, linked=%v\n", prog.Len(), prog.Linked)
	return nil
}

func runDisasm(args []string) error {
	source, rest, err := readTemplate(args)
	if err != nil {
		return err
	}
	prog, err := compiler.Compile(source, compileOpts(rest))
	if err != nil {
		return err
	}
	for _, line := range il.Disassemble(prog) {
		fmt.Println(color.CyanString(line))
	}
	return nil
}

func runRender(args []string) error {
	source, rest, err := readTemplate(args)
	if err != nil {
		return err
	}
	opts := compileOpts(rest)
	prog, err := compiler.Compile(source, opts)
	if err != nil {
		return err
	}

	scope := runtime.NewScope(nil)
	if path, ok := flagValue(rest, "--data"); ok {
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var parsed map[string]interface{}
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return fmt.Errorf("liquidil: parsing %s: %w", path, err)
		}
		for k, v := range parsed {
			scope.Assign(k, runtime.FromJSON(v))
		}
	}

	profiler := lowering.NewProfiler(0)
	out, err := render(prog, scope, opts.Filters, profiler)
	// A RuntimeError's out already carries the Liquid error tail appended
	// to whatever had rendered before the failure (spec.md §7); print it
	// even on error instead of discarding a partially-successful render.
	fmt.Print(out)
	return err
}

// render dispatches to internal/lowering once a program has been promoted,
// falling back to the stack VM otherwise, mirroring the tiering decision
// spec.md §6 assigns to a long-lived render server.
func render(prog *il.Program, scope *runtime.Scope, registry *filters.Registry, profiler *lowering.Profiler) (string, error) {
	if profiler.RecordCall(prog) == lowering.TierLowered {
		if compiled, ok := profiler.Compiled(prog); ok {
			return compiled.Render(scope, registry, prog.Spans, "")
		}
	}
	machine, err := vm.New(prog, scope, registry, nil)
	if err != nil {
		return "", err
	}
	return machine.Run()
}
