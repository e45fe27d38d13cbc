// Package repl is an interactive line-at-a-time template renderer: each
// line typed is compiled and rendered against one persistent scope, so
// {% assign %}/{% capture %} on one line are visible to the next.
package repl

import (
	"bufio"
	"fmt"
	"os"

	"liquidil/internal/compiler"
	"liquidil/internal/filters"
	"liquidil/internal/runtime"
	"liquidil/internal/vm"
)

func Start() {
	fmt.Println("liquidil REPL | type 'exit' to quit")
	scanner := bufio.NewScanner(os.Stdin)

	scope := runtime.NewScope(nil)
	registry := filters.NewRegistry()

	for {
		fmt.Print(">>> ")
		if !scanner.Scan() {
			break
		}
		line := scanner.Text()
		if line == "exit" {
			break
		}

		prog, err := compiler.Compile(line, compiler.Options{Optimize: true, Filters: registry})
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}

		machine, err := vm.New(prog, scope, registry, nil)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		out, err := machine.Run()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		fmt.Println(out)
	}
}
