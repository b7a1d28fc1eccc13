// Copyright (c) 2024 The Falcon Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Command stackjit is a thin example host: there is no textual front end
// in this repo (see SPEC_FULL.md §5's non-goals), so a host assembles its
// program directly out of ast.Instruction values, the same way a real
// embedder would after lowering its own source language. This one builds
// a two-function program - square(Int32) Int32 and a main that calls it -
// runs it, and prints the result.
package main

import (
	"fmt"
	"os"

	"stackjit/ast"
	"stackjit/vm"
)

func main() {
	square := ast.NewManagedFunction(
		"square",
		[]*ast.Type{ast.TInt32},
		ast.TInt32,
		nil,
		[]*ast.Instruction{
			{Op: ast.OpLoadArgument, Index: 0},
			{Op: ast.OpLoadArgument, Index: 0},
			{Op: ast.OpMultiply},
			{Op: ast.OpReturn},
		},
	)

	squareSig := square.Declaration.Signature()
	main := ast.NewManagedFunction(
		"main",
		nil,
		ast.TInt32,
		nil,
		[]*ast.Instruction{
			{Op: ast.OpLoadInt32, Int32Value: 7},
			{Op: ast.OpCall, Signature: squareSig},
			{Op: ast.OpReturn},
		},
	)

	machine := vm.New(vm.Settings{})
	machine.AddFunction(square)
	machine.AddFunction(main)

	result, ok, err := machine.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "stackjit:", err)
		os.Exit(1)
	}
	if !ok {
		fault, _ := machine.TakeRuntimeError()
		fmt.Fprintf(os.Stderr, "stackjit: runtime error: %s\n", fault.Kind)
		os.Exit(1)
	}
	fmt.Println(result)
}
