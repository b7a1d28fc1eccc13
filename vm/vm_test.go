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
package vm

import (
	"bytes"
	"strings"
	"testing"

	"stackjit/ast"
	"stackjit/runtime"
)

func runMain(t *testing.T, machine *VM, main *ast.Function) (int32, bool) {
	t.Helper()
	machine.AddFunction(main)
	result, ok, err := machine.Execute()
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return result, ok
}

// TestIntegerArithmetic covers spec scenario 1: 4711 + 1337 == 6048.
func TestIntegerArithmetic(t *testing.T) {
	main := ast.NewManagedFunction("main", nil, ast.TInt32, nil, []*ast.Instruction{
		{Op: ast.OpLoadInt32, Int32Value: 4711},
		{Op: ast.OpLoadInt32, Int32Value: 1337},
		{Op: ast.OpAdd},
		{Op: ast.OpReturn},
	})
	result, ok := runMain(t, New(Settings{}), main)
	if !ok || result != 6048 {
		t.Fatalf("got (%d, %v), want (6048, true)", result, ok)
	}
}

// TestConditionalBranch covers spec scenario 2: a not-equal branch taken
// because 1 != 2, storing 4711 into local 0 and returning it.
func TestConditionalBranch(t *testing.T) {
	main := ast.NewManagedFunction("main", nil, ast.TInt32, []*ast.Type{ast.TInt32}, []*ast.Instruction{
		{Op: ast.OpLoadInt32, Int32Value: 1},  // 0
		{Op: ast.OpLoadInt32, Int32Value: 2},  // 1
		{Op: ast.OpBranchNe, Target: 6},       // 2
		{Op: ast.OpLoadInt32, Int32Value: 1337}, // 3
		{Op: ast.OpStoreLocal, Index: 0},      // 4
		{Op: ast.OpBranch, Target: 8},         // 5
		{Op: ast.OpLoadInt32, Int32Value: 4711}, // 6
		{Op: ast.OpStoreLocal, Index: 0},      // 7
		{Op: ast.OpLoadLocal, Index: 0},       // 8
		{Op: ast.OpReturn},                    // 9
	})
	result, ok := runMain(t, New(Settings{}), main)
	if !ok || result != 4711 {
		t.Fatalf("got (%d, %v), want (4711, true)", result, ok)
	}
}

// TestArrayNullCheck covers spec scenario 3: indexing through a null array
// reference raises NullReference before any bounds check runs.
func TestArrayNullCheck(t *testing.T) {
	arrInt32 := ast.ArrayOf(ast.TInt32)
	main := ast.NewManagedFunction("main", nil, ast.TInt32, nil, []*ast.Instruction{
		{Op: ast.OpLoadNull, Type: arrInt32},
		{Op: ast.OpLoadInt32, Int32Value: 1000},
		{Op: ast.OpLoadElement, Type: ast.TInt32},
		{Op: ast.OpReturn},
	})
	machine := New(Settings{})
	_, ok := runMain(t, machine, main)
	if ok {
		t.Fatalf("expected a runtime error, got a normal return")
	}
	fault, has := machine.TakeRuntimeError()
	if !has || fault.Kind != runtime.NullReference {
		t.Fatalf("got fault=%+v has=%v, want NullReference", fault, has)
	}
}

// TestArrayBounds covers spec scenario 4: indexing a 1000-element array at
// index 1000 raises ArrayBounds.
func TestArrayBounds(t *testing.T) {
	arrInt32 := ast.ArrayOf(ast.TInt32)
	main := ast.NewManagedFunction("main", nil, ast.TInt32, []*ast.Type{arrInt32}, []*ast.Instruction{
		{Op: ast.OpLoadInt32, Int32Value: 1000},
		{Op: ast.OpNewArray, Type: ast.TInt32},
		{Op: ast.OpStoreLocal, Index: 0},
		{Op: ast.OpLoadLocal, Index: 0},
		{Op: ast.OpLoadInt32, Int32Value: 1000},
		{Op: ast.OpLoadElement, Type: ast.TInt32},
		{Op: ast.OpReturn},
	})
	machine := New(Settings{})
	_, ok := runMain(t, machine, main)
	if ok {
		t.Fatalf("expected a runtime error, got a normal return")
	}
	fault, has := machine.TakeRuntimeError()
	if !has || fault.Kind != runtime.ArrayBounds {
		t.Fatalf("got fault=%+v has=%v, want ArrayBounds", fault, has)
	}
}

// TestArrayCreateNegativeLength covers spec scenario 5: allocating an array
// with a negative length raises ArrayCreate.
func TestArrayCreateNegativeLength(t *testing.T) {
	main := ast.NewManagedFunction("main", nil, ast.TInt32, nil, []*ast.Instruction{
		{Op: ast.OpLoadInt32, Int32Value: -1},
		{Op: ast.OpNewArray, Type: ast.TInt32},
		{Op: ast.OpLoadArrayLength},
		{Op: ast.OpReturn},
	})
	machine := New(Settings{})
	_, ok := runMain(t, machine, main)
	if ok {
		t.Fatalf("expected a runtime error, got a normal return")
	}
	fault, has := machine.TakeRuntimeError()
	if !has || fault.Kind != runtime.ArrayCreate {
		t.Fatalf("got fault=%+v has=%v, want ArrayCreate", fault, has)
	}
}

// TestGCCollectsUnreachableArray covers spec scenario 6: an unreachable
// 1000-element Array<Int32> is reclaimed by std.gc.collect, while a
// still-reachable Point class instance survives.
func TestGCCollectsUnreachableArray(t *testing.T) {
	arrInt32 := ast.ArrayOf(ast.TInt32)
	pointType := ast.ClassOf("Point")

	point := ast.NewClass("Point", []string{"x", "y"}, []*ast.Type{ast.TInt32, ast.TInt32})

	main := ast.NewManagedFunction("main", nil, ast.TInt32,
		[]*ast.Type{arrInt32, pointType},
		[]*ast.Instruction{
			{Op: ast.OpLoadInt32, Int32Value: 1000},
			{Op: ast.OpNewArray, Type: ast.TInt32},
			{Op: ast.OpStoreLocal, Index: 0},
			{Op: ast.OpLoadNull, Type: arrInt32},
			{Op: ast.OpStoreLocal, Index: 0},
			{Op: ast.OpNewObject, ClassName: "Point"},
			{Op: ast.OpStoreLocal, Index: 1},
			{Op: ast.OpCall, Signature: ast.FunctionSignature{Name: "std.gc.collect"}},
			{Op: ast.OpLoadInt32, Int32Value: 0},
			{Op: ast.OpReturn},
		})

	machine := New(Settings{})
	machine.AddClass(point)
	result, ok := runMain(t, machine, main)
	if !ok || result != 0 {
		t.Fatalf("got (%d, %v), want (0, true)", result, ok)
	}

	report, has := machine.LastCollection()
	if !has {
		t.Fatalf("expected a collection report")
	}
	if len(report.Deleted) != 1 {
		t.Fatalf("got %d deleted objects, want exactly 1: %+v", len(report.Deleted), report.Deleted)
	}
	if report.Deleted[0].TypeName != "Array" {
		t.Fatalf("got deleted type %q, want Array", report.Deleted[0].TypeName)
	}
}

// TestCallWithArguments exercises the stackjit-to-stackjit call path with a
// managed helper function, beyond the bare arithmetic scenario 1 covers.
func TestCallWithArguments(t *testing.T) {
	square := ast.NewManagedFunction("square", []*ast.Type{ast.TInt32}, ast.TInt32, nil, []*ast.Instruction{
		{Op: ast.OpLoadArgument, Index: 0},
		{Op: ast.OpLoadArgument, Index: 0},
		{Op: ast.OpMultiply},
		{Op: ast.OpReturn},
	})
	main := ast.NewManagedFunction("main", nil, ast.TInt32, nil, []*ast.Instruction{
		{Op: ast.OpLoadInt32, Int32Value: 9},
		{Op: ast.OpCall, Signature: square.Declaration.Signature()},
		{Op: ast.OpReturn},
	})

	machine := New(Settings{})
	machine.AddFunction(square)
	result, ok := runMain(t, machine, main)
	if !ok || result != 81 {
		t.Fatalf("got (%d, %v), want (81, true)", result, ok)
	}
}

// TestFloatArithmeticRoundTrip exercises LoadFloat32's bit-pattern encoding
// (spec.md §9) through a full add.
func TestFloatArithmeticRoundTrip(t *testing.T) {
	main := ast.NewManagedFunction("main", nil, ast.TInt32, nil, []*ast.Instruction{
		{Op: ast.OpLoadFloat32, Float32Value: 1.5},
		{Op: ast.OpLoadFloat32, Float32Value: 2.25},
		{Op: ast.OpAdd},
		{Op: ast.OpLoadFloat32, Float32Value: 3.75},
		{Op: ast.OpCompareEq},
		{Op: ast.OpLoadTrue},
		{Op: ast.OpBranchEq, Target: 9},
		{Op: ast.OpLoadInt32, Int32Value: 0},
		{Op: ast.OpReturn},
	})
	main.Instructions = append(main.Instructions,
		&ast.Instruction{Op: ast.OpLoadInt32, Int32Value: 1},
		&ast.Instruction{Op: ast.OpReturn},
	)
	result, ok := runMain(t, New(Settings{}), main)
	if !ok || result != 1 {
		t.Fatalf("got (%d, %v), want (1, true): 1.5+2.25 should equal 3.75", result, ok)
	}
}

// TestPrintStackFrame exercises the print_stack_frame intrinsic end to end,
// checking that the dump names the calling function and its live argument.
func TestPrintStackFrame(t *testing.T) {
	helper := ast.NewManagedFunction("helper", []*ast.Type{ast.TInt32}, ast.TVoid, nil, []*ast.Instruction{
		{Op: ast.OpCall, Signature: ast.FunctionSignature{Name: "std.gc.print_stack_frame"}},
		{Op: ast.OpReturn},
	})
	main := ast.NewManagedFunction("main", nil, ast.TInt32, nil, []*ast.Instruction{
		{Op: ast.OpLoadInt32, Int32Value: 42},
		{Op: ast.OpCall, Signature: helper.Declaration.Signature()},
		{Op: ast.OpLoadInt32, Int32Value: 0},
		{Op: ast.OpReturn},
	})

	var out bytes.Buffer
	machine := New(Settings{Output: &out})
	machine.AddFunction(helper)
	result, ok := runMain(t, machine, main)
	if !ok || result != 0 {
		t.Fatalf("got (%d, %v), want (0, true)", result, ok)
	}
	if !strings.Contains(out.String(), "helper") {
		t.Fatalf("stack dump missing helper's frame:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "42") {
		t.Fatalf("stack dump missing helper's argument value:\n%s", out.String())
	}
}

// TestDivideByZero exercises DivideInt32's resolved open question: it is
// implemented, not rejected by the verifier, and raises DivideByZero.
func TestDivideByZero(t *testing.T) {
	main := ast.NewManagedFunction("main", nil, ast.TInt32, nil, []*ast.Instruction{
		{Op: ast.OpLoadInt32, Int32Value: 10},
		{Op: ast.OpLoadInt32, Int32Value: 0},
		{Op: ast.OpDivide},
		{Op: ast.OpReturn},
	})
	machine := New(Settings{})
	_, ok := runMain(t, machine, main)
	if ok {
		t.Fatalf("expected a runtime error, got a normal return")
	}
	fault, has := machine.TakeRuntimeError()
	if !has || fault.Kind != runtime.DivideByZero {
		t.Fatalf("got fault=%+v has=%v, want DivideByZero", fault, has)
	}
}
