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
package verifier

import (
	"testing"

	"stackjit/ast"
)

func verifyErr(t *testing.T, fn *ast.Function, prog *ast.Program) *Error {
	t.Helper()
	if prog == nil {
		prog = ast.NewProgram()
	}
	err := Verify(prog, fn)
	if err == nil {
		return nil
	}
	verr, ok := err.(*Error)
	if !ok {
		t.Fatalf("Verify returned a non-*Error: %v", err)
	}
	return verr
}

func TestVerifyAccepts(t *testing.T) {
	fn := ast.NewManagedFunction("main", nil, ast.TInt32, nil, []*ast.Instruction{
		{Op: ast.OpLoadInt32, Int32Value: 1},
		{Op: ast.OpLoadInt32, Int32Value: 2},
		{Op: ast.OpAdd},
		{Op: ast.OpReturn},
	})
	if err := verifyErr(t, fn, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fn.MaxOperandDepth != 2 {
		t.Fatalf("got MaxOperandDepth %d, want 2", fn.MaxOperandDepth)
	}
	if len(fn.Snapshots) != 4 {
		t.Fatalf("got %d snapshots, want 4", len(fn.Snapshots))
	}
}

func TestVerifyEmptyOperandStack(t *testing.T) {
	fn := ast.NewManagedFunction("main", nil, ast.TInt32, nil, []*ast.Instruction{
		{Op: ast.OpReturn},
	})
	err := verifyErr(t, fn, nil)
	if err == nil || err.Kind != EmptyOperandStack {
		t.Fatalf("got %v, want EmptyOperandStack", err)
	}
}

func TestVerifyWrongArithmeticOperands(t *testing.T) {
	fn := ast.NewManagedFunction("main", nil, ast.TInt32, nil, []*ast.Instruction{
		{Op: ast.OpLoadInt32, Int32Value: 1},
		{Op: ast.OpLoadTrue},
		{Op: ast.OpAdd},
		{Op: ast.OpReturn},
	})
	err := verifyErr(t, fn, nil)
	if err == nil || err.Kind != WrongArithmeticOperands {
		t.Fatalf("got %v, want WrongArithmeticOperands", err)
	}
}

func TestVerifyNonEmptyOperandStackOnReturn(t *testing.T) {
	fn := ast.NewManagedFunction("main", nil, ast.TInt32, nil, []*ast.Instruction{
		{Op: ast.OpLoadInt32, Int32Value: 1},
		{Op: ast.OpLoadInt32, Int32Value: 2},
		{Op: ast.OpReturn},
	})
	err := verifyErr(t, fn, nil)
	if err == nil || err.Kind != NonEmptyOperandStackOnReturn {
		t.Fatalf("got %v, want NonEmptyOperandStackOnReturn", err)
	}
}

func TestVerifyFunctionNotDefined(t *testing.T) {
	fn := ast.NewManagedFunction("main", nil, ast.TVoid, nil, []*ast.Instruction{
		{Op: ast.OpCall, Signature: ast.FunctionSignature{Name: "nope"}},
		{Op: ast.OpReturn},
	})
	err := verifyErr(t, fn, nil)
	if err == nil || err.Kind != FunctionNotDefined {
		t.Fatalf("got %v, want FunctionNotDefined", err)
	}
}

func TestVerifyParameterCannotBeVoid(t *testing.T) {
	fn := ast.NewManagedFunction("f", []*ast.Type{ast.TVoid}, ast.TVoid, nil, nil)
	err := verifyErr(t, fn, nil)
	if err == nil || err.Kind != ParameterCannotBeVoid {
		t.Fatalf("got %v, want ParameterCannotBeVoid", err)
	}
}

func TestVerifySkipsExternalFunctions(t *testing.T) {
	fn := ast.NewExternalFunction("native_thing", []*ast.Type{ast.TInt32}, ast.TInt32, 0)
	if err := Verify(ast.NewProgram(), fn); err != nil {
		t.Fatalf("unexpected error verifying an external function: %v", err)
	}
}
