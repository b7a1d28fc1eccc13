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
package ast

import "testing"

func TestTypeEqualIsStructural(t *testing.T) {
	a := ArrayOf(ClassOf("Point"))
	b := ArrayOf(ClassOf("Point"))
	if !a.Equal(b) {
		t.Fatalf("expected two distinct Array(Class(Point)) values to compare equal")
	}
	if a == b {
		t.Fatalf("test is vacuous: a and b are the same pointer")
	}
}

func TestTypeEqualRejectsDifferentClassNames(t *testing.T) {
	if ClassOf("A").Equal(ClassOf("B")) {
		t.Fatalf("Class(A) and Class(B) must not compare equal - no class hierarchy exists")
	}
}

func TestTypeEqualRejectsDifferentArrayElements(t *testing.T) {
	if ArrayOf(ClassOf("A")).Equal(ArrayOf(ClassOf("B"))) {
		t.Fatalf("Array(Class(A)) and Array(Class(B)) must not compare equal")
	}
}

func TestTypeSize(t *testing.T) {
	cases := []struct {
		typ  *Type
		want int
	}{
		{TVoid, 0},
		{TBool, 1},
		{TInt32, 4},
		{TFloat32, 4},
		{ArrayOf(TInt32), 8},
		{ClassOf("Point"), 8},
	}
	for _, c := range cases {
		if got := c.typ.Size(); got != c.want {
			t.Fatalf("%s.Size() = %d, want %d", c.typ, got, c.want)
		}
	}
}

func TestTypeIsReference(t *testing.T) {
	if TInt32.IsReference() || TBool.IsReference() || TFloat32.IsReference() {
		t.Fatalf("scalar types must not report IsReference true")
	}
	if !ArrayOf(TInt32).IsReference() || !ClassOf("Point").IsReference() {
		t.Fatalf("array and class types must report IsReference true")
	}
}

func TestFunctionSignatureEqualIgnoresReturnType(t *testing.T) {
	a := NewManagedFunction("f", []*Type{TInt32}, TInt32, nil, nil).Declaration.Signature()
	b := NewManagedFunction("f", []*Type{TInt32}, TVoid, nil, nil).Declaration.Signature()
	if !a.Equal(b) {
		t.Fatalf("expected two signatures with matching name/params but different return types to be equal")
	}
}

func TestFunctionSignatureEqualRejectsParamCountMismatch(t *testing.T) {
	a := FunctionSignature{Name: "f", Params: []*Type{TInt32}}
	b := FunctionSignature{Name: "f", Params: []*Type{TInt32, TInt32}}
	if a.Equal(b) {
		t.Fatalf("signatures with different arity must not be equal")
	}
}
