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

import "fmt"

// Opcode enumerates the stack-bytecode instruction repertoire (spec.md §3).
type Opcode int

const (
	OpLoadInt32 Opcode = iota
	OpLoadFloat32
	OpLoadTrue
	OpLoadFalse
	OpLoadNull

	OpLoadLocal
	OpStoreLocal
	OpLoadArgument

	OpAdd
	OpSub
	OpMultiply
	OpDivide
	OpAnd
	OpOr
	OpNot

	OpNewArray
	OpLoadElement
	OpStoreElement
	OpLoadArrayLength

	OpNewObject
	OpLoadField
	OpStoreField

	OpReturn
	OpCall
	OpBranch
	OpBranchEq
	OpBranchNe
	OpBranchGt
	OpBranchGe
	OpBranchLt
	OpBranchLe
	OpCompareEq
	OpCompareNe
	OpCompareGt
	OpCompareGe
	OpCompareLt
	OpCompareLe
)

func (op Opcode) String() string {
	names := [...]string{
		"LoadInt32", "LoadFloat32", "LoadTrue", "LoadFalse", "LoadNull",
		"LoadLocal", "StoreLocal", "LoadArgument",
		"Add", "Sub", "Multiply", "Divide", "And", "Or", "Not",
		"NewArray", "LoadElement", "StoreElement", "LoadArrayLength",
		"NewObject", "LoadField", "StoreField",
		"Return", "Call", "Branch",
		"BranchEq", "BranchNe", "BranchGt", "BranchGe", "BranchLt", "BranchLe",
		"CompareEq", "CompareNe", "CompareGt", "CompareGe", "CompareLt", "CompareLe",
	}
	if int(op) < 0 || int(op) >= len(names) {
		return fmt.Sprintf("Opcode(%d)", op)
	}
	return names[op]
}

// IsConditionalBranch reports whether op is one of the BranchXX family that
// pops two operands and conditionally jumps.
func (op Opcode) IsConditionalBranch() bool {
	switch op {
	case OpBranchEq, OpBranchNe, OpBranchGt, OpBranchGe, OpBranchLt, OpBranchLe:
		return true
	}
	return false
}

// IsCompare reports whether op is one of the non-branching CompareXX family.
func (op Opcode) IsCompare() bool {
	switch op {
	case OpCompareEq, OpCompareNe, OpCompareGt, OpCompareGe, OpCompareLt, OpCompareLe:
		return true
	}
	return false
}

// FunctionSignature is the binding key for calls: name plus parameter types.
// Return type is not part of overload resolution, matching spec.md §3.
type FunctionSignature struct {
	Name   string
	Params []*Type
}

func (s FunctionSignature) Equal(o FunctionSignature) bool {
	if s.Name != o.Name || len(s.Params) != len(o.Params) {
		return false
	}
	for i := range s.Params {
		if !s.Params[i].Equal(o.Params[i]) {
			return false
		}
	}
	return true
}

func (s FunctionSignature) String() string {
	str := s.Name + "("
	for i, p := range s.Params {
		if i > 0 {
			str += ", "
		}
		str += p.String()
	}
	return str + ")"
}

// Instruction is one bytecode instruction. Not every field is meaningful for
// every Op - see the comment block for each operand's owning opcodes.
type Instruction struct {
	Op Opcode

	// Int32Value: LoadInt32
	Int32Value int32
	// Float32Value: LoadFloat32
	Float32Value float32
	// Index: LoadLocal/StoreLocal/LoadArgument (local or argument index)
	Index int
	// Type: LoadNull, NewArray, LoadElement, StoreElement
	Type *Type
	// ClassName/FieldName: NewObject, LoadField, StoreField
	ClassName string
	FieldName string
	// Target: Branch, BranchEq/Ne/Gt/Ge/Lt/Le - absolute bytecode index
	Target int
	// Signature: Call
	Signature FunctionSignature
}

func (i *Instruction) String() string {
	return fmt.Sprintf("%s", i.Op)
}
