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
	"fmt"

	"stackjit/ast"
)

type ErrorKind int

const (
	EmptyOperandStack ErrorKind = iota
	NonEmptyOperandStackOnReturn
	LocalIndexOutOfRange
	ArgumentIndexOutOfRange
	WrongType
	WrongArithmeticOperands
	FunctionNotDefined
	ExpectedNumberOfOperands
	ParameterCannotBeVoid
	LocalCannotBeVoid
	InvalidBranchTarget
	BranchDifferentNumberOfOperands
	ExpectedComparableType
	ExpectedArrayReference
	ClassTypeNotDefined
	FieldNotDefined
)

func (k ErrorKind) String() string {
	names := [...]string{
		"EmptyOperandStack", "NonEmptyOperandStackOnReturn", "LocalIndexOutOfRange",
		"ArgumentIndexOutOfRange", "WrongType", "WrongArithmeticOperands",
		"FunctionNotDefined", "ExpectedNumberOfOperands", "ParameterCannotBeVoid",
		"LocalCannotBeVoid", "InvalidBranchTarget", "BranchDifferentNumberOfOperands",
		"ExpectedComparableType", "ExpectedArrayReference", "ClassTypeNotDefined",
		"FieldNotDefined",
	}
	if int(k) < 0 || int(k) >= len(names) {
		return "UnknownError"
	}
	return names[k]
}

// Error is a static verification failure. Instruction is -1 when the error
// isn't tied to one particular bytecode offset (e.g. ParameterCannotBeVoid).
type Error struct {
	Kind        ErrorKind
	Instruction int

	Expected *ast.Type
	Actual   *ast.Type

	Signature ast.FunctionSignature
	ClassName string
	FieldName string

	ExpectedCount int
	ActualCount   int
}

func (e *Error) Error() string {
	switch e.Kind {
	case WrongType:
		return fmt.Sprintf("verifier: instruction %d: expected type %s, got %s", e.Instruction, e.Expected, e.Actual)
	case FunctionNotDefined:
		return fmt.Sprintf("verifier: instruction %d: function not defined: %s", e.Instruction, e.Signature)
	case BranchDifferentNumberOfOperands:
		return fmt.Sprintf("verifier: instruction %d: branch target operand count mismatch: %d vs %d", e.Instruction, e.ExpectedCount, e.ActualCount)
	case ClassTypeNotDefined:
		return fmt.Sprintf("verifier: instruction %d: class not defined: %s", e.Instruction, e.ClassName)
	case FieldNotDefined:
		return fmt.Sprintf("verifier: instruction %d: field not defined: %s.%s", e.Instruction, e.ClassName, e.FieldName)
	case ExpectedNumberOfOperands:
		return fmt.Sprintf("verifier: instruction %d: expected %d operands, got %d", e.Instruction, e.ExpectedCount, e.ActualCount)
	default:
		return fmt.Sprintf("verifier: instruction %d: %s", e.Instruction, e.Kind)
	}
}
