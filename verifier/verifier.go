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
	"stackjit/ast"
)

// deferredBranchCheck records a branch's operand-stack snapshot at the
// source instruction, to be compared against the target's snapshot once
// every instruction has been scanned (the target may be ahead of the
// source in the linear walk).
type deferredBranchCheck struct {
	source   int
	target   int
	snapshot ast.OperandStackSnapshot
}

// stack is the verifier's simulated operand stack: a plain type slice, top
// at the end.
type stack []*ast.Type

func (s stack) snapshot() ast.OperandStackSnapshot {
	// Copy since the verifier mutates s in place afterwards; store
	// lowest-to-highest, matching the order spec.md's "elementwise by
	// type" comparison assumes.
	cp := make(ast.OperandStackSnapshot, len(s))
	copy(cp, s)
	return cp
}

// Verify type-checks fn's bytecode against prog's declared functions and
// classes. On success it populates fn.Snapshots (per-instruction,
// entry-state) and fn.MaxOperandDepth.
func Verify(prog *ast.Program, fn *ast.Function) error {
	if !fn.IsManaged() {
		return nil
	}
	for _, p := range fn.Declaration.Parameters {
		if p.IsVoid() {
			return &Error{Kind: ParameterCannotBeVoid, Instruction: -1}
		}
	}
	for _, l := range fn.Locals {
		if l.IsVoid() {
			return &Error{Kind: LocalCannotBeVoid, Instruction: -1}
		}
	}

	v := &verifyState{prog: prog, fn: fn}
	return v.run()
}

type verifyState struct {
	prog *ast.Program
	fn   *ast.Function

	st       stack
	maxDepth int

	snapshots []ast.OperandStackSnapshot
	deferred  []deferredBranchCheck
}

func (v *verifyState) fail(kind ErrorKind, i int) error {
	return &Error{Kind: kind, Instruction: i}
}

func (v *verifyState) push(t *ast.Type) {
	v.st = append(v.st, t)
	if len(v.st) > v.maxDepth {
		v.maxDepth = len(v.st)
	}
}

func (v *verifyState) pop(i int) (*ast.Type, error) {
	if len(v.st) == 0 {
		return nil, v.fail(EmptyOperandStack, i)
	}
	t := v.st[len(v.st)-1]
	v.st = v.st[:len(v.st)-1]
	return t, nil
}

func (v *verifyState) expect(i int, t *ast.Type) error {
	actual, err := v.pop(i)
	if err != nil {
		return err
	}
	if !actual.Equal(t) {
		return &Error{Kind: WrongType, Instruction: i, Expected: t, Actual: actual}
	}
	return nil
}

func (v *verifyState) run() error {
	instrs := v.fn.Instructions
	v.snapshots = make([]ast.OperandStackSnapshot, len(instrs))

	for i, inst := range instrs {
		v.snapshots[i] = v.st.snapshot()
		if err := v.step(i, inst); err != nil {
			return err
		}
	}

	if len(v.st) != 0 {
		return v.fail(NonEmptyOperandStackOnReturn, len(instrs)-1)
	}

	for _, d := range v.deferred {
		targetSnap := v.snapshots[d.target]
		if len(targetSnap) != len(d.snapshot) {
			return &Error{
				Kind: BranchDifferentNumberOfOperands, Instruction: d.source,
				ExpectedCount: len(d.snapshot), ActualCount: len(targetSnap),
			}
		}
		for k := range targetSnap {
			if !targetSnap[k].Equal(d.snapshot[k]) {
				return &Error{Kind: WrongType, Instruction: d.source, Expected: d.snapshot[k], Actual: targetSnap[k]}
			}
		}
	}

	v.fn.Snapshots = v.snapshots
	v.fn.MaxOperandDepth = v.maxDepth
	return nil
}

func (v *verifyState) checkBranchTarget(i, target int) error {
	if target < 0 || target >= len(v.fn.Instructions) {
		return v.fail(InvalidBranchTarget, i)
	}
	return nil
}

func (v *verifyState) step(i int, inst *ast.Instruction) error {
	switch inst.Op {
	case ast.OpLoadInt32:
		v.push(ast.TInt32)
	case ast.OpLoadFloat32:
		v.push(ast.TFloat32)
	case ast.OpLoadTrue, ast.OpLoadFalse:
		v.push(ast.TBool)
	case ast.OpLoadNull:
		if inst.Type == nil || !inst.Type.IsReference() {
			return &Error{Kind: WrongType, Instruction: i, Expected: inst.Type}
		}
		v.push(inst.Type)

	case ast.OpLoadLocal:
		if inst.Index < 0 || inst.Index >= len(v.fn.Locals) {
			return v.fail(LocalIndexOutOfRange, i)
		}
		v.push(v.fn.Locals[inst.Index])
	case ast.OpStoreLocal:
		if inst.Index < 0 || inst.Index >= len(v.fn.Locals) {
			return v.fail(LocalIndexOutOfRange, i)
		}
		if err := v.expect(i, v.fn.Locals[inst.Index]); err != nil {
			return err
		}
	case ast.OpLoadArgument:
		params := v.fn.Declaration.Parameters
		if inst.Index < 0 || inst.Index >= len(params) {
			return v.fail(ArgumentIndexOutOfRange, i)
		}
		v.push(params[inst.Index])

	case ast.OpAdd, ast.OpSub, ast.OpMultiply, ast.OpDivide:
		b, err := v.pop(i)
		if err != nil {
			return err
		}
		a, err := v.pop(i)
		if err != nil {
			return err
		}
		if !a.IsNumeric() || !a.Equal(b) {
			return v.fail(WrongArithmeticOperands, i)
		}
		v.push(a)
	case ast.OpAnd, ast.OpOr:
		if err := v.expect(i, ast.TBool); err != nil {
			return err
		}
		if err := v.expect(i, ast.TBool); err != nil {
			return err
		}
		v.push(ast.TBool)
	case ast.OpNot:
		if err := v.expect(i, ast.TBool); err != nil {
			return err
		}
		v.push(ast.TBool)

	case ast.OpNewArray:
		if err := v.expect(i, ast.TInt32); err != nil {
			return err
		}
		v.push(ast.ArrayOf(inst.Type))
	case ast.OpLoadElement:
		arr, err := v.pop(i)
		if err != nil {
			return err
		}
		if err := v.expect(i, ast.TInt32); err != nil {
			return err
		}
		if !arr.IsArray() || !arr.Elem.Equal(inst.Type) {
			return v.fail(ExpectedArrayReference, i)
		}
		v.push(inst.Type)
	case ast.OpStoreElement:
		if err := v.expect(i, inst.Type); err != nil {
			return err
		}
		if err := v.expect(i, ast.TInt32); err != nil {
			return err
		}
		arr, err := v.pop(i)
		if err != nil {
			return err
		}
		if !arr.IsArray() || !arr.Elem.Equal(inst.Type) {
			return v.fail(ExpectedArrayReference, i)
		}
	case ast.OpLoadArrayLength:
		arr, err := v.pop(i)
		if err != nil {
			return err
		}
		if !arr.IsArray() {
			return v.fail(ExpectedArrayReference, i)
		}
		v.push(ast.TInt32)

	case ast.OpNewObject:
		class := v.prog.FindClass(inst.ClassName)
		if class == nil {
			return &Error{Kind: ClassTypeNotDefined, Instruction: i, ClassName: inst.ClassName}
		}
		v.push(ast.ClassOf(inst.ClassName))
	case ast.OpLoadField:
		class := v.prog.FindClass(inst.ClassName)
		if class == nil {
			return &Error{Kind: ClassTypeNotDefined, Instruction: i, ClassName: inst.ClassName}
		}
		field := class.Field(inst.FieldName)
		if field == nil {
			return &Error{Kind: FieldNotDefined, Instruction: i, ClassName: inst.ClassName, FieldName: inst.FieldName}
		}
		if err := v.expect(i, ast.ClassOf(inst.ClassName)); err != nil {
			return err
		}
		v.push(field.Type)
	case ast.OpStoreField:
		class := v.prog.FindClass(inst.ClassName)
		if class == nil {
			return &Error{Kind: ClassTypeNotDefined, Instruction: i, ClassName: inst.ClassName}
		}
		field := class.Field(inst.FieldName)
		if field == nil {
			return &Error{Kind: FieldNotDefined, Instruction: i, ClassName: inst.ClassName, FieldName: inst.FieldName}
		}
		if err := v.expect(i, field.Type); err != nil {
			return err
		}
		if err := v.expect(i, ast.ClassOf(inst.ClassName)); err != nil {
			return err
		}

	case ast.OpReturn:
		if !v.fn.Declaration.Return.IsVoid() {
			if err := v.expect(i, v.fn.Declaration.Return); err != nil {
				return err
			}
		}

	case ast.OpCall:
		target := v.prog.FindFunction(inst.Signature)
		if target == nil {
			return &Error{Kind: FunctionNotDefined, Instruction: i, Signature: inst.Signature}
		}
		n := len(inst.Signature.Params)
		if len(v.st) < n {
			return &Error{Kind: ExpectedNumberOfOperands, Instruction: i, ExpectedCount: n, ActualCount: len(v.st)}
		}
		for k := n - 1; k >= 0; k-- {
			if err := v.expect(i, inst.Signature.Params[k]); err != nil {
				return err
			}
		}
		if !target.Declaration.Return.IsVoid() {
			v.push(target.Declaration.Return)
		}

	case ast.OpBranch:
		if err := v.checkBranchTarget(i, inst.Target); err != nil {
			return err
		}
		v.deferred = append(v.deferred, deferredBranchCheck{source: i, target: inst.Target, snapshot: v.st.snapshot()})

	default:
		if inst.Op.IsConditionalBranch() {
			if err := v.checkBranchTarget(i, inst.Target); err != nil {
				return err
			}
			b, err := v.pop(i)
			if err != nil {
				return err
			}
			a, err := v.pop(i)
			if err != nil {
				return err
			}
			if !a.Equal(b) {
				return &Error{Kind: WrongType, Instruction: i, Expected: a, Actual: b}
			}
			if !comparable(inst.Op, a) {
				return v.fail(ExpectedComparableType, i)
			}
			v.deferred = append(v.deferred, deferredBranchCheck{source: i, target: inst.Target, snapshot: v.st.snapshot()})
		} else if inst.Op.IsCompare() {
			b, err := v.pop(i)
			if err != nil {
				return err
			}
			a, err := v.pop(i)
			if err != nil {
				return err
			}
			if !a.Equal(b) {
				return &Error{Kind: WrongType, Instruction: i, Expected: a, Actual: b}
			}
			if !comparable(inst.Op, a) {
				return v.fail(ExpectedComparableType, i)
			}
			v.push(ast.TBool)
		} else {
			return v.fail(ExpectedNumberOfOperands, i)
		}
	}
	return nil
}

// comparable reports whether t may be compared with op. Equality/inequality
// work on any type; ordering (<,<=,>,>=) is restricted to numeric types.
func comparable(op ast.Opcode, t *ast.Type) bool {
	switch op {
	case ast.OpBranchEq, ast.OpBranchNe, ast.OpCompareEq, ast.OpCompareNe:
		return true
	default:
		return t.IsNumeric()
	}
}
