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

// Package mir implements the register-based mid-level IR this JIT lowers
// bytecode into: MIR construction, basic blocks, the control-flow graph,
// liveness intervals and null-check elision (spec.md §4.2-§4.5).
package mir

import (
	"fmt"

	"stackjit/ast"
)

// RegisterClass is the allocator's view of a virtual register: Float32
// registers are class Float, everything else (Bool/Int32/references) is
// class Int.
type RegisterClass int

const (
	ClassInt RegisterClass = iota
	ClassFloat
)

// Reg is a virtual register: identical Number+Type is the same register
// (spec.md §3's "RegisterMIR(number, type)").
type Reg struct {
	Number int
	Type   *ast.Type
}

func (r Reg) Class() RegisterClass {
	if r.Type != nil && r.Type.IsFloat32() {
		return ClassFloat
	}
	return ClassInt
}

func (r Reg) String() string { return fmt.Sprintf("r%d", r.Number) }

// Op is the MIR opcode repertoire: the same opcodes as bytecode
// (ast.Opcode), plus MIR-only pseudo-instructions.
type Op int

const (
	// Reuses ast.Opcode's numeric space isn't safe (different type), so MIR
	// carries its own Op that embeds the bytecode opcode for the shared
	// instructions and adds pseudo-ops for the rest.
	OpFromBytecode Op = iota // placeholder, never used directly; see Instr.Bytecode
	OpMove
	OpBranchLabel
	OpGarbageCollect
	OpPrintStackFrame
	OpNullReferenceCheck // never emitted: codegen inserts null checks itself (emitNullCheck), guided by the null-check analysis
)

// Instr is one MIR instruction. For ordinary (bytecode-shared) opcodes,
// Bytecode holds the ast.Opcode and Op is left as OpFromBytecode; Dest/Args
// carry the virtual registers that replace the implicit operand stack.
// Everything else (constants, branch targets, field/class names, call
// signature) is carried the same way ast.Instruction carries it.
type Instr struct {
	Op       Op
	Bytecode ast.Opcode

	Dest *Reg
	Args []Reg

	Int32Value   int32
	Float32Value float32
	Type         *ast.Type
	ClassName    string
	FieldName    string
	// Index is LoadArgument's argument index.
	Index int

	// Label is the BranchManager-assigned label id: for OpBranchLabel it's
	// this instruction's own label; for branch opcodes sharing Bytecode it
	// is the branch's target label.
	Label int

	Signature ast.FunctionSignature

	// BytecodeIndex ties this MIR instruction back to the bytecode
	// instruction it was lowered from - the GC/stack walker need it to map
	// a live frame's resume point back to a root set (spec.md §4.11-§4.12).
	BytecodeIndex int
}

func (i *Instr) IsBranch() bool {
	return i.Op == OpFromBytecode && (i.Bytecode == ast.OpBranch || i.Bytecode.IsConditionalBranch())
}

func (i *Instr) IsReturn() bool {
	return i.Op == OpFromBytecode && i.Bytecode == ast.OpReturn
}

func (i *Instr) IsUnconditionalBranch() bool {
	return i.Op == OpFromBytecode && i.Bytecode == ast.OpBranch
}

// CompilationResult is the MIR compiler's output for one function
// (spec.md §4.2's MIRCompilationResult).
type CompilationResult struct {
	Instructions []*Instr

	NumVirtualRegisters int
	// LocalVirtualRegisters maps local index -> virtual register number.
	LocalVirtualRegisters []int
	// NeedZeroInitializeRegisters lists reference-typed local VR numbers
	// that must be zeroed in the prologue, so the stack walker never sees
	// an uninitialized pointer as a root.
	NeedZeroInitializeRegisters []int
	// InstructionsOperandStack[i] lists the VR numbers holding operand-stack
	// content live at MIR instruction i, recorded from the compiler's own
	// operand stack once instruction i has been emitted.
	InstructionsOperandStack [][]int
	// VirtualRegisterTypes maps every VR number this function ever defines
	// or reads to its declared type - the same number always carries the
	// same type (spec.md §3's RegisterMIR identity), so one definition-time
	// observation is authoritative. The stack walker and GC root scan use
	// this to tell which home slots hold references at all, rather than
	// treating every local/operand slot as a root candidate.
	VirtualRegisterTypes map[int]*ast.Type
}
