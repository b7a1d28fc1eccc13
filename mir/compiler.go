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
package mir

import (
	"stackjit/ast"
	"stackjit/utils"
)

// intrinsicMacros maps a recognized call signature (name, 0 params) to the
// pseudo-op it lowers to directly, bypassing normal call emission
// (spec.md §4.2, §6).
var intrinsicMacros = map[string]Op{
	"std.gc.collect":            OpGarbageCollect,
	"std.gc.print_stack_frame":  OpPrintStackFrame,
}

// Compile lowers fn's verified bytecode to MIR. fn must already have
// Snapshots/MaxOperandDepth populated by verifier.Verify.
func Compile(prog *ast.Program, fn *ast.Function) *CompilationResult {
	utils.Assert(fn.Snapshots != nil, "mir.Compile: function %s not verified", fn.Declaration.Name)

	bm := NewBranchManager()
	DiscoverLabels(bm, fn.Instructions)

	c := &compiler{
		prog: prog,
		fn:   fn,
		bm:   bm,
	}
	c.localRegs = make([]int, len(fn.Locals))
	c.vrTypes = make(map[int]*ast.Type)
	for i := range fn.Locals {
		c.localRegs[i] = i
		c.vrTypes[i] = fn.Locals[i]
	}
	c.nextVR = len(fn.Locals)

	for idx, inst := range fn.Instructions {
		if label, ok := bm.LabelAt(idx); ok {
			c.emitRaw(&Instr{Op: OpBranchLabel, Label: label, BytecodeIndex: idx})
		}
		c.translate(idx, inst)
	}

	needZero := []int{}
	for i, t := range fn.Locals {
		if t.IsReference() {
			needZero = append(needZero, c.localRegs[i])
		}
	}

	return &CompilationResult{
		Instructions:                c.out,
		NumVirtualRegisters:         c.nextVR,
		LocalVirtualRegisters:       c.localRegs,
		NeedZeroInitializeRegisters: needZero,
		InstructionsOperandStack:    c.operandStacks,
		VirtualRegisterTypes:        c.vrTypes,
	}
}

type compiler struct {
	prog *ast.Program
	fn   *ast.Function
	bm   *BranchManager

	localRegs []int
	nextVR    int
	opStack   []Reg
	vrTypes   map[int]*ast.Type

	out           []*Instr
	operandStacks [][]int
}

func (c *compiler) emitRaw(i *Instr) {
	c.out = append(c.out, i)
	c.operandStacks = append(c.operandStacks, c.stackNumbers())
}

func (c *compiler) stackNumbers() []int {
	nums := make([]int, len(c.opStack))
	for i, r := range c.opStack {
		nums[i] = r.Number
	}
	return nums
}

func (c *compiler) push(t *ast.Type) Reg {
	r := Reg{Number: c.nextVR, Type: t}
	c.vrTypes[r.Number] = t
	c.nextVR++
	c.opStack = append(c.opStack, r)
	return r
}

func (c *compiler) pop() Reg {
	utils.Assert(len(c.opStack) > 0, "mir: operand stack underflow in %s", c.fn.Declaration.Name)
	r := c.opStack[len(c.opStack)-1]
	c.opStack = c.opStack[:len(c.opStack)-1]
	c.nextVR--
	utils.Assert(c.nextVR == r.Number, "mir: operand counter invariant violated")
	return r
}

func (c *compiler) translate(idx int, inst *ast.Instruction) {
	e := func(i *Instr) {
		i.BytecodeIndex = idx
		c.emitRaw(i)
	}

	switch inst.Op {
	case ast.OpLoadInt32:
		dest := c.push(ast.TInt32)
		e(&Instr{Op: OpFromBytecode, Bytecode: inst.Op, Dest: &dest, Int32Value: inst.Int32Value})
	case ast.OpLoadFloat32:
		dest := c.push(ast.TFloat32)
		e(&Instr{Op: OpFromBytecode, Bytecode: inst.Op, Dest: &dest, Float32Value: inst.Float32Value})
	case ast.OpLoadTrue:
		dest := c.push(ast.TBool)
		e(&Instr{Op: OpFromBytecode, Bytecode: inst.Op, Dest: &dest, Int32Value: 1})
	case ast.OpLoadFalse:
		dest := c.push(ast.TBool)
		e(&Instr{Op: OpFromBytecode, Bytecode: inst.Op, Dest: &dest, Int32Value: 0})
	case ast.OpLoadNull:
		dest := c.push(inst.Type)
		e(&Instr{Op: OpFromBytecode, Bytecode: inst.Op, Dest: &dest, Type: inst.Type})

	case ast.OpLoadLocal:
		srcNum := c.localRegs[inst.Index]
		dest := c.push(c.fn.Locals[inst.Index])
		e(&Instr{Op: OpMove, Dest: &dest, Args: []Reg{{Number: srcNum, Type: dest.Type}}})
	case ast.OpStoreLocal:
		src := c.pop()
		dstNum := c.localRegs[inst.Index]
		dst := Reg{Number: dstNum, Type: c.fn.Locals[inst.Index]}
		e(&Instr{Op: OpMove, Dest: &dst, Args: []Reg{src}})
	case ast.OpLoadArgument:
		dest := c.push(c.fn.Declaration.Parameters[inst.Index])
		e(&Instr{Op: OpFromBytecode, Bytecode: inst.Op, Dest: &dest, Index: inst.Index})

	case ast.OpAdd, ast.OpSub, ast.OpMultiply, ast.OpDivide:
		b := c.pop()
		a := c.pop()
		dest := c.push(a.Type)
		e(&Instr{Op: OpFromBytecode, Bytecode: inst.Op, Dest: &dest, Args: []Reg{a, b}, Type: a.Type})
	case ast.OpAnd, ast.OpOr:
		b := c.pop()
		a := c.pop()
		dest := c.push(ast.TBool)
		e(&Instr{Op: OpFromBytecode, Bytecode: inst.Op, Dest: &dest, Args: []Reg{a, b}})
	case ast.OpNot:
		a := c.pop()
		dest := c.push(ast.TBool)
		e(&Instr{Op: OpFromBytecode, Bytecode: inst.Op, Dest: &dest, Args: []Reg{a}})

	case ast.OpNewArray:
		size := c.pop()
		dest := c.push(ast.ArrayOf(inst.Type))
		e(&Instr{Op: OpFromBytecode, Bytecode: inst.Op, Dest: &dest, Args: []Reg{size}, Type: inst.Type})
	case ast.OpLoadElement:
		index := c.pop()
		arr := c.pop()
		dest := c.push(inst.Type)
		e(&Instr{Op: OpFromBytecode, Bytecode: inst.Op, Dest: &dest, Args: []Reg{arr, index}, Type: inst.Type})
	case ast.OpStoreElement:
		value := c.pop()
		index := c.pop()
		arr := c.pop()
		e(&Instr{Op: OpFromBytecode, Bytecode: inst.Op, Args: []Reg{arr, index, value}, Type: inst.Type})
	case ast.OpLoadArrayLength:
		arr := c.pop()
		dest := c.push(ast.TInt32)
		e(&Instr{Op: OpFromBytecode, Bytecode: inst.Op, Dest: &dest, Args: []Reg{arr}})

	case ast.OpNewObject:
		dest := c.push(ast.ClassOf(inst.ClassName))
		e(&Instr{Op: OpFromBytecode, Bytecode: inst.Op, Dest: &dest, ClassName: inst.ClassName})
	case ast.OpLoadField:
		obj := c.pop()
		class := c.prog.FindClass(inst.ClassName)
		field := class.Field(inst.FieldName)
		dest := c.push(field.Type)
		e(&Instr{Op: OpFromBytecode, Bytecode: inst.Op, Dest: &dest, Args: []Reg{obj}, ClassName: inst.ClassName, FieldName: inst.FieldName})
	case ast.OpStoreField:
		value := c.pop()
		obj := c.pop()
		e(&Instr{Op: OpFromBytecode, Bytecode: inst.Op, Args: []Reg{obj, value}, ClassName: inst.ClassName, FieldName: inst.FieldName})

	case ast.OpReturn:
		if c.fn.Declaration.Return.IsVoid() {
			e(&Instr{Op: OpFromBytecode, Bytecode: inst.Op})
		} else {
			v := c.pop()
			e(&Instr{Op: OpFromBytecode, Bytecode: inst.Op, Args: []Reg{v}, Type: c.fn.Declaration.Return})
		}

	case ast.OpCall:
		if macro, ok := intrinsicMacros[inst.Signature.Name]; ok && len(inst.Signature.Params) == 0 {
			e(&Instr{Op: macro})
			break
		}
		n := len(inst.Signature.Params)
		args := make([]Reg, n)
		for k := n - 1; k >= 0; k-- {
			args[k] = c.pop()
		}
		target := c.prog.FindFunction(inst.Signature)
		instr := &Instr{Op: OpFromBytecode, Bytecode: inst.Op, Args: args, Signature: inst.Signature}
		if !target.Declaration.Return.IsVoid() {
			dest := c.push(target.Declaration.Return)
			instr.Dest = &dest
		}
		e(instr)

	case ast.OpBranch:
		e(&Instr{Op: OpFromBytecode, Bytecode: inst.Op, Label: c.bm.LabelOf(inst.Target)})

	default:
		if inst.Op.IsConditionalBranch() {
			b := c.pop()
			a := c.pop()
			e(&Instr{Op: OpFromBytecode, Bytecode: inst.Op, Args: []Reg{a, b}, Type: a.Type, Label: c.bm.LabelOf(inst.Target)})
		} else if inst.Op.IsCompare() {
			b := c.pop()
			a := c.pop()
			dest := c.push(ast.TBool)
			e(&Instr{Op: OpFromBytecode, Bytecode: inst.Op, Dest: &dest, Args: []Reg{a, b}, Type: a.Type})
		} else {
			utils.ShouldNotReachHere()
		}
	}
}
