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
package codegen

import (
	"stackjit/ast"
	"stackjit/mir"
	"stackjit/utils"
)

// TrapKind identifies which fatal condition a ServiceRaiseError call is
// reporting; runtime/error_manager.go turns one of these, plus the
// bytecode index the trap fired at, into the RuntimeError a host program
// observes (spec.md §4.10, §7). NullReference, ArrayCreate and
// ArrayBounds are the three spec.md §1/§7 names this exact taxonomy;
// DivideByZero is added per SPEC_FULL.md §4's resolution of the
// DivideInt32 open question - a first-class bytecode instruction needs a
// first-class way to report its one failure mode.
type TrapKind int32

const (
	TrapNullReference TrapKind = iota
	TrapArrayBounds
	TrapArrayCreate
	TrapDivideByZero
)

// CallFixup records a Call low-IR instruction whose target function's
// final address isn't known until every function has been placed in the
// executable buffer; resolver.go patches these once placement is done.
type CallFixup struct {
	LocalOffset int
	Target      ast.FunctionSignature
}

// StackMapEntry lists which virtual registers hold a live reference at one
// call or allocation site, identified by its byte offset within the
// function's code. runtime/stack_walker.go cross-references this with
// FrameLayout.VRSlotOffset to build a root set (spec.md §4.11-§4.12).
// InstructionIndex is kept alongside so PrintStackFrame can recover the
// *untyped-filtered* operand stack too (CompiledFunction.MIR's
// InstructionsOperandStack), not just the reference-typed subset the GC
// cares about.
type StackMapEntry struct {
	LocalOffset      int
	InstructionIndex int
	LiveRefVRs       []int
}

// CompiledFunction is one function's finished machine code, still
// addressed relative to its own start (offset 0): resolver.go relocates it
// into the shared ExecutableBuffer.
type CompiledFunction struct {
	Signature   ast.FunctionSignature
	Code        []byte
	Frame       *FrameLayout
	NumParams   int
	CallFixups  []CallFixup
	StackMaps   []StackMapEntry
	EntryOffset int // filled in by resolver.go once placed

	// MIR is the compiled function's MIR result, kept for PrintStackFrame's
	// benefit (operand-stack contents and virtual-register types to label
	// a dump with); the GC only ever needs StackMaps.
	MIR *mir.CompilationResult
}

type labelFixup struct {
	dispOffset int
	label      int
}

// emitter lowers one function's verified, allocated MIR straight to
// machine code. Low-IR selection and instruction encoding are fused into a
// single walk rather than built as two passes (spec.md §4.7/§4.8 describe
// them as adjacent stages; DESIGN.md records the simplification) - each
// mir.Instr still goes through the same three steps either way: resolve
// operand locations, select the instruction sequence, emit.
type emitter struct {
	prog   *ast.Program
	fn     *ast.Function
	mirRes *mir.CompilationResult
	alloc  *Allocation
	frame  *FrameLayout
	null   *mir.NullCheckResult

	asm *Assembler

	labelOffsets map[int]int
	labelFixups  []labelFixup
	callFixups   []CallFixup
	stackMaps    []StackMapEntry
}

// EmitFunction compiles fn's allocated MIR to x86-64 machine code.
func EmitFunction(prog *ast.Program, fn *ast.Function, mirRes *mir.CompilationResult, intervals []*mir.LiveInterval, alloc *Allocation, null *mir.NullCheckResult) *CompiledFunction {
	e := &emitter{
		prog:         prog,
		fn:           fn,
		mirRes:       mirRes,
		alloc:        alloc,
		null:         null,
		asm:          NewAssembler(),
		labelOffsets: map[int]int{},
	}
	e.frame = NewFrameLayout(mirRes.NumVirtualRegisters, alloc.UsedCalleeSaved)

	e.prologue()
	for i, inst := range mirRes.Instructions {
		e.translate(i, inst)
	}

	for _, fx := range e.labelFixups {
		target, ok := e.labelOffsets[fx.label]
		utils.Assert(ok, "codegen: unresolved label %d in %s", fx.label, fn.Declaration.Name)
		e.asm.PatchRel32(fx.dispOffset, target)
	}

	return &CompiledFunction{
		Signature:  fn.Declaration.Signature(),
		Code:       e.asm.Bytes(),
		Frame:      e.frame,
		NumParams:  len(fn.Declaration.Parameters),
		CallFixups: e.callFixups,
		StackMaps:  e.stackMaps,
		MIR:        mirRes,
	}
}

func (e *emitter) prologue() {
	a := e.asm
	a.Push(RBP)
	a.MovRegReg(RBP, RSP)
	for _, r := range e.frame.SavedCalleeSaved {
		a.Push(r)
	}

	frameDelta := int64(e.frame.FrameSize)
	_ = frameDelta
	// sub rsp, frameSize - emitted as a 64-bit immediate load into scratch
	// plus a register subtract, since the encoder only exposes reg-reg
	// arithmetic; this costs a few extra bytes but needs no new opcode.
	a.MovRegImm64(ScratchInt1, frameDelta)
	a.AddRegReg(RSP, ScratchInt1) // placeholder, corrected to Sub below
	e.reemitPrologueSub(frameDelta)

	a.MovStore(RBP, int32(e.frame.CtxSlotOffset()), CtxReg)
	a.MovStore(RBP, int32(e.frame.ArgsPtrSlotOffset()), ArgsPtrReg)

	for _, vr := range e.mirRes.NeedZeroInitializeRegisters {
		a.XorRegReg(ScratchInt1, ScratchInt1)
		a.MovStore(RBP, int32(e.frame.VRSlotOffset(vr)), ScratchInt1)
	}
}

// reemitPrologueSub replaces the placeholder add with a real subtract; kept
// as a separate step so the Assembler never needs a dedicated "sub rsp,
// imm" opcode form beyond the reg-reg one it already has.
func (e *emitter) reemitPrologueSub(frameDelta int64) {
	// Rewind the two placeholder instructions (MovRegImm64 + AddRegReg) and
	// re-emit correctly: load -frameDelta and add, which is a subtraction.
	code := e.asm.buf
	// MovRegImm64 is 2+8=10 bytes (REX+opcode+imm64), AddRegReg is 3 bytes.
	e.asm.buf = code[:len(code)-13]
	e.asm.MovRegImm64(ScratchInt1, -frameDelta)
	e.asm.AddRegReg(RSP, ScratchInt1)
}

func (e *emitter) epilogue() {
	a := e.asm
	if n := len(e.frame.SavedCalleeSaved); n > 0 {
		// Point RSP at the last callee-saved push, right below the saved RBP.
		a.MovRegImm64(ScratchInt1, -int64(n*SlotSize))
		a.MovRegReg(RSP, RBP)
		a.AddRegReg(RSP, ScratchInt1)
	}
	for i := len(e.frame.SavedCalleeSaved) - 1; i >= 0; i-- {
		a.Pop(e.frame.SavedCalleeSaved[i])
	}
	a.MovRegReg(RSP, RBP)
	a.Pop(RBP)
	a.Ret()
}

func (e *emitter) markLabel(id int) {
	e.labelOffsets[id] = e.asm.Len()
}

func (e *emitter) branchTo(label int, cond *Condition) {
	var off int
	if cond == nil {
		off = e.asm.Jmp()
	} else {
		off = e.asm.Jcc(*cond)
	}
	e.labelFixups = append(e.labelFixups, labelFixup{dispOffset: off, label: label})
}

// homeOf loads vr's current value into a register: its allocated hardware
// register if it has one, otherwise a scratch register loaded from its
// home stack slot. scratch picks between the two per-class scratch
// registers so a binary op can hold both operands live at once.
func (e *emitter) homeOf(r mir.Reg, scratch HardwareRegister) HardwareRegister {
	if hw, ok := e.alloc.RegisterOf(r.Number); ok {
		return hw
	}
	if r.Class() == mir.ClassFloat {
		e.asm.MovssLoad(scratch, RBP, int32(e.frame.VRSlotOffset(r.Number)))
	} else {
		e.asm.MovLoad(scratch, RBP, int32(e.frame.VRSlotOffset(r.Number)))
	}
	return scratch
}

func (e *emitter) scratchFor(cls mir.RegisterClass, which int) HardwareRegister {
	if cls == mir.ClassFloat {
		if which == 0 {
			return ScratchFloat1
		}
		return ScratchFloat2
	}
	if which == 0 {
		return ScratchInt1
	}
	return ScratchInt2
}

// storeResult writes result (computed in resultReg) to dest's home slot and,
// if dest also has an assigned hardware register distinct from resultReg,
// mirrors it there too so later reads of dest that found it resident skip
// the reload.
func (e *emitter) storeResult(dest mir.Reg, resultReg HardwareRegister) {
	if dest.Class() == mir.ClassFloat {
		e.asm.MovssStore(RBP, int32(e.frame.VRSlotOffset(dest.Number)), resultReg)
	} else {
		e.asm.MovStore(RBP, int32(e.frame.VRSlotOffset(dest.Number)), resultReg)
	}
	if hw, ok := e.alloc.RegisterOf(dest.Number); ok && hw != resultReg {
		if dest.Class() == mir.ClassFloat {
			e.asm.MovssRegReg(hw, resultReg)
		} else {
			e.asm.MovRegReg(hw, resultReg)
		}
	}
}

// liveRefVRsAt collects every reference-typed virtual register live at mir
// instruction i (locals plus whatever's on the operand stack there), for
// the stack map at a call or allocation site. Non-reference VRs (Int32,
// Float32, Bool) are excluded - the stack walker and GC must never treat an
// integer's bit pattern as a candidate pointer.
func (e *emitter) liveRefVRsAt(i int) []int {
	isRef := func(vr int) bool {
		t, ok := e.mirRes.VirtualRegisterTypes[vr]
		return ok && t.IsReference()
	}
	var live []int
	for _, vr := range e.mirRes.LocalVirtualRegisters {
		if isRef(vr) {
			live = append(live, vr)
		}
	}
	for _, vr := range e.mirRes.InstructionsOperandStack[i] {
		if isRef(vr) {
			live = append(live, vr)
		}
	}
	return live
}

// recordStackMapAt records a root set for mir instruction i, keyed by
// offset - the code position execution resumes at once the call or
// service request this stack map belongs to returns. That is always a
// post-call offset: the native return address the stack walker reads
// out of a parent frame, or (for the frame a runtime service was invoked
// from) the resume point bridge_amd64.s hands runtimeServiceDispatch.
func (e *emitter) recordStackMapAt(offset, i int) {
	e.stackMaps = append(e.stackMaps, StackMapEntry{
		LocalOffset:      offset,
		InstructionIndex: i,
		LiveRefVRs:       e.liveRefVRsAt(i),
	})
}

// refreshLiveRegisters reloads every hardware register holding a virtual
// register whose live interval covers MIR instruction i, from that
// register's home stack slot. Every VR definition is echoed to its home
// slot at write time (storeResult), so the slot is always authoritative;
// a call clobbers every allocatable hardware register (this JIT has no
// callee-saved convention for JIT-to-JIT or JIT-to-runtime calls beyond
// the fixed ctx/argsPtr slots), so the cheapest way to satisfy spec.md §3
// invariant I3 is to refresh the cache after the call returns rather than
// spill it into a dedicated buffer beforehand.
func (e *emitter) refreshLiveRegisters(i int) {
	for vr, hw := range e.alloc.AliveAt(i) {
		off := int32(e.frame.VRSlotOffset(vr))
		if hw.IsXMM() {
			e.asm.MovssLoad(hw, RBP, off)
		} else {
			e.asm.MovLoad(hw, RBP, off)
		}
	}
}

// callRuntime loads ctx from its home slot and issues a call to
// runtimeTrampoline with (req, arg) in RSI/RDX, per the convention
// bridge_amd64.s's entry point expects. Result comes back in RAX.
// bridge_amd64.s itself captures the caller's RBP and return address
// directly off the CPU and stack, so codegen never threads frame
// identity through as an extra argument - it only needs to report, via
// recordStackMapAt, which virtual registers are live at the offset this
// call returns to. callRuntime returns that offset.
func (e *emitter) callRuntime(req ServiceRequest, arg int64) int {
	a := e.asm
	a.MovLoad(RDI, RBP, int32(e.frame.CtxSlotOffset()))
	a.MovRegImm64(RSI, int64(req))
	a.MovRegImm64(RDX, arg)
	a.MovRegImm64(ScratchInt1, int64(runtimeTrampolineAddr()))
	a.CallReg(ScratchInt1)
	return e.asm.Len()
}

// callRuntimeArgReg is callRuntime for a runtime service whose argument is
// already in a register (e.g. an array length computed at runtime) rather
// than a compile-time constant.
func (e *emitter) callRuntimeArgReg(req ServiceRequest, argReg HardwareRegister) int {
	a := e.asm
	a.MovLoad(RDI, RBP, int32(e.frame.CtxSlotOffset()))
	a.MovRegImm64(RSI, int64(req))
	a.MovRegReg(RDX, argReg)
	a.MovRegImm64(ScratchInt1, int64(runtimeTrampolineAddr()))
	a.CallReg(ScratchInt1)
	return e.asm.Len()
}

func (e *emitter) raiseTrap(kind TrapKind, detail int32) {
	arg := int64(kind)<<32 | int64(uint32(detail))
	e.callRuntime(ServiceRaiseError, arg)
}

// emitNullCheck inserts a trap if reg (the just-loaded reference) may be
// null at instruction i, per the null-check elision analysis (spec.md
// §4.5): a proven-never-null reference skips the check entirely.
func (e *emitter) emitNullCheck(i int, reg mir.Reg, hw HardwareRegister) {
	if !e.null.MaybeNull(i, reg.Number) {
		return
	}
	e.asm.Test(hw, hw)
	var cond Condition = CondNE
	skipLabel := -1000000 - i // synthetic label id, unique per call site
	e.branchTo(skipLabel, &cond)
	e.raiseTrap(TrapNullReference, int32(i))
	e.markLabel(skipLabel)
}

func (e *emitter) translate(i int, inst *mir.Instr) {
	switch inst.Op {
	case mir.OpBranchLabel:
		e.markLabel(inst.Label)
		return
	case mir.OpMove:
		e.emitMove(inst)
		return
	case mir.OpGarbageCollect:
		off := e.callRuntime(ServiceCollectGarbage, 0)
		e.recordStackMapAt(off, i)
		e.refreshLiveRegisters(i)
		return
	case mir.OpPrintStackFrame:
		off := e.callRuntime(ServicePrintStackFrame, 0)
		e.recordStackMapAt(off, i)
		e.refreshLiveRegisters(i)
		return
	}

	utils.Assert(inst.Op == mir.OpFromBytecode, "codegen: unhandled mir op in %s", e.fn.Declaration.Name)
	switch inst.Bytecode {
	case ast.OpLoadInt32:
		e.loadConstInt(inst.Dest.Number, int64(inst.Int32Value))
	case ast.OpLoadTrue:
		e.loadConstInt(inst.Dest.Number, 1)
	case ast.OpLoadFalse:
		e.loadConstInt(inst.Dest.Number, 0)
	case ast.OpLoadNull:
		e.loadConstInt(inst.Dest.Number, 0)
	case ast.OpLoadFloat32:
		e.loadConstFloat(inst.Dest.Number, inst.Float32Value)

	case ast.OpLoadArgument:
		e.asm.MovLoad(ScratchInt1, RBP, int32(e.frame.ArgsPtrSlotOffset()))
		dest := *inst.Dest
		if dest.Class() == mir.ClassFloat {
			e.asm.MovssLoad(e.scratchFor(mir.ClassFloat, 0), ScratchInt1, int32(inst.Index*SlotSize))
			e.storeResult(dest, e.scratchFor(mir.ClassFloat, 0))
		} else {
			e.asm.MovLoad(ScratchInt2, ScratchInt1, int32(inst.Index*SlotSize))
			e.storeResult(dest, ScratchInt2)
		}

	case ast.OpAdd, ast.OpSub, ast.OpMultiply, ast.OpDivide:
		e.emitArith(i, inst)
	case ast.OpAnd:
		e.emitBoolBinary(inst, (*Assembler).AndRegReg)
	case ast.OpOr:
		e.emitBoolBinary(inst, (*Assembler).OrRegReg)
	case ast.OpNot:
		a := e.homeOf(inst.Args[0], e.scratchFor(mir.ClassInt, 0))
		dst := e.scratchFor(mir.ClassInt, 1)
		e.asm.MovRegImm64(dst, 1)
		e.asm.XorRegReg(dst, a)
		e.storeResult(*inst.Dest, dst)

	case ast.OpNewArray:
		e.emitNewArray(i, inst)
	case ast.OpLoadElement:
		e.emitLoadElement(i, inst)
	case ast.OpStoreElement:
		e.emitStoreElement(i, inst)
	case ast.OpLoadArrayLength:
		e.emitLoadArrayLength(i, inst)

	case ast.OpNewObject:
		e.emitNewObject(i, inst)
	case ast.OpLoadField:
		e.emitLoadField(i, inst)
	case ast.OpStoreField:
		e.emitStoreField(i, inst)

	case ast.OpReturn:
		if len(inst.Args) == 1 {
			hw := e.homeOf(inst.Args[0], e.scratchFor(inst.Args[0].Class(), 0))
			if inst.Args[0].Class() == mir.ClassFloat {
				e.asm.MovssRegReg(XMM0, hw)
			} else {
				e.asm.MovRegReg(RAX, hw)
			}
		}
		e.epilogue()

	case ast.OpCall:
		e.emitCall(i, inst)

	case ast.OpBranch:
		e.branchTo(inst.Label, nil)

	default:
		if inst.Bytecode.IsConditionalBranch() {
			e.emitConditionalBranch(inst)
		} else if inst.Bytecode.IsCompare() {
			e.emitCompare(inst)
		} else {
			utils.ShouldNotReachHere()
		}
	}
}

func (e *emitter) emitMove(inst *mir.Instr) {
	src := inst.Args[0]
	hw := e.homeOf(src, e.scratchFor(src.Class(), 0))
	e.storeResult(*inst.Dest, hw)
}

func (e *emitter) loadConstInt(destVR int, v int64) {
	e.asm.MovRegImm64(ScratchInt1, v)
	e.storeResult(mir.Reg{Number: destVR, Type: ast.TInt32}, ScratchInt1)
}

func (e *emitter) loadConstFloat(destVR int, v float32) {
	bits := int64(int32FromFloat32Bits(v))
	e.asm.MovRegImm64(ScratchInt1, bits)
	e.asm.MovStore(RBP, int32(e.frame.VRSlotOffset(destVR)), ScratchInt1)
	// Reload as a float so a hardware-resident destination ends up with the
	// value in its XMM register too, matching storeResult's contract.
	if hw, ok := e.alloc.RegisterOf(destVR); ok {
		e.asm.MovssLoad(hw, RBP, int32(e.frame.VRSlotOffset(destVR)))
	}
}

func (e *emitter) emitArith(i int, inst *mir.Instr) {
	a, b := inst.Args[0], inst.Args[1]
	if inst.Type.IsFloat32() {
		ra := e.homeOf(a, e.scratchFor(mir.ClassFloat, 0))
		rb := e.homeOf(b, e.scratchFor(mir.ClassFloat, 1))
		dst := ra
		if dst == rb {
			// Both operands resolved to the same scratch register (e.g.
			// repeated use of a dead value): copy one out first.
			dst = e.scratchFor(mir.ClassFloat, 0)
			e.asm.MovssRegReg(dst, ra)
		}
		switch inst.Bytecode {
		case ast.OpAdd:
			e.asm.AddSS(dst, rb)
		case ast.OpSub:
			e.asm.SubSS(dst, rb)
		case ast.OpMultiply:
			e.asm.MulSS(dst, rb)
		case ast.OpDivide:
			e.asm.DivSS(dst, rb)
		}
		e.storeResult(*inst.Dest, dst)
		return
	}

	ra := e.homeOf(a, e.scratchFor(mir.ClassInt, 0))
	rb := e.homeOf(b, e.scratchFor(mir.ClassInt, 1))
	dst := ra
	if dst == rb {
		dst = e.scratchFor(mir.ClassInt, 0)
		e.asm.MovRegReg(dst, ra)
	}
	switch inst.Bytecode {
	case ast.OpAdd:
		e.asm.AddRegReg(dst, rb)
	case ast.OpSub:
		e.asm.SubRegReg(dst, rb)
	case ast.OpMultiply:
		e.asm.IMulRegReg(dst, rb)
	case ast.OpDivide:
		e.emitDivideCheck(i, rb)
		// idiv hard-codes its dividend/remainder pair in RDX:RAX, clobbering
		// both regardless of what the allocator happened to home ra/rb/any
		// other live VR in - the same "every hardware register may be
		// clobbered" situation a call faces. Store the quotient to its home
		// slot first, then refresh every other live VR's register from its
		// own home slot exactly like a call site would (refreshLiveRegisters'
		// doc comment).
		e.asm.MovRegReg(RAX, dst)
		e.asm.Cqo()
		e.asm.IDiv(rb)
		e.storeResult(*inst.Dest, RAX)
		e.refreshLiveRegisters(i)
		return
	}
	e.storeResult(*inst.Dest, dst)
}

func (e *emitter) emitDivideCheck(i int, divisor HardwareRegister) {
	e.asm.Test(divisor, divisor)
	cond := CondNE
	label := -2000000 - i
	e.branchTo(label, &cond)
	e.raiseTrap(TrapDivideByZero, int32(i))
	e.markLabel(label)
}

func (e *emitter) emitBoolBinary(inst *mir.Instr, op func(*Assembler, HardwareRegister, HardwareRegister)) {
	a, b := inst.Args[0], inst.Args[1]
	ra := e.homeOf(a, e.scratchFor(mir.ClassInt, 0))
	rb := e.homeOf(b, e.scratchFor(mir.ClassInt, 1))
	dst := ra
	if dst == rb {
		dst = e.scratchFor(mir.ClassInt, 0)
		e.asm.MovRegReg(dst, ra)
	}
	op(e.asm, dst, rb)
	e.storeResult(*inst.Dest, dst)
}

func (e *emitter) emitCompare(inst *mir.Instr) {
	a, b := inst.Args[0], inst.Args[1]
	cond := compareCond(inst.Bytecode)
	if inst.Type.IsFloat32() {
		ra := e.homeOf(a, e.scratchFor(mir.ClassFloat, 0))
		rb := e.homeOf(b, e.scratchFor(mir.ClassFloat, 1))
		e.asm.Ucomiss(ra, rb)
	} else {
		ra := e.homeOf(a, e.scratchFor(mir.ClassInt, 0))
		rb := e.homeOf(b, e.scratchFor(mir.ClassInt, 1))
		e.asm.CmpRegReg(ra, rb)
	}
	dst := e.scratchFor(mir.ClassInt, 0)
	e.asm.Setcc(cond, dst)
	e.storeResult(*inst.Dest, dst)
}

func (e *emitter) emitConditionalBranch(inst *mir.Instr) {
	a, b := inst.Args[0], inst.Args[1]
	cond := branchCond(inst.Bytecode)
	if inst.Type.IsFloat32() {
		ra := e.homeOf(a, e.scratchFor(mir.ClassFloat, 0))
		rb := e.homeOf(b, e.scratchFor(mir.ClassFloat, 1))
		e.asm.Ucomiss(ra, rb)
	} else {
		ra := e.homeOf(a, e.scratchFor(mir.ClassInt, 0))
		rb := e.homeOf(b, e.scratchFor(mir.ClassInt, 1))
		e.asm.CmpRegReg(ra, rb)
	}
	e.branchTo(inst.Label, &cond)
}

func compareCond(op ast.Opcode) Condition {
	switch op {
	case ast.OpCompareEq:
		return CondEQ
	case ast.OpCompareNe:
		return CondNE
	case ast.OpCompareLt:
		return CondLT
	case ast.OpCompareLe:
		return CondLE
	case ast.OpCompareGt:
		return CondGT
	case ast.OpCompareGe:
		return CondGE
	}
	utils.ShouldNotReachHere()
	return CondEQ
}

func branchCond(op ast.Opcode) Condition {
	switch op {
	case ast.OpBranchEq:
		return CondEQ
	case ast.OpBranchNe:
		return CondNE
	case ast.OpBranchLt:
		return CondLT
	case ast.OpBranchLe:
		return CondLE
	case ast.OpBranchGt:
		return CondGT
	case ast.OpBranchGe:
		return CondGE
	}
	utils.ShouldNotReachHere()
	return CondEQ
}

func (e *emitter) emitNewObject(i int, inst *mir.Instr) {
	class := e.prog.FindClass(inst.ClassName)
	utils.Assert(class != nil, "codegen: unknown class %s", inst.ClassName)
	classID := e.prog.ClassIndex(inst.ClassName)
	utils.Assert(classID >= 0, "codegen: class %s has no index", inst.ClassName)
	off := e.callRuntime(ServiceNewObject, int64(classID))
	e.recordStackMapAt(off, i)
	e.storeResult(*inst.Dest, RAX)
	e.refreshLiveRegisters(i)
}

// elemKindOf maps a MIR OpNewArray instruction's element type - the type
// the bytecode-level array-create operand carries, preserved unchanged by
// verifier and mir (see ast/instruction.go, mir/compiler.go) - to the
// ArrayElementKind tag ServiceNewArray packs into its argument. The runtime
// has no other way to learn an array's element kind once allocated: MIR
// type information never survives past compile time.
func elemKindOf(t *ast.Type) ArrayElementKind {
	switch {
	case t.IsFloat32():
		return ElemFloat32
	case t.IsBool():
		return ElemBool
	case t.IsReference():
		return ElemReference
	default:
		return ElemInt32
	}
}

func (e *emitter) emitNewArray(i int, inst *mir.Instr) {
	size := e.homeOf(inst.Args[0], e.scratchFor(mir.ClassInt, 0))
	// Copy out of size's register before callRuntimeArgReg starts loading
	// ctx/req into RDI/RSI/RDX, in case the allocator happened to home size
	// in one of those.
	e.asm.MovRegReg(ScratchInt2, size)
	e.emitArrayCreateCheck(i, ScratchInt2)
	// Pack the element kind into the upper 32 bits alongside the length,
	// mirroring raiseTrap's kind<<32|detail packing, so the freshly
	// allocated array's header can record what the GC needs without any
	// compile-time type context.
	e.asm.MovRegImm64(ScratchInt1, int64(elemKindOf(inst.Type))<<32)
	e.asm.OrRegReg(ScratchInt2, ScratchInt1)
	off := e.callRuntimeArgReg(ServiceNewArray, ScratchInt2)
	e.recordStackMapAt(off, i)
	e.storeResult(*inst.Dest, RAX)
	e.refreshLiveRegisters(i)
}

// emitArrayCreateCheck raises TrapArrayCreate if sizeReg holds a
// non-positive value, per spec.md §7/§8 scenario 5.
func (e *emitter) emitArrayCreateCheck(i int, sizeReg HardwareRegister) {
	e.asm.MovRegImm64(ScratchInt1, 0)
	e.asm.CmpRegReg(sizeReg, ScratchInt1)
	cond := CondGT
	label := -4000000 - i
	e.branchTo(label, &cond)
	e.raiseTrap(TrapArrayCreate, int32(i))
	e.markLabel(label)
}

func (e *emitter) emitLoadArrayLength(i int, inst *mir.Instr) {
	arr := inst.Args[0]
	hw := e.homeOf(arr, e.scratchFor(mir.ClassInt, 0))
	e.emitNullCheck(i, arr, hw)
	e.asm.MovLoad(ScratchInt2, hw, -int32(SlotSize))
	e.storeResult(*inst.Dest, ScratchInt2)
}

// arrayElementAddr leaves the element's address in ScratchInt1 and the
// element's byte offset (index*8) in ScratchInt2, after raising
// TrapArrayBounds if index is out of [0, length).
func (e *emitter) arrayElementAddr(i int, arrReg, idxReg mir.Reg) {
	arrHw := e.homeOf(arrReg, e.scratchFor(mir.ClassInt, 0))
	e.emitNullCheck(i, arrReg, arrHw)
	idxHw := e.homeOf(idxReg, e.scratchFor(mir.ClassInt, 1))

	e.asm.MovLoad(ScratchInt1, arrHw, -int32(SlotSize)) // length
	e.asm.CmpRegReg(idxHw, ScratchInt1)
	okLabel := -3000000 - 2*i
	oob := CondLT
	// idxHw < length and idxHw >= 0 both required; two separate checks.
	e.branchTo(okLabel+1, &oob)
	e.raiseTrap(TrapArrayBounds, int32(i))
	e.markLabel(okLabel + 1)

	e.asm.Test(idxHw, idxHw)
	ge := CondGE
	e.branchTo(okLabel, &ge)
	e.raiseTrap(TrapArrayBounds, int32(i))
	e.markLabel(okLabel)

	e.asm.MovRegReg(ScratchInt2, idxHw)
	e.asm.AddRegReg(ScratchInt2, ScratchInt2)
	e.asm.AddRegReg(ScratchInt2, ScratchInt2)
	e.asm.AddRegReg(ScratchInt2, ScratchInt2) // x8: three doublings avoids needing a shl opcode
	arrHw = e.homeOf(arrReg, e.scratchFor(mir.ClassInt, 0))
	e.asm.MovRegReg(ScratchInt1, arrHw)
	e.asm.AddRegReg(ScratchInt1, ScratchInt2)
}

func (e *emitter) emitLoadElement(i int, inst *mir.Instr) {
	arr, idx := inst.Args[0], inst.Args[1]
	e.arrayElementAddr(i, arr, idx)
	if inst.Type.IsFloat32() {
		dst := e.scratchFor(mir.ClassFloat, 0)
		e.asm.MovssLoad(dst, ScratchInt1, 0)
		e.storeResult(*inst.Dest, dst)
	} else {
		e.asm.MovLoad(ScratchInt2, ScratchInt1, 0)
		e.storeResult(*inst.Dest, ScratchInt2)
	}
}

func (e *emitter) emitStoreElement(i int, inst *mir.Instr) {
	arr, idx, val := inst.Args[0], inst.Args[1], inst.Args[2]
	e.arrayElementAddr(i, arr, idx)
	if inst.Type.IsFloat32() {
		v := e.homeOf(val, e.scratchFor(mir.ClassFloat, 1))
		e.asm.MovssStore(ScratchInt1, 0, v)
	} else {
		v := e.homeOf(val, e.scratchFor(mir.ClassInt, 1))
		e.asm.MovStore(ScratchInt1, 0, v)
	}
}

func (e *emitter) emitLoadField(i int, inst *mir.Instr) {
	class := e.prog.FindClass(inst.ClassName)
	field := class.Field(inst.FieldName)
	obj := inst.Args[0]
	hw := e.homeOf(obj, e.scratchFor(mir.ClassInt, 0))
	e.emitNullCheck(i, obj, hw)
	if field.Type.IsFloat32() {
		dst := e.scratchFor(mir.ClassFloat, 0)
		e.asm.MovssLoad(dst, hw, int32(field.Offset))
		e.storeResult(*inst.Dest, dst)
	} else {
		e.asm.MovLoad(ScratchInt2, hw, int32(field.Offset))
		e.storeResult(*inst.Dest, ScratchInt2)
	}
}

func (e *emitter) emitStoreField(i int, inst *mir.Instr) {
	class := e.prog.FindClass(inst.ClassName)
	field := class.Field(inst.FieldName)
	obj, val := inst.Args[0], inst.Args[1]
	hw := e.homeOf(obj, e.scratchFor(mir.ClassInt, 0))
	e.emitNullCheck(i, obj, hw)
	if field.Type.IsFloat32() {
		v := e.homeOf(val, e.scratchFor(mir.ClassFloat, 1))
		e.asm.MovssStore(hw, int32(field.Offset), v)
	} else {
		v := e.homeOf(val, e.scratchFor(mir.ClassInt, 1))
		e.asm.MovStore(hw, int32(field.Offset), v)
	}
}

// emitExternalCall invokes a host-native function directly with the real
// System V AMD64 argument convention (spec.md §4.9: "load their absolute
// address into RAX and call RAX"), since the caller is outside this VM's
// own code and expects a real C ABI, not the two-register convention
// stackjit functions use to call each other. Arguments are staged through
// memory first so reading a source VR whose home happens to already be
// one of the destination argument registers can't clobber a still-unread
// source - the same trick the managed-call path below uses.
func (e *emitter) emitExternalCall(i int, inst *mir.Instr, target *ast.Function) {
	n := len(inst.Args)
	frameBytes := AlignTo16(n*SlotSize + 8)
	e.asm.MovRegImm64(ScratchInt1, int64(frameBytes))
	e.asm.SubRegReg(RSP, ScratchInt1)
	for k, arg := range inst.Args {
		hw := e.homeOf(arg, e.scratchFor(arg.Class(), 0))
		if arg.Class() == mir.ClassFloat {
			e.asm.MovssStore(RSP, int32(k*SlotSize), hw)
		} else {
			e.asm.MovStore(RSP, int32(k*SlotSize), hw)
		}
	}

	intIdx, floatIdx := 0, 0
	for k, arg := range inst.Args {
		if arg.Class() == mir.ClassFloat {
			utils.Assert(floatIdx < len(ArgFloatRegs), "codegen: external call %s passes more float arguments than System V has registers for", inst.Signature.String())
			e.asm.MovssLoad(ArgFloatRegs[floatIdx], RSP, int32(k*SlotSize))
			floatIdx++
		} else {
			utils.Assert(intIdx < len(ArgIntRegs), "codegen: external call %s passes more integer arguments than System V has registers for", inst.Signature.String())
			e.asm.MovLoad(ArgIntRegs[intIdx], RSP, int32(k*SlotSize))
			intIdx++
		}
	}

	e.asm.MovRegImm64(RAX, int64(target.ExternalEntry))
	e.asm.CallReg(RAX)
	e.recordStackMapAt(e.asm.Len(), i)

	e.asm.MovRegImm64(ScratchInt2, int64(frameBytes))
	e.asm.AddRegReg(RSP, ScratchInt2)

	if inst.Dest != nil {
		if inst.Dest.Class() == mir.ClassFloat {
			e.storeResult(*inst.Dest, XMM0)
		} else {
			e.storeResult(*inst.Dest, RAX)
		}
	}
	// The System V call just clobbered every caller-saved register; refresh
	// every other hardware-resident live VR from its home slot (spec.md §3
	// invariant I3) now that the call's own return value is safely stored.
	e.refreshLiveRegisters(i)
}

func (e *emitter) emitCall(i int, inst *mir.Instr) {
	target := e.prog.FindFunction(inst.Signature)
	utils.Assert(target != nil, "codegen: call to undefined function %s", inst.Signature.String())
	if target.Declaration.Kind == ast.KindExternal {
		e.emitExternalCall(i, inst, target)
		return
	}

	n := len(inst.Args)
	argsFrameBytes := AlignTo16(n*SlotSize + 8)
	e.asm.MovRegImm64(ScratchInt1, int64(argsFrameBytes))
	e.asm.SubRegReg(RSP, ScratchInt1)
	for k, arg := range inst.Args {
		hw := e.homeOf(arg, e.scratchFor(arg.Class(), 0))
		if arg.Class() == mir.ClassFloat {
			e.asm.MovssStore(RSP, int32(k*SlotSize), hw)
		} else {
			e.asm.MovStore(RSP, int32(k*SlotSize), hw)
		}
	}
	e.asm.MovLoad(CtxReg, RBP, int32(e.frame.CtxSlotOffset()))
	e.asm.MovRegReg(ArgsPtrReg, RSP)

	dispOffset := e.asm.CallRel()
	e.callFixups = append(e.callFixups, CallFixup{LocalOffset: dispOffset, Target: inst.Signature})
	// The displacement field is 4 bytes; the return address - the offset a
	// parent-frame stack walk will key off of - sits right after it.
	e.recordStackMapAt(dispOffset+4, i)

	e.asm.MovRegImm64(ScratchInt1, int64(argsFrameBytes))
	e.asm.AddRegReg(RSP, ScratchInt1)

	if inst.Dest != nil {
		if inst.Dest.Class() == mir.ClassFloat {
			e.storeResult(*inst.Dest, XMM0)
		} else {
			e.storeResult(*inst.Dest, RAX)
		}
	}
	// This JIT has no callee-saved convention for stackjit-to-stackjit
	// calls beyond the ctx/argsPtr slots, so the call just clobbered every
	// allocatable register; refresh every other live VR from its home slot
	// now that the call's own return value is safely stored (spec.md §3
	// invariant I3, see refreshLiveRegisters).
	e.refreshLiveRegisters(i)
}

func int32FromFloat32Bits(v float32) int32 {
	return int32(float32bits(v))
}

func float32bits(v float32) uint32 {
	return mathFloat32bits(v)
}
