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
package runtime

import (
	"fmt"
	"unsafe"

	"stackjit/ast"
	"stackjit/codegen"
)

// StackFrame is one JIT-compiled call frame, identified by its base pointer
// and the code offset execution will resume at once it's reactivated
// (grounded on original_source/src/runtime/stack_walker.rs's StackFrame,
// redesigned around codegen.Module.RegionFor instead of the original's
// function-pointer-stored-below-rbp trick - see DESIGN.md).
type StackFrame struct {
	module *codegen.Module
	fn     *codegen.CompiledFunction
	bp     uintptr
	entry  codegen.StackMapEntry
}

func readUintptr(addr uintptr) uintptr {
	return *(*uintptr)(unsafe.Pointer(addr))
}

func writeUintptr(addr uintptr, v uintptr) {
	*(*uintptr)(unsafe.Pointer(addr)) = v
}

func frameAt(module *codegen.Module, bp, retAddr uintptr) (StackFrame, bool) {
	region, ok := module.RegionFor(retAddr)
	if !ok {
		return StackFrame{}, false
	}
	offset := int(retAddr - region.Start)
	for _, e := range region.Func.StackMaps {
		if e.LocalOffset == offset {
			return StackFrame{module: module, fn: region.Func, bp: bp, entry: e}, true
		}
	}
	return StackFrame{}, false
}

// WalkStack starts a walk from the JIT frame that issued a runtime service
// request (callerBP, callerRetAddr, as captured by bridge_amd64.s) and
// calls visit with every frame from there out to "main", innermost first.
// entryBP is ExecutionContext.EntryBP, the sentinel saved-RBP value that
// marks the transition back into enterCompiled's non-JIT frame.
func WalkStack(module *codegen.Module, callerBP, callerRetAddr, entryBP uintptr, visit func(StackFrame)) {
	frame, ok := frameAt(module, callerBP, callerRetAddr)
	if !ok {
		return
	}
	for {
		visit(frame)
		savedBP := readUintptr(frame.bp)
		if savedBP == entryBP {
			return
		}
		parentRetAddr := readUintptr(frame.bp + codegen.SlotSize)
		next, ok := frameAt(module, savedBP, parentRetAddr)
		if !ok {
			return
		}
		frame = next
	}
}

// FrameValue is one typed value living at a fixed address within a
// StackFrame: an argument, a local virtual register, or a live
// operand-stack entry.
type FrameValue struct {
	Type *ast.Type
	VR   int // -1 for arguments, which aren't backed by a virtual register
	addr uintptr
}

func (v FrameValue) Raw() uint64           { return *(*uint64)(unsafe.Pointer(v.addr)) }
func (v FrameValue) SetRaw(x uint64)       { *(*uint64)(unsafe.Pointer(v.addr)) = x }
func (v FrameValue) IsReference() bool     { return v.Type.IsReference() }
func (v FrameValue) Reference() uintptr    { return uintptr(v.Raw()) }
func (v FrameValue) SetReference(p uintptr) { v.SetRaw(uint64(p)) }

func (v FrameValue) String() string {
	label := v.Type.String()
	if v.VR >= 0 {
		label = fmt.Sprintf("r%d(%s)", v.VR, label)
	}
	switch {
	case v.Type.IsInt32():
		return fmt.Sprintf("%s: %d", label, int32(v.Raw()))
	case v.Type.IsFloat32():
		return fmt.Sprintf("%s: %g", label, float32FromBits(uint32(v.Raw())))
	case v.Type.IsBool():
		return fmt.Sprintf("%s: %t", label, v.Raw() != 0)
	default:
		return fmt.Sprintf("%s: 0x%x", label, v.Raw())
	}
}

// Arguments returns this frame's parameters, read out of the caller-filled
// array ArgsPtrReg pointed at on entry (the home slot keeps a copy, per
// calling_convention.go's two-register convention - there is no per-
// argument stack slot to address the way the System V original did).
func (f StackFrame) Arguments() []FrameValue {
	sig := f.fn.Signature
	argsPtr := readUintptr(f.bp + uintptr(f.fn.Frame.ArgsPtrSlotOffset()))
	out := make([]FrameValue, len(sig.Params))
	for i, t := range sig.Params {
		out[i] = FrameValue{Type: t, VR: -1, addr: argsPtr + uintptr(i*codegen.SlotSize)}
	}
	return out
}

// Locals returns every virtual register this function declares as a local
// (spec.md's local slots, lowered to MIR virtual registers), read from
// their home slots at FrameLayout.VRSlotOffset.
func (f StackFrame) Locals() []FrameValue {
	mirRes := f.fn.MIR
	out := make([]FrameValue, 0, len(mirRes.LocalVirtualRegisters))
	for _, vr := range mirRes.LocalVirtualRegisters {
		out = append(out, f.valueOf(vr))
	}
	return out
}

// Operands returns the operand-stack virtual registers live at this
// frame's resume point, per the stack map InstructionIndex recorded at
// the call or allocation site that produced this frame.
func (f StackFrame) Operands() []FrameValue {
	vrs := f.fn.MIR.InstructionsOperandStack[f.entry.InstructionIndex]
	out := make([]FrameValue, 0, len(vrs))
	for _, vr := range vrs {
		out = append(out, f.valueOf(vr))
	}
	return out
}

func (f StackFrame) valueOf(vr int) FrameValue {
	t := f.fn.MIR.VirtualRegisterTypes[vr]
	off := f.fn.Frame.VRSlotOffset(vr)
	return FrameValue{Type: t, VR: vr, addr: f.bp + uintptr(off)}
}

// VisitValues calls visit for every value this frame exposes: arguments,
// locals, then live operands - the complete root set one frame contributes
// to a mark pass, and everything std.gc.print_stack_frame prints.
func (f StackFrame) VisitValues(visit func(FrameValue)) {
	for _, v := range f.Arguments() {
		visit(v)
	}
	for _, v := range f.Locals() {
		visit(v)
	}
	for _, v := range f.Operands() {
		visit(v)
	}
}

// Function names the compiled function this frame belongs to, for
// std.gc.print_stack_frame's header line.
func (f StackFrame) Function() ast.FunctionSignature { return f.fn.Signature }

func float32FromBits(bits uint32) float32 {
	return *(*float32)(unsafe.Pointer(&bits))
}
