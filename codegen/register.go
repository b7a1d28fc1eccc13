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

// Package codegen lowers allocated MIR to x86-64 machine code: the linear
// scan register allocator, the low-IR compiler, the instruction encoder and
// the code buffer / relocation machinery (spec.md §4.6-§4.9).
package codegen

// HardwareRegister names one of the 16 general-purpose registers or one of
// the 16 XMM registers, addressed uniformly regardless of operand width -
// width is a property of the encoding, not of the register identity.
//
// Reference: https://web.stanford.edu/class/cs107/resources/x86-64-reference.pdf
type HardwareRegister int

const (
	RAX HardwareRegister = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15

	XMM0
	XMM1
	XMM2
	XMM3
	XMM4
	XMM5
	XMM6
	XMM7
	XMM8
	XMM9
	XMM10
	XMM11
	XMM12
	XMM13
	XMM14
	XMM15
)

func (r HardwareRegister) String() string {
	names := [...]string{
		"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
		"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
		"xmm0", "xmm1", "xmm2", "xmm3", "xmm4", "xmm5", "xmm6", "xmm7",
		"xmm8", "xmm9", "xmm10", "xmm11", "xmm12", "xmm13", "xmm14", "xmm15",
	}
	return names[r]
}

// IsXMM reports whether r names a vector/float register.
func (r HardwareRegister) IsXMM() bool { return r >= XMM0 }

// encoding is the 4-bit ModRM/REX register field: 0-15 for both GPRs and
// XMMs, the two families just never mix in the same instruction.
func (r HardwareRegister) encoding() int {
	if r.IsXMM() {
		return int(r - XMM0)
	}
	return int(r)
}

// IntAllocatable is every general-purpose register the allocator may hand
// out, in allocation-preference order. RSP/RBP are reserved for the frame
// pointer chain the stack walker relies on; R14/R15 are the emitter's
// scratch pair (a two-address x86 op needs up to two operands resident at
// once when neither made it into a hardware register), so neither is
// allocatable.
var IntAllocatable = []HardwareRegister{
	RAX, RCX, RDX, RBX, RSI, RDI, R8, R9, R10, R11, R12, R13,
}

// FloatAllocatable is every XMM register the allocator may hand out. XMM14
// and XMM15 are reserved as the float scratch pair for the same reason.
var FloatAllocatable = []HardwareRegister{
	XMM0, XMM1, XMM2, XMM3, XMM4, XMM5, XMM6, XMM7,
	XMM8, XMM9, XMM10, XMM11, XMM12, XMM13,
}

// Scratch{Int,Float}{1,2} are never allocated; the emitter uses them to
// hold an operand that isn't resident in a hardware register for the
// duration of one low-IR instruction.
const (
	ScratchInt1 = R14
	ScratchInt2 = R15
	ScratchFloat1 = XMM14
	ScratchFloat2 = XMM15
)

// CalleeSaved is the subset of IntAllocatable the System V ABI requires a
// callee to preserve; the prologue saves them only if the allocator actually
// used them, the epilogue restores in reverse order.
var CalleeSaved = []HardwareRegister{RBX, R12, R13}

// ArgIntRegs and ArgFloatRegs are the System V AMD64 ABI's argument-passing
// registers, in order, used only for calls to external (host-native)
// functions (see emit.go's emitExternalCall): stackjit-to-stackjit calls
// and runtime service requests both use the two-register convention in
// calling_convention.go instead.
var ArgIntRegs = []HardwareRegister{RDI, RSI, RDX, RCX, R8, R9}
var ArgFloatRegs = []HardwareRegister{XMM0, XMM1, XMM2, XMM3, XMM4, XMM5, XMM6, XMM7}
