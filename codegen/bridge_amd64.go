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

import "unsafe"

// enterCompiled is implemented in bridge_amd64.s. It is the only point
// where this process transitions from Go-compiled code to JIT-compiled
// machine code: entry is the callable address of a compiled function's
// first instruction, ctx carries the per-execution state the JIT code and
// the runtime trampoline share, argsPtr points at the caller-filled array
// of 8-byte argument slots the callee's prologue reads from.
//
//go:noescape
func enterCompiled(entry uintptr, ctx *ExecutionContext, argsPtr unsafe.Pointer) uint64

// runtimeTrampoline is the single native call target every JIT-compiled
// function uses to reach back into the Go runtime (spec.md §4.10): the
// caller places ctx in RDI, a ServiceRequest in RSI and a request-specific
// argument in RDX, then issues a plain `call`. It resolves to
// runtimeServiceDispatch, a real Go function, through the hand-written
// ABI0 frame construction in bridge_amd64.s.
//
// Declared here only so the linker keeps the symbol reachable from the
// assembly file; stackjit code never calls it directly from Go.
func runtimeTrampoline()

// Call invokes entry - a compiled function's address, as returned by
// Module.EntryPoint - with args packed one per 8-byte slot in declaration
// order, the shape every JIT-compiled prologue expects behind ArgsPtrReg.
// This is the only entry point the vm package needs into this package's
// native-code boundary.
func Call(entry uintptr, ctx *ExecutionContext, args []uint64) uint64 {
	if len(args) == 0 {
		return enterCompiled(entry, ctx, nil)
	}
	return enterCompiled(entry, ctx, unsafe.Pointer(&args[0]))
}

// runtimeTrampolineAddr returns runtimeTrampoline's entry address, the
// value emit.go loads into a scratch register before every `call` a
// JIT-compiled function makes back into Go (callRuntime).
func runtimeTrampolineAddr() uintptr

// runtimeServiceDispatch is called by runtimeTrampoline with a manually
// built ABI0 argument frame (ctx, req, arg, callerBP, callerRetAddr ->
// result). It must never panic: a panicking Go function unwinding through
// JIT-compiled native frames in between has no defined behavior.
func runtimeServiceDispatch(ctx *ExecutionContext, req, arg int64, callerBP, callerRetAddr uintptr) int64 {
	switch ServiceRequest(req) {
	case ServiceNewObject:
		return int64(ctx.Services.NewObject(int32(arg)))
	case ServiceNewArray:
		kind := ArrayElementKind(arg >> 32)
		length := int32(arg)
		return int64(ctx.Services.NewArray(kind, length))
	case ServiceRaiseError:
		kind := int32(arg >> 32)
		detail := int32(arg)
		ctx.Services.RaiseError(kind, detail, callerBP, callerRetAddr)
		return int64(ErrAbort)
	case ServiceCollectGarbage:
		ctx.Services.CollectGarbage(callerBP, callerRetAddr)
		return 0
	case ServicePrintStackFrame:
		ctx.Services.PrintStackFrame(callerBP, callerRetAddr)
		return 0
	default:
		return 0
	}
}
