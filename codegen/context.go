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

// ServiceRequest is the request code a JIT-compiled function places in RSI
// before a `call` to the single shared runtime trampoline (bridge_amd64.s);
// runtimeServiceDispatch (bridge_amd64.go) switches on it.
type ServiceRequest int64

const (
	ServiceNewObject ServiceRequest = iota
	ServiceNewArray
	ServiceRaiseError
	ServiceCollectGarbage
	ServicePrintStackFrame
)

// ErrAbort is the sentinel RAX value runtimeTrampoline returns from
// ServiceRaiseError: seeing it, the trampoline restores EntrySP/EntryBP and
// returns all the way out to enterCompiled's caller instead of resuming the
// JIT code that made the call (spec.md §4.10's error trampolines never
// return to their call site).
const ErrAbort uint64 = ^uint64(0)

// ExecutionContext is one stackjit execution's cross-boundary state. The
// first two fields (EntrySP, EntryBP) are read by hand at fixed offsets
// from bridge_amd64.s and must stay first and 8-byte aligned.
type ExecutionContext struct {
	EntrySP uintptr
	EntryBP uintptr

	Services RuntimeServices
}

// ArrayElementKind mirrors runtime's elemKind without codegen needing to
// import the runtime package: 0=Int32, 1=Float32, 2=Bool, 3=Reference
// (Array or Class elements). emitNewArray packs it into ServiceNewArray's
// arg alongside the requested length, since a freshly allocated array's
// header has to record it for the GC to later walk the array without any
// compile-time type context.
type ArrayElementKind int32

const (
	ElemInt32 ArrayElementKind = iota
	ElemFloat32
	ElemBool
	ElemReference
)

// RuntimeServices is implemented by the runtime package and installed into
// every ExecutionContext; codegen never imports runtime directly (that
// would be an import cycle, since runtime's GC needs to walk codegen's
// frame layout), so the dependency runs through this interface instead.
// callerBP and callerRetAddr identify the JIT frame that issued the
// request: callerBP is that frame's RBP, and callerRetAddr is the code
// address inside it execution resumes at once the service call returns -
// the same pair of facts the stack walker reads out of every ancestor
// frame, so CollectGarbage and PrintStackFrame can treat "the frame that
// asked" exactly like any other frame on the walk.
type RuntimeServices interface {
	NewObject(classID int32) uintptr
	NewArray(elemKind ArrayElementKind, length int32) uintptr
	RaiseError(kind int32, detail int32, callerBP, callerRetAddr uintptr)
	CollectGarbage(callerBP, callerRetAddr uintptr)
	PrintStackFrame(callerBP, callerRetAddr uintptr)
}
