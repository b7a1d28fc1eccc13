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
	"io"
	"os"

	"stackjit/ast"
	"stackjit/codegen"
	"stackjit/utils"
)

// Services is the concrete codegen.RuntimeServices implementation one VM
// instance installs into its ExecutionContext, wiring the heap, the
// garbage collector, the error manager and the stack walker together
// behind the five requests bridge_amd64.s's trampoline dispatches
// (grounded on original_source/src/runtime/runtime_interface.rs, which
// plays the identical role for the Rust engine).
type Services struct {
	prog   *ast.Program
	heap   *Heap
	gc     *GC
	errors *RuntimeErrorManager
	module *codegen.Module
	ctx    *codegen.ExecutionContext

	// Out receives std.gc.print_stack_frame's dump; defaults to os.Stdout,
	// overridable (e.g. from vm.Settings) so tests can capture it.
	Out io.Writer

	lastCollection    CollectionReport
	hasLastCollection bool
}

// NewServices allocates a heapSize-byte object heap bound to prog's class
// layout. Bind must be called once the owning VM has built the
// ExecutionContext and resolved the compiled Module, before any
// JIT-compiled code runs.
func NewServices(prog *ast.Program, heapSize int) *Services {
	return &Services{
		prog:   prog,
		heap:   NewHeap(heapSize, prog),
		gc:     NewGC(),
		errors: &RuntimeErrorManager{},
		Out:    os.Stdout,
	}
}

// Bind wires this Services instance to the execution it will serve: ctx
// supplies EntryBP (the stack-walk sentinel), module supplies RegionFor
// for resolving return addresses to frames.
func (s *Services) Bind(ctx *codegen.ExecutionContext, module *codegen.Module) {
	s.ctx = ctx
	s.module = module
}

// Errors exposes the error manager VM.TakeRuntimeError drains.
func (s *Services) Errors() *RuntimeErrorManager { return s.errors }

// LastCollection returns the most recent GC pass's report, if Collect has
// run at least once since this Services was created.
func (s *Services) LastCollection() (CollectionReport, bool) {
	return s.lastCollection, s.hasLastCollection
}

// NewObject implements codegen.RuntimeServices. A classID codegen didn't
// resolve at compile time, or a heap with no room left for this instance
// and nobody having run std.gc.collect first, are both host
// misconfigurations rather than conditions spec.md enumerates as
// recoverable runtime errors, so both fail fast instead of returning a
// null reference the JIT side would have to special-case.
func (s *Services) NewObject(classID int32) uintptr {
	payload, err := s.heap.AllocateObject(s.prog, classID)
	utils.Assert(err == nil, "runtime: %v", err)
	utils.Assert(payload != 0, "runtime: heap exhausted allocating class id %d - run std.gc.collect first", classID)
	return payload
}

// NewArray implements codegen.RuntimeServices.
func (s *Services) NewArray(kind codegen.ArrayElementKind, length int32) uintptr {
	payload := s.heap.AllocateArray(fromElementKind(kind), length)
	utils.Assert(payload != 0, "runtime: heap exhausted allocating array of length %d - run std.gc.collect first", length)
	return payload
}

func fromElementKind(k codegen.ArrayElementKind) elemKind {
	switch k {
	case codegen.ElemFloat32:
		return elemFloat32
	case codegen.ElemBool:
		return elemBool
	case codegen.ElemReference:
		return elemReference
	default:
		return elemInt32
	}
}

// RaiseError implements codegen.RuntimeServices: it pins down the faulting
// frame's identity in the error manager. The trampoline never resumes the
// JIT code that issued this call (see codegen.ErrAbort); VM.Execute
// reads the recorded error back out once enterCompiled returns.
func (s *Services) RaiseError(kind int32, detail int32, callerBP, callerRetAddr uintptr) {
	var rsp uintptr
	if region, ok := s.module.RegionFor(callerRetAddr); ok {
		rsp = callerBP - uintptr(region.Func.Frame.FrameSize)
	}
	s.errors.record(RuntimeErrorKind(kind), callerBP, rsp, callerRetAddr)
	_ = detail
}

// CollectGarbage implements codegen.RuntimeServices, running one
// mark-compact pass rooted at the frame that issued std.gc.collect.
func (s *Services) CollectGarbage(callerBP, callerRetAddr uintptr) {
	s.lastCollection = s.gc.Collect(s.module, s.heap, callerBP, callerRetAddr, s.ctx.EntryBP)
	s.hasLastCollection = true
}

// PrintStackFrame implements codegen.RuntimeServices, dumping every live
// frame from the call site outward: function, arguments, locals, and the
// operand-stack values live at the point each frame resumes.
func (s *Services) PrintStackFrame(callerBP, callerRetAddr uintptr) {
	fmt.Fprintln(s.Out, "--------------------------------------------")
	WalkStack(s.module, callerBP, callerRetAddr, s.ctx.EntryBP, func(frame StackFrame) {
		fmt.Fprintf(s.Out, "%s\n", frame.Function().String())

		fmt.Fprintln(s.Out, "\tArguments:")
		for _, v := range frame.Arguments() {
			fmt.Fprintf(s.Out, "\t%s\n", v)
		}

		fmt.Fprintln(s.Out, "\tLocals:")
		for _, v := range frame.Locals() {
			fmt.Fprintf(s.Out, "\t%s\n", v)
		}

		fmt.Fprintln(s.Out, "\tOperands:")
		for _, v := range frame.Operands() {
			fmt.Fprintf(s.Out, "\t%s\n", v)
		}
		fmt.Fprintln(s.Out)
	})
	fmt.Fprintln(s.Out, "--------------------------------------------")
}
