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
package vm

import (
	"fmt"

	"stackjit/ast"
	"stackjit/codegen"
	"stackjit/mir"
	"stackjit/runtime"
	"stackjit/verifier"
)

// VM owns one program's declarations and, once Execute has run at least
// once, its compiled form. A VM is built incrementally via AddFunction,
// AddClass and DefineExternal, then sealed implicitly the first time
// Execute compiles it - spec.md §6 describes exactly this
// register-then-run shape.
type VM struct {
	settings Settings
	prog     *ast.Program
	services *runtime.Services

	compiled bool
	module   *codegen.Module
	buffer   *codegen.ExecutableBuffer
	ctx      *codegen.ExecutionContext
}

// intrinsicFunctionNames are the call signatures the MIR compiler
// recognizes as macros (see mir.intrinsicMacros) rather than real calls;
// they still need a resolvable declaration for the verifier's OpCall check
// to find.
var intrinsicFunctionNames = []string{"std.gc.collect", "std.gc.print_stack_frame"}

// New creates an empty VM. Call AddFunction/AddClass/DefineExternal to
// populate it, then Execute to run "main".
func New(settings Settings) *VM {
	settings = settings.withDefaults()
	prog := ast.NewProgram()
	for _, name := range intrinsicFunctionNames {
		prog.AddFunction(ast.NewIntrinsicFunction(name))
	}
	return &VM{
		settings: settings,
		prog:     prog,
		services: runtime.NewServices(prog, settings.HeapSize),
	}
}

// AddFunction registers a managed function's bytecode body.
func (v *VM) AddFunction(fn *ast.Function) {
	v.prog.AddFunction(fn)
}

// AddClass registers a class layout.
func (v *VM) AddClass(class *ast.Class) {
	v.prog.AddClass(class)
}

// DefineExternal registers a host-native function callable from bytecode
// via Call (spec.md §6). entry is the function's absolute address; the
// host is responsible for keeping it alive and ABI-compatible for the
// VM's lifetime.
func (v *VM) DefineExternal(name string, params []*ast.Type, ret *ast.Type, entry uintptr) {
	v.prog.AddFunction(ast.NewExternalFunction(name, params, ret, entry))
}

// TakeRuntimeError drains and clears the error manager's last recorded
// fault, if any. Execute resets the error manager before every run, so a
// fault that is not taken before the next Execute is discarded.
func (v *VM) TakeRuntimeError() (runtime.RuntimeErrorManager, bool) {
	return v.services.Errors().Take()
}

// LastCollection returns the report from the most recent std.gc.collect
// pass, if one has run.
func (v *VM) LastCollection() (runtime.CollectionReport, bool) {
	return v.services.LastCollection()
}

// Execute verifies and compiles every managed function on first call, then
// invokes "main". It returns main's Int32 result and ok=true on normal
// return; ok=false means a runtime error was raised - retrieve it with
// TakeRuntimeError. err is non-nil when verification, executable-memory
// allocation or linking fails, or when there is no main to run; none of
// these ever reaches native code.
func (v *VM) Execute() (result int32, ok bool, err error) {
	if !v.compiled {
		if err := v.compile(); err != nil {
			return 0, false, err
		}
		v.compiled = true
	}

	main := v.prog.Main()
	if main == nil {
		return 0, false, fmt.Errorf("vm: no zero-argument, Int32-returning managed function named \"main\"")
	}
	entry, found := v.module.EntryPoint(main.Declaration.Signature())
	if !found {
		return 0, false, fmt.Errorf("vm: main was not compiled")
	}

	v.services.Errors().Reset()
	raw := codegen.Call(entry, v.ctx, nil)
	if raw == codegen.ErrAbort {
		return 0, false, nil
	}
	return int32(raw), true, nil
}

// compile runs every managed function through verify -> MIR -> CFG /
// liveness / null-check -> register allocation -> emission, places the
// results in one executable buffer, resolves call sites, and binds the
// runtime services to the finished module (spec.md §4's full pipeline,
// §6's "verify before run" contract).
func (v *VM) compile() error {
	var compiledFns []*codegen.CompiledFunction

	for _, fn := range v.prog.Functions {
		if !fn.IsManaged() {
			continue
		}

		if err := verifier.Verify(v.prog, fn); err != nil {
			return fmt.Errorf("vm: verifying %s: %w", fn.Declaration.Name, err)
		}

		mirRes := mir.Compile(v.prog, fn)
		blocks := mir.BuildBasicBlocks(mirRes.Instructions)
		cfg := mir.BuildCFG(mirRes.Instructions, blocks)
		intervals := mir.ComputeLiveIntervals(mirRes.Instructions, cfg)
		nullRes := mir.Analyze(mirRes.Instructions, mirRes, mirRes.LocalVirtualRegisters)
		alloc := codegen.Allocate(intervals)

		compiled := codegen.EmitFunction(v.prog, fn, mirRes, intervals, alloc, nullRes)
		compiledFns = append(compiledFns, compiled)
	}

	buf, err := codegen.NewExecutableBuffer(v.settings.ExecutableCodeSize)
	if err != nil {
		return fmt.Errorf("vm: allocating executable memory: %w", err)
	}

	module, err := codegen.Resolve(buf, compiledFns)
	if err != nil {
		return fmt.Errorf("vm: linking: %w", err)
	}

	v.buffer = buf
	v.module = module
	v.ctx = &codegen.ExecutionContext{Services: v.services}
	v.services.Bind(v.ctx, v.module)
	v.services.Out = v.settings.Output

	return nil
}
