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
	"encoding/binary"
	"fmt"

	"stackjit/ast"
)

// CodeRegion is one compiled function's placement inside the shared
// ExecutableBuffer, kept by the resolver so the runtime can later map a
// return address back to the function and code offset it falls in (the
// stack walker's only way to identify a frame it didn't explicitly start
// from - see runtime/stack_walker.go).
type CodeRegion struct {
	Signature ast.FunctionSignature
	Func      *CompiledFunction
	Start     uintptr
	End       uintptr
}

// Module is every function of one program placed into one ExecutableBuffer
// with every call site patched to its target's final address (spec.md
// §4.8's branch-patch phase / §8 property P4).
type Module struct {
	Buffer  *ExecutableBuffer
	Regions []CodeRegion
}

// EntryPoint returns the callable address of fn's compiled code, or 0 if
// fn was never placed (not part of this program).
func (m *Module) EntryPoint(sig ast.FunctionSignature) (uintptr, bool) {
	for _, r := range m.Regions {
		if r.Signature.Equal(sig) {
			return r.Start, true
		}
	}
	return 0, false
}

// RegionFor returns the CodeRegion a code address (an absolute pointer
// into the ExecutableBuffer, such as a return address read off the native
// stack) falls inside.
func (m *Module) RegionFor(addr uintptr) (CodeRegion, bool) {
	for _, r := range m.Regions {
		if addr >= r.Start && addr < r.End {
			return r, true
		}
	}
	return CodeRegion{}, false
}

// Resolve places every compiled function into one ExecutableBuffer back to
// back, then patches every CallFixup's rel32 displacement now that final
// addresses are known. Functions are placed in the order given; fns must
// contain exactly one CompiledFunction per signature any CallFixup targets.
func Resolve(buf *ExecutableBuffer, fns []*CompiledFunction) (*Module, error) {
	bySig := make(map[string]*CompiledFunction, len(fns))
	for _, f := range fns {
		bySig[f.Signature.String()] = f
	}

	m := &Module{Buffer: buf}
	for _, f := range fns {
		off, err := buf.Write(f.Code)
		if err != nil {
			return nil, fmt.Errorf("codegen: placing %s: %w", f.Signature.String(), err)
		}
		f.EntryOffset = off
		start := buf.EntryPointer(off)
		m.Regions = append(m.Regions, CodeRegion{
			Signature: f.Signature,
			Func:      f,
			Start:     start,
			End:       start + uintptr(len(f.Code)),
		})
	}

	raw := buf.Bytes()
	for _, f := range fns {
		for _, fx := range f.CallFixups {
			target, ok := bySig[fx.Target.String()]
			if !ok {
				return nil, fmt.Errorf("codegen: call to undefined function %s", fx.Target.String())
			}
			dispAbs := f.EntryOffset + fx.LocalOffset
			rel := int32((target.EntryOffset) - (f.EntryOffset + fx.LocalOffset + 4))
			binary.LittleEndian.PutUint32(raw[dispAbs:dispAbs+4], uint32(rel))
		}
	}

	return m, nil
}
