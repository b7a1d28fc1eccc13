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

// Package runtime backs every stack-jit execution's memory and control-flow
// services that can't be expressed as emitted machine code directly:
// object/array allocation, the mark-compact garbage collector, the stack
// walker the GC and std.gc.print_stack_frame share, and the error
// trampoline that turns a fatal trap into a RuntimeError the host observes
// (spec.md §4.10-§4.12, grounded on _examples/original_source/'s
// src/runtime tree - the teacher never needed a package like this one,
// since it hands finished machine code straight to gcc/ld instead of
// managing its own heap).
package runtime

import (
	"encoding/binary"

	"stackjit/ast"
)

// Array elements are stored in uniform 8-byte slots regardless of declared
// element type, mirroring the uniform VR slot width calling_convention.go
// already uses for the frame layout - one width means the stack walker and
// GC never need a per-element-type stride, at the cost of padding every
// Bool/Int32/Float32 array element out to 8 bytes.
const elementSlotSize = 8

// elemKind is stored in an array's header (see header.elemKind below) so
// the GC, walking an array it has no compile-time type information for,
// can tell whether its elements are candidate roots.
type elemKind int8

const (
	elemInt32 elemKind = iota
	elemFloat32
	elemBool
	elemReference
)

// isReference reports whether this array's elements are candidate GC roots.
func (k elemKind) isReference() bool { return k == elemReference }

const (
	gcStateLive      byte = 0
	gcStateMarked    byte = 1
	gcStateTombstone byte = 0xFF
)

// header is a view over the ast.HeaderSize bytes immediately before a
// payload living at offset within mem (see ast/class.go's HeaderSize
// doc comment for the exact byte layout).
type header struct {
	mem    []byte
	offset int
}

func headerAt(mem []byte, payloadOffset int) header {
	return header{mem: mem, offset: payloadOffset}
}

func (h header) typeIDOff() int { return h.offset - ast.HeaderSize }
func (h header) gcInfoOff() int { return h.offset - ast.HeaderSize + 8 }
func (h header) lengthOff() int { return h.offset - 8 }

func (h header) typeID() int64 {
	return int64(binary.LittleEndian.Uint64(h.mem[h.typeIDOff():]))
}

func (h header) setTypeID(v int64) {
	binary.LittleEndian.PutUint64(h.mem[h.typeIDOff():], uint64(v))
}

func (h header) isArray() bool { return h.typeID() == int64(ast.ArrayTypeTag) }

func (h header) length() int32 {
	return int32(binary.LittleEndian.Uint64(h.mem[h.lengthOff():]))
}

func (h header) setLength(v int32) {
	binary.LittleEndian.PutUint64(h.mem[h.lengthOff():], uint64(uint32(v)))
}

func (h header) gcState() byte     { return h.mem[h.gcInfoOff()] }
func (h header) setGCState(v byte) { h.mem[h.gcInfoOff()] = v }
func (h header) isMarked() bool    { return h.gcState() == gcStateMarked }
func (h header) mark()             { h.setGCState(gcStateMarked) }
func (h header) unmark()           { h.setGCState(gcStateLive) }
func (h header) isTombstone() bool { return h.gcState() == gcStateTombstone }

func (h header) elemKind() elemKind     { return elemKind(h.mem[h.gcInfoOff()+1]) }
func (h header) setElemKind(k elemKind) { h.mem[h.gcInfoOff()+1] = byte(k) }

// deletedSize reads the full byte size a tombstoned region occupies,
// stashed in the TypeID slot once its contents stop mattering.
func (h header) deletedSize() int64 { return h.typeID() }

func (h header) markDeleted(fullSize int) {
	h.setGCState(gcStateTombstone)
	h.setTypeID(int64(fullSize))
}

// payloadSize is the live object's payload length in bytes, not counting
// the header.
func (h header) payloadSize(prog *ast.Program) int {
	if h.isArray() {
		return int(h.length()) * elementSlotSize
	}
	class := prog.ClassByIndex(int(h.typeID()))
	return class.MemorySize
}

func (h header) fullSize(prog *ast.Program) int {
	return ast.HeaderSize + h.payloadSize(prog)
}
