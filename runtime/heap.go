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
)

// Heap is a single contiguous bump-allocated region (grounded on
// original_source/src/runtime/memory/heap.rs's Heap): every allocation
// moves the offset forward by the request, and the only way space is ever
// reclaimed is GC.Collect compacting live objects down and resetting the
// offset past them.
type Heap struct {
	data   []byte
	offset int

	// boundProgram supplies class layout (MemorySize) for object sizing;
	// it's the program this heap's VM instance is executing, set once at
	// construction and never changed.
	boundProgram *ast.Program
}

// NewHeap reserves size bytes of zeroed Go memory to back the VM's object
// space. It is plain heap-allocated []byte, not mmap'd like
// ExecutableBuffer: nothing here needs to be executable, only addressable
// by the raw uintptr values JIT code keeps in registers and stack slots.
func NewHeap(size int, prog *ast.Program) *Heap {
	return &Heap{data: make([]byte, size), boundProgram: prog}
}

func (h *Heap) baseAddr() uintptr {
	if len(h.data) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&h.data[0]))
}

// Inside reports whether addr points somewhere inside this heap's backing
// storage (a reference payload address, not a header address).
func (h *Heap) Inside(addr uintptr) bool {
	base := h.baseAddr()
	return addr >= base && addr < base+uintptr(len(h.data))
}

// offsetOf converts a payload address into this heap's byte array back.
func (h *Heap) offsetOf(addr uintptr) int {
	return int(addr - h.baseAddr())
}

func (h *Heap) addrOf(offset int) uintptr {
	return h.baseAddr() + uintptr(offset)
}

// allocate reserves totalSize bytes (header included) and returns the
// payload address - HeaderSize bytes after the region's start - or 0 if
// the heap is exhausted and a collection is needed first.
func (h *Heap) allocate(totalSize int) uintptr {
	if h.offset+totalSize > len(h.data) {
		return 0
	}
	start := h.offset
	h.offset += totalSize
	return h.addrOf(start + ast.HeaderSize)
}

// AllocateObject reserves space for a Class instance and writes its header.
func (h *Heap) AllocateObject(prog *ast.Program, classID int32) (uintptr, error) {
	class := prog.ClassByIndex(int(classID))
	if class == nil {
		return 0, fmt.Errorf("runtime: allocate object: class id %d out of range", classID)
	}
	payload := h.allocate(ast.HeaderSize + class.MemorySize)
	if payload == 0 {
		return 0, nil
	}
	hdr := headerAt(h.data, h.offsetOf(payload))
	hdr.setTypeID(int64(classID))
	hdr.setGCState(gcStateLive)
	hdr.setLength(0)
	return payload, nil
}

// AllocateArray reserves space for an array of length elements, each in a
// uniform 8-byte slot (see elementSlotSize), and writes its header.
func (h *Heap) AllocateArray(kind elemKind, length int32) uintptr {
	payload := h.allocate(ast.HeaderSize + int(length)*elementSlotSize)
	if payload == 0 {
		return 0
	}
	hdr := headerAt(h.data, h.offsetOf(payload))
	hdr.setTypeID(int64(ast.ArrayTypeTag))
	hdr.setGCState(gcStateLive)
	hdr.setElemKind(kind)
	hdr.setLength(length)
	return payload
}

func (h *Heap) headerFor(payload uintptr) header {
	return headerAt(h.data, h.offsetOf(payload))
}

// Reset moves the bump pointer to newOffset, used after GC.Collect has
// relocated every surviving object down to the front of the heap and
// newOffset is where the last survivor ends.
func (h *Heap) Reset(newOffset int) {
	h.offset = newOffset
}

// Used is the number of bytes currently allocated from the front of the
// heap, live objects and not-yet-reclaimed garbage alike.
func (h *Heap) Used() int { return h.offset }

// Iterate walks every region currently between the heap's start and its
// bump offset, live or tombstoned, calling visit with each live object's
// payload address. Tombstones (regions whose header markDeleted has
// overwritten; GC.Collect itself never writes one) are skipped by reading
// the full size markDeleted stashed in their TypeID slot.
func (h *Heap) Iterate(visit func(payload uintptr)) {
	off := 0
	for off < h.offset {
		payload := off + ast.HeaderSize
		hdr := headerAt(h.data, payload)
		if hdr.isTombstone() {
			off += int(hdr.deletedSize())
			continue
		}
		full := hdr.fullSize(h.prog())
		visit(h.addrOf(payload))
		off += full
	}
}

// prog is set once by services.go at construction time; kept as a method
// rather than a field so Iterate's callers never need to thread it through.
func (h *Heap) prog() *ast.Program { return h.boundProgram }
