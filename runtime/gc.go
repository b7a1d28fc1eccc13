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
	"stackjit/ast"
	"stackjit/codegen"
)

// GC is a stop-the-world mark-compact collector (grounded on
// original_source/src/runtime/memory/gc.rs's GarbageCollector): mark walks
// every live JIT frame's roots and recurses through reachable arrays and
// class instances, compact slides every surviving object down to a
// contiguous prefix of the heap and rewrites every reference that pointed
// at an object that moved, stack and heap alike.
type GC struct{}

func NewGC() *GC { return &GC{} }

// DeletedObject records one object the most recent Collect reclaimed,
// the fuller end-to-end visibility SPEC_FULL.md asks for over spec.md's
// bare pass/fail collection result.
type DeletedObject struct {
	Address  uintptr
	TypeName string
	Size     int
}

// CollectionReport summarizes one GC pass; VM.LastCollection exposes the
// most recent one.
type CollectionReport struct {
	Deleted        []DeletedObject
	ReclaimedBytes int
}

// Collect runs one full mark-compact pass rooted at the frame that issued
// the std.gc.collect intrinsic (callerBP/callerRetAddr, as bridge_amd64.s
// captured them) and every ancestor out to entryBP.
func (g *GC) Collect(module *codegen.Module, heap *Heap, callerBP, callerRetAddr, entryBP uintptr) CollectionReport {
	g.markRoots(module, heap, callerBP, callerRetAddr, entryBP)

	before := heap.Used()
	nextOffset, newLocations := g.computeNewLocations(heap)

	g.updateStackReferences(module, heap, callerBP, callerRetAddr, entryBP, newLocations)
	g.updateHeapReferences(heap, newLocations)
	deleted := g.moveObjects(heap, newLocations)

	heap.Reset(nextOffset)
	return CollectionReport{Deleted: deleted, ReclaimedBytes: before - nextOffset}
}

func (g *GC) markRoots(module *codegen.Module, heap *Heap, callerBP, callerRetAddr, entryBP uintptr) {
	WalkStack(module, callerBP, callerRetAddr, entryBP, func(frame StackFrame) {
		frame.VisitValues(func(v FrameValue) {
			if v.IsReference() {
				g.markValue(heap, v.Reference())
			}
		})
	})
}

func (g *GC) markValue(heap *Heap, addr uintptr) {
	if addr == 0 || !heap.Inside(addr) {
		return
	}
	hdr := heap.headerFor(addr)
	if hdr.isMarked() {
		return
	}
	hdr.mark()

	if hdr.isArray() {
		if !hdr.elemKind().isReference() {
			return
		}
		n := hdr.length()
		for i := int32(0); i < n; i++ {
			g.markValue(heap, readUintptr(addr+uintptr(i)*elementSlotSize))
		}
		return
	}

	class := heap.prog().ClassByIndex(int(hdr.typeID()))
	for _, field := range class.Fields {
		if field.Type.IsReference() {
			g.markValue(heap, readUintptr(addr+uintptr(field.Offset)))
		}
	}
}

// computeNewLocations assigns every marked object its post-compaction
// payload address, in heap order, and returns the byte offset the heap's
// bump pointer should rewind to once compaction finishes.
func (g *GC) computeNewLocations(heap *Heap) (int, map[uintptr]uintptr) {
	newLocations := make(map[uintptr]uintptr)
	next := 0
	heap.Iterate(func(payload uintptr) {
		hdr := heap.headerFor(payload)
		if !hdr.isMarked() {
			return
		}
		newLocations[payload] = heap.addrOf(next + ast.HeaderSize)
		next += hdr.fullSize(heap.prog())
	})
	return next, newLocations
}

func (g *GC) updateStackReferences(module *codegen.Module, heap *Heap, callerBP, callerRetAddr, entryBP uintptr, newLocations map[uintptr]uintptr) {
	WalkStack(module, callerBP, callerRetAddr, entryBP, func(frame StackFrame) {
		frame.VisitValues(func(v FrameValue) {
			if !v.IsReference() {
				return
			}
			if nw, ok := newLocations[v.Reference()]; ok {
				v.SetReference(nw)
			}
		})
	})
}

func (g *GC) updateHeapReferences(heap *Heap, newLocations map[uintptr]uintptr) {
	heap.Iterate(func(payload uintptr) {
		hdr := heap.headerFor(payload)
		if !hdr.isMarked() {
			return
		}
		if hdr.isArray() {
			if !hdr.elemKind().isReference() {
				return
			}
			n := hdr.length()
			for i := int32(0); i < n; i++ {
				elemAddr := payload + uintptr(i)*elementSlotSize
				if old := readUintptr(elemAddr); old != 0 {
					if nw, ok := newLocations[old]; ok {
						writeUintptr(elemAddr, nw)
					}
				}
			}
			return
		}
		class := heap.prog().ClassByIndex(int(hdr.typeID()))
		for _, field := range class.Fields {
			if !field.Type.IsReference() {
				continue
			}
			fieldAddr := payload + uintptr(field.Offset)
			if old := readUintptr(fieldAddr); old != 0 {
				if nw, ok := newLocations[old]; ok {
					writeUintptr(fieldAddr, nw)
				}
			}
		}
	})
}

// moveObjects physically slides every marked object down to its computed
// new address and reports every object left behind as garbage. Go's
// built-in copy handles the overlapping source/destination ranges
// compaction produces the same way the original's ptr::copy does.
func (g *GC) moveObjects(heap *Heap, newLocations map[uintptr]uintptr) []DeletedObject {
	var deleted []DeletedObject
	heap.Iterate(func(payload uintptr) {
		hdr := heap.headerFor(payload)
		full := hdr.fullSize(heap.prog())

		if !hdr.isMarked() {
			deleted = append(deleted, DeletedObject{
				Address:  payload,
				TypeName: g.typeName(heap, hdr),
				Size:     full,
			})
			return
		}

		hdr.unmark()
		src := heap.offsetOf(payload - ast.HeaderSize)
		dst := heap.offsetOf(newLocations[payload] - ast.HeaderSize)
		copy(heap.data[dst:dst+full], heap.data[src:src+full])
	})
	return deleted
}

func (g *GC) typeName(heap *Heap, hdr header) string {
	if hdr.isArray() {
		return "Array"
	}
	if class := heap.prog().ClassByIndex(int(hdr.typeID())); class != nil {
		return class.Name
	}
	return "<unknown>"
}
