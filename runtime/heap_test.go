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
	"testing"

	"stackjit/ast"
)

// TestAllocateObjectWritesHeader confirms AllocateObject sizes the region
// correctly and writes a live, zero-length header tagged with the class's id.
func TestAllocateObjectWritesHeader(t *testing.T) {
	prog := ast.NewProgram()
	point := ast.NewClass("Point", []string{"x", "y"}, []*ast.Type{ast.TInt32, ast.TInt32})
	prog.AddClass(point)

	heap := NewHeap(1024, prog)
	payload, err := heap.AllocateObject(prog, int32(prog.ClassIndex("Point")))
	if err != nil {
		t.Fatalf("AllocateObject: %v", err)
	}
	if payload == 0 {
		t.Fatalf("expected a non-zero payload address")
	}

	hdr := heap.headerFor(payload)
	if hdr.isArray() {
		t.Fatalf("expected a class instance, got isArray() true")
	}
	if int(hdr.typeID()) != prog.ClassIndex("Point") {
		t.Fatalf("got typeID %d, want Point's class index %d", hdr.typeID(), prog.ClassIndex("Point"))
	}
	if !heap.Inside(payload) {
		t.Fatalf("allocated payload address is not reported Inside the heap")
	}
	if got, want := heap.Used(), ast.HeaderSize+point.MemorySize; got != want {
		t.Fatalf("got Used() %d, want %d", got, want)
	}
}

// TestAllocateObjectUnknownClassErrors confirms an out-of-range class id is
// rejected rather than silently allocating garbage-sized memory.
func TestAllocateObjectUnknownClassErrors(t *testing.T) {
	prog := ast.NewProgram()
	heap := NewHeap(1024, prog)
	if _, err := heap.AllocateObject(prog, 99); err == nil {
		t.Fatalf("expected an error allocating an unknown class id")
	}
}

// TestAllocateArrayUniformSlotWidth confirms every array element, regardless
// of declared kind, occupies the uniform 8-byte slot the stack walker and GC
// assume (see elementSlotSize's doc comment).
func TestAllocateArrayUniformSlotWidth(t *testing.T) {
	prog := ast.NewProgram()
	heap := NewHeap(1024, prog)

	payload := heap.AllocateArray(elemInt32, 10)
	if payload == 0 {
		t.Fatalf("expected a non-zero payload address")
	}
	hdr := heap.headerFor(payload)
	if !hdr.isArray() {
		t.Fatalf("expected isArray() true")
	}
	if hdr.length() != 10 {
		t.Fatalf("got length %d, want 10", hdr.length())
	}
	if got, want := heap.Used(), ast.HeaderSize+10*elementSlotSize; got != want {
		t.Fatalf("got Used() %d, want %d", got, want)
	}
}

// TestAllocateExhaustionReturnsZero confirms a request that would overrun
// the backing array reports failure (a 0 payload) instead of panicking;
// Services turns that 0 into a failed assertion rather than collecting.
func TestAllocateExhaustionReturnsZero(t *testing.T) {
	prog := ast.NewProgram()
	heap := NewHeap(ast.HeaderSize+7, prog)
	if payload := heap.AllocateArray(elemInt32, 1); payload != 0 {
		t.Fatalf("expected allocation to fail (payload 8 bytes > 7 remaining), got %d", payload)
	}
}

// TestHeapIterateSkipsTombstones confirms Iterate visits live objects only,
// stepping clean over a tombstoned region by its stashed full size.
func TestHeapIterateSkipsTombstones(t *testing.T) {
	prog := ast.NewProgram()
	heap := NewHeap(1024, prog)

	first := heap.AllocateArray(elemInt32, 2)
	second := heap.AllocateArray(elemInt32, 3)

	firstHdr := heap.headerFor(first)
	firstHdr.markDeleted(ast.HeaderSize + 2*elementSlotSize)

	var visited []uintptr
	heap.Iterate(func(payload uintptr) { visited = append(visited, payload) })

	if len(visited) != 1 || visited[0] != second {
		t.Fatalf("got visited %v, want exactly [%d] (the tombstoned first array skipped)", visited, second)
	}
}

// TestHeapResetRewindsOffset confirms Reset moves the bump pointer back,
// the hook GC.Collect uses after compacting survivors to the front.
func TestHeapResetRewindsOffset(t *testing.T) {
	prog := ast.NewProgram()
	heap := NewHeap(1024, prog)
	heap.AllocateArray(elemInt32, 4)
	if heap.Used() == 0 {
		t.Fatalf("expected a non-zero Used() after allocating")
	}
	heap.Reset(0)
	if heap.Used() != 0 {
		t.Fatalf("got Used() %d after Reset(0), want 0", heap.Used())
	}
}
