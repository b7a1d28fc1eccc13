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

// TestHeaderRoundTripsClassInstance exercises every header field (spec.md's
// HeaderSize layout, ast/class.go) for a class instance: TypeID, gc state and
// the elem-kind/length byte that only arrays use.
func TestHeaderRoundTripsClassInstance(t *testing.T) {
	mem := make([]byte, 64)
	payload := ast.HeaderSize
	hdr := headerAt(mem, payload)

	hdr.setTypeID(3)
	hdr.setGCState(gcStateLive)
	hdr.setLength(0)

	if hdr.typeID() != 3 {
		t.Fatalf("got typeID %d, want 3", hdr.typeID())
	}
	if hdr.isArray() {
		t.Fatalf("a class instance's header reported isArray() true")
	}
	if hdr.isMarked() {
		t.Fatalf("a freshly written header reported isMarked() true")
	}
	hdr.mark()
	if !hdr.isMarked() {
		t.Fatalf("mark() did not set the marked state")
	}
	hdr.unmark()
	if hdr.isMarked() || hdr.isTombstone() {
		t.Fatalf("unmark() left the header marked or tombstoned")
	}
}

// TestHeaderRoundTripsArray checks the array-only typeID/length/elemKind
// fields and confirms isArray distinguishes ArrayTypeTag from a class id.
func TestHeaderRoundTripsArray(t *testing.T) {
	mem := make([]byte, 64)
	payload := ast.HeaderSize
	hdr := headerAt(mem, payload)

	hdr.setTypeID(int64(ast.ArrayTypeTag))
	hdr.setGCState(gcStateLive)
	hdr.setElemKind(elemReference)
	hdr.setLength(42)

	if !hdr.isArray() {
		t.Fatalf("expected isArray() true for ArrayTypeTag")
	}
	if hdr.length() != 42 {
		t.Fatalf("got length %d, want 42", hdr.length())
	}
	if !hdr.elemKind().isReference() {
		t.Fatalf("expected elemKind to round-trip as a reference kind")
	}
}

// TestHeaderTombstoneStashesFullSize confirms markDeleted both flips the gc
// state to the tombstone sentinel and reuses the TypeID slot to stash the
// region's full byte size, which Heap.Iterate relies on to skip past it.
func TestHeaderTombstoneStashesFullSize(t *testing.T) {
	mem := make([]byte, 64)
	hdr := headerAt(mem, ast.HeaderSize)
	hdr.setTypeID(7)

	hdr.markDeleted(48)

	if !hdr.isTombstone() {
		t.Fatalf("expected isTombstone() true after markDeleted")
	}
	if hdr.deletedSize() != 48 {
		t.Fatalf("got deletedSize %d, want 48", hdr.deletedSize())
	}
}

// TestHeaderPayloadSizeForClassAndArray confirms payloadSize reads the
// declared class's MemorySize for a class instance and computes length *
// elementSlotSize for an array, matching Heap.AllocateObject/AllocateArray's
// own sizing.
func TestHeaderPayloadSizeForClassAndArray(t *testing.T) {
	prog := ast.NewProgram()
	point := ast.NewClass("Point", []string{"x", "y"}, []*ast.Type{ast.TInt32, ast.TInt32})
	prog.AddClass(point)

	mem := make([]byte, 64)
	classHdr := headerAt(mem, ast.HeaderSize)
	classHdr.setTypeID(int64(prog.ClassIndex("Point")))
	if got := classHdr.payloadSize(prog); got != point.MemorySize {
		t.Fatalf("got class payloadSize %d, want %d", got, point.MemorySize)
	}

	arrHdr := headerAt(mem, ast.HeaderSize)
	arrHdr.setTypeID(int64(ast.ArrayTypeTag))
	arrHdr.setLength(5)
	if got, want := arrHdr.payloadSize(prog), 5*elementSlotSize; got != want {
		t.Fatalf("got array payloadSize %d, want %d", got, want)
	}
}
