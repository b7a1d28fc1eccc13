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

// TestGCCompactsReachableGraph drives the mark/compute/update/move stages
// directly (bypassing WalkStack, which needs a real compiled module) to
// check the object-graph half of one Collect pass: a reference array
// pointing at a live class instance survives and is relocated consistently,
// while an untouched sibling array is reclaimed.
func TestGCCompactsReachableGraph(t *testing.T) {
	prog := ast.NewProgram()
	point := ast.NewClass("Point", []string{"next"}, []*ast.Type{ast.ClassOf("Point")})
	prog.AddClass(point)

	heap := NewHeap(4096, prog)
	g := NewGC()

	// garbage: allocated first, never marked.
	garbage := heap.AllocateArray(elemInt32, 4)

	// root: a reference array holding the one live object's address.
	live, err := heap.AllocateObject(prog, int32(prog.ClassIndex("Point")))
	if err != nil || live == 0 {
		t.Fatalf("AllocateObject: %v", err)
	}
	root := heap.AllocateArray(elemReference, 1)
	writeUintptr(root, live)

	g.markValue(heap, root)

	nextOffset, newLocations := g.computeNewLocations(heap)
	g.updateHeapReferences(heap, newLocations)
	deleted := g.moveObjects(heap, newLocations)
	heap.Reset(nextOffset)

	if len(deleted) != 1 || deleted[0].Address != garbage {
		t.Fatalf("got deleted %+v, want exactly the garbage array at %d", deleted, garbage)
	}

	newRoot, ok := newLocations[root]
	if !ok {
		t.Fatalf("expected the root array to have a new location")
	}
	newLive, ok := newLocations[live]
	if !ok {
		t.Fatalf("expected the live Point to have a new location")
	}
	if got := readUintptr(newRoot); got != newLive {
		t.Fatalf("root's element still points at %x, want the relocated Point at %x", got, newLive)
	}
}

// TestGCMarkValueFollowsClassFieldReferences confirms markValue recurses
// through a class instance's reference-typed fields, not just arrays.
func TestGCMarkValueFollowsClassFieldReferences(t *testing.T) {
	prog := ast.NewProgram()
	node := ast.NewClass("Node", []string{"value", "next"}, []*ast.Type{ast.TInt32, ast.ClassOf("Node")})
	prog.AddClass(node)

	heap := NewHeap(4096, prog)
	g := NewGC()

	tail, _ := heap.AllocateObject(prog, int32(prog.ClassIndex("Node")))
	head, _ := heap.AllocateObject(prog, int32(prog.ClassIndex("Node")))
	nextField := node.Field("next")
	writeUintptr(head+uintptr(nextField.Offset), tail)

	g.markValue(heap, head)

	if !heap.headerFor(head).isMarked() {
		t.Fatalf("expected head to be marked")
	}
	if !heap.headerFor(tail).isMarked() {
		t.Fatalf("expected markValue to follow the next field and mark tail too")
	}
}

// TestGCMarkValueIgnoresOutsideAndNullAddresses confirms markValue treats a
// null reference and a stack address outside the heap as no-ops rather than
// dereferencing garbage, since FrameValue.Reference() can carry either.
func TestGCMarkValueIgnoresOutsideAndNullAddresses(t *testing.T) {
	prog := ast.NewProgram()
	heap := NewHeap(64, prog)
	g := NewGC()

	g.markValue(heap, 0)
	g.markValue(heap, ^uintptr(0))
}
