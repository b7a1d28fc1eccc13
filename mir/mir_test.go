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
package mir

import (
	"testing"

	"stackjit/ast"
	"stackjit/verifier"
)

// branchingFunction mirrors spec scenario 2: a not-equal branch over two
// diverging stores into local 0, joining before the final load/return.
func branchingFunction(t *testing.T) *ast.Function {
	t.Helper()
	fn := ast.NewManagedFunction("main", nil, ast.TInt32, []*ast.Type{ast.TInt32}, []*ast.Instruction{
		{Op: ast.OpLoadInt32, Int32Value: 1},    // 0
		{Op: ast.OpLoadInt32, Int32Value: 2},    // 1
		{Op: ast.OpBranchNe, Target: 6},         // 2
		{Op: ast.OpLoadInt32, Int32Value: 1337}, // 3
		{Op: ast.OpStoreLocal, Index: 0},        // 4
		{Op: ast.OpBranch, Target: 8},           // 5
		{Op: ast.OpLoadInt32, Int32Value: 4711}, // 6
		{Op: ast.OpStoreLocal, Index: 0},        // 7
		{Op: ast.OpLoadLocal, Index: 0},         // 8
		{Op: ast.OpReturn},                      // 9
	})
	if err := verifier.Verify(ast.NewProgram(), fn); err != nil {
		t.Fatalf("verify: %v", err)
	}
	return fn
}

func TestCompileAndLinearizeRoundTrip(t *testing.T) {
	fn := branchingFunction(t)
	res := Compile(ast.NewProgram(), fn)

	blocks := BuildBasicBlocks(res.Instructions)
	if len(blocks) < 2 {
		t.Fatalf("expected multiple basic blocks for a branching function, got %d", len(blocks))
	}

	linear := Linearize(blocks)
	if len(linear) != len(res.Instructions) {
		t.Fatalf("got %d linearized instructions, want %d", len(linear), len(res.Instructions))
	}
	for i, idx := range linear {
		if idx != i {
			t.Fatalf("Linearize(BuildBasicBlocks(I)) != I at position %d: got index %d", i, idx)
		}
	}
}

func TestBuildCFGEdges(t *testing.T) {
	fn := branchingFunction(t)
	res := Compile(ast.NewProgram(), fn)
	blocks := BuildBasicBlocks(res.Instructions)
	cfg := BuildCFG(res.Instructions, blocks)

	// The join block (the one starting at the LoadLocal) must have two
	// predecessors: the fallthrough after the BranchNe-taken arm and the
	// unconditional branch out of the not-taken arm.
	var joinBlock int = -1
	for _, b := range blocks {
		if res.Instructions[b.StartOffset].BytecodeIndex == 8 {
			joinBlock = b.Index
		}
	}
	if joinBlock == -1 {
		t.Fatalf("could not find the join block")
	}
	preds := cfg.Predecessors(joinBlock)
	if len(preds) != 2 {
		t.Fatalf("got %d predecessors at the join block, want 2", len(preds))
	}
}

func TestComputeLiveIntervals(t *testing.T) {
	fn := branchingFunction(t)
	res := Compile(ast.NewProgram(), fn)
	blocks := BuildBasicBlocks(res.Instructions)
	cfg := BuildCFG(res.Instructions, blocks)
	intervals := ComputeLiveIntervals(res.Instructions, cfg)

	if len(intervals) == 0 {
		t.Fatalf("expected at least one live interval")
	}
	for _, iv := range intervals {
		if iv.End < iv.Start {
			t.Fatalf("interval for vr %d ends (%d) before it starts (%d)", iv.Register, iv.End, iv.Start)
		}
	}
}

func TestNullCheckAnalysisMergesConservatively(t *testing.T) {
	arrType := ast.ArrayOf(ast.TInt32)
	fn := ast.NewManagedFunction("main", nil, ast.TInt32, []*ast.Type{arrType}, []*ast.Instruction{
		{Op: ast.OpLoadInt32, Int32Value: 1},
		{Op: ast.OpLoadInt32, Int32Value: 1},
		{Op: ast.OpBranchEq, Target: 6},
		{Op: ast.OpLoadInt32, Int32Value: 4},
		{Op: ast.OpNewArray, Type: ast.TInt32},
		{Op: ast.OpStoreLocal, Index: 0},
		{Op: ast.OpLoadLocal, Index: 0},
		{Op: ast.OpLoadArrayLength},
		{Op: ast.OpReturn},
	})
	if err := verifier.Verify(ast.NewProgram(), fn); err != nil {
		t.Fatalf("verify: %v", err)
	}
	res := Compile(ast.NewProgram(), fn)
	result := Analyze(res.Instructions, res, res.LocalVirtualRegisters)

	localVR := res.LocalVirtualRegisters[0]
	// At the join point (LoadLocal reading local 0), one predecessor
	// definitely stored a fresh array (not-null) and the other never
	// touched the local at all, so it still carries the entry state, which
	// marks every local "maybe null". The OR join keeps that, so the join
	// state is maybe-null even though one incoming path proved it wasn't.
	joinIdx := -1
	for i, inst := range res.Instructions {
		if inst.BytecodeIndex == 6 && inst.Op == OpMove {
			joinIdx = i
		}
	}
	if joinIdx == -1 {
		t.Fatalf("could not find the join instruction")
	}
	if !result.MaybeNull(joinIdx, localVR) {
		t.Fatalf("expected the join state to conservatively report maybe-null")
	}
}
