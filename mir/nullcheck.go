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

import "stackjit/ast"

// NullState maps a reference-typed virtual register number to whether it
// may be null. Absent entries are treated as "may be null" (conservative -
// see spec.md §9's resolution of the ambiguous merge behavior).
type NullState map[int]bool

func (s NullState) maybeNull(reg int) bool {
	v, ok := s[reg]
	if !ok {
		return true
	}
	return v
}

func (s NullState) clone() NullState {
	cp := make(NullState, len(s))
	for k, v := range s {
		cp[k] = v
	}
	return cp
}

// mergeOR combines predecessor exit states pointwise-OR; a register absent
// from a sibling predecessor is treated as maybe-null, per §9.
func mergeOR(states []NullState, allRegs map[int]bool) NullState {
	out := make(NullState, len(allRegs))
	for reg := range allRegs {
		maybe := false
		for _, s := range states {
			if s.maybeNull(reg) {
				maybe = true
				break
			}
		}
		out[reg] = maybe
	}
	return out
}

func transfer(inst *Instr, in NullState) NullState {
	out := in.clone()
	isBC := func(op ast.Opcode) bool { return inst.Op == OpFromBytecode && inst.Bytecode == op }
	switch {
	case isBC(ast.OpLoadNull):
		out[inst.Dest.Number] = true
	case isBC(ast.OpLoadArgument) && inst.Dest.Type.IsReference():
		out[inst.Dest.Number] = true
	case (isBC(ast.OpLoadElement) || isBC(ast.OpLoadField)) && inst.Dest != nil && inst.Dest.Type.IsReference():
		out[inst.Dest.Number] = true
	case isBC(ast.OpCall) && inst.Dest != nil && inst.Dest.Type.IsReference():
		out[inst.Dest.Number] = true
	case isBC(ast.OpNewArray) || isBC(ast.OpNewObject):
		out[inst.Dest.Number] = false
	case inst.Op == OpMove && inst.Dest.Type.IsReference() && len(inst.Args) == 1 && inst.Args[0].Type.IsReference():
		out[inst.Dest.Number] = in.maybeNull(inst.Args[0].Number)
	}
	return out
}

// NullCheckResult is indexed by MIR instruction index: Pre[i] is the
// null-status map observed immediately before instruction i executes.
type NullCheckResult struct {
	Pre []NullState
}

// MaybeNull reports whether reg's pre-instruction-i status is "may be
// null" - the condition under which the low-IR compiler must insert a
// NullReferenceCheck before a dereference of reg.
func (r *NullCheckResult) MaybeNull(i int, reg int) bool {
	return r.Pre[i].maybeNull(reg)
}

// Analyze runs the forward dataflow described in spec.md §4.5: per-block
// transfer, pointwise-OR join over predecessors' exit states (conservative
// for unprocessed predecessors, i.e. loop headers on the first pass), with
// every local VR starting out "maybe null" on entry to the first block.
func Analyze(instrs []*Instr, fn *CompilationResult, localRegs []int) *NullCheckResult {
	blocks := BuildBasicBlocks(instrs)
	cfg := BuildCFG(instrs, blocks)

	allRegs := map[int]bool{}
	for _, l := range localRegs {
		allRegs[l] = true
	}
	for _, inst := range instrs {
		if inst.Dest != nil {
			allRegs[inst.Dest.Number] = true
		}
		for _, a := range inst.Args {
			allRegs[a.Number] = true
		}
	}

	initial := make(NullState, len(localRegs))
	for _, l := range localRegs {
		initial[l] = true
	}

	entry := make([]NullState, len(blocks))
	exit := make([]NullState, len(blocks))
	processed := make([]bool, len(blocks))

	for i := range blocks {
		entry[i] = make(NullState)
		exit[i] = make(NullState)
	}
	entry[0] = initial

	for iter := 0; iter < len(blocks)+1; iter++ {
		changed := false
		for _, b := range blocks {
			var in NullState
			if b.Index == 0 {
				in = initial
			} else {
				preds := cfg.Predecessors(b.Index)
				if len(preds) == 0 {
					in = make(NullState)
				} else {
					states := make([]NullState, 0, len(preds))
					allUnprocessed := true
					for _, p := range preds {
						if processed[p] {
							allUnprocessed = false
						}
						states = append(states, exit[p])
					}
					if allUnprocessed {
						// Conservative fallback for a cycle where no
						// predecessor has been processed yet: treat
						// every register as maybe-null.
						in = make(NullState)
						for reg := range allRegs {
							in[reg] = true
						}
					} else {
						in = mergeOR(states, allRegs)
					}
				}
			}

			state := in
			for _, idx := range b.Instructions {
				state = transfer(instrs[idx], state)
			}
			if !statesEqual(state, exit[b.Index]) {
				exit[b.Index] = state
				changed = true
			}
			entry[b.Index] = in
			processed[b.Index] = true
		}
		if !changed {
			break
		}
	}

	pre := make([]NullState, len(instrs))
	for _, b := range blocks {
		state := entry[b.Index]
		for _, idx := range b.Instructions {
			pre[idx] = state
			state = transfer(instrs[idx], state)
		}
	}

	return &NullCheckResult{Pre: pre}
}

func statesEqual(a, b NullState) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
