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

import "sort"

// BasicBlock is a maximal run of MIR instructions entered only at
// StartOffset and left only at its last instruction (spec.md §3).
type BasicBlock struct {
	Index        int
	StartOffset  int
	Instructions []int // MIR instruction indices, in order
}

func (b *BasicBlock) Last() int {
	return b.Instructions[len(b.Instructions)-1]
}

// labelIndex returns, for every OpBranchLabel pseudo-instruction, the MIR
// index it sits at.
func labelIndex(instrs []*Instr) map[int]int {
	m := make(map[int]int)
	for i, inst := range instrs {
		if inst.Op == OpBranchLabel {
			m[inst.Label] = i
		}
	}
	return m
}

// BuildBasicBlocks partitions instrs into maximal single-entry,
// single-exit runs. Leaders are: instruction 0, every branch target, and
// the instruction immediately following any branch or return.
func BuildBasicBlocks(instrs []*Instr) []*BasicBlock {
	labels := labelIndex(instrs)

	leaderSet := map[int]bool{0: true}
	for i, inst := range instrs {
		if inst.IsBranch() {
			if target, ok := labels[inst.Label]; ok {
				leaderSet[target] = true
			}
			if i+1 < len(instrs) {
				leaderSet[i+1] = true
			}
		} else if inst.IsReturn() {
			if i+1 < len(instrs) {
				leaderSet[i+1] = true
			}
		}
	}

	leaders := make([]int, 0, len(leaderSet))
	for l := range leaderSet {
		leaders = append(leaders, l)
	}
	sort.Ints(leaders)

	blocks := make([]*BasicBlock, 0, len(leaders))
	for bi, start := range leaders {
		end := len(instrs)
		if bi+1 < len(leaders) {
			end = leaders[bi+1]
		}
		ids := make([]int, 0, end-start)
		for i := start; i < end; i++ {
			ids = append(ids, i)
		}
		blocks = append(blocks, &BasicBlock{Index: bi, StartOffset: start, Instructions: ids})
	}
	return blocks
}

// Linearize concatenates blocks' instruction index lists back into one
// flat order; round-tripping through BuildBasicBlocks is the identity
// (spec.md §8 R2) since blocks are built directly from positional runs.
func Linearize(blocks []*BasicBlock) []int {
	out := []int{}
	for _, b := range blocks {
		out = append(out, b.Instructions...)
	}
	return out
}
