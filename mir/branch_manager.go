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

// BranchManager owns the one-to-one map from bytecode branch-target
// indices to stable integer labels (spec.md §3 "Branch labels"). Labels
// are assigned monotonically as new targets are discovered.
type BranchManager struct {
	indexToLabel map[int]int
	next         int
}

func NewBranchManager() *BranchManager {
	return &BranchManager{indexToLabel: make(map[int]int)}
}

// labelFor returns the stable label for a bytecode index, assigning a new
// one on first sight.
func (m *BranchManager) labelFor(index int) int {
	if l, ok := m.indexToLabel[index]; ok {
		return l
	}
	l := m.next
	m.next++
	m.indexToLabel[index] = l
	return l
}

// DiscoverLabels is the first pass over bytecode: every branch target gets
// a label before MIR translation begins, so that by the time translation
// reaches a target's own bytecode index, LabelAt below already knows to
// emit a BranchLabel there.
func DiscoverLabels(m *BranchManager, instrs []*ast.Instruction) {
	for _, inst := range instrs {
		if inst.Op == ast.OpBranch || inst.Op.IsConditionalBranch() {
			m.labelFor(inst.Target)
		}
	}
}

// LabelAt returns (label, true) if bytecode index idx is a known branch
// target, so the MIR compiler should prefix its translation with a
// BranchLabel.
func (m *BranchManager) LabelAt(idx int) (int, bool) {
	l, ok := m.indexToLabel[idx]
	return l, ok
}

// LabelOf returns the stable label for a branch instruction's target.
func (m *BranchManager) LabelOf(target int) int {
	return m.labelFor(target)
}
