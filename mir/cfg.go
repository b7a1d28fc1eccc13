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

// ControlFlowEdge is stored both forward (Edges) and reversed (BackEdges);
// BackEdges[b] holds {From: b, To: predecessor} per spec.md §3's
// "reversed-direction view".
type ControlFlowEdge struct {
	From int
	To   int
}

type CFG struct {
	Blocks    []*BasicBlock
	Edges     map[int][]ControlFlowEdge
	BackEdges map[int][]ControlFlowEdge
}

// BuildCFG derives control-flow edges from the last MIR instruction of
// each block (spec.md §3).
func BuildCFG(instrs []*Instr, blocks []*BasicBlock) *CFG {
	labels := labelIndex(instrs)
	startToBlock := make(map[int]int, len(blocks))
	for _, b := range blocks {
		startToBlock[b.StartOffset] = b.Index
	}

	cfg := &CFG{
		Blocks:    blocks,
		Edges:     make(map[int][]ControlFlowEdge),
		BackEdges: make(map[int][]ControlFlowEdge),
	}

	addEdge := func(from, to int) {
		cfg.Edges[from] = append(cfg.Edges[from], ControlFlowEdge{From: from, To: to})
		cfg.BackEdges[to] = append(cfg.BackEdges[to], ControlFlowEdge{From: to, To: from})
	}

	for _, b := range blocks {
		last := instrs[b.Last()]
		fallthroughOffset := b.StartOffset + len(b.Instructions)

		switch {
		case last.IsUnconditionalBranch():
			target := startToBlock[labels[last.Label]]
			addEdge(b.Index, target)
		case last.IsBranch(): // conditional
			target := startToBlock[labels[last.Label]]
			addEdge(b.Index, target)
			if fb, ok := startToBlock[fallthroughOffset]; ok {
				addEdge(b.Index, fb)
			}
		case last.IsReturn():
			// no edges
		default:
			if fb, ok := startToBlock[fallthroughOffset]; ok {
				addEdge(b.Index, fb)
			}
		}
	}

	return cfg
}

func (c *CFG) Predecessors(block int) []int {
	preds := make([]int, 0, len(c.BackEdges[block]))
	for _, e := range c.BackEdges[block] {
		preds = append(preds, e.To)
	}
	return preds
}

func (c *CFG) Successors(block int) []int {
	succs := make([]int, 0, len(c.Edges[block]))
	for _, e := range c.Edges[block] {
		succs = append(succs, e.To)
	}
	return succs
}
