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

// LiveInterval is the [Start, End] range, in MIR instruction indices, over
// which a virtual register's value must be preserved (spec.md §4.4).
type LiveInterval struct {
	Register int
	Class    RegisterClass
	Start    int
	End      int
}

func touch(ivls map[int]*LiveInterval, r Reg, idx int) {
	if ivl, ok := ivls[r.Number]; ok {
		if idx < ivl.Start {
			ivl.Start = idx
		}
		if idx > ivl.End {
			ivl.End = idx
		}
		return
	}
	ivls[r.Number] = &LiveInterval{Register: r.Number, Class: r.Class(), Start: idx, End: idx}
}

// ComputeLiveIntervals runs the initial per-register scan and then extends
// intervals across back edges to a fixpoint, so a value that's live across
// a loop back edge doesn't appear to die before the loop repeats.
func ComputeLiveIntervals(instrs []*Instr, cfg *CFG) []*LiveInterval {
	ivls := make(map[int]*LiveInterval)

	for i, inst := range instrs {
		if inst.Dest != nil {
			touch(ivls, *inst.Dest, i)
		}
		for _, a := range inst.Args {
			touch(ivls, a, i)
		}
	}

	for {
		changed := false
		for _, b := range cfg.Blocks {
			for _, edge := range cfg.Edges[b.Index] {
				succ := cfg.Blocks[edge.To]
				pred := cfg.Blocks[edge.From]
				predLast := pred.Last()
				succStart := succ.StartOffset

				for _, ivl := range ivls {
					liveAtSuccEntry := ivl.Start <= succStart && ivl.End >= succStart
					if !liveAtSuccEntry {
						continue
					}
					newEnd := predLast
					if ivl.Start < newEnd {
						newEnd = predLast
					} else {
						newEnd = ivl.Start
					}
					if newEnd > ivl.End {
						ivl.End = newEnd
						changed = true
					}
				}
			}
		}
		if !changed {
			break
		}
	}

	out := make([]*LiveInterval, 0, len(ivls))
	for _, ivl := range ivls {
		out = append(out, ivl)
	}
	return out
}
