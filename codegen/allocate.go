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
package codegen

import (
	"sort"

	"stackjit/mir"
)

// Allocation is the linear-scan register allocator's output for one
// function: which virtual registers (if any) got a hardware register for
// their whole live range. A virtual register without an entry in Register
// lives exclusively in its home stack slot (spec.md §4.6); the emitter
// always has a home slot to fall back to, so a VR that didn't make it into
// a register is simply never read into one - every use goes through scratch.
type Allocation struct {
	Register        map[int]HardwareRegister
	UsedCalleeSaved []HardwareRegister
	Intervals       []*mir.LiveInterval
}

func (a *Allocation) RegisterOf(vr int) (HardwareRegister, bool) {
	r, ok := a.Register[vr]
	return r, ok
}

// AliveAt returns every hardware register a live virtual register occupies
// at MIR instruction i - the set a call at i must treat as caller-saved
// (spec.md §3 invariant I3, §4.7's Call lowering, §8 P3). Since every VR
// definition is immediately echoed to its home stack slot (emit.go's
// storeResult), restoring these after a call is a plain reload from the
// home slot rather than a dedicated spill buffer - see emit.go's
// refreshLiveRegisters and DESIGN.md.
func (a *Allocation) AliveAt(i int) map[int]HardwareRegister {
	out := map[int]HardwareRegister{}
	for _, ivl := range a.Intervals {
		if ivl.Start <= i && i <= ivl.End {
			if reg, ok := a.Register[ivl.Register]; ok {
				out[ivl.Register] = reg
			}
		}
	}
	return out
}

// Allocate runs linear-scan register allocation split by register class
// (spec.md §4.6): intervals are processed in start order, one active set per
// class, a live interval whose class pool has no free register falls back
// to its stack home. This is the non-splitting variant of the Wimmer/Franz
// "Linear Scan Register Allocation for the Java HotSpot Client Compiler"
// algorithm the teacher's compile/codegen/lsra.go also cites; unlike that
// file (whose tryAllocatePhyReg never actually assigns - see DESIGN.md) this
// allocator completes the assignment.
func Allocate(intervals []*mir.LiveInterval) *Allocation {
	alloc := &Allocation{Register: make(map[int]HardwareRegister), Intervals: intervals}

	byClass := map[mir.RegisterClass][]*mir.LiveInterval{}
	for _, ivl := range intervals {
		byClass[ivl.Class] = append(byClass[ivl.Class], ivl)
	}

	usedCalleeSaved := map[HardwareRegister]bool{}
	alloc.Register = mergeAllocations(
		allocateClass(byClass[mir.ClassInt], IntAllocatable, usedCalleeSaved),
		allocateClass(byClass[mir.ClassFloat], FloatAllocatable, usedCalleeSaved),
	)

	for _, r := range CalleeSaved {
		if usedCalleeSaved[r] {
			alloc.UsedCalleeSaved = append(alloc.UsedCalleeSaved, r)
		}
	}
	return alloc
}

func mergeAllocations(maps ...map[int]HardwareRegister) map[int]HardwareRegister {
	out := make(map[int]HardwareRegister)
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

func isCalleeSaved(r HardwareRegister) bool {
	for _, c := range CalleeSaved {
		if c == r {
			return true
		}
	}
	return false
}

type activeEntry struct {
	ivl *mir.LiveInterval
	reg HardwareRegister
}

func allocateClass(intervals []*mir.LiveInterval, pool []HardwareRegister, usedCalleeSaved map[HardwareRegister]bool) map[int]HardwareRegister {
	sort.Slice(intervals, func(i, j int) bool { return intervals[i].Start < intervals[j].Start })

	result := make(map[int]HardwareRegister)
	var active []activeEntry
	free := append([]HardwareRegister(nil), pool...)

	for _, cur := range intervals {
		// Expire active intervals that ended before cur starts, returning
		// their register to the free pool.
		kept := active[:0]
		for _, a := range active {
			if a.ivl.End < cur.Start {
				free = append([]HardwareRegister{a.reg}, free...)
			} else {
				kept = append(kept, a)
			}
		}
		active = kept

		if len(free) == 0 {
			// No hardware register available: cur stays home-only.
			continue
		}
		reg := free[0]
		free = free[1:]
		result[cur.Register] = reg
		active = append(active, activeEntry{ivl: cur, reg: reg})
		if isCalleeSaved(reg) {
			usedCalleeSaved[reg] = true
		}
	}
	return result
}
