// Copyright (c) 2024 The Viper Contributors
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

package regalloc

import (
	"sort"

	"viper/internal/mir"
)

// urange is one contiguous live segment, positions in the function's
// global instruction numbering (two slots per instruction: the even
// slot is the instruction's def point, the odd slot its use point,
// following the teacher's lsra_interval.go Range convention).
type urange struct {
	from, to int
}

// usePoint records one position a vreg is read or written at, used by
// lsra's furthest-next-use spill heuristic.
type usePoint struct {
	pos   int
	write bool
}

// interval is one vreg's live range: a sorted, merged list of
// urange segments plus every use point within them. Grounded on the
// teacher's Interval (compile/codegen/lsra_interval.go), but built as
// plain slices instead of the teacher's linked-list Range/UsePoint
// chain — this backend never needs the teacher's splitAt (no live
// range splitting, see DESIGN.md), so the chain's insert-in-the-middle
// support buys nothing here.
type interval struct {
	vreg mir.VReg

	ranges []urange
	uses   []usePoint

	// crossesCall is set when the vreg is live across a Bl/Blr; lsra
	// prefers a callee-saved register for these so the call doesn't
	// force a spill/reload around it.
	crossesCall bool

	// remat records that this vreg's only definition is a MovRI/FMovRI
	// loading a constant: lsra can recreate the value at a use site
	// instead of spilling it to the stack and reloading.
	remat    bool
	rematOp  mir.Op
	rematImm int64
}

func (iv *interval) start() int {
	if len(iv.ranges) == 0 {
		return 1 << 30
	}
	return iv.ranges[0].from
}

func (iv *interval) end() int {
	if len(iv.ranges) == 0 {
		return -1
	}
	return iv.ranges[len(iv.ranges)-1].to
}

func (iv *interval) covers(pos int) bool {
	for _, r := range iv.ranges {
		if pos >= r.from && pos < r.to {
			return true
		}
	}
	return false
}

// nextUseAfter returns the earliest use point at or after pos.
func (iv *interval) nextUseAfter(pos int) (int, bool) {
	for _, u := range iv.uses {
		if u.pos >= pos {
			return u.pos, true
		}
	}
	return 0, false
}

// addRange merges [from, to) into the interval's range list, keeping
// it sorted and coalesced. from==to ranges (a dead def with no uses)
// are dropped; setFrom below re-adds a singleton range for those.
func (iv *interval) addRange(from, to int) {
	if from >= to {
		return
	}
	nr := urange{from, to}
	merged := make([]urange, 0, len(iv.ranges)+1)
	inserted := false
	for _, r := range iv.ranges {
		switch {
		case nr.to < r.from:
			if !inserted {
				merged = append(merged, nr)
				inserted = true
			}
			merged = append(merged, r)
		case r.to < nr.from:
			merged = append(merged, r)
		default:
			if r.from < nr.from {
				nr.from = r.from
			}
			if r.to > nr.to {
				nr.to = r.to
			}
		}
	}
	if !inserted {
		merged = append(merged, nr)
	}
	iv.ranges = merged
}

// setFrom trims the interval's earliest range to start at pos — the
// definition point kills liveness before it within the same block.
func (iv *interval) setFrom(pos int) {
	if len(iv.ranges) == 0 {
		iv.ranges = []urange{{pos, pos + 1}}
		return
	}
	iv.ranges[0].from = pos
}

func (iv *interval) addUse(pos int, write bool) {
	iv.uses = append(iv.uses, usePoint{pos: pos, write: write})
}

// buildIntervals runs the classic build-intervals-from-liveness walk
// (Wimmer & Franz, as realized in the teacher's lsra.go): every block
// is visited in reverse program order, live-out vregs get a range
// spanning the whole block, then each instruction is visited backward,
// shrinking the defined vreg's range to the def point and extending
// each used vreg's range back to the start of the block.
func buildIntervals(fn *mir.Func, lv *liveness) []*interval {
	nv := len(fn.VRegs())
	intervals := make([]*interval, nv)
	for _, v := range fn.VRegs() {
		intervals[v.ID] = &interval{vreg: v}
	}

	blockFrom := make([]int, len(fn.Blocks))
	blockTo := make([]int, len(fn.Blocks))
	instrPos := make(map[*mir.Instr]int)
	pos := 0
	for _, b := range fn.Blocks {
		blockFrom[b.ID] = pos
		for _, instr := range b.Instrs {
			instrPos[instr] = pos
			pos += 2
		}
		blockTo[b.ID] = pos
	}

	for i := len(fn.Blocks) - 1; i >= 0; i-- {
		b := fn.Blocks[i]
		live := lv.liveOut[b.ID].clone()
		live.each(func(v int) { intervals[v].addRange(blockFrom[b.ID], blockTo[b.ID]) })

		for j := len(b.Instrs) - 1; j >= 0; j-- {
			instr := b.Instrs[j]
			p := instrPos[instr]

			if instr.Op.IsCall() {
				live.each(func(v int) { intervals[v].crossesCall = true })
			}

			if d, ok := instr.DefVReg(); ok && d.ID >= 0 {
				iv := intervals[d.ID]
				iv.setFrom(p)
				iv.addUse(p, true)
				live.clear(d.ID)
				if (instr.Op == mir.MovRI || instr.Op == mir.FMovRI) &&
					len(instr.Srcs) == 1 && instr.Srcs[0].Kind == mir.OperandImm {
					iv.remat = true
					iv.rematOp = instr.Op
					iv.rematImm = instr.Srcs[0].Imm
				}
			}
			for _, u := range instr.UseVRegs(nil) {
				if u.ID < 0 { // lower.scratchFor sentinel, already a fixed register
					continue
				}
				iv := intervals[u.ID]
				iv.addRange(blockFrom[b.ID], p+1)
				iv.addUse(p, false)
				live.set(u.ID)
			}
		}
	}

	for _, iv := range intervals {
		sort.Slice(iv.uses, func(a, b int) bool { return iv.uses[a].pos < iv.uses[b].pos })
	}
	return intervals
}
