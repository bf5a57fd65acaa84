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

// Package regalloc computes liveness and assigns AArch64 registers to
// every vreg a MIR function uses, spilling to the stack under
// pressure. Grounded on the teacher's compile/codegen/lsra.go
// (Poletto & Sarkar linear scan, the same algorithm family), rebuilt
// around mir.Func/mir.VReg instead of the teacher's LIR, and without
// live-range splitting: a vreg holds exactly one location — a
// register or a stack slot — for its entire life, never both at
// different points, which keeps rewriting the MIR a single pass
// instead of the teacher's (dead, never-reached) splitAt machinery.
//
// One VReg identity needs no allocation at all: mir.VReg{ID: -1, ...}
// is the sentinel internal/lower's scratchFor returns for the
// register pcopy.Resolve uses to break a cycle on an edge's parallel
// copy. It already denotes a fixed physical register — ScratchGPR or
// ScratchFPR by class — so liveness, interval building, and the final
// rewrite all special-case it instead of routing it through ordinary
// allocation.
package regalloc

import (
	"sort"

	"viper/internal/arm64"
	"viper/internal/diag"
	"viper/internal/mir"
)

const stage = "regalloc"

// spillInfo is a spilled vreg's disposition: either a real stack slot,
// or (when the vreg's only definition is a MovRI/FMovRI) a
// rematerialization recipe that regenerates the constant at every use
// instead of paying for a store and a reload.
type spillInfo struct {
	slot     *mir.StackSlot
	remat    bool
	rematOp  mir.Op
	rematImm int64
}

// Allocate assigns registers (spilling as needed) to every vreg in fn,
// then rewrites fn's blocks in place so every operand is either a
// physical register or a frame-relative memory operand. fn.SaveSet is
// populated with the callee-saved registers actually used.
func Allocate(fn *mir.Func, sink *diag.Sink) {
	lv := computeLiveness(fn)
	intervals := buildIntervals(fn, lv)

	assign := make(map[int]arm64.Reg, len(intervals))
	spill := make(map[int]spillInfo)

	linearScan(intervals, arm64.GPR, arm64.AllocatableGPR, fn, assign, spill)
	linearScan(intervals, arm64.FPR, arm64.AllocatableFPR, fn, assign, spill)

	fn.SaveSet = computeSaveSet(assign)
	rewriteFunc(fn, assign, spill, sink)
}

// computeSaveSet returns every callee-saved physical register actually
// handed out, in the target description's pool order so the output is
// independent of map iteration (spec.md §6).
func computeSaveSet(assign map[int]arm64.Reg) []arm64.Reg {
	used := make(map[arm64.Reg]bool, len(assign))
	for _, r := range assign {
		used[r] = true
	}
	var out []arm64.Reg
	for _, r := range arm64.CalleeSavedGPR {
		if used[r] {
			out = append(out, r)
		}
	}
	for _, r := range arm64.CalleeSavedFPR {
		if used[r] {
			out = append(out, r)
		}
	}
	return out
}

// linearScan runs Poletto & Sarkar's algorithm over one register
// class's intervals: process in increasing start order, expire
// intervals whose range has ended, hand out a free register, and
// spill the interval (the current one or an active one) whose next
// use is furthest away when the free list is empty.
func linearScan(
	all []*interval,
	class arm64.RegClass,
	pool []arm64.Reg,
	fn *mir.Func,
	assign map[int]arm64.Reg,
	spill map[int]spillInfo,
) {
	var list []*interval
	for _, iv := range all {
		if iv.vreg.Class == class && len(iv.ranges) > 0 {
			list = append(list, iv)
		}
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].start() != list[j].start() {
			return list[i].start() < list[j].start()
		}
		return list[i].vreg.ID < list[j].vreg.ID
	})

	free := append([]arm64.Reg(nil), pool...)
	var active []*interval

	for _, iv := range list {
		cur := iv.start()

		kept := active[:0]
		for _, a := range active {
			if a.end() <= cur {
				free = append(free, assign[a.vreg.ID])
			} else {
				kept = append(kept, a)
			}
		}
		active = kept

		if reg, ok := pickFreeRegister(free, iv.crossesCall); ok {
			assign[iv.vreg.ID] = reg
			free = removeReg(free, reg)
			active = append(active, iv)
			continue
		}

		victim, victimIdx := pickSpillVictim(active, iv, cur)
		if victim == iv {
			spill[iv.vreg.ID] = newSpill(fn, iv)
			continue
		}
		reg := assign[victim.vreg.ID]
		spill[victim.vreg.ID] = newSpill(fn, victim)
		delete(assign, victim.vreg.ID)
		assign[iv.vreg.ID] = reg
		active[victimIdx] = iv
	}
}

func newSpill(fn *mir.Func, iv *interval) spillInfo {
	if iv.remat {
		return spillInfo{remat: true, rematOp: iv.rematOp, rematImm: iv.rematImm}
	}
	return spillInfo{slot: fn.NewStackSlot(8, 8)}
}

// pickFreeRegister prefers a callee-saved register for an interval
// live across a call (spec.md §4.3's call-awareness: a caller-saved
// register would need its own save/reload around the call anyway) and
// a caller-saved one otherwise, falling back to whatever is left.
func pickFreeRegister(free []arm64.Reg, preferCalleeSaved bool) (arm64.Reg, bool) {
	if len(free) == 0 {
		return arm64.Reg{}, false
	}
	for _, r := range free {
		if arm64.IsCalleeSaved(r) == preferCalleeSaved {
			return r, true
		}
	}
	return free[0], true
}

func removeReg(free []arm64.Reg, r arm64.Reg) []arm64.Reg {
	out := free[:0]
	for _, f := range free {
		if f != r {
			out = append(out, f)
		}
	}
	return out
}

// pickSpillVictim chooses whichever of cur or an active interval has
// its next use furthest after pos (or none at all), the standard
// furthest-next-use linear-scan spill heuristic. Returns (cur, -1)
// when cur itself should be the one spilled.
func pickSpillVictim(active []*interval, cur *interval, pos int) (*interval, int) {
	const noMoreUses = 1 << 30
	best := cur
	bestIdx := -1
	bestNext, ok := cur.nextUseAfter(pos)
	if !ok {
		bestNext = noMoreUses
	}
	for i, a := range active {
		next, ok := a.nextUseAfter(pos)
		if !ok {
			next = noMoreUses
		}
		if next > bestNext {
			best, bestIdx, bestNext = a, i, next
		}
	}
	return best, bestIdx
}

// fixedScratch reports whether v is lower.scratchFor's negative-ID
// sentinel and, if so, the fixed physical register it denotes —
// already a register, never allocated or spilled.
func fixedScratch(v mir.VReg) (arm64.Reg, bool) {
	if v.ID >= 0 {
		return arm64.Reg{}, false
	}
	if v.Class == arm64.FPR {
		return arm64.ScratchFPR, true
	}
	return arm64.ScratchGPR, true
}
