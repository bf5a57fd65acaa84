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

import "viper/internal/mir"

// liveness holds the per-block live-in/live-out vreg sets a backward
// dataflow fixed point produces; interval.go walks these to build one
// Interval per vreg. Grounded on the teacher's lsra.go liveness pass
// (gen/kill per block, iterate to a fixed point over CFG edges), here
// generalized from the teacher's basic-block successor list to MIR's
// mir.Block.Succs and rebuilt on the bitset type in bitmap.go instead
// of utils.BitMap.
type liveness struct {
	numVRegs int
	liveIn   []*bitset // indexed by mir.Block.ID
	liveOut  []*bitset
}

// computeLiveness runs the backward gen/kill fixed point over fn.
func computeLiveness(fn *mir.Func) *liveness {
	n := len(fn.Blocks)
	nv := len(fn.VRegs())

	gen := make([]*bitset, n)
	kill := make([]*bitset, n)
	lv := &liveness{
		numVRegs: nv,
		liveIn:   make([]*bitset, n),
		liveOut:  make([]*bitset, n),
	}

	for _, b := range fn.Blocks {
		g, k := newBitset(nv), newBitset(nv)
		for _, instr := range b.Instrs {
			for _, u := range instr.UseVRegs(nil) {
				if u.ID < 0 { // the lower.scratchFor sentinel: already a fixed register
					continue
				}
				if !k.isSet(u.ID) {
					g.set(u.ID)
				}
			}
			if d, ok := instr.DefVReg(); ok && d.ID >= 0 {
				k.set(d.ID)
			}
		}
		gen[b.ID], kill[b.ID] = g, k
		lv.liveIn[b.ID], lv.liveOut[b.ID] = newBitset(nv), newBitset(nv)
	}

	// Backward fixed point. Blocks aren't kept in any particular
	// dominance order once trampoline blocks are appended at the end of
	// fn.Blocks by lower's edgeTarget, so this just iterates the block
	// list back-to-front every pass; correctness doesn't depend on
	// order, only convergence speed does.
	for changed := true; changed; {
		changed = false
		for i := n - 1; i >= 0; i-- {
			b := fn.Blocks[i]
			out := newBitset(nv)
			for _, s := range b.Succs {
				out.unite(lv.liveIn[s.ID])
			}
			changedOut := lv.liveOut[b.ID].assign(out)

			in := out.clone()
			in.subtract(kill[b.ID])
			in.unite(gen[b.ID])
			changedIn := lv.liveIn[b.ID].assign(in)

			if changedOut || changedIn {
				changed = true
			}
		}
	}
	return lv
}
