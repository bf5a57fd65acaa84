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
	"testing"

	"viper/internal/arm64"
	"viper/internal/mir"
)

// diamond builds entry -> {then, else} -> join, with v0 defined in
// entry and read by both arms, to exercise the backward fixed point
// across a merge.
func diamond(t *testing.T) (*mir.Func, mir.VReg, *mir.Block, *mir.Block, *mir.Block, *mir.Block) {
	t.Helper()
	fn := mir.NewFunc("diamond")
	entry := fn.NewBlock("entry")
	then := fn.NewBlock("then")
	els := fn.NewBlock("else")
	join := fn.NewBlock("join")

	v0 := fn.NewVReg(arm64.GPR, 64)
	d0 := mir.VRegOperand(v0)
	entry.Append(&mir.Instr{Op: mir.MovRI, Dst: &d0, Srcs: []mir.Operand{mir.ImmOperand(1)}})
	entry.Succs = []*mir.Block{then, els}

	v1 := fn.NewVReg(arm64.GPR, 64)
	d1 := mir.VRegOperand(v1)
	then.Append(&mir.Instr{Op: mir.AddRRR, Dst: &d1, Srcs: []mir.Operand{mir.VRegOperand(v0), mir.VRegOperand(v0)}})
	then.Succs = []*mir.Block{join}

	v2 := fn.NewVReg(arm64.GPR, 64)
	d2 := mir.VRegOperand(v2)
	els.Append(&mir.Instr{Op: mir.SubRRR, Dst: &d2, Srcs: []mir.Operand{mir.VRegOperand(v0), mir.VRegOperand(v0)}})
	els.Succs = []*mir.Block{join}

	join.Append(&mir.Instr{Op: mir.Ret})

	return fn, v0, entry, then, els, join
}

func TestComputeLivenessAcrossMerge(t *testing.T) {
	fn, v0, entry, then, els, _ := diamond(t)
	lv := computeLiveness(fn)

	if lv.liveOut[entry.ID].isSet(v0.ID) != true {
		t.Fatal("v0 must be live-out of entry: both successors read it")
	}
	if lv.liveIn[entry.ID].isSet(v0.ID) {
		t.Fatal("v0 is defined in entry, so it must not be live-in to entry")
	}
	if !lv.liveIn[then.ID].isSet(v0.ID) || !lv.liveIn[els.ID].isSet(v0.ID) {
		t.Fatal("v0 must be live-in to both arms that read it")
	}
}

func TestBuildIntervalsSpansBothArms(t *testing.T) {
	fn, v0, _, then, els, _ := diamond(t)
	lv := computeLiveness(fn)
	intervals := buildIntervals(fn, lv)

	iv := intervals[v0.ID]
	if len(iv.ranges) == 0 {
		t.Fatal("v0 should have at least one live range")
	}
	if iv.end() <= iv.start() {
		t.Fatalf("v0 spans entry through both arms, interval should be non-trivial: %+v", iv.ranges)
	}

	useCount := 0
	for _, u := range iv.uses {
		if !u.write {
			useCount++
		}
	}
	// Each arm reads v0 twice (both operands of its add/sub).
	if useCount != 4 {
		t.Fatalf("v0 is read twice in %s and twice in %s, want 4 use points, got %d", then.Label, els.Label, useCount)
	}
}
