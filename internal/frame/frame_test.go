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

package frame

import (
	"testing"

	"viper/internal/arm64"
	"viper/internal/diag"
	"viper/internal/mir"
)

func TestFinalizeLeafNoFrame(t *testing.T) {
	fn := mir.NewFunc("leaf")
	fn.Leaf = true
	entry := fn.NewBlock("entry")
	entry.Append(&mir.Instr{Op: mir.Ret})

	plan := Finalize(fn, diag.NewSink())
	if plan.UsesFP {
		t.Fatal("a true leaf with no saves or slots should need no frame pointer")
	}
	if plan.FrameSize != 0 {
		t.Fatalf("expected zero frame size, got %d", plan.FrameSize)
	}
	if len(entry.Instrs) != 1 {
		t.Fatalf("leaf fast path should insert no prologue instructions, got %d", len(entry.Instrs))
	}
}

func TestFinalizeNonLeafSavesAndRestores(t *testing.T) {
	fn := mir.NewFunc("caller")
	fn.Leaf = false
	fn.SaveSet = []arm64.Reg{arm64.X[19], arm64.X[20], arm64.X[21]}
	entry := fn.NewBlock("entry")
	entry.Append(&mir.Instr{Op: mir.Ret})

	plan := Finalize(fn, diag.NewSink())
	if !plan.UsesFP {
		t.Fatal("a non-leaf function must establish a frame pointer")
	}

	// Three callee-saved GPRs pair into stp(x19,x20) + str(x21): two
	// save instructions, prepended before the ret.
	var saves int
	for _, instr := range entry.Instrs {
		if instr.Op == mir.StpRegFpImm || instr.Op == mir.StrRegFpImm {
			saves++
		}
	}
	if saves != 2 {
		t.Fatalf("expected 2 save instructions (one pair + one single), got %d", saves)
	}

	var restores int
	for _, instr := range entry.Instrs {
		if instr.Op == mir.LdpRegFpImm || instr.Op == mir.LdrRegFpImm {
			restores++
		}
	}
	if restores != 2 {
		t.Fatalf("expected 2 restore instructions before ret, got %d", restores)
	}

	if entry.Instrs[len(entry.Instrs)-1].Op != mir.Ret {
		t.Fatal("ret must remain the block's final instruction")
	}
}

func TestFinalizeSlotOffsetsDisjointAndAligned(t *testing.T) {
	fn := mir.NewFunc("slots")
	fn.Leaf = true
	s1 := fn.NewStackSlot(8, 8)
	s2 := fn.NewStackSlot(4, 4)
	entry := fn.NewBlock("entry")
	entry.Append(&mir.Instr{Op: mir.Ret})

	Finalize(fn, diag.NewSink())

	if s1.Offset%8 != 0 {
		t.Fatalf("8-byte slot offset %d not 8-aligned", s1.Offset)
	}
	if s2.Offset%4 != 0 {
		t.Fatalf("4-byte slot offset %d not 4-aligned", s2.Offset)
	}
	if s1.Offset == s2.Offset {
		t.Fatal("distinct slots must not alias the same offset")
	}
}

func TestFinalizeFrameSize16ByteAligned(t *testing.T) {
	fn := mir.NewFunc("odd")
	fn.Leaf = false
	fn.NewStackSlot(1, 1)
	entry := fn.NewBlock("entry")
	entry.Append(&mir.Instr{Op: mir.Ret})

	plan := Finalize(fn, diag.NewSink())
	if plan.FrameSize%16 != 0 {
		t.Fatalf("frame size %d must be 16-byte aligned", plan.FrameSize)
	}
}

func TestFinalizeLargeFrameChunksSub(t *testing.T) {
	fn := mir.NewFunc("big")
	fn.Leaf = false
	fn.NewStackSlot(6000, 8)
	entry := fn.NewBlock("entry")
	entry.Append(&mir.Instr{Op: mir.Ret})

	plan := Finalize(fn, diag.NewSink())
	if plan.FrameSize <= maxSubImm {
		t.Fatalf("test slot should force a frame over %d bytes, got %d", maxSubImm, plan.FrameSize)
	}

	var subs int
	for _, instr := range entry.Instrs {
		if instr.Op == mir.SubSpImm {
			subs++
		}
	}
	if subs < 2 {
		t.Fatalf("a frame past the 12-bit immediate should chunk into >= 2 subs, got %d", subs)
	}
}

func TestFinalizeWarnsOnLargeFrame(t *testing.T) {
	fn := mir.NewFunc("huge")
	fn.Leaf = false
	fn.NewStackSlot(5000, 8)
	entry := fn.NewBlock("entry")
	entry.Append(&mir.Instr{Op: mir.Ret})

	sink := diag.NewSink()
	Finalize(fn, sink)

	var warned bool
	for _, r := range sink.Records() {
		if r.Severity == diag.SeverityDiagnostic {
			warned = true
		}
	}
	if !warned {
		t.Fatal("a frame past largeFrameWarnBytes should record a warning")
	}
}

func TestFinalizeOutgoingArgsReserved(t *testing.T) {
	fn := mir.NewFunc("caller9args")
	fn.Leaf = false
	entry := fn.NewBlock("entry")
	entry.Append(&mir.Instr{
		Op:   mir.StrRegBaseImm,
		Srcs: []mir.Operand{mir.RegOperand(arm64.X[9]), mir.MemOperand(mir.Mem{BaseReg: arm64.SP, Offset: 8})},
	})
	entry.Append(&mir.Instr{Op: mir.Ret})

	plan := Finalize(fn, diag.NewSink())
	if plan.FrameSize < 16 {
		t.Fatalf("frame must reserve at least the 16 bytes the overflow store touches, got %d", plan.FrameSize)
	}
}

func TestFinalizeMultipleReturnsEachGetEpilogue(t *testing.T) {
	fn := mir.NewFunc("multiret")
	fn.Leaf = false
	fn.SaveSet = []arm64.Reg{arm64.X[19]}
	a := fn.NewBlock("a")
	b := fn.NewBlock("b")
	a.Append(&mir.Instr{Op: mir.Ret})
	b.Append(&mir.Instr{Op: mir.Ret})

	Finalize(fn, diag.NewSink())

	for _, blk := range []*mir.Block{a, b} {
		if blk.Instrs[len(blk.Instrs)-1].Op != mir.Ret {
			t.Fatalf("block %s must still end in ret", blk.Label)
		}
		var restored bool
		for _, instr := range blk.Instrs {
			if instr.Op == mir.LdrRegFpImm {
				restored = true
			}
		}
		if !restored {
			t.Fatalf("block %s is missing its own epilogue restore", blk.Label)
		}
	}
}
