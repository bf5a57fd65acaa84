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

package peephole

import (
	"testing"

	"viper/internal/arm64"
	"viper/internal/mir"
)

func reg(r arm64.Reg) mir.Operand { return mir.RegOperand(r) }

func TestFoldImmediateRemovesMaterializingMov(t *testing.T) {
	fn := mir.NewFunc("f")
	b := fn.NewBlock("entry")
	t9 := mir.RegOperand(arm64.X[9])
	dst := mir.RegOperand(arm64.X[0])
	b.Append(&mir.Instr{Op: mir.MovRI, Dst: &t9, Srcs: []mir.Operand{mir.ImmOperand(5)}})
	b.Append(&mir.Instr{Op: mir.AddRRR, Dst: &dst, Srcs: []mir.Operand{reg(arm64.X[1]), t9}})
	b.Append(&mir.Instr{Op: mir.Ret})

	Run(fn)

	if len(b.Instrs) != 2 {
		t.Fatalf("expected the mov to be folded away, got %d instrs: %v", len(b.Instrs), b.Instrs)
	}
	if b.Instrs[0].Op != mir.AddRI {
		t.Fatalf("expected AddRI, got %v", b.Instrs[0].Op)
	}
	if b.Instrs[0].Srcs[1].Imm != 5 {
		t.Fatalf("expected the folded immediate to be 5, got %d", b.Instrs[0].Srcs[1].Imm)
	}
}

func TestFoldImmediateSkippedWhenRegisterStillLive(t *testing.T) {
	fn := mir.NewFunc("f")
	b := fn.NewBlock("entry")
	t9 := mir.RegOperand(arm64.X[9])
	dst := mir.RegOperand(arm64.X[0])
	b.Append(&mir.Instr{Op: mir.MovRI, Dst: &t9, Srcs: []mir.Operand{mir.ImmOperand(5)}})
	b.Append(&mir.Instr{Op: mir.AddRRR, Dst: &dst, Srcs: []mir.Operand{reg(arm64.X[1]), t9}})
	b.Append(&mir.Instr{Op: mir.SubRRR, Dst: &dst, Srcs: []mir.Operand{dst, t9}})
	b.Append(&mir.Instr{Op: mir.Ret})

	Run(fn)

	var movs int
	for _, instr := range b.Instrs {
		if instr.Op == mir.MovRI {
			movs++
		}
	}
	if movs != 1 {
		t.Fatalf("x9 is read by the later sub, the mov must survive; got %d MovRI instrs", movs)
	}
}

func TestFuseCompareBranchToCbz(t *testing.T) {
	fn := mir.NewFunc("f")
	entry := fn.NewBlock("entry")
	target := fn.NewBlock("target")
	entry.Append(&mir.Instr{Op: mir.CmpRI, Srcs: []mir.Operand{reg(arm64.X[0]), mir.ImmOperand(0)}})
	entry.Append(&mir.Instr{Op: mir.BCond, Cond: mir.EQ, Srcs: []mir.Operand{mir.LabelOperand(target)}})
	entry.Append(&mir.Instr{Op: mir.Ret})
	target.Append(&mir.Instr{Op: mir.Ret})

	Run(fn)

	if len(entry.Instrs) != 2 {
		t.Fatalf("expected cmp+b.eq to fuse into one cbz, got %d instrs: %v", len(entry.Instrs), entry.Instrs)
	}
	if entry.Instrs[0].Op != mir.Cbz {
		t.Fatalf("expected Cbz, got %v", entry.Instrs[0].Op)
	}
}

func TestFuseCompareBranchToCbnz(t *testing.T) {
	fn := mir.NewFunc("f")
	entry := fn.NewBlock("entry")
	target := fn.NewBlock("target")
	entry.Append(&mir.Instr{Op: mir.CmpRI, Srcs: []mir.Operand{reg(arm64.X[0]), mir.ImmOperand(0)}})
	entry.Append(&mir.Instr{Op: mir.BCond, Cond: mir.NE, Srcs: []mir.Operand{mir.LabelOperand(target)}})
	entry.Append(&mir.Instr{Op: mir.Ret})
	target.Append(&mir.Instr{Op: mir.Ret})

	Run(fn)

	if entry.Instrs[0].Op != mir.Cbnz {
		t.Fatalf("expected Cbnz, got %v", entry.Instrs[0].Op)
	}
}

func TestFuseMultiplyAdd(t *testing.T) {
	fn := mir.NewFunc("f")
	b := fn.NewBlock("entry")
	t9 := mir.RegOperand(arm64.X[9])
	dst := mir.RegOperand(arm64.X[0])
	b.Append(&mir.Instr{Op: mir.MulRRR, Dst: &t9, Srcs: []mir.Operand{reg(arm64.X[1]), reg(arm64.X[2])}})
	b.Append(&mir.Instr{Op: mir.AddRRR, Dst: &dst, Srcs: []mir.Operand{reg(arm64.X[3]), t9}})
	b.Append(&mir.Instr{Op: mir.Ret})

	Run(fn)

	if len(b.Instrs) != 2 {
		t.Fatalf("expected mul+add to fuse into one madd, got %d instrs: %v", len(b.Instrs), b.Instrs)
	}
	if b.Instrs[0].Op != mir.MAddRRRR {
		t.Fatalf("expected MAddRRRR, got %v", b.Instrs[0].Op)
	}
	if len(b.Instrs[0].Srcs) != 3 {
		t.Fatalf("expected 3 madd operands (a, b, addend), got %d", len(b.Instrs[0].Srcs))
	}
}

func TestFormStorePairFromAdjacentStr(t *testing.T) {
	fn := mir.NewFunc("f")
	b := fn.NewBlock("entry")
	m0 := mir.MemOperand(mir.Mem{BaseIsFP: true, Offset: -32})
	m1 := mir.MemOperand(mir.Mem{BaseIsFP: true, Offset: -24})
	b.Append(&mir.Instr{Op: mir.StrRegFpImm, Srcs: []mir.Operand{reg(arm64.X[19]), m0}})
	b.Append(&mir.Instr{Op: mir.StrRegFpImm, Srcs: []mir.Operand{reg(arm64.X[20]), m1}})
	b.Append(&mir.Instr{Op: mir.Ret})

	Run(fn)

	if len(b.Instrs) != 2 {
		t.Fatalf("expected the two strs to merge into one stp, got %d instrs: %v", len(b.Instrs), b.Instrs)
	}
	if b.Instrs[0].Op != mir.StpRegFpImm {
		t.Fatalf("expected StpRegFpImm, got %v", b.Instrs[0].Op)
	}
}

func TestFormLoadPairFromAdjacentLdr(t *testing.T) {
	fn := mir.NewFunc("f")
	b := fn.NewBlock("entry")
	d0 := mir.RegOperand(arm64.X[19])
	d1 := mir.RegOperand(arm64.X[20])
	m0 := mir.MemOperand(mir.Mem{BaseIsFP: true, Offset: -32})
	m1 := mir.MemOperand(mir.Mem{BaseIsFP: true, Offset: -24})
	b.Append(&mir.Instr{Op: mir.LdrRegFpImm, Dst: &d0, Srcs: []mir.Operand{m0}})
	b.Append(&mir.Instr{Op: mir.LdrRegFpImm, Dst: &d1, Srcs: []mir.Operand{m1}})
	b.Append(&mir.Instr{Op: mir.Ret})

	Run(fn)

	if b.Instrs[0].Op != mir.LdpRegFpImm {
		t.Fatalf("expected LdpRegFpImm, got %v", b.Instrs[0].Op)
	}
	if b.Instrs[0].Dst2 == nil || b.Instrs[0].Dst2.Reg != arm64.X[20] {
		t.Fatalf("expected Dst2 to carry the second register, got %+v", b.Instrs[0].Dst2)
	}
}

func TestFormPairsSkipsNonConsecutiveOffsets(t *testing.T) {
	fn := mir.NewFunc("f")
	b := fn.NewBlock("entry")
	d0 := mir.RegOperand(arm64.X[19])
	d1 := mir.RegOperand(arm64.X[20])
	m0 := mir.MemOperand(mir.Mem{BaseIsFP: true, Offset: -32})
	m1 := mir.MemOperand(mir.Mem{BaseIsFP: true, Offset: -8})
	b.Append(&mir.Instr{Op: mir.LdrRegFpImm, Dst: &d0, Srcs: []mir.Operand{m0}})
	b.Append(&mir.Instr{Op: mir.LdrRegFpImm, Dst: &d1, Srcs: []mir.Operand{m1}})
	b.Append(&mir.Instr{Op: mir.Ret})

	Run(fn)

	if len(b.Instrs) != 3 {
		t.Fatalf("non-adjacent offsets must not merge, got %d instrs: %v", len(b.Instrs), b.Instrs)
	}
}

func TestEliminateDeadCset(t *testing.T) {
	fn := mir.NewFunc("f")
	b := fn.NewBlock("entry")
	t9 := mir.RegOperand(arm64.X[9])
	b.Append(&mir.Instr{Op: mir.Cset, Dst: &t9, Cond: mir.EQ})
	b.Append(&mir.Instr{Op: mir.Ret})

	Run(fn)

	if len(b.Instrs) != 1 {
		t.Fatalf("expected the dead cset to be removed, got %d instrs: %v", len(b.Instrs), b.Instrs)
	}
}

func TestEliminateDeadDefsKeepsArgumentRegisters(t *testing.T) {
	fn := mir.NewFunc("f")
	b := fn.NewBlock("entry")
	x0 := mir.RegOperand(arm64.X[0])
	b.Append(&mir.Instr{Op: mir.MovRI, Dst: &x0, Srcs: []mir.Operand{mir.ImmOperand(1)}})
	b.Append(&mir.Instr{Op: mir.Bl, Srcs: []mir.Operand{mir.SymOperand("callee")}})
	b.Append(&mir.Instr{Op: mir.Ret})

	Run(fn)

	if len(b.Instrs) != 3 {
		t.Fatalf("a def of an argument register must survive even though nothing in MIR reads it, got %d: %v", len(b.Instrs), b.Instrs)
	}
}

func TestInvertFallthroughBranch(t *testing.T) {
	fn := mir.NewFunc("f")
	a := fn.NewBlock("a")
	b := fn.NewBlock("b")
	l1 := fn.NewBlock("l1")
	l2 := fn.NewBlock("l2")

	a.Append(&mir.Instr{Op: mir.BCond, Cond: mir.LT, Srcs: []mir.Operand{mir.LabelOperand(l1)}})
	b.Append(&mir.Instr{Op: mir.Br, Srcs: []mir.Operand{mir.LabelOperand(l2)}})
	l1.Append(&mir.Instr{Op: mir.Ret})
	l2.Append(&mir.Instr{Op: mir.Ret})

	Run(fn)

	term := a.Terminator()
	if term.Op != mir.BCond || term.Cond != mir.GE {
		t.Fatalf("expected the branch inverted to GE (LT's negation), got %v %v", term.Op, term.Cond)
	}
	if term.Srcs[0].Block != l2 {
		t.Fatalf("expected the inverted branch to target l2 directly, got %v", term.Srcs[0].Block.Label)
	}
	if len(b.Instrs) != 0 {
		t.Fatalf("expected the now-dead intermediate block emptied, got %v", b.Instrs)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	fn := mir.NewFunc("f")
	b := fn.NewBlock("entry")
	t9 := mir.RegOperand(arm64.X[9])
	dst := mir.RegOperand(arm64.X[0])
	b.Append(&mir.Instr{Op: mir.MovRI, Dst: &t9, Srcs: []mir.Operand{mir.ImmOperand(5)}})
	b.Append(&mir.Instr{Op: mir.AddRRR, Dst: &dst, Srcs: []mir.Operand{reg(arm64.X[1]), t9}})
	b.Append(&mir.Instr{Op: mir.Ret})

	Run(fn)
	first := len(b.Instrs)
	Run(fn)
	if len(b.Instrs) != first {
		t.Fatalf("a second Run must not change an already-converged block: went from %d to %d instrs", first, len(b.Instrs))
	}
}
