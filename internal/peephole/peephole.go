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

// Package peephole applies spec.md §4.5's post-allocation pattern
// rewrites to a fixed point: immediate folding, compare/branch fusion
// into cbz/cbnz, multiply-add fusion, adjacent load/store pairing, dead
// cset/mov elimination, and conditional-branch inversion around a
// fallthrough. Grounded on the teacher's ssa/optimize.go Ideal(), whose
// "OR together every pass's changed bit, loop until zero" shape this
// package reuses verbatim, just run post-RA over MIR blocks instead of
// pre-RA over HIR values.
package peephole

import (
	"github.com/samber/lo"

	"viper/internal/arm64"
	"viper/internal/mir"
)

// maxImm12 is the largest value AArch64's 12-bit unsigned immediate
// field for add/sub/cmp can encode (spec.md §4.1/§4.5).
const maxImm12 = 4095

// Run rewrites fn's MIR in place. It must run after internal/frame
// (the prologue/epilogue save/restore and sp-adjust instructions are
// themselves fair game for pairing and folding) and before
// internal/asm (peephole's output is frozen MIR, spec.md §5).
func Run(fn *mir.Func) {
	for _, b := range fn.Blocks {
		runBlockToFixedPoint(fn, b)
	}
	invertFallthroughBranches(fn)
}

// runBlockToFixedPoint repeatedly applies every intra-block pattern
// until none fires, mirroring Ideal()'s "changed = 0; OR every pass;
// loop while changed" shape.
func runBlockToFixedPoint(fn *mir.Func, b *mir.Block) {
	for {
		changed := false
		changed = foldImmediate(b) || changed
		changed = fuseCompareBranch(b) || changed
		changed = fuseMultiplyAdd(b) || changed
		changed = formPairs(b) || changed
		changed = eliminateDeadDefs(fn, b) || changed
		if !changed {
			renumber(b)
			return
		}
	}
}

func renumber(b *mir.Block) {
	for i, instr := range b.Instrs {
		instr.ID = i
	}
}

// foldImmediate folds `mov xT, #imm; add/sub/cmp xA, xB, xT` into the
// RI form when imm fits the 12-bit field and xT is dead afterward,
// removing the materializing mov entirely.
func foldImmediate(b *mir.Block) bool {
	riForm := map[mir.Op]mir.Op{mir.AddRRR: mir.AddRI, mir.SubRRR: mir.SubRI, mir.CmpRR: mir.CmpRI}
	for i := 0; i+1 < len(b.Instrs); i++ {
		mv := b.Instrs[i]
		if mv.Op != mir.MovRI || mv.Dst == nil || mv.Dst.Kind != mir.OperandReg {
			continue
		}
		imm := mv.Srcs[0].Imm
		if imm < 0 || imm > maxImm12 {
			continue
		}
		consumer := b.Instrs[i+1]
		riOp, ok := riForm[consumer.Op]
		if !ok || len(consumer.Srcs) != 2 || !regInOperand(consumer.Srcs[1], mv.Dst.Reg) {
			continue
		}
		if regReadAfter(b.Instrs, i+2, mv.Dst.Reg) {
			continue
		}
		consumer.Op = riOp
		consumer.Srcs = []mir.Operand{consumer.Srcs[0], mir.ImmOperand(imm)}
		b.Instrs = removeAt(b.Instrs, i)
		return true
	}
	return false
}

// fuseCompareBranch folds `cmp xA, #0; b.eq L` into `cbz xA, L` (and
// `b.ne` into `cbnz`).
func fuseCompareBranch(b *mir.Block) bool {
	for i := 0; i+1 < len(b.Instrs); i++ {
		cmp := b.Instrs[i]
		if cmp.Op != mir.CmpRI || len(cmp.Srcs) != 2 || cmp.Srcs[1].Kind != mir.OperandImm || cmp.Srcs[1].Imm != 0 {
			continue
		}
		br := b.Instrs[i+1]
		if br.Op != mir.BCond || (br.Cond != mir.EQ && br.Cond != mir.NE) {
			continue
		}
		op := mir.Cbnz
		if br.Cond == mir.EQ {
			op = mir.Cbz
		}
		br.Op = op
		br.Cond = mir.CondInvalid
		br.Srcs = []mir.Operand{cmp.Srcs[0], br.Srcs[0]}
		b.Instrs = removeAt(b.Instrs, i)
		return true
	}
	return false
}

// fuseMultiplyAdd folds `mul xT, xA, xB; add xR, xC, xT` (in either
// operand order) into `madd xR, xA, xB, xC`.
func fuseMultiplyAdd(b *mir.Block) bool {
	for i := 0; i+1 < len(b.Instrs); i++ {
		mul := b.Instrs[i]
		if mul.Op != mir.MulRRR || mul.Dst == nil || mul.Dst.Kind != mir.OperandReg {
			continue
		}
		add := b.Instrs[i+1]
		if add.Op != mir.AddRRR || len(add.Srcs) != 2 {
			continue
		}
		var other mir.Operand
		switch {
		case regInOperand(add.Srcs[0], mul.Dst.Reg):
			other = add.Srcs[1]
		case regInOperand(add.Srcs[1], mul.Dst.Reg):
			other = add.Srcs[0]
		default:
			continue
		}
		if regReadAfter(b.Instrs, i+2, mul.Dst.Reg) {
			continue
		}
		add.Op = mir.MAddRRRR
		add.Srcs = []mir.Operand{mul.Srcs[0], mul.Srcs[1], other}
		b.Instrs = removeAt(b.Instrs, i)
		return true
	}
	return false
}

// formPairs folds two adjacent fp-relative ldr/str of the same kind
// with consecutive (8-byte-apart) offsets into one ldp/stp.
func formPairs(b *mir.Block) bool {
	for i := 0; i+1 < len(b.Instrs); i++ {
		a, c := b.Instrs[i], b.Instrs[i+1]
		if a.Op != c.Op {
			continue
		}
		switch a.Op {
		case mir.LdrRegFpImm:
			if tryFormLdp(b, i) {
				return true
			}
		case mir.StrRegFpImm:
			if tryFormStp(b, i) {
				return true
			}
		}
	}
	return false
}

func tryFormLdp(b *mir.Block, i int) bool {
	a, c := b.Instrs[i], b.Instrs[i+1]
	if a.Dst == nil || c.Dst == nil || a.Dst.Kind != mir.OperandReg || c.Dst.Kind != mir.OperandReg {
		return false
	}
	lo, ok := consecutiveFpOffsets(a.Srcs[0].Mem, c.Srcs[0].Mem)
	if !ok {
		return false
	}
	d0, d1 := mir.RegOperand(a.Dst.Reg), mir.RegOperand(c.Dst.Reg)
	merged := &mir.Instr{
		Op: mir.LdpRegFpImm, Dst: &d0, Dst2: &d1,
		Srcs: []mir.Operand{mir.MemOperand(mir.Mem{BaseIsFP: true, Offset: lo})},
	}
	b.Instrs[i] = merged
	b.Instrs = removeAt(b.Instrs, i+1)
	return true
}

func tryFormStp(b *mir.Block, i int) bool {
	a, c := b.Instrs[i], b.Instrs[i+1]
	if len(a.Srcs) != 2 || len(c.Srcs) != 2 {
		return false
	}
	lo, ok := consecutiveFpOffsets(a.Srcs[1].Mem, c.Srcs[1].Mem)
	if !ok {
		return false
	}
	merged := &mir.Instr{
		Op:   mir.StpRegFpImm,
		Srcs: []mir.Operand{a.Srcs[0], c.Srcs[0], mir.MemOperand(mir.Mem{BaseIsFP: true, Offset: lo})},
	}
	b.Instrs[i] = merged
	b.Instrs = removeAt(b.Instrs, i+1)
	return true
}

// consecutiveFpOffsets reports whether ma and mb are both fp-relative
// and exactly one register (8 bytes, the uniform width every GPR/FPR
// value is addressed at post-RA) apart, returning the lower offset.
func consecutiveFpOffsets(ma, mb mir.Mem) (int64, bool) {
	if !ma.BaseIsFP || !mb.BaseIsFP {
		return 0, false
	}
	a, b := ma.ResolvedOffset(), mb.ResolvedOffset()
	if b-a == 8 {
		return a, true
	}
	return 0, false
}

// eliminateDeadDefs removes a cset/mov whose destination is never read
// again anywhere in the function, conservatively keeping any def of an
// argument register (it may be read by an imminent call the allocator
// already committed to), a scratch/reserved register (reused across
// unrelated address-computation chains), or anything regalloc left
// live out of this block — a read check confined to the rest of this
// block alone would miss a value this def feeds to a loop header or
// any other successor's block-parameter copy, exactly the register
// traffic spec.md §8 scenario 4 depends on surviving intact.
func eliminateDeadDefs(fn *mir.Func, b *mir.Block) bool {
	removable := map[mir.Op]bool{mir.Cset: true, mir.MovRR: true, mir.MovRI: true, mir.FMovRR: true, mir.FMovRI: true}
	for i, instr := range b.Instrs {
		if !removable[instr.Op] || instr.Dst == nil || instr.Dst.Kind != mir.OperandReg {
			continue
		}
		r := instr.Dst.Reg
		if isProtectedFromDCE(r) || regReadAfter(b.Instrs, i+1, r) || regReadElsewhere(fn, b, r) {
			continue
		}
		b.Instrs = removeAt(b.Instrs, i)
		return true
	}
	return false
}

// regReadElsewhere reports whether r is read by any instruction in any
// block of fn other than except. Whole-function scope rather than
// successor-only is a deliberate over-approximation: post-RA MIR no
// longer carries per-block liveness, and scanning the whole function
// is cheap enough at this function's size that the conservatism costs
// nothing but a few missed dead defs outside the block that produced
// them.
func regReadElsewhere(fn *mir.Func, except *mir.Block, r arm64.Reg) bool {
	for _, blk := range fn.Blocks {
		if blk == except {
			continue
		}
		if regReadAfter(blk.Instrs, 0, r) {
			return true
		}
	}
	return false
}

func isProtectedFromDCE(r arm64.Reg) bool {
	if r == arm64.SP || r == arm64.FP || r == arm64.LR {
		return true
	}
	protected := lo.Union(arm64.IntArgRegs, arm64.FPArgRegs, []arm64.Reg{
		arm64.ScratchGPR, arm64.ScratchGPR2, arm64.ScratchFPR, arm64.ScratchFPR2,
	})
	return lo.Contains(protected, r)
}

// invertFallthroughBranches folds `b.cond L1; b L2; L1:` into
// `b.!cond L2; L1:` whenever a function's layout contains the
// three-block shape literally: a block A terminated by a BCond to the
// block two positions ahead (L1), with the block immediately between
// them (B) containing nothing but an unconditional Br to L2. B is left
// in place with its label but emptied, since splicing it out of
// Func.Blocks would renumber every other block's index; an empty block
// falling through to its successor is harmless, just a dead label.
func invertFallthroughBranches(fn *mir.Func) bool {
	changed := false
	for i := 0; i+2 < len(fn.Blocks); i++ {
		a, b, l1 := fn.Blocks[i], fn.Blocks[i+1], fn.Blocks[i+2]
		term := a.Terminator()
		if term == nil || term.Op != mir.BCond || term.Srcs[0].Kind != mir.OperandLabel || term.Srcs[0].Block != l1 {
			continue
		}
		if len(b.Instrs) != 1 || b.Instrs[0].Op != mir.Br {
			continue
		}
		target := b.Instrs[0].Srcs[0]
		if target.Kind != mir.OperandLabel {
			continue
		}
		term.Cond = term.Cond.Invert()
		term.Srcs[0] = target
		a.Succs = []*mir.Block{target.Block, l1}
		b.Instrs = nil
		b.Succs = nil
		changed = true
	}
	return changed
}

func regInOperand(op mir.Operand, r arm64.Reg) bool {
	switch op.Kind {
	case mir.OperandReg:
		return op.Reg == r
	case mir.OperandMem:
		if !op.Mem.BaseIsFP && op.Mem.BaseReg == r {
			return true
		}
		return op.Mem.HasIndex && op.Mem.IndexReg == r
	}
	return false
}

// regReadAfter reports whether r is read by any instruction in
// instrs[from:], the conservative liveness check every intra-block
// pattern above needs before discarding a register's producer.
func regReadAfter(instrs []*mir.Instr, from int, r arm64.Reg) bool {
	for _, instr := range instrs[from:] {
		for _, s := range instr.Srcs {
			if regInOperand(s, r) {
				return true
			}
		}
	}
	return false
}

func removeAt(instrs []*mir.Instr, i int) []*mir.Instr {
	return append(instrs[:i], instrs[i+1:]...)
}
