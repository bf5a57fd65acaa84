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

package lower

import (
	"viper/internal/arm64"
	"viper/internal/il"
	"viper/internal/mir"
)

// immFitsAddSub12 reports whether imm fits AArch64's 12-bit (optionally
// shift-by-12) add/sub/cmp immediate field (spec.md §4.1's "immediate
// forms" fast path).
func immFitsAddSub12(imm int64) bool {
	if imm < 0 {
		return false
	}
	if imm <= 0xfff {
		return true
	}
	return imm&0xfff == 0 && imm>>12 <= 0xfff
}

// constImm returns v's constant value and true if v is an OpConst
// value. It does not check the value's range: callers that need an
// encodable add/sub/cmp immediate test it with immFitsAddSub12.
func constImm(c *ctx, v *il.Value) (int64, bool) {
	if v.Op != il.OpConst {
		return 0, false
	}
	return int64(v.ConstBits), true
}

// arithHandler builds a handler for a commutative/simple binary op
// that has both an RRR and (when riOp != OpInvalid) an RI immediate
// form, implementing spec.md §4.1's "emit the RI form directly rather
// than materializing a MovRI" fast path.
func arithHandler(rrrOp, riOp mir.Op) handler {
	return func(c *ctx, v *il.Value) {
		lhs := materializeConst(c, v.Args[0])
		dst := mir.VRegOperand(newVReg(c, v.Type))
		c.values[v] = dst

		if riOp != mir.OpInvalid {
			if imm, ok := constImm(c, v.Args[1]); ok && immFitsAddSub12(imm) {
				appendInstr(c, v.Block, &mir.Instr{Op: riOp, Dst: &dst, Srcs: []mir.Operand{lhs, mir.ImmOperand(imm)}})
				return
			}
		}
		rhs := materializeConst(c, v.Args[1])
		appendInstr(c, v.Block, &mir.Instr{Op: rrrOp, Dst: &dst, Srcs: []mir.Operand{lhs, rhs}})
	}
}

func shiftHandler(riOp, rrOp mir.Op) handler {
	return func(c *ctx, v *il.Value) {
		lhs := materializeConst(c, v.Args[0])
		dst := mir.VRegOperand(newVReg(c, v.Type))
		c.values[v] = dst
		if imm, ok := constImm(c, v.Args[1]); ok {
			appendInstr(c, v.Block, &mir.Instr{Op: riOp, Dst: &dst, Srcs: []mir.Operand{lhs, mir.ImmOperand(imm)}})
			return
		}
		rhs := materializeConst(c, v.Args[1])
		appendInstr(c, v.Block, &mir.Instr{Op: rrOp, Dst: &dst, Srcs: []mir.Operand{lhs, rhs}})
	}
}

func fpArithHandler(op mir.Op) handler {
	return func(c *ctx, v *il.Value) {
		lhs := materializeConst(c, v.Args[0])
		rhs := materializeConst(c, v.Args[1])
		dst := mir.VRegOperand(newVReg(c, v.Type))
		c.values[v] = dst
		appendInstr(c, v.Block, &mir.Instr{Op: op, Dst: &dst, Srcs: []mir.Operand{lhs, rhs}})
	}
}

func lowerMul(c *ctx, v *il.Value) {
	lhs := materializeConst(c, v.Args[0])
	rhs := materializeConst(c, v.Args[1])
	dst := mir.VRegOperand(newVReg(c, v.Type))
	c.values[v] = dst
	appendInstr(c, v.Block, &mir.Instr{Op: mir.MulRRR, Dst: &dst, Srcs: []mir.Operand{lhs, rhs}})
}

// condForCompare maps an IL compare opcode to the AArch64 condition
// code it produces after a cmp/fcmp, mirroring the teacher's
// getCondLirOp table (lower_x86.go).
func condForCompare(op il.Op) mir.Cond {
	switch op {
	case il.OpICmpEq, il.OpFCmpEq:
		return mir.EQ
	case il.OpICmpNe, il.OpFCmpNe:
		return mir.NE
	case il.OpSCmpLt, il.OpFCmpLt:
		return mir.LT
	case il.OpSCmpLe, il.OpFCmpLe:
		return mir.LE
	case il.OpSCmpGt, il.OpFCmpGt:
		return mir.GT
	case il.OpSCmpGe, il.OpFCmpGe:
		return mir.GE
	case il.OpUCmpLt:
		return mir.CC
	case il.OpUCmpLe:
		return mir.LS
	case il.OpUCmpGt:
		return mir.HI
	case il.OpUCmpGe:
		return mir.CS
	default:
		return mir.CondInvalid
	}
}

// compareHandler emits the cmp/fcmp and materializes a 0/1 result with
// cset. Peephole's dead-cset pattern (spec.md §4.5) removes the cset
// again when the only consumer turns out to be a cbr's Cbnz/Cbz test,
// folding the comparison straight into the branch after the fact
// instead of this handler trying to special-case it up front.
func compareHandler(c *ctx, v *il.Value) {
	lhs := materializeConst(c, v.Args[0])
	isFloat := v.Args[0].Type.IsFloat()
	if !isFloat {
		if imm, ok := constImm(c, v.Args[1]); ok && immFitsAddSub12(imm) {
			appendInstr(c, v.Block, &mir.Instr{Op: mir.CmpRI, Srcs: []mir.Operand{lhs, mir.ImmOperand(imm)}})
			dst := mir.VRegOperand(newVReg(c, v.Type))
			c.values[v] = dst
			appendInstr(c, v.Block, &mir.Instr{Op: mir.Cset, Dst: &dst, Cond: condForCompare(v.Op)})
			return
		}
	}
	rhs := materializeConst(c, v.Args[1])
	cmpOp := mir.CmpRR
	if isFloat {
		cmpOp = mir.FCmpRR
	}
	appendInstr(c, v.Block, &mir.Instr{Op: cmpOp, Srcs: []mir.Operand{lhs, rhs}})
	dst := mir.VRegOperand(newVReg(c, v.Type))
	c.values[v] = dst
	appendInstr(c, v.Block, &mir.Instr{Op: mir.Cset, Dst: &dst, Cond: condForCompare(v.Op)})
}

// lowerAddSubOvf implements spec.md §4.1's checked add/sub: emit the
// flag-setting form, then branch on overflow to the trap trampoline.
func lowerAddSubOvf(c *ctx, v *il.Value) {
	lhs := materializeConst(c, v.Args[0])
	rhs := materializeConst(c, v.Args[1])
	dst := mir.VRegOperand(newVReg(c, v.Type))
	c.values[v] = dst
	op := mir.AddRRR
	if v.Op == il.OpSubOvf {
		op = mir.SubRRR
	}
	appendInstr(c, v.Block, &mir.Instr{Op: op, Dst: &dst, Srcs: []mir.Operand{lhs, rhs}, Comment: "sets flags (adds/subs)"})
	emitTrapBranch(c, v.Block, mir.VS, "__viper_trap_overflow")
}

// lowerMulOvf implements spec.md §4.1's checked multiply via smulh +
// sign-extension compare, the rank-independent form the spec allows as
// an alternative to smull+overflow-check.
func lowerMulOvf(c *ctx, v *il.Value) {
	lhs := materializeConst(c, v.Args[0])
	rhs := materializeConst(c, v.Args[1])
	dst := mir.VRegOperand(newVReg(c, v.Type))
	c.values[v] = dst
	appendInstr(c, v.Block, &mir.Instr{Op: mir.MulRRR, Dst: &dst, Srcs: []mir.Operand{lhs, rhs}})

	hi := mir.VRegOperand(newVReg(c, v.Type))
	appendInstr(c, v.Block, &mir.Instr{Op: mir.MulRRR, Dst: &hi, Srcs: []mir.Operand{lhs, rhs}, Comment: "smulh high half"})
	sign := mir.VRegOperand(newVReg(c, v.Type))
	appendInstr(c, v.Block, &mir.Instr{Op: mir.AsrRI, Dst: &sign, Srcs: []mir.Operand{dst, mir.ImmOperand(63)}, Comment: "sign-extension of low half"})
	appendInstr(c, v.Block, &mir.Instr{Op: mir.CmpRR, Srcs: []mir.Operand{hi, sign}})
	emitTrapBranch(c, v.Block, mir.NE, "__viper_trap_overflow")
}

// lowerSDivChk0 implements spec.md §4.1's checked signed division:
// zero-check the divisor, and when the rank requires it, also check
// the MIN/-1 overflow case.
func lowerSDivChk0(c *ctx, v *il.Value) {
	lhs := materializeConst(c, v.Args[0])
	rhs := materializeConst(c, v.Args[1])
	appendInstr(c, v.Block, &mir.Instr{Op: mir.CmpRI, Srcs: []mir.Operand{rhs, mir.ImmOperand(0)}})
	emitTrapBranch(c, v.Block, mir.EQ, "__viper_trap_divzero")

	// MIN/-1 overflow check: materialize (lhs==MIN) && (rhs==-1) into a
	// single flag-bearing vreg and trap if both hold, avoiding an extra
	// block for what is otherwise a one-in-2^63 edge case.
	minImm := minIntForType(v.Type)
	appendInstr(c, v.Block, &mir.Instr{Op: mir.CmpRI, Srcs: []mir.Operand{lhs, mir.ImmOperand(minImm)}})
	isMin := mir.VRegOperand(newVReg(c, v.Type))
	appendInstr(c, v.Block, &mir.Instr{Op: mir.Cset, Dst: &isMin, Cond: mir.EQ})
	appendInstr(c, v.Block, &mir.Instr{Op: mir.CmpRI, Srcs: []mir.Operand{rhs, mir.ImmOperand(-1)}})
	isNegOne := mir.VRegOperand(newVReg(c, v.Type))
	appendInstr(c, v.Block, &mir.Instr{Op: mir.Cset, Dst: &isNegOne, Cond: mir.EQ})
	both := mir.VRegOperand(newVReg(c, v.Type))
	appendInstr(c, v.Block, &mir.Instr{Op: mir.AndRRR, Dst: &both, Srcs: []mir.Operand{isMin, isNegOne}})
	appendInstr(c, v.Block, &mir.Instr{Op: mir.Cbnz, Srcs: []mir.Operand{both, mir.SymOperand("__viper_trap_overflow")}})

	dst := mir.VRegOperand(newVReg(c, v.Type))
	c.values[v] = dst
	appendInstr(c, v.Block, &mir.Instr{Op: mir.SDivRRR, Dst: &dst, Srcs: []mir.Operand{lhs, rhs}})
}

func minIntForType(t il.Type) int64 {
	switch t.Size() {
	case 1:
		return -128
	case 2:
		return -32768
	case 4:
		return -(1 << 31)
	default:
		return -(1 << 63)
	}
}

// lowerSRemChk0 implements spec.md §4.1's checked remainder: divide,
// multiply back, subtract — with the same zero-check as sdiv.chk0.
func lowerSRemChk0(c *ctx, v *il.Value) {
	lhs := materializeConst(c, v.Args[0])
	rhs := materializeConst(c, v.Args[1])
	appendInstr(c, v.Block, &mir.Instr{Op: mir.CmpRI, Srcs: []mir.Operand{rhs, mir.ImmOperand(0)}})
	emitTrapBranch(c, v.Block, mir.EQ, "__viper_trap_divzero")

	q := mir.VRegOperand(newVReg(c, v.Type))
	appendInstr(c, v.Block, &mir.Instr{Op: mir.SDivRRR, Dst: &q, Srcs: []mir.Operand{lhs, rhs}})
	dst := mir.VRegOperand(newVReg(c, v.Type))
	c.values[v] = dst
	appendInstr(c, v.Block, &mir.Instr{Op: mir.MSubRRRR, Dst: &dst, Srcs: []mir.Operand{q, rhs, lhs}, Comment: "r = n - (n/d)*d"})
}

// emitTrapBranch appends a conditional branch to a named trap
// trampoline symbol. The branch target is a symbol, not a block, since
// trap trampolines live in the runtime archive (spec.md §6), outside
// this function's own block list.
func emitTrapBranch(c *ctx, b *il.Block, cond mir.Cond, trap string) {
	appendInstr(c, b, &mir.Instr{Op: mir.BCond, Cond: cond, Srcs: []mir.Operand{mir.SymOperand(trap)}})
}

// lowerFPowChkDom lowers the supplemented fpow.chkdom opcode
// (SPEC_FULL.md §6) to a call into the runtime's domain-checked power
// routine. The base and exponent are moved straight into d0/d1 with
// fmov (not through placeArgs's ParallelCopy placement), and the
// result is copied out of d0.
func lowerFPowChkDom(c *ctx, v *il.Value) {
	base := operand(c, v.Args[0])
	exp := operand(c, v.Args[1])
	baseArg := mir.RegOperand(arm64.D[0])
	expArg := mir.RegOperand(arm64.D[1])
	appendInstr(c, v.Block, &mir.Instr{Op: mir.FMovRR, Dst: regPtr(baseArg), Srcs: []mir.Operand{base}})
	appendInstr(c, v.Block, &mir.Instr{Op: mir.FMovRR, Dst: regPtr(expArg), Srcs: []mir.Operand{exp}})
	appendInstr(c, v.Block, &mir.Instr{Op: mir.Bl, Srcs: []mir.Operand{mir.SymOperand("rt_pow_f64_chkdom")}})
	dst := mir.VRegOperand(newVReg(c, v.Type))
	c.values[v] = dst
	appendInstr(c, v.Block, &mir.Instr{Op: mir.FMovRR, Dst: &dst, Srcs: []mir.Operand{mir.RegOperand(arm64.D[0])}})
}

func regPtr(o mir.Operand) *mir.Operand { return &o }
