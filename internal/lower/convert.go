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
	"viper/internal/il"
	"viper/internal/mir"
)

// lowerSitofp is an unchecked signed-int-to-float conversion: no
// domain can fail, so it is a single scvtf.
func lowerSitofp(c *ctx, v *il.Value) {
	src := materializeConst(c, v.Args[0])
	dst := mir.VRegOperand(newVReg(c, v.Type))
	c.values[v] = dst
	appendInstr(c, v.Block, &mir.Instr{Op: mir.SCvtF, Dst: &dst, Srcs: []mir.Operand{src}})
}

// lowerFptosiChk implements spec.md §4.1's checked float-to-int
// conversion: fcvtzs/fcvtzu itself saturates rather than traps on
// AArch64, so the domain check is done in IEEE space before the
// convert — compare the source against the target integer type's
// representable float bounds (interned in the rodata pool, since
// AArch64's fmov immediate encoding can't represent values like
// 2^31) and trap on out-of-range or unordered (NaN).
func lowerFptosiChk(c *ctx, v *il.Value) {
	src := materializeConst(c, v.Args[0])
	lo, hi := intBoundsAsFloat(v.Type, v.Args[0].Type)

	loOp := loadRodataFloat(c, v.Block, v.Args[0].Type, lo)
	appendInstr(c, v.Block, &mir.Instr{Op: mir.FCmpRR, Srcs: []mir.Operand{src, loOp}})
	emitTrapBranch(c, v.Block, mir.LT, "__viper_trap_domain")
	emitTrapBranch(c, v.Block, mir.VS, "__viper_trap_domain") // unordered (NaN)

	hiOp := loadRodataFloat(c, v.Block, v.Args[0].Type, hi)
	appendInstr(c, v.Block, &mir.Instr{Op: mir.FCmpRR, Srcs: []mir.Operand{src, hiOp}})
	emitTrapBranch(c, v.Block, mir.GT, "__viper_trap_domain")

	dst := mir.VRegOperand(newVReg(c, v.Type))
	c.values[v] = dst
	appendInstr(c, v.Block, &mir.Instr{Op: mir.FCvtZS, Dst: &dst, Srcs: []mir.Operand{src}})
}

// intBoundsAsFloat returns the [min, max] representable range of
// target, expressed in srcType's float precision.
func intBoundsAsFloat(target, srcType il.Type) (lo, hi float64) {
	var min, max float64
	switch target.Size() {
	case 1:
		min, max = -128, 127
	case 2:
		min, max = -32768, 32767
	case 4:
		min, max = -(1 << 31), (1<<31)-1
	default:
		min, max = -(1 << 63), (1<<63)-1
	}
	if srcType == il.F32 {
		return float64(float32(min)), float64(float32(max))
	}
	return min, max
}

// loadRodataFloat interns f at the source precision and emits the
// adrp+add+ldr sequence (spec.md §4.6) that loads it into a fresh
// vreg.
func loadRodataFloat(c *ctx, b *il.Block, t il.Type, f float64) mir.Operand {
	var label string
	if t == il.F32 {
		label = c.pool.InternFloat32(float32(f), c.fn.Name)
	} else {
		label = c.pool.InternFloat64(f, c.fn.Name)
	}
	addr := mir.VRegOperand(c.fn.NewVReg(classOf(il.Ptr), 64))
	appendInstr(c, b, &mir.Instr{Op: mir.AdrPage, Dst: &addr, Srcs: []mir.Operand{mir.SymOperand(label)}})
	appendInstr(c, b, &mir.Instr{Op: mir.AddPageOff, Dst: &addr, Srcs: []mir.Operand{addr, mir.SymOperand(label)}})
	dst := mir.VRegOperand(newVReg(c, t))
	appendInstr(c, b, &mir.Instr{
		Op:   mir.LdrRegBaseImm,
		Dst:  &dst,
		Srcs: []mir.Operand{mir.MemOperand(mir.Mem{BaseVReg: addr.VReg})},
	})
	return dst
}

// lowerTruncChk implements spec.md §4.1's checked narrowing integer
// cast via round-trip comparison: truncate, sign-extend back to the
// source width, and trap if the round trip didn't reproduce the
// source value — the same technique LLVM's trunc-with-overflow-check
// lowering uses, expressed with AArch64's register-width aliasing
// standing in for an explicit mask.
func lowerTruncChk(c *ctx, v *il.Value) {
	src := materializeConst(c, v.Args[0])
	dst := mir.VRegOperand(newVReg(c, v.Type))
	appendInstr(c, v.Block, &mir.Instr{Op: mir.MovRR, Dst: &dst, Srcs: []mir.Operand{src}, Comment: "narrowing mov, upper bits ignored"})

	extended := mir.VRegOperand(newVReg(c, v.Args[0].Type))
	appendInstr(c, v.Block, &mir.Instr{Op: mir.SxtRR, Dst: &extended, Srcs: []mir.Operand{dst}, Width: v.Type.Size() * 8})
	appendInstr(c, v.Block, &mir.Instr{Op: mir.CmpRR, Srcs: []mir.Operand{extended, src}})
	emitTrapBranch(c, v.Block, mir.NE, "__viper_trap_domain")

	c.values[v] = dst
}

// lowerExt returns a handler for zext/sext: an unchecked register-width
// extension, signed or unsigned per the opcode.
func lowerExt(signed bool) handler {
	return func(c *ctx, v *il.Value) {
		src := materializeConst(c, v.Args[0])
		dst := mir.VRegOperand(newVReg(c, v.Type))
		c.values[v] = dst
		op := mir.UxtRR
		if signed {
			op = mir.SxtRR
		}
		appendInstr(c, v.Block, &mir.Instr{Op: op, Dst: &dst, Srcs: []mir.Operand{src}, Width: v.Args[0].Type.Size() * 8})
	}
}
