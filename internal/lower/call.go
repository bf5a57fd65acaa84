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

// lowerCall implements spec.md §4.1's direct call: AAPCS64 argument
// placement (independent int/FP register sequences, overflow on a
// 16-byte-aligned stack area below the call), a Bl to the callee
// symbol, and a single mov pulling the return value out of
// X0/D0. Caller-saved register eviction around the call is the
// allocator's concern (spec.md §4.3's call-awareness), not lowering's.
func lowerCall(c *ctx, v *il.Value) {
	placeArgs(c, v, v.Args)
	appendInstr(c, v.Block, &mir.Instr{Op: mir.Bl, Srcs: []mir.Operand{mir.SymOperand(v.CallSym)}})
	placeResult(c, v)
}

// lowerCallIndirect places arguments identically to a direct call but
// branches through a register (Blr) holding the callee address, which
// is the call's first argument value per spec.md §3's calls-by-value
// convention for indirect calls.
func lowerCallIndirect(c *ctx, v *il.Value) {
	target := materializeConst(c, v.Args[0])
	placeArgs(c, v, v.Args[1:])
	appendInstr(c, v.Block, &mir.Instr{Op: mir.Blr, Srcs: []mir.Operand{target}})
	placeResult(c, v)
}

// placeArgs copies each argument into its AAPCS64 register (or an
// overflow stack slot past the eighth of its class), materializing
// constants along the way since argument registers can't take an
// immediate mov-free path the way RI arithmetic forms can.
//
// Register-class placements are emitted as ParallelCopy, not MovRR:
// two argument vregs can end up allocated to registers that are each
// other's destination (e.g. swapping two locals into x0/x1), and a
// naive sequence of independent movs would clobber one before it's
// read. Lowering runs before register allocation assigns concrete
// registers, so it can't detect that cycle here; it defers the whole
// run of argument copies to internal/regalloc, which resolves them
// with internal/pcopy once every vreg has a physical home.
func placeArgs(c *ctx, v *il.Value, args []*il.Value) {
	intIdx, fpIdx := 0, 0
	var overflowOffset int64
	for _, a := range args {
		val := materializeConst(c, a)
		if a.Type.IsFloat() {
			if fpIdx < len(arm64.FPArgRegs) {
				dst := mir.RegOperand(arm64.FPArgRegs[fpIdx])
				appendInstr(c, v.Block, &mir.Instr{Op: mir.ParallelCopy, Dst: &dst, Srcs: []mir.Operand{val}})
				fpIdx++
				continue
			}
		} else {
			if intIdx < len(arm64.IntArgRegs) {
				dst := mir.RegOperand(arm64.IntArgRegs[intIdx])
				appendInstr(c, v.Block, &mir.Instr{Op: mir.ParallelCopy, Dst: &dst, Srcs: []mir.Operand{val}})
				intIdx++
				continue
			}
		}
		// Overflow argument: store to the outgoing-argument area just
		// below the callee's frame, growing upward per spec.md §4.4.
		op := storeOpFor(mir.Mem{})
		appendInstr(c, v.Block, &mir.Instr{
			Op:   op,
			Srcs: []mir.Operand{val, mir.MemOperand(mir.Mem{BaseReg: arm64.SP, Offset: overflowOffset})},
		})
		overflowOffset += 8
	}
}

// placeResult copies the callee's return value (X0 or D0) into a fresh
// vreg, unless the callee is void.
func placeResult(c *ctx, v *il.Value) {
	if v.Type == il.TypeInvalid {
		return
	}
	dst := mir.VRegOperand(newVReg(c, v.Type))
	c.values[v] = dst
	op := mir.MovRR
	src := mir.RegOperand(arm64.IntReturnReg)
	if v.Type.IsFloat() {
		op = mir.FMovRR
		src = mir.RegOperand(arm64.FPReturnReg)
	}
	appendInstr(c, v.Block, &mir.Instr{Op: op, Dst: &dst, Srcs: []mir.Operand{src}})
}
