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

// lowerAlloca reserves a stack slot sized for the alloca's result type
// and records the value's operand as an unresolved fp-relative Mem
// (spec.md §3's LdrRegFpImm/StrRegFpImm addressing mode) rather than
// materializing an address into a register: AArch64 has no "load
// effective address into arbitrary register" instruction cheaper than
// the fp+imm addressing mode itself, so alloca results stay as
// addressing data until a load/store consumes them.
func lowerAlloca(c *ctx, v *il.Value) {
	size := v.Type.Size()
	align := size
	if align == 0 {
		align = 8
	}
	slot := c.fn.NewStackSlot(size, align)
	c.values[v] = mir.MemOperand(mir.Mem{BaseIsFP: true, Slot: slot})
}

// lowerLoad lowers a load from either an alloca slot (fp-relative) or
// a computed pointer value held in a register (base+imm, offset 0 —
// IL has no pointer-arithmetic op, so every non-alloca address is used
// verbatim).
func lowerLoad(c *ctx, v *il.Value) {
	mem := addrMem(c, v.Args[0])
	dst := mir.VRegOperand(newVReg(c, v.Type))
	c.values[v] = dst
	appendInstr(c, v.Block, &mir.Instr{
		Op:   loadOpFor(mem),
		Dst:  &dst,
		Srcs: []mir.Operand{mir.MemOperand(mem)},
	})
}

// lowerStore lowers store(addr, value); IL stores carry no result.
func lowerStore(c *ctx, v *il.Value) {
	mem := addrMem(c, v.Args[0])
	val := materializeConst(c, v.Args[1])
	appendInstr(c, v.Block, &mir.Instr{
		Op:   storeOpFor(mem),
		Srcs: []mir.Operand{val, mir.MemOperand(mem)},
	})
}

// addrMem turns an address value's operand into a Mem: an alloca's
// address is already a fp-relative Mem, anything else is a register
// holding a pointer, addressed at offset 0 (IL has no pointer
// arithmetic op).
func addrMem(c *ctx, v *il.Value) mir.Mem {
	op := operand(c, v)
	if op.Kind == mir.OperandMem {
		return op.Mem
	}
	return mir.Mem{BaseVReg: requireVReg(c, op)}
}

func loadOpFor(mem mir.Mem) mir.Op {
	if mem.BaseIsFP {
		return mir.LdrRegFpImm
	}
	return mir.LdrRegBaseImm
}

func storeOpFor(mem mir.Mem) mir.Op {
	if mem.BaseIsFP {
		return mir.StrRegFpImm
	}
	return mir.StrRegBaseImm
}

func requireVReg(c *ctx, op mir.Operand) mir.VReg {
	if op.Kind == mir.OperandVReg {
		return op.VReg
	}
	c.sink.Internal(stage, "", "expected vreg operand for memory base, got kind %d", op.Kind)
	return mir.VReg{}
}
