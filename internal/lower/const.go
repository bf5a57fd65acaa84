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

// lowerConst materializes a constant. Per-type handling mirrors the
// teacher's lowerConst switch over ssa.OpCInt/OpCFloat/etc
// (lower_x86.go), minus the string/array kinds IL routes through
// module globals + the rodata pool instead of inline constants.
//
// Unlike most handlers, lowerConst does not always emit an
// instruction: whenever the using context can take an RI immediate
// directly (arithHandler/compareHandler check via constImm), the
// constant is left unmaterialized and only recorded in c.values so a
// later MovRI is never emitted — the "immediate forms" fast path
// spec.md §4.1 requires.
func lowerConst(c *ctx, v *il.Value) {
	if v.Type.IsFloat() {
		dst := mir.VRegOperand(newVReg(c, v.Type))
		c.values[v] = dst
		appendInstr(c, v.Block, &mir.Instr{Op: mir.FMovRI, Dst: &dst, Srcs: []mir.Operand{mir.ImmOperand(int64(v.ConstBits))}})
		return
	}
	// Integer constants are recorded without emitting anything; any
	// consumer that cannot use an immediate form directly (e.g. this
	// constant escapes to a call argument or a store) calls
	// materializeConst to force a MovRI at that point.
	c.values[v] = mir.ImmOperand(int64(v.ConstBits))
}

// materializeConst forces an IL constant value into a vreg, used by
// contexts (call arguments, stores, returns) that cannot take a bare
// immediate operand.
func materializeConst(c *ctx, v *il.Value) mir.Operand {
	op := operand(c, v)
	if op.Kind != mir.OperandImm {
		return op
	}
	dst := mir.VRegOperand(newVReg(c, v.Type))
	appendInstr(c, v.Block, &mir.Instr{Op: mir.MovRI, Dst: &dst, Srcs: []mir.Operand{op}})
	return dst
}
