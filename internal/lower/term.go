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

// denseSwitchThreshold is the minimum case count SPEC_FULL.md §6's
// jump-table lowering requires before it beats a linear cmp/b.eq
// chain; below it the chain's simplicity (no bounds check, no table)
// wins even when the case values happen to be contiguous.
const denseSwitchThreshold = 5

// lowerTerm lowers one IL block's terminator, resolving every outgoing
// edge's block-parameter bindings via resolveEdgeCopies. Mirrors the
// teacher's lowerBlockControl (lower_x86.go), generalized from
// x86's jmp/jcc to AArch64's b/b.cond/cbz/cbnz/br-table and from phi
// resolution to the edge-copy contract IL's explicit block parameters
// require.
func lowerTerm(c *ctx, b *il.Block) {
	switch b.Term.Kind {
	case il.TermBr:
		lowerBr(c, b)
	case il.TermCbr:
		lowerCbr(c, b)
	case il.TermSwitch:
		lowerSwitch(c, b)
	case il.TermRet:
		lowerRet(c, b)
	default:
		c.sink.Internal(stage, "", "block %s has no terminator", b.Name)
	}
}

// lowerBr has only one successor, so its edge copies can be emitted
// directly in the current block with no risk of running on a path
// that doesn't take them.
func lowerBr(c *ctx, b *il.Block) {
	for _, instr := range resolveEdgeCopies(c, b, b.Term.Then) {
		appendInstr(c, b, instr)
	}
	target := c.blocks[b.Term.Then.Target]
	appendInstr(c, b, &mir.Instr{Op: mir.Br, Srcs: []mir.Operand{mir.LabelOperand(target)}})
	c.blocks[b].Succs = []*mir.Block{target}
}

// lowerCbr lowers a two-way conditional branch. Edge copies for either
// arm cannot be emitted in the shared source block (they would run
// regardless of which arm is taken), so any edge carrying block
// arguments is routed through a dedicated trampoline block created by
// edgeTarget.
func lowerCbr(c *ctx, b *il.Block) {
	cond := materializeConst(c, b.Term.Cond)
	thenBlock := edgeTarget(c, b, b.Term.Then)
	elseBlock := edgeTarget(c, b, b.Term.Else)

	appendInstr(c, b, &mir.Instr{Op: mir.Cbnz, Srcs: []mir.Operand{cond, mir.LabelOperand(thenBlock)}})
	appendInstr(c, b, &mir.Instr{Op: mir.Br, Srcs: []mir.Operand{mir.LabelOperand(elseBlock)}})
	c.blocks[b].Succs = []*mir.Block{thenBlock, elseBlock}
}

// edgeTarget returns the MIR block control should transfer to for
// edge: the real successor block when it carries no arguments, or a
// fresh trampoline block holding the resolved parallel copy followed
// by an unconditional branch to the real successor.
func edgeTarget(c *ctx, from *il.Block, edge il.Edge) *mir.Block {
	if len(edge.Args) == 0 {
		return c.blocks[edge.Target]
	}
	tramp := c.fn.NewBlock(blockLabel(c.ilFn, from) + "_to_" + blockLabel(c.ilFn, edge.Target))
	for _, instr := range resolveEdgeCopies(c, from, edge) {
		tramp.Append(instr)
	}
	real := c.blocks[edge.Target]
	tramp.Append(&mir.Instr{Op: mir.Br, Srcs: []mir.Operand{mir.LabelOperand(real)}})
	tramp.Succs = []*mir.Block{real}
	return tramp
}

// lowerRet places return values into X0/D0 (AAPCS64 has a single
// return register per class; multi-value IL returns beyond that are
// out of this backend's scope per spec.md §1) and emits ret.
func lowerRet(c *ctx, b *il.Block) {
	if len(b.Term.RetVals) > 0 {
		rv := b.Term.RetVals[0]
		val := materializeConst(c, rv)
		dst := mir.RegOperand(arm64.IntReturnReg)
		op := mir.MovRR
		if rv.Type.IsFloat() {
			dst = mir.RegOperand(arm64.FPReturnReg)
			op = mir.FMovRR
		}
		appendInstr(c, b, &mir.Instr{Op: op, Dst: &dst, Srcs: []mir.Operand{val}})
	}
	appendInstr(c, b, &mir.Instr{Op: mir.Ret})
}

// lowerSwitch picks between a dense jump table and a linear cmp chain
// per SPEC_FULL.md §6: a jump table pays for an adrp+add+ldr+br-table
// sequence regardless of case count, so it's only a win once enough
// contiguous cases exist to amortize that fixed cost.
func lowerSwitch(c *ctx, b *il.Block) {
	cases := b.Term.Cases
	if isDenseSwitch(cases) && len(cases) >= denseSwitchThreshold {
		lowerDenseSwitch(c, b)
		return
	}
	lowerSparseSwitch(c, b)
}

func isDenseSwitch(cases []il.SwitchCase) bool {
	if len(cases) == 0 {
		return false
	}
	min, max := cases[0].Value, cases[0].Value
	for _, cs := range cases {
		if cs.Value < min {
			min = cs.Value
		}
		if cs.Value > max {
			max = cs.Value
		}
	}
	return max-min+1 == uint64(len(cases))
}

// lowerDenseSwitch normalizes the switch value to a zero-based index,
// bounds-checks it against the default edge, and emits a BrTable over
// the case targets in value order (spec.md §4.6).
func lowerDenseSwitch(c *ctx, b *il.Block) {
	cases := append([]il.SwitchCase(nil), b.Term.Cases...)
	min := cases[0].Value
	for _, cs := range cases {
		if cs.Value < min {
			min = cs.Value
		}
	}
	// Sort by value so the BrTable's Targets line up with the
	// normalized index; cases arrive already almost-sorted from a
	// verified front end, so an insertion sort keeps this deterministic
	// without pulling in sort's pivot-order dependence on build.
	for i := 1; i < len(cases); i++ {
		for j := i; j > 0 && cases[j].Value < cases[j-1].Value; j-- {
			cases[j], cases[j-1] = cases[j-1], cases[j]
		}
	}

	idx := materializeConst(c, b.Term.SwitchValue)
	norm := mir.VRegOperand(newVReg(c, b.Term.SwitchValue.Type))
	appendInstr(c, b, &mir.Instr{Op: mir.SubRI, Dst: &norm, Srcs: []mir.Operand{idx, mir.ImmOperand(int64(min))}})

	defaultBlock := edgeTarget(c, b, b.Term.SwitchDefault)
	appendInstr(c, b, &mir.Instr{Op: mir.CmpRI, Srcs: []mir.Operand{norm, mir.ImmOperand(int64(len(cases) - 1))}})
	appendInstr(c, b, &mir.Instr{Op: mir.BCond, Cond: mir.HI, Srcs: []mir.Operand{mir.LabelOperand(defaultBlock)}})

	targets := make([]*mir.Block, len(cases))
	for i, cs := range cases {
		targets[i] = edgeTarget(c, b, cs.Edge)
	}
	appendInstr(c, b, &mir.Instr{Op: mir.BrTable, Srcs: []mir.Operand{norm}, Targets: targets, Default: defaultBlock})
	c.blocks[b].Succs = append(append([]*mir.Block{}, targets...), defaultBlock)
}

// lowerSparseSwitch emits a linear cmp/b.eq chain in case order,
// falling through to the default edge.
func lowerSparseSwitch(c *ctx, b *il.Block) {
	val := materializeConst(c, b.Term.SwitchValue)
	succs := make([]*mir.Block, 0, len(b.Term.Cases)+1)
	for _, cs := range b.Term.Cases {
		target := edgeTarget(c, b, cs.Edge)
		succs = append(succs, target)
		if immFitsAddSub12(int64(cs.Value)) {
			appendInstr(c, b, &mir.Instr{Op: mir.CmpRI, Srcs: []mir.Operand{val, mir.ImmOperand(int64(cs.Value))}})
		} else {
			imm := mir.VRegOperand(newVReg(c, b.Term.SwitchValue.Type))
			appendInstr(c, b, &mir.Instr{Op: mir.MovRI, Dst: &imm, Srcs: []mir.Operand{mir.ImmOperand(int64(cs.Value))}})
			appendInstr(c, b, &mir.Instr{Op: mir.CmpRR, Srcs: []mir.Operand{val, imm}})
		}
		appendInstr(c, b, &mir.Instr{Op: mir.BCond, Cond: mir.EQ, Srcs: []mir.Operand{mir.LabelOperand(target)}})
	}
	defaultBlock := edgeTarget(c, b, b.Term.SwitchDefault)
	appendInstr(c, b, &mir.Instr{Op: mir.Br, Srcs: []mir.Operand{mir.LabelOperand(defaultBlock)}})
	c.blocks[b].Succs = append(succs, defaultBlock)
}
