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
	"viper/internal/arm64"
	"viper/internal/diag"
	"viper/internal/mir"
	"viper/internal/pcopy"
)

// rewriteFunc replaces every vreg operand in fn with its assigned
// physical register, inserting a reload before and a spill store after
// any access to a vreg that didn't get one, and expands internal/lower's
// ParallelCopy runs (placeArgs's call-argument placement) into ordinary
// movs via internal/pcopy now that every source vreg has a concrete
// register.
func rewriteFunc(fn *mir.Func, assign map[int]arm64.Reg, spill map[int]spillInfo, sink *diag.Sink) {
	for _, b := range fn.Blocks {
		var out []*mir.Instr
		var pending []*mir.Instr

		flush := func() {
			if len(pending) == 0 {
				return
			}
			out = append(out, resolvePendingCopies(pending, assign, spill, sink)...)
			pending = nil
		}

		for _, instr := range b.Instrs {
			if instr.Op == mir.ParallelCopy {
				pending = append(pending, instr)
				continue
			}
			flush()
			out = append(out, rewriteInstr(instr, assign, spill, sink)...)
		}
		flush()

		for i, instr := range out {
			instr.ID = i
		}
		b.Instrs = out
	}
}

// rewriteInstr rewrites one non-ParallelCopy instruction's operands,
// returning it (preceded by any reload it needed, followed by any
// spill store its result needs) as a short instruction sequence. A
// def whose vreg rematerializes is dropped entirely: nothing needs the
// register it would have produced, since every use reconstructs the
// constant itself.
func rewriteInstr(instr *mir.Instr, assign map[int]arm64.Reg, spill map[int]spillInfo, sink *diag.Sink) []*mir.Instr {
	used := map[arm64.RegClass]int{}
	scratchFor := func(class arm64.RegClass) arm64.Reg {
		n := used[class]
		used[class] = n + 1
		switch {
		case class == arm64.GPR && n == 0:
			return arm64.ScratchGPR
		case class == arm64.GPR && n == 1:
			return arm64.ScratchGPR2
		case class == arm64.FPR && n == 0:
			return arm64.ScratchFPR
		case class == arm64.FPR && n == 1:
			return arm64.ScratchFPR2
		default:
			sink.Internal(stage, instr.String(), "instruction needs more than two spilled %s operands at once", class)
			return arm64.Reg{}
		}
	}

	var out []*mir.Instr
	newInstr := &mir.Instr{
		Op: instr.Op, Cond: instr.Cond, Pos: instr.Pos, Comment: instr.Comment,
		Targets: instr.Targets, Default: instr.Default, Width: instr.Width,
	}

	newSrcs := make([]mir.Operand, len(instr.Srcs))
	for i, s := range instr.Srcs {
		newSrcs[i] = rewriteReadOperand(s, assign, spill, scratchFor, &out, sink)
	}
	newInstr.Srcs = newSrcs

	if instr.Dst == nil {
		out = append(out, newInstr)
		return out
	}

	d := *instr.Dst
	if d.Kind != mir.OperandVReg {
		newInstr.Dst = instr.Dst
		out = append(out, newInstr)
		return out
	}

	if reg, ok := fixedScratch(d.VReg); ok {
		rd := mir.RegOperand(reg)
		newInstr.Dst = &rd
		out = append(out, newInstr)
		return out
	}
	if reg, ok := assign[d.VReg.ID]; ok {
		rd := mir.RegOperand(reg)
		newInstr.Dst = &rd
		out = append(out, newInstr)
		return out
	}
	sp, ok := spill[d.VReg.ID]
	if !ok {
		sink.Internal(stage, instr.String(), "vreg v%d has neither a register nor a spill assignment", d.VReg.ID)
		out = append(out, newInstr)
		return out
	}
	if sp.remat {
		// No store needed: every use rematerializes the constant on its
		// own, so the defining instruction itself is unreachable dead
		// weight once spilled.
		return out
	}
	scratch := scratchFor(d.VReg.Class)
	rd := mir.RegOperand(scratch)
	newInstr.Dst = &rd
	out = append(out, newInstr)
	out = append(out, &mir.Instr{
		Op:   mir.StrRegFpImm,
		Srcs: []mir.Operand{mir.RegOperand(scratch), mir.MemOperand(mir.Mem{BaseIsFP: true, Slot: sp.slot})},
	})
	return out
}

// rewriteReadOperand resolves every vreg reference in a source
// operand — a bare vreg, or a Mem's base/index — to a physical
// register, inserting a reload (or a rematerializing mov) into *out
// when the vreg didn't get one.
func rewriteReadOperand(
	op mir.Operand,
	assign map[int]arm64.Reg,
	spill map[int]spillInfo,
	scratchFor func(arm64.RegClass) arm64.Reg,
	out *[]*mir.Instr,
	sink *diag.Sink,
) mir.Operand {
	switch op.Kind {
	case mir.OperandVReg:
		return mir.RegOperand(loadVRegForRead(op.VReg, assign, spill, scratchFor, out, sink))
	case mir.OperandMem:
		m := op.Mem
		if !m.BaseIsFP && m.BaseReg == (arm64.Reg{}) {
			m.BaseReg = loadVRegForRead(m.BaseVReg, assign, spill, scratchFor, out, sink)
		}
		if m.HasIndex && m.IndexReg == (arm64.Reg{}) {
			m.IndexReg = loadVRegForRead(m.IndexVReg, assign, spill, scratchFor, out, sink)
		}
		return mir.MemOperand(m)
	default:
		return op
	}
}

func loadVRegForRead(
	v mir.VReg,
	assign map[int]arm64.Reg,
	spill map[int]spillInfo,
	scratchFor func(arm64.RegClass) arm64.Reg,
	out *[]*mir.Instr,
	sink *diag.Sink,
) arm64.Reg {
	if reg, ok := fixedScratch(v); ok {
		return reg
	}
	if reg, ok := assign[v.ID]; ok {
		return reg
	}
	sp, ok := spill[v.ID]
	if !ok {
		sink.Internal(stage, "", "vreg v%d has neither a register nor a spill assignment", v.ID)
		return arm64.Reg{}
	}
	scratch := scratchFor(v.Class)
	if sp.remat {
		*out = append(*out, &mir.Instr{
			Op: sp.rematOp, Dst: regPtr(scratch), Srcs: []mir.Operand{mir.ImmOperand(sp.rematImm)},
		})
		return scratch
	}
	*out = append(*out, &mir.Instr{
		Op: mir.LdrRegFpImm, Dst: regPtr(scratch),
		Srcs: []mir.Operand{mir.MemOperand(mir.Mem{BaseIsFP: true, Slot: sp.slot})},
	})
	return scratch
}

func regPtr(r arm64.Reg) *mir.Operand {
	op := mir.RegOperand(r)
	return &op
}

// resolvePendingCopies expands one run of consecutive ParallelCopy
// instructions (placeArgs's call-argument placement) into ordinary
// movs. Sources that are already a concrete register go through
// internal/pcopy so a cycle between two argument registers (one
// argument's source vreg landed in the register another argument
// targets) is broken with a scratch register instead of silently
// clobbered; immediate and spilled sources can't participate in such a
// cycle (a memory location or a constant is never another move's
// destination) so they're emitted directly, after the register moves,
// since their destination register may be another move's source.
func resolvePendingCopies(pending []*mir.Instr, assign map[int]arm64.Reg, spill map[int]spillInfo, sink *diag.Sink) []*mir.Instr {
	var out, late []*mir.Instr
	var gprMoves, fprMoves []pcopy.Move[arm64.Reg]
	movOp := map[arm64.Reg]mir.Op{}

	for _, instr := range pending {
		dstReg := instr.Dst.Reg
		op := mir.MovRR
		if dstReg.Class == arm64.FPR {
			op = mir.FMovRR
		}
		movOp[dstReg] = op

		src := instr.Srcs[0]
		switch src.Kind {
		case mir.OperandVReg:
			if reg, ok := fixedScratch(src.VReg); ok {
				out = append(out, &mir.Instr{Op: op, Dst: regPtr(dstReg), Srcs: []mir.Operand{mir.RegOperand(reg)}})
				continue
			}
			if reg, ok := assign[src.VReg.ID]; ok {
				if dstReg.Class == arm64.FPR {
					fprMoves = append(fprMoves, pcopy.Move[arm64.Reg]{Dst: dstReg, Src: reg})
				} else {
					gprMoves = append(gprMoves, pcopy.Move[arm64.Reg]{Dst: dstReg, Src: reg})
				}
				continue
			}
			if sp, ok := spill[src.VReg.ID]; ok {
				late = append(late, reloadInto(dstReg, sp)...)
				continue
			}
			sink.Internal(stage, "", "parallel-copy source v%d has no allocation", src.VReg.ID)
		case mir.OperandImm:
			late = append(late, &mir.Instr{Op: immMovFor(op), Dst: regPtr(dstReg), Srcs: []mir.Operand{src}})
		default:
			out = append(out, &mir.Instr{Op: op, Dst: regPtr(dstReg), Srcs: []mir.Operand{src}})
		}
	}

	pcopy.Resolve(gprMoves, arm64.ScratchGPR, func(dst, src arm64.Reg) {
		out = append(out, &mir.Instr{Op: movOp[dst], Dst: regPtr(dst), Srcs: []mir.Operand{mir.RegOperand(src)}})
	})
	pcopy.Resolve(fprMoves, arm64.ScratchFPR, func(dst, src arm64.Reg) {
		out = append(out, &mir.Instr{Op: movOp[dst], Dst: regPtr(dst), Srcs: []mir.Operand{mir.RegOperand(src)}})
	})
	return append(out, late...)
}

func immMovFor(movOp mir.Op) mir.Op {
	if movOp == mir.FMovRR {
		return mir.FMovRI
	}
	return mir.MovRI
}

func reloadInto(dstReg arm64.Reg, sp spillInfo) []*mir.Instr {
	if sp.remat {
		return []*mir.Instr{{Op: sp.rematOp, Dst: regPtr(dstReg), Srcs: []mir.Operand{mir.ImmOperand(sp.rematImm)}}}
	}
	return []*mir.Instr{{
		Op: mir.LdrRegFpImm, Dst: regPtr(dstReg),
		Srcs: []mir.Operand{mir.MemOperand(mir.Mem{BaseIsFP: true, Slot: sp.slot})},
	}}
}
