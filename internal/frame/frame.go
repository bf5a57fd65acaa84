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

// Package frame builds the final AArch64 stack layout for one MIR
// function (spec.md §4.4): it places the allocator's save set and
// every alloca/spill slot at fp-relative offsets, computes the
// 16-byte-aligned frame size, and inserts the prologue/epilogue MIR
// instructions that establish and tear it down.
//
// Grounded on the teacher's codegen/asm_x86.go, whose CodeGen driver
// computes a function's FrameSize from its stack-slot count and
// patches every "FrameSize" placeholder in the already-emitted text
// after the fact (allocateStackSlot, patchSymbol). This package
// inverts that order: because regalloc.Allocate and every spill slot
// are already finalized by the time Finalize runs, the frame size is
// known before a single instruction is emitted, so no text patching
// is needed — offsets are assigned once and referenced directly.
package frame

import (
	"github.com/samber/lo"

	"viper/internal/arm64"
	"viper/internal/diag"
	"viper/internal/mir"
)

const stage = "frame"

// largeFrameWarnBytes is the "large frame" diagnostic threshold: a frame at or above one page is worth flagging
// even though it's still legal.
const largeFrameWarnBytes = 4096

// maxSubImm is the largest 16-byte-aligned value a single sub/add (sp,
// sp, #imm) can encode in AArch64's 12-bit unsigned immediate field
// (spec.md §4.4): 4095 rounded down to a multiple of 16, so every
// intermediate sp value during a chunked adjustment stays aligned too.
const maxSubImm = 4080

// Plan is what internal/asm needs about a function's frame beyond
// what Finalize already wrote onto fn itself: whether the fp/lr pair
// was pushed, since that's the one part of the prologue/epilogue
// AArch64 can't express as plain fp-relative MIR (the push/pop needs
// pre/post-indexed addressing, which mir.Mem doesn't model).
type Plan struct {
	FrameSize int64
	UsesFP    bool
}

// saveSlot is one save-area reservation: one or two same-class
// registers (paired when possible to emit stp/ldp) and the fp-relative
// offset of the pair's base.
type saveSlot struct {
	regs   []arm64.Reg
	offset int64
}

// Finalize computes fn's frame layout, assigns every save slot and
// stack slot its fp-relative offset, and prepends/appends the MIR
// instructions that establish and tear down the frame. It must run
// after internal/regalloc.Allocate (every operand is a physical
// register by this point) and before internal/peephole (the inserted
// save/restore and sp-adjust instructions are themselves fair game for
// peephole's patterns).
func Finalize(fn *mir.Func, sink *diag.Sink) *Plan {
	gpr, fpr := splitSaveSet(fn.SaveSet)
	usesFP := !fn.Leaf || len(fn.SaveSet) > 0 || len(fn.Slots) > 0

	var off int64
	if usesFP {
		off = -16 // left unused; the emitter's hand-pushed fp/lr pair sits at [fp, fp+16)
	}

	var saves []saveSlot
	saves = append(saves, pairUp(gpr, &off)...)
	saves = append(saves, pairUp(fpr, &off)...)

	for _, slot := range fn.Slots {
		off = alignDown(off, int64(slot.Align))
		off -= int64(slot.Size)
		slot.Offset = off
	}

	outgoing := maxOutgoingArgBytes(fn)
	frameSize := align16(-off + outgoing)
	fn.FrameSize = frameSize
	fn.UsesFP = usesFP

	if frameSize >= largeFrameWarnBytes {
		sink.Warn(stage, "function %s has a %d-byte stack frame", fn.Name, frameSize)
	}

	if usesFP {
		insertPrologue(fn, saves, frameSize)
		insertEpilogue(fn, saves, frameSize)
	}

	return &Plan{FrameSize: frameSize, UsesFP: usesFP}
}

// splitSaveSet partitions the allocator's used-register bitmap into
// independent GPR and FPR save sequences (spec.md §4.4: each class
// gets its own stp/ldp pairing run).
func splitSaveSet(set []arm64.Reg) (gpr, fpr []arm64.Reg) {
	gpr = lo.Filter(set, func(r arm64.Reg, _ int) bool { return r.Class == arm64.GPR })
	fpr = lo.Filter(set, func(r arm64.Reg, _ int) bool { return r.Class == arm64.FPR })
	return gpr, fpr
}

// pairUp reserves 16 bytes per one-or-two registers, always rounding a
// leftover odd register up to a full pair slot: simpler bookkeeping
// than threading an 8-byte remainder through the next class, at the
// cost of at most 8 wasted bytes per function.
func pairUp(regs []arm64.Reg, off *int64) []saveSlot {
	var out []saveSlot
	for i := 0; i < len(regs); i += 2 {
		*off -= 16
		pair := []arm64.Reg{regs[i]}
		if i+1 < len(regs) {
			pair = append(pair, regs[i+1])
		}
		out = append(out, saveSlot{regs: pair, offset: *off})
	}
	return out
}

// maxOutgoingArgBytes scans fn for placeArgs's sp-relative overflow
// argument stores (internal/lower/call.go) and returns the largest
// byte range any call site writes from sp upward, so Finalize can
// reserve that much space at the bottom of the frame, below every
// fp-relative save and stack slot.
func maxOutgoingArgBytes(fn *mir.Func) int64 {
	var max int64
	for _, b := range fn.Blocks {
		for _, instr := range b.Instrs {
			for _, s := range instr.Srcs {
				if s.Kind != mir.OperandMem || s.Mem.BaseIsFP || s.Mem.BaseReg != arm64.SP {
					continue
				}
				if end := s.Mem.Offset + 8; end > max {
					max = end
				}
			}
		}
	}
	return max
}

func alignDown(v, align int64) int64 {
	if align <= 1 {
		return v
	}
	r := v % align
	if r < 0 {
		r += align // Go's % truncates toward zero; round negative offsets down
	}
	return v - r
}

func align16(v int64) int64 {
	return (v + 15) &^ 15
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// chunkSub splits total into a sequence of sub/add-encodable
// immediates (spec.md §8 scenario 5): AArch64's add/sub immediate
// field is 12 bits unsigned, so a frame past maxSubImm needs more than
// one instruction to materialize.
func chunkSub(total int64) []int64 {
	if total == 0 {
		return nil
	}
	var chunks []int64
	for total > 0 {
		c := total
		if c > maxSubImm {
			c = maxSubImm
		}
		chunks = append(chunks, c)
		total -= c
	}
	return chunks
}

func fpMem(offset int64) mir.Operand {
	return mir.MemOperand(mir.Mem{BaseIsFP: true, Offset: offset})
}

// saveInstr emits a str/stp for one save slot, value registers first
// per AT&T/GNU-as pair-store operand order.
func saveInstr(s saveSlot) *mir.Instr {
	mem := fpMem(s.offset)
	if len(s.regs) == 2 {
		return &mir.Instr{Op: mir.StpRegFpImm, Srcs: []mir.Operand{
			mir.RegOperand(s.regs[0]), mir.RegOperand(s.regs[1]), mem,
		}}
	}
	return &mir.Instr{Op: mir.StrRegFpImm, Srcs: []mir.Operand{mir.RegOperand(s.regs[0]), mem}}
}

// restoreInstr emits the matching ldr/ldp, with Dst/Dst2 carrying the
// loaded registers since loads (unlike stores) need a destination.
func restoreInstr(s saveSlot) *mir.Instr {
	mem := fpMem(s.offset)
	d0 := mir.RegOperand(s.regs[0])
	if len(s.regs) == 2 {
		d1 := mir.RegOperand(s.regs[1])
		return &mir.Instr{Op: mir.LdpRegFpImm, Dst: &d0, Dst2: &d1, Srcs: []mir.Operand{mem}}
	}
	return &mir.Instr{Op: mir.LdrRegFpImm, Dst: &d0, Srcs: []mir.Operand{mem}}
}

func spAdjust(op mir.Op, imm int64) *mir.Instr {
	dst := mir.RegOperand(arm64.SP)
	return &mir.Instr{Op: op, Dst: &dst, Srcs: []mir.Operand{mir.RegOperand(arm64.SP), mir.ImmOperand(imm)}}
}

// insertPrologue prepends the save-area stores and the (possibly
// chunked) stack-pointer decrement to fn's entry block, in the order
// the matching fp-relative addressing in the rest of the body expects
// fp to already be valid for: the emitter establishes fp before any of
// these run (stp x29,x30,[sp,#-16]!; mov x29,sp), so the save stores
// can address fp-relative offsets immediately.
func insertPrologue(fn *mir.Func, saves []saveSlot, frameSize int64) {
	entry := fn.Entry()
	var prologue []*mir.Instr
	for _, s := range saves {
		prologue = append(prologue, saveInstr(s))
	}
	for _, chunk := range chunkSub(frameSize) {
		prologue = append(prologue, spAdjust(mir.SubSpImm, chunk))
	}
	entry.Instrs = append(prologue, entry.Instrs...)
	renumber(entry)
}

// insertEpilogue inserts the matching sp-restore and save-area reloads
// immediately before every Ret in fn, in reverse order of the
// prologue's sub/save sequence.
func insertEpilogue(fn *mir.Func, saves []saveSlot, frameSize int64) {
	chunks := chunkSub(frameSize)
	for _, b := range fn.Blocks {
		if len(b.Instrs) == 0 || b.Instrs[len(b.Instrs)-1].Op != mir.Ret {
			continue
		}
		var epilogue []*mir.Instr
		for i := len(chunks) - 1; i >= 0; i-- {
			epilogue = append(epilogue, spAdjust(mir.AddSpImm, chunks[i]))
		}
		for i := len(saves) - 1; i >= 0; i-- {
			epilogue = append(epilogue, restoreInstr(saves[i]))
		}
		ret := b.Instrs[len(b.Instrs)-1]
		b.Instrs = append(append(b.Instrs[:len(b.Instrs)-1], epilogue...), ret)
		renumber(b)
	}
}

func renumber(b *mir.Block) {
	for i, instr := range b.Instrs {
		instr.ID = i
	}
}
