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

// Package asm renders a MIR module to GNU-as AArch64 assembly text
// (spec.md §4.6): the actual text-emission target this whole backend
// exists to reach. Grounded on the teacher's codegen/asm_x86.go
// Assembler, but AArch64's uniform operand order (destination first)
// and suffix-free mnemonics (the register name, not the opcode,
// carries operand width) let almost every opcode render through one
// generic "mnemonic dst, srcs..." path; only the handful the teacher's
// emit() switch also special-cased — returns, conditional forms,
// pairs, and the multi-instruction address/jump-table idioms — need
// their own case here too.
package asm

import (
	"fmt"
	"strings"

	"viper/internal/arm64"
	"viper/internal/diag"
	"viper/internal/mir"
	"viper/internal/rodata"
)

const stage = "asm"

// OS selects the target's symbol-mangling and section-directive
// conventions (spec.md §4.6 and §6's --os flag).
type OS int

const (
	Linux OS = iota
	Darwin
)

// Emitter renders one MIR module to assembly text for a chosen OS.
type Emitter struct {
	os     OS
	sink   *diag.Sink
	buf    strings.Builder
	tables []switchTable
	nextSW int
}

type switchTable struct {
	label   string
	targets []*mir.Block
	deflt   *mir.Block
}

// NewEmitter returns an Emitter that reports frame/operand diagnostics
// to sink.
func NewEmitter(os OS, sink *diag.Sink) *Emitter {
	return &Emitter{os: os, sink: sink}
}

// EmitModule renders every function in mod, in input order (spec.md
// §6), followed by the rodata section built from pool's interned
// entries.
func (e *Emitter) EmitModule(mod *mir.Module, pool *rodata.Pool) string {
	e.buf.Reset()
	e.buf.WriteString("\t.text\n")
	for _, fn := range mod.Funcs {
		e.emitFunc(fn)
	}
	e.emitRodata(pool)
	return e.buf.String()
}

func (e *Emitter) line(s string) {
	e.buf.WriteString("\t")
	e.buf.WriteString(s)
	e.buf.WriteString("\n")
}

func (e *Emitter) linef(format string, args ...interface{}) {
	e.line(fmt.Sprintf(format, args...))
}

func (e *Emitter) label(name string) {
	e.buf.WriteString(name)
	e.buf.WriteString(":\n")
}

// emitFunc renders fn's prologue, every block, and (for AArch64, since
// pre/post-indexed addressing has no mir.Mem representation) the one
// hand-written fp/lr push/pop pair internal/frame couldn't express as
// plain instructions. It assumes internal/frame.Finalize and
// internal/peephole have already run on fn (spec.md §2's pipeline
// order): FrameSize/UsesFP are read directly off fn, not recomputed.
func (e *Emitter) emitFunc(fn *mir.Func) {
	name := e.mangle(fn.Name)

	e.linef(".globl %s", name)
	e.line(".p2align 2")
	e.label(name)

	if fn.UsesFP {
		e.line("stp x29, x30, [sp, #-16]!")
		e.line("mov x29, sp")
	}

	for _, b := range fn.Blocks {
		e.label(localLabel(b))
		for _, instr := range b.Instrs {
			e.emitInstr(fn, instr)
		}
	}

	e.flushSwitchTables()
}

// emitInstr renders one MIR instruction. Most opcodes fall through to
// the generic "mnemonic dst, srcs..." renderer; the cases below are
// exactly the ops whose AT&T-ish textual form isn't a mechanical
// transcription of Dst/Srcs (spec.md §4.6).
func (e *Emitter) emitInstr(fn *mir.Func, instr *mir.Instr) {
	switch instr.Op {
	case mir.Ret:
		if fn.UsesFP {
			e.line("ldp x29, x30, [sp], #16")
		}
		e.line("ret")
	case mir.BCond:
		e.linef("b.%s %s", instr.Cond.String(), e.operand(instr.Srcs[0]))
	case mir.Cset:
		e.linef("cset %s, %s", e.operand(*instr.Dst), instr.Cond.String())
	case mir.Csel:
		e.linef("csel %s, %s, %s, %s",
			e.operand(*instr.Dst), e.operand(instr.Srcs[0]), e.operand(instr.Srcs[1]), instr.Cond.String())
	case mir.SxtRR:
		e.linef("sxt%s %s, %s", widthSuffix(instr.Width), e.operand(*instr.Dst), e.operand(instr.Srcs[0]))
	case mir.UxtRR:
		e.linef("uxt%s %s, %s", widthSuffix(instr.Width), e.operand(*instr.Dst), e.operand(instr.Srcs[0]))
	case mir.LdpRegFpImm:
		e.linef("ldp %s, %s, %s", e.operand(*instr.Dst), e.operand(*instr.Dst2), e.operand(instr.Srcs[0]))
	case mir.FCmpRI:
		e.linef("fcmp %s, #0.0", e.operand(instr.Srcs[0]))
	case mir.AddPageOff:
		e.emitPageOff(e.operand(*instr.Dst), e.operand(instr.Srcs[0]), instr.Srcs[1].Symbol)
	case mir.BrTable:
		e.emitBrTable(instr)
	default:
		e.generic(instr)
	}
}

// generic renders the common case: mnemonic, then Dst (if any), then
// every Srcs operand, comma-separated. Covers every RRR/RI/RR
// arithmetic form, loads and stores (including the stp/ldp save-pair
// forms frame.Finalize already builds with operands in the right
// order), branches, calls, and address materialization's adrp half.
func (e *Emitter) generic(instr *mir.Instr) {
	mnemonic := instr.Op.String()
	if mnemonic == "<invalid>" {
		e.sink.Internal(stage, instr.String(), "unsupported opcode reached text emission")
		return
	}
	var parts []string
	if instr.Dst != nil {
		parts = append(parts, e.operand(*instr.Dst))
	}
	for _, s := range instr.Srcs {
		parts = append(parts, e.operand(s))
	}
	e.linef("%s %s", mnemonic, strings.Join(parts, ", "))
}

func widthSuffix(bits int) string {
	switch bits {
	case 8:
		return "b"
	case 16:
		return "h"
	default:
		return "w"
	}
}

// emitPageOff renders AddPageOff's OS-specific low-12-bits-of-symbol
// syntax: Darwin's assembler spells it as a suffix on the symbol,
// Linux's (GNU as) as a relocation prefix.
func (e *Emitter) emitPageOff(dst, src, sym string) {
	mangled := e.mangle(sym)
	if e.os == Darwin {
		e.linef("add %s, %s, %s@PAGEOFF", dst, src, mangled)
	} else {
		e.linef("add %s, %s, :lo12:%s", dst, src, mangled)
	}
}

// emitBrTable synthesizes a dense switch's indirect branch (spec.md
// §4.6): materialize the jump table's address, load the entry at the
// (already range-checked) index, and branch through it. The table
// itself is queued and flushed after the function body so its .quad
// entries land outside the instruction stream.
func (e *Emitter) emitBrTable(instr *mir.Instr) {
	tableLabel := fmt.Sprintf(".Lswitch%d", e.nextSW)
	e.nextSW++

	idx := e.operand(instr.Srcs[0])
	scratch := arm64.ScratchGPR.String()
	scratch2 := arm64.ScratchGPR2.String()

	e.linef("adrp %s, %s", scratch, tableLabel)
	e.emitPageOff(scratch, scratch, tableLabel)
	e.linef("ldr %s, [%s, %s, lsl #3]", scratch2, scratch, idx)
	e.line("br " + scratch2)

	e.tables = append(e.tables, switchTable{label: tableLabel, targets: instr.Targets, deflt: instr.Default})
}

func (e *Emitter) flushSwitchTables() {
	for _, t := range e.tables {
		e.line(".p2align 3")
		e.label(t.label)
		for _, target := range t.targets {
			e.linef(".quad %s", localLabel(target))
		}
	}
	e.tables = nil
}

// operand renders one already-allocated operand. OperandVReg never
// reaches here: register allocation resolves every vreg to a physical
// Reg before internal/asm runs.
func (e *Emitter) operand(op mir.Operand) string {
	switch op.Kind {
	case mir.OperandReg:
		return op.Reg.String()
	case mir.OperandImm:
		return fmt.Sprintf("#%d", op.Imm)
	case mir.OperandLabel:
		return localLabel(op.Block)
	case mir.OperandSymbol:
		return e.mangle(op.Symbol)
	case mir.OperandMem:
		return e.mem(op.Mem)
	default:
		e.sink.Internal(stage, "", "unexpected operand kind %d reached text emission", op.Kind)
		return "<invalid>"
	}
}

func (e *Emitter) mem(m mir.Mem) string {
	base := arm64.FP.String()
	if !m.BaseIsFP {
		base = m.BaseReg.String()
	}
	if m.HasIndex {
		return fmt.Sprintf("[%s, %s, lsl #%d]", base, m.IndexReg.String(), m.Scale)
	}
	return fmt.Sprintf("[%s, #%d]", base, m.ResolvedOffset())
}

// localLabel renders a block's assembly label. lower.go's blockLabel()
// already produces descriptive, function-prefixed labels, so this just
// adds the local-symbol "." prefix spec.md §4.6 asks for rather than
// reconstructing a "func_block_N" form from scratch.
func localLabel(b *mir.Block) string { return "." + b.Label }

// mangle applies Darwin's leading-underscore C symbol convention.
// Local labels and rodata labels (both dot-prefixed) are never mangled
// on either OS: they're never looked up by an external linker. Trap
// handler symbols (__viper_trap_*) get the prefix like any other.
func (e *Emitter) mangle(sym string) string {
	if e.os == Darwin && !strings.HasPrefix(sym, ".") {
		return "_" + sym
	}
	return sym
}

// emitRodata renders pool's interned entries (spec.md §4.6): strings
// as NUL-terminated byte sequences, FP constants as 8-byte-aligned
// .quad literals of their IEEE-754 bit pattern, f32 zero-extended to
// fill the same 8 bytes every other GPR/FPR value on this backend is
// addressed at — there's no narrower load path to a 4-byte rodata
// entry once a vreg's width is erased by the generic ldr.
func (e *Emitter) emitRodata(pool *rodata.Pool) {
	entries := pool.Entries()
	if len(entries) == 0 {
		return
	}
	if e.os == Darwin {
		e.line(".section __TEXT,__const")
	} else {
		e.line(".section .rodata")
	}
	for _, ent := range entries {
		switch ent.Kind {
		case rodata.KindString:
			e.label(ent.Label)
			e.linef(".byte %s", byteList(ent.Bytes))
		case rodata.KindFloat:
			e.line(".p2align 3")
			e.label(ent.Label)
			e.linef(".quad 0x%016x", bitsOf(ent.Bytes))
		}
	}
}

func byteList(bs []byte) string {
	parts := make([]string, len(bs))
	for i, b := range bs {
		parts[i] = fmt.Sprintf("%d", b)
	}
	return strings.Join(parts, ", ")
}

// bitsOf reassembles a little-endian byte slice (4 bytes for an f32
// entry, 8 for f64) into a zero-extended uint64 for the .quad literal.
func bitsOf(bs []byte) uint64 {
	var v uint64
	for i, b := range bs {
		v |= uint64(b) << (8 * uint(i))
	}
	return v
}
