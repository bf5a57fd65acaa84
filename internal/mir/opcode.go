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

// Package mir is the AArch64 machine IR: functions, blocks,
// instructions drawn from a fixed opcode set, and the operand kinds
// (vreg, physical register, immediate, label, symbol, memory triple)
// spec.md §3 names. One-to-one with machine instructions after
// register allocation.
package mir

// Op is a MIR opcode, matching the documented set in spec.md §3.
// Mirrors the shape of the teacher's LIROp enum (codegen/lir.go) —
// int-constant-with-String() — but the opcode set itself is
// AArch64's, not x86's.
type Op int

const (
	OpInvalid Op = iota

	// Integer arithmetic.
	AddRRR
	AddRI
	SubRRR
	SubRI
	MulRRR
	SDivRRR
	UDivRRR
	MAddRRRR
	MSubRRRR
	AndRRR
	OrRRR
	EorRRR
	AsrRI
	AsrRR
	LslRI
	LslRR
	LsrRI
	LsrRR
	CmpRR
	CmpRI
	Csel
	Cset
	MovRR
	MovRI
	MovkRI
	SxtRR // sxtb/sxth/sxtw, width carried on the instruction
	UxtRR

	// FP arithmetic.
	FAddRRR
	FSubRRR
	FMulRRR
	FDivRRR
	FCmpRR
	FCmpRI // fcmp against #0.0
	FMovRR
	FMovRI
	FCvtZS // FP -> signed int, round toward zero
	FCvtZU
	SCvtF // signed int -> FP
	UCvtF
	FRintN
	FNeg

	// Memory: FP(frame-pointer)-relative, base+imm, and pairs.
	LdrRegFpImm
	StrRegFpImm
	LdpRegFpImm
	StpRegFpImm
	LdrRegBaseImm
	StrRegBaseImm

	// Stack adjustment.
	AddSpImm
	SubSpImm

	// Control flow.
	BCond
	Bl
	Blr
	Br
	Cbz
	Cbnz
	Ret

	// Address materialization.
	AdrPage
	AddPageOff

	// BrTable is a dense switch's indirect multi-way branch: Srcs[0] is
	// the (already range-checked, base-subtracted) index register;
	// Instr.Targets holds the case blocks in order and Instr.Default the
	// out-of-range fallback. Unlike every other control-flow op its
	// successors aren't encoded as Operand labels, since AsmEmitter needs
	// the full ordered target list to synthesize the table itself
	// (spec.md §4.6) rather than one label per instruction.
	BrTable

	// Pseudo: a parallel-copy move not yet resolved into a real MovRR
	// sequence; internal/regalloc's move resolver rewrites these away
	// before RA completes. Kept distinct from MovRR so the resolver can
	// find unresolved copies by opcode instead of convention.
	ParallelCopy
)

func (op Op) String() string {
	switch op {
	case AddRRR:
		return "add"
	case AddRI:
		return "add"
	case SubRRR:
		return "sub"
	case SubRI:
		return "sub"
	case MulRRR:
		return "mul"
	case SDivRRR:
		return "sdiv"
	case UDivRRR:
		return "udiv"
	case MAddRRRR:
		return "madd"
	case MSubRRRR:
		return "msub"
	case AndRRR:
		return "and"
	case OrRRR:
		return "orr"
	case EorRRR:
		return "eor"
	case AsrRI, AsrRR:
		return "asr"
	case LslRI, LslRR:
		return "lsl"
	case LsrRI, LsrRR:
		return "lsr"
	case CmpRR, CmpRI:
		return "cmp"
	case Csel:
		return "csel"
	case Cset:
		return "cset"
	case MovRR, MovRI:
		return "mov"
	case MovkRI:
		return "movk"
	case SxtRR:
		return "sxt"
	case UxtRR:
		return "uxt"
	case FAddRRR:
		return "fadd"
	case FSubRRR:
		return "fsub"
	case FMulRRR:
		return "fmul"
	case FDivRRR:
		return "fdiv"
	case FCmpRR, FCmpRI:
		return "fcmp"
	case FMovRR, FMovRI:
		return "fmov"
	case FCvtZS:
		return "fcvtzs"
	case FCvtZU:
		return "fcvtzu"
	case SCvtF:
		return "scvtf"
	case UCvtF:
		return "ucvtf"
	case FRintN:
		return "frintn"
	case FNeg:
		return "fneg"
	case LdrRegFpImm, LdrRegBaseImm:
		return "ldr"
	case StrRegFpImm, StrRegBaseImm:
		return "str"
	case LdpRegFpImm:
		return "ldp"
	case StpRegFpImm:
		return "stp"
	case AddSpImm:
		return "add"
	case SubSpImm:
		return "sub"
	case BCond:
		return "b"
	case Bl:
		return "bl"
	case Blr:
		return "blr"
	case Br:
		return "b"
	case Cbz:
		return "cbz"
	case Cbnz:
		return "cbnz"
	case Ret:
		return "ret"
	case AdrPage:
		return "adrp"
	case AddPageOff:
		return "add"
	case BrTable:
		return "<br-table>"
	case ParallelCopy:
		return "<parallel-copy>"
	default:
		return "<invalid>"
	}
}

// IsTerminator reports whether op ends a block.
func (op Op) IsTerminator() bool {
	switch op {
	case BCond, Br, Cbz, Cbnz, Ret, BrTable:
		return true
	default:
		return false
	}
}

// IsCall reports whether op transfers control to another function.
func (op Op) IsCall() bool { return op == Bl || op == Blr }

// DefinesFlags reports whether op sets the condition flags, the
// property the peephole pass's "mov;add/sub/cmp" fold and CBZ/CBNZ
// fusion both need to check before removing a flag-setting compare.
func (op Op) DefinesFlags() bool {
	switch op {
	case CmpRR, CmpRI, FCmpRR, FCmpRI:
		return true
	default:
		return false
	}
}
