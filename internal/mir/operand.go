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

package mir

import (
	"fmt"

	"viper/internal/arm64"
)

// Operand is one instruction operand: a vreg, a physical register
// (after RA), an immediate, a block label, a symbol, or a memory
// addressing triple. Mirrors the teacher's IOperand interface
// (codegen/lir.go) but is a closed sum type via a tagged struct
// instead of an interface, since AArch64's addressing modes need a
// richer shared shape (base+offset+index/scale) than x86's.
type Operand struct {
	Kind OperandKind

	VReg   VReg     // OperandVReg
	Reg    arm64.Reg // OperandReg
	Imm    int64    // OperandImm
	Block  *Block   // OperandLabel
	Symbol string   // OperandSymbol

	// OperandMem: base is a VReg before RA / arm64.Reg after.
	Mem Mem
}

// OperandKind tags the active field of Operand.
type OperandKind int

const (
	OperandInvalid OperandKind = iota
	OperandVReg
	OperandReg
	OperandImm
	OperandLabel
	OperandSymbol
	OperandMem
)

// Mem is a memory addressing triple: base register plus either a
// constant offset or an indexed-scaled register, never both.
type Mem struct {
	BaseVReg  VReg
	BaseReg   arm64.Reg
	BaseIsFP  bool // true when Base is the frame pointer before slot assignment
	Offset    int64
	// Slot, when set, defers Offset to FrameBuilder: an alloca or spill
	// address is only known relative to fp once every slot is placed
	// (spec.md §4.4), so lowering/RA reference the slot and AsmEmitter
	// resolves Slot.Offset at emit time instead of Offset.
	Slot      *StackSlot
	IndexVReg VReg
	IndexReg  arm64.Reg
	HasIndex  bool
	Scale     int
}

// ResolvedOffset returns the addressing offset to encode: Slot.Offset
// once FrameBuilder has placed it, otherwise the literal Offset.
func (m Mem) ResolvedOffset() int64 {
	if m.Slot != nil {
		return m.Slot.Offset
	}
	return m.Offset
}

func VRegOperand(v VReg) Operand    { return Operand{Kind: OperandVReg, VReg: v} }
func RegOperand(r arm64.Reg) Operand { return Operand{Kind: OperandReg, Reg: r} }
func ImmOperand(i int64) Operand    { return Operand{Kind: OperandImm, Imm: i} }
func LabelOperand(b *Block) Operand { return Operand{Kind: OperandLabel, Block: b} }
func SymOperand(s string) Operand   { return Operand{Kind: OperandSymbol, Symbol: s} }
func MemOperand(m Mem) Operand      { return Operand{Kind: OperandMem, Mem: m} }

func (o Operand) String() string {
	switch o.Kind {
	case OperandVReg:
		return o.VReg.String()
	case OperandReg:
		return o.Reg.String()
	case OperandImm:
		return fmt.Sprintf("#%d", o.Imm)
	case OperandLabel:
		return o.Block.Label
	case OperandSymbol:
		return o.Symbol
	case OperandMem:
		if o.Mem.HasIndex {
			return fmt.Sprintf("[%v, %v, lsl #%d]", o.Mem.baseString(), o.Mem.indexString(), o.Mem.Scale)
		}
		return fmt.Sprintf("[%v, #%d]", o.Mem.baseString(), o.Mem.ResolvedOffset())
	default:
		return "<invalid>"
	}
}

func (m Mem) baseString() string {
	if m.BaseIsFP {
		return "fp"
	}
	if m.BaseReg != (arm64.Reg{}) {
		return m.BaseReg.String()
	}
	return m.BaseVReg.String()
}

func (m Mem) indexString() string {
	if m.IndexReg != (arm64.Reg{}) {
		return m.IndexReg.String()
	}
	return m.IndexVReg.String()
}

// VReg is a virtual register: an id plus a class/size, resolved to a
// physical arm64.Reg by the allocator.
type VReg struct {
	ID    int
	Class arm64.RegClass
	Size  int // 8, 16, 32, or 64 bits
}

func (v VReg) String() string { return fmt.Sprintf("v%d", v.ID) }
