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

import "viper/internal/arm64"

// StackSlot is a spill slot or an alloca destination. Referred to by a
// signed offset from the frame pointer once FrameBuilder finalizes it
// (spec.md §3: "offset % align == 0", disjoint from the save area).
type StackSlot struct {
	ID     int
	Size   int
	Align  int
	Offset int64 // valid only after FrameBuilder.Finalize
}

// Func owns everything lowering produces for one IL function: its
// blocks, the vreg table, the stack slot list, the save-set the
// allocator used, and the final frame size. Mirrors the "ownership of
// MIR" note in spec.md §9: a function exclusively owns its contents,
// no sharing across functions.
type Func struct {
	Name   string
	Blocks []*Block

	vregs    []VReg
	vregNext int
	Slots    []*StackSlot

	// SaveSet is the subset of callee-saved physical registers the
	// allocator actually used; FrameBuilder consumes it to synthesize
	// the prologue/epilogue (spec.md §4.4).
	SaveSet []arm64.Reg

	// FrameSize is the final, 16-byte-aligned stack frame size,
	// computed by FrameBuilder once every spill slot is placed.
	FrameSize int64

	// UsesFP is true when FrameBuilder established a frame-pointer pair,
	// the one part of the prologue/epilogue (the fp/lr push/pop) it
	// can't express as plain fp-relative MIR, since AArch64's pre/post-
	// indexed addressing has no mir.Mem representation. AsmEmitter reads
	// this to know whether to hand-emit that push/pop around the body
	// FrameBuilder otherwise already rewrote in place.
	UsesFP bool

	// Leaf is true when the function makes no calls, allowing the
	// prologue fast path (no X29/X30 save) spec.md §8 scenario 1
	// references.
	Leaf bool
}

// NewFunc returns an empty MIR function.
func NewFunc(name string) *Func { return &Func{Name: name} }

// NewBlock appends and returns a fresh block.
func (f *Func) NewBlock(label string) *Block {
	b := &Block{ID: len(f.Blocks), Label: sanitizeLabel(label), Func: f}
	f.Blocks = append(f.Blocks, b)
	return b
}

func sanitizeLabel(s string) string {
	out := []byte(s)
	for i, c := range out {
		if c == '-' {
			out[i] = '_'
		}
	}
	return string(out)
}

// NewVReg allocates a fresh virtual register of the given class/size.
func (f *Func) NewVReg(class arm64.RegClass, size int) VReg {
	v := VReg{ID: f.vregNext, Class: class, Size: size}
	f.vregNext++
	f.vregs = append(f.vregs, v)
	return v
}

// VRegs returns every vreg allocated in this function, in allocation
// order.
func (f *Func) VRegs() []VReg { return f.vregs }

// NewStackSlot allocates a new, not-yet-placed stack slot.
func (f *Func) NewStackSlot(size, align int) *StackSlot {
	s := &StackSlot{ID: len(f.Slots), Size: size, Align: align}
	f.Slots = append(f.Slots, s)
	return s
}

// Entry returns the function's entry block.
func (f *Func) Entry() *Block { return f.Blocks[0] }
