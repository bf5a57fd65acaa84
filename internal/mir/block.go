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

// Block is one MIR basic block: a stable sanitized label (spec.md
// §4.6: hyphens replaced with underscores) and a straight-line
// instruction list whose last element is always a terminator once
// lowering has finished a block.
type Block struct {
	ID     int
	Label  string
	Instrs []*Instr
	Func   *Func

	// Succs is populated by the lowerer from the source IL's Succs and
	// kept in sync by any pass that rewrites a terminator's targets
	// (peephole's branch inversion, for instance).
	Succs []*Block
}

// Terminator returns the block's last instruction, or nil if the
// block is still empty.
func (b *Block) Terminator() *Instr {
	if len(b.Instrs) == 0 {
		return nil
	}
	return b.Instrs[len(b.Instrs)-1]
}

// Append adds instr to the end of the block.
func (b *Block) Append(instr *Instr) {
	instr.ID = len(b.Instrs)
	b.Instrs = append(b.Instrs, instr)
}
