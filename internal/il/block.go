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

package il

// TermKind is a block terminator's category (spec.md §3's "control"
// category: br, cbr, switch, ret).
type TermKind int

const (
	TermInvalid TermKind = iota
	TermBr
	TermCbr
	TermSwitch
	TermRet
)

func (k TermKind) String() string {
	switch k {
	case TermBr:
		return "br"
	case TermCbr:
		return "cbr"
	case TermSwitch:
		return "switch"
	case TermRet:
		return "ret"
	default:
		return "<invalid>"
	}
}

// Edge is a successor block plus the argument values supplied for that
// successor's block parameters — the explicit parallel-copy contract
// spec.md §3/§9 requires in place of phi nodes.
type Edge struct {
	Target *Block
	Args   []*Value
}

// SwitchCase is one arm of a TermSwitch terminator.
type SwitchCase struct {
	Value uint64
	Edge  Edge
}

// Term is a block's terminator. Exactly one of the fields below is
// meaningful, selected by Kind.
type Term struct {
	Kind TermKind
	Pos  Pos

	// TermCbr / TermBr.
	Cond         *Value // TermCbr only
	Then, Else   Edge   // TermCbr: Then/Else; TermBr: Then only
	SwitchValue  *Value
	Cases        []SwitchCase
	SwitchDefault Edge

	// TermRet.
	RetVals []*Value
}

// Block is one IL basic block: typed parameters (the phi replacement),
// a straight-line instruction list, and a terminator. Mirrors
// ssa.Block's Preds/Succs bookkeeping via Func.predecessors, computed
// lazily rather than maintained incrementally (IL is read-only once
// built).
type Block struct {
	ID     int
	Name   string
	Params []*Value // each has Op == OpParam
	Instrs []*Value
	Term   Term
	Func   *Func
}

// Succs returns every block this block's terminator can transfer
// control to, in a stable order (then/else, or case order then
// default for switch).
func (b *Block) Succs() []*Block {
	switch b.Term.Kind {
	case TermBr:
		return []*Block{b.Term.Then.Target}
	case TermCbr:
		return []*Block{b.Term.Then.Target, b.Term.Else.Target}
	case TermSwitch:
		out := make([]*Block, 0, len(b.Term.Cases)+1)
		for _, c := range b.Term.Cases {
			out = append(out, c.Edge.Target)
		}
		out = append(out, b.Term.SwitchDefault.Target)
		return out
	default:
		return nil
	}
}

// Edges returns every outgoing Edge (successor + block-argument list),
// the unit the parallel-copy resolver consumes.
func (b *Block) Edges() []Edge {
	switch b.Term.Kind {
	case TermBr:
		return []Edge{b.Term.Then}
	case TermCbr:
		return []Edge{b.Term.Then, b.Term.Else}
	case TermSwitch:
		out := make([]Edge, 0, len(b.Term.Cases)+1)
		for _, c := range b.Term.Cases {
			out = append(out, c.Edge)
		}
		return append(out, b.Term.SwitchDefault)
	default:
		return nil
	}
}
