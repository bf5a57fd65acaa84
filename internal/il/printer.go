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

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Print renders fn back to the textual form Parse accepts, used by
// tests to assert a function round-trips. A switch terminator is
// printed in a bracketed case-list form that Parse does not read.
func Print(fn *Func) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "func @%s(", fn.Name)
	for i, p := range fn.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(p.Type.String())
	}
	sb.WriteString(") -> ")
	if len(fn.Results) == 1 {
		sb.WriteString(fn.Results[0].String())
	} else {
		sb.WriteString("(")
		for i, r := range fn.Results {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(r.String())
		}
		sb.WriteString(")")
	}
	sb.WriteString(" {\n")
	for _, b := range fn.Blocks {
		printBlock(&sb, b)
	}
	sb.WriteString("}\n")
	return sb.String()
}

func printBlock(sb *strings.Builder, b *Block) {
	fmt.Fprintf(sb, "block %s(", b.Name)
	for i, p := range b.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(sb, "%%v%d %s", p.ID, p.Type)
	}
	sb.WriteString("):\n")
	for _, v := range b.Instrs {
		fmt.Fprintf(sb, "  %%v%d = %s %s", v.ID, v.Op, v.Type)
		if v.Op == OpConst {
			switch v.Type {
			case F32:
				sb.WriteString(" " + strconv.FormatFloat(float64(math.Float32frombits(uint32(v.ConstBits))), 'g', -1, 32))
			case F64:
				sb.WriteString(" " + strconv.FormatFloat(math.Float64frombits(v.ConstBits), 'g', -1, 64))
			default:
				fmt.Fprintf(sb, " %d", int64(v.ConstBits))
			}
		}
		if v.CallSym != "" {
			fmt.Fprintf(sb, " %s", v.CallSym)
		}
		for _, a := range v.Args {
			fmt.Fprintf(sb, " %%v%d", a.ID)
		}
		sb.WriteString("\n")
	}
	printTerm(sb, b)
}

func printEdge(sb *strings.Builder, e Edge) {
	fmt.Fprintf(sb, "%s(", e.Target.Name)
	for i, a := range e.Args {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(sb, "%%v%d", a.ID)
	}
	sb.WriteString(")")
}

func printTerm(sb *strings.Builder, b *Block) {
	sb.WriteString("  ")
	switch b.Term.Kind {
	case TermBr:
		sb.WriteString("br ")
		printEdge(sb, b.Term.Then)
	case TermCbr:
		fmt.Fprintf(sb, "cbr %%v%d, ", b.Term.Cond.ID)
		printEdge(sb, b.Term.Then)
		sb.WriteString(", ")
		printEdge(sb, b.Term.Else)
	case TermSwitch:
		fmt.Fprintf(sb, "switch %%v%d ", b.Term.SwitchValue.ID)
		for _, c := range b.Term.Cases {
			fmt.Fprintf(sb, "[%d: ", c.Value)
			printEdge(sb, c.Edge)
			sb.WriteString("] ")
		}
		sb.WriteString("default: ")
		printEdge(sb, b.Term.SwitchDefault)
	case TermRet:
		sb.WriteString("ret")
		for i, v := range b.Term.RetVals {
			if i > 0 {
				sb.WriteString(",")
			}
			fmt.Fprintf(sb, " %%v%d", v.ID)
		}
	}
	sb.WriteString("\n")
}
