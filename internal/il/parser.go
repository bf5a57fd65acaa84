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
	"text/scanner"
)

// Parse reads a module from its minimal textual form. This is not the
// full IL grammar (that belongs to the upstream front end, out of
// scope per spec.md §1) — it is just enough surface syntax to build
// small test modules by hand, in the spirit of ast/lexer.go's
// hand-rolled scanner rather than a parser-generator.
//
// Grammar (informal):
//
//	module    = { func } .
//	func      = "func" "@" ident "(" [ type { "," type } ] ")" "->" rtypes "{" { block } "}" .
//	rtypes    = type | "(" [ type { "," type } ] ")" .
//	block     = "block" ident "(" [ param { "," param } ] ")" ":" { instr } term .
//	param     = "%" ident type .
//	instr     = "%" ident "=" op type { operand } .
//	term      = "br" edge
//	          | "cbr" "%" ident "," edge "," edge
//	          | "ret" [ "%" ident { "," "%" ident } ]
//	edge      = ident "(" [ "%" ident { "," "%" ident } ] ")" .
func Parse(src string) (*Module, error) {
	p := &parser{}
	p.sc.Init(strings.NewReader(src))
	p.sc.Mode = scanner.ScanIdents | scanner.ScanInts | scanner.ScanFloats | scanner.ScanStrings | scanner.ScanChars
	p.sc.Filename = "<il>"
	p.next()

	m := NewModule()
	for p.tok != scanner.EOF {
		fn, err := p.parseFunc()
		if err != nil {
			return nil, err
		}
		m.AddFunc(fn)
	}
	return m, nil
}

type parser struct {
	sc  scanner.Scanner
	tok rune
	lit string
}

func (p *parser) next() {
	p.tok = p.sc.Scan()
	p.lit = p.sc.TokenText()
}

func (p *parser) pos() Pos { return Pos{File: p.sc.Filename, Line: p.sc.Line} }

func (p *parser) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("il: %s: %s", p.pos(), fmt.Sprintf(format, args...))
}

func (p *parser) expectLit(lit string) error {
	if p.lit != lit {
		return p.errorf("expected %q, got %q", lit, p.lit)
	}
	p.next()
	return nil
}

func (p *parser) expectIdent() (string, error) {
	if p.tok != scanner.Ident {
		return "", p.errorf("expected identifier, got %q", p.lit)
	}
	s := p.lit
	p.next()
	return s, nil
}

func (p *parser) parseType() (Type, error) {
	name, err := p.expectIdent()
	if err != nil {
		return TypeInvalid, err
	}
	switch name {
	case "i8":
		return I8, nil
	case "i16":
		return I16, nil
	case "i32":
		return I32, nil
	case "i64":
		return I64, nil
	case "f32":
		return F32, nil
	case "f64":
		return F64, nil
	case "ptr":
		return Ptr, nil
	default:
		return TypeInvalid, p.errorf("unknown type %q", name)
	}
}

// pendingEdge is an Edge whose Target is still a name, resolved once
// every block in the function has been named.
type pendingEdge struct {
	target string
	args   []string
}

func (p *parser) parseEdge() (pendingEdge, error) {
	name, err := p.expectIdent()
	if err != nil {
		return pendingEdge{}, err
	}
	if err := p.expectLit("("); err != nil {
		return pendingEdge{}, err
	}
	var args []string
	for p.lit != ")" {
		if err := p.expectLit("%"); err != nil {
			return pendingEdge{}, err
		}
		a, err := p.expectIdent()
		if err != nil {
			return pendingEdge{}, err
		}
		args = append(args, a)
		if p.lit == "," {
			p.next()
		}
	}
	p.next() // ")"
	return pendingEdge{target: name, args: args}, nil
}

func (p *parser) parseFunc() (*Func, error) {
	if err := p.expectLit("func"); err != nil {
		return nil, err
	}
	if err := p.expectLit("@"); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectLit("("); err != nil {
		return nil, err
	}
	var params []Param
	for p.lit != ")" {
		t, err := p.parseType()
		if err != nil {
			return nil, err
		}
		params = append(params, Param{Type: t})
		if p.lit == "," {
			p.next()
		}
	}
	p.next() // ")"
	// text/scanner returns "->" as two single-character tokens.
	if err := p.expectLit("-"); err != nil {
		return nil, err
	}
	if err := p.expectLit(">"); err != nil {
		return nil, err
	}
	var results []Type
	if p.lit == "(" {
		p.next()
		for p.lit != ")" {
			t, err := p.parseType()
			if err != nil {
				return nil, err
			}
			results = append(results, t)
			if p.lit == "," {
				p.next()
			}
		}
		p.next()
	} else {
		t, err := p.parseType()
		if err != nil {
			return nil, err
		}
		results = []Type{t}
	}
	if err := p.expectLit("{"); err != nil {
		return nil, err
	}

	fn := NewFunc(name, params, results)
	names := map[string]*Value{}      // "%x" -> Value, global across the function (SSA)
	blocksByName := map[string]*Block{}
	type edgeFixup struct {
		edge *Edge
		pe   pendingEdge
	}
	var fixups []edgeFixup

	for p.lit == "block" {
		p.next()
		bname, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		b := fn.NewBlock(bname)
		blocksByName[bname] = b

		if err := p.expectLit("("); err != nil {
			return nil, err
		}
		for p.lit != ")" {
			if err := p.expectLit("%"); err != nil {
				return nil, err
			}
			pname, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			t, err := p.parseType()
			if err != nil {
				return nil, err
			}
			v := fn.NewValue(b, OpParam, t)
			v.ParamIndex = len(b.Params)
			b.Params = append(b.Params, v)
			names["%"+pname] = v
			if p.lit == "," {
				p.next()
			}
		}
		p.next() // ")"
		if err := p.expectLit(":"); err != nil {
			return nil, err
		}

		for p.lit != "br" && p.lit != "cbr" && p.lit != "ret" && p.lit != "switch" {
			line := p.sc.Line // an instruction's operands end with its line
			if err := p.expectLit("%"); err != nil {
				return nil, err
			}
			vname, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			if err := p.expectLit("="); err != nil {
				return nil, err
			}
			opName, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			for p.lit == "." { // dotted opcodes such as sdiv.chk0
				p.next()
				suffix, err := p.expectIdent()
				if err != nil {
					return nil, err
				}
				opName += "." + suffix
			}
			t, err := p.parseType()
			if err != nil {
				return nil, err
			}
			op, ok := opFromName(opName)
			if !ok {
				return nil, p.errorf("unknown opcode %q", opName)
			}
			v := fn.NewValue(b, op, t)
			switch op {
			case OpConst:
				lit := p.lit
				if lit == "-" {
					p.next()
					lit += p.lit
				}
				bits, err := parseConstBits(t, lit)
				if err != nil {
					return nil, err
				}
				v.ConstBits = bits
				p.next()
			case OpCall:
				sym, err := p.expectIdent()
				if err != nil {
					return nil, err
				}
				v.CallSym = sym
				for (p.lit == "," || p.tok == '%' || p.lit == "%") && p.sc.Line == line {
					if p.lit == "," {
						p.next()
						continue
					}
					if err := p.expectLit("%"); err != nil {
						return nil, err
					}
					argName, err := p.expectIdent()
					if err != nil {
						return nil, err
					}
					arg, ok := names["%"+argName]
					if !ok {
						return nil, p.errorf("undefined value %%%s", argName)
					}
					v.AddArg(arg)
				}
			default:
				for p.lit == "%" && p.sc.Line == line {
					p.next()
					argName, err := p.expectIdent()
					if err != nil {
						return nil, err
					}
					arg, ok := names["%"+argName]
					if !ok {
						return nil, p.errorf("undefined value %%%s", argName)
					}
					v.AddArg(arg)
					if p.lit == "," {
						p.next()
					}
				}
			}
			b.Instrs = append(b.Instrs, v)
			names["%"+vname] = v
		}

		switch p.lit {
		case "br":
			p.next()
			pe, err := p.parseEdge()
			if err != nil {
				return nil, err
			}
			b.Term.Kind = TermBr
			fixups = append(fixups, edgeFixup{&b.Term.Then, pe})
		case "cbr":
			p.next()
			if err := p.expectLit("%"); err != nil {
				return nil, err
			}
			cname, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			cond, ok := names["%"+cname]
			if !ok {
				return nil, p.errorf("undefined value %%%s", cname)
			}
			if err := p.expectLit(","); err != nil {
				return nil, err
			}
			peThen, err := p.parseEdge()
			if err != nil {
				return nil, err
			}
			if err := p.expectLit(","); err != nil {
				return nil, err
			}
			peElse, err := p.parseEdge()
			if err != nil {
				return nil, err
			}
			b.Term.Kind = TermCbr
			b.Term.Cond = cond
			fixups = append(fixups, edgeFixup{&b.Term.Then, peThen}, edgeFixup{&b.Term.Else, peElse})
		case "ret":
			p.next()
			b.Term.Kind = TermRet
			for p.lit == "%" {
				p.next()
				rname, err := p.expectIdent()
				if err != nil {
					return nil, err
				}
				rv, ok := names["%"+rname]
				if !ok {
					return nil, p.errorf("undefined value %%%s", rname)
				}
				b.Term.RetVals = append(b.Term.RetVals, rv)
				if p.lit == "," {
					p.next()
				}
			}
		default:
			return nil, p.errorf("expected terminator, got %q", p.lit)
		}
	}
	if err := p.expectLit("}"); err != nil {
		return nil, err
	}

	for _, fx := range fixups {
		target, ok := blocksByName[fx.pe.target]
		if !ok {
			return nil, p.errorf("undefined block %q", fx.pe.target)
		}
		fx.edge.Target = target
		for _, an := range fx.pe.args {
			av, ok := names["%"+an]
			if !ok {
				return nil, p.errorf("undefined value %%%s", an)
			}
			fx.edge.Args = append(fx.edge.Args, av)
		}
	}
	return fn, nil
}

var opNames = map[string]Op{
	"add": OpAdd, "sub": OpSub, "mul": OpMul, "shl": OpShl, "shr": OpShr,
	"and": OpAnd, "or": OpOr, "xor": OpXor,
	"add.ovf": OpAddOvf, "sub.ovf": OpSubOvf, "mul.ovf": OpMulOvf,
	"sdiv.chk0": OpSDivChk0, "srem.chk0": OpSRemChk0,
	"icmp_eq": OpICmpEq, "icmp_ne": OpICmpNe,
	"scmp_lt": OpSCmpLt, "scmp_le": OpSCmpLe, "scmp_gt": OpSCmpGt, "scmp_ge": OpSCmpGe,
	"ucmp_lt": OpUCmpLt, "ucmp_le": OpUCmpLe, "ucmp_gt": OpUCmpGt, "ucmp_ge": OpUCmpGe,
	"fadd": OpFAdd, "fsub": OpFSub, "fmul": OpFMul, "fdiv": OpFDiv,
	"fcmp_eq": OpFCmpEq, "fcmp_ne": OpFCmpNe, "fcmp_lt": OpFCmpLt,
	"fcmp_le": OpFCmpLe, "fcmp_gt": OpFCmpGt, "fcmp_ge": OpFCmpGe,
	"fpow.chkdom": OpFPowChkDom,
	"sitofp":      OpSitofp, "fptosi.chk": OpFptosiChk, "trunc.chk": OpTruncChk,
	"zext": OpZext, "sext": OpSext,
	"load": OpLoad, "store": OpStore, "alloca": OpAlloca,
	"call": OpCall, "callind": OpCallIndirect,
	"const": OpConst,
}

func opFromName(name string) (Op, bool) {
	op, ok := opNames[name]
	return op, ok
}

// parseConstBits parses an integer or float literal into its raw bit
// pattern for typ.
func parseConstBits(typ Type, lit string) (uint64, error) {
	if typ.IsFloat() {
		f, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return 0, err
		}
		if typ == F32 {
			return uint64(math.Float32bits(float32(f))), nil
		}
		return math.Float64bits(f), nil
	}
	n, err := strconv.ParseInt(lit, 0, 64)
	if err != nil {
		return 0, err
	}
	return uint64(n), nil
}
