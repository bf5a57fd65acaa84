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

// Package lower implements IL->MIR lowering (spec.md §4.1): per-opcode
// handlers that materialize IL values into virtual registers and emit
// MIR sequences, plus the parallel-copy realization of block
// parameters on every predecessor edge.
//
// Grounded on the teacher's codegen/lower_x86.go: lowerValue's
// switch-style dispatch becomes a handler table (spec.md §9's explicit
// preference — "a table of small handler functions keyed by opcode is
// preferable to a giant switch"), resolvePhi's pred-edge-copy-insertion
// pattern generalizes into internal/pcopy's cycle-breaking resolver,
// and lowerArithmetic/lowerCall/lowerConst/lowerBlockControl keep their
// per-opcode shape with AArch64 semantics substituted for x86's.
package lower

import (
	"fmt"

	"github.com/samber/lo"

	"viper/internal/arm64"
	"viper/internal/diag"
	"viper/internal/il"
	"viper/internal/mir"
	"viper/internal/pcopy"
	"viper/internal/rodata"
)

const stage = "lower"

// ctx is the per-function lowering context threaded through every
// handler call — "pure and stateless aside from a per-function context
// record" per spec.md §9.
type ctx struct {
	sink   *diag.Sink
	pool   *rodata.Pool
	fn     *mir.Func
	ilFn   *il.Func
	values map[*il.Value]mir.Operand // IL value -> realized operand (vreg or imm)
	blocks map[*il.Block]*mir.Block
}

// handler lowers one IL value, appending MIR instructions to the
// current block (c.blocks[v.Block]) and recording v's result operand
// in c.values.
type handler func(c *ctx, v *il.Value)

var handlers map[il.Op]handler

func init() {
	handlers = map[il.Op]handler{
		il.OpAdd: arithHandler(mir.AddRRR, mir.AddRI),
		il.OpSub: arithHandler(mir.SubRRR, mir.SubRI),
		il.OpAnd: arithHandler(mir.AndRRR, mir.OpInvalid),
		il.OpOr:  arithHandler(mir.OrRRR, mir.OpInvalid),
		il.OpXor: arithHandler(mir.EorRRR, mir.OpInvalid),
		il.OpMul: lowerMul,
		il.OpShl: shiftHandler(mir.LslRI, mir.LslRR),
		il.OpShr: shiftHandler(mir.LsrRI, mir.LsrRR),

		il.OpAddOvf:   lowerAddSubOvf,
		il.OpSubOvf:   lowerAddSubOvf,
		il.OpMulOvf:   lowerMulOvf,
		il.OpSDivChk0: lowerSDivChk0,
		il.OpSRemChk0: lowerSRemChk0,

		il.OpICmpEq: compareHandler,
		il.OpICmpNe: compareHandler,
		il.OpSCmpLt: compareHandler,
		il.OpSCmpLe: compareHandler,
		il.OpSCmpGt: compareHandler,
		il.OpSCmpGe: compareHandler,
		il.OpUCmpLt: compareHandler,
		il.OpUCmpLe: compareHandler,
		il.OpUCmpGt: compareHandler,
		il.OpUCmpGe: compareHandler,

		il.OpFAdd:   fpArithHandler(mir.FAddRRR),
		il.OpFSub:   fpArithHandler(mir.FSubRRR),
		il.OpFMul:   fpArithHandler(mir.FMulRRR),
		il.OpFDiv:   fpArithHandler(mir.FDivRRR),
		il.OpFCmpEq: compareHandler,
		il.OpFCmpNe: compareHandler,
		il.OpFCmpLt: compareHandler,
		il.OpFCmpLe: compareHandler,
		il.OpFCmpGt: compareHandler,
		il.OpFCmpGe: compareHandler,

		il.OpFPowChkDom: lowerFPowChkDom,

		il.OpSitofp:    lowerSitofp,
		il.OpFptosiChk: lowerFptosiChk,
		il.OpTruncChk:  lowerTruncChk,
		il.OpZext:      lowerExt(false),
		il.OpSext:      lowerExt(true),

		il.OpLoad:   lowerLoad,
		il.OpStore:  lowerStore,
		il.OpAlloca: lowerAlloca,

		il.OpCall:         lowerCall,
		il.OpCallIndirect: lowerCallIndirect,

		il.OpConst: lowerConst,
	}
}

// LowerModule lowers every function in mod, in order, sharing a single
// rodata pool (spec.md §5: the pool is the only module-level mutable
// state).
func LowerModule(mod *il.Module, sink *diag.Sink, pool *rodata.Pool) *mir.Module {
	out := mir.NewModule()
	for _, fn := range mod.Funcs {
		out.AddFunc(LowerFunc(fn, sink, pool))
	}
	return out
}

// LowerFunc lowers one IL function to a MIR function whose blocks
// correspond 1:1 to IL blocks, per spec.md §4.1's contract.
func LowerFunc(ilFn *il.Func, sink *diag.Sink, pool *rodata.Pool) *mir.Func {
	fn := mir.NewFunc(ilFn.Name)
	c := &ctx{
		sink:   sink,
		pool:   pool,
		fn:     fn,
		ilFn:   ilFn,
		values: map[*il.Value]mir.Operand{},
		blocks: map[*il.Block]*mir.Block{},
	}

	for _, b := range ilFn.Blocks {
		c.blocks[b] = fn.NewBlock(blockLabel(ilFn, b))
	}

	placeEntryParams(c, ilFn)
	// Every other block's parameters get their vregs up front, so an
	// edge lowered before its target block can already copy into them.
	for _, b := range ilFn.Blocks {
		if b != ilFn.Entry() {
			for _, p := range b.Params {
				c.values[p] = mir.VRegOperand(newVReg(c, p.Type))
			}
		}
	}

	for _, b := range ilFn.Blocks {
		lowerBlock(c, b)
	}

	fn.Leaf = !lo.SomeBy(allValues(ilFn), func(v *il.Value) bool {
		return v.Op == il.OpCall || v.Op == il.OpCallIndirect
	})
	return fn
}

func allValues(fn *il.Func) []*il.Value {
	var out []*il.Value
	for _, b := range fn.Blocks {
		out = append(out, b.Params...)
		out = append(out, b.Instrs...)
	}
	return out
}

func blockLabel(fn *il.Func, b *il.Block) string {
	return fmt.Sprintf("%s_%s", fn.Name, b.Name)
}

func classOf(t il.Type) arm64.RegClass {
	if t.IsFloat() {
		return arm64.FPR
	}
	return arm64.GPR
}

func sizeOf(t il.Type) int {
	if t.Size() <= 4 {
		return 32
	}
	return 64
}

func newVReg(c *ctx, t il.Type) mir.VReg {
	return c.fn.NewVReg(classOf(t), sizeOf(t))
}

// operand returns v's already-lowered operand. Every value is lowered
// before its uses because lowerBlock walks IL blocks in order and IL
// is SSA (a value's only definition dominates every use, and a
// forward reference can only come from a block parameter, whose vreg
// LowerFunc creates before any block is lowered).
func operand(c *ctx, v *il.Value) mir.Operand {
	op, ok := c.values[v]
	if !ok {
		c.sink.Internal(stage, "", "value %%v%d used before it was lowered", v.ID)
	}
	return op
}

func appendInstr(c *ctx, b *il.Block, instr *mir.Instr) {
	c.blocks[b].Append(instr)
}

func cur(c *ctx, v *il.Value) *mir.Block { return c.blocks[v.Block] }

// placeEntryParams realizes ABI parameter placement (spec.md §4.1):
// the entry block's IL parameters become the first N vregs, copied in
// from the AAPCS64 argument registers.
func placeEntryParams(c *ctx, fn *il.Func) {
	entry := fn.Entry()
	intIdx, fpIdx := 0, 0
	for i, p := range entry.Params {
		vr := newVReg(c, p.Type)
		c.values[p] = mir.VRegOperand(vr)
		var argReg arm64.Reg
		if p.Type.IsFloat() {
			argReg = arm64.FPArgRegs[fpIdx]
			fpIdx++
		} else {
			argReg = arm64.IntArgRegs[intIdx]
			intIdx++
		}
		dst := mir.VRegOperand(vr)
		instr := &mir.Instr{
			Op:   movOpFor(p.Type),
			Dst:  &dst,
			Srcs: []mir.Operand{mir.RegOperand(argReg)},
		}
		c.blocks[entry].Append(instr)
		_ = i
	}
}

func movOpFor(t il.Type) mir.Op {
	if t.IsFloat() {
		return mir.FMovRR
	}
	return mir.MovRR
}

// lowerBlock lowers one block's parameter joins (already placed for
// the entry block by placeEntryParams; other blocks receive their
// parameters via predecessor parallel copies, so nothing to emit
// here), its straight-line instructions, and its terminator.
func lowerBlock(c *ctx, b *il.Block) {
	for _, v := range b.Instrs {
		h, ok := handlers[v.Op]
		if !ok {
			c.sink.Unsupported(stage, "no lowering handler for opcode %s", v.Op)
			continue
		}
		h(c, v)
	}
	lowerTerm(c, b)
}

// vregMove emits mov dst, src, choosing the FP or integer mnemonic by
// class.
func vregMove(c *ctx, b *il.Block, dst mir.VReg, src mir.Operand) {
	d := mir.VRegOperand(dst)
	op := mir.MovRR
	if dst.Class == arm64.FPR {
		op = mir.FMovRR
	}
	appendInstr(c, b, &mir.Instr{Op: op, Dst: &d, Srcs: []mir.Operand{src}})
}

// resolveEdgeCopies realizes one predecessor -> successor edge's
// block-parameter bindings as a parallel copy (spec.md §3, §4.1): the
// edge's Args are assigned to the target block's Params vregs "as if
// simultaneously", using internal/pcopy to sequence them safely even
// when the argument lists overlap (e.g. a loop header called with
// swapped arguments, spec.md §8 scenario 4).
func resolveEdgeCopies(c *ctx, from *il.Block, edge il.Edge) []*mir.Instr {
	if len(edge.Args) == 0 {
		return nil
	}
	type directCopy struct {
		dst mir.VReg
		src mir.Operand
	}
	moves := make([]pcopy.Move[mir.VReg], 0, len(edge.Args))
	var direct []directCopy
	for i, arg := range edge.Args {
		dstVR := operand(c, edge.Target.Params[i]).VReg
		argOp := operand(c, arg)
		if argOp.Kind == mir.OperandVReg {
			moves = append(moves, pcopy.Move[mir.VReg]{Dst: dstVR, Src: argOp.VReg})
		} else {
			// A non-vreg argument (an immediate materialized directly at
			// the copy site) can't collide with any vreg in the cycle
			// graph, so it is safe to move directly without going through
			// the resolver. Kept in input order for deterministic output.
			direct = append(direct, directCopy{dst: dstVR, src: argOp})
		}
	}

	var out []*mir.Instr
	scratch := scratchFor(edge.Target.Params[0].Type)
	pcopy.Resolve(moves, scratch, func(dst, src mir.VReg) {
		d := mir.VRegOperand(dst)
		op := mir.MovRR
		if dst.Class == arm64.FPR {
			op = mir.FMovRR
		}
		out = append(out, &mir.Instr{Op: op, Dst: &d, Srcs: []mir.Operand{mir.VRegOperand(src)}})
	})
	for _, dc := range direct {
		d := mir.VRegOperand(dc.dst)
		op := mir.MovRR
		if dc.dst.Class == arm64.FPR {
			op = mir.FMovRR
		}
		out = append(out, &mir.Instr{Op: op, Dst: &d, Srcs: []mir.Operand{dc.src}})
	}
	return out
}

func scratchFor(t il.Type) mir.VReg {
	if t.IsFloat() {
		return mir.VReg{ID: -1, Class: arm64.FPR, Size: 64}
	}
	return mir.VReg{ID: -1, Class: arm64.GPR, Size: 64}
}
