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

package asm

import (
	"strings"
	"testing"

	"viper/internal/arm64"
	"viper/internal/diag"
	"viper/internal/mir"
	"viper/internal/rodata"
)

func moduleWith(fn *mir.Func) *mir.Module {
	mod := mir.NewModule()
	mod.AddFunc(fn)
	return mod
}

func TestEmitLeafFunctionSkipsFramePointer(t *testing.T) {
	fn := mir.NewFunc("add_one")
	entry := fn.NewBlock("entry")
	d := mir.RegOperand(arm64.X[0])
	entry.Append(&mir.Instr{Op: mir.AddRI, Dst: &d, Srcs: []mir.Operand{mir.RegOperand(arm64.X[0]), mir.ImmOperand(1)}})
	entry.Append(&mir.Instr{Op: mir.Ret})

	out := NewEmitter(Linux, diag.NewSink()).EmitModule(moduleWith(fn), rodata.NewPool())

	if strings.Contains(out, "stp x29, x30") {
		t.Fatalf("leaf function must not push a frame pointer it doesn't use:\n%s", out)
	}
	if !strings.Contains(out, "add x0, x0, #1") {
		t.Fatalf("expected a generic add rendering, got:\n%s", out)
	}
	if !strings.Contains(out, "ret") {
		t.Fatalf("expected a ret, got:\n%s", out)
	}
}

func TestEmitNonLeafPushesAndPopsFramePointer(t *testing.T) {
	fn := mir.NewFunc("caller")
	fn.Leaf = false
	fn.UsesFP = true // what frame.Finalize sets for a non-leaf function
	entry := fn.NewBlock("entry")
	entry.Append(&mir.Instr{Op: mir.Ret})

	out := NewEmitter(Linux, diag.NewSink()).EmitModule(moduleWith(fn), rodata.NewPool())

	if !strings.Contains(out, "stp x29, x30, [sp, #-16]!") {
		t.Fatalf("expected a hand-emitted fp/lr push, got:\n%s", out)
	}
	if !strings.Contains(out, "mov x29, sp") {
		t.Fatalf("expected fp establishment, got:\n%s", out)
	}
	if !strings.Contains(out, "ldp x29, x30, [sp], #16") {
		t.Fatalf("expected a matching fp/lr pop before ret, got:\n%s", out)
	}
}

func TestEmitBCondUsesDotConditionSuffix(t *testing.T) {
	fn := mir.NewFunc("branch")
	fn.Leaf = true
	entry := fn.NewBlock("entry")
	target := fn.NewBlock("target")
	entry.Append(&mir.Instr{Op: mir.BCond, Cond: mir.LT, Srcs: []mir.Operand{mir.LabelOperand(target)}})
	entry.Append(&mir.Instr{Op: mir.Ret})
	target.Append(&mir.Instr{Op: mir.Ret})

	out := NewEmitter(Linux, diag.NewSink()).EmitModule(moduleWith(fn), rodata.NewPool())

	if !strings.Contains(out, "b.lt .target") {
		t.Fatalf("expected a cond-suffixed branch to the local label, got:\n%s", out)
	}
}

func TestEmitCsetRendersDestinationAndCondition(t *testing.T) {
	fn := mir.NewFunc("flag")
	fn.Leaf = true
	entry := fn.NewBlock("entry")
	d := mir.RegOperand(arm64.X[0])
	entry.Append(&mir.Instr{Op: mir.Cset, Dst: &d, Cond: mir.EQ})
	entry.Append(&mir.Instr{Op: mir.Ret})

	out := NewEmitter(Linux, diag.NewSink()).EmitModule(moduleWith(fn), rodata.NewPool())

	if !strings.Contains(out, "cset x0, eq") {
		t.Fatalf("expected cset with its condition, got:\n%s", out)
	}
}

func TestEmitSxtSelectsSuffixFromWidth(t *testing.T) {
	fn := mir.NewFunc("narrow")
	fn.Leaf = true
	entry := fn.NewBlock("entry")
	d := mir.RegOperand(arm64.X[0])
	entry.Append(&mir.Instr{Op: mir.SxtRR, Dst: &d, Srcs: []mir.Operand{mir.RegOperand(arm64.W[0])}, Width: 8})
	entry.Append(&mir.Instr{Op: mir.Ret})

	out := NewEmitter(Linux, diag.NewSink()).EmitModule(moduleWith(fn), rodata.NewPool())

	if !strings.Contains(out, "sxtb x0, w0") {
		t.Fatalf("expected an 8-bit sign extension suffix, got:\n%s", out)
	}
}

func TestEmitLdpUsesBothDestinations(t *testing.T) {
	fn := mir.NewFunc("restore")
	fn.Leaf = true
	entry := fn.NewBlock("entry")
	d0 := mir.RegOperand(arm64.X[19])
	d1 := mir.RegOperand(arm64.X[20])
	mem := mir.MemOperand(mir.Mem{BaseIsFP: true, Offset: -16})
	entry.Append(&mir.Instr{Op: mir.LdpRegFpImm, Dst: &d0, Dst2: &d1, Srcs: []mir.Operand{mem}})
	entry.Append(&mir.Instr{Op: mir.Ret})

	out := NewEmitter(Linux, diag.NewSink()).EmitModule(moduleWith(fn), rodata.NewPool())

	if !strings.Contains(out, "ldp x19, x20, [x29, #-16]") {
		t.Fatalf("expected a two-destination ldp, got:\n%s", out)
	}
}

func TestEmitBrTableSynthesizesJumpSequenceAndTable(t *testing.T) {
	fn := mir.NewFunc("dispatch")
	fn.Leaf = true
	entry := fn.NewBlock("entry")
	case0 := fn.NewBlock("case0")
	case1 := fn.NewBlock("case1")
	def := fn.NewBlock("default")
	entry.Append(&mir.Instr{
		Op: mir.BrTable, Srcs: []mir.Operand{mir.RegOperand(arm64.X[0])},
		Targets: []*mir.Block{case0, case1}, Default: def,
	})
	case0.Append(&mir.Instr{Op: mir.Ret})
	case1.Append(&mir.Instr{Op: mir.Ret})
	def.Append(&mir.Instr{Op: mir.Ret})

	out := NewEmitter(Linux, diag.NewSink()).EmitModule(moduleWith(fn), rodata.NewPool())

	for _, want := range []string{"adrp x16,", "ldr x17, [x16, x0, lsl #3]", "br x17", ".quad .case0", ".quad .case1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected jump-table synthesis to contain %q, got:\n%s", want, out)
		}
	}
}

func TestEmitDarwinManglesGlobalSymbolsNotLocalLabels(t *testing.T) {
	fn := mir.NewFunc("compute")
	fn.Leaf = true
	entry := fn.NewBlock("entry")
	entry.Append(&mir.Instr{Op: mir.Bl, Srcs: []mir.Operand{mir.SymOperand("helper")}})
	entry.Append(&mir.Instr{Op: mir.Ret})

	out := NewEmitter(Darwin, diag.NewSink()).EmitModule(moduleWith(fn), rodata.NewPool())

	if !strings.Contains(out, ".globl _compute") {
		t.Fatalf("expected the function symbol mangled with a leading underscore, got:\n%s", out)
	}
	if !strings.Contains(out, "bl _helper") {
		t.Fatalf("expected the call target mangled too, got:\n%s", out)
	}
	if strings.Contains(out, "_.entry") || strings.Contains(out, "._entry") {
		t.Fatalf("local block labels must never be mangled, got:\n%s", out)
	}
}

func TestEmitLinuxSkipsSymbolMangling(t *testing.T) {
	fn := mir.NewFunc("compute")
	fn.Leaf = true
	entry := fn.NewBlock("entry")
	entry.Append(&mir.Instr{Op: mir.Ret})

	out := NewEmitter(Linux, diag.NewSink()).EmitModule(moduleWith(fn), rodata.NewPool())

	if !strings.Contains(out, ".globl compute") {
		t.Fatalf("expected an unmangled symbol on Linux, got:\n%s", out)
	}
}

func TestEmitRodataStringsAsNulTerminatedBytes(t *testing.T) {
	fn := mir.NewFunc("uses_string")
	fn.Leaf = true
	entry := fn.NewBlock("entry")
	entry.Append(&mir.Instr{Op: mir.Ret})

	pool := rodata.NewPool()
	label := pool.InternString("hi", "uses_string")

	out := NewEmitter(Linux, diag.NewSink()).EmitModule(moduleWith(fn), pool)

	if !strings.Contains(out, label+":") {
		t.Fatalf("expected the interned label, got:\n%s", out)
	}
	if !strings.Contains(out, ".byte 104, 105, 0") {
		t.Fatalf("expected NUL-terminated byte contents for \"hi\", got:\n%s", out)
	}
}

func TestEmitRodataFloatAsAlignedQuad(t *testing.T) {
	fn := mir.NewFunc("uses_float")
	fn.Leaf = true
	entry := fn.NewBlock("entry")
	entry.Append(&mir.Instr{Op: mir.Ret})

	pool := rodata.NewPool()
	label := pool.InternFloat64(1.5, "uses_float")

	out := NewEmitter(Linux, diag.NewSink()).EmitModule(moduleWith(fn), pool)

	if !strings.Contains(out, ".p2align 3") {
		t.Fatalf("expected 8-byte alignment before the float entry, got:\n%s", out)
	}
	if !strings.Contains(out, label+":\n\t.quad 0x3ff8000000000000") {
		t.Fatalf("expected the IEEE-754 bit pattern for 1.5, got:\n%s", out)
	}
}

func TestEmitFunctionsRenderInModuleOrder(t *testing.T) {
	first := mir.NewFunc("first")
	first.Leaf = true
	first.NewBlock("entry").Append(&mir.Instr{Op: mir.Ret})
	second := mir.NewFunc("second")
	second.Leaf = true
	second.NewBlock("entry").Append(&mir.Instr{Op: mir.Ret})

	mod := mir.NewModule()
	mod.AddFunc(first)
	mod.AddFunc(second)

	out := NewEmitter(Linux, diag.NewSink()).EmitModule(mod, rodata.NewPool())

	if strings.Index(out, "first:") > strings.Index(out, "second:") {
		t.Fatalf("expected functions in module order, got:\n%s", out)
	}
}
