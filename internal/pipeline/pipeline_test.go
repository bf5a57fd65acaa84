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

package pipeline

import (
	"strings"
	"testing"

	"viper/internal/asm"
	"viper/internal/diag"
	"viper/internal/il"
	"viper/internal/mir"
)

func TestCompileModuleDarwinManglesSymbols(t *testing.T) {
	mod, err := il.Parse(`
func @noop() -> i64 {
block entry():
  %z = const i64 0
  ret %z
}
`)
	if err != nil {
		t.Fatalf("il.Parse: %v", err)
	}
	res, err := CompileModule(mod, diag.NewSink(), asm.Darwin, nil)
	if err != nil {
		t.Fatalf("CompileModule: %v", err)
	}
	if !strings.Contains(res.Assembly, ".globl _noop") {
		t.Fatalf("expected a Darwin-mangled global symbol, got:\n%s", res.Assembly)
	}
}

// An OpCall against a symbol the module never defines is exactly the
// case the runtime manifest exists for: a compiled function the
// backend never sees a definition of, resolved by whatever archive
// the manifest tells the linker to pull in.
func TestCompileModuleManifestListsUndefinedCallees(t *testing.T) {
	mod, err := il.Parse(`
func @caller() -> i64 {
block entry():
  %r = call i64 helper
  ret %r
}
`)
	if err != nil {
		t.Fatalf("il.Parse: %v", err)
	}
	res, err := CompileModule(mod, diag.NewSink(), asm.Linux, nil)
	if err != nil {
		t.Fatalf("CompileModule: %v", err)
	}
	if len(res.Manifest) != 1 || res.Manifest[0] != "helper" {
		t.Fatalf("expected manifest [helper], got %v", res.Manifest)
	}
}

// A recursive or mutually-calling module must not list its own
// functions in the manifest: those resolve inside the same assembly
// text, never the runtime archive.
func TestCompileModuleManifestExcludesModuleLocalCallees(t *testing.T) {
	res := compileSrc(t, fibSrc)
	for _, sym := range res.Manifest {
		if sym == "fib" {
			t.Fatalf("fib is defined in this module and must not appear in its own manifest: %v", res.Manifest)
		}
	}
}

func TestCompileModuleReportsUnsupportedOpcodeAsError(t *testing.T) {
	mod := il.NewModule()
	fn := il.NewFunc("bad", nil, []il.Type{il.I64})
	b := fn.NewBlock("entry")
	v := fn.NewValue(b, il.Op(999), il.I64)
	b.Instrs = append(b.Instrs, v)
	b.Term = il.Term{Kind: il.TermRet, RetVals: []*il.Value{v}}
	mod.AddFunc(fn)

	_, err := CompileModule(mod, diag.NewSink(), asm.Linux, nil)
	if err == nil {
		t.Fatal("expected an error for an unsupported opcode, got nil")
	}
}

type recordingTrace struct {
	stages []string
}

func (r *recordingTrace) DumpMIR(stage string, fn *mir.Func) {
	r.stages = append(r.stages, stage)
}

func TestCompileModuleInvokesTraceForEveryStage(t *testing.T) {
	mod, err := il.Parse(`
func @noop() -> i64 {
block entry():
  %z = const i64 0
  ret %z
}
`)
	if err != nil {
		t.Fatalf("il.Parse: %v", err)
	}
	trace := &recordingTrace{}
	if _, err := CompileModule(mod, diag.NewSink(), asm.Linux, trace); err != nil {
		t.Fatalf("CompileModule: %v", err)
	}
	want := []string{"lower", "regalloc", "frame", "peephole"}
	if len(trace.stages) != len(want) {
		t.Fatalf("expected stages %v, got %v", want, trace.stages)
	}
	for i, stage := range want {
		if trace.stages[i] != stage {
			t.Fatalf("expected stage %d to be %q, got %q", i, stage, trace.stages[i])
		}
	}
}

func TestNoTraceDiscardsEverything(t *testing.T) {
	var tr Trace = NoTrace{}
	tr.DumpMIR("lower", mir.NewFunc("f")) // must not panic
}
