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

// Package pipeline wires every compilation stage together (spec.md
// §2's data flow: IL -> MIR -> regalloc -> frame -> peephole -> asm
// text) behind the single CompileModule entry point, and owns the one
// recover() in this codebase, matching the teacher's main.go owning
// process exit around compileAndRun.
package pipeline

import (
	"fmt"
	"math"
	"os"

	"viper/internal/asm"
	"viper/internal/diag"
	"viper/internal/frame"
	"viper/internal/il"
	"viper/internal/lower"
	"viper/internal/mir"
	"viper/internal/peephole"
	"viper/internal/regalloc"
	"viper/internal/rodata"
)

// Trace receives a snapshot of every function's MIR after a named
// stage, for the CLI's --dump-mir-* flags (SPEC_FULL.md §5's "pass
// trace hook"). The teacher has no logging library at all — Debug is
// a bool gating fmt.Printf calls directly in CodeGen — so this keeps
// that same texture: no structured logging dependency, just an
// interface seam around the teacher's print-when-asked idiom.
type Trace interface {
	DumpMIR(stage string, fn *mir.Func)
}

// NoTrace discards every dump; the default when the CLI isn't asked
// to show its work.
type NoTrace struct{}

func (NoTrace) DumpMIR(string, *mir.Func) {}

// StderrTrace writes a dump of each traced function's blocks and
// instructions to Out (stderr by default), one function per stage
// invocation.
type StderrTrace struct {
	Out    *os.File
	Stages map[string]bool // nil means every stage is traced
}

func (t StderrTrace) DumpMIR(stage string, fn *mir.Func) {
	if t.Stages != nil && !t.Stages[stage] {
		return
	}
	out := t.Out
	if out == nil {
		out = os.Stderr
	}
	fmt.Fprintf(out, "; --- %s: %s ---\n", stage, fn.Name)
	for _, b := range fn.Blocks {
		fmt.Fprintf(out, "%s:\n", b.Label)
		for _, instr := range b.Instrs {
			fmt.Fprintf(out, "\t%s\n", instr.String())
		}
	}
}

// Result is CompileModule's successful output: the rendered assembly
// text plus the runtime manifest spec.md §6 asks for — the set of
// externally-defined symbols (trap trampolines, rt_* helpers,
// user-declared externals) the emitted text references but does not
// define, so a caller knows what the runtime archive must supply
// without grepping the assembly text itself.
type Result struct {
	Assembly string
	Manifest []string
}

// CompileModule runs every stage over mod and returns the rendered
// assembly plus its runtime manifest, or a non-nil error if any stage
// reported a Fatal diagnostic (spec.md §7: the pipeline stops at the
// first Fatal, no partial artifacts). err wraps the *diag.Fatal that
// stopped compilation; sink.Records() still holds every diagnostic
// recorded before the stop, fatal or not.
func CompileModule(mod *il.Module, sink *diag.Sink, target asm.OS, trace Trace) (result Result, err error) {
	if trace == nil {
		trace = NoTrace{}
	}

	defer func() {
		if r := recover(); r != nil {
			f, ok := r.(*diag.Fatal)
			if !ok {
				panic(r) // not ours: a real bug, let it surface
			}
			err = f
		}
	}()

	pool := rodata.NewPool()
	internGlobals(pool, mod.Globals)

	mirMod := lower.LowerModule(mod, sink, pool)
	for _, fn := range mirMod.Funcs {
		trace.DumpMIR("lower", fn)

		regalloc.Allocate(fn, sink)
		trace.DumpMIR("regalloc", fn)

		frame.Finalize(fn, sink)
		trace.DumpMIR("frame", fn)

		peephole.Run(fn)
		trace.DumpMIR("peephole", fn)
	}

	emitter := asm.NewEmitter(target, sink)
	text := emitter.EmitModule(mirMod, pool)

	return Result{Assembly: text, Manifest: externalSymbols(mirMod)}, nil
}

// definedNames is the set of symbols this module itself defines: a
// direct or indirect call to one of these resolves within the same
// compilation unit and is not part of the runtime manifest, which
// names only what the linker must supply from outside it.
func definedNames(mod *mir.Module) map[string]bool {
	names := make(map[string]bool, len(mod.Funcs))
	for _, fn := range mod.Funcs {
		names[fn.Name] = true
	}
	return names
}

// internGlobals interns every module-level constant mod.Globals names
// directly into pool: these are globals the IL front end has already
// decided need address-stable storage (string literals, FP constants
// too wide to inline), as opposed to the per-function constants
// lower.lowerConst interns on the fly while lowering individual
// OpConst values. Both collaborate with the same pool so spec.md §8
// scenario 6's "three string literals intern to two rodata entries"
// dedup holds across the whole module, not just within one function.
func internGlobals(pool *rodata.Pool, globals []il.Global) {
	for _, g := range globals {
		if g.IsFP {
			pool.InternFloat64(math.Float64frombits(g.Bits), "")
			continue
		}
		pool.InternString(string(g.Bytes), "")
	}
}

// externalSymbols scans every instruction in mod for a referenced
// OperandSymbol and returns the distinct set in first-seen order:
// trap trampolines, rt_* runtime helpers, and any user-declared
// extern callees all reach the emitted text this same way (a Bl, Blr,
// or BCond/Cbz/Cbnz operand naming a symbol rather than a block), so
// one scan over every operand finds the whole manifest without
// special-casing each opcode that can carry one.
func externalSymbols(mod *mir.Module) []string {
	defined := definedNames(mod)
	seen := map[string]bool{}
	var out []string
	add := func(sym string) {
		if sym == "" || seen[sym] || defined[sym] {
			return
		}
		seen[sym] = true
		out = append(out, sym)
	}
	for _, fn := range mod.Funcs {
		for _, b := range fn.Blocks {
			for _, instr := range b.Instrs {
				for _, s := range instr.Srcs {
					if s.Kind == mir.OperandSymbol {
						add(s.Symbol)
					}
				}
			}
		}
	}
	return out
}
