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

// Command viper-codegen is the CLI driver around internal/pipeline: it
// reads a verified IL module, runs it through every backend stage, and
// writes the resulting AArch64 assembly text plus a summary of the
// runtime manifest to standard error. The teacher's own driver
// (falcon's main.go) is a single Run func gated on os.Args length;
// this widens that to cobra flags matching spec.md §6's CLI surface,
// following ajroetker-goat's cobra usage as the pack's only repo that
// requires cobra directly rather than transitively.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"viper/internal/asm"
	"viper/internal/diag"
	"viper/internal/il"
	"viper/internal/pipeline"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "viper-codegen",
		Short:         "AArch64 native codegen for the viper IL backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(arm64Cmd())
	return root
}

func arm64Cmd() *cobra.Command {
	var (
		outPath      string
		targetOS     string
		dumpBeforeRA bool
		dumpAfterRA  bool
		dumpFull     bool
	)

	cmd := &cobra.Command{
		Use:   "arm64 <input.il>",
		Short: "compile a verified IL module to AArch64 assembly",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := parseTargetOS(targetOS)
			if err != nil {
				return err
			}

			src, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}

			mod, err := il.Parse(string(src))
			if err != nil {
				return fmt.Errorf("parsing %s: %w", args[0], err)
			}

			sink := diag.NewSink()
			trace := dumpTrace(dumpBeforeRA, dumpAfterRA, dumpFull)

			res, err := pipeline.CompileModule(mod, sink, target, trace)
			if err != nil {
				reportDiagnostics(sink)
				return err
			}
			reportDiagnostics(sink)

			if err := writeOutput(outPath, res.Assembly); err != nil {
				return err
			}

			if len(res.Manifest) > 0 {
				fmt.Fprintln(os.Stderr, "; runtime manifest:")
				for _, sym := range res.Manifest {
					fmt.Fprintf(os.Stderr, ";   %s\n", sym)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "output", "S", "", "output assembly file (default: stdout)")
	cmd.Flags().StringVar(&targetOS, "os", runtime.GOOS, "target operating system (darwin, linux)")
	cmd.Flags().BoolVar(&dumpBeforeRA, "dump-mir-before-ra", false, "dump MIR to stderr immediately after IL lowering")
	cmd.Flags().BoolVar(&dumpAfterRA, "dump-mir-after-ra", false, "dump MIR to stderr after register allocation through peephole")
	cmd.Flags().BoolVar(&dumpFull, "dump-mir-full", false, "dump MIR to stderr after every pipeline stage")

	return cmd
}

func parseTargetOS(s string) (asm.OS, error) {
	switch s {
	case "linux":
		return asm.Linux, nil
	case "darwin":
		return asm.Darwin, nil
	default:
		return 0, fmt.Errorf("unknown --os %q: want darwin or linux", s)
	}
}

// dumpTrace builds the pipeline.Trace implied by the --dump-mir-*
// flags. before-ra dumps the MIR as lowered, straight off the IL and
// before any register is assigned; after-ra dumps every stage from
// register allocation onward, since frame building and peephole both
// still operate on the allocated MIR; full dumps every stage,
// including the lowered-but-unallocated snapshot before-ra alone would
// show.
func dumpTrace(beforeRA, afterRA, full bool) pipeline.Trace {
	if !beforeRA && !afterRA && !full {
		return pipeline.NoTrace{}
	}
	if full {
		return pipeline.StderrTrace{Out: os.Stderr}
	}
	stages := map[string]bool{}
	if beforeRA {
		stages["lower"] = true
	}
	if afterRA {
		stages["regalloc"] = true
		stages["frame"] = true
		stages["peephole"] = true
	}
	return pipeline.StderrTrace{Out: os.Stderr, Stages: stages}
}

func writeOutput(path, text string) error {
	if path == "" {
		_, err := fmt.Fprint(os.Stdout, text)
		return err
	}
	return os.WriteFile(path, []byte(text), 0o644)
}

// reportDiagnostics prints every non-fatal diagnostic the sink
// collected along the way (spec.md §7's Diagnostic kind, e.g. a large
// frame warning) after a run, fatal or not.
func reportDiagnostics(sink *diag.Sink) {
	for _, r := range sink.Records() {
		if r.Severity == diag.SeverityDiagnostic {
			fmt.Fprintln(os.Stderr, r.String())
		}
	}
}
